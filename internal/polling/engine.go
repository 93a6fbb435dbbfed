package polling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/lock"
	"github.com/shaiso/automata-triggers/internal/repo"
	"github.com/shaiso/automata-triggers/internal/telemetry"
)

// Default configuration values.
const (
	defaultLockTTL     = 2 * time.Minute
	defaultSampleLimit = 5
)

// Engine — PollingDedupEngine.
type Engine struct {
	store      repo.ScopedStore
	watermarks *repo.WatermarkRepo
	locker     lock.Locker
	executor   domain.RunExecutor

	lockTTL     time.Duration
	sampleLimit int

	logger *slog.Logger
}

// Config — конфигурация Engine.
type Config struct {
	// Store — хранилище watermark и данных коннекторов.
	Store repo.ScopedStore

	// Locker — блокировка опросов одного триггера.
	Locker lock.Locker

	// Executor — исполнитель, принимающий runs.
	Executor domain.RunExecutor

	LockTTL     time.Duration // TTL lease опроса (default: 2m)
	SampleLimit int           // сколько элементов вернуть из Test (default: 5)

	Logger *slog.Logger
}

// Result — итог одного опроса.
type Result struct {
	// Skipped — опрос не выполнялся: блокировка у другого опроса.
	Skipped bool `json:"skipped,omitempty"`

	// Fetched — сколько элементов вернул коннектор.
	Fetched int `json:"fetched"`

	// Dispatched — runs, запущенные в порядке возрастания времени.
	Dispatched []domain.RunHandle `json:"dispatched,omitempty"`

	// Watermark — значение watermark после опроса.
	Watermark int64 `json:"watermark"`

	// Advanced — watermark сдвинулся.
	Advanced bool `json:"advanced,omitempty"`
}

// New создаёт новый Engine.
func New(cfg Config) *Engine {
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}

	sampleLimit := cfg.SampleLimit
	if sampleLimit <= 0 {
		sampleLimit = defaultSampleLimit
	}

	locker := cfg.Locker
	if locker == nil {
		locker = lock.NewMemory()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		store:       cfg.Store,
		watermarks:  repo.NewWatermarkRepo(cfg.Store),
		locker:      locker,
		executor:    cfg.Executor,
		lockTTL:     lockTTL,
		sampleLimit: sampleLimit,
		logger:      logger,
	}
}

// Enable создаёт watermark со значением 0, если его ещё нет.
// Первый опрос произойдёт на следующем тике планировщика.
func (e *Engine) Enable(ctx context.Context, def *domain.Definition) (domain.Watermark, error) {
	if _, err := pollingConnector(def); err != nil {
		return domain.Watermark{}, err
	}
	return e.watermarks.Ensure(ctx, def.FlowID, def.Name)
}

// Watermark возвращает текущий watermark триггера (0, если не опрашивался).
func (e *Engine) Watermark(ctx context.Context, def *domain.Definition) (domain.Watermark, error) {
	return e.watermarks.GetOrZero(ctx, def.FlowID, def.Name)
}

// Poll выполняет один опрос триггера.
//
// Ошибка fetch прерывает опрос, watermark не меняется, следующий тик
// повторит опрос с той же точки. Если другой опрос держит блокировку,
// возвращается Result{Skipped: true} без ошибки.
func (e *Engine) Poll(ctx context.Context, def *domain.Definition) (Result, error) {
	conn, err := pollingConnector(def)
	if err != nil {
		return Result{}, err
	}

	logger := telemetry.WithTrigger(e.logger, def.FlowID.String(), def.Name)

	release, acquired, err := e.locker.TryAcquire(ctx, lockKey(def), e.lockTTL)
	if err != nil {
		telemetry.PollsTotal.WithLabelValues(telemetry.PollResultError).Inc()
		return Result{}, fmt.Errorf("acquire poll lock: %w", err)
	}
	if !acquired {
		logger.Debug("poll skipped, lock held by another poll")
		telemetry.PollsTotal.WithLabelValues(telemetry.PollResultSkipped).Inc()
		return Result{Skipped: true}, nil
	}
	defer release()

	start := time.Now()
	defer func() {
		telemetry.PollDuration.Observe(time.Since(start).Seconds())
	}()

	// 1. Текущий watermark
	wm, err := e.watermarks.GetOrZero(ctx, def.FlowID, def.Name)
	if err != nil {
		telemetry.PollsTotal.WithLabelValues(telemetry.PollResultError).Inc()
		return Result{}, fmt.Errorf("read watermark: %w", err)
	}
	w := wm.LastFetchEpochMillis

	// 2. Fetch
	tc := e.triggerContext(def, w, w == 0, false)
	items, err := conn.FetchItems(ctx, tc)
	if err != nil {
		logger.Error("fetch items failed", "watermark", w, "error", err)
		telemetry.PollsTotal.WithLabelValues(telemetry.PollResultError).Inc()
		return Result{Watermark: w}, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	// 3-4. Фильтр и сортировка
	fresh := Filter(items, w)
	result := Result{Fetched: len(items), Watermark: w}

	if len(fresh) == 0 {
		logger.Debug("poll found no new items", "fetched", len(items), "watermark", w)
		telemetry.PollsTotal.WithLabelValues(telemetry.PollResultEmpty).Inc()
		return result, nil
	}

	// 5. Dispatch по порядку
	delivered := w
	for i, item := range fresh {
		handle, err := e.executor.Start(ctx, domain.StartRequest{
			FlowID:      def.FlowID,
			TriggerName: def.Name,
			Payload:     item.Payload,
		})
		if err != nil {
			logger.Error("dispatch failed",
				"item_index", i,
				"epoch_millis", item.EpochMillis,
				"error", err,
			)
			// Сдвигаем только до времени, все элементы которого уже отправлены
			if advErr := e.advance(ctx, def, &result, safeWatermark(fresh[:i], item.EpochMillis)); advErr != nil {
				logger.Error("advance watermark after partial dispatch failed", "error", advErr)
			}
			telemetry.PollsTotal.WithLabelValues(telemetry.PollResultError).Inc()
			return result, fmt.Errorf("%w: %w", ErrDispatch, err)
		}

		result.Dispatched = append(result.Dispatched, handle)
		telemetry.ItemsDispatched.Inc()
		if item.EpochMillis > delivered {
			delivered = item.EpochMillis
		}
	}

	// 6. Сдвиг watermark
	if err := e.advance(ctx, def, &result, delivered); err != nil {
		telemetry.PollsTotal.WithLabelValues(telemetry.PollResultError).Inc()
		return result, err
	}

	logger.Info("poll dispatched items",
		"fetched", len(items),
		"dispatched", len(result.Dispatched),
		"watermark", result.Watermark,
	)
	telemetry.PollsTotal.WithLabelValues(telemetry.PollResultOK).Inc()
	return result, nil
}

// Test возвращает до SampleLimit самых новых элементов, начиная с самого нового.
// Watermark не читается и не пишется, запись коннектора в хранилище
// остаётся внутри вызова. Если коннектор ничего не вернул, отдаётся SampleData.
func (e *Engine) Test(ctx context.Context, def *domain.Definition) ([]any, error) {
	conn, err := pollingConnector(def)
	if err != nil {
		return nil, err
	}

	items, err := conn.FetchItems(ctx, e.triggerContext(def, 0, true, true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	fresh := Filter(items, 0)
	if len(fresh) == 0 {
		if def.SampleData != nil {
			return []any{def.SampleData}, nil
		}
		return []any{}, nil
	}

	n := min(len(fresh), e.sampleLimit)
	sample := make([]any, 0, n)
	for i := len(fresh) - 1; i >= len(fresh)-n; i-- {
		sample = append(sample, fresh[i].Payload)
	}
	return sample, nil
}

// Filter оставляет элементы с EpochMillis строго больше watermark и
// сортирует их по возрастанию времени. Порядок равных сохраняется.
//
// Строгое сравнение может недодать элементы с тем же временем, что и
// watermark, если прошлый опрос увидел только часть из них. Коннекторам
// с грубыми метками времени стоит отдавать более точное время.
func Filter(items []domain.Item, watermark int64) []domain.Item {
	fresh := make([]domain.Item, 0, len(items))
	for _, item := range items {
		if item.EpochMillis > watermark {
			fresh = append(fresh, item)
		}
	}
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].EpochMillis < fresh[j].EpochMillis
	})
	return fresh
}

// safeWatermark возвращает наибольшее время среди отправленных элементов,
// строго меньшее времени первого неотправленного.
func safeWatermark(sent []domain.Item, failedEpoch int64) int64 {
	var best int64
	for _, item := range sent {
		if item.EpochMillis < failedEpoch && item.EpochMillis > best {
			best = item.EpochMillis
		}
	}
	return best
}

func (e *Engine) advance(ctx context.Context, def *domain.Definition, result *Result, epochMillis int64) error {
	if epochMillis <= result.Watermark {
		return nil
	}
	wm, changed, err := e.watermarks.Advance(ctx, def.FlowID, def.Name, epochMillis)
	if err != nil {
		return fmt.Errorf("advance watermark: %w", err)
	}
	result.Watermark = wm.LastFetchEpochMillis
	result.Advanced = changed
	return nil
}

func (e *Engine) triggerContext(def *domain.Definition, watermark int64, testMode, readOnly bool) domain.TriggerContext {
	kv := repo.Bind(e.store, def.FlowID, repo.ScopeFlow, "connector:"+def.Name+":")
	if readOnly {
		kv = repo.ReadOnly(kv)
	}
	return domain.TriggerContext{
		FlowID:               def.FlowID,
		TriggerName:          def.Name,
		Props:                def.Props,
		Store:                kv,
		LastFetchEpochMillis: watermark,
		TestMode:             testMode,
	}
}

func lockKey(def *domain.Definition) string {
	return "poll:" + def.Key()
}

func pollingConnector(def *domain.Definition) (domain.PollingConnector, error) {
	if def.Mode != domain.ModePolling {
		return nil, fmt.Errorf("%s: %w", def.Key(), ErrNotPolling)
	}
	conn, ok := def.Connector.(domain.PollingConnector)
	if !ok {
		return nil, fmt.Errorf("%s: %w", def.Key(), ErrNotPolling)
	}
	return conn, nil
}
