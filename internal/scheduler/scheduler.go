package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/polling"
	"golang.org/x/sync/errgroup"
)

const (
	defaultTick        = time.Second
	defaultConcurrency = 16
)

// Source отдаёт зарегистрированные определения триггеров.
type Source interface {
	ByMode(mode domain.Mode) []domain.Definition
}

// Poller выполняет один опрос триггера.
// Выключенный триггер возвращает Result{Skipped: true}.
type Poller interface {
	Poll(ctx context.Context, flowID uuid.UUID, name string) (polling.Result, error)
}

// Scheduler — тикер polling-триггеров.
//
// Держит в памяти таблицу следующих сроков опроса. На каждом тике выбирает
// триггеры, срок которых наступил, сдвигает их срок и опрашивает их
// параллельно с ограничением Concurrency. Пересечение опросов одного
// триггера, в том числе между репликами, исключает блокировка движка опроса.
type Scheduler struct {
	source      Source
	poller      Poller
	tick        time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time

	mu  sync.Mutex
	due map[string]time.Time
}

// Config — конфигурация Scheduler.
type Config struct {
	Source      Source
	Poller      Poller
	Tick        time.Duration // период тика (default: 1s)
	Concurrency int           // одновременных опросов (default: 16)
	Logger      *slog.Logger
}

// TickResult — итог одного тика.
type TickResult struct {
	Due     int
	Polled  int
	Skipped int
	Failed  int
}

// New создаёт новый Scheduler.
func New(cfg Config) *Scheduler {
	tick := cfg.Tick
	if tick <= 0 {
		tick = defaultTick
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		source:      cfg.Source,
		poller:      cfg.Poller,
		tick:        tick,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
		due:         make(map[string]time.Time),
	}
}

// Run вызывает Tick с периодом Tick до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) {
	tk := time.NewTicker(s.tick)
	defer tk.Stop()

	s.logger.Info("scheduler started", "tick", s.tick, "concurrency", s.concurrency)

	for {
		select {
		case <-tk.C:
			s.Tick(ctx)
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

// Tick опрашивает все триггеры, срок которых наступил.
//
// Новый триггер опрашивается на первом же тике. Срок сдвигается до опроса,
// поэтому долгий опрос не вызывает повторного запуска на следующих тиках.
// Ошибка одного опроса не мешает остальным.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	now := s.now()
	due := s.collectDue(now)

	result := TickResult{Due: len(due)}
	if len(due) == 0 {
		return result
	}

	var polled, skipped, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, def := range due {
		g.Go(func() error {
			res, err := s.poller.Poll(gctx, def.FlowID, def.Name)
			switch {
			case err != nil:
				failed.Add(1)
				s.logger.Error("poll failed",
					"flow_id", def.FlowID,
					"trigger", def.Name,
					"error", err,
				)
			case res.Skipped:
				skipped.Add(1)
			default:
				polled.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Polled = int(polled.Load())
	result.Skipped = int(skipped.Load())
	result.Failed = int(failed.Load())

	s.logger.Debug("scheduler tick completed",
		"due", result.Due,
		"polled", result.Polled,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result
}

// NextDue возвращает следующий срок опроса триггера.
func (s *Scheduler) NextDue(flowID uuid.UUID, name string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.due[domain.TriggerKey(flowID, name)]
	return t, ok
}

// collectDue выбирает триггеры со сроком <= now и сдвигает их сроки.
// Записи удалённых из реестра триггеров выбрасываются.
func (s *Scheduler) collectDue(now time.Time) []domain.Definition {
	defs := s.source.ByMode(domain.ModePolling)

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(defs))
	var due []domain.Definition

	for _, def := range defs {
		key := def.Key()
		seen[key] = true

		next, ok := s.due[key]
		if ok && next.After(now) {
			continue
		}

		nextDue, err := CalculateNextDue(def.Schedule, now)
		if err != nil {
			s.logger.Error("failed to calculate next due, using default interval",
				"flow_id", def.FlowID,
				"trigger", def.Name,
				"error", err,
			)
			nextDue = now.Add(domain.DefaultPollInterval)
		}
		s.due[key] = nextDue
		due = append(due, def)
	}

	for key := range s.due {
		if !seen[key] {
			delete(s.due, key)
		}
	}
	return due
}
