package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/telemetry"
)

// Default configuration values.
const (
	defaultTimeout   = 30 * time.Second
	defaultRetention = 10 * time.Minute

	// MaxTimeout — верхняя граница ожидания одной отправки.
	MaxTimeout = 10 * time.Minute
)

// Исходы для метрики Submissions.
const (
	outcomeResponded  = "responded"
	outcomeEarly      = "responded_early"
	outcomeNoResponse = "no_response"
	outcomeTimedOut   = "timed_out"
	outcomeError      = "error"
)

// Correlator — ResponseCorrelator.
type Correlator struct {
	executor  domain.RunExecutor
	ledger    Ledger
	broker    Broker
	timeout   time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	tokens  map[domain.RunHandle]*token
	records map[domain.RunHandle]*domain.CorrelationRecord

	unsubscribe func()
}

// token — ожидающая отправка. slot заполняется не более одного раза.
type token struct {
	slot   chan Resolution
	filled bool
}

// Config — конфигурация Correlator.
type Config struct {
	// Executor — исполнитель, запускающий run по отправке.
	Executor domain.RunExecutor

	// Ledger — хранилище первого разрешения (default: MemoryLedger).
	Ledger Ledger

	// Broker — доставка разрешений между процессами. nil — только локально.
	Broker Broker

	Timeout   time.Duration // ожидание по умолчанию (default: 30s, максимум MaxTimeout)
	Retention time.Duration // хранение записи аудита после завершения (default: 10m)

	Logger *slog.Logger
}

// SubmitRequest — синхронная отправка формы или чата.
type SubmitRequest struct {
	FlowID      uuid.UUID
	TriggerName string
	Payload     any

	// Timeout переопределяет ожидание по умолчанию; 0 — по умолчанию.
	Timeout time.Duration
}

// New создаёт новый Correlator.
func New(cfg Config) *Correlator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	timeout = min(timeout, MaxTimeout)

	retention := cfg.Retention
	if retention <= 0 {
		retention = defaultRetention
	}

	ledger := cfg.Ledger
	if ledger == nil {
		ledger = NewMemoryLedger()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Correlator{
		executor:  cfg.Executor,
		ledger:    ledger,
		broker:    cfg.Broker,
		timeout:   timeout,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		tokens:    make(map[domain.RunHandle]*token),
		records:   make(map[domain.RunHandle]*domain.CorrelationRecord),
	}
}

// Start подписывается на разрешения из других процессов.
// Без Broker ничего не делает.
func (c *Correlator) Start(ctx context.Context) error {
	if c.broker == nil {
		return nil
	}
	unsubscribe, err := c.broker.Subscribe(ctx, c.deliver)
	if err != nil {
		return fmt.Errorf("subscribe to resolutions: %w", err)
	}

	c.mu.Lock()
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
	return nil
}

// Stop отписывается от Broker.
func (c *Correlator) Stop() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Submit запускает run и ждёт его ответа, завершения без ответа или таймаута.
//
// Токен регистрируется до запуска run, поэтому ответ, пришедший раньше
// начала ожидания, не теряется. Таймаут освобождает вызывающего, но run
// продолжает работу. Таймаут и отсутствие ответа возвращаются как
// SubmitOutcome, а не как ошибка.
func (c *Correlator) Submit(ctx context.Context, req SubmitRequest) (domain.SubmitOutcome, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	timeout = min(timeout, MaxTimeout)

	runID := uuid.New()
	now := c.now()
	tok := &token{slot: make(chan Resolution, 1)}

	c.mu.Lock()
	c.pruneLocked(now)
	c.tokens[runID] = tok
	c.records[runID] = &domain.CorrelationRecord{
		RunID:     runID,
		State:     domain.SubmitStateSubmitted,
		CreatedAt: now,
		Deadline:  now.Add(timeout),
	}
	c.mu.Unlock()

	logger := telemetry.WithRunID(telemetry.WithTrigger(c.logger, req.FlowID.String(), req.TriggerName), runID.String())

	// Корреляция живёт, пока run ещё может ответить с пользой: ожидание
	// плюс окно аудита поздних ответов
	openTTL := timeout + c.retention
	if err := c.ledger.Open(ctx, runID, openTTL); err != nil {
		c.forget(runID)
		telemetry.Submissions.WithLabelValues(outcomeError).Inc()
		return domain.SubmitOutcome{}, fmt.Errorf("%w: %w", ErrStart, err)
	}

	handle, err := c.executor.Start(ctx, domain.StartRequest{
		RunID:       runID,
		FlowID:      req.FlowID,
		TriggerName: req.TriggerName,
		Payload:     req.Payload,
		Synchronous: true,
	})
	if err != nil {
		c.forget(runID)
		telemetry.Submissions.WithLabelValues(outcomeError).Inc()
		logger.Error("start run for submission failed", "error", err)
		return domain.SubmitOutcome{}, fmt.Errorf("%w: %w", ErrStart, err)
	}
	if handle != runID {
		// Исполнитель выдал свой идентификатор: переносим токен под него
		logger.Warn("executor ignored pre-assigned run id", "handle", handle.String())
		c.rekey(runID, handle)
		runID = handle
		if err := c.ledger.Open(ctx, runID, openTTL); err != nil {
			logger.Error("open correlation for executor handle failed", "error", err)
		}
	}
	c.setState(runID, domain.SubmitStateRunStarted)

	return c.wait(ctx, runID, tok, logger)
}

// wait блокируется на слоте токена до разрешения, дедлайна или отмены ctx.
func (c *Correlator) wait(ctx context.Context, runID domain.RunHandle, tok *token, logger *slog.Logger) (domain.SubmitOutcome, error) {
	// Ранний ответ: слот уже заполнен или разрешение есть в Ledger
	select {
	case res := <-tok.slot:
		return c.finish(runID, res, true), nil
	default:
	}
	if res, ok := c.lookup(ctx, runID, logger); ok {
		return c.finish(runID, res, true), nil
	}

	deadline := c.setState(runID, domain.SubmitStateWaiting)

	telemetry.PendingCorrelations.Inc()
	defer telemetry.PendingCorrelations.Dec()

	timer := time.NewTimer(deadline.Sub(c.now()))
	defer timer.Stop()

	select {
	case res := <-tok.slot:
		return c.finish(runID, res, false), nil

	case <-timer.C:
		// Сообщение брокера могло потеряться: последний шанс через Ledger
		if res, ok := c.lookup(ctx, runID, logger); ok {
			return c.finish(runID, res, false), nil
		}
		logger.Info("submission timed out, run continues")
		return c.expire(runID), nil

	case <-ctx.Done():
		logger.Info("submitter went away, run continues", "error", ctx.Err())
		return c.expire(runID), ctx.Err()
	}
}

// Resolve фиксирует ответ run. Побеждает первый вызов; повторные вызовы
// ничего не меняют и возвращают уже сохранённое разрешение с first == false.
// Для run без открытой корреляции (истекла или не было Submit) — ErrUnknownRun.
func (c *Correlator) Resolve(ctx context.Context, runID domain.RunHandle, resp domain.Response) (Resolution, bool, error) {
	return c.claim(ctx, Resolution{
		RunID:     runID,
		Responded: true,
		Response:  &resp,
		At:        c.now().UTC(),
	})
}

// Complete сообщает, что run завершился, не вызвав respond.
// Если ответ уже был, ничего не меняет.
func (c *Correlator) Complete(ctx context.Context, runID domain.RunHandle) (Resolution, bool, error) {
	return c.claim(ctx, Resolution{
		RunID: runID,
		At:    c.now().UTC(),
	})
}

func (c *Correlator) claim(ctx context.Context, res Resolution) (Resolution, bool, error) {
	logger := telemetry.WithRunID(c.logger, res.RunID.String())

	stored, won, err := c.ledger.Claim(ctx, res, c.timeout+c.retention)
	if errors.Is(err, ErrUnknownRun) {
		logger.Info("resolution for unknown or expired correlation", "responded", res.Responded)
		return Resolution{}, false, fmt.Errorf("run %s: %w", res.RunID, ErrUnknownRun)
	}
	if err != nil {
		return Resolution{}, false, fmt.Errorf("claim resolution: %w", err)
	}
	if !won {
		logger.Debug("duplicate resolution ignored", "responded", res.Responded)
		return stored, false, nil
	}

	c.deliver(stored)

	if c.broker != nil {
		if err := c.broker.Publish(ctx, stored); err != nil {
			// Разрешение уже в Ledger, ожидающий подберёт его по дедлайну
			logger.Error("publish resolution failed", "error", err)
		}
	}
	return stored, true, nil
}

// deliver передаёт разрешение ожидающему токену или, если ожидающий
// уже ушёл по таймауту, фиксирует поздний ответ в аудите.
// Повторная доставка того же разрешения ничего не меняет.
func (c *Correlator) deliver(res Resolution) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok, ok := c.tokens[res.RunID]; ok {
		if !tok.filled {
			tok.filled = true
			tok.slot <- res
		}
		return
	}

	rec, ok := c.records[res.RunID]
	if !ok || rec.State != domain.SubmitStateTimedOut || rec.ResolvedAt != nil {
		return
	}

	at := res.At
	rec.ResolvedAt = &at
	if res.Responded {
		rec.State = domain.SubmitStateRespondedLate
		rec.Response = res.Response
		c.logger.Info("late response recorded", "run_id", res.RunID.String())
	}
}

// Record возвращает запись аудита корреляции.
// Если записи нет в этом процессе, строит её по Ledger.
func (c *Correlator) Record(ctx context.Context, runID domain.RunHandle) (domain.CorrelationRecord, error) {
	c.mu.Lock()
	c.pruneLocked(c.now())
	if rec, ok := c.records[runID]; ok {
		out := *rec
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	res, ok, err := c.ledger.Get(ctx, runID)
	if err != nil {
		return domain.CorrelationRecord{}, err
	}
	if !ok {
		return domain.CorrelationRecord{}, ErrUnknownRun
	}

	at := res.At
	rec := domain.CorrelationRecord{
		RunID:      runID,
		State:      domain.SubmitStateCompletedNoResponse,
		ResolvedAt: &at,
		Response:   res.Response,
	}
	if res.Responded {
		rec.State = domain.SubmitStateResponded
	}
	return rec, nil
}

// Pending возвращает число ожидающих отправок в этом процессе.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

func (c *Correlator) lookup(ctx context.Context, runID domain.RunHandle, logger *slog.Logger) (Resolution, bool) {
	res, ok, err := c.ledger.Get(ctx, runID)
	if err != nil {
		logger.Warn("ledger lookup failed", "error", err)
		return Resolution{}, false
	}
	return res, ok
}

// finish закрывает токен разрешением.
func (c *Correlator) finish(runID domain.RunHandle, res Resolution, early bool) domain.SubmitOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.tokens, runID)

	out := domain.SubmitOutcome{RunID: runID}
	outcome := outcomeNoResponse
	switch {
	case res.Responded && early:
		out.State = domain.SubmitStateRespondedEarly
		out.Response = res.Response
		outcome = outcomeEarly
	case res.Responded:
		out.State = domain.SubmitStateResponded
		out.Response = res.Response
		outcome = outcomeResponded
	default:
		out.State = domain.SubmitStateCompletedNoResponse
	}

	if rec, ok := c.records[runID]; ok {
		at := res.At
		rec.State = out.State
		rec.ResolvedAt = &at
		rec.Response = res.Response
	}

	telemetry.Submissions.WithLabelValues(outcome).Inc()
	return out
}

// expire закрывает токен по таймауту. Если разрешение успело прийти
// между срабатыванием таймера и захватом мьютекса, отдаёт его.
func (c *Correlator) expire(runID domain.RunHandle) domain.SubmitOutcome {
	c.mu.Lock()
	tok := c.tokens[runID]
	if tok != nil {
		select {
		case res := <-tok.slot:
			c.mu.Unlock()
			return c.finish(runID, res, false)
		default:
		}
	}

	delete(c.tokens, runID)
	if rec, ok := c.records[runID]; ok {
		rec.State = domain.SubmitStateTimedOut
	}
	c.mu.Unlock()

	telemetry.Submissions.WithLabelValues(outcomeTimedOut).Inc()
	return domain.SubmitOutcome{RunID: runID, State: domain.SubmitStateTimedOut}
}

// setState меняет состояние записи и возвращает её дедлайн.
func (c *Correlator) setState(runID domain.RunHandle, state domain.SubmitState) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[runID]
	if !ok {
		return c.now()
	}
	rec.State = state
	return rec.Deadline
}

func (c *Correlator) rekey(from, to domain.RunHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok, ok := c.tokens[from]; ok {
		delete(c.tokens, from)
		c.tokens[to] = tok
	}
	if rec, ok := c.records[from]; ok {
		delete(c.records, from)
		rec.RunID = to
		c.records[to] = rec
	}
}

func (c *Correlator) forget(runID domain.RunHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, runID)
	delete(c.records, runID)
}

// pruneLocked удаляет записи аудита, чей срок хранения истёк.
func (c *Correlator) pruneLocked(now time.Time) {
	for id, rec := range c.records {
		if _, waiting := c.tokens[id]; waiting {
			continue
		}
		end := rec.Deadline
		if rec.ResolvedAt != nil && rec.ResolvedAt.After(end) {
			end = *rec.ResolvedAt
		}
		if now.Sub(end) > c.retention {
			delete(c.records, id)
		}
	}
}
