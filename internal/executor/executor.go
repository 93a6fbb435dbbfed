package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/mq"
	"github.com/shaiso/automata-triggers/internal/repo"
)

// RunStore — хранилище runs.
// Реализации: repo.RunRepo (Postgres) и Memory.
type RunStore interface {
	Create(ctx context.Context, run *domain.Run) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	Finish(ctx context.Context, run *domain.Run) error
}

// RunPublisher публикует run.pending. Реализация: mq.Publisher.
type RunPublisher interface {
	PublishRunPending(ctx context.Context, payload mq.RunPendingPayload) error
}

// newRun собирает run из запроса на запуск.
func newRun(req domain.StartRequest) *domain.Run {
	id := req.RunID
	if id == uuid.Nil {
		id = uuid.New()
	}
	return &domain.Run{
		ID:          id,
		FlowID:      req.FlowID,
		TriggerName: req.TriggerName,
		Status:      domain.RunStatusPending,
		Payload:     req.Payload,
		Synchronous: req.Synchronous,
		CreatedAt:   time.Now().UTC(),
	}
}

// Queue — RunExecutor: run сохраняется в БД и публикуется в runs.pending.
type Queue struct {
	runs      RunStore
	publisher RunPublisher
	logger    *slog.Logger
}

// NewQueue создаёт Queue-исполнитель.
func NewQueue(runs RunStore, publisher RunPublisher, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{runs: runs, publisher: publisher, logger: logger}
}

// Start сохраняет run и публикует run.pending. Завершения не ждёт.
func (q *Queue) Start(ctx context.Context, req domain.StartRequest) (domain.RunHandle, error) {
	run := newRun(req)

	if err := q.runs.Create(ctx, run); err != nil {
		return uuid.Nil, fmt.Errorf("create run: %w", err)
	}

	err := q.publisher.PublishRunPending(ctx, mq.RunPendingPayload{
		RunID:       run.ID,
		FlowID:      run.FlowID,
		TriggerName: run.TriggerName,
		Synchronous: run.Synchronous,
		Payload:     run.Payload,
	})
	if err != nil {
		// Run остаётся PENDING в БД; движок может подобрать его сам
		q.logger.Error("publish run.pending failed", "run_id", run.ID, "error", err)
		return uuid.Nil, fmt.Errorf("publish run: %w", err)
	}

	q.logger.Debug("run queued", "run_id", run.ID, "flow_id", run.FlowID, "trigger", run.TriggerName)
	return run.ID, nil
}

// Memory — RunExecutor и RunStore в памяти процесса.
type Memory struct {
	mu    sync.RWMutex
	runs  map[uuid.UUID]*domain.Run
	order []uuid.UUID

	// OnStart вызывается в отдельной горутине для каждого нового run.
	// Позволяет подключить локальный движок или тестовый сценарий.
	OnStart func(run domain.Run)
}

// NewMemory создаёт пустой Memory-исполнитель.
func NewMemory() *Memory {
	return &Memory{runs: make(map[uuid.UUID]*domain.Run)}
}

// Start регистрирует run.
func (m *Memory) Start(ctx context.Context, req domain.StartRequest) (domain.RunHandle, error) {
	run := newRun(req)
	if err := m.Create(ctx, run); err != nil {
		return uuid.Nil, err
	}
	if m.OnStart != nil {
		go m.OnStart(*run)
	}
	return run.ID, nil
}

// Create сохраняет run.
func (m *Memory) Create(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; ok {
		return repo.ErrAlreadyExists
	}
	cp := *run
	m.runs[run.ID] = &cp
	m.order = append(m.order, run.ID)
	return nil
}

// GetByID возвращает run.
func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (*domain.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	cp := *run
	return &cp, nil
}

// Finish сохраняет финальный статус.
func (m *Memory) Finish(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.runs[run.ID]
	if !ok {
		return repo.ErrNotFound
	}
	cur.Status = run.Status
	cur.Error = run.Error
	cur.FinishedAt = run.FinishedAt
	return nil
}

// Runs возвращает все runs в порядке запуска.
func (m *Memory) Runs() []domain.Run {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Run, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.runs[id])
	}
	return out
}
