package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// RunRepo — репозиторий runs, запущенных триггерами.
type RunRepo struct {
	pool *pgxpool.Pool
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Create создаёт новый run.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	payloadJSON, err := json.Marshal(run.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	query := `
		INSERT INTO trigger_runs (id, flow_id, trigger_name, status, payload, synchronous, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = r.pool.Exec(ctx, query,
		run.ID,
		run.FlowID,
		run.TriggerName,
		run.Status,
		payloadJSON,
		run.Synchronous,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := `
		SELECT id, flow_id, trigger_name, status, payload, synchronous, error, finished_at, created_at
		FROM trigger_runs
		WHERE id = $1
	`
	return r.scanRun(r.pool.QueryRow(ctx, query, id))
}

// ListByTrigger возвращает последние runs триггера.
func (r *RunRepo) ListByTrigger(ctx context.Context, flowID uuid.UUID, triggerName string, limit int) ([]domain.Run, error) {
	query := `
		SELECT id, flow_id, trigger_name, status, payload, synchronous, error, finished_at, created_at
		FROM trigger_runs
		WHERE flow_id = $1 AND trigger_name = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, flowID, triggerName, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Finish сохраняет финальный статус run.
func (r *RunRepo) Finish(ctx context.Context, run *domain.Run) error {
	query := `
		UPDATE trigger_runs
		SET status = $2, error = $3, finished_at = $4
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, run.ID, run.Status, nullString(run.Error), run.FinishedAt)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// scanRun сканирует одну строку в Run. pgx.Rows тоже реализует pgx.Row.
func (r *RunRepo) scanRun(row pgx.Row) (*domain.Run, error) {
	var run domain.Run
	var payloadJSON []byte
	var runError *string

	err := row.Scan(
		&run.ID,
		&run.FlowID,
		&run.TriggerName,
		&run.Status,
		&payloadJSON,
		&run.Synchronous,
		&runError,
		&run.FinishedAt,
		&run.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if payloadJSON != nil {
		if err := json.Unmarshal(payloadJSON, &run.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if runError != nil {
		run.Error = *runError
	}

	return &run, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
