package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore — ScopedStore поверх таблицы trigger_kv.
//
// Атомарность на уровне ключа обеспечивается одиночными INSERT/UPDATE:
// CompareAndSwap реализован через условный UPDATE или
// INSERT ... ON CONFLICT DO NOTHING.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт новый PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get возвращает значение или ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, key Key) ([]byte, error) {
	query := `
		SELECT value
		FROM trigger_kv
		WHERE flow_id = $1 AND scope = $2 AND key = $3
	`
	var value []byte
	err := s.pool.QueryRow(ctx, query, key.FlowID, string(key.Scope), key.Name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

// Put записывает значение (upsert).
func (s *PostgresStore) Put(ctx context.Context, key Key, value []byte) error {
	query := `
		INSERT INTO trigger_kv (flow_id, scope, key, value, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (flow_id, scope, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, key.FlowID, string(key.Scope), key.Name, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Delete удаляет запись.
func (s *PostgresStore) Delete(ctx context.Context, key Key) error {
	query := `DELETE FROM trigger_kv WHERE flow_id = $1 AND scope = $2 AND key = $3`
	if _, err := s.pool.Exec(ctx, query, key.FlowID, string(key.Scope), key.Name); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CompareAndSwap записывает next, если текущее значение равно old.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, key Key, old, next []byte) (bool, error) {
	if old == nil {
		query := `
			INSERT INTO trigger_kv (flow_id, scope, key, value, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (flow_id, scope, key) DO NOTHING
		`
		result, err := s.pool.Exec(ctx, query, key.FlowID, string(key.Scope), key.Name, next)
		if err != nil {
			return false, fmt.Errorf("insert %s: %w", key, err)
		}
		return result.RowsAffected() == 1, nil
	}

	query := `
		UPDATE trigger_kv
		SET value = $4, updated_at = NOW()
		WHERE flow_id = $1 AND scope = $2 AND key = $3 AND value = $5
	`
	result, err := s.pool.Exec(ctx, query, key.FlowID, string(key.Scope), key.Name, next, old)
	if err != nil {
		return false, fmt.Errorf("swap %s: %w", key, err)
	}
	return result.RowsAffected() == 1, nil
}
