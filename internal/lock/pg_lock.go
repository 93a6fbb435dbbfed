package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres — Locker на таблице trigger_leases.
//
// В отличие от advisory locks, lease не привязан к соединению и
// переживает переподключения пула; истёкший lease перехватывается upsert-ом.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres создаёт Postgres-локер. Таблица создаётся repo.Migrate.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// TryAcquire вставляет lease или перехватывает истёкший.
func (p *Postgres) TryAcquire(ctx context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}

	holder := uuid.NewString()
	query := `
		INSERT INTO trigger_leases (key, holder, expires_at)
		VALUES ($1, $2, now() + $3::bigint * interval '1 millisecond')
		ON CONFLICT (key) DO UPDATE
		SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE trigger_leases.expires_at < now()
	`
	tag, err := p.pool.Exec(ctx, query, key, holder, ttl.Milliseconds())
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			_, _ = p.pool.Exec(context.Background(),
				`DELETE FROM trigger_leases WHERE key = $1 AND holder = $2`, key, holder)
		})
	}
	return release, true, nil
}
