package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidTTL — TTL должен быть положительным.
var ErrInvalidTTL = errors.New("lock ttl must be positive")

// ReleaseFunc освобождает lease. Повторный вызов безопасен.
// Если lease уже истёк и перехвачен, чужую блокировку не трогает.
type ReleaseFunc func()

// Locker выдаёт lease-блокировки по строковому ключу.
type Locker interface {
	// TryAcquire пытается взять lease без ожидания.
	// acquired == false означает, что ключ занят живым lease.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (release ReleaseFunc, acquired bool, err error)
}

// Memory — Locker в памяти процесса.
type Memory struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
	seq    uint64
}

type memoryLease struct {
	token     uint64
	expiresAt time.Time
}

// NewMemory создаёт Memory-локер.
func NewMemory() *Memory {
	return &Memory{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

// TryAcquire берёт lease, если ключ свободен или прежний lease истёк.
func (m *Memory) TryAcquire(_ context.Context, key string, ttl time.Duration) (ReleaseFunc, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if cur, ok := m.leases[key]; ok && now.Before(cur.expiresAt) {
		return nil, false, nil
	}

	m.seq++
	token := m.seq
	m.leases[key] = memoryLease{token: token, expiresAt: now.Add(ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.leases[key]; ok && cur.token == token {
				delete(m.leases, key)
			}
		})
	}
	return release, true, nil
}
