package correlator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// Resolution — итог корреляции: ответ run или факт завершения без ответа.
type Resolution struct {
	RunID domain.RunHandle `json:"run_id"`

	// Responded — true, если run вызвал respond.
	Responded bool `json:"responded"`

	// Response заполнен, только если Responded.
	Response *domain.Response `json:"response,omitempty"`

	At time.Time `json:"at"`
}

// Ledger хранит первое разрешение каждого run.
//
// Разрешить можно только открытую корреляцию: Open вызывает Submit до
// запуска run. Когда запись истекла или run вообще не отправлялся через
// Submit, Claim возвращает ErrUnknownRun, а не новую "первую" победу.
type Ledger interface {
	// Open открывает корреляцию run на ttl. Повторный Open ничего не меняет.
	Open(ctx context.Context, runID domain.RunHandle, ttl time.Duration) error

	// Claim сохраняет res, если корреляция открыта и ещё не разрешена.
	// Возвращает сохранённое разрешение и won == true, если сохранено именно res.
	Claim(ctx context.Context, res Resolution, ttl time.Duration) (stored Resolution, won bool, err error)

	// Get возвращает разрешение run, если оно есть.
	Get(ctx context.Context, runID domain.RunHandle) (Resolution, bool, error)
}

// MemoryLedger — Ledger в памяти процесса.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[domain.RunHandle]ledgerEntry
	now     func() time.Time
}

// ledgerEntry без res — открытая, ещё не разрешённая корреляция.
type ledgerEntry struct {
	res       *Resolution
	expiresAt time.Time
}

// NewMemoryLedger создаёт пустой MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[domain.RunHandle]ledgerEntry),
		now:     time.Now,
	}
}

// Open регистрирует ожидающую корреляцию.
func (l *MemoryLedger) Open(_ context.Context, runID domain.RunHandle, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)
	if _, ok := l.entries[runID]; !ok {
		l.entries[runID] = ledgerEntry{expiresAt: now.Add(ttl)}
	}
	return nil
}

// Claim атомарно сохраняет первое разрешение.
func (l *MemoryLedger) Claim(_ context.Context, res Resolution, ttl time.Duration) (Resolution, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)

	e, ok := l.entries[res.RunID]
	if !ok {
		return Resolution{}, false, ErrUnknownRun
	}
	if e.res != nil {
		return *e.res, false, nil
	}
	l.entries[res.RunID] = ledgerEntry{res: &res, expiresAt: now.Add(ttl)}
	return res, true, nil
}

// Get возвращает разрешение run.
func (l *MemoryLedger) Get(_ context.Context, runID domain.RunHandle) (Resolution, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[runID]
	if !ok || e.res == nil || !l.now().Before(e.expiresAt) {
		return Resolution{}, false, nil
	}
	return *e.res, true, nil
}

func (l *MemoryLedger) pruneLocked(now time.Time) {
	for id, e := range l.entries {
		if !now.Before(e.expiresAt) {
			delete(l.entries, id)
		}
	}
}

// openMarker — значение ключа открытой корреляции в Redis.
const openMarker = "open"

// claimScript заменяет маркер открытой корреляции разрешением.
// Ответ: {0} — корреляции нет, {1, новое} — победа, {2, сохранённое} — проигрыш.
var claimScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if not cur then
	return {0}
end
if cur == ARGV[2] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
	return {1, ARGV[1]}
end
return {2, cur}
`)

// RedisLedger — Ledger поверх Redis, общий для всех процессов.
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLedger создаёт RedisLedger. Пустой prefix заменяется на "automata:resolution:".
func NewRedisLedger(client redis.UniversalClient, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "automata:resolution:"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(runID domain.RunHandle) string {
	return l.prefix + runID.String()
}

// Open выполняет SET NX с маркером открытой корреляции.
func (l *RedisLedger) Open(ctx context.Context, runID domain.RunHandle, ttl time.Duration) error {
	if err := l.client.SetNX(ctx, l.key(runID), openMarker, ttl).Err(); err != nil {
		return fmt.Errorf("open correlation: %w", err)
	}
	return nil
}

// Claim атомарно заменяет маркер разрешением; проигравший получает сохранённое.
func (l *RedisLedger) Claim(ctx context.Context, res Resolution, ttl time.Duration) (Resolution, bool, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("marshal resolution: %w", err)
	}

	reply, err := claimScript.Run(ctx, l.client, []string{l.key(res.RunID)},
		string(data), openMarker, ttl.Milliseconds()).Slice()
	if err != nil {
		return Resolution{}, false, fmt.Errorf("claim resolution: %w", err)
	}

	code, _ := reply[0].(int64)
	switch code {
	case 0:
		return Resolution{}, false, ErrUnknownRun
	case 1:
		return res, true, nil
	}

	raw, _ := reply[1].(string)
	var stored Resolution
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return Resolution{}, false, fmt.Errorf("unmarshal resolution: %w", err)
	}
	return stored, false, nil
}

// Get читает разрешение run. Открытая корреляция разрешением не считается.
func (l *RedisLedger) Get(ctx context.Context, runID domain.RunHandle) (Resolution, bool, error) {
	raw, err := l.client.Get(ctx, l.key(runID)).Bytes()
	if errors.Is(err, redis.Nil) || string(raw) == openMarker {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, fmt.Errorf("get resolution: %w", err)
	}

	var res Resolution
	if err := json.Unmarshal(raw, &res); err != nil {
		return Resolution{}, false, fmt.Errorf("unmarshal resolution: %w", err)
	}
	return res, true, nil
}
