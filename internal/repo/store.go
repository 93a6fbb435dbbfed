package repo

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// Scope — область видимости записи в хранилище.
type Scope string

const (
	// ScopeFlow — данные одного flow (watermark, подписки, данные коннектора).
	ScopeFlow Scope = "flow"

	// ScopeProject — данные, общие для проекта.
	ScopeProject Scope = "project"
)

// Key — ключ записи в ScopedStore.
type Key struct {
	FlowID uuid.UUID
	Scope  Scope
	Name   string
}

// String возвращает плоское представление ключа "{scope}:{flowId}:{name}".
func (k Key) String() string {
	return string(k.Scope) + ":" + k.FlowID.String() + ":" + k.Name
}

// ScopedStore — хранилище ключ-значение, разбитое по (flow, scope).
//
// Get/Put/Delete атомарны в пределах одного ключа. Транзакций между
// ключами нет: состояние каждого триггера независимо.
type ScopedStore interface {
	// Get возвращает значение или ErrNotFound.
	Get(ctx context.Context, key Key) ([]byte, error)

	// Put записывает значение.
	Put(ctx context.Context, key Key, value []byte) error

	// Delete удаляет запись. Отсутствие записи — не ошибка.
	Delete(ctx context.Context, key Key) error

	// CompareAndSwap записывает next, только если текущее значение равно old.
	// old == nil означает "записи нет".
	CompareAndSwap(ctx context.Context, key Key, old, next []byte) (bool, error)
}

// Bind привязывает ScopedStore к (flow, scope) и возвращает domain.KV
// для коннекторов. Ключи коннектора получают префикс, чтобы не пересекаться
// с watermark и подписками.
func Bind(store ScopedStore, flowID uuid.UUID, scope Scope, prefix string) domain.KV {
	return &boundKV{store: store, flowID: flowID, scope: scope, prefix: prefix}
}

type boundKV struct {
	store  ScopedStore
	flowID uuid.UUID
	scope  Scope
	prefix string
}

func (b *boundKV) key(name string) Key {
	return Key{FlowID: b.flowID, Scope: b.scope, Name: b.prefix + name}
}

func (b *boundKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.store.Get(ctx, b.key(key))
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (b *boundKV) Put(ctx context.Context, key string, value []byte) error {
	return b.store.Put(ctx, b.key(key), value)
}

func (b *boundKV) Delete(ctx context.Context, key string) error {
	return b.store.Delete(ctx, b.key(key))
}

func (b *boundKV) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	return b.store.CompareAndSwap(ctx, b.key(key), old, next)
}

// ReadOnly оборачивает KV так, что запись видна только внутри обёртки
// и не доходит до нижележащего хранилища. Используется в test().
func ReadOnly(kv domain.KV) domain.KV {
	return &overlayKV{base: kv, writes: make(map[string][]byte), deleted: make(map[string]bool)}
}

type overlayKV struct {
	base    domain.KV
	mu      sync.Mutex
	writes  map[string][]byte
	deleted map[string]bool
}

func (o *overlayKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	o.mu.Lock()
	if o.deleted[key] {
		o.mu.Unlock()
		return nil, false, nil
	}
	if v, ok := o.writes[key]; ok {
		o.mu.Unlock()
		return bytes.Clone(v), true, nil
	}
	o.mu.Unlock()
	return o.base.Get(ctx, key)
}

func (o *overlayKV) Put(_ context.Context, key string, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.deleted, key)
	o.writes[key] = bytes.Clone(value)
	return nil
}

func (o *overlayKV) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.writes, key)
	o.deleted[key] = true
	return nil
}

func (o *overlayKV) CompareAndSwap(ctx context.Context, key string, old, next []byte) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var (
		current []byte
		found   bool
	)
	switch v, ok := o.writes[key]; {
	case o.deleted[key]:
	case ok:
		current, found = v, true
	default:
		var err error
		if current, found, err = o.base.Get(ctx, key); err != nil {
			return false, err
		}
	}

	if old == nil {
		if found {
			return false, nil
		}
	} else if !found || !bytes.Equal(current, old) {
		return false, nil
	}

	delete(o.deleted, key)
	o.writes[key] = bytes.Clone(next)
	return true, nil
}
