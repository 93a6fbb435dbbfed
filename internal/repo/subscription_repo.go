package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// SubscriptionKey возвращает ключ подписки в scope flow.
func SubscriptionKey(flowID uuid.UUID, triggerName string) Key {
	return Key{
		FlowID: flowID,
		Scope:  ScopeFlow,
		Name:   "subscription:" + domain.TriggerKey(flowID, triggerName),
	}
}

// SubscriptionRepo — репозиторий webhook-подписок.
type SubscriptionRepo struct {
	store ScopedStore
}

// NewSubscriptionRepo создаёт новый SubscriptionRepo.
func NewSubscriptionRepo(store ScopedStore) *SubscriptionRepo {
	return &SubscriptionRepo{store: store}
}

// Get возвращает подписку или ErrNotFound.
func (r *SubscriptionRepo) Get(ctx context.Context, flowID uuid.UUID, triggerName string) (*domain.Subscription, error) {
	raw, err := r.store.Get(ctx, SubscriptionKey(flowID, triggerName))
	if err != nil {
		return nil, err
	}

	var sub domain.Subscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return nil, fmt.Errorf("unmarshal subscription: %w", err)
	}
	return &sub, nil
}

// Create сохраняет подписку, только если для триггера её ещё нет.
// Возвращает ErrAlreadyExists, если запись уже есть.
func (r *SubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	created, err := r.store.CompareAndSwap(ctx, SubscriptionKey(sub.FlowID, sub.TriggerName), nil, raw)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	if !created {
		return ErrAlreadyExists
	}
	return nil
}

// Delete удаляет подписку.
func (r *SubscriptionRepo) Delete(ctx context.Context, flowID uuid.UUID, triggerName string) error {
	if err := r.store.Delete(ctx, SubscriptionKey(flowID, triggerName)); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
