package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// maxSwapAttempts — сколько раз повторять CAS при конкурентной записи.
const maxSwapAttempts = 8

// WatermarkKey возвращает ключ watermark в scope flow.
func WatermarkKey(flowID uuid.UUID, triggerName string) Key {
	return Key{
		FlowID: flowID,
		Scope:  ScopeFlow,
		Name:   "watermark:" + domain.TriggerKey(flowID, triggerName),
	}
}

// WatermarkRepo — репозиторий watermark polling-триггеров.
type WatermarkRepo struct {
	store ScopedStore
}

// NewWatermarkRepo создаёт новый WatermarkRepo.
func NewWatermarkRepo(store ScopedStore) *WatermarkRepo {
	return &WatermarkRepo{store: store}
}

// Get возвращает watermark или ErrNotFound.
func (r *WatermarkRepo) Get(ctx context.Context, flowID uuid.UUID, triggerName string) (*domain.Watermark, error) {
	wm, _, err := r.load(ctx, WatermarkKey(flowID, triggerName))
	return wm, err
}

// GetOrZero возвращает watermark; отсутствующая запись считается нулевой.
func (r *WatermarkRepo) GetOrZero(ctx context.Context, flowID uuid.UUID, triggerName string) (domain.Watermark, error) {
	wm, err := r.Get(ctx, flowID, triggerName)
	if errors.Is(err, ErrNotFound) {
		return domain.Watermark{FlowID: flowID, TriggerName: triggerName}, nil
	}
	if err != nil {
		return domain.Watermark{}, err
	}
	return *wm, nil
}

// Ensure создаёт watermark со значением 0, если его ещё нет.
// Существующее значение не меняется.
func (r *WatermarkRepo) Ensure(ctx context.Context, flowID uuid.UUID, triggerName string) (domain.Watermark, error) {
	key := WatermarkKey(flowID, triggerName)

	wm := domain.Watermark{FlowID: flowID, TriggerName: triggerName, UpdatedAt: time.Now()}
	raw, err := json.Marshal(wm)
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("marshal watermark: %w", err)
	}

	created, err := r.store.CompareAndSwap(ctx, key, nil, raw)
	if err != nil {
		return domain.Watermark{}, fmt.Errorf("create watermark: %w", err)
	}
	if created {
		return wm, nil
	}

	existing, _, err := r.load(ctx, key)
	if err != nil {
		return domain.Watermark{}, err
	}
	return *existing, nil
}

// Advance сдвигает watermark до epochMillis, если оно больше текущего.
// Возвращает итоговое значение и признак того, что запись изменилась.
//
// Запись идёт через CompareAndSwap, поэтому даже два пересекающихся опроса
// (например, после истечения lease) не могут уменьшить значение.
func (r *WatermarkRepo) Advance(ctx context.Context, flowID uuid.UUID, triggerName string, epochMillis int64) (domain.Watermark, bool, error) {
	key := WatermarkKey(flowID, triggerName)

	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		current, raw, err := r.load(ctx, key)
		if errors.Is(err, ErrNotFound) {
			current = &domain.Watermark{FlowID: flowID, TriggerName: triggerName}
			raw = nil
		} else if err != nil {
			return domain.Watermark{}, false, err
		}

		next := *current
		if !next.Advance(epochMillis) {
			return *current, false, nil
		}

		nextRaw, err := json.Marshal(next)
		if err != nil {
			return domain.Watermark{}, false, fmt.Errorf("marshal watermark: %w", err)
		}

		swapped, err := r.store.CompareAndSwap(ctx, key, raw, nextRaw)
		if err != nil {
			return domain.Watermark{}, false, fmt.Errorf("advance watermark: %w", err)
		}
		if swapped {
			return next, true, nil
		}
	}

	return domain.Watermark{}, false, fmt.Errorf("advance watermark %s: %w", key, ErrConflict)
}

// load читает и декодирует watermark; возвращает также сырое значение для CAS.
func (r *WatermarkRepo) load(ctx context.Context, key Key) (*domain.Watermark, []byte, error) {
	raw, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	var wm domain.Watermark
	if err := json.Unmarshal(raw, &wm); err != nil {
		return nil, nil, fmt.Errorf("unmarshal watermark: %w", err)
	}
	return &wm, raw, nil
}
