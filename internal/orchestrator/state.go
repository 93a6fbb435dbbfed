package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/repo"
)

// TriggerState — включён ли триггер. Хранится в scope flow под ключом
// "enabled:{flowId}:{triggerName}"; отсутствие записи означает "выключен".
type TriggerState struct {
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// stateKey возвращает ключ состояния триггера.
func stateKey(flowID uuid.UUID, name string) repo.Key {
	return repo.Key{
		FlowID: flowID,
		Scope:  repo.ScopeFlow,
		Name:   "enabled:" + domain.TriggerKey(flowID, name),
	}
}

// stateStore читает и пишет TriggerState.
type stateStore struct {
	store repo.ScopedStore
}

func (s stateStore) get(ctx context.Context, flowID uuid.UUID, name string) (TriggerState, error) {
	raw, err := s.store.Get(ctx, stateKey(flowID, name))
	if errors.Is(err, repo.ErrNotFound) {
		return TriggerState{}, nil
	}
	if err != nil {
		return TriggerState{}, fmt.Errorf("read trigger state: %w", err)
	}

	var st TriggerState
	if err := json.Unmarshal(raw, &st); err != nil {
		return TriggerState{}, fmt.Errorf("unmarshal trigger state: %w", err)
	}
	return st, nil
}

func (s stateStore) set(ctx context.Context, flowID uuid.UUID, name string, enabled bool) error {
	raw, err := json.Marshal(TriggerState{Enabled: enabled, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal trigger state: %w", err)
	}
	if err := s.store.Put(ctx, stateKey(flowID, name), raw); err != nil {
		return fmt.Errorf("write trigger state: %w", err)
	}
	return nil
}
