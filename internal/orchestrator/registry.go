package orchestrator

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// Registry — реестр определений триггеров.
//
// Передаётся оркестратору при создании. Хранит копии определений,
// поэтому изменение исходного значения после Register ни на что не влияет.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]domain.Definition
}

// NewRegistry создаёт пустой Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]domain.Definition)}
}

// Validate проверяет определение триггера.
func Validate(def domain.Definition) error {
	if def.Name == "" || def.FlowID == uuid.Nil {
		return fmt.Errorf("%w: name and flow_id are required", ErrInvalidDefinition)
	}
	if def.Connector == nil {
		return fmt.Errorf("%s: %w", def.Key(), ErrMissingConnector)
	}

	var ok bool
	switch def.Mode {
	case domain.ModePolling:
		_, ok = def.Connector.(domain.PollingConnector)
	case domain.ModeWebhook:
		_, ok = def.Connector.(domain.WebhookConnector)
	case domain.ModeSubmit:
		_, ok = def.Connector.(domain.SubmitConnector)
	default:
		return fmt.Errorf("%s: %w: %q", def.Key(), ErrUnknownMode, def.Mode)
	}
	if !ok {
		return fmt.Errorf("%s: %w: %s cannot serve %s", def.Key(), ErrMissingConnector, def.Connector.Kind(), def.Mode)
	}
	return nil
}

// Register проверяет и добавляет определение.
func (r *Registry) Register(def domain.Definition) error {
	if err := Validate(def); err != nil {
		return err
	}

	def.Props = maps.Clone(def.Props)

	r.mu.Lock()
	defer r.mu.Unlock()

	key := def.Key()
	if _, exists := r.defs[key]; exists {
		return fmt.Errorf("%s: %w", key, ErrDuplicateTrigger)
	}
	r.defs[key] = def
	return nil
}

// Get возвращает копию определения.
func (r *Registry) Get(flowID uuid.UUID, name string) (*domain.Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.defs[domain.TriggerKey(flowID, name)]
	if !ok {
		return nil, fmt.Errorf("%s: %w", domain.TriggerKey(flowID, name), ErrTriggerNotFound)
	}
	return &def, nil
}

// FindSubmit возвращает триггер синхронной отправки flow заданного вида
// ("form" или "chat"). У flow может быть только один такой триггер каждого вида.
func (r *Registry) FindSubmit(flowID uuid.UUID, kind string) (*domain.Definition, error) {
	for _, def := range r.List() {
		if def.FlowID != flowID || def.Mode != domain.ModeSubmit {
			continue
		}
		if def.Connector.Kind() == kind {
			return &def, nil
		}
	}
	return nil, fmt.Errorf("%s trigger of flow %s: %w", kind, flowID, ErrTriggerNotFound)
}

// List возвращает все определения, упорядоченные по ключу.
func (r *Registry) List() []domain.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// ByMode возвращает определения одного режима.
func (r *Registry) ByMode(mode domain.Mode) []domain.Definition {
	var out []domain.Definition
	for _, def := range r.List() {
		if def.Mode == mode {
			out = append(out, def)
		}
	}
	return out
}
