package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/correlator"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/polling"
	"github.com/shaiso/automata-triggers/internal/repo"
	"github.com/shaiso/automata-triggers/internal/telemetry"
	"github.com/shaiso/automata-triggers/internal/webhook"
)

// Orchestrator — TriggerOrchestrator.
//
// Выбирает движок по режиму триггера и даёт одинаковый контракт
// enable / disable / test / run для всех режимов.
type Orchestrator struct {
	registry   *Registry
	states     stateStore
	polling    *polling.Engine
	webhooks   *webhook.Manager
	correlator *correlator.Correlator
	executor   domain.RunExecutor

	publicURL string
	logger    *slog.Logger
}

// Config — конфигурация Orchestrator.
type Config struct {
	Registry   *Registry
	Store      repo.ScopedStore
	Polling    *polling.Engine
	Webhooks   *webhook.Manager
	Correlator *correlator.Correlator
	Executor   domain.RunExecutor

	// PublicURL — внешний адрес сервиса; из него строятся callback URL.
	PublicURL string

	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Orchestrator{
		registry:   registry,
		states:     stateStore{store: cfg.Store},
		polling:    cfg.Polling,
		webhooks:   cfg.Webhooks,
		correlator: cfg.Correlator,
		executor:   cfg.Executor,
		publicURL:  cfg.PublicURL,
		logger:     logger,
	}
}

// Registry возвращает реестр триггеров.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// EnableResult — итог enable. Для WEBHOOK заполнен Subscription,
// для POLLING — Watermark.
type EnableResult struct {
	Mode         domain.Mode          `json:"mode"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
	Watermark    *domain.Watermark    `json:"watermark,omitempty"`
}

// Enable включает триггер.
//
//   - POLLING: создаёт watermark = 0, если его нет; первый опрос — на следующем тике
//   - WEBHOOK: идемпотентно создаёт внешнюю подписку
//   - SYNCHRONOUS_SUBMIT: внешних действий нет, endpoint отправки начинает принимать запросы
func (o *Orchestrator) Enable(ctx context.Context, flowID uuid.UUID, name string) (EnableResult, error) {
	def, err := o.registry.Get(flowID, name)
	if err != nil {
		return EnableResult{}, err
	}

	result := EnableResult{Mode: def.Mode}

	switch def.Mode {
	case domain.ModePolling:
		wm, err := o.polling.Enable(ctx, def)
		if err != nil {
			return EnableResult{}, err
		}
		result.Watermark = &wm

	case domain.ModeWebhook:
		sub, err := o.webhooks.Enable(ctx, def, o.CallbackURL(def))
		if err != nil {
			return EnableResult{}, err
		}
		result.Subscription = sub

	case domain.ModeSubmit:
		// Внешних действий не требуется

	default:
		return EnableResult{}, fmt.Errorf("%s: %w: %q", def.Key(), ErrUnknownMode, def.Mode)
	}

	if err := o.states.set(ctx, flowID, name, true); err != nil {
		return EnableResult{}, err
	}

	o.logger.Info("trigger enabled", "flow_id", flowID, "trigger", name, "mode", def.Mode)
	return result, nil
}

// Disable выключает триггер.
//
// Для POLLING watermark остаётся на месте: повторное включение продолжит
// с той же точки. Опрос, уже взявший блокировку, доработает до конца.
func (o *Orchestrator) Disable(ctx context.Context, flowID uuid.UUID, name string) error {
	def, err := o.registry.Get(flowID, name)
	if err != nil {
		return err
	}

	// Сначала перестаём принимать события, потом снимаем подписку
	if err := o.states.set(ctx, flowID, name, false); err != nil {
		return err
	}

	switch def.Mode {
	case domain.ModePolling, domain.ModeSubmit:
		// Внешних действий не требуется

	case domain.ModeWebhook:
		if err := o.webhooks.Disable(ctx, def); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%s: %w: %q", def.Key(), ErrUnknownMode, def.Mode)
	}

	o.logger.Info("trigger disabled", "flow_id", flowID, "trigger", name, "mode", def.Mode)
	return nil
}

// Test возвращает пример payload без изменения сохранённого состояния.
// Работает и для выключенных триггеров.
func (o *Orchestrator) Test(ctx context.Context, flowID uuid.UUID, name string) ([]any, error) {
	def, err := o.registry.Get(flowID, name)
	if err != nil {
		return nil, err
	}

	switch def.Mode {
	case domain.ModePolling:
		return o.polling.Test(ctx, def)

	case domain.ModeWebhook:
		return o.webhooks.Test(ctx, def)

	case domain.ModeSubmit:
		if def.SampleData == nil {
			return []any{}, nil
		}
		return []any{def.SampleData}, nil

	default:
		return nil, fmt.Errorf("%s: %w: %q", def.Key(), ErrUnknownMode, def.Mode)
	}
}

// Poll выполняет один опрос включённого POLLING-триггера.
// Выключенный триггер пропускается без ошибки.
func (o *Orchestrator) Poll(ctx context.Context, flowID uuid.UUID, name string) (polling.Result, error) {
	def, err := o.registry.Get(flowID, name)
	if err != nil {
		return polling.Result{}, err
	}
	if def.Mode != domain.ModePolling {
		return polling.Result{}, fmt.Errorf("%s: %w", def.Key(), ErrUnsupported)
	}

	enabled, err := o.IsEnabled(ctx, flowID, name)
	if err != nil {
		return polling.Result{}, err
	}
	if !enabled {
		return polling.Result{Skipped: true}, nil
	}
	return o.polling.Poll(ctx, def)
}

// IsEnabled возвращает true, если триггер включён.
func (o *Orchestrator) IsEnabled(ctx context.Context, flowID uuid.UUID, name string) (bool, error) {
	st, err := o.states.get(ctx, flowID, name)
	if err != nil {
		return false, err
	}
	return st.Enabled, nil
}

// TriggerInfo — строка списка триггеров.
type TriggerInfo struct {
	FlowID      uuid.UUID           `json:"flow_id"`
	Name        string              `json:"name"`
	Mode        domain.Mode         `json:"mode"`
	Connector   string              `json:"connector"`
	Enabled     bool                `json:"enabled"`
	Schedule    domain.PollSchedule `json:"schedule,omitempty"`
	CallbackURL string              `json:"callback_url,omitempty"`
}

// List возвращает все зарегистрированные триггеры с состоянием.
func (o *Orchestrator) List(ctx context.Context) ([]TriggerInfo, error) {
	defs := o.registry.List()
	out := make([]TriggerInfo, 0, len(defs))

	for i := range defs {
		def := &defs[i]
		enabled, err := o.IsEnabled(ctx, def.FlowID, def.Name)
		if err != nil {
			return nil, err
		}

		info := TriggerInfo{
			FlowID:    def.FlowID,
			Name:      def.Name,
			Mode:      def.Mode,
			Connector: def.Connector.Kind(),
			Enabled:   enabled,
		}
		switch def.Mode {
		case domain.ModePolling:
			info.Schedule = def.Schedule
		case domain.ModeWebhook:
			info.CallbackURL = o.CallbackURL(def)
		case domain.ModeSubmit:
		}
		out = append(out, info)
	}
	return out, nil
}

// CallbackURL возвращает внешний адрес webhook-триггера.
func (o *Orchestrator) CallbackURL(def *domain.Definition) string {
	return o.publicURL + "/webhooks/" + def.FlowID.String() + "/" + url.PathEscape(def.Name)
}

// logTrigger возвращает логгер с полями триггера.
func (o *Orchestrator) logTrigger(def *domain.Definition) *slog.Logger {
	return telemetry.WithTrigger(o.logger, def.FlowID.String(), def.Name)
}
