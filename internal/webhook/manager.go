package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/repo"
	"github.com/shaiso/automata-triggers/internal/telemetry"
)

// Manager — WebhookLifecycleManager.
type Manager struct {
	store         repo.ScopedStore
	subscriptions *repo.SubscriptionRepo
	logger        *slog.Logger

	// enableMu сериализует Enable одного триггера внутри процесса,
	// чтобы два параллельных Enable не вызвали хук дважды.
	enableMu sync.Map // trigger key → *sync.Mutex
}

// Config — конфигурация Manager.
type Config struct {
	Store  repo.ScopedStore
	Logger *slog.Logger
}

// New создаёт новый Manager.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:         cfg.Store,
		subscriptions: repo.NewSubscriptionRepo(cfg.Store),
		logger:        logger,
	}
}

// Enable гарантирует наличие внешней подписки.
//
// Если запись уже есть, она возвращается без вызова провайдера.
// Иначе вызывается OnEnable с callbackURL и результат сохраняется.
// При ошибке хука ничего не сохраняется.
func (m *Manager) Enable(ctx context.Context, def *domain.Definition, callbackURL string) (*domain.Subscription, error) {
	conn, err := webhookConnector(def)
	if err != nil {
		return nil, err
	}

	mu := m.triggerMutex(def.Key())
	mu.Lock()
	defer mu.Unlock()

	existing, err := m.subscriptions.Get(ctx, def.FlowID, def.Name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("read subscription: %w", err)
	}

	logger := telemetry.WithTrigger(m.logger, def.FlowID.String(), def.Name)

	tc := m.triggerContext(def, callbackURL)
	info, err := conn.OnEnable(ctx, tc)
	if err != nil {
		telemetry.WebhookHookCalls.WithLabelValues("enable", telemetry.HookResultError).Inc()
		logger.Error("enable hook failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSubscribe, err)
	}
	telemetry.WebhookHookCalls.WithLabelValues("enable", telemetry.HookResultOK).Inc()

	sub := &domain.Subscription{
		FlowID:      def.FlowID,
		TriggerName: def.Name,
		ExternalID:  info.ExternalID,
		Metadata:    info.Metadata,
		CallbackURL: callbackURL,
		CreatedAt:   time.Now().UTC(),
	}

	err = m.subscriptions.Create(ctx, sub)
	if errors.Is(err, repo.ErrAlreadyExists) {
		// Другой процесс успел раньше: его запись главная, нашу подписку снимаем
		logger.Warn("subscription created concurrently, rolling back duplicate", "external_id", info.ExternalID)
		if hookErr := conn.OnDisable(ctx, tc, *sub); hookErr != nil {
			logger.Error("rollback of duplicate subscription failed", "external_id", info.ExternalID, "error", hookErr)
		}
		return m.subscriptions.Get(ctx, def.FlowID, def.Name)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("webhook subscription created", "external_id", sub.ExternalID)
	return sub, nil
}

// Disable снимает внешнюю подписку.
//
// Без записи — no-op. Ошибка провайдера логируется, запись удаляется в любом
// случае, чтобы disable не зависал навсегда.
func (m *Manager) Disable(ctx context.Context, def *domain.Definition) error {
	conn, err := webhookConnector(def)
	if err != nil {
		return err
	}

	sub, err := m.subscriptions.Get(ctx, def.FlowID, def.Name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read subscription: %w", err)
	}

	logger := telemetry.WithTrigger(m.logger, def.FlowID.String(), def.Name)

	if err := conn.OnDisable(ctx, m.triggerContext(def, sub.CallbackURL), *sub); err != nil {
		telemetry.WebhookHookCalls.WithLabelValues("disable", telemetry.HookResultError).Inc()
		logger.Warn("disable hook failed, removing local subscription anyway",
			"external_id", sub.ExternalID,
			"error", err,
		)
	} else {
		telemetry.WebhookHookCalls.WithLabelValues("disable", telemetry.HookResultOK).Inc()
	}

	if err := m.subscriptions.Delete(ctx, def.FlowID, def.Name); err != nil {
		return err
	}

	logger.Info("webhook subscription removed", "external_id", sub.ExternalID)
	return nil
}

// Subscription возвращает текущую подписку или repo.ErrNotFound.
func (m *Manager) Subscription(ctx context.Context, def *domain.Definition) (*domain.Subscription, error) {
	return m.subscriptions.Get(ctx, def.FlowID, def.Name)
}

// Run передаёт сырой payload коннектору и возвращает события для запуска.
// Дедупликацию, если она нужна, делает коннектор.
func (m *Manager) Run(ctx context.Context, def *domain.Definition, raw domain.RawPayload) ([]domain.Event, error) {
	conn, err := webhookConnector(def)
	if err != nil {
		return nil, err
	}

	events, err := conn.Normalize(ctx, m.triggerContext(def, ""), raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNormalize, err)
	}
	return events, nil
}

// ClaimEvent отмечает событие перед запуском run, если коннектор
// отбрасывает повторные доставки (domain.EventClaimer). Иначе событие
// проходит всегда. release нужно вызвать, если run запустить не удалось.
func (m *Manager) ClaimEvent(ctx context.Context, def *domain.Definition, event domain.Event) (bool, func(context.Context) error, error) {
	claimer, ok := def.Connector.(domain.EventClaimer)
	if !ok {
		return true, func(context.Context) error { return nil }, nil
	}
	claimed, release, err := claimer.ClaimEvent(ctx, m.triggerContext(def, ""), event)
	if err != nil {
		return false, nil, fmt.Errorf("%s: claim event: %w", def.Key(), err)
	}
	return claimed, release, nil
}

// Test нормализует SampleData без обращения к провайдеру и хранилищу подписок.
func (m *Manager) Test(ctx context.Context, def *domain.Definition) ([]any, error) {
	if _, err := webhookConnector(def); err != nil {
		return nil, err
	}
	if def.SampleData == nil {
		return []any{}, nil
	}
	return []any{def.SampleData}, nil
}

func (m *Manager) triggerContext(def *domain.Definition, callbackURL string) domain.TriggerContext {
	return domain.TriggerContext{
		FlowID:      def.FlowID,
		TriggerName: def.Name,
		Props:       def.Props,
		Store:       repo.Bind(m.store, def.FlowID, repo.ScopeFlow, "connector:"+def.Name+":"),
		CallbackURL: callbackURL,
	}
}

func (m *Manager) triggerMutex(key string) *sync.Mutex {
	mu, _ := m.enableMu.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func webhookConnector(def *domain.Definition) (domain.WebhookConnector, error) {
	if def.Mode != domain.ModeWebhook {
		return nil, fmt.Errorf("%s: %w", def.Key(), ErrNotWebhook)
	}
	conn, ok := def.Connector.(domain.WebhookConnector)
	if !ok {
		return nil, fmt.Errorf("%s: %w", def.Key(), ErrNotWebhook)
	}
	return conn, nil
}
