package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/correlator"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/repo"
)

// Normalize превращает сырой входящий payload в события для запуска.
// Для POLLING не поддерживается: элементы приходят из fetch, а не извне.
func (o *Orchestrator) Normalize(ctx context.Context, def *domain.Definition, raw domain.RawPayload) ([]domain.Event, error) {
	switch def.Mode {
	case domain.ModeWebhook:
		return o.webhooks.Run(ctx, def, raw)

	case domain.ModeSubmit:
		conn := def.Connector.(domain.SubmitConnector)
		return conn.Normalize(ctx, o.submitContext(def), raw)

	case domain.ModePolling:
		return nil, fmt.Errorf("%s: %w", def.Key(), ErrUnsupported)

	default:
		return nil, fmt.Errorf("%s: %w: %q", def.Key(), ErrUnknownMode, def.Mode)
	}
}

// Run принимает входящий webhook: нормализует payload и запускает
// по одному run на каждое событие.
func (o *Orchestrator) Run(ctx context.Context, flowID uuid.UUID, name string, raw domain.RawPayload) ([]domain.RunHandle, error) {
	def, err := o.acceptInbound(ctx, flowID, name, domain.ModeWebhook)
	if err != nil {
		return nil, err
	}

	events, err := o.Normalize(ctx, def, raw)
	if err != nil {
		return nil, err
	}

	logger := o.logTrigger(def)
	handles := make([]domain.RunHandle, 0, len(events))
	duplicates := 0
	for _, event := range events {
		claimed, release, err := o.webhooks.ClaimEvent(ctx, def, event)
		if err != nil {
			return handles, err
		}
		if !claimed {
			duplicates++
			continue
		}

		handle, err := o.executor.Start(ctx, domain.StartRequest{
			FlowID:      def.FlowID,
			TriggerName: def.Name,
			Payload:     event,
		})
		if err != nil {
			// Отметка снимается, чтобы повтор провайдера запустил run
			if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
				logger.Warn("release dedup key failed", "error", rerr)
			}
			logger.Error("start run for webhook event failed", "started", len(handles), "error", err)
			return handles, fmt.Errorf("start run: %w", err)
		}
		handles = append(handles, handle)
	}

	logger.Info("webhook accepted", "events", len(events), "duplicates", duplicates)
	return handles, nil
}

// Describe возвращает описание формы или чата flow для отрисовки.
func (o *Orchestrator) Describe(flowID uuid.UUID, kind string) (*domain.Definition, domain.SubmitDescriptor, error) {
	def, err := o.registry.FindSubmit(flowID, kind)
	if err != nil {
		return nil, domain.SubmitDescriptor{}, err
	}
	conn := def.Connector.(domain.SubmitConnector)
	return def, conn.Describe(o.submitContext(def)), nil
}

// Submit принимает отправку формы или чата.
//
// Если триггер ждёт ответа, вызов блокируется в корреляторе до ответа run,
// его завершения или таймаута. Иначе run запускается и сразу возвращается
// RUN_STARTED.
func (o *Orchestrator) Submit(ctx context.Context, flowID uuid.UUID, kind string, raw domain.RawPayload, timeout time.Duration) (domain.SubmitOutcome, error) {
	def, desc, err := o.Describe(flowID, kind)
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	if _, err := o.acceptInbound(ctx, flowID, def.Name, domain.ModeSubmit); err != nil {
		return domain.SubmitOutcome{}, err
	}

	events, err := o.Normalize(ctx, def, raw)
	if err != nil {
		return domain.SubmitOutcome{}, err
	}
	var payload any
	if len(events) > 0 {
		payload = events[0]
	}

	if !desc.WaitForResponse {
		handle, err := o.executor.Start(ctx, domain.StartRequest{
			FlowID:      def.FlowID,
			TriggerName: def.Name,
			Payload:     payload,
		})
		if err != nil {
			return domain.SubmitOutcome{}, fmt.Errorf("start run: %w", err)
		}
		return domain.SubmitOutcome{RunID: handle, State: domain.SubmitStateRunStarted}, nil
	}

	return o.correlator.Submit(ctx, correlator.SubmitRequest{
		FlowID:      def.FlowID,
		TriggerName: def.Name,
		Payload:     payload,
		Timeout:     timeout,
	})
}

// acceptInbound проверяет, что триггер существует, нужного режима и включён.
func (o *Orchestrator) acceptInbound(ctx context.Context, flowID uuid.UUID, name string, mode domain.Mode) (*domain.Definition, error) {
	def, err := o.registry.Get(flowID, name)
	if err != nil {
		return nil, err
	}
	if def.Mode != mode {
		return nil, fmt.Errorf("%s: %w", def.Key(), ErrUnsupported)
	}

	enabled, err := o.IsEnabled(ctx, flowID, name)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, fmt.Errorf("%s: %w", def.Key(), ErrTriggerDisabled)
	}
	return def, nil
}

func (o *Orchestrator) submitContext(def *domain.Definition) domain.TriggerContext {
	return domain.TriggerContext{
		FlowID:      def.FlowID,
		TriggerName: def.Name,
		Props:       def.Props,
		Store:       repo.Bind(o.states.store, def.FlowID, repo.ScopeFlow, "connector:"+def.Name+":"),
	}
}
