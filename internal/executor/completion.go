package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/mq"
	"github.com/shaiso/automata-triggers/internal/repo"
)

// CompleteFunc освобождает синхронную отправку завершённого run.
// Реализация: correlator.Correlator.Complete.
type CompleteFunc func(ctx context.Context, runID uuid.UUID) error

// CompletionHandler обрабатывает run.completed.
type CompletionHandler struct {
	runs       RunStore
	onComplete CompleteFunc
	logger     *slog.Logger
}

// NewCompletionHandler создаёт CompletionHandler.
func NewCompletionHandler(runs RunStore, onComplete CompleteFunc, logger *slog.Logger) *CompletionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionHandler{runs: runs, onComplete: onComplete, logger: logger}
}

// Handle — mq.Handler для очереди runs.completed.
func (h *CompletionHandler) Handle(ctx context.Context, d *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.RunCompletedPayload](&d.Message)
	if err != nil {
		// Битое сообщение не исправится повтором
		h.logger.Error("invalid run.completed payload", "message_id", d.Message.ID, "error", err)
		return nil
	}
	return h.Complete(ctx, payload)
}

// Complete фиксирует финальный статус run. Повторная доставка безопасна.
func (h *CompletionHandler) Complete(ctx context.Context, payload mq.RunCompletedPayload) error {
	logger := h.logger.With("run_id", payload.RunID)

	run, err := h.runs.GetByID(ctx, payload.RunID)
	if errors.Is(err, repo.ErrNotFound) {
		logger.Warn("run.completed for unknown run")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}

	if !run.IsFinished() {
		switch domain.RunStatus(payload.Status) {
		case domain.RunStatusSucceeded:
			run.MarkSucceeded()
		case domain.RunStatusFailed:
			run.MarkFailed(payload.Error)
		default:
			logger.Error("run.completed with invalid status", "status", payload.Status)
			return nil
		}
		if err := h.runs.Finish(ctx, run); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		logger.Info("run finished", "status", run.Status)
	}

	if run.Synchronous && h.onComplete != nil {
		if err := h.onComplete(ctx, run.ID); err != nil {
			return fmt.Errorf("complete correlation: %w", err)
		}
	}
	return nil
}
