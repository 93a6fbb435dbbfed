package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Run — экземпляр выполнения flow, запущенный триггером.
//
// Run создаётся когда:
// - PollingEngine отправляет новый элемент
// - приходит webhook
// - пользователь отправляет форму или сообщение в чат
//
// Сам движок выполнения внешний; здесь хранится только то,
// что нужно слою триггеров.
type Run struct {
	// ID — уникальный идентификатор run (он же RunHandle).
	ID uuid.UUID `json:"id"`

	// FlowID — ссылка на flow, который выполняется.
	FlowID uuid.UUID `json:"flow_id"`

	// TriggerName — имя триггера, запустившего run.
	TriggerName string `json:"trigger_name"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// Payload — payload триггера (элемент, событие или отправка формы).
	Payload any `json:"payload,omitempty"`

	// Synchronous — вызывающий ждёт ответа через коррелятор.
	Synchronous bool `json:"synchronous,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// IsFinished возвращает true, если run завершён (в любом статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkSucceeded переводит run в статус SUCCEEDED.
func (r *Run) MarkSucceeded() {
	now := time.Now()
	r.Status = RunStatusSucceeded
	r.FinishedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.FinishedAt = &now
	r.Error = err
}

// StartRequest — запрос к исполнителю на запуск run.
type StartRequest struct {
	// RunID — заранее выделенный идентификатор. Коррелятор регистрирует
	// токен до старта run, чтобы ранний ответ не потерялся.
	// Если uuid.Nil — исполнитель выделяет идентификатор сам.
	RunID uuid.UUID

	FlowID      uuid.UUID
	TriggerName string
	Payload     any
	Synchronous bool
}

// RunExecutor — внешний движок выполнения flow.
//
// Start только ставит run в очередь исполнения и не ждёт его завершения.
type RunExecutor interface {
	Start(ctx context.Context, req StartRequest) (RunHandle, error)
}
