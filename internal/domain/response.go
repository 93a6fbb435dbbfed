package domain

import (
	"time"
)

// Response — ответ, сформированный шагом "respond" внутри run.
type Response struct {
	// Status — HTTP-код ответа. 0 означает 200.
	Status int `json:"status,omitempty"`

	// Headers — дополнительные заголовки ответа.
	Headers map[string]string `json:"headers,omitempty"`

	// Body — тело ответа (сериализуется в JSON).
	Body any `json:"body,omitempty"`
}

// StatusCode возвращает HTTP-код с учётом значения по умолчанию.
func (r *Response) StatusCode() int {
	if r == nil || r.Status == 0 {
		return 200
	}
	return r.Status
}

// SubmitOutcome — итог синхронной отправки, возвращаемый HTTP-слою.
// Таймаут и отсутствие ответа — данные, а не ошибки.
type SubmitOutcome struct {
	RunID RunHandle   `json:"run_id"`
	State SubmitState `json:"status"`

	// Response заполнен только для RESPONDED и RESPONDED_EARLY.
	Response *Response `json:"response,omitempty"`
}

// Responded возвращает true, если run вернул ответ.
func (o SubmitOutcome) Responded() bool {
	return o.State == SubmitStateResponded || o.State == SubmitStateRespondedEarly
}

// CorrelationRecord — состояние токена корреляции для аудита.
type CorrelationRecord struct {
	RunID      RunHandle   `json:"run_id"`
	State      SubmitState `json:"state"`
	CreatedAt  time.Time   `json:"created_at"`
	Deadline   time.Time   `json:"deadline"`
	ResolvedAt *time.Time  `json:"resolved_at,omitempty"`
	Response   *Response   `json:"response,omitempty"`
}
