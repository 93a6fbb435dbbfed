package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/domain"
	"github.com/shaiso/automata-triggers/internal/orchestrator"
)

// Trigger DTOs

// TriggerResponse — строка списка триггеров.
type TriggerResponse = orchestrator.TriggerInfo

// EnableResponse — ответ на enable.
type EnableResponse struct {
	FlowID       uuid.UUID            `json:"flow_id"`
	Name         string               `json:"name"`
	Mode         domain.Mode          `json:"mode"`
	Enabled      bool                 `json:"enabled"`
	Subscription *domain.Subscription `json:"subscription,omitempty"`
	Watermark    *int64               `json:"watermark,omitempty"`
}

// EnableFromResult конвертирует orchestrator.EnableResult в EnableResponse.
func EnableFromResult(flowID uuid.UUID, name string, res orchestrator.EnableResult) EnableResponse {
	resp := EnableResponse{
		FlowID:       flowID,
		Name:         name,
		Mode:         res.Mode,
		Enabled:      true,
		Subscription: res.Subscription,
	}
	if res.Watermark != nil {
		wm := res.Watermark.LastFetchEpochMillis
		resp.Watermark = &wm
	}
	return resp
}

// TestResponse — ответ на test.
type TestResponse struct {
	Samples []any `json:"samples"`
}

// Webhook DTOs

// WebhookAcceptedResponse — ответ на принятый webhook.
type WebhookAcceptedResponse struct {
	RunIDs []uuid.UUID `json:"run_ids"`
}

// Submission DTOs

// SubmissionStatus — статус отправки без ответа run.
type SubmissionStatus string

const (
	SubmissionRunStarted SubmissionStatus = "RUN_STARTED"
	SubmissionNoResponse SubmissionStatus = "NO_RESPONSE"
	SubmissionTimedOut   SubmissionStatus = "TIMED_OUT"
)

// SubmissionResponse — ответ формы/чата, когда run не вернул ответа.
type SubmissionResponse struct {
	Status SubmissionStatus `json:"status"`
	RunID  uuid.UUID        `json:"run_id"`
}

// DescribeResponse — описание формы/чата.
type DescribeResponse struct {
	FlowID      uuid.UUID `json:"flow_id"`
	TriggerName string    `json:"trigger_name"`
	domain.SubmitDescriptor
}

// Run DTOs

// RespondRequest — ответ run, который нужно вернуть отправителю.
type RespondRequest struct {
	Status  int               `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`
}

// ToDomain конвертирует RespondRequest в domain.Response.
func (r RespondRequest) ToDomain() domain.Response {
	return domain.Response{Status: r.Status, Headers: r.Headers, Body: r.Body}
}

// ResolutionResponse — итог respond / complete.
type ResolutionResponse struct {
	RunID     uuid.UUID        `json:"run_id"`
	Accepted  bool             `json:"accepted"`
	Responded bool             `json:"responded"`
	Response  *domain.Response `json:"response,omitempty"`
	At        time.Time        `json:"at"`
}
