package api

import (
	"net/http"

	"github.com/google/uuid"
)

// ListTriggers возвращает все зарегистрированные триггеры с состоянием.
// GET /api/v1/triggers
func (h *Handler) ListTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := h.orchestrator.List(r.Context())
	if HandleError(w, h.logger, err) {
		return
	}

	List(w, triggers, len(triggers))
}

// EnableTrigger включает триггер.
// POST /api/v1/flows/{flowId}/triggers/{name}/enable
func (h *Handler) EnableTrigger(w http.ResponseWriter, r *http.Request) {
	flowID, name, ok := triggerPath(w, r)
	if !ok {
		return
	}

	res, err := h.orchestrator.Enable(r.Context(), flowID, name)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, EnableFromResult(flowID, name, res))
}

// DisableTrigger выключает триггер.
// POST /api/v1/flows/{flowId}/triggers/{name}/disable
func (h *Handler) DisableTrigger(w http.ResponseWriter, r *http.Request) {
	flowID, name, ok := triggerPath(w, r)
	if !ok {
		return
	}

	if HandleError(w, h.logger, h.orchestrator.Disable(r.Context(), flowID, name)) {
		return
	}

	Success(w, map[string]any{"flow_id": flowID, "name": name, "enabled": false})
}

// TestTrigger возвращает пример payload без изменения состояния.
// POST /api/v1/flows/{flowId}/triggers/{name}/test
func (h *Handler) TestTrigger(w http.ResponseWriter, r *http.Request) {
	flowID, name, ok := triggerPath(w, r)
	if !ok {
		return
	}

	samples, err := h.orchestrator.Test(r.Context(), flowID, name)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, TestResponse{Samples: samples})
}

// triggerPath разбирает {flowId} и {name} из пути.
func triggerPath(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	flowID, err := uuid.Parse(r.PathValue("flowId"))
	if err != nil {
		BadRequest(w, "invalid flow id")
		return uuid.Nil, "", false
	}
	name := r.PathValue("name")
	if name == "" {
		BadRequest(w, "trigger name is required")
		return uuid.Nil, "", false
	}
	return flowID, name, true
}
