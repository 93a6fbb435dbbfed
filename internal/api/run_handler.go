package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/correlator"
)

// RespondRun фиксирует ответ run для ожидающего отправителя.
// POST /api/v1/runs/{id}/respond
//
// Идемпотентен: побеждает первый ответ, повторные возвращают
// сохранённое разрешение с accepted=false.
func (h *Handler) RespondRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}
	if req.Status != 0 && (req.Status < 100 || req.Status > 599) {
		BadRequest(w, "invalid status code")
		return
	}

	res, first, err := h.correlator.Resolve(r.Context(), runID, req.ToDomain())
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, resolutionFrom(res, first))
}

// CompleteRun сообщает, что run завершился.
// POST /api/v1/runs/{id}/complete
//
// Если run уже ответил, ничего не меняет.
func (h *Handler) CompleteRun(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	res, first, err := h.correlator.Complete(r.Context(), runID)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, resolutionFrom(res, first))
}

// GetCorrelation возвращает состояние корреляции run для аудита.
// GET /api/v1/runs/{id}/correlation
func (h *Handler) GetCorrelation(w http.ResponseWriter, r *http.Request) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	record, err := h.correlator.Record(r.Context(), runID)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, record)
}

func resolutionFrom(res correlator.Resolution, first bool) ResolutionResponse {
	return ResolutionResponse{
		RunID:     res.RunID,
		Accepted:  first,
		Responded: res.Responded,
		Response:  res.Response,
		At:        res.At,
	}
}
