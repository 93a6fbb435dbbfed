package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/automata-triggers/internal/correlator"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// describe возвращает описание формы или чата flow.
// GET /form/{flowId}, GET /chat/{flowId}
func (h *Handler) describe(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flowID, err := uuid.Parse(r.PathValue("flowId"))
		if err != nil {
			BadRequest(w, "invalid flow id")
			return
		}

		def, desc, err := h.orchestrator.Describe(flowID, kind)
		if HandleError(w, h.logger, err) {
			return
		}

		Success(w, DescribeResponse{FlowID: flowID, TriggerName: def.Name, SubmitDescriptor: desc})
	}
}

// submit принимает отправку формы или чата и удерживает соединение
// до ответа run, его завершения или таймаута.
// POST /form/{flowId}, POST /chat/{flowId}
//
// Таймаут можно уменьшить или увеличить параметром ?timeout=<секунды>,
// но не выше предела коррелятора.
func (h *Handler) submit(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flowID, err := uuid.Parse(r.PathValue("flowId"))
		if err != nil {
			BadRequest(w, "invalid flow id")
			return
		}

		timeout, err := parseTimeout(r.URL.Query().Get("timeout"), h.responseTimeout)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}

		raw, err := readRaw(w, r)
		if err != nil {
			BadRequest(w, err.Error())
			return
		}

		out, err := h.orchestrator.Submit(r.Context(), flowID, kind, raw, timeout)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Клиент ушёл; run продолжается, отвечать некому
			return
		}
		if HandleError(w, h.logger, err) {
			return
		}

		h.writeOutcome(w, out)
	}
}

// writeOutcome переводит итог отправки в HTTP ответ.
//
//   - ответ run: его код, заголовки и тело
//   - run завершился без ответа: 200 {"status":"NO_RESPONSE"}
//   - таймаут: 202 {"status":"TIMED_OUT"}, run продолжает работу
//   - без ожидания: 200 {"status":"RUN_STARTED"}
func (h *Handler) writeOutcome(w http.ResponseWriter, out domain.SubmitOutcome) {
	switch out.State {
	case domain.SubmitStateResponded, domain.SubmitStateRespondedEarly:
		writeRunResponse(w, out.Response)

	case domain.SubmitStateCompletedNoResponse:
		JSON(w, http.StatusOK, SubmissionResponse{Status: SubmissionNoResponse, RunID: out.RunID})

	case domain.SubmitStateTimedOut:
		JSON(w, http.StatusAccepted, SubmissionResponse{Status: SubmissionTimedOut, RunID: out.RunID})

	case domain.SubmitStateRunStarted:
		JSON(w, http.StatusOK, SubmissionResponse{Status: SubmissionRunStarted, RunID: out.RunID})

	default:
		h.logger.Error("unexpected submission state", "run_id", out.RunID, "state", out.State)
		Error(w, http.StatusInternalServerError, ErrCodeInternalError, "unexpected submission state")
	}
}

// writeRunResponse отдаёт ответ, сформированный run.
// Строковое тело отдаётся как есть, остальное кодируется в JSON.
func writeRunResponse(w http.ResponseWriter, resp *domain.Response) {
	if resp == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}

	switch body := resp.Body.(type) {
	case nil:
		w.WriteHeader(resp.StatusCode())
	case string:
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		}
		w.WriteHeader(resp.StatusCode())
		_, _ = w.Write([]byte(body))
	default:
		JSON(w, resp.StatusCode(), body)
	}
}

// parseTimeout разбирает ?timeout в секундах. Значение ограничивается
// correlator.MaxTimeout до умножения, иначе большое число переполнит Duration.
func parseTimeout(v string, fallback time.Duration) (time.Duration, error) {
	if v == "" {
		return fallback, nil
	}
	sec, err := strconv.Atoi(v)
	if err != nil || sec <= 0 {
		return 0, errors.New("invalid timeout")
	}
	return time.Duration(min(sec, int(correlator.MaxTimeout/time.Second))) * time.Second, nil
}
