package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shaiso/automata-triggers/internal/connectors"
	"github.com/shaiso/automata-triggers/internal/domain"
)

// ReceiveWebhook принимает событие провайдера на callback URL.
// POST /webhooks/{flowId}/{name}
//
// Если у триггера в props задан secret, тело должно быть подписано
// HMAC-SHA256 в заголовке X-Automata-Signature.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	flowID, name, ok := triggerPath(w, r)
	if !ok {
		return
	}

	raw, err := readRaw(w, r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}

	def, err := h.orchestrator.Registry().Get(flowID, name)
	if HandleError(w, h.logger, err) {
		return
	}
	if secret := connectors.Secret(def.Props); secret != "" {
		if err := connectors.VerifySignature(secret, raw.Body, r.Header.Get(connectors.SignatureHeader)); err != nil {
			h.logger.Warn("webhook signature rejected", "flow_id", flowID, "trigger", name)
			HandleError(w, h.logger, err)
			return
		}
	}

	handles, err := h.orchestrator.Run(r.Context(), flowID, name, raw)
	if HandleError(w, h.logger, err) {
		return
	}

	Success(w, WebhookAcceptedResponse{RunIDs: handles})
}

// readRaw читает тело и метаданные запроса в RawPayload.
func readRaw(w http.ResponseWriter, r *http.Request) (domain.RawPayload, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.RawPayload{}, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return domain.RawPayload{}, fmt.Errorf("read request body: %w", err)
	}

	return domain.RawPayload{
		Method:  r.Method,
		Headers: r.Header.Clone(),
		Query:   r.URL.Query(),
		Body:    body,
	}, nil
}
