package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Metrics(),
		Logging(h.logger),
	)

	// Triggers
	mux.Handle("GET /api/v1/triggers", chain(http.HandlerFunc(h.ListTriggers)))
	mux.Handle("POST /api/v1/flows/{flowId}/triggers/{name}/enable", chain(http.HandlerFunc(h.EnableTrigger)))
	mux.Handle("POST /api/v1/flows/{flowId}/triggers/{name}/disable", chain(http.HandlerFunc(h.DisableTrigger)))
	mux.Handle("POST /api/v1/flows/{flowId}/triggers/{name}/test", chain(http.HandlerFunc(h.TestTrigger)))

	// Webhooks
	mux.Handle("POST /webhooks/{flowId}/{name}", chain(http.HandlerFunc(h.ReceiveWebhook)))

	// Forms & chat
	mux.Handle("GET /form/{flowId}", chain(h.describe("form")))
	mux.Handle("POST /form/{flowId}", chain(h.submit("form")))
	mux.Handle("GET /chat/{flowId}", chain(h.describe("chat")))
	mux.Handle("POST /chat/{flowId}", chain(h.submit("chat")))

	// Runs
	mux.Handle("POST /api/v1/runs/{id}/respond", chain(http.HandlerFunc(h.RespondRun)))
	mux.Handle("POST /api/v1/runs/{id}/complete", chain(http.HandlerFunc(h.CompleteRun)))
	mux.Handle("GET /api/v1/runs/{id}/correlation", chain(http.HandlerFunc(h.GetCorrelation)))
}
