package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Metrics(h.metrics),
		Logging(h.logger),
	)

	mux.HandleFunc("GET /healthz", h.Health)

	// Workflows
	mux.Handle("GET /api/v1/workflows", chain(http.HandlerFunc(h.ListWorkflows)))
	mux.Handle("POST /api/v1/workflows", chain(http.HandlerFunc(h.CreateWorkflow)))
	mux.Handle("POST /api/v1/workflows/validate", chain(http.HandlerFunc(h.ValidateWorkflow)))
	mux.Handle("GET /api/v1/workflows/{id}", chain(http.HandlerFunc(h.GetWorkflow)))
	mux.Handle("PUT /api/v1/workflows/{id}", chain(http.HandlerFunc(h.UpdateWorkflow)))
	mux.Handle("DELETE /api/v1/workflows/{id}", chain(http.HandlerFunc(h.DeleteWorkflow)))

	// Export / Import
	mux.Handle("GET /api/v1/workflows/{id}/export", chain(http.HandlerFunc(h.ExportWorkflow)))
	mux.Handle("POST /api/v1/import", chain(http.HandlerFunc(h.ImportWorkflow)))

	// Runs
	mux.Handle("POST /api/v1/execute", chain(http.HandlerFunc(h.Execute)))
	mux.Handle("POST /api/v1/workflows/{id}/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/workflows/{id}/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/cancel", chain(http.HandlerFunc(h.CancelRun)))

	// Live status
	mux.Handle("GET /api/v1/stream", chain(http.HandlerFunc(h.Stream)))
}

// Health отвечает на /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"active_runs": h.orchestrator.ActiveRunsCount(),
	})
}
