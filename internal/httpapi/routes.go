package httpapi

import "net/http"

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /openapi.json", s.withAPIKey(s.handleOpenAPI))
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /api/actions/{package}/{action}/run", s.withAPIKey(s.handleRunAction))

	mux.HandleFunc("GET /api/runs", s.withAPIKey(s.handleListRuns))
	mux.HandleFunc("GET /api/runs/{id}", s.withAPIKey(s.handleGetRun))
	mux.HandleFunc("GET /api/runs/{id}/artifacts", s.withAPIKey(s.handleListArtifacts))
	mux.HandleFunc("GET /api/runs/{id}/artifacts/text-content", s.withAPIKey(s.handleArtifactText))
	mux.HandleFunc("GET /api/runs/{id}/artifacts/binary-content", s.withAPIKey(s.handleArtifactBinary))

	mux.HandleFunc("GET /api/schedules", s.withAPIKey(s.handleListSchedules))
	mux.HandleFunc("POST /api/schedules", s.withAPIKey(s.handleCreateSchedule))
	mux.HandleFunc("GET /api/schedules/{id}", s.withAPIKey(s.handleGetSchedule))
	mux.HandleFunc("DELETE /api/schedules/{id}", s.withAPIKey(s.handleDeleteSchedule))

	mux.HandleFunc("GET /api/triggers", s.withAPIKey(s.handleListTriggers))
	mux.HandleFunc("POST /api/triggers", s.withAPIKey(s.handleCreateTrigger))
	mux.HandleFunc("GET /api/triggers/{id}", s.withAPIKey(s.handleGetTrigger))
	mux.HandleFunc("DELETE /api/triggers/{id}", s.withAPIKey(s.handleDeleteTrigger))
	mux.HandleFunc("POST /webhooks/{id}", s.handleWebhook)

	mux.HandleFunc("GET /api/work-items", s.withAPIKey(s.handleListWorkItems))
	mux.HandleFunc("GET /api/work-items/stats", s.withAPIKey(s.handleWorkItemStats))
	mux.HandleFunc("POST /api/work-items/{id}/requeue", s.withAPIKey(s.handleRequeueWorkItem))

	if s.cfg.ShutdownAPIEnabled {
		mux.HandleFunc("POST /api/shutdown", s.withAPIKey(s.handleShutdown))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
