package httpapi

import (
	"net/http"
	"strconv"
)

func (s *Server) handleListWorkItems(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue")
	state := r.URL.Query().Get("state")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	items, err := s.queue.List(r.Context(), queueName, state, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleWorkItemStats(w http.ResponseWriter, r *http.Request) {
	queueName := r.URL.Query().Get("queue")
	if queueName == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "queue is required")
		return
	}
	stats, err := s.queue.Stats(r.Context(), queueName)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRequeueWorkItem(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.queue.Requeue(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}
