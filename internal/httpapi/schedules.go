package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marcus-qen/actionserver/internal/store"
)

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	scs, err := s.store.ListSchedules(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scs)
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetSchedule(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown schedule: "+r.PathValue("id"))
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// handleCreateSchedule decodes the request body directly into a
// store.Schedule, matching the teacher's RegisterWebhook decode-the-wire-
// shape-into-the-stored-shape idiom rather than an intermediate DTO.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var sc store.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request payload")
		return
	}
	if sc.Name == "" || sc.ActionID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "name and action_id are required")
		return
	}
	if sc.InputsJSON == "" {
		sc.InputsJSON = "{}"
	}
	if sc.ExecutionMode == "" {
		sc.ExecutionMode = "run"
	}
	if sc.MaxConcurrent == 0 {
		sc.MaxConcurrent = 1
	}
	if err := s.store.InsertSchedule(r.Context(), &sc); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSchedule(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown schedule: "+id)
		return
	}
	if err := s.store.DeleteSchedule(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
