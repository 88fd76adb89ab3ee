package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"

	"github.com/marcus-qen/actionserver/internal/store"
	"github.com/marcus-qen/actionserver/internal/triggers"
)

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	trigs, err := s.store.ListTriggers(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trigs)
}

func (s *Server) handleGetTrigger(w http.ResponseWriter, r *http.Request) {
	trg, err := s.store.GetTrigger(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown trigger: "+r.PathValue("id"))
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, trg)
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var trg store.Trigger
	if err := json.NewDecoder(r.Body).Decode(&trg); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request payload")
		return
	}
	if trg.Name == "" || trg.ActionID == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "name and action_id are required")
		return
	}
	if trg.ExecutionMode == "" {
		trg.ExecutionMode = "run"
	}
	if trg.InputsTemplateJSON == "" {
		trg.InputsTemplateJSON = "{}"
	}
	if err := s.store.InsertTrigger(r.Context(), &trg); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, trg)
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetTrigger(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown trigger: "+id)
		return
	}
	if err := s.store.DeleteTrigger(r.Context(), id); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWebhook handles POST /webhooks/{id}, the inbound delivery path for
// a registered Trigger. It is intentionally not gated by withAPIKey: the
// trigger's own webhook_secret (verified inside HandleWebhook) is the
// caller's credential.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}
	sourceIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	inv, err := s.triggers.HandleWebhook(r.Context(), id, body, r.Header, sourceIP)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown trigger: "+id)
		return
	case errors.Is(err, triggers.ErrDisabled):
		writeJSONError(w, http.StatusNotFound, "not_found", "trigger is disabled: "+id)
		return
	case errors.Is(err, triggers.ErrBadSignature):
		writeJSONError(w, http.StatusUnauthorized, "bad_signature", err.Error())
		return
	case errors.Is(err, triggers.ErrRateLimited):
		writeJSONError(w, http.StatusTooManyRequests, "rate_limited", err.Error())
		return
	case err != nil:
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, inv)
}
