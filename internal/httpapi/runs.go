package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/marcus-qen/actionserver/internal/packages"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
)

// handleRunAction handles POST /api/actions/{package}/{action}/run. The
// request body is the raw inputs JSON; the response body is the action's
// return value (or an envelope of {result, error} if the action returned
// one). X-Action-Server-Run-Id is set before the body is written, so a
// client reading the header is guaranteed the Run row already exists.
func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	packageName := r.PathValue("package")
	// Action names are Go/Python identifiers (underscores); the spec's REST
	// surface addresses them with hyphens in the URL path, so the lookup
	// normalizes back before matching the stored name.
	actionName := strings.ReplaceAll(r.PathValue("action"), "-", "_")

	action, err := s.store.GetActionByPackageAndName(r.Context(), packageName, actionName)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown action: "+packageName+"/"+actionName)
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if !action.Enabled {
		writeJSONError(w, http.StatusNotFound, "not_found", "action is disabled: "+packageName+"/"+actionName)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "could not read request body")
		return
	}
	if len(body) == 0 {
		body = []byte("{}")
	}

	reqCtx := runengine.RequestContext{RequestID: r.Header.Get("X-Request-Id")}
	startedRun, err := s.engine.StartRun(r.Context(), action, body, reqCtx)
	var verr *runengine.ValidationError
	if errors.As(err, &verr) {
		writeJSONError(w, http.StatusUnprocessableEntity, "invalid_inputs", verr.Error())
		return
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	w.Header().Set("X-Action-Server-Run-Id", startedRun.ID)

	managed, err := s.routeManagedParams(r, action)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_context", err.Error())
		return
	}

	if err := s.engine.Execute(r.Context(), startedRun, action, managed); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if startedRun.Status == store.RunFailed {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(apiError{Error: startedRun.ErrorMessage.String, Code: "action_failed"})
		return
	}
	w.WriteHeader(http.StatusOK)
	if startedRun.Result.Valid {
		_, _ = w.Write([]byte(startedRun.Result.String))
	} else {
		_, _ = w.Write([]byte("null"))
	}
}

// routeManagedParams resolves an action's managed parameters (Secret,
// OAuth2Secret, DataSource, Request) from a reassembled x-action-context
// header chain, the one REST path that carries caller context the way the
// spec's CLI/robot invocation does. A request with no context header at
// all is treated as carrying no managed parameters rather than an error,
// so actions that declare none keep working without a caller ever sending
// the header.
func (s *Server) routeManagedParams(r *http.Request, action *store.Action) (secrets.ManagedParams, error) {
	if _, err := secrets.ReassembleHeaders(r.Header); errors.Is(err, secrets.ErrNoContextHeader) {
		return secrets.ManagedParams{}, nil
	}
	if s.decryptor == nil {
		return nil, errors.New("action context header present but no decrypt keys are configured")
	}
	tree, err := s.decryptor.Decrypt(r.Header)
	if err != nil {
		return nil, err
	}

	params, err := decodeManagedParams(action.ManagedParams)
	if err != nil {
		return nil, err
	}
	return secrets.Route(params, tree)
}

// packageManagedParamKindToRouteKind maps the package loader's stored kind
// strings (packages.ManagedParamKind: "secret", "oauth2_secret", ...) to
// the secrets package's own enum (secrets.ManagedParamKind: "Secret",
// "OAuth2Secret", ...) used by Route. The two packages declare
// independent closed sum types for the same four kinds rather than
// sharing one, so the stored JSON is translated rather than decoded
// directly into secrets.ManagedParam.
var packageManagedParamKindToRouteKind = map[string]secrets.ManagedParamKind{
	"secret":        secrets.KindSecret,
	"oauth2_secret": secrets.KindOAuth2Secret,
	"data_source":   secrets.KindDataSource,
	"request":       secrets.KindRequest,
}

func decodeManagedParams(raw string) ([]secrets.ManagedParam, error) {
	if raw == "" {
		return nil, nil
	}
	var stored []packages.ManagedParam
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return nil, err
	}
	params := make([]secrets.ManagedParam, 0, len(stored))
	for _, p := range stored {
		kind, ok := packageManagedParamKindToRouteKind[string(p.Kind)]
		if !ok {
			return nil, fmt.Errorf("httpapi: unknown managed parameter kind %q", p.Kind)
		}
		params = append(params, secrets.ManagedParam{Name: p.Name, Kind: kind})
	}
	return params, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	actionID := r.URL.Query().Get("action_id")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := s.engine.ListRuns(r.Context(), actionID, limit)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	w.Header().Set("X-Action-Server-Run-Id", run.ID)
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) lookupRun(w http.ResponseWriter, r *http.Request) (*store.Run, bool) {
	id := r.PathValue("id")
	run, err := s.engine.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "not_found", "unknown run: "+id)
		return nil, false
	}
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	names, err := s.engine.GetArtifacts(run)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleArtifactText(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("artifact_name")
	nameRegexp := r.URL.Query().Get("artifact_name_regexp")
	contents, err := s.engine.GetArtifactText(run, name, nameRegexp)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, contents)
}

func (s *Server) handleArtifactBinary(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookupRun(w, r)
	if !ok {
		return
	}
	name := r.URL.Query().Get("artifact_name")
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "artifact_name is required")
		return
	}
	data, err := s.engine.GetArtifactBinary(run, name)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
