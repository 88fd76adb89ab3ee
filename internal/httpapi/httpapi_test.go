package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/mcpbridge"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/procpool"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/scheduler"
	"github.com/marcus-qen/actionserver/internal/store"
	"github.com/marcus-qen/actionserver/internal/triggers"
	"github.com/marcus-qen/actionserver/internal/workitems"
)

func echoLauncher(ctx context.Context, packageID string) (procpool.WorkerConfig, error) {
	script := `while IFS= read -r line; do printf '{"result":"ok"}\n'; done`
	return procpool.WorkerConfig{Command: "sh", Args: []string{"-c", script}}, nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *store.Store, *store.Action) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	pkg := &store.ActionPackage{Name: "calculator", Directory: "/pkgs/calculator"}
	if err := st.UpsertActionPackage(ctx, pkg); err != nil {
		t.Fatalf("upsert package: %v", err)
	}
	action := &store.Action{
		ActionPackageID: pkg.ID,
		Name:            "calculator_sum",
		Kind:            "action",
		InputSchema:     `{"type":"object"}`,
		OutputSchema:    `{"type":"string"}`,
		Enabled:         true,
	}
	if err := st.UpsertAction(ctx, action); err != nil {
		t.Fatalf("upsert action: %v", err)
	}

	pool := procpool.New(procpool.Config{MinProcesses: 1, MaxProcesses: 1, ReuseProcesses: true}, echoLauncher)
	bus := events.NewBus(16)
	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)
	logger := zap.NewNop()
	artifactsRoot := filepath.Join(t.TempDir(), "artifacts")
	engine := runengine.New(st, pool, bus, metrics, artifactsRoot, logger)
	queue := workitems.New(st)
	sched := scheduler.New(st, engine, queue, bus, metrics, logger)
	trig := triggers.New(st, engine, queue, bus, metrics, logger)
	bridge := mcpbridge.New(st, engine, logger)

	cfg.ListenAddr = "127.0.0.1:0"
	srv := New(cfg, st, engine, sched, trig, queue, bridge, registry, nil, logger)
	return srv, st, action
}

func (s *Server) testMux() http.Handler {
	return s.httpServer.Handler
}

func TestHandleRunActionHappyPath(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	body := strings.NewReader(`{"v1":1,"v2":2}`)
	req := httptest.NewRequest(http.MethodPost, "/api/actions/calculator/calculator-sum/run", body)
	req.SetPathValue("package", "calculator")
	req.SetPathValue("action", "calculator_sum")
	rec := httptest.NewRecorder()

	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Action-Server-Run-Id") == "" {
		t.Fatalf("expected X-Action-Server-Run-Id header to be set")
	}
}

func TestHandleRunActionUnknownActionReturns404(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/actions/calculator/calculator-sum/run", strings.NewReader(`{}`))
	req.SetPathValue("package", "calculator")
	req.SetPathValue("action", "nonexistent")
	rec := httptest.NewRecorder()

	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleRunActionRequiresAPIKeyWhenConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{APIKey: "secret-token"})

	req := httptest.NewRequest(http.MethodPost, "/api/actions/calculator/calculator-sum/run", strings.NewReader(`{}`))
	req.SetPathValue("package", "calculator")
	req.SetPathValue("action", "calculator_sum")
	rec := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/api/actions/calculator/calculator-sum/run", strings.NewReader(`{}`))
	req2.SetPathValue("package", "calculator")
	req2.SetPathValue("action", "calculator_sum")
	req2.Header.Set("Authorization", "Bearer secret-token")
	rec2 := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid key, got %d", rec2.Code)
	}
}

func TestHandleGetRunAndArtifacts(t *testing.T) {
	srv, st, action := newTestServer(t, Config{})
	ctx := context.Background()

	run, err := srv.engine.StartRun(ctx, action, []byte(`{}`), runengine.RequestContext{})
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if err := srv.engine.Execute(ctx, run, action, nil); err != nil {
		t.Fatalf("execute run: %v", err)
	}
	_ = st

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID, nil)
	req.SetPathValue("id", run.ID)
	rec := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/artifacts", nil)
	req2.SetPathValue("id", run.ID)
	rec2 := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 for artifacts list, got %d", rec2.Code)
	}
}

func TestHandleOpenAPIListsEnabledAction(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "calculator_sum") {
		t.Fatalf("expected openapi doc to mention calculator_sum, got %s", rec.Body.String())
	}
}

func TestHandleScheduleCRUD(t *testing.T) {
	srv, _, action := newTestServer(t, Config{})

	body := `{"Name":"nightly","ActionID":"` + action.ID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/api/schedules", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/schedules", nil)
	rec2 := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec2.Code)
	}
	if !strings.Contains(rec2.Body.String(), "nightly") {
		t.Fatalf("expected listed schedule to include nightly, got %s", rec2.Body.String())
	}
}

func TestHandleMetricsServesPrometheusFormat(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestShutdownEndpointOnlyRegisteredWhenEnabled(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodPost, "/api/shutdown", nil)
	rec := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected shutdown route disabled by default, got %d", rec.Code)
	}

	enabled, _, _ := newTestServer(t, Config{ShutdownAPIEnabled: true})
	req2 := httptest.NewRequest(http.MethodPost, "/api/shutdown", nil)
	rec2 := httptest.NewRecorder()
	enabled.testMux().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusAccepted {
		t.Fatalf("expected 202 from enabled shutdown endpoint, got %d", rec2.Code)
	}
}

func TestHandleRunActionRejectsContextHeaderWithoutDecryptor(t *testing.T) {
	srv, _, action := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/actions/calculator/"+action.Name+"/run", strings.NewReader(`{}`))
	req.Header.Set("x-action-context", "not-a-real-envelope")
	rec := httptest.NewRecorder()
	srv.testMux().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when a context header arrives with no decrypt keys configured, got %d: %s", rec.Code, rec.Body.String())
	}
}
