package mcpbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/procpool"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/store"
)

func echoLauncher(ctx context.Context, packageID string) (procpool.WorkerConfig, error) {
	script := `while IFS= read -r line; do printf '{"ok":true}\n'; done`
	return procpool.WorkerConfig{Command: "sh", Args: []string{"-c", script}}, nil
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *store.ActionPackage) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	pkg := &store.ActionPackage{Name: "billing", Directory: "/pkgs/billing"}
	if err := st.UpsertActionPackage(ctx, pkg); err != nil {
		t.Fatalf("upsert package: %v", err)
	}

	pool := procpool.New(procpool.Config{MinProcesses: 1, MaxProcesses: 1, ReuseProcesses: true}, echoLauncher)
	bus := events.NewBus(16)
	metrics := obs.NewMetrics(prometheus.NewRegistry())
	logger := zap.NewNop()
	artifactsRoot := filepath.Join(t.TempDir(), "artifacts")
	engine := runengine.New(st, pool, bus, metrics, artifactsRoot, logger)

	return New(st, engine, logger), st, pkg
}

func TestRefreshBuildsPackageServerWithEveryActionKind(t *testing.T) {
	mgr, st, pkg := newTestManager(t)
	ctx := context.Background()

	kinds := []string{"action", "query", "tool", "prompt", "resource"}
	for _, kind := range kinds {
		a := &store.Action{
			ActionPackageID: pkg.ID,
			Name:            kind + "_thing",
			Kind:            kind,
			InputSchema:     `{"type":"object","properties":{"name":{"type":"string"}},"required":["name"]}`,
			OutputSchema:    `{"type":"object"}`,
		}
		if err := st.UpsertAction(ctx, a); err != nil {
			t.Fatalf("upsert action %s: %v", kind, err)
		}
	}

	if err := mgr.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if _, ok := mgr.servers["billing"]; !ok {
		t.Fatalf("expected a package server for billing")
	}
}

func TestMountRegistersPerPackageRoutes(t *testing.T) {
	mgr, _, _ := newTestManager(t)
	ctx := context.Background()
	if err := mgr.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	mux := http.NewServeMux()
	mgr.Mount(mux)

	for _, path := range []string{"/billing/mcp", "/billing/sse"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		_, pattern := mux.Handler(req)
		if pattern == "" {
			t.Fatalf("expected a registered route for %s", path)
		}
	}
}

func TestSkipsUnknownActionKind(t *testing.T) {
	mgr, st, pkg := newTestManager(t)
	ctx := context.Background()

	a := &store.Action{ActionPackageID: pkg.ID, Name: "mystery", Kind: "bogus", InputSchema: "{}"}
	if err := st.UpsertAction(ctx, a); err != nil {
		t.Fatalf("upsert action: %v", err)
	}

	if err := mgr.Refresh(ctx); err != nil {
		t.Fatalf("refresh should not fail on an unknown kind: %v", err)
	}
}
