package procpool

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

// echoLauncher spawns a tiny shell worker that echoes back a result line
// for every input line, simulating the minimal runner protocol without
// depending on any real action package.
func echoLauncher(ctx context.Context, packageID string) (WorkerConfig, error) {
	script := `while IFS= read -r line; do printf '{"result":"ok"}\n'; done`
	return WorkerConfig{Command: "sh", Args: []string{"-c", script}}, nil
}

func TestLeaseAndReleaseReusesWorker(t *testing.T) {
	pool := New(Config{MinProcesses: 1, MaxProcesses: 2, ReuseProcesses: true}, echoLauncher)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w1, err := pool.Lease(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	pool.Release("pkg-a", w1, true)

	w2, err := pool.Lease(ctx, "pkg-a")
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if w2 != w1 {
		t.Fatalf("expected the released worker to be reused")
	}
	pool.Release("pkg-a", w2, true)
	pool.Shutdown()
}

func TestInvokeReturnsTerminalLine(t *testing.T) {
	pool := New(Config{MinProcesses: 1, MaxProcesses: 1, ReuseProcesses: true}, echoLauncher)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := pool.Lease(ctx, "pkg-b")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	defer pool.Release("pkg-b", w, true)

	var lines []string
	payload, err := w.Invoke(ctx, InvocationRequest{ActionName: "sum", Inputs: json.RawMessage(`{}`)},
		func(line []byte) { lines = append(lines, string(line)) })
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	var probe struct {
		Result string `json:"result"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if probe.Result != "ok" {
		t.Fatalf("expected result ok, got %q", probe.Result)
	}
}

func TestNoReuseDiscardsWorkerOnRelease(t *testing.T) {
	pool := New(Config{MinProcesses: 0, MaxProcesses: 1, ReuseProcesses: false}, echoLauncher)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w1, err := pool.Lease(ctx, "pkg-c")
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	pool.Release("pkg-c", w1, true)

	w2, err := pool.Lease(ctx, "pkg-c")
	if err != nil {
		t.Fatalf("second lease: %v", err)
	}
	if w2 == w1 {
		t.Fatalf("expected a fresh worker when reuse is disabled")
	}
	pool.Release("pkg-c", w2, true)
}
