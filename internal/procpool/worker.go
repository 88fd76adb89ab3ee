package procpool

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Worker is one long-lived (or one-shot) subprocess speaking line-delimited
// JSON over stdin/stdout. Its working directory is WorkerConfig.WorkingDir,
// fixed when the process starts; it does not change per invocation, so a
// worker does not run inside a run's artifacts directory.
type Worker struct {
	PackageID string

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *bufio.Reader
	killer Killer

	mu      sync.Mutex
	healthy bool
}

// WorkerConfig describes how to launch one worker process.
type WorkerConfig struct {
	PackageID  string
	Command    string
	Args       []string
	Env        []string
	WorkingDir string
}

// StartWorker launches a new worker process per cfg.
func StartWorker(cfg WorkerConfig) (*Worker, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = cfg.Env
	cmd.Dir = cfg.WorkingDir
	detachProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("procpool: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("procpool: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("procpool: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procpool: start worker: %w", err)
	}

	return &Worker{
		PackageID: cfg.PackageID,
		cmd:       cmd,
		stdin:     stdin,
		stdout:    bufio.NewReader(stdout),
		stderr:    bufio.NewReader(stderr),
		killer:    NewKiller(),
		healthy:   true,
	}, nil
}

// InvocationRequest is the one JSON line sent to the worker to start an
// action call.
type InvocationRequest struct {
	ActionName    string          `json:"action_name"`
	Inputs        json.RawMessage `json:"inputs"`
	ManagedParams json.RawMessage `json:"managed_params,omitempty"`
}

// Invoke writes req as one JSON line, then pumps stdout lines to onLine
// until a terminal line is observed (one that unmarshals into either
// `{"result":...}` or `{"error":...}`), returning that terminal payload
// raw. Stderr is pumped concurrently via errgroup, generalizing the
// teacher's stdout/stderr goroutine-pair pattern into a coordinated pair
// that reports whichever pump fails first.
func (w *Worker) Invoke(ctx context.Context, req InvocationRequest, onLine func(line []byte)) (json.RawMessage, error) {
	line, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("procpool: marshal invocation: %w", err)
	}
	if _, err := w.stdin.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("procpool: write invocation: %w", err)
	}

	type result struct {
		payload json.RawMessage
		err     error
	}
	resultCh := make(chan result, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			raw, err := w.stdout.ReadBytes('\n')
			if len(raw) > 0 {
				trimmed := trimNewline(raw)
				if isTerminalLine(trimmed) {
					resultCh <- result{payload: trimmed}
					return nil
				}
				onLine(trimmed)
			}
			if err != nil {
				resultCh <- result{err: fmt.Errorf("procpool: worker stdout closed: %w", err)}
				return err
			}
		}
	})
	g.Go(func() error {
		for {
			raw, err := w.stderr.ReadBytes('\n')
			if len(raw) > 0 {
				onLine(trimNewline(raw))
			}
			if err != nil {
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		select {
		case r := <-resultCh:
			if r.err == nil {
				return r.payload, nil
			}
		default:
		}
		return nil, err
	}

	r := <-resultCh
	return r.payload, r.err
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

func isTerminalLine(line []byte) bool {
	var probe struct {
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return false
	}
	return probe.Result != nil || probe.Error != nil
}

// Healthy reports whether the worker should be returned to the idle pool.
func (w *Worker) Healthy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.healthy
}

// MarkUnhealthy flags the worker for discard on release.
func (w *Worker) MarkUnhealthy() {
	w.mu.Lock()
	w.healthy = false
	w.mu.Unlock()
}

// Kill terminates the worker and its process subtree.
func (w *Worker) Kill() error {
	return w.killer.Kill(w.cmd)
}
