// Package procpool manages long-lived worker subprocesses per action
// package (C4): idle/leased accounting, min/max/reuse sizing policy, and
// cross-platform subtree termination.
package procpool

import (
	"context"
	"fmt"
	"sync"
)

// Config governs pool sizing, mirroring the spec's
// {min_processes, max_processes, reuse_processes} knobs.
type Config struct {
	MinProcesses   int
	MaxProcesses   int
	ReuseProcesses bool
}

// Launcher builds the WorkerConfig for a fresh worker of a given package.
// Supplied by the caller (the package loader knows each package's
// interpreter, entrypoint, and environment) so procpool stays ignorant of
// C2/C3 details.
type Launcher func(ctx context.Context, packageID string) (WorkerConfig, error)

type packagePool struct {
	idle    chan *Worker
	leased  int
	spawned int
}

// Pool holds one packagePool per ActionPackage.
type Pool struct {
	cfg    Config
	launch Launcher
	mu     sync.Mutex
	byPkg  map[string]*packagePool
}

// New creates a Pool. launch is called whenever a new worker process must
// be spawned (on first lease, or to replace a discarded one).
func New(cfg Config, launch Launcher) *Pool {
	if cfg.MaxProcesses < 1 {
		cfg.MaxProcesses = 1
	}
	if cfg.MinProcesses > cfg.MaxProcesses {
		cfg.MinProcesses = cfg.MaxProcesses
	}
	return &Pool{cfg: cfg, launch: launch, byPkg: make(map[string]*packagePool)}
}

func (p *Pool) poolFor(packageID string) *packagePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pp, ok := p.byPkg[packageID]
	if !ok {
		pp = &packagePool{idle: make(chan *Worker, p.cfg.MaxProcesses)}
		p.byPkg[packageID] = pp
	}
	return pp
}

// Lease returns an idle worker for packageID, spawning a fresh one if the
// pool has capacity and none is idle, or blocking until one is released if
// the pool is already at MaxProcesses. When ReuseProcesses is false, every
// lease spawns a brand-new worker and Release always discards it (the
// per-action fallback mode named in spec.md §4.4).
func (p *Pool) Lease(ctx context.Context, packageID string) (*Worker, error) {
	pp := p.poolFor(packageID)

	if !p.cfg.ReuseProcesses {
		return p.spawn(ctx, packageID, pp)
	}

	select {
	case w := <-pp.idle:
		return w, nil
	default:
	}

	p.mu.Lock()
	canSpawn := pp.spawned < p.cfg.MaxProcesses
	if canSpawn {
		pp.spawned++
	}
	p.mu.Unlock()

	if canSpawn {
		w, err := p.spawn(ctx, packageID, pp)
		if err != nil {
			p.mu.Lock()
			pp.spawned--
			p.mu.Unlock()
			return nil, err
		}
		return w, nil
	}

	select {
	case w := <-pp.idle:
		return w, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) spawn(ctx context.Context, packageID string, pp *packagePool) (*Worker, error) {
	cfg, err := p.launch(ctx, packageID)
	if err != nil {
		return nil, fmt.Errorf("procpool: launch worker for %s: %w", packageID, err)
	}
	cfg.PackageID = packageID
	return StartWorker(cfg)
}

// Release returns a worker to the idle pool if healthy and reuse is
// enabled; otherwise it kills the process and frees its spawn slot.
func (p *Pool) Release(packageID string, w *Worker, healthy bool) {
	pp := p.poolFor(packageID)

	if p.cfg.ReuseProcesses && healthy && w.Healthy() {
		select {
		case pp.idle <- w:
			return
		default:
			// Idle channel full (shouldn't happen at MaxProcesses sizing,
			// but fall through to discard rather than leak the worker).
		}
	}

	_ = w.Kill()
	p.mu.Lock()
	pp.spawned--
	p.mu.Unlock()
}

// Shutdown kills every idle worker across every package pool. In-flight
// leased workers are expected to be released (and killed) by their
// current owner.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pp := range p.byPkg {
		drainIdle(pp)
	}
}

func drainIdle(pp *packagePool) {
	for {
		select {
		case w := <-pp.idle:
			_ = w.Kill()
		default:
			return
		}
	}
}
