// actionserver is the Action Server process: it imports action packages
// from disk, serves the REST/MCP surface, and runs the scheduler and
// trigger engine against a single SQLite-backed store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/config"
	"github.com/marcus-qen/actionserver/internal/envmanager"
	"github.com/marcus-qen/actionserver/internal/events"
	"github.com/marcus-qen/actionserver/internal/httpapi"
	"github.com/marcus-qen/actionserver/internal/mcpbridge"
	"github.com/marcus-qen/actionserver/internal/obs"
	"github.com/marcus-qen/actionserver/internal/packages"
	"github.com/marcus-qen/actionserver/internal/procpool"
	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/scheduler"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
	"github.com/marcus-qen/actionserver/internal/triggers"
	"github.com/marcus-qen/actionserver/internal/workitems"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg := parseFlags()

	cfg, err := config.LoadEnv(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("action server exited with error", zap.Error(err))
	}
}

func parseFlags() config.Config {
	cfg := config.Default()

	flag.StringVar(&cfg.DataDir, "datadir", cfg.DataDir, "directory holding the action server's SQLite database and artifacts")
	flag.StringVar(&cfg.ActionsDir, "actions", cfg.ActionsDir, "directory holding one or more action package manifests")
	flag.StringVar(&cfg.ListenAddr, "address", cfg.ListenAddr, "HTTP listen address")
	flag.StringVar(&cfg.APIKey, "api-key", cfg.APIKey, "bearer token required on the REST surface (empty disables the gate)")
	flag.IntVar(&cfg.MinProcesses, "min-processes", cfg.MinProcesses, "minimum worker processes per action package (clamped to max-processes; workers are started only on demand, none are pre-started)")
	flag.IntVar(&cfg.MaxProcesses, "max-processes", cfg.MaxProcesses, "maximum worker processes per action package")
	flag.BoolVar(&cfg.ReuseProcesses, "reuse-processes", cfg.ReuseProcesses, "keep worker processes warm between runs")
	flag.BoolVar(&cfg.SkipLint, "skip-lint", cfg.SkipLint, "import packages even when the lint pass finds an error")
	flag.IntVar(&cfg.CheckInterval, "check-interval", cfg.CheckInterval, "scheduler tick interval, in seconds")
	flag.IntVar(&cfg.MaxGlobalConcur, "max-concurrent-runs", cfg.MaxGlobalConcur, "maximum scheduler-dispatched runs in flight at once")
	flag.BoolVar(&cfg.NoConda, "no-conda", cfg.NoConda, "reuse the ambient Python interpreter instead of building an isolated environment")
	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "enable debug logging")
	flag.Parse()

	return cfg
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	artifactsRoot := filepath.Join(cfg.DataDir, "artifacts")
	if err := os.MkdirAll(artifactsRoot, 0o755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "server.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	decryptor, err := buildDecryptor(cfg)
	if err != nil {
		return fmt.Errorf("configure decryptor: %w", err)
	}

	if err := syncActions(ctx, st, cfg, logger); err != nil {
		return fmt.Errorf("import actions: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)
	bus := events.NewBus(256)

	pool := procpool.New(procpool.Config{
		MinProcesses:   cfg.MinProcesses,
		MaxProcesses:   cfg.MaxProcesses,
		ReuseProcesses: cfg.ReuseProcesses,
	}, newLauncher(st, cfg, logger))

	engine := runengine.New(st, pool, bus, metrics, artifactsRoot, logger)
	queue := workitems.New(st)
	sched := scheduler.New(st, engine, queue, bus, metrics, logger,
		scheduler.WithCheckInterval(time.Duration(cfg.CheckInterval)*time.Second),
		scheduler.WithMaxConcurrentGlobal(cfg.MaxGlobalConcur),
	)
	trig := triggers.New(st, engine, queue, bus, metrics, logger)

	bridge := mcpbridge.New(st, engine, logger)
	if err := bridge.Refresh(ctx); err != nil {
		return fmt.Errorf("build mcp bridge: %w", err)
	}

	httpCfg := httpapi.Config{
		ListenAddr:         cfg.ListenAddr,
		APIKey:             cfg.APIKey,
		ShutdownAPIEnabled: cfg.ShutdownAPIEnabled,
	}
	server := httpapi.New(httpCfg, st, engine, sched, trig, queue, bridge, registry, decryptor, logger)

	go sched.Start(ctx)
	defer sched.Stop()

	logger.Info("action server ready",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("built", date),
		zap.String("datadir", cfg.DataDir),
		zap.String("actions", cfg.ActionsDir),
	)

	return server.Run(ctx)
}

// syncActions imports every package manifest found directly under
// cfg.ActionsDir, or cfg.ActionsDir itself when it is a single package.
func syncActions(ctx context.Context, st *store.Store, cfg config.Config, logger *zap.Logger) error {
	if _, err := os.Stat(cfg.ActionsDir); os.IsNotExist(err) {
		logger.Warn("actions directory does not exist, starting with no packages", zap.String("dir", cfg.ActionsDir))
		return nil
	}

	manifests, err := packages.Scan(cfg.ActionsDir)
	if err != nil {
		return err
	}
	if len(manifests) == 0 {
		logger.Warn("no action package manifests found", zap.String("dir", cfg.ActionsDir))
		return nil
	}

	for _, m := range manifests {
		diff, err := packages.Import(ctx, st, m.Directory, packages.Options{SkipLint: cfg.SkipLint})
		if err != nil {
			return fmt.Errorf("import %s: %w", m.Directory, err)
		}
		logger.Info("imported action package",
			zap.String("package", diff.PackageName),
			zap.Strings("actions", diff.UpsertedNames),
			zap.Strings("disabled", diff.DisabledNames),
			zap.Int("warnings", len(diff.Warnings)),
		)
	}
	return nil
}

// newLauncher adapts a store.ActionPackage's manifest into the
// procpool.WorkerConfig used to spawn its next worker: C2's environment
// manager resolves the interpreter and process environment, and the
// runtime entry point is the action package's own worker shim, invoked
// the same way for every package regardless of its declared dependencies.
func newLauncher(st *store.Store, cfg config.Config, logger *zap.Logger) procpool.Launcher {
	return func(ctx context.Context, packageID string) (procpool.WorkerConfig, error) {
		pkg, err := st.GetActionPackage(ctx, packageID)
		if err != nil {
			return procpool.WorkerConfig{}, fmt.Errorf("launcher: look up package %s: %w", packageID, err)
		}

		manifestPath, err := resolveManifestPath(pkg.Directory)
		if err != nil {
			return procpool.WorkerConfig{}, err
		}

		env, err := envmanager.Build(ctx, manifestPath, cfg.NoConda)
		if err != nil {
			return procpool.WorkerConfig{}, err
		}

		envList := make([]string, 0, len(env.Vars))
		for k, v := range env.Vars {
			envList = append(envList, k+"="+v)
		}

		logger.Debug("launching worker",
			zap.String("package", pkg.Name),
			zap.String("python", env.PythonExe),
		)
		return procpool.WorkerConfig{
			PackageID:  packageID,
			Command:    env.PythonExe,
			Args:       []string{"-m", "action_server_runtime.worker"},
			Env:        envList,
			WorkingDir: pkg.Directory,
		}, nil
	}
}

func resolveManifestPath(dir string) (string, error) {
	for _, name := range []string{"package.yaml", "robot.yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("launcher: no package.yaml or robot.yaml under %s", dir)
}

func buildDecryptor(cfg config.Config) (*secrets.Decryptor, error) {
	if len(cfg.DecryptKeys) == 0 {
		return nil, nil
	}
	return secrets.NewDecryptor(cfg.DecryptKeys)
}
