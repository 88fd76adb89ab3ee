// Package mcpbridge re-exposes every imported ActionPackage's enabled
// Actions as an MCP server: one mcp.Server per package, mounted at
// /<package>/mcp (streamable HTTP) and /<package>/sse (SSE), mirroring the
// teacher's one-server-per-surface wiring in
// internal/controlplane/mcpserver.
package mcpbridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/secrets"
	"github.com/marcus-qen/actionserver/internal/store"
)

// Version is injected from build metadata.
var Version = "dev"

// packageServer is the MCP surface for a single ActionPackage.
type packageServer struct {
	name              string
	server            *mcp.Server
	streamableHandler http.Handler
	sseHandler        http.Handler
}

// Manager owns one packageServer per imported ActionPackage and mounts
// them onto the HTTP mux.
type Manager struct {
	store   *store.Store
	engine  *runengine.Engine
	logger  *zap.Logger
	servers map[string]*packageServer
}

// New builds an empty Manager; it does not read the store. Refresh loads
// every ActionPackage known at the time it's called; packages imported
// afterward require another call to Refresh to pick up their actions.
func New(st *store.Store, engine *runengine.Engine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:   st,
		engine:  engine,
		logger:  logger.Named("mcpbridge"),
		servers: make(map[string]*packageServer),
	}
}

// Refresh rebuilds the MCP server for every currently imported
// ActionPackage against its current set of enabled Actions. Call this
// after an Import changes the action set.
func (m *Manager) Refresh(ctx context.Context) error {
	pkgs, err := m.store.ListActionPackages(ctx)
	if err != nil {
		return fmt.Errorf("mcpbridge: list packages: %w", err)
	}
	for _, pkg := range pkgs {
		actions, err := m.store.ListActions(ctx, pkg.ID)
		if err != nil {
			return fmt.Errorf("mcpbridge: list actions for %s: %w", pkg.Name, err)
		}
		enabled := make([]*store.Action, 0, len(actions))
		for _, a := range actions {
			if a.Enabled {
				enabled = append(enabled, a)
			}
		}
		m.servers[pkg.Name] = m.buildPackageServer(pkg, enabled)
	}
	return nil
}

func (m *Manager) buildPackageServer(pkg *store.ActionPackage, actions []*store.Action) *packageServer {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    pkg.Name,
		Version: Version,
	}, nil)

	ps := &packageServer{name: pkg.Name, server: srv}

	for _, a := range actions {
		switch a.Kind {
		case "action", "query", "tool":
			registerTool(srv, m.engine, a)
		case "prompt":
			registerPrompt(srv, m.engine, a)
		case "resource":
			registerResource(srv, m.engine, pkg.Name, a)
		default:
			m.logger.Warn("unknown action kind, skipping MCP registration",
				zap.String("package", pkg.Name), zap.String("action", a.Name), zap.String("kind", a.Kind))
		}
	}

	ps.streamableHandler = mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return srv
	}, nil)
	ps.sseHandler = mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server {
		return srv
	}, nil)
	return ps
}

// Mount registers every known package's MCP transports onto mux at
// /<package>/mcp (streamable HTTP) and /<package>/sse (SSE).
func (m *Manager) Mount(mux *http.ServeMux) {
	for name, ps := range m.servers {
		mux.Handle("/"+name+"/mcp", ps.streamableHandler)
		mux.Handle("/"+name+"/sse", ps.sseHandler)
	}
}

// managedParams returns the empty managed-parameter set for an MCP-invoked
// action: MCP callers never carry server-side secrets or request context,
// unlike a Run dispatched from the REST surface with an authenticated
// caller identity.
func managedParams() secrets.ManagedParams {
	return secrets.ManagedParams{}
}
