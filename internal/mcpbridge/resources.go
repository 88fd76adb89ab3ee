package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/store"
)

// registerResource exposes a resource-kind Action as an MCP resource at
// actionserver://<package>/<action>. The action runs with an empty input
// (a resource has no caller-supplied parameters by definition) and its
// result becomes the resource's JSON body.
func registerResource(srv *mcp.Server, engine *runengine.Engine, packageName string, action *store.Action) {
	uri := fmt.Sprintf("actionserver://%s/%s", packageName, action.Name)
	srv.AddResource(&mcp.Resource{
		URI:         uri,
		Name:        action.Name,
		Description: action.Docs,
		MIMEType:    "application/json",
	}, resourceHandler(engine, action, uri))
}

func resourceHandler(engine *runengine.Engine, action *store.Action, uri string) func(context.Context, *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	return func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		run, err := engine.StartRun(ctx, action, json.RawMessage("{}"), runengine.RequestContext{RequestID: "mcp-resource:" + action.Name})
		if err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
		if err := engine.Execute(ctx, run, action, managedParams()); err != nil {
			return nil, fmt.Errorf("execute run: %w", err)
		}
		if run.Status == store.RunFailed {
			return nil, fmt.Errorf("resource action failed: %s", run.ErrorMessage.String)
		}

		resourceURI := uri
		if req != nil && req.Params != nil && req.Params.URI != "" {
			resourceURI = req.Params.URI
		}
		return &mcp.ReadResourceResult{
			Contents: []*mcp.ResourceContents{{
				URI:      resourceURI,
				MIMEType: "application/json",
				Text:     run.Result.String,
			}},
		}, nil
	}
}
