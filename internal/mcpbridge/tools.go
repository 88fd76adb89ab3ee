package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/store"
)

// registerTool exposes one action/query/tool-kind Action as an MCP tool.
// Every discovered action shares the same generic instantiation
// (json.RawMessage in, any out): the Go type of an action's parameters is
// known only as a JSON Schema string recovered from the store, never as a
// compile-time Go struct, so the schema is attached explicitly to the
// mcp.Tool rather than inferred by AddTool's usual reflection path.
func registerTool(srv *mcp.Server, engine *runengine.Engine, action *store.Action) {
	mcp.AddTool(srv, &mcp.Tool{
		Name:        action.Name,
		Description: action.Docs,
		InputSchema: decodeSchema(action.InputSchema),
	}, toolHandler(engine, action))
}

func toolHandler(engine *runengine.Engine, action *store.Action) func(context.Context, *mcp.CallToolRequest, json.RawMessage) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input json.RawMessage) (*mcp.CallToolResult, any, error) {
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}
		run, err := engine.StartRun(ctx, action, input, runengine.RequestContext{RequestID: "mcp:" + action.Name})
		if err != nil {
			return nil, nil, fmt.Errorf("start run: %w", err)
		}
		if err := engine.Execute(ctx, run, action, managedParams()); err != nil {
			return nil, nil, fmt.Errorf("execute run: %w", err)
		}
		if run.Status == store.RunFailed {
			return nil, nil, fmt.Errorf("action failed: %s", run.ErrorMessage.String)
		}
		return textToolResult(run.Result.String), nil, nil
	}
}

func textToolResult(text string) *mcp.CallToolResult {
	if text == "" {
		text = "null"
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// decodeSchema parses a stored JSON Schema string into the SDK's schema
// type. A malformed or empty schema degrades to a permissive bare object
// rather than failing tool registration.
func decodeSchema(raw string) *jsonschema.Schema {
	if raw == "" {
		return &jsonschema.Schema{Type: "object"}
	}
	var s jsonschema.Schema
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return &s
}
