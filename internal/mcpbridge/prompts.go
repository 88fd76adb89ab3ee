package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/marcus-qen/actionserver/internal/runengine"
	"github.com/marcus-qen/actionserver/internal/store"
)

// registerPrompt exposes a prompt-kind Action as an MCP prompt. The
// teacher's mcpserver never wires AddPrompt/AddResource for a prompt kind
// (it has none); this is new wiring against the same SDK, grounded on its
// AddResource usage already present for the resource kind and on the SDK's
// Prompt/PromptArgument types mirrored structurally from mcp.Tool.
func registerPrompt(srv *mcp.Server, engine *runengine.Engine, action *store.Action) {
	args := promptArguments(action.InputSchema)
	srv.AddPrompt(&mcp.Prompt{
		Name:        action.Name,
		Description: action.Docs,
		Arguments:   args,
	}, promptHandler(engine, action))
}

func promptHandler(engine *runengine.Engine, action *store.Action) func(context.Context, *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		var args map[string]string
		if req != nil && req.Params != nil {
			args = req.Params.Arguments
		}
		inputs, err := json.Marshal(stringMapToAny(args))
		if err != nil {
			return nil, fmt.Errorf("encode prompt arguments: %w", err)
		}

		run, err := engine.StartRun(ctx, action, inputs, runengine.RequestContext{RequestID: "mcp-prompt:" + action.Name})
		if err != nil {
			return nil, fmt.Errorf("start run: %w", err)
		}
		if err := engine.Execute(ctx, run, action, managedParams()); err != nil {
			return nil, fmt.Errorf("execute run: %w", err)
		}
		text := run.Result.String
		if run.Status == store.RunFailed {
			text = run.ErrorMessage.String
		}

		return &mcp.GetPromptResult{
			Description: action.Docs,
			Messages: []*mcp.PromptMessage{{
				Role:    "user",
				Content: &mcp.TextContent{Text: text},
			}},
		}, nil
	}
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// promptArguments derives the MCP prompt argument list from an action's
// stored input schema: one PromptArgument per top-level property, required
// exactly where the schema lists it as required.
func promptArguments(inputSchema string) []*mcp.PromptArgument {
	if inputSchema == "" {
		return nil
	}
	var parsed struct {
		Properties map[string]struct {
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal([]byte(inputSchema), &parsed); err != nil {
		return nil
	}
	required := make(map[string]bool, len(parsed.Required))
	for _, r := range parsed.Required {
		required[r] = true
	}

	args := make([]*mcp.PromptArgument, 0, len(parsed.Properties))
	for name, prop := range parsed.Properties {
		args = append(args, &mcp.PromptArgument{
			Name:        name,
			Description: prop.Description,
			Required:    required[name],
		})
	}
	return args
}
