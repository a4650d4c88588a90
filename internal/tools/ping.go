package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// PingInput defines the input schema for the ping tool.
type PingInput struct {
	Echo string `json:"echo,omitempty" jsonschema:"Text to echo back instead of the health line"`
}

// NewPingHandler checks that the server is alive. Without echo it answers
// "pong", followed by the number of unfinished indexing tasks if there are any.
func NewPingHandler(deps *Dependencies) mcp.ToolHandlerFor[PingInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input PingInput) (*mcp.CallToolResult, any, error) {
		if input.Echo != "" {
			return TextResult(input.Echo), nil, nil
		}
		active := activeTasks(deps)
		deps.Logger.Debug("ping", "active_tasks", active)
		if active == 0 {
			return TextResult("pong"), nil, nil
		}
		return TextResult(fmt.Sprintf("pong (%d indexing tasks in progress)", active)), nil, nil
	}
}

func activeTasks(deps *Dependencies) int {
	if deps.Tasks == nil {
		return 0
	}
	n := 0
	for _, t := range deps.Tasks.List() {
		if !t.Status.Terminal() {
			n++
		}
	}
	return n
}
