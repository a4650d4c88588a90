package tools

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ErrorResult reports a tool failure as "{msg}. {hint}" with IsError set,
// so the calling model sees what went wrong and how to retry.
func ErrorResult(msg, hint string) *mcp.CallToolResult {
	if hint != "" {
		msg += ". " + hint
	}
	res := TextResult(msg)
	res.IsError = true
	return res
}

// TextResult wraps text in a successful result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// JSONResult renders v as indented JSON, the shape the HTTP API returns.
func JSONResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ErrorResult("Failed to encode result", err.Error())
	}
	return TextResult(string(data))
}

func taskNotFound(id string) *mcp.CallToolResult {
	return ErrorResult("Task not found: "+id, "Use list_tasks to see known tasks")
}
