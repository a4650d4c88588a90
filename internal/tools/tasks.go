package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

// SubmitDocumentInput defines the input schema for the submit_document tool.
type SubmitDocumentInput struct {
	Text       string `json:"text,omitempty" jsonschema:"Plain text to index"`
	FileBase64 string `json:"file_base64,omitempty" jsonschema:"Base64 file content (pdf, docx, md, txt); a data URL prefix is allowed"`
	Filename   string `json:"filename,omitempty" jsonschema:"Original file name, used to pick the parser"`
	DBName     string `json:"db_name,omitempty" jsonschema:"Knowledge base name (default is the server's configured knowledge base)"`
}

// TaskInput identifies one task.
type TaskInput struct {
	TaskID string `json:"task_id" jsonschema:"Task id returned by submit_document"`
}

// ListTasksInput defines the input schema for the list_tasks tool.
type ListTasksInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum number of tasks to return (default 20)"`
}

const defaultTaskLimit = 20

// NewSubmitDocumentHandler queues a document for indexing.
func NewSubmitDocumentHandler(deps *Dependencies) mcp.ToolHandlerFor[SubmitDocumentInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SubmitDocumentInput) (
		*mcp.CallToolResult, any, error,
	) {
		submit := service.SubmitRequest{Filename: input.Filename, DBName: input.DBName}
		switch {
		case input.FileBase64 != "":
			submit.Content, submit.Kind = input.FileBase64, models.ContentBinary
		case strings.TrimSpace(input.Text) != "":
			submit.Content, submit.Kind = input.Text, models.ContentText
		default:
			return ErrorResult("Nothing to index", "Provide text or file_base64"), nil, nil
		}

		id, err := deps.Tasks.Submit(submit)
		if err != nil {
			if errors.Is(err, service.ErrInvalidInput) {
				return ErrorResult(err.Error(), "db_name may use letters, digits, '.', '_' and '-'"), nil, nil
			}
			deps.Logger.Error("submit failed", "error", err)
			return ErrorResult("Failed to queue document", err.Error()), nil, nil
		}

		deps.Logger.Info("document queued", "task_id", id, "db_name", input.DBName, "filename", input.Filename)
		return JSONResult(map[string]any{"ok": true, "task_id": id}), nil, nil
	}
}

// NewTaskStatusHandler reports a task snapshot.
func NewTaskStatusHandler(deps *Dependencies) mcp.ToolHandlerFor[TaskInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TaskInput) (*mcp.CallToolResult, any, error) {
		snap, ok := deps.Tasks.Status(strings.TrimSpace(input.TaskID))
		if !ok {
			return taskNotFound(input.TaskID), nil, nil
		}
		return JSONResult(snap), nil, nil
	}
}

// NewCancelTaskHandler requests cancellation of a task.
func NewCancelTaskHandler(deps *Dependencies) mcp.ToolHandlerFor[TaskInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TaskInput) (*mcp.CallToolResult, any, error) {
		id := strings.TrimSpace(input.TaskID)
		if deps.Tasks.Cancel(id) {
			return TextResult("Cancellation requested for task " + id), nil, nil
		}
		snap, ok := deps.Tasks.Status(id)
		if !ok {
			return taskNotFound(input.TaskID), nil, nil
		}
		return ErrorResult("Task "+id+" is "+string(snap.Status), "Only queued or running tasks can be cancelled"), nil, nil
	}
}

// NewListTasksHandler lists recent tasks.
func NewListTasksHandler(deps *Dependencies) mcp.ToolHandlerFor[ListTasksInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListTasksInput) (*mcp.CallToolResult, any, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultTaskLimit
		}
		tasks := deps.Tasks.List()
		if len(tasks) > limit {
			tasks = tasks[:limit]
		}
		if len(tasks) == 0 {
			return TextResult("No tasks"), nil, nil
		}
		return JSONResult(tasks), nil, nil
	}
}
