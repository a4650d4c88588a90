package tools

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// RegisterAll registers all tools with the MCP server.
// This is called from main after server creation but before Run().
func RegisterAll(server *mcp.Server, deps *Dependencies) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "ping",
		Description: "Health check - responds with pong and the number of unfinished indexing tasks, or echoes input",
	}, NewPingHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_document",
		Description: "Queue a document (plain text or base64 file) for indexing into a knowledge base; returns a task id",
	}, NewSubmitDocumentHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "task_status",
		Description: "Show status, message and progress of an indexing task",
	}, NewTaskStatusHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cancel_task",
		Description: "Request cancellation of a queued or running indexing task",
	}, NewCancelTaskHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List indexing tasks, newest first",
	}, NewListTasksHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "competency_paths",
		Description: "Find competency paths from root competencies to concepts mentioned in a question",
	}, NewCompetencyPathsHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mark_mastered",
		Description: "Mark a concept as mastered and return the ids of concepts it unlocked",
	}, NewMarkMasteredHandler(deps))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_tutor",
		Description: "Answer a learner question from knowledge graph evidence and competency paths",
	}, NewAskTutorHandler(deps))
}
