package tools

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/kgtutor/internal/mastery"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

// QuestionInput carries a learner question.
type QuestionInput struct {
	Question string `json:"question" jsonschema:"Learner question"`
}

// MarkMasteredInput defines the input schema for the mark_mastered tool.
type MarkMasteredInput struct {
	NodeID string `json:"node_id" jsonschema:"Element id of the mastered concept"`
}

// AskTutorInput defines the input schema for the ask_tutor tool.
type AskTutorInput struct {
	Question string `json:"question" jsonschema:"Learner question"`
	DBName   string `json:"db_name,omitempty" jsonschema:"Knowledge base to draw evidence from"`
}

// NewCompetencyPathsHandler resolves competency paths for a question.
func NewCompetencyPathsHandler(deps *Dependencies) mcp.ToolHandlerFor[QuestionInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input QuestionInput) (*mcp.CallToolResult, any, error) {
		paths := deps.Paths.Resolve(ctx, input.Question)
		if len(paths) == 0 {
			return TextResult("No competency paths found"), nil, nil
		}
		return TextResult(strings.Join(paths, "\n")), nil, nil
	}
}

// NewMarkMasteredHandler marks a concept mastered and reports unlocked concepts.
func NewMarkMasteredHandler(deps *Dependencies) mcp.ToolHandlerFor[MarkMasteredInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input MarkMasteredInput) (*mcp.CallToolResult, any, error) {
		unlocked, err := deps.Mastery.MarkMastered(ctx, strings.TrimSpace(input.NodeID))
		switch {
		case errors.Is(err, mastery.ErrInvalidID):
			return ErrorResult("node_id is required", ""), nil, nil
		case errors.Is(err, mastery.ErrNodeNotFound):
			return ErrorResult("Node not found: "+input.NodeID, "Use the element id of a concept node"), nil, nil
		case err != nil:
			deps.Logger.Error("mark mastered failed", "node_id", input.NodeID, "error", err)
			return ErrorResult("Failed to update mastery", "Graph store may be unavailable"), nil, nil
		}
		return JSONResult(map[string]any{"ok": true, "unlocked": unlocked}), nil, nil
	}
}

// NewAskTutorHandler answers a question from graph evidence.
func NewAskTutorHandler(deps *Dependencies) mcp.ToolHandlerFor[AskTutorInput, any] {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskTutorInput) (*mcp.CallToolResult, any, error) {
		database := ""
		if input.DBName != "" && deps.GraphDatabase != nil {
			database = deps.GraphDatabase(input.DBName)
		}
		answer, err := deps.Tutor.Answer(ctx, service.AskRequest{Question: input.Question, Database: database})
		switch {
		case errors.Is(err, service.ErrInvalidInput):
			return ErrorResult("Question is required", ""), nil, nil
		case err != nil:
			deps.Logger.Error("ask tutor failed", "error", err)
			return ErrorResult("Failed to answer", err.Error()), nil, nil
		}

		var b strings.Builder
		b.WriteString(answer.Answer)
		if len(answer.Paths) > 0 {
			b.WriteString("\n\n")
			for _, p := range answer.Paths {
				b.WriteString("能力路径: " + p + "\n")
			}
		}
		return TextResult(strings.TrimRight(b.String(), "\n")), nil, nil
	}
}
