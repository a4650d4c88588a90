// Package tools provides MCP tool handlers and registration.
package tools

import (
	"context"
	"log/slog"

	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

// TaskService submits and tracks indexing tasks.
type TaskService interface {
	Submit(req service.SubmitRequest) (string, error)
	Status(id string) (models.TaskSnapshot, bool)
	Cancel(id string) bool
	List() []models.TaskSnapshot
}

// PathResolver maps questions to competency paths.
type PathResolver interface {
	Resolve(ctx context.Context, question string) []string
}

// MasteryService unlocks concepts when a prerequisite is mastered.
type MasteryService interface {
	MarkMastered(ctx context.Context, nodeID string) ([]string, error)
}

// Tutor answers learner questions.
type Tutor interface {
	Answer(ctx context.Context, req service.AskRequest) (service.Answer, error)
}

// Dependencies holds shared services for tool handlers.
// Passed to handler factories via closure capture.
type Dependencies struct {
	Tasks   TaskService
	Paths   PathResolver
	Mastery MasteryService
	Tutor   Tutor
	// GraphDatabase maps a db_name onto the Neo4j database used for
	// tutor evidence. Nil reads the default database.
	GraphDatabase func(dbName string) string
	Logger        *slog.Logger
}
