// Package server wraps the MCP server that exposes the tutoring tools.
package server

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/raphaelgruber/kgtutor/internal/tools"
)

const instructions = "Knowledge-graph tutor. Index course material with submit_document and poll " +
	"task_status until the task completes. Use competency_paths and ask_tutor to answer learner " +
	"questions, and mark_mastered when a learner masters a concept."

// Server wraps the MCP server with its tools and lifecycle.
type Server struct {
	mcp    *mcp.Server
	logger *slog.Logger
}

// New creates an MCP server with logging middleware and every tool
// registered against deps.
func New(version string, deps *tools.Dependencies, logger *slog.Logger) *Server {
	impl := &mcp.Implementation{
		Name:    "kgtutor",
		Version: version,
	}

	s := &Server{
		mcp:    mcp.NewServer(impl, &mcp.ServerOptions{Instructions: instructions}),
		logger: logger.With("component", "mcp"),
	}
	s.mcp.AddReceivingMiddleware(LoggingMiddleware(s.logger))
	tools.RegisterAll(s.mcp, deps)
	return s
}

// Run serves on stdio and blocks until disconnect or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server", "transport", "stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}
