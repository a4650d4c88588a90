// Package main provides the entry point for the kgtutor MCP server.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/kgtutor/internal/app"
	"github.com/raphaelgruber/kgtutor/internal/config"
	"github.com/raphaelgruber/kgtutor/internal/server"
)

const version = "0.1.0"

func main() {
	_ = config.LoadDotEnv(".env")
	cfg := config.Load()

	// Dual output: stderr text + file JSON. stdout carries the MCP protocol.
	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	logger.Info("kgtutor-mcp starting",
		"version", version,
		"neo4j_uri", cfg.Neo4jURI,
		"surrealdb_url", cfg.SurrealDBURL,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start services", "error", err)
		os.Exit(1)
	}
	defer func() {
		closeCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := application.Close(closeCtx); err != nil {
			logger.Error("failed to close services", "error", err)
		}
	}()

	srv := server.New(version, application.ToolDeps(), logger)
	logger.Info("server ready, awaiting connections")

	if err := srv.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
