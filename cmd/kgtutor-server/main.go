// Package main provides the HTTP server for kgtutor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/kgtutor/internal/api"
	"github.com/raphaelgruber/kgtutor/internal/app"
	"github.com/raphaelgruber/kgtutor/internal/config"
)

const version = "0.1.0"

func main() {
	envFile := flag.String("env", ".env", "dotenv file read before the environment")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}
	cfg := config.Load()

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer closeLog()

	logger.Info("starting kgtutor-server",
		"version", version,
		"port", cfg.Port,
		"neo4j_uri", cfg.Neo4jURI,
		"surrealdb_url", cfg.SurrealDBURL,
		"llm_model", cfg.LLMModel,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	application, err := app.New(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("failed to start services", "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(application.APIDeps(), api.Options{CORSOrigins: cfg.CORSOrigins})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Long for LLM responses
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP API available", "url", fmt.Sprintf("http://localhost:%s/", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := application.Close(ctx); err != nil {
		logger.Error("failed to close services", "error", err)
	}

	logger.Info("server stopped")
}
