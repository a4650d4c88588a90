package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/raphaelgruber/kgtutor/internal/config"
	"github.com/raphaelgruber/kgtutor/internal/db"
	"github.com/raphaelgruber/kgtutor/internal/graphstore"
	"github.com/raphaelgruber/kgtutor/internal/llm"
	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/models"
)

// Builder constructs the Index of a db_name.
type Builder interface {
	Build(ctx context.Context, dbName string) (Index, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context, dbName string) (Index, error)

func (f BuilderFunc) Build(ctx context.Context, dbName string) (Index, error) { return f(ctx, dbName) }

// StoreBuilder builds GraphIndex values backed by SurrealDB and Neo4j.
type StoreBuilder struct {
	cfg      config.Config
	graph    *graphstore.Client
	embedder *llm.Embedder
	model    *llm.Model
	metrics  *metrics.Collector
	logger   *slog.Logger
}

// NewStoreBuilder creates a StoreBuilder sharing the given clients across indexes.
func NewStoreBuilder(cfg config.Config, graph *graphstore.Client, embedder *llm.Embedder, model *llm.Model,
	collector *metrics.Collector, logger *slog.Logger) *StoreBuilder {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreBuilder{
		cfg:      cfg,
		graph:    graph,
		embedder: embedder,
		model:    model,
		metrics:  collector,
		logger:   logger,
	}
}

// Build prepares workingDir/dbName with a completion cache, connects the
// chunk database named dbName and makes sure the graph database exists.
func (b *StoreBuilder) Build(ctx context.Context, dbName string) (_ Index, err error) {
	start := time.Now()
	defer func() { b.metrics.Since(metrics.OpIndexBuild, start, err) }()

	dir := filepath.Join(b.cfg.WorkingDir, dbName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create working dir: %w", err)
	}

	cache, err := llm.OpenCache(filepath.Join(dir, "llm_cache.db"))
	if err != nil {
		return nil, err
	}

	chunks, err := db.NewClient(ctx, db.ConfigFor(b.cfg, dbName), b.metrics, b.logger)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("chunk store: %w", err)
	}
	if err := chunks.InitSchema(ctx, b.cfg.EmbedDimension); err != nil {
		_ = chunks.Close(ctx)
		_ = cache.Close()
		return nil, err
	}

	database, err := b.graph.EnsureDatabase(ctx, dbName)
	if err != nil {
		_ = chunks.Close(ctx)
		_ = cache.Close()
		return nil, err
	}
	b.graph.EnsureSchema(ctx, database)

	b.logger.Info("index ready",
		"db_name", dbName,
		"dir", dir,
		"graph_database", database,
		"duration_ms", time.Since(start).Milliseconds())

	return NewGraphIndex(dbName,
		chunks,
		NewNeo4jGraph(b.graph, database, dbName),
		b.embedder,
		b.model.WithCache(cache),
		Options{Chunking: models.DefaultChunkingConfig(), ExtractConcurrency: b.cfg.ExtractConcurrency},
		b.metrics,
		b.logger,
		chunks.Close,
		func(context.Context) error { return cache.Close() },
	), nil
}
