// Package app wires the tutoring services together. It is the dependency
// injection root shared by the HTTP and MCP entry points.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/kgtutor/internal/api"
	"github.com/raphaelgruber/kgtutor/internal/competency"
	"github.com/raphaelgruber/kgtutor/internal/config"
	"github.com/raphaelgruber/kgtutor/internal/extract"
	"github.com/raphaelgruber/kgtutor/internal/graphstore"
	"github.com/raphaelgruber/kgtutor/internal/llm"
	"github.com/raphaelgruber/kgtutor/internal/mastery"
	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/rag"
	"github.com/raphaelgruber/kgtutor/internal/service"
	"github.com/raphaelgruber/kgtutor/internal/tools"
)

// App holds every long-lived service.
type App struct {
	Config  config.Config
	Metrics *metrics.Collector
	Graph   *graphstore.Client
	Indexes *rag.Registry
	Tasks   *service.TaskManager
	Paths   *competency.Resolver
	Mastery *mastery.Engine
	Tutor   *service.Tutor

	logger *slog.Logger
}

// New connects to Neo4j and the model providers and builds the services.
// Chunk databases are connected lazily, per db_name, by the index registry.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	mc := metrics.NewCollector()

	graph, err := graphstore.New(ctx, cfg, mc, logger)
	if err != nil {
		return nil, fmt.Errorf("connect neo4j: %w", err)
	}

	embedder, err := llm.NewEmbedder(ctx, cfg, mc, logger)
	if err != nil {
		_ = graph.Close(ctx)
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	model, err := llm.NewModel(ctx, cfg, mc, logger)
	if err != nil {
		_ = graph.Close(ctx)
		return nil, fmt.Errorf("init model: %w", err)
	}

	builder := rag.NewStoreBuilder(cfg, graph, embedder, model, mc, logger)
	indexes := rag.NewRegistry(builder, cfg.IndexBuildTimeout, logger)

	tasks := service.NewTaskManager(extract.New(), indexes, service.TaskManagerOptions{
		Workers:       cfg.IndexWorkers,
		DefaultDBName: cfg.DefaultDBName,
	}, mc, logger)

	paths := competency.NewResolver(
		competency.NewNeo4jStore(graph, cfg.Neo4jDatabase),
		competency.Options{RootLevel: cfg.RootLevel},
		logger,
	)

	return &App{
		Config:  cfg,
		Metrics: mc,
		Graph:   graph,
		Indexes: indexes,
		Tasks:   tasks,
		Paths:   paths,
		Mastery: mastery.NewEngine(mastery.NewNeo4jStore(graph, cfg.Neo4jDatabase), logger),
		Tutor:   service.NewTutor(graph, paths, model, logger),
		logger:  logger,
	}, nil
}

// graphDatabase maps a db_name onto the Neo4j database holding its graph.
func (a *App) graphDatabase(dbName string) string {
	return a.Graph.DatabaseFor(dbName)
}

// APIDeps returns the dependencies of the HTTP router.
func (a *App) APIDeps() api.Deps {
	return api.Deps{
		Tasks:         a.Tasks,
		Paths:         a.Paths,
		Mastery:       a.Mastery,
		Tutor:         a.Tutor,
		Indexes:       a.Indexes,
		GraphDatabase: a.graphDatabase,
		DefaultDBName: a.Tasks.DefaultDBName(),
		Metrics:       a.Metrics,
		Logger:        a.logger,
	}
}

// ToolDeps returns the dependencies of the MCP tools.
func (a *App) ToolDeps() *tools.Dependencies {
	return &tools.Dependencies{
		Tasks:         a.Tasks,
		Paths:         a.Paths,
		Mastery:       a.Mastery,
		Tutor:         a.Tutor,
		GraphDatabase: a.graphDatabase,
		Logger:        a.logger,
	}
}

// Close stops the task workers, then releases indexes and the Neo4j driver.
func (a *App) Close(ctx context.Context) error {
	return errors.Join(
		a.Tasks.Close(ctx),
		a.Indexes.Close(ctx),
		a.Graph.Close(ctx),
	)
}
