// Package api exposes the tutoring backend over HTTP.
package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/rag"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

// TaskService is the task manager as seen by handlers.
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

// MasteryService records learner progress.
type MasteryService interface {
	MarkMastered(ctx context.Context, nodeID string) ([]string, error)
	ModuleProgress(ctx context.Context) ([]models.ModuleProgress, error)
	RecordAnswer(ctx context.Context, questionID string, correct bool) error
}

// Tutor answers learner questions.
type Tutor interface {
	Answer(ctx context.Context, req service.AskRequest) (service.Answer, error)
}

// IndexProvider hands out per-database indexes for /query.
type IndexProvider interface {
	Get(ctx context.Context, dbName string) (rag.Index, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Tasks   TaskService
	Paths   PathResolver
	Mastery MasteryService
	Tutor   Tutor
	Indexes IndexProvider
	// GraphDatabase maps a db_name onto the Neo4j database used for
	// evidence lookup. Nil reads the default database.
	GraphDatabase func(dbName string) string
	// DefaultDBName is the db_name of requests that name none. It must be
	// the task manager's default so queries find what uploads indexed.
	DefaultDBName string
	Metrics       *metrics.Collector
	Logger        *slog.Logger
}

// Options configures the router.
type Options struct {
	CORSOrigins []string
	// EventInterval is how often /task_events checks for changes.
	EventInterval time.Duration
}

// Handler serves the HTTP routes.
type Handler struct {
	deps Deps
	opts Options
	log  *slog.Logger
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps, opts Options) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.EventInterval <= 0 {
		opts.EventInterval = 500 * time.Millisecond
	}
	h := &Handler{deps: deps, opts: opts, log: deps.Logger.With("component", "http")}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))
	router.Use(cors.New(corsConfig(opts.CORSOrigins)))

	router.GET("/health", h.health)
	router.GET("/stats", h.stats)

	router.POST("/upload_doc", h.uploadDoc)
	router.GET("/task_status", h.taskStatus)
	router.POST("/cancel_task", h.cancelTask)
	router.GET("/tasks", h.listTasks)
	router.GET("/task_events", h.taskEvents)

	router.GET("/competency_paths", h.competencyPaths)
	router.POST("/competency_paths", h.competencyPaths)
	router.POST("/zpd_update", h.zpdUpdate)
	router.GET("/modules", h.modules)
	router.POST("/submit_answer", h.submitAnswer)

	router.POST("/llm", h.ask)
	router.POST("/query", h.query)

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "Authorization", "X-Requested-With"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

const slowRequestThreshold = 100 * time.Millisecond

// requestLogger logs every request, slow ones at WARN.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		attrs := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", duration.Milliseconds(),
		}
		switch {
		case len(c.Errors) > 0:
			attrs = append(attrs, "error", c.Errors.String())
			logger.Error("request failed", attrs...)
		case duration > slowRequestThreshold && c.FullPath() != "/task_events":
			logger.Warn("slow request", attrs...)
		default:
			logger.Debug("request completed", attrs...)
		}
	}
}
