// Package graphstore executes parameterized Cypher against Neo4j.
package graphstore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/raphaelgruber/kgtutor/internal/config"
	"github.com/raphaelgruber/kgtutor/internal/metrics"
)

// Client wraps a Neo4j driver bound to a default database.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string

	multiDatabase bool
	metrics       *metrics.Collector
	logger        *slog.Logger
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (*Client, error) {
	auth := neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, "")
	driver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, auth, func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = cfg.Neo4jMaxPoolSize
		c.SocketConnectTimeout = 10 * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init driver: %w", ErrUnavailable, err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("%w: verify connectivity: %w", ErrUnavailable, err)
	}

	return NewFromDriver(driver, cfg.Neo4jDatabase, cfg.Neo4jMultiDatabase, collector, logger), nil
}

// NewFromDriver wraps an existing driver.
func NewFromDriver(driver neo4j.DriverWithContext, database string, multiDatabase bool, collector *metrics.Collector, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		Driver:        driver,
		Database:      database,
		multiDatabase: multiDatabase,
		metrics:       collector,
		logger:        logger.With("component", "neo4j"),
	}
}

// Close closes the driver.
func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	return c.Driver.Close(ctx)
}

// Read runs fn in a managed read transaction against database ("" = default).
func (c *Client) Read(ctx context.Context, database string, fn neo4j.ManagedTransactionWork) (any, error) {
	start := time.Now()
	session := c.session(ctx, database, neo4j.AccessModeRead)
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, fn)
	c.metrics.Since(metrics.OpGraphRead, start, err)
	return out, classify(err)
}

// Write runs fn in a managed write transaction against database ("" = default).
func (c *Client) Write(ctx context.Context, database string, fn neo4j.ManagedTransactionWork) (any, error) {
	start := time.Now()
	session := c.session(ctx, database, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, fn)
	c.metrics.Since(metrics.OpGraphWrite, start, err)
	return out, classify(err)
}

func (c *Client) session(ctx context.Context, database string, mode neo4j.AccessMode) neo4j.SessionWithContext {
	if database == "" {
		database = c.Database
	}
	return c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   mode,
		DatabaseName: database,
	})
}

// EnsureDatabase returns the Neo4j database that should hold the graph of
// workspace. With multi-database mode on, a dedicated database is created
// when missing; otherwise every workspace shares the default database.
func (c *Client) EnsureDatabase(ctx context.Context, workspace string) (string, error) {
	if !c.multiDatabase {
		return c.Database, nil
	}

	name := DatabaseName(workspace)
	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: "system",
	})
	defer session.Close(ctx)

	res, err := session.Run(ctx, "CREATE DATABASE $name IF NOT EXISTS WAIT", map[string]any{"name": name})
	if err == nil {
		_, err = res.Consume(ctx)
	}
	if err != nil {
		c.logger.Warn("create database failed, using default database", "database", name, "error", err)
		return c.Database, nil
	}
	return name, nil
}

// DatabaseFor returns the database holding workspace without creating it.
func (c *Client) DatabaseFor(workspace string) string {
	if !c.multiDatabase || workspace == "" {
		return c.Database
	}
	return DatabaseName(workspace)
}

// EnsureSchema creates the constraints used by indexed entities.
// Failures are logged since restricted users may lack schema privileges.
func (c *Client) EnsureSchema(ctx context.Context, database string) {
	session := c.session(ctx, database, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			c.logger.Warn("neo4j schema init failed (continuing)", "database", database, "error", err)
		}
	}
}

var schemaStatements = []string{
	`CREATE CONSTRAINT entity_workspace_name IF NOT EXISTS FOR (e:Entity) REQUIRE (e.workspace, e.name) IS UNIQUE`,
	`CREATE INDEX entity_workspace IF NOT EXISTS FOR (e:Entity) ON (e.workspace)`,
}

var invalidDBChars = regexp.MustCompile(`[^a-z0-9.-]+`)

// DatabaseName maps a workspace name onto Neo4j's database naming rules:
// lowercase ASCII letters, digits, dots and dashes, starting with a letter,
// 3 to 63 characters.
func DatabaseName(workspace string) string {
	name := invalidDBChars.ReplaceAllString(strings.ToLower(workspace), "-")
	name = strings.Trim(name, "-.")
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		name = "kg-" + name
	}
	for len(name) < 3 {
		name += "0"
	}
	if len(name) > 63 {
		name = strings.TrimRight(name[:63], "-.")
	}
	return name
}
