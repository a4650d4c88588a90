// Package graphstoretest starts a throwaway Neo4j for integration tests.
package graphstoretest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/kgtutor/internal/config"
	"github.com/raphaelgruber/kgtutor/internal/graphstore"
)

const password = "kgtutor-test"

// Start runs a neo4j:5 container and returns a connected client plus a
// function that closes the client and terminates the container.
func Start(ctx context.Context) (*graphstore.Client, func(), error) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "neo4j:5",
			ExposedPorts: []string{"7687/tcp"},
			Env:          map[string]string{"NEO4J_AUTH": "neo4j/" + password},
			WaitingFor:   wait.ForLog("Started.").WithStartupTimeout(120 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start neo4j container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("container host: %w", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "7687")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, fmt.Errorf("mapped port: %w", err)
	}

	cfg := config.Config{
		Neo4jURI:         fmt.Sprintf("neo4j://%s:%s", host, port.Port()),
		Neo4jUser:        "neo4j",
		Neo4jPassword:    password,
		Neo4jDatabase:    "neo4j",
		Neo4jMaxPoolSize: 10,
	}
	client, err := graphstore.New(ctx, cfg, nil, slog.New(slog.DiscardHandler))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, nil, err
	}

	cleanup := func() {
		_ = client.Close(context.Background())
		_ = container.Terminate(context.Background())
	}
	return client, cleanup, nil
}

// Write runs a write statement against the default database and returns its records.
func Write(ctx context.Context, c *graphstore.Client, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	out, err := c.Write(ctx, "", func(tx neo4j.ManagedTransaction) (any, error) {
		return graphstore.Collect(ctx, tx, cypher, params)
	})
	if err != nil {
		return nil, err
	}
	return out.([]*neo4j.Record), nil
}

// Wipe deletes every node and relationship in the default database.
func Wipe(ctx context.Context, c *graphstore.Client) error {
	_, err := Write(ctx, c, "MATCH (n) DETACH DELETE n", nil)
	return err
}
