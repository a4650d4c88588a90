package graphstore

import (
	"errors"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

var (
	// ErrUnavailable means the graph store could not be reached.
	ErrUnavailable = errors.New("graph store unavailable")
	// ErrQuery means a query was rejected or failed while running.
	ErrQuery = errors.New("graph query failed")
)

// classify tags driver errors with ErrUnavailable or ErrQuery. Errors
// raised by transaction callbacks themselves pass through untouched.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case neo4j.IsConnectivityError(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case neo4j.IsNeo4jError(err), neo4j.IsUsageError(err), neo4j.IsTransactionExecutionLimit(err):
		return fmt.Errorf("%w: %w", ErrQuery, err)
	default:
		return err
	}
}
