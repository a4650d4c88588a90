package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrTransactionConflict indicates concurrent writers touched the same records.
	// Writes retry it a few times before giving up.
	ErrTransactionConflict = errors.New("transaction conflict")

	// ErrDimensionMismatch means an embedding does not match the HNSW index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound indicates the requested chunk does not exist.
	ErrNotFound = errors.New("chunk not found")
)

// wrapQueryError maps known SurrealDB query errors onto the sentinels above.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		case strings.Contains(msg, "vector dimension"):
			return fmt.Errorf("%w: %s", ErrDimensionMismatch, msg)
		}
	}
	return err
}

const (
	conflictRetries = 3
	conflictBackoff = 50 * time.Millisecond
)

// retryConflict runs fn until it succeeds, fails with anything other than a
// transaction conflict, or conflictRetries attempts are used up. Two index
// workers writing the same db_name can collide on shared chunk ids.
func retryConflict(ctx context.Context, fn func() error) error {
	var err error
	for attempt := range conflictRetries {
		if err = fn(); !errors.Is(err, ErrTransactionConflict) || attempt == conflictRetries-1 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff * time.Duration(attempt+1)):
		}
	}
	return err
}
