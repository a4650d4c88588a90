package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Get once the registry is closed.
var ErrClosed = errors.New("index registry closed")

// BuildError reports a failed index construction. It is never cached, so
// the next Get for the same db_name tries again.
type BuildError struct {
	DBName string
	Err    error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build index %q: %v", e.DBName, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// Registry holds at most one Index per db_name, built on first use.
type Registry struct {
	builder Builder
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.RWMutex
	indexes map[string]Index
	closed  bool
	group   singleflight.Group
}

// NewRegistry creates a registry. Each build gets at most timeout.
func NewRegistry(builder Builder, timeout time.Duration, logger *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		builder: builder,
		timeout: timeout,
		logger:  logger.With("component", "registry"),
		indexes: make(map[string]Index),
	}
}

// Get returns the index of dbName, building it if needed. Concurrent
// callers for the same new dbName share a single build. The build itself
// is not cancelled when ctx is; ctx only bounds how long this caller waits.
func (r *Registry) Get(ctx context.Context, dbName string) (Index, error) {
	if idx, ok, err := r.lookup(dbName); ok || err != nil {
		return idx, err
	}

	ch := r.group.DoChan(dbName, func() (any, error) {
		if idx, ok, err := r.lookup(dbName); ok || err != nil {
			return idx, err
		}

		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		r.logger.Info("building index", "db_name", dbName)
		idx, err := r.builder.Build(bctx, dbName)
		if err != nil {
			r.logger.Error("index build failed", "db_name", dbName, "error", err)
			return nil, &BuildError{DBName: dbName, Err: err}
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			// Close already ran; nobody else will release this index.
			if err := idx.Close(context.WithoutCancel(ctx)); err != nil {
				r.logger.Warn("closing index built after shutdown", "db_name", dbName, "error", err)
			}
			return nil, ErrClosed
		}
		r.indexes[dbName] = idx
		r.mu.Unlock()
		return idx, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Index), nil
	}
}

func (r *Registry) lookup(dbName string) (Index, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	idx, ok := r.indexes[dbName]
	return idx, ok, nil
}

// Loaded returns the db_names with a built index, sorted.
func (r *Registry) Loaded() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.indexes))
	for name := range r.indexes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes every index. Later Gets fail with ErrClosed, and an index
// whose build finishes after Close is closed instead of stored.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var errs []error
	for name, idx := range r.indexes {
		if err := idx.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close index %q: %w", name, err))
		}
		delete(r.indexes, name)
	}
	return errors.Join(errs...)
}
