// Package service holds the task manager that indexes documents in the
// background and the tutor that answers questions over the graph.
package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/rag"
)

var (
	// ErrInvalidInput marks requests rejected before any work is queued.
	ErrInvalidInput = errors.New("invalid input")
	// ErrTaskNotFound means no task has the given id.
	ErrTaskNotFound = errors.New("task not found")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("task manager closed")
)

// Task messages shown to clients.
const (
	msgQueued       = "Queued for processing..."
	msgParsing      = "Parsing document..."
	msgInitializing = "Initializing index..."
	msgIndexing     = "Indexing content..."
	msgDone         = "Done"
	msgCancelling   = "Cancelling..."
	msgCancelled    = "Cancelled by user"
	msgEmptyText    = "Extracted text is empty"
)

// DefaultDBName is used when neither the request nor the configuration
// names a database.
const DefaultDBName = "neo4j"

// db_name becomes a directory and a database name.
var dbNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,62}$`)

// ValidateDBName returns the trimmed name if it is usable as a directory and
// database name. Callers substitute their default before validating.
func ValidateDBName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: db_name is required", ErrInvalidInput)
	}
	if !dbNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: db_name %q must match %s", ErrInvalidInput, name, dbNamePattern)
	}
	return name, nil
}

// Extractor turns submitted content into plain text.
type Extractor interface {
	Extract(ctx context.Context, content string, kind models.ContentKind, filename string) (string, error)
}

// IndexProvider hands out the index of a db_name.
type IndexProvider interface {
	Get(ctx context.Context, dbName string) (rag.Index, error)
}

// SubmitRequest is one document to index.
type SubmitRequest struct {
	Content  string
	Kind     models.ContentKind
	Filename string
	DBName   string
}

// TaskManagerOptions configures a TaskManager.
type TaskManagerOptions struct {
	Workers       int
	DefaultDBName string
}

type task struct {
	mu     sync.RWMutex
	snap   models.TaskSnapshot
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) snapshot() models.TaskSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := t.snap
	if s.CompletedAt != nil {
		at := *s.CompletedAt
		s.CompletedAt = &at
	}
	return s
}

// advance records job progress. While a cancel is pending the status and
// message stay at Cancelling; only the percentage moves.
func (t *task) advance(status models.TaskStatus, message string, progress int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.Terminal() {
		return
	}
	if t.snap.Status != models.TaskCancelling {
		t.snap.Status = status
		t.snap.Message = message
	}
	t.snap.Progress = max(t.snap.Progress, progress)
}

func (t *task) settle(status models.TaskStatus, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.snap.Status.Terminal() {
		return
	}
	now := time.Now()
	t.snap.Status = status
	t.snap.Message = message
	t.snap.CompletedAt = &now
	if status == models.TaskCompleted {
		t.snap.Progress = 100
	}
}

// TaskManager runs indexing jobs on a shared worker pool and tracks their
// lifecycle in memory for the life of the process.
type TaskManager struct {
	extractor Extractor
	indexes   IndexProvider
	opts      TaskManagerOptions
	metrics   *metrics.Collector
	logger    *slog.Logger

	mu     sync.RWMutex
	tasks  map[string]*task
	closed bool

	execOnce sync.Once
	exec     *executor

	baseCtx context.Context
	stopAll context.CancelFunc
}

// NewTaskManager creates a TaskManager. Workers start on the first Submit.
func NewTaskManager(extractor Extractor, indexes IndexProvider, opts TaskManagerOptions,
	collector *metrics.Collector, logger *slog.Logger) *TaskManager {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	opts.DefaultDBName = cmp.Or(opts.DefaultDBName, DefaultDBName)
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, stop := context.WithCancel(context.Background())
	return &TaskManager{
		extractor: extractor,
		indexes:   indexes,
		opts:      opts,
		metrics:   collector,
		logger:    logger.With("component", "tasks"),
		tasks:     make(map[string]*task),
		baseCtx:   baseCtx,
		stopAll:   stop,
	}
}

// DefaultDBName is the db_name given to submissions that name none.
func (m *TaskManager) DefaultDBName() string { return m.opts.DefaultDBName }

func (m *TaskManager) executor() *executor {
	m.execOnce.Do(func() {
		m.exec = newExecutor(m.opts.Workers, m.logger)
		m.logger.Info("task executor started", "workers", m.opts.Workers)
	})
	return m.exec
}

// Submit validates req, registers a queued task and schedules it. It
// returns without waiting for any part of the job.
func (m *TaskManager) Submit(req SubmitRequest) (string, error) {
	if strings.TrimSpace(req.Content) == "" {
		return "", fmt.Errorf("%w: content is empty", ErrInvalidInput)
	}
	if !req.Kind.Valid() {
		return "", fmt.Errorf("%w: unknown content kind %q", ErrInvalidInput, req.Kind)
	}
	if strings.TrimSpace(req.DBName) == "" {
		req.DBName = m.opts.DefaultDBName
	}
	dbName, err := ValidateDBName(req.DBName)
	if err != nil {
		return "", err
	}
	req.DBName = dbName

	ctx, cancel := context.WithCancel(m.baseCtx)
	t := &task{
		snap: models.TaskSnapshot{
			Status:    models.TaskQueued,
			Message:   msgQueued,
			DBName:    dbName,
			Filename:  req.Filename,
			CreatedAt: time.Now(),
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return "", ErrClosed
	}
	id := m.newID()
	t.snap.ID = id
	m.tasks[id] = t
	m.mu.Unlock()

	exec := m.executor()
	if exec == nil || !exec.enqueue(func() { m.run(t, req) }) {
		t.settle(models.TaskCancelled, msgCancelled)
		close(t.done)
		return "", ErrClosed
	}

	m.metrics.IncTask(metrics.TaskSubmitted)
	m.logger.Info("task queued", "task_id", id, "db_name", dbName, "filename", req.Filename, "kind", req.Kind)
	return id, nil
}

// newID returns a short unused id. Caller must hold m.mu.
func (m *TaskManager) newID() string {
	for {
		id := uuid.New().String()[:8]
		if _, taken := m.tasks[id]; !taken {
			return id
		}
	}
}

func (m *TaskManager) get(id string) (*task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Status returns a snapshot of task id.
func (m *TaskManager) Status(id string) (models.TaskSnapshot, bool) {
	t, ok := m.get(id)
	if !ok {
		return models.TaskSnapshot{}, false
	}
	return t.snapshot(), true
}

// Cancel requests cancellation of a queued or running task. It reports
// whether the request was accepted. A job already past its last
// checkpoint may still complete or fail.
func (m *TaskManager) Cancel(id string) bool {
	t, ok := m.get(id)
	if !ok {
		return false
	}

	t.mu.Lock()
	if !t.snap.Status.Cancellable() {
		t.mu.Unlock()
		return false
	}
	t.snap.Status = models.TaskCancelling
	t.snap.Message = msgCancelling
	t.mu.Unlock()

	t.cancel()
	m.logger.Info("task cancel requested", "task_id", id)
	return true
}

// List returns snapshots of all tasks, newest first.
func (m *TaskManager) List() []models.TaskSnapshot {
	m.mu.RLock()
	out := make([]models.TaskSnapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.snapshot())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b models.TaskSnapshot) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Wait blocks until task id reaches a terminal state or ctx is done.
func (m *TaskManager) Wait(ctx context.Context, id string) (models.TaskSnapshot, error) {
	t, ok := m.get(id)
	if !ok {
		return models.TaskSnapshot{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	select {
	case <-t.done:
		return t.snapshot(), nil
	case <-ctx.Done():
		return t.snapshot(), ctx.Err()
	}
}

// Close cancels every unfinished task and waits for the workers to stop.
func (m *TaskManager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.stopAll()
	// No executor may start after Close.
	m.execOnce.Do(func() {})
	if m.exec == nil {
		return nil
	}
	return m.exec.close(ctx)
}

// run executes one job. Cancellation is checked before extraction, before
// the index is touched and before the insert; the insert itself observes
// ctx at its own boundaries.
func (m *TaskManager) run(t *task, req SubmitRequest) {
	start := time.Now()
	ctx := t.ctx
	logger := m.logger.With("task_id", t.snap.ID, "db_name", req.DBName)

	defer close(t.done)
	defer t.cancel()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task panicked", "panic", fmt.Sprint(r))
			m.fail(t, fmt.Errorf("internal error: %v", r))
		}
	}()

	if ctx.Err() != nil {
		m.cancelled(t, logger)
		return
	}

	t.advance(models.TaskRunning, msgParsing, 10)
	text, err := m.extractor.Extract(ctx, req.Content, req.Kind, req.Filename)
	if err != nil {
		m.finishErr(t, err, logger)
		return
	}
	if strings.TrimSpace(text) == "" {
		m.fail(t, errors.New(msgEmptyText))
		return
	}

	if ctx.Err() != nil {
		m.cancelled(t, logger)
		return
	}
	t.advance(models.TaskRunning, msgInitializing, 20)
	idx, err := m.indexes.Get(ctx, req.DBName)
	if err != nil {
		m.finishErr(t, err, logger)
		return
	}

	if ctx.Err() != nil {
		m.cancelled(t, logger)
		return
	}
	t.advance(models.TaskRunning, msgIndexing, 30)
	res, err := idx.Insert(ctx, text, req.Filename, func(done, total int) {
		if total > 0 {
			t.advance(models.TaskRunning, msgIndexing, 30+done*65/total)
		}
	})
	if err != nil {
		m.finishErr(t, err, logger)
		return
	}

	t.settle(models.TaskCompleted, msgDone)
	m.metrics.IncTask(metrics.TaskCompleted)
	logger.Info("task completed",
		"chunks", res.Chunks,
		"entities", res.Entities,
		"relations", res.Relations,
		"duration_ms", time.Since(start).Milliseconds())
}

// finishErr settles a job that returned err: Cancelled when a cancel
// request was made meanwhile, Failed otherwise.
func (m *TaskManager) finishErr(t *task, err error, logger *slog.Logger) {
	if t.ctx.Err() != nil {
		m.cancelled(t, logger)
		return
	}
	logger.Error("task failed", "error", err)
	m.fail(t, err)
}

func (m *TaskManager) fail(t *task, err error) {
	msg := err.Error()
	if msg != msgEmptyText {
		msg = "Error: " + msg
	}
	t.settle(models.TaskFailed, msg)
	m.metrics.IncTask(metrics.TaskFailed)
}

func (m *TaskManager) cancelled(t *task, logger *slog.Logger) {
	t.settle(models.TaskCancelled, msgCancelled)
	m.metrics.IncTask(metrics.TaskCancelled)
	logger.Info("task cancelled")
}
