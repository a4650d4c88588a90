package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/rag"
)

type extractFunc func(ctx context.Context, content string, kind models.ContentKind, filename string) (string, error)

func (f extractFunc) Extract(ctx context.Context, content string, kind models.ContentKind, filename string) (string, error) {
	return f(ctx, content, kind, filename)
}

func passthrough() extractFunc {
	return func(_ context.Context, content string, _ models.ContentKind, _ string) (string, error) {
		return content, nil
	}
}

// fakeIndex blocks inserts on gate (when set) and records inserted texts.
type fakeIndex struct {
	gate    chan struct{}
	started chan struct{}
	err     error
	panics  bool

	mu       sync.Mutex
	inserted []string
}

func (f *fakeIndex) Insert(ctx context.Context, text, _ string, progress rag.ProgressFunc) (rag.InsertResult, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.panics {
		panic("boom")
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return rag.InsertResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return rag.InsertResult{}, f.err
	}
	progress(1, 2)
	progress(2, 2)
	f.mu.Lock()
	f.inserted = append(f.inserted, text)
	f.mu.Unlock()
	return rag.InsertResult{Chunks: 1}, nil
}

func (f *fakeIndex) Query(context.Context, string, rag.Mode, int) (rag.QueryResult, error) {
	return rag.QueryResult{}, nil
}

func (f *fakeIndex) Close(context.Context) error { return nil }

type fakeProvider struct {
	mu    sync.Mutex
	index map[string]rag.Index
	def   rag.Index
	err   error
}

func (p *fakeProvider) Get(_ context.Context, dbName string) (rag.Index, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx, ok := p.index[dbName]; ok {
		return idx, nil
	}
	return p.def, nil
}

func newTestManager(t *testing.T, ex Extractor, idx rag.Index, workers int) *TaskManager {
	t.Helper()
	m := NewTaskManager(ex, &fakeProvider{def: idx}, TaskManagerOptions{Workers: workers}, nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func waitTerminal(t *testing.T, m *TaskManager, id string) models.TaskSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := m.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, snap.Status.Terminal(), "status %s", snap.Status)
	return snap
}

func TestSubmitCompletes(t *testing.T) {
	idx := &fakeIndex{}
	m := newTestManager(t, passthrough(), idx, 2)

	id, err := m.Submit(SubmitRequest{Content: "栈是一种后进先出的结构", Kind: models.ContentText})
	require.NoError(t, err)
	require.Len(t, id, 8)

	snap, ok := m.Status(id)
	require.True(t, ok, "id resolvable right after submit")
	assert.Contains(t, []models.TaskStatus{models.TaskQueued, models.TaskRunning, models.TaskCompleted}, snap.Status)
	assert.Equal(t, DefaultDBName, snap.DBName)

	snap = waitTerminal(t, m, id)
	assert.Equal(t, models.TaskCompleted, snap.Status)
	assert.Equal(t, "Done", snap.Message)
	assert.Equal(t, 100, snap.Progress)
	assert.NotNil(t, snap.CompletedAt)
	assert.Equal(t, []string{"栈是一种后进先出的结构"}, idx.inserted)
}

func TestSubmitValidation(t *testing.T) {
	m := newTestManager(t, passthrough(), &fakeIndex{}, 1)

	cases := []SubmitRequest{
		{Content: "", Kind: models.ContentText},
		{Content: "   ", Kind: models.ContentText},
		{Content: "x", Kind: "xml"},
		{Content: "x", Kind: models.ContentText, DBName: "../etc"},
		{Content: "x", Kind: models.ContentText, DBName: "-leading-dash"},
	}
	for _, req := range cases {
		_, err := m.Submit(req)
		assert.ErrorIs(t, err, ErrInvalidInput, "%+v", req)
	}
	assert.Empty(t, m.List(), "rejected submissions create no task")
}

func TestValidateDBName(t *testing.T) {
	_, err := ValidateDBName("  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	name, err := ValidateDBName(" course_2024.v1-a ")
	require.NoError(t, err)
	assert.Equal(t, "course_2024.v1-a", name)

	_, err = ValidateDBName("数据结构")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestSubmitUsesConfiguredDefaultDB(t *testing.T) {
	m := NewTaskManager(passthrough(), &fakeProvider{def: &fakeIndex{}},
		TaskManagerOptions{Workers: 1, DefaultDBName: "course"}, nil, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = m.Close(context.Background()) })

	assert.Equal(t, "course", m.DefaultDBName())
	id, err := m.Submit(SubmitRequest{Content: "队列", Kind: models.ContentText})
	require.NoError(t, err)
	snap, ok := m.Status(id)
	require.True(t, ok)
	assert.Equal(t, "course", snap.DBName)
}

func TestUnknownTask(t *testing.T) {
	m := newTestManager(t, passthrough(), &fakeIndex{}, 1)

	_, ok := m.Status("nope")
	assert.False(t, ok)
	assert.False(t, m.Cancel("nope"))
	_, err := m.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCancelRunningTask(t *testing.T) {
	idx := &fakeIndex{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	m := newTestManager(t, passthrough(), idx, 1)

	id, err := m.Submit(SubmitRequest{Content: "text", Kind: models.ContentText})
	require.NoError(t, err)
	<-idx.started

	assert.True(t, m.Cancel(id))
	snap, _ := m.Status(id)
	assert.Contains(t, []models.TaskStatus{models.TaskCancelling, models.TaskCancelled}, snap.Status)

	snap = waitTerminal(t, m, id)
	assert.Equal(t, models.TaskCancelled, snap.Status)
	assert.Equal(t, "Cancelled by user", snap.Message)
	assert.False(t, m.Cancel(id), "terminal tasks cannot be cancelled")
}

func TestCancelQueuedTask(t *testing.T) {
	idx := &fakeIndex{gate: make(chan struct{}), started: make(chan struct{}, 2)}
	m := newTestManager(t, passthrough(), idx, 1)

	first, err := m.Submit(SubmitRequest{Content: "first", Kind: models.ContentText})
	require.NoError(t, err)
	<-idx.started

	second, err := m.Submit(SubmitRequest{Content: "second", Kind: models.ContentText})
	require.NoError(t, err)
	snap, _ := m.Status(second)
	assert.Equal(t, models.TaskQueued, snap.Status)
	assert.Equal(t, "Queued for processing...", snap.Message)

	assert.True(t, m.Cancel(second))
	assert.False(t, m.Cancel(second), "already cancelling")

	close(idx.gate)
	assert.Equal(t, models.TaskCompleted, waitTerminal(t, m, first).Status)
	assert.Equal(t, models.TaskCancelled, waitTerminal(t, m, second).Status)
	assert.Equal(t, []string{"first"}, idx.inserted)
}

func TestFailedTasks(t *testing.T) {
	t.Run("extraction error", func(t *testing.T) {
		m := newTestManager(t, extractFunc(func(context.Context, string, models.ContentKind, string) (string, error) {
			return "", errors.New("corrupt document: bad pdf")
		}), &fakeIndex{}, 1)
		id, err := m.Submit(SubmitRequest{Content: "AAAA", Kind: models.ContentBinary, Filename: "a.pdf"})
		require.NoError(t, err)

		snap := waitTerminal(t, m, id)
		assert.Equal(t, models.TaskFailed, snap.Status)
		assert.Equal(t, "Error: corrupt document: bad pdf", snap.Message)
	})

	t.Run("empty extracted text", func(t *testing.T) {
		m := newTestManager(t, extractFunc(func(context.Context, string, models.ContentKind, string) (string, error) {
			return "  \n", nil
		}), &fakeIndex{}, 1)
		id, err := m.Submit(SubmitRequest{Content: "AAAA", Kind: models.ContentBinary})
		require.NoError(t, err)

		snap := waitTerminal(t, m, id)
		assert.Equal(t, models.TaskFailed, snap.Status)
		assert.Equal(t, "Extracted text is empty", snap.Message)
	})

	t.Run("index build error", func(t *testing.T) {
		m := NewTaskManager(passthrough(), &fakeProvider{err: &rag.BuildError{DBName: "neo4j", Err: errors.New("refused")}},
			TaskManagerOptions{Workers: 1}, nil, nil)
		defer m.Close(context.Background())
		id, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText})
		require.NoError(t, err)

		snap := waitTerminal(t, m, id)
		assert.Equal(t, models.TaskFailed, snap.Status)
		assert.Contains(t, snap.Message, "refused")
	})

	t.Run("insert error", func(t *testing.T) {
		m := newTestManager(t, passthrough(), &fakeIndex{err: errors.New("graph write failed")}, 1)
		id, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText})
		require.NoError(t, err)

		snap := waitTerminal(t, m, id)
		assert.Equal(t, models.TaskFailed, snap.Status)
		assert.NotEmpty(t, snap.Message)
	})
}

func TestPanicIsolation(t *testing.T) {
	bad := &fakeIndex{panics: true}
	good := &fakeIndex{}
	provider := &fakeProvider{index: map[string]rag.Index{"bad": bad}, def: good}
	m := NewTaskManager(passthrough(), provider, TaskManagerOptions{Workers: 1}, nil, nil)
	defer m.Close(context.Background())

	badID, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText, DBName: "bad"})
	require.NoError(t, err)
	goodID, err := m.Submit(SubmitRequest{Content: "y", Kind: models.ContentText})
	require.NoError(t, err)

	snap := waitTerminal(t, m, badID)
	assert.Equal(t, models.TaskFailed, snap.Status)
	assert.Contains(t, snap.Message, "boom")
	assert.Equal(t, models.TaskCompleted, waitTerminal(t, m, goodID).Status)
}

func TestSlowJobDoesNotBlockOthers(t *testing.T) {
	slow := &fakeIndex{gate: make(chan struct{}), started: make(chan struct{}, 1)}
	fast := &fakeIndex{}
	provider := &fakeProvider{index: map[string]rag.Index{"slow": slow}, def: fast}
	m := NewTaskManager(passthrough(), provider, TaskManagerOptions{Workers: 2}, nil, nil)
	defer m.Close(context.Background())

	slowID, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText, DBName: "slow"})
	require.NoError(t, err)
	<-slow.started

	fastID, err := m.Submit(SubmitRequest{Content: "y", Kind: models.ContentText})
	require.NoError(t, err)
	assert.Equal(t, models.TaskCompleted, waitTerminal(t, m, fastID).Status)

	snap, _ := m.Status(slowID)
	assert.Equal(t, models.TaskRunning, snap.Status)
	assert.Equal(t, "Indexing content...", snap.Message)
	close(slow.gate)
	assert.Equal(t, models.TaskCompleted, waitTerminal(t, m, slowID).Status)
}

func TestSubmitDoesNotBlock(t *testing.T) {
	idx := &fakeIndex{gate: make(chan struct{})}
	m := newTestManager(t, passthrough(), idx, 1)

	start := time.Now()
	for range 20 {
		_, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText})
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, m.List(), 20)
	close(idx.gate)
}

func TestListNewestFirst(t *testing.T) {
	m := newTestManager(t, passthrough(), &fakeIndex{}, 1)
	var ids []string
	for range 3 {
		id, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText})
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	list := m.List()
	require.Len(t, list, 3)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[0], list[2].ID)
}

func TestExecutorCreatedOnce(t *testing.T) {
	m := newTestManager(t, passthrough(), &fakeIndex{}, 2)

	var wg sync.WaitGroup
	var submitted atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText}); err == nil {
				submitted.Add(1)
			}
		}()
	}
	wg.Wait()

	first := m.executor()
	assert.Same(t, first, m.executor())
	assert.Equal(t, int32(16), submitted.Load())
	for _, s := range m.List() {
		waitTerminal(t, m, s.ID)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	m := NewTaskManager(passthrough(), &fakeProvider{def: &fakeIndex{}}, TaskManagerOptions{}, nil, nil)
	require.NoError(t, m.Close(context.Background()))

	_, err := m.Submit(SubmitRequest{Content: "x", Kind: models.ContentText})
	assert.ErrorIs(t, err, ErrClosed)
}
