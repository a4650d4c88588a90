package tools_test

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kgtutor/internal/mastery"
	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/service"
	"github.com/raphaelgruber/kgtutor/internal/tools"
)

type fakeTasks struct {
	mu    sync.Mutex
	order []string
	tasks map[string]models.TaskSnapshot
}

func (f *fakeTasks) Submit(req service.SubmitRequest) (string, error) {
	if _, err := service.ValidateDBName(cmp.Or(req.DBName, service.DefaultDBName)); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("task%d", len(f.order)+1)
	f.order = append([]string{id}, f.order...)
	f.tasks[id] = models.TaskSnapshot{ID: id, Status: models.TaskQueued, DBName: req.DBName}
	return id, nil
}

func (f *fakeTasks) Status(id string) (models.TaskSnapshot, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.tasks[id]
	return s, ok
}

func (f *fakeTasks) Cancel(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.tasks[id]
	if !ok || !s.Status.Cancellable() {
		return false
	}
	s.Status = models.TaskCancelling
	f.tasks[id] = s
	return true
}

func (f *fakeTasks) List() []models.TaskSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.TaskSnapshot, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.tasks[id])
	}
	return out
}

type fakePaths struct{}

func (fakePaths) Resolve(_ context.Context, question string) []string {
	if question == "数据结构" {
		return []string{"计算思维 -> 抽象建模 -> 数据结构"}
	}
	return []string{}
}

type fakeMastery struct{}

func (fakeMastery) MarkMastered(_ context.Context, nodeID string) ([]string, error) {
	switch nodeID {
	case "":
		return nil, mastery.ErrInvalidID
	case "4:x:1":
		return []string{"4:x:2"}, nil
	default:
		return nil, fmt.Errorf("mark %s: %w", nodeID, mastery.ErrNodeNotFound)
	}
}

type fakeTutor struct {
	got service.AskRequest
}

func (f *fakeTutor) Answer(_ context.Context, req service.AskRequest) (service.Answer, error) {
	f.got = req
	if req.Question == "" {
		return service.Answer{}, service.ErrInvalidInput
	}
	return service.Answer{Answer: "栈是后进先出的结构", Paths: []string{"计算思维 -> 数据结构"}}, nil
}

type harness struct {
	session *mcp.ClientSession
	tasks   *fakeTasks
	tutor   *fakeTutor
}

func startServer(t *testing.T) *harness {
	t.Helper()
	h := &harness{tasks: &fakeTasks{tasks: map[string]models.TaskSnapshot{}}, tutor: &fakeTutor{}}

	server := mcp.NewServer(&mcp.Implementation{Name: "test-kgtutor", Version: "0.0.1-test"}, nil)
	tools.RegisterAll(server, &tools.Dependencies{
		Tasks:         h.tasks,
		Paths:         fakePaths{},
		Mastery:       fakeMastery{},
		Tutor:         h.tutor,
		GraphDatabase: func(db string) string { return "g-" + db },
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	go func() { _ = server.Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	h.session = session
	return h
}

func (h *harness) call(t *testing.T, name string, args map[string]any) (string, bool) {
	t.Helper()
	result, err := h.session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content should be TextContent")
	return text.Text, result.IsError
}

func TestToolsRegistered(t *testing.T) {
	h := startServer(t)

	result, err := h.session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"ping", "submit_document", "task_status", "cancel_task", "list_tasks",
		"competency_paths", "mark_mastered", "ask_tutor",
	}, names)
}

func TestPing(t *testing.T) {
	h := startServer(t)

	text, isErr := h.call(t, "ping", map[string]any{})
	assert.False(t, isErr)
	assert.Equal(t, "pong", text)

	text, _ = h.call(t, "ping", map[string]any{"echo": "hello world"})
	assert.Equal(t, "hello world", text)

	_, err := h.tasks.Submit(service.SubmitRequest{Content: "队列", Kind: models.ContentText, DBName: "course-1"})
	require.NoError(t, err)
	text, _ = h.call(t, "ping", map[string]any{})
	assert.Equal(t, "pong (1 indexing tasks in progress)", text)
}

func TestTaskTools(t *testing.T) {
	h := startServer(t)

	text, isErr := h.call(t, "submit_document", map[string]any{"text": "栈是一种数据结构", "db_name": "course-1"})
	require.False(t, isErr, text)
	var submitted struct {
		OK     bool   `json:"ok"`
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &submitted))
	assert.True(t, submitted.OK)
	assert.Equal(t, "task1", submitted.TaskID)

	t.Run("nothing to index", func(t *testing.T) {
		_, isErr := h.call(t, "submit_document", map[string]any{"filename": "a.pdf"})
		assert.True(t, isErr)
	})

	t.Run("bad db_name", func(t *testing.T) {
		_, isErr := h.call(t, "submit_document", map[string]any{"text": "x", "db_name": "../x"})
		assert.True(t, isErr)
	})

	t.Run("status", func(t *testing.T) {
		text, isErr := h.call(t, "task_status", map[string]any{"task_id": "task1"})
		require.False(t, isErr)
		var snap models.TaskSnapshot
		require.NoError(t, json.Unmarshal([]byte(text), &snap))
		assert.Equal(t, models.TaskQueued, snap.Status)
		assert.Equal(t, "course-1", snap.DBName)

		_, isErr = h.call(t, "task_status", map[string]any{"task_id": "missing"})
		assert.True(t, isErr)
	})

	t.Run("cancel", func(t *testing.T) {
		text, isErr := h.call(t, "cancel_task", map[string]any{"task_id": "task1"})
		assert.False(t, isErr)
		assert.Contains(t, text, "task1")

		text, isErr = h.call(t, "cancel_task", map[string]any{"task_id": "task1"})
		assert.True(t, isErr)
		assert.Contains(t, text, "cancelling")
	})

	t.Run("list", func(t *testing.T) {
		_, _ = h.call(t, "submit_document", map[string]any{"text": "队列"})
		text, isErr := h.call(t, "list_tasks", map[string]any{"limit": 1})
		require.False(t, isErr)
		var tasks []models.TaskSnapshot
		require.NoError(t, json.Unmarshal([]byte(text), &tasks))
		require.Len(t, tasks, 1)
		assert.Equal(t, "task2", tasks[0].ID)
	})
}

func TestLearningTools(t *testing.T) {
	h := startServer(t)

	text, isErr := h.call(t, "competency_paths", map[string]any{"question": "数据结构"})
	assert.False(t, isErr)
	assert.Equal(t, "计算思维 -> 抽象建模 -> 数据结构", text)

	text, _ = h.call(t, "competency_paths", map[string]any{"question": "天气"})
	assert.Equal(t, "No competency paths found", text)

	text, isErr = h.call(t, "mark_mastered", map[string]any{"node_id": "4:x:1"})
	require.False(t, isErr)
	assert.Contains(t, text, "4:x:2")

	text, isErr = h.call(t, "mark_mastered", map[string]any{"node_id": "4:x:9"})
	assert.True(t, isErr)
	assert.Contains(t, text, "Node not found")

	text, isErr = h.call(t, "ask_tutor", map[string]any{"question": "什么是栈", "db_name": "course-1"})
	require.False(t, isErr)
	assert.Equal(t, "栈是后进先出的结构\n\n能力路径: 计算思维 -> 数据结构", text)
	assert.Equal(t, "g-course-1", h.tutor.got.Database)

	_, isErr = h.call(t, "ask_tutor", map[string]any{"question": ""})
	assert.True(t, isErr)
}
