package api

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/kgtutor/internal/graphstore"
	"github.com/raphaelgruber/kgtutor/internal/mastery"
	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/rag"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTasks struct {
	mu        sync.Mutex
	tasks     map[string]models.TaskSnapshot
	submitted []service.SubmitRequest
}

func newFakeTasks() *fakeTasks {
	return &fakeTasks{tasks: map[string]models.TaskSnapshot{}}
}

func (f *fakeTasks) Submit(req service.SubmitRequest) (string, error) {
	if _, err := service.ValidateDBName(cmp.Or(req.DBName, service.DefaultDBName)); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("t%d", len(f.submitted)+1)
	f.submitted = append(f.submitted, req)
	f.tasks[id] = models.TaskSnapshot{ID: id, Status: models.TaskQueued, Message: "Queued for processing..."}
	return id, nil
}

func (f *fakeTasks) set(snap models.TaskSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[snap.ID] = snap
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
	out := make([]models.TaskSnapshot, 0, len(f.tasks))
	for _, s := range f.tasks {
		out = append(out, s)
	}
	return out
}

type fakePaths map[string][]string

func (f fakePaths) Resolve(_ context.Context, question string) []string {
	return f[question]
}

type fakeMastery struct {
	unlocked []string
	err      error
	answers  map[string]bool
}

func (f *fakeMastery) MarkMastered(_ context.Context, nodeID string) ([]string, error) {
	if nodeID == "" {
		return nil, mastery.ErrInvalidID
	}
	return f.unlocked, f.err
}

func (f *fakeMastery) ModuleProgress(context.Context) ([]models.ModuleProgress, error) {
	return []models.ModuleProgress{{ID: "m1", Name: "栈", Total: 2, Mastered: 1}}, f.err
}

func (f *fakeMastery) RecordAnswer(_ context.Context, questionID string, correct bool) error {
	if f.answers == nil {
		f.answers = map[string]bool{}
	}
	f.answers[questionID] = correct
	return f.err
}

type fakeTutor struct {
	got service.AskRequest
	err error
}

func (f *fakeTutor) Answer(_ context.Context, req service.AskRequest) (service.Answer, error) {
	f.got = req
	if f.err != nil {
		return service.Answer{}, f.err
	}
	if strings.TrimSpace(req.Question) == "" {
		return service.Answer{}, service.ErrInvalidInput
	}
	return service.Answer{Answer: "栈是后进先出的结构", Paths: []string{"计算思维 -> 数据结构"}, Evidence: req.Evidence}, nil
}

type fakeIndex struct {
	mode rag.Mode
	topK int
}

func (f *fakeIndex) Insert(context.Context, string, string, rag.ProgressFunc) (rag.InsertResult, error) {
	return rag.InsertResult{}, nil
}

func (f *fakeIndex) Query(_ context.Context, question string, mode rag.Mode, topK int) (rag.QueryResult, error) {
	f.mode, f.topK = mode, topK
	return rag.QueryResult{Answer: "answer to " + question}, nil
}

func (f *fakeIndex) Close(context.Context) error { return nil }

type fakeIndexes struct {
	index *fakeIndex
	err   error
}

func (f *fakeIndexes) Get(_ context.Context, dbName string) (rag.Index, error) {
	if f.err != nil {
		return nil, &rag.BuildError{DBName: dbName, Err: f.err}
	}
	return f.index, nil
}

type fixture struct {
	tasks   *fakeTasks
	mastery *fakeMastery
	tutor   *fakeTutor
	indexes *fakeIndexes
	router  *gin.Engine
}

func newFixture() *fixture {
	f := &fixture{
		tasks:   newFakeTasks(),
		mastery: &fakeMastery{unlocked: []string{"4:x:2"}},
		tutor:   &fakeTutor{},
		indexes: &fakeIndexes{index: &fakeIndex{}},
	}
	f.router = NewRouter(Deps{
		Tasks:         f.tasks,
		Paths:         fakePaths{"数据结构": {"计算思维 -> 抽象建模 -> 数据结构"}},
		Mastery:       f.mastery,
		Tutor:         f.tutor,
		Indexes:       f.indexes,
		GraphDatabase: func(db string) string { return "g-" + db },
		Metrics:       metrics.NewCollector(),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{EventInterval: 10 * time.Millisecond})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func errorCode(t *testing.T, out map[string]any) string {
	t.Helper()
	envelope, ok := out["error"].(map[string]any)
	require.True(t, ok, "missing error envelope: %v", out)
	return envelope["code"].(string)
}

func TestUploadDoc(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodPost, "/upload_doc", map[string]any{
		"file_base64": "data:application/pdf;base64,JVBERi0=",
		"filename":    "notes.pdf",
		"db_name":     "course-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, "t1", out["task_id"])

	rec, _ = f.do(t, http.MethodPost, "/upload_doc", map[string]any{"text": "栈是一种数据结构"})
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, f.tasks.submitted, 2)
	assert.Equal(t, models.ContentBinary, f.tasks.submitted[0].Kind)
	assert.Equal(t, "notes.pdf", f.tasks.submitted[0].Filename)
	assert.Equal(t, models.ContentText, f.tasks.submitted[1].Kind)
}

func TestUploadDocValidation(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodPost, "/upload_doc", map[string]any{"filename": "a.pdf"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", errorCode(t, out))
	assert.Equal(t, false, out["ok"])

	rec, _ = f.do(t, http.MethodPost, "/upload_doc", map[string]any{"text": "x", "db_name": "../etc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/upload_doc", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	f.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestTaskStatusAndCancel(t *testing.T) {
	f := newFixture()
	_, out := f.do(t, http.MethodPost, "/upload_doc", map[string]any{"text": "hello"})
	id := out["task_id"].(string)

	rec, out := f.do(t, http.MethodGet, "/task_status?task_id="+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "queued", out["status"])
	assert.NotEmpty(t, out["message"])

	rec, out = f.do(t, http.MethodGet, "/task_status?task_id=nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "task_not_found", errorCode(t, out))

	rec, out = f.do(t, http.MethodPost, "/cancel_task", map[string]any{"task_id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["ok"])

	// Already cancelling: not cancellable again.
	rec, out = f.do(t, http.MethodPost, "/cancel_task", map[string]any{"task_id": id})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, out["ok"])

	rec, _ = f.do(t, http.MethodPost, "/cancel_task", map[string]any{"task_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, out = f.do(t, http.MethodGet, "/tasks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["tasks"], 1)
}

func TestCompetencyPaths(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodGet, "/competency_paths?question="+url.QueryEscape("数据结构"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"计算思维 -> 抽象建模 -> 数据结构"}, out["paths"])

	rec, out = f.do(t, http.MethodPost, "/competency_paths", map[string]any{"question": "无关"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, out["paths"])
}

func TestZPDUpdate(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodPost, "/zpd_update", map[string]any{"node_id": "4:x:1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"4:x:2"}, out["unlocked"])

	rec, _ = f.do(t, http.MethodPost, "/zpd_update", map[string]any{"node_id": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.mastery.err = fmt.Errorf("mark: %w", mastery.ErrNodeNotFound)
	rec, out = f.do(t, http.MethodPost, "/zpd_update", map[string]any{"node_id": "4:x:9"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "node_not_found", errorCode(t, out))

	f.mastery.err = fmt.Errorf("%w: connection refused", graphstore.ErrUnavailable)
	rec, out = f.do(t, http.MethodPost, "/zpd_update", map[string]any{"node_id": "4:x:1"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "graph_store_error", errorCode(t, out))
}

func TestModulesAndAnswers(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodGet, "/modules", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, out["modules"], 1)

	rec, _ = f.do(t, http.MethodPost, "/submit_answer", map[string]any{"question_id": "q1", "is_correct": true})
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodPost, "/submit_answer", map[string]any{"question_id": "q2", "correct": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]bool{"q1": true, "q2": false}, f.mastery.answers)

	rec, _ = f.do(t, http.MethodPost, "/submit_answer", map[string]any{"question_id": "q3"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAsk(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodPost, "/llm", map[string]any{
		"question": "什么是栈",
		"evidence": []map[string]any{{"focus": "栈", "concepts": []string{"后进先出"}}},
		"db_name":  "course-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "栈是后进先出的结构", out["answer"])
	assert.Equal(t, "g-course-1", f.tutor.got.Database)
	require.Len(t, f.tutor.got.Evidence, 1)
	assert.Equal(t, "栈", f.tutor.got.Evidence[0].Focus)

	rec, _ = f.do(t, http.MethodPost, "/llm", map[string]any{"question": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.tutor.err = fmt.Errorf("complete: %w", errors.Join(errors.New("boom")))
	rec, out = f.do(t, http.MethodPost, "/llm", map[string]any{"question": "q"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal", errorCode(t, out))
}

func TestQuery(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodPost, "/query", map[string]any{"question": "栈", "mode": "local"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "answer to 栈", out["answer"])
	assert.Equal(t, rag.ModeLocal, f.indexes.index.mode)
	assert.Equal(t, defaultTopK, f.indexes.index.topK)

	rec, _ = f.do(t, http.MethodPost, "/query", map[string]any{"question": "栈", "mode": "hybrid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.indexes.err = errors.New("surrealdb unreachable")
	rec, out = f.do(t, http.MethodPost, "/query", map[string]any{"question": "栈"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "index_unavailable", errorCode(t, out))
}

type textExtractor struct{}

func (textExtractor) Extract(_ context.Context, content string, _ models.ContentKind, _ string) (string, error) {
	return content, nil
}

// namedIndexes records which db_names were asked for.
type namedIndexes struct {
	mu    sync.Mutex
	names []string
}

func (n *namedIndexes) Get(_ context.Context, dbName string) (rag.Index, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = append(n.names, dbName)
	return &fakeIndex{}, nil
}

func (n *namedIndexes) requested() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.names)
}

func TestUploadAndQueryShareDefaultDB(t *testing.T) {
	indexes := &namedIndexes{}
	tasks := service.NewTaskManager(textExtractor{}, indexes,
		service.TaskManagerOptions{Workers: 1, DefaultDBName: "course"}, nil, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { _ = tasks.Close(context.Background()) })

	f := newFixture()
	f.router = NewRouter(Deps{
		Tasks:         tasks,
		Indexes:       indexes,
		DefaultDBName: tasks.DefaultDBName(),
		Logger:        slog.New(slog.DiscardHandler),
	}, Options{})

	rec, out := f.do(t, http.MethodPost, "/upload_doc", map[string]any{"text": "hello world"})
	require.Equal(t, http.StatusOK, rec.Code, out)
	id := out["task_id"].(string)
	assert.Eventually(t, func() bool {
		snap, ok := tasks.Status(id)
		return ok && snap.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	rec, out = f.do(t, http.MethodPost, "/query", map[string]any{"question": "hello"})
	require.Equal(t, http.StatusOK, rec.Code, out)

	assert.Equal(t, []string{"course", "course"}, indexes.requested())
}

func TestHealthAndStats(t *testing.T) {
	f := newFixture()

	rec, out := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])

	rec, out = f.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, out, "uptime_seconds")
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture()
	req := httptest.NewRequest(http.MethodOptions, "/upload_doc", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestTaskEvents(t *testing.T) {
	f := newFixture()
	f.tasks.set(models.TaskSnapshot{ID: "t9", Status: models.TaskRunning, Message: "Indexing content...", Progress: 30})

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/task_events?task_id=t9"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var snap models.TaskSnapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, models.TaskRunning, snap.Status)

	f.tasks.set(models.TaskSnapshot{ID: "t9", Status: models.TaskCompleted, Message: "Done", Progress: 100})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, models.TaskCompleted, snap.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestTaskEventsUnknownTask(t *testing.T) {
	f := newFixture()
	rec, _ := f.do(t, http.MethodGet, "/task_events?task_id=missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
