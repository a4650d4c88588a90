// Package client is an HTTP client for the kgtutor server.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/kgtutor/internal/metrics"
	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/rag"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

// ErrNotFound is returned for 404 responses.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
}

// Is matches ErrNotFound for 404 responses.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client talks to the kgtutor HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client.
// If baseURL is empty, uses KGTUTOR_SERVER_URL or defaults to localhost:8001.
// Timeout can be configured via KGTUTOR_CLIENT_TIMEOUT (default 10m since
// /llm and /query wait on the model).
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("KGTUTOR_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("KGTUTOR_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends a JSON request and decodes a JSON response into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error.Message != "" {
			apiErr.Message, apiErr.Code = envelope.Error.Message, envelope.Error.Code
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

type uploadResponse struct {
	OK     bool   `json:"ok"`
	TaskID string `json:"task_id"`
}

// UploadFile reads a local file and submits it for indexing into dbName.
// The content is sent as a data URL, the way the browser frontend does.
func (c *Client) UploadFile(ctx context.Context, path, dbName string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = "application/octet-stream"
	}

	var resp uploadResponse
	err = c.do(ctx, http.MethodPost, "/upload_doc", map[string]any{
		"file_base64": "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data),
		"filename":    filepath.Base(path),
		"db_name":     dbName,
	}, &resp)
	return resp.TaskID, err
}

// UploadText submits plain text for indexing into dbName.
func (c *Client) UploadText(ctx context.Context, text, dbName string) (string, error) {
	var resp uploadResponse
	err := c.do(ctx, http.MethodPost, "/upload_doc", map[string]any{"text": text, "db_name": dbName}, &resp)
	return resp.TaskID, err
}

// TaskStatus returns the current snapshot of a task.
func (c *Client) TaskStatus(ctx context.Context, id string) (models.TaskSnapshot, error) {
	var snap models.TaskSnapshot
	err := c.do(ctx, http.MethodGet, "/task_status?task_id="+url.QueryEscape(id), nil, &snap)
	return snap, err
}

// CancelTask requests cancellation. It reports false when the task was
// already terminal or cancelling.
func (c *Client) CancelTask(ctx context.Context, id string) (bool, error) {
	var resp struct {
		OK bool `json:"ok"`
	}
	err := c.do(ctx, http.MethodPost, "/cancel_task", map[string]any{"task_id": id}, &resp)
	return resp.OK, err
}

// ListTasks returns all tasks, newest first.
func (c *Client) ListTasks(ctx context.Context) ([]models.TaskSnapshot, error) {
	var resp struct {
		Tasks []models.TaskSnapshot `json:"tasks"`
	}
	err := c.do(ctx, http.MethodGet, "/tasks", nil, &resp)
	return resp.Tasks, err
}

// CompetencyPaths resolves competency paths for a question.
func (c *Client) CompetencyPaths(ctx context.Context, question string) ([]string, error) {
	var resp struct {
		Paths []string `json:"paths"`
	}
	err := c.do(ctx, http.MethodPost, "/competency_paths", map[string]any{"question": question}, &resp)
	return resp.Paths, err
}

// MarkMastered marks a node mastered and returns the ids it unlocked.
func (c *Client) MarkMastered(ctx context.Context, nodeID string) ([]string, error) {
	var resp struct {
		Unlocked []string `json:"unlocked"`
	}
	err := c.do(ctx, http.MethodPost, "/zpd_update", map[string]any{"node_id": nodeID}, &resp)
	return resp.Unlocked, err
}

// Modules returns quiz progress per content module.
func (c *Client) Modules(ctx context.Context) ([]models.ModuleProgress, error) {
	var resp struct {
		Modules []models.ModuleProgress `json:"modules"`
	}
	err := c.do(ctx, http.MethodGet, "/modules", nil, &resp)
	return resp.Modules, err
}

// SubmitAnswer records a quiz answer.
func (c *Client) SubmitAnswer(ctx context.Context, questionID string, correct bool) error {
	return c.do(ctx, http.MethodPost, "/submit_answer", map[string]any{
		"question_id": questionID,
		"is_correct":  correct,
	}, nil)
}

// Ask asks the tutor a question, drawing evidence from dbName's graph.
func (c *Client) Ask(ctx context.Context, question, dbName string) (service.Answer, error) {
	var answer service.Answer
	err := c.do(ctx, http.MethodPost, "/llm", map[string]any{"question": question, "db_name": dbName}, &answer)
	return answer, err
}

// QueryOptions tunes an index query.
type QueryOptions struct {
	Mode   string
	DBName string
	TopK   int
}

// Query runs a retrieval query against a db_name index.
func (c *Client) Query(ctx context.Context, question string, opts QueryOptions) (rag.QueryResult, error) {
	var result rag.QueryResult
	err := c.do(ctx, http.MethodPost, "/query", map[string]any{
		"question": question,
		"mode":     opts.Mode,
		"db_name":  opts.DBName,
		"top_k":    opts.TopK,
	}, &result)
	return result, err
}

// Stats returns the server's runtime metrics.
func (c *Client) Stats(ctx context.Context) (metrics.Snapshot, error) {
	var snap metrics.Snapshot
	err := c.do(ctx, http.MethodGet, "/stats", nil, &snap)
	return snap, err
}

// WatchTask streams snapshots of a task over /task_events until the task is
// terminal. onSnapshot is called for every update; returning an error aborts.
// The last snapshot received is returned.
func (c *Client) WatchTask(ctx context.Context, id string, onSnapshot func(models.TaskSnapshot) error) (models.TaskSnapshot, error) {
	wsURL := strings.Replace(c.baseURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL += "/task_events?task_id=" + url.QueryEscape(id)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return models.TaskSnapshot{}, &APIError{Status: resp.StatusCode, Message: "task not found: " + id}
		}
		return models.TaskSnapshot{}, fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	var last models.TaskSnapshot
	for {
		var snap models.TaskSnapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last.Status.Terminal() {
				return last, nil
			}
			return last, fmt.Errorf("read task event: %w", err)
		}
		last = snap
		if err := onSnapshot(snap); err != nil {
			return last, err
		}
		if snap.Status.Terminal() {
			return last, nil
		}
	}
}
