package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/raphaelgruber/kgtutor/internal/metrics"
)

func TestIsFatalAPIError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		fatal bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("connection reset"), false},
		{"credit balance", errors.New("insufficient credit balance"), true},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"quota exceeded", errors.New("quota exceeded for model"), true},
		{"billing issue", errors.New("billing account inactive"), true},
		{"invalid api key", errors.New("invalid api key"), true},
		{"authentication failed", errors.New("authentication failed"), true},
		{"unauthorized", errors.New("unauthorized request"), true},
		{"401 status", errors.New("HTTP 401: not allowed"), true},
		{"403 status", errors.New("HTTP 403: forbidden"), true},
		{"wrapped error", fmt.Errorf("embed: %w", errors.New("credit balance too low")), true},
		{"404 not fatal", errors.New("HTTP 404: not found"), false},
		{"timeout not fatal", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isFatalAPIError(tt.err)
			if got != tt.fatal {
				t.Errorf("isFatalAPIError(%v) = %v, want %v", tt.err, got, tt.fatal)
			}
		})
	}
}

func TestWrapFatalError(t *testing.T) {
	t.Run("wraps fatal error", func(t *testing.T) {
		err := errors.New("invalid api key provided")
		wrapped := wrapFatalError(err)
		if !errors.Is(wrapped, ErrFatalAPI) {
			t.Errorf("expected wrapped error to match ErrFatalAPI")
		}
	})

	t.Run("passes through non-fatal error", func(t *testing.T) {
		err := errors.New("network timeout")
		result := wrapFatalError(err)
		if errors.Is(result, ErrFatalAPI) {
			t.Errorf("non-fatal error should not be wrapped with ErrFatalAPI")
		}
		if result != err {
			t.Errorf("expected original error returned, got %v", result)
		}
	})

	t.Run("nil error", func(t *testing.T) {
		result := wrapFatalError(nil)
		if result != nil {
			t.Errorf("expected nil, got %v", result)
		}
	})
}

type fakeLLM struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	reply    string
	messages []llms.MessageContent
}

func (f *fakeLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = messages
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
		Content:        f.reply,
		GenerationInfo: map[string]any{"PromptTokens": 12, "CompletionTokens": 3},
	}}}, nil
}

func (f *fakeLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func newTestModel(f *fakeLLM) *Model {
	m := NewModelFromLLM(f, "fake", metrics.NewCollector(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.retryDelay = time.Millisecond
	return m
}

func TestCompleteBuildsMessages(t *testing.T) {
	f := &fakeLLM{reply: "answer"}
	m := newTestModel(f)

	got, err := m.Complete(context.Background(), CompletionRequest{
		Prompt:  "问题",
		System:  "你是一名导师",
		History: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", got)

	require.Len(t, f.messages, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, f.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, f.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, f.messages[2].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, f.messages[3].Role)
	assert.Equal(t, llms.TextContent{Text: "问题"}, f.messages[3].Parts[0])

	op := m.metrics.Snapshot().Operations[metrics.OpLLMComplete]
	require.NotNil(t, op)
	assert.Equal(t, int64(12), *op.TotalInputTokens)
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	f := &fakeLLM{reply: "ok", errs: []error{errors.New("connection reset"), errors.New("EOF")}}
	m := newTestModel(f)

	got, err := m.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, f.calls)
}

func TestCompleteGivesUpAfterRetries(t *testing.T) {
	f := &fakeLLM{errs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}}
	m := newTestModel(f)

	_, err := m.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProvider)
	assert.NotErrorIs(t, err, ErrFatalAPI)
	assert.Equal(t, 3, f.calls)
}

func TestCompleteDoesNotRetryFatal(t *testing.T) {
	f := &fakeLLM{errs: []error{errors.New("HTTP 401: invalid api key")}}
	m := newTestModel(f)

	_, err := m.Complete(context.Background(), CompletionRequest{Prompt: "p"})
	assert.ErrorIs(t, err, ErrFatalAPI)
	assert.ErrorIs(t, err, ErrProvider)
	assert.Equal(t, 1, f.calls)
}

func TestCompleteUsesCache(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "llm_cache.db"))
	require.NoError(t, err)
	defer cache.Close()

	f := &fakeLLM{reply: "cached answer"}
	m := newTestModel(f).WithCache(cache)
	req := CompletionRequest{Prompt: "same prompt", System: "sys"}

	first, err := m.Complete(context.Background(), req)
	require.NoError(t, err)
	second, err := m.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.calls)
	assert.Equal(t, 1, cache.Len())

	_, err = m.Complete(context.Background(), CompletionRequest{Prompt: "other prompt", System: "sys"})
	require.NoError(t, err)
	assert.Equal(t, 2, f.calls)
}
