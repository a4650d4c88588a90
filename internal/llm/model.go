// Package llm provides completion and embedding services using langchaingo.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/raphaelgruber/kgtutor/internal/config"
	"github.com/raphaelgruber/kgtutor/internal/metrics"
)

// Role of a chat history message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn passed as history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the input to Complete.
type CompletionRequest struct {
	Prompt  string
	System  string
	History []Message
}

// Model wraps a langchaingo model with retry, caching and usage metrics.
type Model struct {
	llm         llms.Model
	modelName   string
	temperature float64
	topP        float64
	maxRetries  int
	retryDelay  time.Duration
	cache       *Cache
	metrics     *metrics.Collector
	logger      *slog.Logger
}

// NewModel creates a completion model based on configuration.
func NewModel(ctx context.Context, cfg config.Config, collector *metrics.Collector, logger *slog.Logger) (*Model, error) {
	var (
		model llms.Model
		err   error
	)

	switch cfg.LLMProvider {
	case config.ProviderOpenAI:
		if cfg.LLMAPIKey == "" {
			return nil, fmt.Errorf("API key required for %s (set KGTUTOR_LLM_API_KEY or MS_API_KEY)", cfg.LLMBaseURL)
		}
		model, err = openai.New(
			openai.WithToken(cfg.LLMAPIKey),
			openai.WithBaseURL(cfg.LLMBaseURL),
			openai.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create openai model: %w", err)
		}

	case config.ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.LLMModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if err != nil {
			return nil, fmt.Errorf("create ollama model: %w", err)
		}

	case config.ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key required")
		}
		model, err = anthropic.New(
			anthropic.WithToken(cfg.AnthropicAPIKey),
			anthropic.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create anthropic model: %w", err)
		}

	case config.ProviderBedrock:
		client, clientErr := newBedrockClient(ctx, cfg.AWSRegion)
		if clientErr != nil {
			return nil, clientErr
		}
		model, err = bedrock.New(
			bedrock.WithClient(client),
			bedrock.WithModel(cfg.LLMModel),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock model: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	m := NewModelFromLLM(model, cfg.LLMModel, collector, logger)
	m.temperature = cfg.LLMTemperature
	m.topP = cfg.LLMTopP
	m.maxRetries = cfg.LLMMaxRetries
	return m, nil
}

// NewModelFromLLM wraps an existing langchaingo model with default settings.
func NewModelFromLLM(model llms.Model, name string, collector *metrics.Collector, logger *slog.Logger) *Model {
	if logger == nil {
		logger = slog.Default()
	}
	return &Model{
		llm:         model,
		modelName:   name,
		temperature: 0.3,
		topP:        0.9,
		maxRetries:  2,
		retryDelay:  300 * time.Millisecond,
		metrics:     collector,
		logger:      logger.With("component", "llm", "model", name),
	}
}

func newBedrockClient(ctx context.Context, region string) (*bedrockruntime.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return bedrockruntime.NewFromConfig(awsCfg), nil
}

// WithCache returns a copy of m that memoizes completions in cache.
func (m *Model) WithCache(cache *Cache) *Model {
	cp := *m
	cp.cache = cache
	return &cp
}

// Name returns the model name.
func (m *Model) Name() string {
	return m.modelName
}

// Complete sends prompt with an optional system prompt and history.
// Transport failures are retried; fatal API errors are not.
func (m *Model) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	key := m.cacheKey(req)
	if m.cache != nil {
		if cached, ok := m.cache.Get(key); ok {
			m.logger.Debug("completion cache hit", "prompt_len", len(req.Prompt))
			return cached, nil
		}
	}

	messages := buildMessages(req)
	opts := []llms.CallOption{
		llms.WithTemperature(m.temperature),
		llms.WithTopP(m.topP),
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}

		start := time.Now()
		resp, err := m.llm.GenerateContent(ctx, messages, opts...)
		duration := time.Since(start)

		if err == nil && (resp == nil || len(resp.Choices) == 0) {
			err = errors.New("no response choices")
		}
		if err != nil {
			m.metrics.RecordLLMUsage(metrics.OpLLMComplete, duration, 0, 0, err)
			lastErr = wrapFatalError(err)
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if errors.Is(lastErr, ErrFatalAPI) {
				break
			}
			m.logger.Warn("completion failed, retrying", "attempt", attempt+1, "duration_ms", duration.Milliseconds(), "error", err)
			continue
		}

		choice := resp.Choices[0]
		in, out := tokenUsage(choice.GenerationInfo)
		m.metrics.RecordLLMUsage(metrics.OpLLMComplete, duration, in, out, nil)
		m.logger.Debug("completion done", "duration_ms", duration.Milliseconds(), "input_tokens", in, "output_tokens", out)

		if m.cache != nil {
			if err := m.cache.Put(key, choice.Content); err != nil {
				m.logger.Warn("completion cache write failed", "error", err)
			}
		}
		return choice.Content, nil
	}

	return "", fmt.Errorf("%w: complete: %w", ErrProvider, lastErr)
}

func buildMessages(req CompletionRequest) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(req.History)+2)
	if req.System != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, req.System))
	}
	for _, h := range req.History {
		messages = append(messages, llms.TextParts(chatType(h.Role), h.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt))
}

func chatType(r Role) llms.ChatMessageType {
	switch r {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

func (m *Model) cacheKey(req CompletionRequest) string {
	h := sha256.New()
	for _, part := range []string{m.modelName, req.System, req.Prompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	for _, msg := range req.History {
		h.Write([]byte(msg.Role))
		h.Write([]byte{0})
		h.Write([]byte(msg.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// tokenUsage reads token counts from provider-specific generation info.
func tokenUsage(info map[string]any) (int64, int64) {
	return firstInt(info, "PromptTokens", "InputTokens", "input_tokens"),
		firstInt(info, "CompletionTokens", "OutputTokens", "output_tokens")
}

func firstInt(info map[string]any, keys ...string) int64 {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return int64(v)
		case int32:
			return int64(v)
		case int64:
			return v
		case float64:
			return int64(v)
		}
	}
	return 0
}
