// Package genai wraps the OpenAI API behind a single client used by every
// generation, extraction, and translation call site in the agent.
//
// All calls share one timeout, retry, and backoff policy so backend failures
// degrade uniformly across the engine.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/propfin/loanagent/internal/models"
)

// Defaults for the shared call policy.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = 500 * time.Millisecond
)

// chatService defines the minimal interface for chat completions, allowing
// tests to substitute a scripted implementation.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// ClientInterface is the surface the rest of the agent depends on.
type ClientInterface interface {
	// GenerateReply produces conversational text from a system prompt and
	// an alternating message history ending with the customer's message.
	GenerateReply(ctx context.Context, system string, history []openai.ChatCompletionMessageParamUnion, user string) (string, error)
	// GenerateJSON produces a single JSON object (JSON response format).
	GenerateJSON(ctx context.Context, system, user string) (string, error)
}

// Opts holds configuration for the client.
type Opts struct {
	APIKey      string
	Model       shared.ChatModel
	Timeout     time.Duration
	MaxRetries  int
	BackoffBase time.Duration
}

// Option configures the client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the chat model.
func WithModel(model shared.ChatModel) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTimeout sets the per-call deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMaxRetries sets how many attempts a call gets before giving up.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = n }
}

// Client is the shared OpenAI-backed implementation.
type Client struct {
	chat        chatService
	model       shared.ChatModel
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
}

// NewClient initializes the client. The API key falls back to the
// OPENAI_API_KEY environment variable when not set via options.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Timeout:     DefaultTimeout,
		MaxRetries:  DefaultMaxRetries,
		BackoffBase: DefaultBackoffBase,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai.NewClient: OPENAI_API_KEY not set")
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Info("GenAI client initialized", "model", cfg.Model, "timeout", cfg.Timeout, "max_retries", cfg.MaxRetries)
	return &Client{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
	}, nil
}

// GenerateReply produces conversational text from a system prompt and history.
func (c *Client) GenerateReply(ctx context.Context, system string, history []openai.ChatCompletionMessageParamUnion, user string) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(system))
	messages = append(messages, history...)
	messages = append(messages, openai.UserMessage(user))
	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: messages,
	}
	return c.complete(ctx, params)
}

// GenerateJSON produces a single JSON object using the JSON response format.
func (c *Client) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		Temperature: openai.Float(0),
	}
	return c.complete(ctx, params)
}

// complete runs one chat completion with the shared timeout, retry, and
// backoff policy. Only transport-level failures are retried; a malformed or
// empty response is returned to the caller for degradation.
func (c *Client) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.backoffBase * time.Duration(1<<(attempt-1))
			slog.Debug("Client.complete: retrying after backoff", "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", fmt.Errorf("genai: %w: %w", models.ErrBackendTimeout, ctx.Err())
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := c.chat.New(callCtx, params)
		cancel()
		if err != nil {
			lastErr = err
			if !isRetryable(err) {
				break
			}
			slog.Warn("Client.complete: transient backend error", "attempt", attempt, "error", err)
			continue
		}
		if len(resp.Choices) == 0 {
			return "", fmt.Errorf("genai: no choices returned")
		}
		return strings.TrimSpace(resp.Choices[0].Message.Content), nil
	}
	if errors.Is(lastErr, context.DeadlineExceeded) {
		return "", fmt.Errorf("genai: %w: %w", models.ErrBackendTimeout, lastErr)
	}
	return "", fmt.Errorf("genai: %w: %w", models.ErrBackendUnavailable, lastErr)
}

// isRetryable reports whether an error is worth another attempt: timeouts,
// rate limits, and server-side failures qualify; everything else does not.
func isRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	// Transport errors without an API status are treated as transient.
	return true
}
