package genai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/propfin/loanagent/internal/models"
)

// The SDK's completion service satisfies chatService through its pointer
// receiver, which is what NewClient wires in.
var _ chatService = &openai.ChatCompletionService{}

// scriptedChat implements chatService with canned outcomes per attempt.
type scriptedChat struct {
	calls    int
	failures int
	failWith error
	content  string
}

func (s *scriptedChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, s.failWith
	}
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: s.content}},
		},
	}, nil
}

func testClient(chat chatService) *Client {
	return &Client{
		chat:        chat,
		model:       DefaultModel,
		timeout:     time.Second,
		maxRetries:  3,
		backoffBase: time.Millisecond,
	}
}

func TestGenerateReplySuccess(t *testing.T) {
	chat := &scriptedChat{content: "  Hello there  "}
	c := testClient(chat)
	got, err := c.GenerateReply(context.Background(), "system", nil, "hi")
	if err != nil {
		t.Fatalf("GenerateReply() error: %v", err)
	}
	if got != "Hello there" {
		t.Errorf("GenerateReply() = %q, want trimmed content", got)
	}
	if chat.calls != 1 {
		t.Errorf("calls = %d, want 1", chat.calls)
	}
}

func TestCompleteRetriesTransientErrors(t *testing.T) {
	chat := &scriptedChat{failures: 2, failWith: errors.New("connection reset"), content: "ok"}
	c := testClient(chat)
	got, err := c.GenerateJSON(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("GenerateJSON() error after retries: %v", err)
	}
	if got != "ok" {
		t.Errorf("GenerateJSON() = %q, want ok", got)
	}
	if chat.calls != 3 {
		t.Errorf("calls = %d, want 3 (two failures then success)", chat.calls)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	chat := &scriptedChat{failures: 10, failWith: errors.New("connection reset")}
	c := testClient(chat)
	_, err := c.GenerateJSON(context.Background(), "system", "user")
	if !errors.Is(err, models.ErrBackendUnavailable) {
		t.Errorf("error = %v, want ErrBackendUnavailable", err)
	}
	if chat.calls != 3 {
		t.Errorf("calls = %d, want maxRetries", chat.calls)
	}
}

func TestCompleteTimeoutClassification(t *testing.T) {
	chat := &scriptedChat{failures: 10, failWith: context.DeadlineExceeded}
	c := testClient(chat)
	_, err := c.GenerateJSON(context.Background(), "system", "user")
	if !errors.Is(err, models.ErrBackendTimeout) {
		t.Errorf("error = %v, want ErrBackendTimeout", err)
	}
}

func TestCompleteDoesNotRetryCancellation(t *testing.T) {
	chat := &scriptedChat{failures: 10, failWith: context.Canceled}
	c := testClient(chat)
	_, err := c.GenerateJSON(context.Background(), "system", "user")
	if err == nil {
		t.Fatal("expected error")
	}
	if chat.calls != 1 {
		t.Errorf("calls = %d, want 1 (cancellation is not retryable)", chat.calls)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	c := testClient(&emptyChoicesChat{})
	_, err := c.GenerateReply(context.Background(), "system", nil, "hi")
	if err == nil {
		t.Error("expected error for empty choices")
	}
}

type emptyChoicesChat struct{}

func (e *emptyChoicesChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return &openai.ChatCompletion{}, nil
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Error("NewClient() should fail without an API key")
	}
	if _, err := NewClient(WithAPIKey("test-key"), WithTimeout(5*time.Second), WithMaxRetries(2)); err != nil {
		t.Errorf("NewClient() with explicit key failed: %v", err)
	}
}
