package genai

import (
	"context"
	"sync"

	"github.com/openai/openai-go"
)

// MockClient is a scripted ClientInterface implementation for tests.
type MockClient struct {
	mu sync.Mutex

	// ReplyResponses are returned by GenerateReply in order; the last entry
	// repeats once exhausted.
	ReplyResponses []string
	// JSONResponses are returned by GenerateJSON in order; the last entry
	// repeats once exhausted.
	JSONResponses []string
	// ReplyErr / JSONErr, when set, are returned instead of a response.
	ReplyErr error
	JSONErr  error

	// Captured inputs for assertions.
	ReplySystemPrompts []string
	ReplyUserMessages  []string
	JSONSystemPrompts  []string
	JSONUserMessages   []string

	replyCalls int
	jsonCalls  int
}

// GenerateReply returns the next scripted reply.
func (m *MockClient) GenerateReply(ctx context.Context, system string, history []openai.ChatCompletionMessageParamUnion, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReplySystemPrompts = append(m.ReplySystemPrompts, system)
	m.ReplyUserMessages = append(m.ReplyUserMessages, user)
	if m.ReplyErr != nil {
		return "", m.ReplyErr
	}
	resp := scripted(m.ReplyResponses, m.replyCalls, "mock reply")
	m.replyCalls++
	return resp, nil
}

// GenerateJSON returns the next scripted JSON payload.
func (m *MockClient) GenerateJSON(ctx context.Context, system, user string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.JSONSystemPrompts = append(m.JSONSystemPrompts, system)
	m.JSONUserMessages = append(m.JSONUserMessages, user)
	if m.JSONErr != nil {
		return "", m.JSONErr
	}
	resp := scripted(m.JSONResponses, m.jsonCalls, "{}")
	m.jsonCalls++
	return resp, nil
}

// ReplyCallCount returns how many times GenerateReply was invoked.
func (m *MockClient) ReplyCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replyCalls
}

// JSONCallCount returns how many times GenerateJSON was invoked.
func (m *MockClient) JSONCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jsonCalls
}

func scripted(responses []string, call int, fallback string) string {
	if len(responses) == 0 {
		return fallback
	}
	if call >= len(responses) {
		return responses[len(responses)-1]
	}
	return responses[call]
}
