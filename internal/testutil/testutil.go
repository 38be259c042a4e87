// Package testutil provides common test utilities and helpers for loanagent
// tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/propfin/loanagent/internal/api"
	"github.com/propfin/loanagent/internal/dialogue"
	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/prompts"
	"github.com/propfin/loanagent/internal/store"
)

// NewTestServer creates a test API server with in-memory dependencies. The
// mock client scripts the generation backend; the returned store is the one
// the server operates on.
func NewTestServer(t *testing.T, mock *genai.MockClient, opts ...api.Option) (*api.Server, *store.InMemoryStore) {
	t.Helper()
	st := store.NewInMemoryStore()
	catalog, err := prompts.NewCatalog("")
	if err != nil {
		t.Fatalf("failed to load prompt catalog: %v", err)
	}
	orch := dialogue.NewOrchestrator(st, mock, catalog)
	return api.NewServer(orch, nil, catalog, opts...), st
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes the response envelope and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// SeedConversation records a short inbound/outbound exchange for a customer.
func SeedConversation(t *testing.T, st store.Store, phone string) {
	t.Helper()
	utterances := []models.Utterance{
		{Phone: phone, Direction: models.DirectionInbound, Body: "I need a loan against my flat", Type: models.MessageTypeText},
		{Phone: phone, Direction: models.DirectionOutbound, Body: "Happy to help. Where is the flat located?", Type: models.MessageTypeText},
	}
	for i := range utterances {
		if err := st.RecordUtterance(&utterances[i]); err != nil {
			t.Fatalf("failed to seed utterance: %v", err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
