package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/propfin/loanagent/internal/genai"
)

func TestNewTestServer(t *testing.T) {
	server, st := NewTestServer(t, &genai.MockClient{})
	if server == nil {
		t.Fatal("NewTestServer returned nil")
	}
	if st == nil {
		t.Fatal("NewTestServer returned nil store")
	}

	req := CreateHTTPRequest(t, http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	AssertHTTPStatus(t, http.StatusOK, rr.Code, "health check")
	AssertJSONResponse(t, rr, "ok")
}

func TestCreateHTTPRequest(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		body   interface{}
	}{
		{name: "GET request with no body", method: http.MethodGet, url: "/test", body: nil},
		{name: "POST request with JSON body", method: http.MethodPost, url: "/test", body: map[string]string{"key": "value"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateHTTPRequest(t, tt.method, tt.url, tt.body)
			if req.Method != tt.method {
				t.Errorf("method = %s, want %s", req.Method, tt.method)
			}
			if req.URL.Path != tt.url {
				t.Errorf("url = %s, want %s", req.URL.Path, tt.url)
			}
		})
	}
}

func TestSeedConversation(t *testing.T) {
	_, st := NewTestServer(t, &genai.MockClient{})
	SeedConversation(t, st, "+919876543210")

	utts, err := st.ListUtterances("+919876543210", "", 0)
	if err != nil {
		t.Fatalf("ListUtterances() error: %v", err)
	}
	if len(utts) != 2 {
		t.Errorf("seeded %d utterances, want 2", len(utts))
	}
}

func TestMustMarshalRoundTrip(t *testing.T) {
	data := MustMarshalJSON(t, map[string]interface{}{"key": "value", "number": 123})
	var target map[string]interface{}
	MustUnmarshalJSON(t, data, &target)
	if target["key"] != "value" {
		t.Errorf("key = %v, want value", target["key"])
	}
}
