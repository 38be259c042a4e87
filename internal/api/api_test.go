package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/propfin/loanagent/internal/dialogue"
	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/prompts"
	"github.com/propfin/loanagent/internal/scheduler"
	"github.com/propfin/loanagent/internal/store"
)

const testPhone = "+919876543210"

// recordingSender captures outbound sends for the follow-up processor.
type recordingSender struct {
	mu    sync.Mutex
	texts []string
}

func (s *recordingSender) SendMessage(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, body)
	return nil
}

func (s *recordingSender) SendTemplateMessage(ctx context.Context, to string, tmpl *models.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, tmpl.Body)
	return nil
}

func newTestServer(t *testing.T, mock *genai.MockClient, opts ...Option) (*Server, *store.InMemoryStore, *recordingSender) {
	t.Helper()
	st := store.NewInMemoryStore()
	catalog, err := prompts.NewCatalog("")
	if err != nil {
		t.Fatalf("NewCatalog() error: %v", err)
	}
	orch := dialogue.NewOrchestrator(st, mock, catalog)
	snd := &recordingSender{}
	proc := scheduler.NewProcessor(st, orch, snd)
	return NewServer(orch, proc, catalog, opts...), st, snd
}

type envelope struct {
	Status models.APIStatus `json:"status"`
	Error  string           `json:"error"`
	Result json.RawMessage  `json:"result"`
}

func doRequest(t *testing.T, srv *Server, method, path, body string, headers map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("response is not a valid envelope: %v (body %q)", err, rec.Body.String())
	}
	return rec, env
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, &genai.MockClient{})

	rec, env := doRequest(t, srv, http.MethodGet, "/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if env.Status != models.APIStatusOK {
		t.Errorf("envelope status = %q, want ok", env.Status)
	}
}

func TestAuthRequiredWhenKeyConfigured(t *testing.T) {
	srv, _, _ := newTestServer(t, &genai.MockClient{}, WithAPIKey("secret"))

	rec, env := doRequest(t, srv, http.MethodGet, "/v1/profiles/"+testPhone, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
	if env.Status != models.APIStatusError {
		t.Errorf("envelope status = %q, want error", env.Status)
	}

	rec, _ = doRequest(t, srv, http.MethodGet, "/v1/profiles/"+testPhone, "",
		map[string]string{"Authorization": "Bearer wrong"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status with wrong token = %d, want 401", rec.Code)
	}

	rec, _ = doRequest(t, srv, http.MethodGet, "/v1/profiles/"+testPhone, "",
		map[string]string{"Authorization": "Bearer secret"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status with valid token = %d, want 404 for unknown profile", rec.Code)
	}

	// Health stays open for probes.
	rec, _ = doRequest(t, srv, http.MethodGet, "/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 without auth", rec.Code)
	}
}

func TestMessagesEndpointRunsTurn(t *testing.T) {
	mock := &genai.MockClient{
		JSONResponses:  []string{`{"intent": "interested", "confidence": 0.9}`},
		ReplyResponses: []string{"Great! Tell me about your property."},
	}
	srv, st, _ := newTestServer(t, mock)

	// National-format number must be stored canonicalized.
	rec, env := doRequest(t, srv, http.MethodPost, "/v1/messages",
		`{"phone": "9876543210", "text": "loan please"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Phone string `json:"phone"`
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result.Phone != testPhone {
		t.Errorf("phone = %q, want %q", result.Phone, testPhone)
	}
	if result.Reply != "Great! Tell me about your property." {
		t.Errorf("reply = %q", result.Reply)
	}

	p, err := st.GetProfile(testPhone)
	if err != nil || p == nil {
		t.Fatalf("profile not persisted under canonical phone: %v", err)
	}
}

func TestMessagesEndpointValidation(t *testing.T) {
	srv, _, _ := newTestServer(t, &genai.MockClient{})

	rec, _ := doRequest(t, srv, http.MethodPost, "/v1/messages", `{not json`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid JSON status = %d, want 400", rec.Code)
	}

	rec, _ = doRequest(t, srv, http.MethodPost, "/v1/messages", `{"phone": "+919876543210"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing text status = %d, want 400", rec.Code)
	}

	rec, _ = doRequest(t, srv, http.MethodPost, "/v1/messages", `{"phone": "12", "text": "hi there"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid phone status = %d, want 400", rec.Code)
	}
}

func TestProfileEndpoints(t *testing.T) {
	mock := &genai.MockClient{
		JSONResponses:  []string{`{"intent": "interested", "confidence": 0.9}`},
		ReplyResponses: []string{"Tell me more."},
	}
	srv, _, _ := newTestServer(t, mock)

	rec, _ := doRequest(t, srv, http.MethodGet, "/v1/profiles/"+testPhone, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown profile status = %d, want 404", rec.Code)
	}

	doRequest(t, srv, http.MethodPost, "/v1/messages",
		`{"phone": "`+testPhone+`", "text": "loan please"}`, nil)

	rec, env := doRequest(t, srv, http.MethodGet, "/v1/profiles/"+testPhone, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("profile status = %d, want 200", rec.Code)
	}
	var p models.CustomerProfile
	if err := json.Unmarshal(env.Result, &p); err != nil {
		t.Fatalf("decoding profile: %v", err)
	}
	if p.Phone != testPhone {
		t.Errorf("profile phone = %q", p.Phone)
	}
}

func TestDoNotContactEndpoint(t *testing.T) {
	srv, st, _ := newTestServer(t, &genai.MockClient{})

	rec, _ := doRequest(t, srv, http.MethodPut, "/v1/profiles/"+testPhone+"/do-not-contact", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	p, _ := st.GetProfile(testPhone)
	if p == nil || !p.DoNotContact {
		t.Fatal("profile not flagged do-not-contact")
	}

	// Subsequent turns are refused without a reply.
	rec, env := doRequest(t, srv, http.MethodPost, "/v1/messages",
		`{"phone": "`+testPhone+`", "text": "hello again"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result struct {
		Reply        string `json:"reply"`
		DoNotContact bool   `json:"do_not_contact"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !result.DoNotContact || result.Reply != "" {
		t.Errorf("result = %+v, want do_not_contact with no reply", result)
	}
}

func TestConversationEndpoints(t *testing.T) {
	mock := &genai.MockClient{
		JSONResponses:  []string{`{"intent": "interested", "confidence": 0.9}`},
		ReplyResponses: []string{"Tell me more."},
	}
	srv, _, _ := newTestServer(t, mock)

	rec, _ := doRequest(t, srv, http.MethodPost, "/v1/conversations/"+testPhone+"/reset", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("reset unknown profile status = %d, want 404", rec.Code)
	}

	doRequest(t, srv, http.MethodPost, "/v1/messages",
		`{"phone": "`+testPhone+`", "text": "loan please"}`, nil)

	rec, env := doRequest(t, srv, http.MethodGet, "/v1/conversations/"+testPhone, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var utts []models.Utterance
	if err := json.Unmarshal(env.Result, &utts); err != nil {
		t.Fatalf("decoding utterances: %v", err)
	}
	if len(utts) != 2 {
		t.Fatalf("listed %d utterances, want inbound + outbound", len(utts))
	}

	rec, _ = doRequest(t, srv, http.MethodGet, "/v1/conversations/"+testPhone+"?limit=abc", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}

	rec, _ = doRequest(t, srv, http.MethodPost, "/v1/conversations/"+testPhone+"/reset", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d, want 200", rec.Code)
	}
}

func TestProcessFollowUpsEndpoint(t *testing.T) {
	mock := &genai.MockClient{
		ReplyResponses: []string{"Just checking in, still interested in that loan?"},
	}
	srv, st, snd := newTestServer(t, mock)

	profile := models.NewCustomerProfile(testPhone)
	profile.State = models.StateQualifying
	if err := st.SaveProfile(profile); err != nil {
		t.Fatalf("SaveProfile() error: %v", err)
	}
	if _, err := st.EnqueueFollowUp(models.FollowUpTask{
		Phone: testPhone,
		DueAt: time.Now().Add(-time.Minute),
	}); err != nil {
		t.Fatalf("EnqueueFollowUp() error: %v", err)
	}

	rec, env := doRequest(t, srv, http.MethodPost, "/v1/followups/process", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var result map[string]int
	if err := json.Unmarshal(env.Result, &result); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if result["sent"] != 1 {
		t.Errorf("sent = %d, want 1", result["sent"])
	}
	snd.mu.Lock()
	defer snd.mu.Unlock()
	if len(snd.texts) != 1 {
		t.Fatalf("sender recorded %d sends, want 1", len(snd.texts))
	}
}

func TestReloadPromptsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, &genai.MockClient{})

	rec, env := doRequest(t, srv, http.MethodPost, "/v1/prompts/reload", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(string(env.Result), "languages") {
		t.Errorf("result = %s, want language listing", env.Result)
	}
}
