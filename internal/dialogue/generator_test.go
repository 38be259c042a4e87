package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/models"
)

func TestReplyRendersPromptContext(t *testing.T) {
	mock := &genai.MockClient{ReplyResponses: []string{"Thanks! Could you share your property's location?"}}
	g := NewGenerator(mock, testCatalog(t))
	p := models.NewCustomerProfile("+919876543210")
	p.Merge(models.ProfileDelta{PropertyType: "apartment"})
	history := []models.Utterance{
		{Phone: p.Phone, Direction: models.DirectionOutbound, Body: "Hello! Do you own property?", Type: models.MessageTypeText},
		{Phone: p.Phone, Direction: models.DirectionInbound, Body: "Yes, an apartment", Type: models.MessageTypeText},
	}

	reply, fellBack := g.Reply(context.Background(), models.StateQualifying, "en", p, history, "Yes I am interested")
	if fellBack {
		t.Fatal("unexpected fallback")
	}
	if reply != "Thanks! Could you share your property's location?" {
		t.Errorf("reply = %q", reply)
	}
	if len(mock.ReplySystemPrompts) != 1 {
		t.Fatal("expected one generation call")
	}
	system := mock.ReplySystemPrompts[0]
	if !strings.Contains(system, "apartment") {
		t.Error("system prompt missing profile summary")
	}
	if !strings.Contains(system, "Do you own property?") {
		t.Error("system prompt missing rendered history")
	}
	if strings.Contains(system, "{profile}") || strings.Contains(system, "{history}") {
		t.Error("unrendered placeholders left in system prompt")
	}
}

func TestReplyFallsBackOnBackendFailure(t *testing.T) {
	mock := &genai.MockClient{ReplyErr: errors.New("backend down")}
	g := NewGenerator(mock, testCatalog(t))
	p := models.NewCustomerProfile("+919876543210")

	reply, fellBack := g.Reply(context.Background(), models.StateLoanDetails, "en", p, nil, "what are the rates?")
	if !fellBack {
		t.Fatal("expected fallback")
	}
	if reply == "" {
		t.Fatal("fallback reply must never be empty")
	}
}

func TestReplyFallsBackOnEmptyGeneration(t *testing.T) {
	mock := &genai.MockClient{ReplyResponses: []string{"   "}}
	g := NewGenerator(mock, testCatalog(t))
	p := models.NewCustomerProfile("+919876543210")
	reply, fellBack := g.Reply(context.Background(), models.StateQualifying, "en", p, nil, "hello")
	if !fellBack || reply == "" {
		t.Errorf("(%q, %v), want non-empty fallback", reply, fellBack)
	}
}

func TestReplyCapsLength(t *testing.T) {
	long := strings.Repeat("This is a long sentence about loans. ", 60)
	mock := &genai.MockClient{ReplyResponses: []string{long}}
	g := NewGenerator(mock, testCatalog(t))
	p := models.NewCustomerProfile("+919876543210")
	reply, _ := g.Reply(context.Background(), models.StateQualifying, "en", p, nil, "tell me everything")
	if utf8.RuneCountInString(reply) > models.MaxReplyLength {
		t.Errorf("reply length %d exceeds cap", utf8.RuneCountInString(reply))
	}
	if !strings.HasSuffix(reply, ".") {
		t.Errorf("cap should land on a sentence boundary, got %q", reply[len(reply)-20:])
	}
}

func TestReplyStripsMarkdown(t *testing.T) {
	mock := &genai.MockClient{ReplyResponses: []string{"**Great news!** You are __eligible__."}}
	g := NewGenerator(mock, testCatalog(t))
	p := models.NewCustomerProfile("+919876543210")
	reply, _ := g.Reply(context.Background(), models.StateQualifying, "en", p, nil, "am I eligible?")
	if strings.Contains(reply, "**") || strings.Contains(reply, "__") {
		t.Errorf("markdown artifacts left in reply: %q", reply)
	}
}

func TestFormatHistory(t *testing.T) {
	if got := FormatHistory(nil); got != "No previous conversation." {
		t.Errorf("FormatHistory(nil) = %q", got)
	}
	history := []models.Utterance{
		{Direction: models.DirectionInbound, Body: "hi"},
		{Direction: models.DirectionOutbound, Body: "hello"},
	}
	got := FormatHistory(history)
	if !strings.Contains(got, "Customer: hi") || !strings.Contains(got, "Agent: hello") {
		t.Errorf("FormatHistory() = %q", got)
	}
}

func TestHistoryMessagesBounded(t *testing.T) {
	var history []models.Utterance
	for i := 0; i < maxHistoryMessages+20; i++ {
		history = append(history, models.Utterance{Direction: models.DirectionInbound, Body: "message"})
	}
	msgs := historyMessages(history)
	if len(msgs) > maxHistoryMessages {
		t.Errorf("history messages = %d, want <= %d", len(msgs), maxHistoryMessages)
	}
}

func TestFollowUpMessage(t *testing.T) {
	mock := &genai.MockClient{ReplyResponses: []string{"Hi Ramesh, just checking in about your loan plans."}}
	g := NewGenerator(mock, testCatalog(t))
	p := models.NewCustomerProfile("+919876543210")
	p.State = models.StateFollowUpScheduling
	msg, fellBack := g.FollowUpMessage(context.Background(), "en", p)
	if fellBack || msg == "" {
		t.Errorf("FollowUpMessage() = (%q, %v)", msg, fellBack)
	}
}
