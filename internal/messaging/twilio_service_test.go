package messaging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/twiliowhatsapp"
)

func TestTwilioServiceSendMessage(t *testing.T) {
	mock := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(mock)
	defer svc.Stop()

	if err := svc.SendMessage(context.Background(), "9876543210", "namaste"); err != nil {
		t.Fatalf("SendMessage returned %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("sent %d messages, want 1", len(mock.SentMessages))
	}
	if mock.SentMessages[0].To != "+919876543210" {
		t.Errorf("sent to %q, want canonical +919876543210", mock.SentMessages[0].To)
	}

	select {
	case r := <-svc.Receipts():
		if r.Status != models.ReceiptStatusSent {
			t.Errorf("receipt Status = %q, want %q", r.Status, models.ReceiptStatusSent)
		}
	case <-time.After(time.Second):
		t.Fatal("no receipt emitted")
	}
}

func TestTwilioWebhookHandler(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	form := url.Values{}
	form.Set("From", "whatsapp:+919876543210")
	form.Set("Body", "mujhe loan chahiye")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d, want 200", rec.Code)
	}

	select {
	case msg := <-svc.Responses():
		if msg.From != "+919876543210" {
			t.Errorf("inbound From = %q, want +919876543210", msg.From)
		}
		if msg.Body != "mujhe loan chahiye" {
			t.Errorf("inbound Body = %q", msg.Body)
		}
	case <-time.After(time.Second):
		t.Fatal("no inbound message emitted")
	}
}

func TestTwilioWebhookHandlerMissingFields(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	defer svc.Stop()

	form := url.Values{}
	form.Set("From", "whatsapp:+919876543210")
	req := httptest.NewRequest(http.MethodPost, "/webhook/twilio", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()

	svc.WebhookHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("webhook status = %d, want 400", rec.Code)
	}
}

func TestTwilioServiceSendAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+919876543210", "hello"); err != ErrServiceStopped {
		t.Errorf("send after stop error = %v, want ErrServiceStopped", err)
	}
}
