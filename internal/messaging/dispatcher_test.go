package messaging

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/propfin/loanagent/internal/models"
)

// mockService is a channel-backed Service for dispatcher tests.
type mockService struct {
	mu      sync.Mutex
	sent    []models.Receipt
	bodies  []string
	inbound chan models.InboundMessage
}

func newMockService() *mockService {
	return &mockService{inbound: make(chan models.InboundMessage, 10)}
}

func (m *mockService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return CanonicalizeRecipient(recipient)
}

func (m *mockService) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, models.Receipt{To: to, Status: models.ReceiptStatusSent, Time: time.Now()})
	m.bodies = append(m.bodies, body)
	return nil
}

func (m *mockService) SendTemplateMessage(ctx context.Context, to string, tmpl *models.MessageTemplate) error {
	return m.SendMessage(ctx, to, tmpl.Body)
}

func (m *mockService) Start(ctx context.Context) error { return nil }
func (m *mockService) Stop() error                     { return nil }

func (m *mockService) Receipts() <-chan models.Receipt { return nil }

func (m *mockService) Responses() <-chan models.InboundMessage { return m.inbound }

func (m *mockService) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockTurnHandler struct {
	mu     sync.Mutex
	phones []string
	texts  []string
	reply  string
	err    error
}

func (h *mockTurnHandler) HandleTurn(ctx context.Context, phone, text string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phones = append(h.phones, phone)
	h.texts = append(h.texts, text)
	return h.reply, h.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestDispatcherRoutesInboundToHandler(t *testing.T) {
	svc := newMockService()
	handler := &mockTurnHandler{reply: "Happy to help with your loan."}
	d := NewDispatcher(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	svc.inbound <- models.InboundMessage{From: "9876543210", Body: "I need a loan", Timestamp: time.Now()}

	waitFor(t, func() bool { return svc.sentCount() == 1 })

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.phones) != 1 || handler.phones[0] != "+919876543210" {
		t.Errorf("handler phones = %v, want [+919876543210]", handler.phones)
	}
	if handler.texts[0] != "I need a loan" {
		t.Errorf("handler text = %q", handler.texts[0])
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.bodies[0] != "Happy to help with your loan." {
		t.Errorf("sent body = %q", svc.bodies[0])
	}
}

func TestDispatcherDropsOptedOutCustomers(t *testing.T) {
	svc := newMockService()
	handler := &mockTurnHandler{err: models.ErrDoNotContact}
	d := NewDispatcher(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	svc.inbound <- models.InboundMessage{From: "+919876543210", Body: "hello", Timestamp: time.Now()}

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.phones) == 1
	})
	time.Sleep(50 * time.Millisecond)

	if svc.sentCount() != 0 {
		t.Errorf("sent %d messages to opted-out customer, want 0", svc.sentCount())
	}
}

func TestDispatcherSkipsEmptyReplies(t *testing.T) {
	svc := newMockService()
	handler := &mockTurnHandler{reply: ""}
	d := NewDispatcher(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	svc.inbound <- models.InboundMessage{From: "+919876543210", Body: "hello", Timestamp: time.Now()}

	waitFor(t, func() bool {
		handler.mu.Lock()
		defer handler.mu.Unlock()
		return len(handler.phones) == 1
	})
	time.Sleep(50 * time.Millisecond)

	if svc.sentCount() != 0 {
		t.Errorf("sent %d messages for empty reply, want 0", svc.sentCount())
	}
}

func TestDispatcherStopsOnChannelClose(t *testing.T) {
	svc := newMockService()
	handler := &mockTurnHandler{reply: "ok"}
	d := NewDispatcher(svc, handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	close(svc.inbound)
	// Loop must exit without panicking; give it a beat.
	time.Sleep(50 * time.Millisecond)
}
