package whatsapp

import (
	"context"
	"testing"
)

func TestOptions(t *testing.T) {
	var cfg Opts
	for _, opt := range []Option{
		WithSessionDSN("/tmp/session.db"),
		WithQRCodeOutput("/tmp/qr.txt"),
		WithNumericCode(),
	} {
		opt(&cfg)
	}
	if cfg.SessionDSN != "/tmp/session.db" {
		t.Errorf("SessionDSN = %q, want /tmp/session.db", cfg.SessionDSN)
	}
	if cfg.QRPath != "/tmp/qr.txt" {
		t.Errorf("QRPath = %q, want /tmp/qr.txt", cfg.QRPath)
	}
	if !cfg.NumericCode {
		t.Error("NumericCode not set")
	}
}

func TestSendMessageValidation(t *testing.T) {
	c := &Client{}
	if err := c.SendMessage(context.Background(), "+919876543210", "hello"); err == nil {
		t.Error("expected error for uninitialized client")
	}
}

func TestMockClientSend(t *testing.T) {
	m := NewMockClient()
	if err := m.SendMessage(context.Background(), "+919876543210", "hello"); err != nil {
		t.Errorf("MockClient.SendMessage returned %v", err)
	}
	var _ Sender = m
}
