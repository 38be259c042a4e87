// Package messaging abstracts the WhatsApp delivery channel behind a common
// Service interface with WhatsApp Web (Whatsmeow) and Twilio backends.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"

	"github.com/propfin/loanagent/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and inbound channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
	// DefaultRegion is the default region for parsing phone numbers without a country code
	DefaultRegion = "IN"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// Service defines messaging operations independent of the delivery backend.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates a phone number and returns
	// its E.164 form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)
	// SendMessage sends a free-form text message within the session window.
	SendMessage(ctx context.Context, to string, body string) error
	// SendTemplateMessage sends a pre-approved template message for
	// re-engagement outside the session window.
	SendTemplateMessage(ctx context.Context, to string, tmpl *models.MessageTemplate) error
	// Start begins background processing (event handling, webhooks).
	Start(ctx context.Context) error
	// Stop stops background processing and closes channels.
	Stop() error
	// Receipts returns a channel of delivery receipt events.
	Receipts() <-chan models.Receipt
	// Responses returns a channel of incoming customer messages.
	Responses() <-chan models.InboundMessage
}

// CanonicalizeRecipient validates and canonicalizes a phone number to E.164.
// Numbers without a country code are parsed against DefaultRegion. A Twilio
// "whatsapp:" prefix is stripped before parsing.
func CanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	raw := strings.TrimSpace(strings.TrimPrefix(recipient, "whatsapp:"))

	num, err := phonenumbers.Parse(raw, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("invalid phone number %q: %w", recipient, err)
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("invalid phone number %q: not valid for any region", recipient)
	}

	canonical := phonenumbers.Format(num, phonenumbers.E164)
	if canonical != raw {
		slog.Debug("messaging: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// validateOutbound checks a message body before sending.
func validateOutbound(body string) error {
	if body == "" {
		return models.ErrEmptyMessageBody
	}
	if len(body) > models.MaxMessageBodyLength {
		return fmt.Errorf("%w: %d bytes", models.ErrMessageBodyTooLong, len(body))
	}
	return nil
}

// validateTemplate checks a template before sending.
func validateTemplate(tmpl *models.MessageTemplate) error {
	if tmpl == nil {
		return models.ErrTemplateNotFound
	}
	if err := tmpl.Validate(); err != nil {
		return err
	}
	if !tmpl.Approved {
		return fmt.Errorf("%w: %s (%s)", models.ErrTemplateNotApproved, tmpl.Name, tmpl.LanguageCode)
	}
	return nil
}
