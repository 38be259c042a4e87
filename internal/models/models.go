// Package models defines the core data structures for the loan agent.
//
// It includes conversation states, extracted signals, customer profiles, and
// follow-up tasks, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// MessageType identifies how an utterance was delivered.
type MessageType string

const (
	// MessageTypeText is a free-form text message inside the session window.
	MessageTypeText MessageType = "text"
	// MessageTypeTemplate is a pre-approved template message.
	MessageTypeTemplate MessageType = "template"
	// MessageTypeSystem is an internally generated note (resets, cancellations).
	MessageTypeSystem MessageType = "system"
)

// Direction identifies who authored an utterance.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Validation constants for input validation
const (
	// MaxMessageBodyLength defines the maximum allowed length for an outbound message body
	MaxMessageBodyLength = 4096
	// MaxReplyLength caps generated replies to a WhatsApp-friendly size
	MaxReplyLength = 900
	// MaxConcernLength defines the maximum allowed length for a recorded concern
	MaxConcernLength = 500
)

// Error variables shared across modules for error handling and testability
var (
	ErrEmptyRecipient       = errors.New("recipient cannot be empty")
	ErrEmptyMessageBody     = errors.New("message body cannot be empty")
	ErrMessageBodyTooLong   = errors.New("message body exceeds maximum length")
	ErrIllegalTransition    = errors.New("illegal state transition")
	ErrMalformedExtraction  = errors.New("malformed extraction payload")
	ErrBackendUnavailable   = errors.New("generation backend unavailable")
	ErrBackendTimeout       = errors.New("generation backend timed out")
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrDoNotContact         = errors.New("customer has opted out of contact")
	ErrProfileNotFound      = errors.New("customer profile not found")
	ErrTemplateNotFound     = errors.New("message template not found")
	ErrTemplateNotApproved  = errors.New("message template is not approved")
	ErrFollowUpNotFound     = errors.New("follow-up task not found")
	ErrTurnInProgress       = errors.New("another turn is in progress for this customer")
	ErrInvalidTimeFrame     = errors.New("invalid follow-up time frame")
	ErrEmptyUtteranceBody   = errors.New("utterance body cannot be empty")
	ErrInvalidInterestLevel = errors.New("interest level must be within [0,1]")
)

// InboundMessage represents an incoming message from a customer.
type InboundMessage struct {
	From      string    `json:"from"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Receipt status values emitted by messaging backends.
const (
	ReceiptStatusSent      = "sent"
	ReceiptStatusDelivered = "delivered"
	ReceiptStatusRead      = "read"
)

// Receipt represents a delivery or read receipt for a sent message.
type Receipt struct {
	To     string    `json:"to"`
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// Utterance is one recorded message in a conversation, either direction.
// Body holds the English-normalized text the engine operated on; OriginalBody
// preserves what the customer actually sent (or what was actually delivered).
type Utterance struct {
	ID           string      `json:"id"`
	Phone        string      `json:"phone"`
	Direction    Direction   `json:"direction"`
	Body         string      `json:"body"`
	OriginalBody string      `json:"original_body,omitempty"`
	Language     string      `json:"language,omitempty"`
	Type         MessageType `json:"type"`
	State        StateType   `json:"state,omitempty"`
	Intent       Intent      `json:"intent,omitempty"`
	Confidence   float64     `json:"confidence,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
}

// Validate checks an utterance before it is recorded.
func (u *Utterance) Validate() error {
	if u.Phone == "" {
		return ErrEmptyRecipient
	}
	if u.Body == "" {
		return ErrEmptyUtteranceBody
	}
	if len(u.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	if u.Direction != DirectionInbound && u.Direction != DirectionOutbound {
		return errors.New("utterance direction must be inbound or outbound")
	}
	return nil
}

// FollowUpStatus tracks the lifecycle of a scheduled follow-up.
type FollowUpStatus string

const (
	FollowUpStatusPending   FollowUpStatus = "pending"
	FollowUpStatusClaimed   FollowUpStatus = "claimed"
	FollowUpStatusSent      FollowUpStatus = "sent"
	FollowUpStatusFailed    FollowUpStatus = "failed"
	FollowUpStatusCancelled FollowUpStatus = "cancelled"
)

// MaxFollowUpAttempts caps delivery retries before a follow-up is marked failed.
const MaxFollowUpAttempts = 5

// FollowUpTask is a durable, store-backed re-engagement job. At most one
// pending task exists per customer; scheduling a new one cancels the rest.
type FollowUpTask struct {
	ID        string         `json:"id"`
	Phone     string         `json:"phone"`
	DueAt     time.Time      `json:"due_at"`
	Status    FollowUpStatus `json:"status"`
	Reason    string         `json:"reason,omitempty"`
	Attempts  int            `json:"attempts"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// MessageTemplate is a pre-approved outbound template, keyed by name and
// language code. Templates are required for re-engagement outside the
// provider's session window.
type MessageTemplate struct {
	Name         string    `json:"name"`
	LanguageCode string    `json:"language_code"`
	Body         string    `json:"body"`
	Approved     bool      `json:"approved"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks a template before it is saved.
func (t *MessageTemplate) Validate() error {
	if t.Name == "" {
		return errors.New("template name cannot be empty")
	}
	if t.LanguageCode == "" {
		return errors.New("template language code cannot be empty")
	}
	if t.Body == "" {
		return ErrEmptyMessageBody
	}
	if len(t.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	return nil
}
