package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/propfin/loanagent/internal/models"
)

// TurnHandler processes one inbound customer message and returns the reply.
// Implemented by dialogue.Orchestrator.
type TurnHandler interface {
	HandleTurn(ctx context.Context, phone, text string) (string, error)
}

// Dispatcher routes inbound messages from the messaging service into the
// dialogue engine and sends the replies back out.
type Dispatcher struct {
	svc     Service
	handler TurnHandler
}

// NewDispatcher creates a Dispatcher connecting the messaging service to the
// turn handler.
func NewDispatcher(svc Service, handler TurnHandler) *Dispatcher {
	return &Dispatcher{svc: svc, handler: handler}
}

// Start begins consuming inbound messages. It returns immediately; the
// processing loop runs until the context is cancelled or the inbound channel
// closes.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting inbound processing")
	go func() {
		defer slog.Info("Dispatcher stopped inbound processing")
		for {
			select {
			case msg, ok := <-d.svc.Responses():
				if !ok {
					slog.Debug("Dispatcher: inbound channel closed")
					return
				}
				if err := d.dispatch(ctx, msg); err != nil {
					slog.Error("Dispatcher: failed to process inbound message", "error", err, "from", msg.From)
				}
			case <-ctx.Done():
				slog.Debug("Dispatcher stopping due to context cancellation")
				return
			}
		}
	}()
}

// dispatch runs one inbound message through the dialogue engine and sends
// the reply.
func (d *Dispatcher) dispatch(ctx context.Context, msg models.InboundMessage) error {
	canonicalFrom, err := d.svc.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return err
	}

	reply, err := d.handler.HandleTurn(ctx, canonicalFrom, msg.Body)
	if err != nil {
		if errors.Is(err, models.ErrDoNotContact) {
			slog.Debug("Dispatcher: dropping message from opted-out customer", "from", canonicalFrom)
			return nil
		}
		return err
	}
	if reply == "" {
		return nil
	}

	return d.svc.SendMessage(ctx, canonicalFrom, reply)
}
