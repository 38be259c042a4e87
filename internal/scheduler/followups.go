package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/propfin/loanagent/internal/language"
	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/store"
)

// Defaults for the follow-up sweep.
const (
	// DefaultClaimLimit caps how many due follow-ups one sweep claims.
	DefaultClaimLimit = 50
	// DefaultRetryBackoff is the base delay before retrying a failed send.
	// Actual delay doubles with each attempt.
	DefaultRetryBackoff = 15 * time.Minute
)

// composer generates re-engagement messages; implemented by
// dialogue.Orchestrator.
type composer interface {
	FollowUpMessage(ctx context.Context, profile *models.CustomerProfile) (string, error)
}

// sender delivers outbound messages; implemented by messaging.Service.
type sender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendTemplateMessage(ctx context.Context, to string, tmpl *models.MessageTemplate) error
}

// ProcessorOpts holds configuration for the follow-up processor.
type ProcessorOpts struct {
	ClaimLimit   int
	RetryBackoff time.Duration
	TemplateName string // approved template to prefer over generated text, empty to disable
}

// ProcessorOption configures the follow-up processor.
type ProcessorOption func(*ProcessorOpts)

// WithClaimLimit caps how many due follow-ups one sweep claims.
func WithClaimLimit(n int) ProcessorOption {
	return func(o *ProcessorOpts) { o.ClaimLimit = n }
}

// WithRetryBackoff sets the base delay before retrying a failed send.
func WithRetryBackoff(d time.Duration) ProcessorOption {
	return func(o *ProcessorOpts) { o.RetryBackoff = d }
}

// WithTemplateName prefers the named approved template over generated text,
// needed for channels that cannot send free-form messages outside the
// session window.
func WithTemplateName(name string) ProcessorOption {
	return func(o *ProcessorOpts) { o.TemplateName = name }
}

// Processor claims due follow-up tasks and sends re-engagement messages.
type Processor struct {
	st           store.Store
	composer     composer
	sender       sender
	claimLimit   int
	retryBackoff time.Duration
	templateName string

	now func() time.Time
}

// NewProcessor creates a follow-up processor.
func NewProcessor(st store.Store, c composer, s sender, opts ...ProcessorOption) *Processor {
	cfg := ProcessorOpts{
		ClaimLimit:   DefaultClaimLimit,
		RetryBackoff: DefaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Processor{
		st:           st,
		composer:     c,
		sender:       s,
		claimLimit:   cfg.ClaimLimit,
		retryBackoff: cfg.RetryBackoff,
		templateName: cfg.TemplateName,
		now:          time.Now,
	}
}

// ProcessDueFollowUps claims due follow-ups and sends one re-engagement
// message per task. It returns the number of messages sent. Individual task
// failures are rescheduled with backoff and do not abort the sweep.
func (p *Processor) ProcessDueFollowUps(ctx context.Context) (int, error) {
	now := p.now()
	tasks, err := p.st.ClaimDueFollowUps(now, p.claimLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to claim due follow-ups: %w", err)
	}
	if len(tasks) == 0 {
		return 0, nil
	}
	slog.Debug("Processor.ProcessDueFollowUps: claimed tasks", "count", len(tasks))

	sent := 0
	for _, task := range tasks {
		if err := p.processTask(ctx, task, now); err != nil {
			slog.Error("Processor.ProcessDueFollowUps: task failed", "error", err, "id", task.ID, "phone", task.Phone)
			continue
		}
		sent++
	}
	return sent, nil
}

// processTask sends one follow-up. Failures reschedule the task with
// exponential backoff until the attempt cap flips it to failed.
func (p *Processor) processTask(ctx context.Context, task models.FollowUpTask, now time.Time) error {
	profile, err := p.st.GetProfile(task.Phone)
	if err != nil {
		p.reschedule(task, now)
		return fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		slog.Warn("Processor.processTask: cancelling follow-up for unknown customer", "id", task.ID, "phone", task.Phone)
		return p.st.CancelFollowUp(task.ID)
	}
	if profile.DoNotContact {
		slog.Info("Processor.processTask: customer opted out, cancelling follow-ups", "phone", task.Phone)
		if err := p.st.CancelFollowUp(task.ID); err != nil {
			return err
		}
		_, err := p.st.CancelPendingFollowUps(task.Phone)
		return err
	}

	lang, _ := language.Resolve(profile.PreferredLanguage)
	body, msgType, err := p.deliver(ctx, task.Phone, profile, lang)
	if err != nil {
		p.reschedule(task, now)
		return fmt.Errorf("failed to deliver follow-up message: %w", err)
	}

	if err := p.st.CompleteFollowUp(task.ID); err != nil {
		return err
	}

	utt := &models.Utterance{
		Phone:     task.Phone,
		Direction: models.DirectionOutbound,
		Body:      body,
		Language:  lang.Name,
		Type:      msgType,
		State:     profile.State,
	}
	if err := p.st.RecordUtterance(utt); err != nil {
		slog.Error("Processor.processTask: failed to record follow-up utterance", "error", err, "phone", task.Phone)
	}

	profile.NextContactAt = nil
	if err := p.st.SaveProfile(profile); err != nil {
		slog.Error("Processor.processTask: failed to clear next contact time", "error", err, "phone", task.Phone)
	}

	slog.Info("Processor.processTask: follow-up sent", "phone", task.Phone, "reason", task.Reason, "type", msgType)
	return nil
}

// deliver prefers the configured approved template and falls back to a
// generated message in the customer's language.
func (p *Processor) deliver(ctx context.Context, phone string, profile *models.CustomerProfile, lang language.Language) (string, models.MessageType, error) {
	if p.templateName != "" {
		tmpl, err := p.lookupTemplate(lang)
		if err != nil {
			return "", "", err
		}
		if tmpl != nil {
			if err := p.sender.SendTemplateMessage(ctx, phone, tmpl); err != nil {
				return "", "", err
			}
			return tmpl.Body, models.MessageTypeTemplate, nil
		}
		slog.Debug("Processor.deliver: no approved template, generating text",
			"template", p.templateName, "language", lang.Code)
	}

	body, err := p.composer.FollowUpMessage(ctx, profile)
	if err != nil {
		return "", "", err
	}
	if err := p.sender.SendMessage(ctx, phone, body); err != nil {
		return "", "", err
	}
	return body, models.MessageTypeText, nil
}

// lookupTemplate finds an approved template in the customer's language,
// falling back to English. Returns nil when none is approved.
func (p *Processor) lookupTemplate(lang language.Language) (*models.MessageTemplate, error) {
	tmpl, err := p.st.GetTemplate(p.templateName, lang.Code)
	if err != nil {
		return nil, err
	}
	if tmpl == nil && lang.Code != language.Default.Code {
		tmpl, err = p.st.GetTemplate(p.templateName, language.Default.Code)
		if err != nil {
			return nil, err
		}
	}
	if tmpl == nil || !tmpl.Approved {
		return nil, nil
	}
	return tmpl, nil
}

// reschedule pushes a failed task back to pending with exponential backoff.
func (p *Processor) reschedule(task models.FollowUpTask, now time.Time) {
	delay := p.retryBackoff * (1 << uint(task.Attempts))
	if err := p.st.FailFollowUp(task.ID, now.Add(delay)); err != nil {
		slog.Error("Processor.reschedule: failed to reschedule follow-up", "error", err, "id", task.ID)
	}
}
