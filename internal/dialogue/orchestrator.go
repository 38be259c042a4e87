package dialogue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/language"
	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/prompts"
	"github.com/propfin/loanagent/internal/store"
)

// historyWindow is how many recent utterances a turn loads for context.
const historyWindow = 50

// Orchestrator runs complete turns: one inbound customer message to one
// outbound reply, with all state, profile, and scheduling effects persisted.
// Turns for the same customer are serialized; different customers run
// concurrently.
type Orchestrator struct {
	st        store.Store
	extractor *Extractor
	generator *Generator
	lang      *language.Processor
	catalog   *prompts.Catalog
	locks     *keyedLocks
	now       func() time.Time
}

// NewOrchestrator wires the engine together over a store and a shared
// generation client.
func NewOrchestrator(st store.Store, client genai.ClientInterface, catalog *prompts.Catalog) *Orchestrator {
	return &Orchestrator{
		st:        st,
		extractor: NewExtractor(client, catalog),
		generator: NewGenerator(client, catalog),
		lang:      language.NewProcessor(client),
		catalog:   catalog,
		locks:     newKeyedLocks(),
		now:       time.Now,
	}
}

// HandleTurn processes one inbound message and returns the reply to send.
// The reply is in the customer's language. An error means the turn was
// aborted with no reply owed (opted-out customer, terminal persistence
// failure); every degradable failure inside the turn produces a usable
// reply instead.
func (o *Orchestrator) HandleTurn(ctx context.Context, phone, text string) (string, error) {
	if phone == "" {
		return "", models.ErrEmptyRecipient
	}
	if text == "" {
		return "", models.ErrEmptyUtteranceBody
	}
	o.locks.Lock(phone)
	defer o.locks.Unlock(phone)

	started := o.now()
	profile, err := o.loadOrCreateProfile(phone)
	if err != nil {
		return "", err
	}
	if profile.DoNotContact {
		slog.Info("Orchestrator.HandleTurn: skipping opted-out customer", "phone", phone)
		return "", models.ErrDoNotContact
	}

	lang := o.lang.Detect(ctx, text, profile.PreferredLanguage)
	profile.PreferredLanguage = lang.Name
	english := o.lang.TranslateIn(ctx, text, lang)

	inbound := &models.Utterance{
		Phone:        phone,
		Direction:    models.DirectionInbound,
		Body:         english,
		OriginalBody: text,
		Language:     lang.Code,
		Type:         models.MessageTypeText,
		State:        profile.State,
	}

	history, err := o.st.ListUtterances(phone, "", 0)
	if err != nil {
		return "", fmt.Errorf("loading history for %s: %w", phone, err)
	}
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	sig := o.extractor.Extract(ctx, english, FormatHistory(history), profile)
	inbound.Intent = sig.Intent
	inbound.Confidence = sig.Confidence

	next, err := Next(profile.State, sig, profile)
	if err != nil {
		// Illegal transitions are fatal for the turn: state unchanged,
		// inbound still recorded for the audit trail.
		if recErr := o.st.RecordUtterance(inbound); recErr != nil {
			slog.Error("Orchestrator.HandleTurn: failed to record inbound after transition error", "phone", phone, "error", recErr)
		}
		return "", err
	}
	prev := profile.State

	reply, fellBack := o.generator.Reply(ctx, next, lang.Code, profile, history, english)
	cannedState := next
	if fellBack {
		// Generation failed; do not advance the funnel on a canned reply.
		next = prev
	}

	profile.Merge(sig.Delta)
	UpdateInterest(profile, sig.Intent)
	profile.State = next

	decision := DecideFollowUp(sig, next, profile.Trend())
	if decision.Schedule {
		due := started.Add(decision.Delay)
		profile.NextContactAt = &due
	} else {
		profile.NextContactAt = nil
	}
	if sig.Intent == models.IntentNotInterested && next == models.StateNotInterested {
		// Dormant customers keep their long-dated re-engagement touch but
		// nothing sooner.
		slog.Info("Orchestrator.HandleTurn: customer moved to not_interested", "phone", phone)
	}

	if err := o.st.RecordUtterance(inbound); err != nil {
		return "", fmt.Errorf("recording inbound for %s: %w", phone, err)
	}
	if err := o.st.SaveProfile(profile); err != nil {
		return "", fmt.Errorf("saving profile for %s: %w", phone, err)
	}

	// The canned fallback is already in the customer's language, so it must
	// not take another trip through the backend that just failed. Generated
	// replies are English and still need translating out.
	body := reply
	if fellBack {
		if lang.Code != language.Default.Code {
			body = o.catalog.Fallback(cannedState, language.Default.Code)
		}
	} else {
		reply = o.lang.TranslateOut(ctx, reply, lang)
	}
	outbound := &models.Utterance{
		Phone:        phone,
		Direction:    models.DirectionOutbound,
		Body:         body,
		OriginalBody: reply,
		Language:     lang.Code,
		Type:         models.MessageTypeText,
		State:        next,
	}
	if err := o.st.RecordUtterance(outbound); err != nil {
		slog.Error("Orchestrator.HandleTurn: failed to record outbound", "phone", phone, "error", err)
	}

	if decision.Schedule {
		if _, err := o.st.CancelPendingFollowUps(phone); err != nil {
			slog.Error("Orchestrator.HandleTurn: failed to cancel prior follow-ups", "phone", phone, "error", err)
		}
		task := models.FollowUpTask{Phone: phone, DueAt: started.Add(decision.Delay), Reason: decision.Reason}
		if _, err := o.st.EnqueueFollowUp(task); err != nil {
			slog.Error("Orchestrator.HandleTurn: failed to enqueue follow-up", "phone", phone, "error", err)
		}
	}

	slog.Debug("Orchestrator.HandleTurn: turn complete",
		"phone", phone, "intent", sig.Intent, "from", prev, "to", next,
		"interest", profile.InterestLevel, "language", lang.Code,
		"follow_up", decision.Reason, "fell_back", fellBack,
		"duration", o.now().Sub(started))
	return reply, nil
}

// OptOut flags a customer as do-not-contact and cancels their pending
// follow-ups.
func (o *Orchestrator) OptOut(phone string) error {
	o.locks.Lock(phone)
	defer o.locks.Unlock(phone)
	profile, err := o.loadOrCreateProfile(phone)
	if err != nil {
		return err
	}
	profile.DoNotContact = true
	profile.NextContactAt = nil
	if err := o.st.SaveProfile(profile); err != nil {
		return fmt.Errorf("saving profile for %s: %w", phone, err)
	}
	n, err := o.st.CancelPendingFollowUps(phone)
	if err != nil {
		return fmt.Errorf("cancelling follow-ups for %s: %w", phone, err)
	}
	slog.Info("Orchestrator.OptOut: customer opted out", "phone", phone, "cancelled_followups", n)
	return nil
}

// Reset returns a customer's conversation to the initial state, keeping
// their profile facts.
func (o *Orchestrator) Reset(phone string) error {
	o.locks.Lock(phone)
	defer o.locks.Unlock(phone)
	profile, err := o.st.GetProfile(phone)
	if err != nil {
		return err
	}
	if profile == nil {
		return models.ErrProfileNotFound
	}
	profile.State = models.StateInitial
	profile.NextContactAt = nil
	if err := o.st.SaveProfile(profile); err != nil {
		return fmt.Errorf("saving profile for %s: %w", phone, err)
	}
	note := &models.Utterance{
		Phone:     phone,
		Direction: models.DirectionOutbound,
		Body:      "conversation reset",
		Type:      models.MessageTypeSystem,
		State:     models.StateInitial,
	}
	if err := o.st.RecordUtterance(note); err != nil {
		slog.Warn("Orchestrator.Reset: failed to record reset note", "phone", phone, "error", err)
	}
	return nil
}

// FollowUpMessage generates the re-engagement text for a due follow-up, in
// the customer's preferred language.
func (o *Orchestrator) FollowUpMessage(ctx context.Context, profile *models.CustomerProfile) (string, error) {
	lang, _ := language.Resolve(profile.PreferredLanguage)
	msg, fellBack := o.generator.FollowUpMessage(ctx, lang.Code, profile)
	if fellBack {
		// The canned text came out of the catalog in the customer's
		// language already.
		return msg, nil
	}
	return o.lang.TranslateOut(ctx, msg, lang), nil
}

// Store exposes the underlying store to callers that share the orchestrator
// wiring (API handlers, the scheduler sweep).
func (o *Orchestrator) Store() store.Store {
	return o.st
}

// Catalog exposes the prompt catalog for hot reload.
func (o *Orchestrator) Catalog() *prompts.Catalog {
	return o.catalog
}

func (o *Orchestrator) loadOrCreateProfile(phone string) (*models.CustomerProfile, error) {
	profile, err := o.st.GetProfile(phone)
	if err != nil {
		return nil, fmt.Errorf("loading profile for %s: %w", phone, err)
	}
	if profile == nil {
		profile = models.NewCustomerProfile(phone)
		slog.Info("Orchestrator.loadOrCreateProfile: new customer", "phone", phone)
	}
	return profile, nil
}
