package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/store"
)

// Defaults for retention pruning.
const (
	// DefaultUtteranceRetention is how long conversation history is kept.
	DefaultUtteranceRetention = 180 * 24 * time.Hour
	// DefaultDormantRetention is how long dormant not-interested profiles
	// are kept before hard deletion.
	DefaultDormantRetention = 730 * 24 * time.Hour
)

// RetentionOpts holds configuration for the retention job.
type RetentionOpts struct {
	UtteranceRetention time.Duration
	DormantRetention   time.Duration
}

// RetentionOption configures the retention job.
type RetentionOption func(*RetentionOpts)

// WithUtteranceRetention sets how long conversation history is kept.
func WithUtteranceRetention(d time.Duration) RetentionOption {
	return func(o *RetentionOpts) { o.UtteranceRetention = d }
}

// WithDormantRetention sets how long dormant not-interested profiles are
// kept before hard deletion.
func WithDormantRetention(d time.Duration) RetentionOption {
	return func(o *RetentionOpts) { o.DormantRetention = d }
}

// Retention prunes aged conversation data.
type Retention struct {
	st           store.Store
	utteranceAge time.Duration
	dormantAge   time.Duration

	now func() time.Time
}

// NewRetention creates a retention job.
func NewRetention(st store.Store, opts ...RetentionOption) *Retention {
	cfg := RetentionOpts{
		UtteranceRetention: DefaultUtteranceRetention,
		DormantRetention:   DefaultDormantRetention,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Retention{
		st:           st,
		utteranceAge: cfg.UtteranceRetention,
		dormantAge:   cfg.DormantRetention,
		now:          time.Now,
	}
}

// Run purges utterances older than the retention window and hard-deletes
// dormant not-interested profiles past the dormant window.
func (r *Retention) Run() error {
	now := r.now()

	purged, err := r.st.PurgeOldUtterances(now.Add(-r.utteranceAge))
	if err != nil {
		return fmt.Errorf("failed to purge old utterances: %w", err)
	}

	profiles, err := r.st.ListProfiles()
	if err != nil {
		return fmt.Errorf("failed to list profiles for retention: %w", err)
	}
	dormantBefore := now.Add(-r.dormantAge)
	deleted := 0
	for _, p := range profiles {
		if p.State != models.StateNotInterested || p.UpdatedAt.After(dormantBefore) {
			continue
		}
		if _, err := r.st.CancelPendingFollowUps(p.Phone); err != nil {
			slog.Error("Retention.Run: failed to cancel follow-ups for dormant profile", "error", err, "phone", p.Phone)
			continue
		}
		if err := r.st.DeleteProfile(p.Phone); err != nil {
			slog.Error("Retention.Run: failed to delete dormant profile", "error", err, "phone", p.Phone)
			continue
		}
		deleted++
	}

	slog.Info("Retention.Run: retention pass complete", "utterances_purged", purged, "profiles_deleted", deleted)
	return nil
}
