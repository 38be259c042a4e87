// Package store provides storage backends for the loan agent.
//
// It persists customer profiles, conversation utterances, the durable
// follow-up queue, and approved message templates. Backends: in-memory (the
// default, also used in tests), SQLite, and PostgreSQL.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/propfin/loanagent/internal/models"
)

// Store is the persistence interface shared by all backends.
type Store interface {
	// GetProfile returns the profile for a phone number, or nil if absent.
	GetProfile(phone string) (*models.CustomerProfile, error)
	// SaveProfile inserts or replaces a profile.
	SaveProfile(p *models.CustomerProfile) error
	// ListProfiles returns every stored profile.
	ListProfiles() ([]*models.CustomerProfile, error)
	// DeleteProfile removes a profile and its conversation history.
	DeleteProfile(phone string) error

	// RecordUtterance appends an utterance; an empty ID is assigned.
	RecordUtterance(u *models.Utterance) error
	// ListUtterances returns up to limit utterances for a phone in insertion
	// order, strictly after the utterance with afterID (all from the start
	// when afterID is empty).
	ListUtterances(phone, afterID string, limit int) ([]models.Utterance, error)
	// PurgeOldUtterances deletes utterances older than the cutoff and
	// returns how many were removed.
	PurgeOldUtterances(before time.Time) (int, error)

	// EnqueueFollowUp inserts a pending follow-up and returns its ID.
	EnqueueFollowUp(t models.FollowUpTask) (string, error)
	// CancelFollowUp cancels a single follow-up by ID regardless of status.
	CancelFollowUp(id string) error
	// CancelPendingFollowUps cancels all pending follow-ups for a phone and
	// returns how many were cancelled.
	CancelPendingFollowUps(phone string) (int, error)
	// ClaimDueFollowUps atomically flips up to limit due pending follow-ups
	// to claimed and returns them. A row is claimed by exactly one caller.
	ClaimDueFollowUps(now time.Time, limit int) ([]models.FollowUpTask, error)
	// CompleteFollowUp marks a claimed follow-up as sent.
	CompleteFollowUp(id string) error
	// FailFollowUp records a delivery failure: the task returns to pending
	// at nextDueAt, or becomes failed once attempts reach the cap.
	FailFollowUp(id string, nextDueAt time.Time) error
	// RequeueStaleFollowUps returns follow-ups stuck in claimed since before
	// the cutoff to pending (crash recovery) and reports the count.
	RequeueStaleFollowUps(staleBefore time.Time) (int, error)

	// SaveTemplate inserts or replaces a message template.
	SaveTemplate(t models.MessageTemplate) error
	// GetTemplate returns a template by name and language code, or nil.
	GetTemplate(name, languageCode string) (*models.MessageTemplate, error)

	Close() error
}

// DSNType identifies which backend a DSN selects.
type DSNType string

const (
	DSNTypeMemory   DSNType = "memory"
	DSNTypeSQLite   DSNType = "sqlite"
	DSNTypePostgres DSNType = "postgres"
)

// DetectDSNType routes a DSN to a backend: postgres URLs and key=value
// connection strings go to Postgres, the empty DSN to the in-memory store,
// and everything else is treated as a SQLite file path.
func DetectDSNType(dsn string) DSNType {
	switch {
	case dsn == "":
		return DSNTypeMemory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"), strings.Contains(dsn, "host="):
		return DSNTypePostgres
	default:
		return DSNTypeSQLite
	}
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// New creates the store backend selected by the configured DSN: Postgres for
// postgres URLs and key=value connection strings, in-memory for the empty
// DSN, and SQLite for file paths.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch DetectDSNType(cfg.DSN) {
	case DSNTypePostgres:
		return NewPostgresStore(opts...)
	case DSNTypeSQLite:
		return NewSQLiteStore(opts...)
	default:
		return NewInMemoryStore(), nil
	}
}

// utteranceRecord pairs an utterance with its insertion sequence for cursor
// pagination.
type utteranceRecord struct {
	seq int64
	utt models.Utterance
}

// InMemoryStore is a mutex-guarded Store used as the default backend and in
// tests.
type InMemoryStore struct {
	mu         sync.RWMutex
	profiles   map[string]*models.CustomerProfile
	utterances []utteranceRecord
	nextSeq    int64
	followups  map[string]*models.FollowUpTask
	templates  map[string]models.MessageTemplate
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		profiles:  make(map[string]*models.CustomerProfile),
		followups: make(map[string]*models.FollowUpTask),
		templates: make(map[string]models.MessageTemplate),
		nextSeq:   1,
	}
}

func (s *InMemoryStore) GetProfile(phone string) (*models.CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[phone]
	if !ok {
		return nil, nil
	}
	clone := *p
	return &clone, nil
}

func (s *InMemoryStore) SaveProfile(p *models.CustomerProfile) error {
	if p.Phone == "" {
		return models.ErrEmptyRecipient
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *p
	s.profiles[p.Phone] = &clone
	return nil
}

func (s *InMemoryStore) ListProfiles() ([]*models.CustomerProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.CustomerProfile, 0, len(s.profiles))
	for _, p := range s.profiles {
		clone := *p
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Phone < out[j].Phone })
	return out, nil
}

func (s *InMemoryStore) DeleteProfile(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, phone)
	kept := s.utterances[:0]
	for _, rec := range s.utterances {
		if rec.utt.Phone != phone {
			kept = append(kept, rec)
		}
	}
	s.utterances = kept
	return nil
}

func (s *InMemoryStore) RecordUtterance(u *models.Utterance) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	s.utterances = append(s.utterances, utteranceRecord{seq: s.nextSeq, utt: *u})
	s.nextSeq++
	return nil
}

func (s *InMemoryStore) ListUtterances(phone, afterID string, limit int) ([]models.Utterance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var afterSeq int64
	if afterID != "" {
		for _, rec := range s.utterances {
			if rec.utt.ID == afterID {
				afterSeq = rec.seq
				break
			}
		}
	}
	var out []models.Utterance
	for _, rec := range s.utterances {
		if rec.utt.Phone != phone || rec.seq <= afterSeq {
			continue
		}
		out = append(out, rec.utt)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *InMemoryStore) PurgeOldUtterances(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.utterances[:0]
	removed := 0
	for _, rec := range s.utterances {
		if rec.utt.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.utterances = kept
	return removed, nil
}

func (s *InMemoryStore) EnqueueFollowUp(t models.FollowUpTask) (string, error) {
	if t.Phone == "" {
		return "", models.ErrEmptyRecipient
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.Status = models.FollowUpStatusPending
	t.CreatedAt = now
	t.UpdatedAt = now
	s.followups[t.ID] = &t
	return t.ID, nil
}

func (s *InMemoryStore) CancelFollowUp(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.followups[id]
	if !ok {
		return models.ErrFollowUpNotFound
	}
	t.Status = models.FollowUpStatusCancelled
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) CancelPendingFollowUps(phone string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.followups {
		if t.Phone == phone && t.Status == models.FollowUpStatusPending {
			t.Status = models.FollowUpStatusCancelled
			t.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) ClaimDueFollowUps(now time.Time, limit int) ([]models.FollowUpTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*models.FollowUpTask
	for _, t := range s.followups {
		if t.Status == models.FollowUpStatusPending && !t.DueAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].DueAt.Before(due[j].DueAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]models.FollowUpTask, 0, len(due))
	for _, t := range due {
		t.Status = models.FollowUpStatusClaimed
		t.UpdatedAt = now
		out = append(out, *t)
	}
	return out, nil
}

func (s *InMemoryStore) CompleteFollowUp(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.followups[id]
	if !ok {
		return models.ErrFollowUpNotFound
	}
	t.Status = models.FollowUpStatusSent
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) FailFollowUp(id string, nextDueAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.followups[id]
	if !ok {
		return models.ErrFollowUpNotFound
	}
	t.Attempts++
	t.UpdatedAt = time.Now().UTC()
	if t.Attempts >= models.MaxFollowUpAttempts {
		t.Status = models.FollowUpStatusFailed
		return nil
	}
	t.Status = models.FollowUpStatusPending
	t.DueAt = nextDueAt
	return nil
}

func (s *InMemoryStore) RequeueStaleFollowUps(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, t := range s.followups {
		if t.Status == models.FollowUpStatusClaimed && t.UpdatedAt.Before(staleBefore) {
			t.Status = models.FollowUpStatusPending
			t.UpdatedAt = time.Now().UTC()
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) SaveTemplate(t models.MessageTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t.UpdatedAt = time.Now().UTC()
	s.templates[t.Name+"|"+t.LanguageCode] = t
	return nil
}

func (s *InMemoryStore) GetTemplate(name, languageCode string) (*models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[name+"|"+languageCode]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *InMemoryStore) Close() error { return nil }
