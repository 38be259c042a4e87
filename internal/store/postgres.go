// Package store provides storage backends for the loan agent.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/propfin/loanagent/internal/models"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists the agent's data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Postgres store initialized")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetProfile(phone string) (*models.CustomerProfile, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM profiles WHERE phone = $1`, phone).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile %s: %w", phone, err)
	}
	var p models.CustomerProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", phone, err)
	}
	return &p, nil
}

func (s *PostgresStore) SaveProfile(p *models.CustomerProfile) error {
	if p.Phone == "" {
		return models.ErrEmptyRecipient
	}
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", p.Phone, err)
	}
	_, err = s.db.Exec(
		`INSERT INTO profiles (phone, state, data, updated_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (phone) DO UPDATE SET state = EXCLUDED.state, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		p.Phone, string(p.State), data, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.Phone, err)
	}
	return nil
}

func (s *PostgresStore) ListProfiles() ([]*models.CustomerProfile, error) {
	rows, err := s.db.Query(`SELECT data FROM profiles ORDER BY phone`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()
	var out []*models.CustomerProfile
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		var p models.CustomerProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("failed to decode profile row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteProfile(phone string) error {
	if _, err := s.db.Exec(`DELETE FROM utterances WHERE phone = $1`, phone); err != nil {
		return fmt.Errorf("failed to delete utterances for %s: %w", phone, err)
	}
	if _, err := s.db.Exec(`DELETE FROM profiles WHERE phone = $1`, phone); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) RecordUtterance(u *models.Utterance) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Timestamp.IsZero() {
		u.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO utterances (id, phone, direction, body, original_body, language, type, state, intent, confidence, timestamp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		u.ID, u.Phone, string(u.Direction), u.Body, nilIfEmpty(u.OriginalBody), nilIfEmpty(u.Language),
		string(u.Type), nilIfEmpty(string(u.State)), nilIfEmpty(string(u.Intent)), u.Confidence, u.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert utterance for %s: %w", u.Phone, err)
	}
	return nil
}

func (s *PostgresStore) ListUtterances(phone, afterID string, limit int) ([]models.Utterance, error) {
	afterSeq := int64(0)
	if afterID != "" {
		err := s.db.QueryRow(`SELECT seq FROM utterances WHERE id = $1`, afterID).Scan(&afterSeq)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to resolve cursor %s: %w", afterID, err)
		}
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.Query(
		`SELECT id, phone, direction, body, original_body, language, type, state, intent, confidence, timestamp
		 FROM utterances WHERE phone = $1 AND seq > $2 ORDER BY seq LIMIT $3`,
		phone, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query utterances for %s: %w", phone, err)
	}
	defer rows.Close()
	return scanUtterances(rows)
}

func (s *PostgresStore) PurgeOldUtterances(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM utterances WHERE timestamp < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge utterances: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) EnqueueFollowUp(t models.FollowUpTask) (string, error) {
	if t.Phone == "" {
		return "", models.ErrEmptyRecipient
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO followups (id, phone, due_at, status, reason, attempts, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		t.ID, t.Phone, t.DueAt, string(models.FollowUpStatusPending), nilIfEmpty(t.Reason), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue follow-up for %s: %w", t.Phone, err)
	}
	return t.ID, nil
}

func (s *PostgresStore) CancelFollowUp(id string) error {
	res, err := s.db.Exec(
		`UPDATE followups SET status = $1, updated_at = $2 WHERE id = $3`,
		string(models.FollowUpStatusCancelled), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel follow-up %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrFollowUpNotFound
	}
	return nil
}

func (s *PostgresStore) CancelPendingFollowUps(phone string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE followups SET status = $1, updated_at = $2 WHERE phone = $3 AND status = $4`,
		string(models.FollowUpStatusCancelled), time.Now().UTC(), phone, string(models.FollowUpStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel follow-ups for %s: %w", phone, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClaimDueFollowUps uses SKIP LOCKED so concurrent sweepers never claim the
// same row.
func (s *PostgresStore) ClaimDueFollowUps(now time.Time, limit int) ([]models.FollowUpTask, error) {
	rows, err := s.db.Query(
		`UPDATE followups SET status = $1, updated_at = $2
		 WHERE id IN (
		     SELECT id FROM followups WHERE status = $3 AND due_at <= $2
		     ORDER BY due_at LIMIT $4 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, phone, due_at, status, reason, attempts, created_at, updated_at`,
		string(models.FollowUpStatusClaimed), now, string(models.FollowUpStatusPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due follow-ups: %w", err)
	}
	defer rows.Close()
	return scanFollowUps(rows)
}

func (s *PostgresStore) CompleteFollowUp(id string) error {
	res, err := s.db.Exec(
		`UPDATE followups SET status = $1, updated_at = $2 WHERE id = $3`,
		string(models.FollowUpStatusSent), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete follow-up %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrFollowUpNotFound
	}
	return nil
}

func (s *PostgresStore) FailFollowUp(id string, nextDueAt time.Time) error {
	var attempts int
	err := s.db.QueryRow(`SELECT attempts FROM followups WHERE id = $1`, id).Scan(&attempts)
	if err == sql.ErrNoRows {
		return models.ErrFollowUpNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read follow-up %s: %w", id, err)
	}
	attempts++
	now := time.Now().UTC()
	if attempts >= models.MaxFollowUpAttempts {
		_, err = s.db.Exec(
			`UPDATE followups SET status = $1, attempts = $2, updated_at = $3 WHERE id = $4`,
			string(models.FollowUpStatusFailed), attempts, now, id)
	} else {
		_, err = s.db.Exec(
			`UPDATE followups SET status = $1, attempts = $2, due_at = $3, updated_at = $4 WHERE id = $5`,
			string(models.FollowUpStatusPending), attempts, nextDueAt, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to fail follow-up %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) RequeueStaleFollowUps(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE followups SET status = $1, updated_at = $2 WHERE status = $3 AND updated_at < $4`,
		string(models.FollowUpStatusPending), time.Now().UTC(), string(models.FollowUpStatusClaimed), staleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale follow-ups: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *PostgresStore) SaveTemplate(t models.MessageTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT INTO templates (name, language_code, body, approved, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name, language_code) DO UPDATE SET body = EXCLUDED.body, approved = EXCLUDED.approved, updated_at = EXCLUDED.updated_at`,
		t.Name, t.LanguageCode, t.Body, t.Approved, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save template %s/%s: %w", t.Name, t.LanguageCode, err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(name, languageCode string) (*models.MessageTemplate, error) {
	var t models.MessageTemplate
	err := s.db.QueryRow(
		`SELECT name, language_code, body, approved, updated_at FROM templates WHERE name = $1 AND language_code = $2`,
		name, languageCode).Scan(&t.Name, &t.LanguageCode, &t.Body, &t.Approved, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template %s/%s: %w", name, languageCode, err)
	}
	return &t, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
