// Package store provides storage backends for the loan agent.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/propfin/loanagent/internal/models"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists the agent's data in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path; missing parent directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("sqlite ping failed: %w", err)
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("SQLite store initialized", "dsn", cfg.DSN)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetProfile(phone string) (*models.CustomerProfile, error) {
	var data string
	err := s.db.QueryRow(`SELECT data FROM profiles WHERE phone = ?`, phone).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query profile %s: %w", phone, err)
	}
	var p models.CustomerProfile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", phone, err)
	}
	return &p, nil
}

func (s *SQLiteStore) SaveProfile(p *models.CustomerProfile) error {
	if p.Phone == "" {
		return models.ErrEmptyRecipient
	}
	p.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode profile %s: %w", p.Phone, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO profiles (phone, state, data, updated_at) VALUES (?, ?, ?, ?)`,
		p.Phone, string(p.State), string(data), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile %s: %w", p.Phone, err)
	}
	slog.Debug("SQLiteStore.SaveProfile succeeded", "phone", p.Phone, "state", p.State)
	return nil
}

func (s *SQLiteStore) ListProfiles() ([]*models.CustomerProfile, error) {
	rows, err := s.db.Query(`SELECT data FROM profiles ORDER BY phone`)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()
	var out []*models.CustomerProfile
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		var p models.CustomerProfile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to decode profile row: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteProfile(phone string) error {
	if _, err := s.db.Exec(`DELETE FROM utterances WHERE phone = ?`, phone); err != nil {
		return fmt.Errorf("failed to delete utterances for %s: %w", phone, err)
	}
	if _, err := s.db.Exec(`DELETE FROM profiles WHERE phone = ?`, phone); err != nil {
		return fmt.Errorf("failed to delete profile %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) RecordUtterance(u *models.Utterance) error {
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
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Phone, string(u.Direction), u.Body, nilIfEmpty(u.OriginalBody), nilIfEmpty(u.Language),
		string(u.Type), nilIfEmpty(string(u.State)), nilIfEmpty(string(u.Intent)), u.Confidence, u.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert utterance for %s: %w", u.Phone, err)
	}
	return nil
}

func (s *SQLiteStore) ListUtterances(phone, afterID string, limit int) ([]models.Utterance, error) {
	afterSeq := int64(0)
	if afterID != "" {
		err := s.db.QueryRow(`SELECT seq FROM utterances WHERE id = ?`, afterID).Scan(&afterSeq)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("failed to resolve cursor %s: %w", afterID, err)
		}
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, phone, direction, body, original_body, language, type, state, intent, confidence, timestamp
		 FROM utterances WHERE phone = ? AND seq > ? ORDER BY seq LIMIT ?`,
		phone, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query utterances for %s: %w", phone, err)
	}
	defer rows.Close()
	return scanUtterances(rows)
}

func (s *SQLiteStore) PurgeOldUtterances(before time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM utterances WHERE timestamp < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge utterances: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) EnqueueFollowUp(t models.FollowUpTask) (string, error) {
	if t.Phone == "" {
		return "", models.ErrEmptyRecipient
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO followups (id, phone, due_at, status, reason, attempts, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		t.ID, t.Phone, t.DueAt, string(models.FollowUpStatusPending), nilIfEmpty(t.Reason), now, now)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue follow-up for %s: %w", t.Phone, err)
	}
	slog.Debug("SQLiteStore.EnqueueFollowUp succeeded", "phone", t.Phone, "due_at", t.DueAt, "reason", t.Reason)
	return t.ID, nil
}

func (s *SQLiteStore) CancelFollowUp(id string) error {
	res, err := s.db.Exec(
		`UPDATE followups SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.FollowUpStatusCancelled), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to cancel follow-up %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrFollowUpNotFound
	}
	return nil
}

func (s *SQLiteStore) CancelPendingFollowUps(phone string) (int, error) {
	res, err := s.db.Exec(
		`UPDATE followups SET status = ?, updated_at = ? WHERE phone = ? AND status = ?`,
		string(models.FollowUpStatusCancelled), time.Now().UTC(), phone, string(models.FollowUpStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to cancel follow-ups for %s: %w", phone, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) ClaimDueFollowUps(now time.Time, limit int) ([]models.FollowUpTask, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT id, phone, due_at, status, reason, attempts, created_at, updated_at
		 FROM followups WHERE status = ? AND due_at <= ? ORDER BY due_at LIMIT ?`,
		string(models.FollowUpStatusPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due follow-ups: %w", err)
	}
	tasks, err := scanFollowUps(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if _, err := tx.Exec(
			`UPDATE followups SET status = ?, updated_at = ? WHERE id = ?`,
			string(models.FollowUpStatusClaimed), now, tasks[i].ID); err != nil {
			return nil, fmt.Errorf("failed to claim follow-up %s: %w", tasks[i].ID, err)
		}
		tasks[i].Status = models.FollowUpStatusClaimed
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}
	return tasks, nil
}

func (s *SQLiteStore) CompleteFollowUp(id string) error {
	res, err := s.db.Exec(
		`UPDATE followups SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.FollowUpStatusSent), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to complete follow-up %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrFollowUpNotFound
	}
	return nil
}

func (s *SQLiteStore) FailFollowUp(id string, nextDueAt time.Time) error {
	var attempts int
	err := s.db.QueryRow(`SELECT attempts FROM followups WHERE id = ?`, id).Scan(&attempts)
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
			`UPDATE followups SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
			string(models.FollowUpStatusFailed), attempts, now, id)
	} else {
		_, err = s.db.Exec(
			`UPDATE followups SET status = ?, attempts = ?, due_at = ?, updated_at = ? WHERE id = ?`,
			string(models.FollowUpStatusPending), attempts, nextDueAt, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to fail follow-up %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) RequeueStaleFollowUps(staleBefore time.Time) (int, error) {
	res, err := s.db.Exec(
		`UPDATE followups SET status = ?, updated_at = ? WHERE status = ? AND updated_at < ?`,
		string(models.FollowUpStatusPending), time.Now().UTC(), string(models.FollowUpStatusClaimed), staleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale follow-ups: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) SaveTemplate(t models.MessageTemplate) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO templates (name, language_code, body, approved, updated_at) VALUES (?, ?, ?, ?, ?)`,
		t.Name, t.LanguageCode, t.Body, t.Approved, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save template %s/%s: %w", t.Name, t.LanguageCode, err)
	}
	return nil
}

func (s *SQLiteStore) GetTemplate(name, languageCode string) (*models.MessageTemplate, error) {
	var t models.MessageTemplate
	err := s.db.QueryRow(
		`SELECT name, language_code, body, approved, updated_at FROM templates WHERE name = ? AND language_code = ?`,
		name, languageCode).Scan(&t.Name, &t.LanguageCode, &t.Body, &t.Approved, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query template %s/%s: %w", name, languageCode, err)
	}
	return &t, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
