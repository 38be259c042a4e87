package store

import (
	"database/sql"
	"fmt"

	"github.com/propfin/loanagent/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanUtterances drains rows produced by the shared utterance column list.
func scanUtterances(rows *sql.Rows) ([]models.Utterance, error) {
	var out []models.Utterance
	for rows.Next() {
		var u models.Utterance
		var originalBody, language, state, intent sql.NullString
		var confidence sql.NullFloat64
		err := rows.Scan(
			&u.ID, &u.Phone, (*string)(&u.Direction), &u.Body, &originalBody, &language,
			(*string)(&u.Type), &state, &intent, &confidence, &u.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan utterance failed: %w", err)
		}
		u.OriginalBody = originalBody.String
		u.Language = language.String
		u.State = models.StateType(state.String)
		u.Intent = models.Intent(intent.String)
		u.Confidence = confidence.Float64
		out = append(out, u)
	}
	return out, rows.Err()
}

// scanFollowUps drains rows produced by the shared follow-up column list.
func scanFollowUps(rows *sql.Rows) ([]models.FollowUpTask, error) {
	var out []models.FollowUpTask
	for rows.Next() {
		var t models.FollowUpTask
		var reason sql.NullString
		err := rows.Scan(&t.ID, &t.Phone, &t.DueAt, (*string)(&t.Status), &reason, &t.Attempts, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan follow-up failed: %w", err)
		}
		t.Reason = reason.String
		out = append(out, t)
	}
	return out, rows.Err()
}
