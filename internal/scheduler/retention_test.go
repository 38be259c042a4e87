package scheduler

import (
	"testing"
	"time"

	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/store"
)

func TestRetentionPurgesOldUtterances(t *testing.T) {
	st := store.NewInMemoryStore()

	old := &models.Utterance{
		Phone:     testPhone,
		Direction: models.DirectionInbound,
		Body:      "old message",
		Type:      models.MessageTypeText,
		Timestamp: time.Now().Add(-200 * 24 * time.Hour),
	}
	recent := &models.Utterance{
		Phone:     testPhone,
		Direction: models.DirectionInbound,
		Body:      "recent message",
		Type:      models.MessageTypeText,
	}
	for _, u := range []*models.Utterance{old, recent} {
		if err := st.RecordUtterance(u); err != nil {
			t.Fatalf("RecordUtterance returned %v", err)
		}
	}

	r := NewRetention(st)
	if err := r.Run(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	utts, err := st.ListUtterances(testPhone, "", 10)
	if err != nil {
		t.Fatalf("ListUtterances returned %v", err)
	}
	if len(utts) != 1 || utts[0].Body != "recent message" {
		t.Errorf("remaining utterances = %+v, want only the recent message", utts)
	}
}

func TestRetentionDeletesDormantNotInterestedProfiles(t *testing.T) {
	st := store.NewInMemoryStore()

	dormant := models.NewCustomerProfile("+919876543210")
	dormant.State = models.StateNotInterested
	dormant.UpdatedAt = time.Now().Add(-800 * 24 * time.Hour)

	recentRefusal := models.NewCustomerProfile("+919876543211")
	recentRefusal.State = models.StateNotInterested
	recentRefusal.UpdatedAt = time.Now().Add(-30 * 24 * time.Hour)

	active := models.NewCustomerProfile("+919876543212")
	active.State = models.StateQualifying
	active.UpdatedAt = time.Now().Add(-800 * 24 * time.Hour)

	for _, p := range []*models.CustomerProfile{dormant, recentRefusal, active} {
		if err := st.SaveProfile(p); err != nil {
			t.Fatalf("SaveProfile returned %v", err)
		}
	}

	r := NewRetention(st)
	if err := r.Run(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	if p, _ := st.GetProfile(dormant.Phone); p != nil {
		t.Error("dormant not-interested profile was not deleted")
	}
	if p, _ := st.GetProfile(recentRefusal.Phone); p == nil {
		t.Error("recent not-interested profile was deleted")
	}
	if p, _ := st.GetProfile(active.Phone); p == nil {
		t.Error("active profile was deleted")
	}
}

func TestRetentionWindowOverrides(t *testing.T) {
	st := store.NewInMemoryStore()

	u := &models.Utterance{
		Phone:     testPhone,
		Direction: models.DirectionInbound,
		Body:      "a week old",
		Type:      models.MessageTypeText,
		Timestamp: time.Now().Add(-7 * 24 * time.Hour),
	}
	if err := st.RecordUtterance(u); err != nil {
		t.Fatalf("RecordUtterance returned %v", err)
	}

	r := NewRetention(st, WithUtteranceRetention(24*time.Hour))
	if err := r.Run(); err != nil {
		t.Fatalf("Run returned %v", err)
	}

	utts, _ := st.ListUtterances(testPhone, "", 10)
	if len(utts) != 0 {
		t.Errorf("remaining utterances = %+v, want none with a 1d window", utts)
	}
}
