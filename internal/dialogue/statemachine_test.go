package dialogue

import (
	"errors"
	"testing"

	"github.com/propfin/loanagent/internal/models"
)

func sigWith(intent models.Intent) models.Signals {
	return models.Signals{Intent: intent, Confidence: 0.9}
}

func fullProfile() *models.CustomerProfile {
	p := models.NewCustomerProfile("+919876543210")
	p.Merge(models.ProfileDelta{
		PropertyType:     "apartment",
		PropertyLocation: "Bangalore",
		LoanAmountNeeded: "5000000",
	})
	return p
}

func TestNextHappyPath(t *testing.T) {
	tests := []struct {
		from models.StateType
		want models.StateType
	}{
		{models.StateInitial, models.StateIntroduction},
		{models.StateIntroduction, models.StateQualifying},
		{models.StateQualifying, models.StatePropertyDetails},
		{models.StatePropertyDetails, models.StateLoanDetails},
		{models.StateLoanDetails, models.StateClosing},
		{models.StateObjectionHandling, models.StateLoanDetails},
		{models.StateClosing, models.StateCompleted},
		{models.StateFollowUpScheduling, models.StateQualifying},
		{models.StateNotInterested, models.StateIntroduction},
	}
	p := fullProfile()
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			got, err := Next(tt.from, sigWith(models.IntentInterested), p)
			if err != nil {
				t.Fatalf("Next(%s, interested) error: %v", tt.from, err)
			}
			if got != tt.want {
				t.Errorf("Next(%s, interested) = %s, want %s", tt.from, got, tt.want)
			}
		})
	}
}

func TestNextDisinterestWinsFromAnyActiveState(t *testing.T) {
	p := fullProfile()
	for _, from := range models.AllStates {
		if from == models.StateCompleted || from == models.StateNotInterested {
			continue
		}
		got, err := Next(from, sigWith(models.IntentNotInterested), p)
		if err != nil {
			t.Errorf("Next(%s, not_interested) error: %v", from, err)
			continue
		}
		if got != models.StateNotInterested {
			t.Errorf("Next(%s, not_interested) = %s, want not_interested", from, got)
		}
	}
}

func TestNextCompletedIsTerminal(t *testing.T) {
	p := fullProfile()
	for _, intent := range []models.Intent{
		models.IntentInterested, models.IntentNotInterested,
		models.IntentObjection, models.IntentFollowUpLater,
	} {
		got, err := Next(models.StateCompleted, sigWith(intent), p)
		if err != nil {
			t.Errorf("Next(completed, %s) error: %v", intent, err)
		}
		if got != models.StateCompleted {
			t.Errorf("Next(completed, %s) = %s, want completed", intent, got)
		}
	}
}

func TestNextObjectionInterrupts(t *testing.T) {
	p := fullProfile()
	for _, from := range []models.StateType{
		models.StateQualifying, models.StateLoanDetails, models.StateClosing,
	} {
		got, err := Next(from, sigWith(models.IntentObjection), p)
		if err != nil {
			t.Fatalf("Next(%s, objection) error: %v", from, err)
		}
		if got != models.StateObjectionHandling {
			t.Errorf("Next(%s, objection) = %s, want objection_handling", from, got)
		}
	}
}

func TestNextFollowUpLaterParks(t *testing.T) {
	p := fullProfile()
	got, err := Next(models.StateLoanDetails, sigWith(models.IntentFollowUpLater), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.StateFollowUpScheduling {
		t.Errorf("Next(loan_details, follow_up_later) = %s", got)
	}
	// Dormant customers stay dormant on a follow-up ask.
	got, err = Next(models.StateNotInterested, sigWith(models.IntentFollowUpLater), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.StateNotInterested {
		t.Errorf("Next(not_interested, follow_up_later) = %s, want not_interested", got)
	}
}

func TestNextGatesOnRequiredInfo(t *testing.T) {
	empty := models.NewCustomerProfile("+919876543210")

	// Missing property basics blocks property_details -> loan_details.
	got, err := Next(models.StatePropertyDetails, sigWith(models.IntentInterested), empty)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.StatePropertyDetails {
		t.Errorf("advance without property basics = %s, want self-transition", got)
	}

	// Missing loan amount blocks loan_details -> closing.
	got, err = Next(models.StateLoanDetails, sigWith(models.IntentInterested), empty)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.StateLoanDetails {
		t.Errorf("advance without loan basics = %s, want self-transition", got)
	}
}

func TestNextFirstEngagedReplyEntersIntroduction(t *testing.T) {
	// A fresh contact who replies with anything engaged gets the pitch
	// before qualification starts.
	p := fullProfile()
	for _, intent := range []models.Intent{
		models.IntentInterested, models.IntentNeedsMoreInfo, models.IntentAskingQuestion,
	} {
		got, err := Next(models.StateInitial, sigWith(intent), p)
		if err != nil {
			t.Fatalf("Next(initial, %s) error: %v", intent, err)
		}
		if got != models.StateIntroduction {
			t.Errorf("Next(initial, %s) = %s, want introduction", intent, got)
		}
	}

	got, err := Next(models.StateInitial, sigWith(models.IntentUnclear), p)
	if err != nil {
		t.Fatal(err)
	}
	if got != models.StateInitial {
		t.Errorf("Next(initial, unclear) = %s, want initial", got)
	}
}

func TestNextNeutralIntentsSelfTransition(t *testing.T) {
	p := fullProfile()
	for _, intent := range []models.Intent{
		models.IntentNeedsMoreInfo, models.IntentAskingQuestion, models.IntentUnclear,
	} {
		got, err := Next(models.StateQualifying, sigWith(intent), p)
		if err != nil {
			t.Fatal(err)
		}
		if got != models.StateQualifying {
			t.Errorf("Next(qualifying, %s) = %s, want qualifying", intent, got)
		}
	}
}

func TestNextUnknownStateIsIllegal(t *testing.T) {
	p := fullProfile()
	_, err := Next("negotiating", sigWith(models.IntentInterested), p)
	if !errors.Is(err, models.ErrIllegalTransition) {
		t.Errorf("Next(unknown state) = %v, want ErrIllegalTransition", err)
	}
}

func TestCanTransition(t *testing.T) {
	if !CanTransition(models.StateQualifying, models.StateQualifying) {
		t.Error("self-transition should be allowed")
	}
	if CanTransition(models.StateQualifying, models.StateClosing) {
		t.Error("qualifying -> closing skips the funnel and must be rejected")
	}
	if CanTransition(models.StateCompleted, models.StateIntroduction) {
		t.Error("nothing leaves completed")
	}
	if !CanTransition(models.StateNotInterested, models.StateIntroduction) {
		t.Error("renewed interest re-enters at introduction")
	}
}
