// Package dialogue implements the conversation engine: signal extraction,
// state transitions, response generation, interest tracking, follow-up
// decisions, and the per-customer turn orchestrator.
package dialogue

import (
	"fmt"
	"log/slog"

	"github.com/propfin/loanagent/internal/models"
)

// transitions maps each state to its allowed successors. Self-transitions
// are always allowed for non-terminal states and are not listed.
var transitions = map[models.StateType][]models.StateType{
	models.StateInitial: {
		models.StateIntroduction, models.StateQualifying, models.StateObjectionHandling,
		models.StateNotInterested, models.StateFollowUpScheduling,
	},
	models.StateIntroduction: {
		models.StateQualifying, models.StateObjectionHandling,
		models.StateNotInterested, models.StateFollowUpScheduling,
	},
	models.StateQualifying: {
		models.StatePropertyDetails, models.StateObjectionHandling,
		models.StateNotInterested, models.StateFollowUpScheduling,
	},
	models.StatePropertyDetails: {
		models.StateLoanDetails, models.StateObjectionHandling,
		models.StateNotInterested, models.StateFollowUpScheduling,
	},
	models.StateLoanDetails: {
		models.StateClosing, models.StateObjectionHandling,
		models.StateNotInterested, models.StateFollowUpScheduling,
	},
	models.StateObjectionHandling: {
		models.StateLoanDetails, models.StateNotInterested, models.StateFollowUpScheduling,
	},
	models.StateClosing: {
		models.StateCompleted, models.StateObjectionHandling,
		models.StateNotInterested, models.StateFollowUpScheduling,
	},
	models.StateFollowUpScheduling: {
		models.StateQualifying, models.StateObjectionHandling, models.StateNotInterested,
	},
	models.StateCompleted:     {},
	models.StateNotInterested: {models.StateIntroduction},
}

// advance maps a state to where an interested customer goes next on the
// happy path.
var advance = map[models.StateType]models.StateType{
	models.StateInitial:            models.StateIntroduction,
	models.StateIntroduction:       models.StateQualifying,
	models.StateQualifying:         models.StatePropertyDetails,
	models.StatePropertyDetails:    models.StateLoanDetails,
	models.StateLoanDetails:        models.StateClosing,
	models.StateObjectionHandling:  models.StateLoanDetails,
	models.StateClosing:            models.StateCompleted,
	models.StateFollowUpScheduling: models.StateQualifying,
	models.StateNotInterested:      models.StateIntroduction,
}

// CanTransition reports whether moving from one state to another is allowed.
// Self-transitions are always allowed.
func CanTransition(from, to models.StateType) bool {
	if from == to {
		return true
	}
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Next computes the successor state for one turn. Policy, in priority order:
// explicit disinterest wins, objections interrupt, an explicit follow-up ask
// parks the conversation, and otherwise the funnel advances only when the
// profile has the facts the next stage needs. Everything else stays put.
//
// A computed successor outside the allowed set is a bug in the policy and is
// returned as ErrIllegalTransition with the state unchanged.
func Next(current models.StateType, sig models.Signals, p *models.CustomerProfile) (models.StateType, error) {
	if !models.IsValidState(current) {
		return current, fmt.Errorf("%w: unknown state %q", models.ErrIllegalTransition, current)
	}
	if current.IsTerminal() {
		return current, nil
	}

	var target models.StateType
	switch sig.Intent {
	case models.IntentNotInterested:
		target = models.StateNotInterested
	case models.IntentObjection:
		target = models.StateObjectionHandling
	case models.IntentFollowUpLater:
		if current == models.StateNotInterested {
			return current, nil
		}
		target = models.StateFollowUpScheduling
	case models.IntentInterested:
		target = advanceFrom(current, p)
	case models.IntentNeedsMoreInfo, models.IntentAskingQuestion:
		// A first engaged reply of any kind moves the conversation into the
		// pitch. After that, questions are answered in place.
		if current == models.StateInitial {
			target = models.StateIntroduction
			break
		}
		return current, nil
	case models.IntentUnclear:
		return current, nil
	default:
		return current, nil
	}

	if target == current {
		return current, nil
	}
	if !CanTransition(current, target) {
		slog.Error("Next: computed transition not allowed", "from", current, "to", target, "intent", sig.Intent)
		return current, fmt.Errorf("%w: %s -> %s on intent %s", models.ErrIllegalTransition, current, target, sig.Intent)
	}
	return target, nil
}

// advanceFrom gates the happy path on required profile facts: property
// basics before loan talk, a loan amount before closing. A customer ahead of
// their data stays in place and gets asked for the missing facts.
func advanceFrom(current models.StateType, p *models.CustomerProfile) models.StateType {
	next, ok := advance[current]
	if !ok {
		return current
	}
	switch next {
	case models.StateLoanDetails:
		if current == models.StatePropertyDetails && !p.HasPropertyBasics() {
			return current
		}
	case models.StateClosing:
		if !p.HasLoanBasics() {
			return current
		}
	}
	return next
}

// AllowedTransitions returns the successors of a state, for diagnostics.
func AllowedTransitions(s models.StateType) []models.StateType {
	out := make([]models.StateType, len(transitions[s]))
	copy(out, transitions[s])
	return out
}
