package models

// StateType identifies a stage of the sales conversation funnel.
type StateType string

const (
	// StateInitial is the state of a customer we have never spoken to.
	StateInitial StateType = "initial"
	// StateIntroduction covers the opening pitch.
	StateIntroduction StateType = "introduction"
	// StateQualifying establishes whether the customer owns usable property.
	StateQualifying StateType = "qualifying"
	// StatePropertyDetails gathers the property facts needed for a quote.
	StatePropertyDetails StateType = "property_details"
	// StateLoanDetails gathers loan amount, purpose, and repayment context.
	StateLoanDetails StateType = "loan_details"
	// StateObjectionHandling addresses doubts before returning to the funnel.
	StateObjectionHandling StateType = "objection_handling"
	// StateClosing drives toward an application or a branch visit.
	StateClosing StateType = "closing"
	// StateFollowUpScheduling parks the conversation until an agreed time.
	StateFollowUpScheduling StateType = "follow_up_scheduling"
	// StateCompleted is terminal; the customer converted.
	StateCompleted StateType = "completed"
	// StateNotInterested is dormant; only renewed interest leaves it.
	StateNotInterested StateType = "not_interested"
)

// AllStates lists every conversation state in funnel order.
var AllStates = []StateType{
	StateInitial,
	StateIntroduction,
	StateQualifying,
	StatePropertyDetails,
	StateLoanDetails,
	StateObjectionHandling,
	StateClosing,
	StateFollowUpScheduling,
	StateCompleted,
	StateNotInterested,
}

// IsValidState checks whether the given state is part of the funnel.
func IsValidState(s StateType) bool {
	for _, known := range AllStates {
		if s == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave the state.
func (s StateType) IsTerminal() bool {
	return s == StateCompleted
}

// Intent classifies what the customer's latest message is trying to do.
type Intent string

const (
	IntentInterested     Intent = "interested"
	IntentNeedsMoreInfo  Intent = "needs_more_info"
	IntentObjection      Intent = "objection"
	IntentNotInterested  Intent = "not_interested"
	IntentAskingQuestion Intent = "asking_question"
	IntentFollowUpLater  Intent = "follow_up_later"
	// IntentUnclear is the degraded value used when extraction fails.
	IntentUnclear Intent = "unclear"
)

// IsValidIntent checks whether the given intent is one the engine understands.
func IsValidIntent(i Intent) bool {
	switch i {
	case IntentInterested, IntentNeedsMoreInfo, IntentObjection,
		IntentNotInterested, IntentAskingQuestion, IntentFollowUpLater,
		IntentUnclear:
		return true
	default:
		return false
	}
}

// Signals is the structured output of one extraction pass over an inbound
// message: what the customer wants, how confident we are, and any new facts.
type Signals struct {
	Intent     Intent       `json:"intent"`
	Confidence float64      `json:"confidence"`
	Delta      ProfileDelta `json:"delta"`
	// TimeFrame is an explicit customer ask like "3d", "2w", "1m"; empty
	// when the customer named no time.
	TimeFrame string `json:"time_frame,omitempty"`
}

// UnclearSignals returns the degraded extraction result used when the
// extraction payload cannot be trusted.
func UnclearSignals() Signals {
	return Signals{Intent: IntentUnclear, Confidence: 0}
}
