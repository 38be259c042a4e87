package dialogue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/propfin/loanagent/internal/models"
)

// Follow-up delay buckets, longest to shortest. A falling interest trend
// shortens the chosen bucket by one step so cooling customers are reached
// sooner; a rising trend never lengthens it.
var buckets = []time.Duration{
	90 * 24 * time.Hour,
	30 * 24 * time.Hour,
	21 * 24 * time.Hour,
	14 * 24 * time.Hour,
	7 * 24 * time.Hour,
	3 * 24 * time.Hour,
}

// FollowUpDecision is the deterministic scheduling outcome of one turn.
type FollowUpDecision struct {
	Schedule bool
	Delay    time.Duration
	Reason   string
}

// DecideFollowUp picks a follow-up delay from the turn's intent, the next
// state, and the customer's interest trend. An explicit customer time frame
// overrides the bucket. The decision is a pure function of its inputs.
func DecideFollowUp(sig models.Signals, next models.StateType, trend models.InterestTrend) FollowUpDecision {
	if tf := sig.TimeFrame; tf != "" {
		if d, err := ParseTimeFrame(tf); err == nil {
			return FollowUpDecision{Schedule: true, Delay: d, Reason: "customer_requested_" + tf}
		}
	}

	var base time.Duration
	var reason string
	switch {
	case sig.Intent == models.IntentFollowUpLater:
		base, reason = 7*24*time.Hour, "follow_up_later"
	case next == models.StateFollowUpScheduling:
		base, reason = 14*24*time.Hour, "follow_up_scheduling"
	case next == models.StateNotInterested:
		base, reason = 90*24*time.Hour, "not_interested"
	case next == models.StateObjectionHandling:
		base, reason = 21*24*time.Hour, "objection_pending"
	case next == models.StateLoanDetails && sig.Intent != models.IntentInterested:
		base, reason = 30*24*time.Hour, "loan_details_stalled"
	default:
		return FollowUpDecision{}
	}

	if trend == models.TrendFalling {
		base = shorten(base)
	}
	return FollowUpDecision{Schedule: true, Delay: base, Reason: reason}
}

// shorten moves a delay one bucket toward the shortest.
func shorten(d time.Duration) time.Duration {
	for i, b := range buckets {
		if d >= b {
			if i+1 < len(buckets) {
				return buckets[i+1]
			}
			return b
		}
	}
	return buckets[len(buckets)-1]
}

// ParseTimeFrame converts a customer time frame ("3d", "2w", "1m") to a
// duration. A month counts as 30 days.
func ParseTimeFrame(tf string) (time.Duration, error) {
	if len(tf) < 2 {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidTimeFrame, tf)
	}
	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidTimeFrame, tf)
	}
	day := 24 * time.Hour
	switch tf[len(tf)-1] {
	case 'd':
		return time.Duration(n) * day, nil
	case 'w':
		return time.Duration(n) * 7 * day, nil
	case 'm':
		return time.Duration(n) * 30 * day, nil
	default:
		return 0, fmt.Errorf("%w: %q", models.ErrInvalidTimeFrame, tf)
	}
}
