package dialogue

import "github.com/propfin/loanagent/internal/models"

// Interest level adjustments per detected intent. Positive signals are
// capped so a customer never looks hotter than their strongest signal
// warrants; negative signals floor above zero except explicit disinterest.
const (
	interestedDelta    = 0.20
	interestedCap      = 1.0
	moreInfoDelta      = 0.10
	moreInfoCap        = 0.8
	objectionDelta     = -0.10
	objectionFloor     = 0.1
	notInterestedDelta = -0.30
	notInterestedFloor = 0.0
)

// UpdateInterest adjusts the profile's interest level for one turn and
// records the applied delta in the trend window. Intents that carry no
// buying signal leave the level untouched.
func UpdateInterest(p *models.CustomerProfile, intent models.Intent) {
	before := p.InterestLevel
	switch intent {
	case models.IntentInterested:
		p.InterestLevel = min(p.InterestLevel+interestedDelta, interestedCap)
	case models.IntentNeedsMoreInfo:
		p.InterestLevel = min(p.InterestLevel+moreInfoDelta, moreInfoCap)
	case models.IntentObjection:
		p.InterestLevel = max(p.InterestLevel+objectionDelta, objectionFloor)
	case models.IntentNotInterested:
		p.InterestLevel = max(p.InterestLevel+notInterestedDelta, notInterestedFloor)
	default:
		return
	}
	p.RecordInterestDelta(p.InterestLevel - before)
}
