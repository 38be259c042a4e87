package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Property detail keys populated by extraction.
const (
	FieldPropertyType     = "property_type"
	FieldPropertyLocation = "property_location"
	FieldPropertyValue    = "property_value"
	FieldOwnershipStatus  = "ownership_status"
)

// Loan requirement keys populated by extraction.
const (
	FieldLoanAmountNeeded = "loan_amount_needed"
	FieldLoanPurpose      = "loan_purpose"
	FieldCurrentLoans     = "current_loans"
	FieldMonthlyIncome    = "monthly_income"
	FieldUrgency          = "urgency"
)

// ProfileDelta carries facts extracted from a single message. An empty field
// means "no new information"; deltas never erase existing profile data.
type ProfileDelta struct {
	Name             string `json:"name,omitempty"`
	PropertyType     string `json:"property_type,omitempty"`
	PropertyLocation string `json:"property_location,omitempty"`
	PropertyValue    string `json:"property_value,omitempty"`
	OwnershipStatus  string `json:"ownership_status,omitempty"`
	LoanAmountNeeded string `json:"loan_amount_needed,omitempty"`
	LoanPurpose      string `json:"loan_purpose,omitempty"`
	CurrentLoans     string `json:"current_loans,omitempty"`
	MonthlyIncome    string `json:"monthly_income,omitempty"`
	Urgency          string `json:"urgency,omitempty"`
	Concerns         string `json:"concerns,omitempty"`
}

// IsEmpty reports whether the delta carries no new facts at all.
func (d ProfileDelta) IsEmpty() bool {
	return d == ProfileDelta{}
}

// CustomerProfile is the durable record for one customer, keyed by phone
// number in E.164 form. PropertyDetails and LoanRequirements hold extracted
// facts as free-form string fields so partially known data is representable.
type CustomerProfile struct {
	Phone             string            `json:"phone"`
	Name              string            `json:"name,omitempty"`
	PreferredLanguage string            `json:"preferred_language,omitempty"`
	State             StateType         `json:"state"`
	PropertyDetails   map[string]string `json:"property_details,omitempty"`
	LoanRequirements  map[string]string `json:"loan_requirements,omitempty"`
	Concerns          []string          `json:"concerns,omitempty"`
	InterestLevel     float64           `json:"interest_level"`
	RecentDeltas      []float64         `json:"recent_deltas,omitempty"`
	NextContactAt     *time.Time        `json:"next_contact_at,omitempty"`
	DoNotContact      bool              `json:"do_not_contact"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// NewCustomerProfile returns a fresh profile in the initial state with a
// neutral interest level.
func NewCustomerProfile(phone string) *CustomerProfile {
	now := time.Now().UTC()
	return &CustomerProfile{
		Phone:            phone,
		State:            StateInitial,
		PropertyDetails:  map[string]string{},
		LoanRequirements: map[string]string{},
		InterestLevel:    0.5,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Merge applies a delta to the profile. The merge is monotonically
// non-destructive: only non-empty delta fields are written, concerns append
// with deduplication, and the name is set only once.
func (p *CustomerProfile) Merge(d ProfileDelta) {
	if p.PropertyDetails == nil {
		p.PropertyDetails = map[string]string{}
	}
	if p.LoanRequirements == nil {
		p.LoanRequirements = map[string]string{}
	}
	if d.Name != "" && p.Name == "" {
		p.Name = d.Name
	}
	setIf(p.PropertyDetails, FieldPropertyType, d.PropertyType)
	setIf(p.PropertyDetails, FieldPropertyLocation, d.PropertyLocation)
	setIf(p.PropertyDetails, FieldPropertyValue, d.PropertyValue)
	setIf(p.PropertyDetails, FieldOwnershipStatus, d.OwnershipStatus)
	setIf(p.LoanRequirements, FieldLoanAmountNeeded, d.LoanAmountNeeded)
	setIf(p.LoanRequirements, FieldLoanPurpose, d.LoanPurpose)
	setIf(p.LoanRequirements, FieldCurrentLoans, d.CurrentLoans)
	setIf(p.LoanRequirements, FieldMonthlyIncome, d.MonthlyIncome)
	setIf(p.LoanRequirements, FieldUrgency, d.Urgency)
	if c := strings.TrimSpace(d.Concerns); c != "" {
		if len(c) > MaxConcernLength {
			c = c[:MaxConcernLength]
		}
		for _, existing := range p.Concerns {
			if strings.EqualFold(existing, c) {
				return
			}
		}
		p.Concerns = append(p.Concerns, c)
	}
}

func setIf(m map[string]string, key, value string) {
	if strings.TrimSpace(value) != "" {
		m[key] = strings.TrimSpace(value)
	}
}

// HasPropertyBasics reports whether the facts needed to discuss loan terms
// are known.
func (p *CustomerProfile) HasPropertyBasics() bool {
	return p.PropertyDetails[FieldPropertyType] != "" && p.PropertyDetails[FieldPropertyLocation] != ""
}

// HasLoanBasics reports whether the facts needed to move to closing are known.
func (p *CustomerProfile) HasLoanBasics() bool {
	return p.LoanRequirements[FieldLoanAmountNeeded] != ""
}

// Summary renders the known profile facts as prompt-ready text. Keys are
// sorted so the rendering is stable across turns.
func (p *CustomerProfile) Summary() string {
	var b strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", p.Name)
	}
	writeSection(&b, "Property", p.PropertyDetails)
	writeSection(&b, "Loan requirements", p.LoanRequirements)
	if len(p.Concerns) > 0 {
		fmt.Fprintf(&b, "Concerns raised: %s\n", strings.Join(p.Concerns, "; "))
	}
	if b.Len() == 0 {
		return "Nothing known about this customer yet."
	}
	fmt.Fprintf(&b, "Interest level: %.1f\n", p.InterestLevel)
	return strings.TrimRight(b.String(), "\n")
}

func writeSection(b *strings.Builder, title string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(b, "%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", strings.ReplaceAll(k, "_", " "), m[k])
	}
}

// InterestWindow is the number of recent interest deltas kept for trend
// classification.
const InterestWindow = 5

// InterestTrend classifies the recent direction of a customer's interest.
type InterestTrend string

const (
	TrendRising  InterestTrend = "rising"
	TrendFlat    InterestTrend = "flat"
	TrendFalling InterestTrend = "falling"
)

// Trend classifies the sum of the recent interest deltas.
func (p *CustomerProfile) Trend() InterestTrend {
	var sum float64
	for _, d := range p.RecentDeltas {
		sum += d
	}
	switch {
	case sum >= 0.1:
		return TrendRising
	case sum <= -0.1:
		return TrendFalling
	default:
		return TrendFlat
	}
}

// RecordInterestDelta appends a delta to the trend window, dropping the
// oldest entry beyond InterestWindow.
func (p *CustomerProfile) RecordInterestDelta(d float64) {
	p.RecentDeltas = append(p.RecentDeltas, d)
	if len(p.RecentDeltas) > InterestWindow {
		p.RecentDeltas = p.RecentDeltas[len(p.RecentDeltas)-InterestWindow:]
	}
}
