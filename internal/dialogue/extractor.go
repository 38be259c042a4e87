package dialogue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/propfin/loanagent/internal/genai"
	"github.com/propfin/loanagent/internal/models"
	"github.com/propfin/loanagent/internal/prompts"
)

// Extractor runs one structured extraction pass per turn: intent,
// confidence, and any new profile facts from the customer's message.
type Extractor struct {
	client  genai.ClientInterface
	catalog *prompts.Catalog
}

// NewExtractor returns an Extractor backed by the shared generation client.
func NewExtractor(client genai.ClientInterface, catalog *prompts.Catalog) *Extractor {
	return &Extractor{client: client, catalog: catalog}
}

// extractionPayload is the raw JSON shape the backend returns. Profile fields
// arrive untyped because models sometimes emit numbers where strings are
// expected.
type extractionPayload struct {
	Intent     string          `json:"intent"`
	Confidence float64         `json:"confidence"`
	TimeFrame  string          `json:"time_frame"`
	Name       json.RawMessage `json:"name"`

	PropertyType     json.RawMessage `json:"property_type"`
	PropertyLocation json.RawMessage `json:"property_location"`
	PropertyValue    json.RawMessage `json:"property_value"`
	OwnershipStatus  json.RawMessage `json:"ownership_status"`
	LoanAmountNeeded json.RawMessage `json:"loan_amount_needed"`
	LoanPurpose      json.RawMessage `json:"loan_purpose"`
	CurrentLoans     json.RawMessage `json:"current_loans"`
	MonthlyIncome    json.RawMessage `json:"monthly_income"`
	Urgency          json.RawMessage `json:"urgency"`
	Concerns         json.RawMessage `json:"concerns"`
}

// Extract analyzes a customer message against the current profile and
// history. It never fails a turn: any malformed payload, unknown intent, or
// backend error degrades to unclear signals with an empty delta.
func (e *Extractor) Extract(ctx context.Context, message, historyText string, p *models.CustomerProfile) models.Signals {
	system := prompts.Render(e.catalog.ExtractionPrompt(), map[string]string{
		"history": historyText,
		"profile": p.Summary(),
		"message": message,
	})
	raw, err := e.client.GenerateJSON(ctx, system, message)
	if err != nil {
		slog.Warn("Extractor.Extract: backend call failed, degrading to unclear", "phone", p.Phone, "error", err)
		return models.UnclearSignals()
	}
	sig, err := parseSignals(raw)
	if err != nil {
		slog.Warn("Extractor.Extract: malformed payload, degrading to unclear", "phone", p.Phone, "error", err)
		return models.UnclearSignals()
	}
	return sig
}

// parseSignals validates and normalizes one extraction payload.
func parseSignals(raw string) (models.Signals, error) {
	raw = stripFences(raw)
	var payload extractionPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return models.Signals{}, fmt.Errorf("%w: %v", models.ErrMalformedExtraction, err)
	}
	intent := models.Intent(strings.ToLower(strings.TrimSpace(payload.Intent)))
	if !models.IsValidIntent(intent) || intent == models.IntentUnclear {
		return models.Signals{}, fmt.Errorf("%w: unknown intent %q", models.ErrMalformedExtraction, payload.Intent)
	}
	confidence := payload.Confidence
	if confidence < 0 || confidence > 1 {
		confidence = 0.5
	}
	sig := models.Signals{
		Intent:     intent,
		Confidence: confidence,
		TimeFrame:  normalizeTimeFrame(payload.TimeFrame),
		Delta: models.ProfileDelta{
			Name:             rawString(payload.Name),
			PropertyType:     rawString(payload.PropertyType),
			PropertyLocation: rawString(payload.PropertyLocation),
			PropertyValue:    normalizeAmount(rawString(payload.PropertyValue)),
			OwnershipStatus:  rawString(payload.OwnershipStatus),
			LoanAmountNeeded: normalizeAmount(rawString(payload.LoanAmountNeeded)),
			LoanPurpose:      rawString(payload.LoanPurpose),
			CurrentLoans:     rawString(payload.CurrentLoans),
			MonthlyIncome:    rawString(payload.MonthlyIncome),
			Urgency:          rawString(payload.Urgency),
			Concerns:         rawString(payload.Concerns),
		},
	}
	return sig, nil
}

// rawString renders a JSON field as a trimmed string. Strings, numbers, and
// booleans are accepted; null, objects, and arrays become empty.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "null") || strings.EqualFold(s, "none") || strings.EqualFold(s, "unknown") {
			return ""
		}
		return s
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return strconv.FormatBool(b)
	}
	return ""
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

var amountRe = regexp.MustCompile(`(?i)^([\d,]+(?:\.\d+)?)\s*(lakhs?|lacs?|crores?|cr|k|thousand)?$`)

// Indian currency multipliers.
const (
	lakh     = 100000
	crore    = 10000000
	thousand = 1000
)

// normalizeAmount converts Indian currency phrasing ("50 lakh", "1.2 crore",
// "750k") to a plain rupee figure. Values that don't parse are kept as-is so
// no extracted information is lost.
func normalizeAmount(s string) string {
	if s == "" {
		return ""
	}
	cleaned := strings.TrimSpace(s)
	cleaned = strings.TrimPrefix(cleaned, "₹")
	cleaned = strings.TrimPrefix(strings.ToLower(cleaned), "rs.")
	cleaned = strings.TrimPrefix(cleaned, "rs")
	cleaned = strings.TrimSpace(cleaned)
	m := amountRe.FindStringSubmatch(cleaned)
	if m == nil {
		return s
	}
	num, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return s
	}
	switch {
	case strings.HasPrefix(m[2], "lakh"), strings.HasPrefix(m[2], "lac"):
		num *= lakh
	case strings.HasPrefix(m[2], "crore"), m[2] == "cr":
		num *= crore
	case m[2] == "k", m[2] == "thousand":
		num *= thousand
	}
	return strconv.FormatFloat(num, 'f', -1, 64)
}

var timeFrameRe = regexp.MustCompile(`^(\d+)([dwm])$`)

// normalizeTimeFrame validates an explicit customer time frame like "3d",
// "2w", "1m". Anything else is dropped.
func normalizeTimeFrame(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if timeFrameRe.MatchString(s) {
		return s
	}
	return ""
}
