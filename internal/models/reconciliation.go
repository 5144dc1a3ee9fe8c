package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the verdict of one reconciled row.
type Status string

const (
	StatusMatched   Status = "matched"
	StatusReview    Status = "review"
	StatusUnmatched Status = "unmatched"
	StatusConflict  Status = "conflict"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// MatchType names the cascade tier that produced a match.
type MatchType string

const (
	MatchTypeNone  MatchType = ""
	MatchTypeAlias MatchType = "alias"
	MatchTypeExact MatchType = "exact"
	MatchTypeFuzzy MatchType = "fuzzy"
)

// String returns the string representation of MatchType
func (m MatchType) String() string {
	if m == MatchTypeNone {
		return "none"
	}
	return string(m)
}

// ReconciliationRow is one raw statement line. Amount, Reference and Date are
// carried through to the result untouched.
type ReconciliationRow struct {
	RowNumber int             `json:"row_number"`
	PayerRaw  string          `json:"payer"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	Date      time.Time       `json:"date,omitempty"`
}

// String returns a string representation of the row
func (r ReconciliationRow) String() string {
	return fmt.Sprintf("Row{%d, Payer: %q, Amount: %s, Ref: %q}", r.RowNumber, r.PayerRaw, r.Amount.String(), r.Reference)
}

// Candidate is one account considered for a row, kept for operator review.
type Candidate struct {
	AccountID   string  `json:"account_id"`
	DisplayName string  `json:"display_name,omitempty"`
	Score       float64 `json:"score"`
}

// ReconciliationResult is the verdict for one input row.
type ReconciliationResult struct {
	Row                ReconciliationRow `json:"row"`
	PayerRaw           string            `json:"payer_raw"`
	NormalizedPayerKey string            `json:"normalized_payer_key"`
	Status             Status            `json:"status"`
	MatchedAccountID   string            `json:"matched_account_id,omitempty"`
	MatchType          MatchType         `json:"match_type,omitempty"`
	Score              float64           `json:"score"`
	Candidates         []Candidate       `json:"candidates,omitempty"`
	// Reason explains unmatched and conflict verdicts in a few words.
	Reason string `json:"reason,omitempty"`
}

// IsMatched returns true when the row resolved to an account
func (r *ReconciliationResult) IsMatched() bool {
	return r.Status == StatusMatched
}

// Clone returns a deep copy of the result.
func (r *ReconciliationResult) Clone() *ReconciliationResult {
	if r == nil {
		return nil
	}
	c := *r
	if r.Candidates != nil {
		c.Candidates = append([]Candidate(nil), r.Candidates...)
	}
	return &c
}

// String returns a string representation of the result
func (r *ReconciliationResult) String() string {
	return fmt.Sprintf("Result{%q -> %s %s %s %.2f}", r.PayerRaw, r.Status, r.MatchType, r.MatchedAccountID, r.Score)
}

// BatchSummary holds the per-batch counts.
type BatchSummary struct {
	TotalRows  int `json:"total_rows"`
	Matched    int `json:"matched"`
	Confirmed  int `json:"confirmed"`
	Review     int `json:"review"`
	Unmatched  int `json:"unmatched"`
	Conflicted int `json:"conflicted"`

	AliasMatches int `json:"alias_matches"`
	ExactMatches int `json:"exact_matches"`
	FuzzyMatches int `json:"fuzzy_matches"`

	MatchedAmount    decimal.Decimal `json:"matched_amount"`
	UnresolvedAmount decimal.Decimal `json:"unresolved_amount"`

	ProcessingTime time.Duration `json:"processing_time"`
}

// Add folds one result into the summary.
func (s *BatchSummary) Add(r *ReconciliationResult) {
	s.TotalRows++
	switch r.Status {
	case StatusMatched:
		s.Matched++
		s.MatchedAmount = s.MatchedAmount.Add(r.Row.Amount)
		switch r.MatchType {
		case MatchTypeAlias:
			s.AliasMatches++
		case MatchTypeExact:
			s.ExactMatches++
		case MatchTypeFuzzy:
			s.FuzzyMatches++
		}
		return
	case StatusReview:
		s.Review++
	case StatusUnmatched:
		s.Unmatched++
	case StatusConflict:
		s.Conflicted++
	}
	s.UnresolvedAmount = s.UnresolvedAmount.Add(r.Row.Amount)
}

// MatchRate returns the share of rows matched automatically, in percent.
func (s *BatchSummary) MatchRate() float64 {
	if s.TotalRows == 0 {
		return 0
	}
	return float64(s.Matched) / float64(s.TotalRows) * 100
}

// Batch is the outcome of one reconciliation run. It is never modified after
// the run returns; human decisions produce a separate report.
type Batch struct {
	ID          uuid.UUID               `json:"id"`
	TenantID    string                  `json:"tenant_id"`
	Results     []*ReconciliationResult `json:"results"`
	Summary     BatchSummary            `json:"summary"`
	ProcessedAt time.Time               `json:"processed_at"`
}

// ResultsByStatus returns the results with the given status, in row order.
func (b *Batch) ResultsByStatus(status Status) []*ReconciliationResult {
	var out []*ReconciliationResult
	for _, r := range b.Results {
		if r.Status == status {
			out = append(out, r)
		}
	}
	return out
}

// ParseAmount parses a statement amount. It accepts currency symbols and both
// "1,234.56" and "1.234,56" digit grouping.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}

	s = strings.NewReplacer("$", "", "€", "", " ", "", "\u00a0", "").Replace(s)

	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastDot < 0 && lastComma >= 0 && len(s)-lastComma-1 == 3:
		// "1,234" groups thousands.
		s = strings.ReplaceAll(s, ",", "")
	case lastComma > lastDot:
		// Comma is the decimal separator.
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}
	return d, nil
}

var dateFormats = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006",
	"02-01-2006",
	"2006/01/02",
	"2/1/2006",
}

// ParseDate parses a statement date. Day-first formats win over month-first.
// An empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}

	var lastErr error
	for _, format := range dateFormats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("unable to parse date '%s': %w", s, lastErr)
}
