package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRosterEntry(t *testing.T) {
	entry := NewRosterEntry(" p1 ", "Rojas", "María Eugenia", "Pérez, Juan", "Ana Soto")

	assert.Equal(t, "p1", entry.ID)
	assert.Equal(t, "Rojas María Eugenia", entry.DisplayName)
	assert.Equal(t, []string{
		"ROJAS MARIA EUGENIA",
		"MARIA EUGENIA ROJAS",
		"PEREZ JUAN",
		"JUAN PEREZ",
		"ANA SOTO",
	}, entry.NameVariants)
	assert.Equal(t, []string{"ROJAS", "MARIA", "EUGENIA"}, entry.Tokens)
	assert.Equal(t, "ROJAS MARIA EUGENIA", entry.Label())
	require.NoError(t, entry.Validate())
}

func TestRosterEntryPrepare(t *testing.T) {
	entry := &RosterEntry{ID: "p9", DisplayName: "Gonzalez Mario", NameVariants: []string{"mario gonzález", "GONZALEZ MARIO"}}
	entry.Prepare()

	assert.Equal(t, []string{"GONZALEZ MARIO", "MARIO GONZALEZ"}, entry.NameVariants)
	assert.Equal(t, []string{"GONZALEZ", "MARIO"}, entry.Tokens)
}

func TestRosterEntryValidate(t *testing.T) {
	assert.Error(t, (&RosterEntry{DisplayName: "X"}).Validate())
	assert.Error(t, (&RosterEntry{ID: "p1"}).Validate())
}

func TestPayerAlias(t *testing.T) {
	alias := NewPayerAlias("t1", "LOPEZ ARIEL", "clientA", "ops@club")
	require.NoError(t, alias.Validate())
	assert.Equal(t, alias.CreatedAt, alias.UpdatedAt)
	assert.Equal(t, "lopez_ariel", alias.RecordName())

	clone := alias.Clone()
	clone.AccountID = "clientB"
	assert.Equal(t, "clientA", alias.AccountID)

	bad := NewPayerAlias("t1", "lopez ariel", "clientA", "")
	assert.Error(t, bad.Validate())
	assert.Error(t, NewPayerAlias("", "X", "a", "").Validate())
	assert.Error(t, NewPayerAlias("t", "X", "", "").Validate())
}

func TestRecordName(t *testing.T) {
	assert.Equal(t, "o_brien_jr", RecordName("O BRIEN JR"))
	assert.Equal(t, "transfer_00123", RecordName("TRANSFER 00123"))
	assert.Equal(t, "", RecordName(""))
}

func TestBatchSummaryAdd(t *testing.T) {
	var s BatchSummary
	results := []*ReconciliationResult{
		{Status: StatusMatched, MatchType: MatchTypeAlias, Row: ReconciliationRow{Amount: decimal.NewFromInt(10)}},
		{Status: StatusMatched, MatchType: MatchTypeExact, Row: ReconciliationRow{Amount: decimal.NewFromInt(20)}},
		{Status: StatusMatched, MatchType: MatchTypeFuzzy, Row: ReconciliationRow{Amount: decimal.NewFromInt(5)}},
		{Status: StatusReview, Row: ReconciliationRow{Amount: decimal.NewFromInt(7)}},
		{Status: StatusUnmatched, Row: ReconciliationRow{Amount: decimal.NewFromInt(3)}},
		{Status: StatusConflict, Row: ReconciliationRow{Amount: decimal.NewFromInt(1)}},
	}
	for _, r := range results {
		s.Add(r)
	}

	assert.Equal(t, 6, s.TotalRows)
	assert.Equal(t, 3, s.Matched)
	assert.Equal(t, 1, s.AliasMatches)
	assert.Equal(t, 1, s.ExactMatches)
	assert.Equal(t, 1, s.FuzzyMatches)
	assert.Equal(t, 1, s.Review)
	assert.Equal(t, 1, s.Unmatched)
	assert.Equal(t, 1, s.Conflicted)
	assert.True(t, s.MatchedAmount.Equal(decimal.NewFromInt(35)))
	assert.True(t, s.UnresolvedAmount.Equal(decimal.NewFromInt(11)))
	assert.InDelta(t, 50.0, s.MatchRate(), 0.001)
}

func TestResultClone(t *testing.T) {
	r := &ReconciliationResult{Status: StatusReview, Candidates: []Candidate{{AccountID: "a"}, {AccountID: "b"}}}
	c := r.Clone()
	c.Candidates[0].AccountID = "z"
	c.Status = StatusMatched

	assert.Equal(t, "a", r.Candidates[0].AccountID)
	assert.Equal(t, StatusReview, r.Status)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "0"},
		{"12.50", "12.5"},
		{"$1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"12,50", "12.5"},
		{"1,234", "1234"},
		{"€ 1.000,00", "1000"},
		{"-45", "-45"},
	}
	for _, tt := range tests {
		got, err := ParseAmount(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s -> %s", tt.in, got)
	}

	_, err := ParseAmount("twelve")
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	got, err := ParseDate("03/02/2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseDate("2024-02-03")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Day())

	got, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = ParseDate("yesterday")
	assert.Error(t, err)
}

func TestBatchResultsByStatus(t *testing.T) {
	b := &Batch{Results: []*ReconciliationResult{
		{PayerRaw: "a", Status: StatusReview},
		{PayerRaw: "b", Status: StatusMatched},
		{PayerRaw: "c", Status: StatusReview},
	}}
	review := b.ResultsByStatus(StatusReview)
	require.Len(t, review, 2)
	assert.Equal(t, "c", review[1].PayerRaw)
}

func TestMatchTypeString(t *testing.T) {
	assert.Equal(t, "none", MatchTypeNone.String())
	assert.Equal(t, "fuzzy", MatchTypeFuzzy.String())
}
