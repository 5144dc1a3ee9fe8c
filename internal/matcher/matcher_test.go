package matcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/logger"
)

func testRoster() []*models.RosterEntry {
	return []*models.RosterEntry{
		models.NewRosterEntry("p1", "Rojas", "Maria Eugenia"),
		models.NewRosterEntry("p3", "Lopez", "Ariel"),
		models.NewRosterEntry("acct-100", "Gonzalez", "Mario"),
		models.NewRosterEntry("acct-200", "Gonzalez", "Mario"),
		models.NewRosterEntry("pc", "Perez", "Juan Carlos"),
		models.NewRosterEntry("pm", "Perez", "Juan Manuel"),
	}
}

func newTestMatcher(t *testing.T, mutate func(*MatchingConfig)) *Matcher {
	t.Helper()
	cfg := DefaultMatchingConfig()
	if mutate != nil {
		mutate(cfg)
	}
	m, err := NewMatcher(cfg, logger.Nop())
	require.NoError(t, err)
	return m
}

type failingAliases struct{ err error }

func (f failingAliases) GetAlias(context.Context, string, string) (*models.PayerAlias, error) {
	return nil, f.err
}

func TestResolveScenarios(t *testing.T) {
	index := NewRosterIndex(testRoster())
	m := newTestMatcher(t, nil)
	ctx := context.Background()

	tests := []struct {
		name          string
		req           Request
		wantStatus    models.Status
		wantType      models.MatchType
		wantAccount   string
		wantScore     float64
		wantCandidate int
	}{
		{
			name:        "exact variant",
			req:         Request{PayerRaw: "Rojas Maria Eugenia"},
			wantStatus:  models.StatusMatched,
			wantType:    models.MatchTypeExact,
			wantAccount: "p1",
			wantScore:   1,
		},
		{
			name:        "given name first",
			req:         Request{PayerRaw: "maría eugenia rojas"},
			wantStatus:  models.StatusMatched,
			wantType:    models.MatchTypeExact,
			wantAccount: "p1",
			wantScore:   1,
		},
		{
			name:        "fuzzy with initial",
			req:         Request{PayerRaw: "ROJAS M EUGENIA"},
			wantStatus:  models.StatusMatched,
			wantType:    models.MatchTypeFuzzy,
			wantAccount: "p1",
			wantScore:   1,
		},
		{
			name:          "shared name goes to review",
			req:           Request{PayerRaw: "Gonzalez Mario"},
			wantStatus:    models.StatusReview,
			wantType:      models.MatchTypeExact,
			wantScore:     1,
			wantCandidate: 2,
		},
		{
			name:          "hint not inside any candidate",
			req:           Request{PayerRaw: "Gonzalez Mario", ReferenceHint: "cuota 200"},
			wantStatus:    models.StatusReview,
			wantType:      models.MatchTypeExact,
			wantScore:     1,
			wantCandidate: 2,
		},
		{
			name:        "hint found in account id",
			req:         Request{PayerRaw: "Gonzalez Mario", ReferenceHint: "200"},
			wantStatus:  models.StatusMatched,
			wantType:    models.MatchTypeExact,
			wantAccount: "acct-200",
			wantScore:   1,
		},
		{
			name:          "close fuzzy top two",
			req:           Request{PayerRaw: "PEREZ JUAN"},
			wantStatus:    models.StatusReview,
			wantType:      models.MatchTypeFuzzy,
			wantScore:     1,
			wantCandidate: MaxReviewCandidates,
		},
		{
			name:       "no plausible entry",
			req:        Request{PayerRaw: "SMITH JOHN"},
			wantStatus: models.StatusUnmatched,
		},
		{
			name:       "empty payer",
			req:        Request{PayerRaw: ""},
			wantStatus: models.StatusUnmatched,
			wantScore:  0,
		},
		{
			name:       "punctuation only",
			req:        Request{PayerRaw: " .,-; "},
			wantStatus: models.StatusUnmatched,
			wantScore:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.TenantID = "t1"
			result, err := m.Resolve(ctx, tt.req, index, storage.NewMemoryStore())
			require.NoError(t, err)

			assert.Equal(t, tt.wantStatus, result.Status)
			assert.Equal(t, tt.req.PayerRaw, result.PayerRaw)
			if tt.wantStatus != models.StatusUnmatched {
				assert.Equal(t, tt.wantType, result.MatchType)
				assert.InDelta(t, tt.wantScore, result.Score, 0.001)
			}
			assert.Equal(t, tt.wantAccount, result.MatchedAccountID)
			if tt.wantCandidate > 0 {
				assert.Len(t, result.Candidates, tt.wantCandidate)
			}
			assert.GreaterOrEqual(t, result.Score, 0.0)
			assert.LessOrEqual(t, result.Score, 1.0)
		})
	}
}

func TestCloseFuzzyCandidatesOrder(t *testing.T) {
	m := newTestMatcher(t, nil)
	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "PEREZ JUAN"}, NewRosterIndex(testRoster()), nil)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(result.Candidates), 2)
	assert.Equal(t, "pc", result.Candidates[0].AccountID)
	assert.Equal(t, "pm", result.Candidates[1].AccountID)
	assert.Equal(t, 1.0, result.Candidates[1].Score)
	assert.Less(t, result.Candidates[2].Score, 1.0)
	assert.Empty(t, result.MatchedAccountID)
}

func TestResolveUnmatchedDetails(t *testing.T) {
	m := newTestMatcher(t, nil)
	index := NewRosterIndex(testRoster())

	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "SMITH JOHN"}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonBelowThreshold, result.Reason)
	assert.Less(t, result.Score, 0.75)
	assert.Empty(t, result.MatchedAccountID)

	result, err = m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: ""}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, ReasonEmptyPayer, result.Reason)
	assert.Equal(t, "", result.NormalizedPayerKey)
	assert.Zero(t, result.Score)
}

func TestResolveCommaSwapsOrdering(t *testing.T) {
	// Only the given-name-first ordering is known to the roster.
	roster := []*models.RosterEntry{{ID: "x1", DisplayName: "Maria Eugenia Rojas"}}
	m := newTestMatcher(t, func(c *MatchingConfig) { c.EnableFuzzyMatching = false })

	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "Rojas, María Eugenia"}, NewRosterIndex(roster), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, result.Status)
	assert.Equal(t, models.MatchTypeExact, result.MatchType)
	assert.Equal(t, "x1", result.MatchedAccountID)
	assert.Equal(t, "ROJAS MARIA EUGENIA", result.NormalizedPayerKey)
}

func TestAliasAlwaysWins(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, _, err := store.CompareAndSwapAlias(ctx, "", models.NewPayerAlias("t1", "ROJAS MARIA EUGENIA", "p3", "ops"))
	require.NoError(t, err)

	m := newTestMatcher(t, nil)
	result, err := m.Resolve(ctx, Request{TenantID: "t1", PayerRaw: "Rojas, María Eugenia"}, NewRosterIndex(testRoster()), store)
	require.NoError(t, err)

	assert.Equal(t, models.StatusMatched, result.Status)
	assert.Equal(t, models.MatchTypeAlias, result.MatchType)
	assert.Equal(t, "p3", result.MatchedAccountID)
	assert.Equal(t, 1.0, result.Score)
	require.Len(t, result.Candidates, 1)
	assert.Equal(t, "Lopez Ariel", result.Candidates[0].DisplayName)

	// Other tenants do not see the alias.
	result, err = m.Resolve(ctx, Request{TenantID: "t2", PayerRaw: "Rojas, María Eugenia"}, NewRosterIndex(testRoster()), store)
	require.NoError(t, err)
	assert.Equal(t, models.MatchTypeExact, result.MatchType)
	assert.Equal(t, "p1", result.MatchedAccountID)
}

func TestAliasResolvesWithEmptyRoster(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, _, err := store.CompareAndSwapAlias(ctx, "", models.NewPayerAlias("t1", "ACME S A", "c9", ""))
	require.NoError(t, err)

	m := newTestMatcher(t, nil)
	result, err := m.Resolve(ctx, Request{TenantID: "t1", PayerRaw: "Acme S.A."}, NewRosterIndex(nil), store)
	require.NoError(t, err)
	assert.Equal(t, "c9", result.MatchedAccountID)

	result, err = m.Resolve(ctx, Request{TenantID: "t1", PayerRaw: "Someone Else"}, NewRosterIndex(nil), store)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.Status)
	assert.Equal(t, ReasonEmptyRoster, result.Reason)
}

func TestResolveProviderFailure(t *testing.T) {
	boom := errors.New("store unreachable")
	m := newTestMatcher(t, nil)

	_, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "Lopez Ariel"}, NewRosterIndex(testRoster()), failingAliases{err: boom})
	assert.ErrorIs(t, err, boom)

	// Empty payers never reach the store.
	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "  "}, NewRosterIndex(testRoster()), failingAliases{err: boom})
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.Status)
}

func TestResolveCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestMatcher(t, nil).Resolve(ctx, Request{TenantID: "t1", PayerRaw: "ROJAS M EUGENIA"}, NewRosterIndex(testRoster()), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveBudgets(t *testing.T) {
	index := NewRosterIndex(testRoster())

	m := newTestMatcher(t, func(c *MatchingConfig) { c.MaxPayerRunes = 5 })
	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "ROJAS M EUGENIA"}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.Status)
	assert.Equal(t, ReasonPayerTooLong, result.Reason)

	// Exact matches are not subject to the budget.
	result, err = m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "ROJAS MARIA EUGENIA"}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, result.Status)

	m = newTestMatcher(t, func(c *MatchingConfig) { c.MaxFuzzyComparisons = 1 })
	result, err = m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "ROJAS M EUGENIA"}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.Status)
	assert.Equal(t, ReasonBudgetExhausted, result.Reason)
}

func TestResolveBudgetCountsRunes(t *testing.T) {
	// Both rows cost 2 * 12 * (11 + 1) rune comparisons: the payer key has 12
	// runes and the label 11, whatever their byte length.
	m := newTestMatcher(t, func(c *MatchingConfig) { c.MaxFuzzyComparisons = 288 })
	tests := []struct {
		name  string
		entry *models.RosterEntry
		payer string
	}{
		{"ascii", models.NewRosterEntry("n1", "Oster", "Bjorn"), "BJORN OSTERR"},
		{"multi-byte letters", models.NewRosterEntry("n1", "Øster", "Bjørn"), "BJØRN ØSTERR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index := NewRosterIndex([]*models.RosterEntry{tt.entry})
			result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: tt.payer}, index, nil)
			require.NoError(t, err)
			assert.NotEqual(t, ReasonBudgetExhausted, result.Reason)
			assert.Equal(t, models.StatusMatched, result.Status)
			assert.Equal(t, "n1", result.MatchedAccountID)
		})
	}
}

func TestResolveFuzzyDisabled(t *testing.T) {
	m := newTestMatcher(t, func(c *MatchingConfig) { c.EnableFuzzyMatching = false })
	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "ROJAS M EUGENIA"}, NewRosterIndex(testRoster()), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.Status)
	assert.Equal(t, ReasonFuzzyDisabled, result.Reason)
}

func TestReviewCandidatesAreCapped(t *testing.T) {
	var roster []*models.RosterEntry
	for _, id := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		roster = append(roster, models.NewRosterEntry(id, "Diaz", "Pedro "+id+"x"))
	}
	m := newTestMatcher(t, nil)

	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "Pedro Diaz"}, NewRosterIndex(roster), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReview, result.Status)
	assert.Len(t, result.Candidates, MaxReviewCandidates)
	for i := 1; i < len(result.Candidates); i++ {
		assert.GreaterOrEqual(t, result.Candidates[i-1].Score, result.Candidates[i].Score)
	}
}

func TestLabelSimilarityStrategy(t *testing.T) {
	index := NewRosterIndex(testRoster())

	m := newTestMatcher(t, func(c *MatchingConfig) { c.FuzzyStrategy = FuzzyLabelSimilarity })
	result, err := m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "ROJAS MARIA EUGENIO"}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMatched, result.Status)
	assert.Equal(t, models.MatchTypeFuzzy, result.MatchType)
	assert.Equal(t, "p1", result.MatchedAccountID)
	assert.GreaterOrEqual(t, result.Score, LabelMatchThreshold)

	m = newTestMatcher(t, func(c *MatchingConfig) {
		c.FuzzyStrategy = FuzzyLabelSimilarity
		c.LabelMatchThreshold = 0.999
	})
	result, err = m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "ROJAS MARIA EUGENIO"}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReview, result.Status)
	require.NotEmpty(t, result.Candidates)
	assert.Equal(t, "p1", result.Candidates[0].AccountID)

	result, err = m.Resolve(context.Background(), Request{TenantID: "t1", PayerRaw: "XQZWV"}, index, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnmatched, result.Status)
}

func TestMatchingConfig(t *testing.T) {
	for name, cfg := range map[string]*MatchingConfig{
		"default": DefaultMatchingConfig(),
		"strict":  StrictMatchingConfig(),
		"relaxed": RelaxedMatchingConfig(),
	} {
		assert.NoError(t, cfg.Validate(), name)
	}

	def := DefaultMatchingConfig()
	assert.Equal(t, 75, def.TokenSetMatchThreshold)
	assert.Equal(t, 8, def.TokenSetLeadMargin)
	assert.Equal(t, 0.92, def.LabelMatchThreshold)
	assert.Equal(t, 0.85, def.LabelReviewThreshold)
	assert.Equal(t, 0.05, def.LabelLeadMargin)
	assert.Equal(t, FuzzyTokenSet, def.FuzzyStrategy)
	assert.Contains(t, def.String(), "token_set")

	bad := []func(*MatchingConfig){
		func(c *MatchingConfig) { c.FuzzyStrategy = "phonetic" },
		func(c *MatchingConfig) { c.TokenSetMatchThreshold = 101 },
		func(c *MatchingConfig) { c.TokenSetLeadMargin = -1 },
		func(c *MatchingConfig) { c.LabelLeadMargin = 2 },
		func(c *MatchingConfig) { c.LabelReviewThreshold = 0.95 },
		func(c *MatchingConfig) { c.MaxReviewCandidates = 0 },
		func(c *MatchingConfig) { c.MaxPayerRunes = 0 },
		func(c *MatchingConfig) { c.MaxFuzzyComparisons = 0 },
	}
	for i, mutate := range bad {
		cfg := DefaultMatchingConfig()
		mutate(cfg)
		assert.Error(t, cfg.Validate(), "case %d", i)
	}

	clone := def.Clone()
	clone.TokenSetLeadMargin = 20
	assert.Equal(t, 8, def.TokenSetLeadMargin)

	_, err := NewMatcher(&MatchingConfig{}, logger.Nop())
	assert.Error(t, err)

	s, err := ParseFuzzyStrategy("")
	require.NoError(t, err)
	assert.Equal(t, FuzzyTokenSet, s)
}

func TestRosterIndex(t *testing.T) {
	roster := append(testRoster(), nil, &models.RosterEntry{DisplayName: "No Id"})
	index := NewRosterIndex(roster)

	assert.Equal(t, 6, index.Len())
	assert.Equal(t, "Lopez Ariel", index.Entry("p3").DisplayName)
	assert.Nil(t, index.Entry("missing"))

	hits := index.lookupVariants("GONZALEZ MARIO", "MARIO GONZALEZ")
	require.Len(t, hits, 2)
	assert.Equal(t, "acct-100", hits[0].entry.ID)

	// Lower-cased tokens from an external roster are normalized.
	ix := NewRosterIndex([]*models.RosterEntry{{ID: "z", DisplayName: "Núñez Ana", Tokens: []string{"núñez", "ana"}}})
	assert.Equal(t, []string{"NUNEZ", "ANA"}, ix.entries[0].words)
}

func TestCheckConflict(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	_, _, err := store.CompareAndSwapAlias(ctx, "", models.NewPayerAlias("t1", "LOPEZ ARIEL", "clientA", ""))
	require.NoError(t, err)

	check, err := CheckConflict(ctx, store, "t1", "LOPEZ ARIEL", "clientB")
	require.NoError(t, err)
	assert.True(t, check.Conflict)
	assert.False(t, check.Clear())
	assert.Equal(t, "clientA", check.ExistingAccountID())

	check, err = CheckConflict(ctx, store, "t1", "LOPEZ ARIEL", "clientA")
	require.NoError(t, err)
	assert.False(t, check.Conflict)
	assert.True(t, check.AlreadyAliased)
	assert.False(t, check.Clear())

	check, err = CheckConflict(ctx, store, "t1", "NEW PAYER", "clientA")
	require.NoError(t, err)
	assert.True(t, check.Clear())
	assert.Equal(t, "", check.ExistingAccountID())

	_, err = CheckConflict(ctx, failingAliases{err: errors.New("down")}, "t1", "X", "a")
	assert.Error(t, err)
}
