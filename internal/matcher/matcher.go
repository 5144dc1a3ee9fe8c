package matcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/normalize"
	"payer-reconciliation-service/internal/similarity"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/logger"
)

// Reasons attached to unmatched verdicts.
const (
	ReasonEmptyPayer      = "payer text is empty after normalization"
	ReasonEmptyRoster     = "roster is empty"
	ReasonFuzzyDisabled   = "no alias or exact match and fuzzy matching is disabled"
	ReasonBelowThreshold  = "best fuzzy score is below the match threshold"
	ReasonPayerTooLong    = "payer text exceeds the fuzzy matching budget"
	ReasonBudgetExhausted = "fuzzy matching budget exhausted"
)

// Request is one payer name to resolve.
type Request struct {
	TenantID string
	PayerRaw string
	// ReferenceHint is free text from the statement line (a reference or
	// memo) used to tell apart roster entries that share a name.
	ReferenceHint string
}

// Matcher runs the matching cascade. It never writes to the alias store and
// is safe for concurrent use.
type Matcher struct {
	config *MatchingConfig
	logger logger.Logger
}

// NewMatcher creates a matcher with a validated copy of config.
func NewMatcher(config *MatchingConfig, log logger.Logger) (*Matcher, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Matcher{
		config: config.Clone(),
		logger: log.WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the matcher configuration.
func (m *Matcher) Config() *MatchingConfig {
	return m.config.Clone()
}

// Resolve runs req through the cascade against index and aliases. aliases
// may be nil, which skips the alias tier. The returned error is non-nil only
// when the alias store fails or ctx is done.
func (m *Matcher) Resolve(ctx context.Context, req Request, index *RosterIndex, aliases storage.AliasReader) (*models.ReconciliationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := normalize.Normalize(req.PayerRaw)
	result := &models.ReconciliationResult{
		PayerRaw:           req.PayerRaw,
		NormalizedPayerKey: key,
		Status:             models.StatusUnmatched,
	}
	if key == "" {
		result.Reason = ReasonEmptyPayer
		return result, nil
	}

	log := m.logger.WithFields(logger.Fields{"tenant_id": req.TenantID, "payer_key": key})

	if aliases != nil {
		alias, err := aliases.GetAlias(ctx, req.TenantID, key)
		if err != nil {
			return nil, err
		}
		if alias != nil {
			result.Status = models.StatusMatched
			result.MatchType = models.MatchTypeAlias
			result.MatchedAccountID = alias.AccountID
			result.Score = 1
			result.Candidates = []models.Candidate{{AccountID: alias.AccountID, DisplayName: displayName(index, alias.AccountID), Score: 1}}
			log.WithField("account_id", alias.AccountID).Debug("Resolved by alias")
			return result, nil
		}
	}

	if index == nil || index.Len() == 0 {
		result.Reason = ReasonEmptyRoster
		return result, nil
	}

	if m.resolveExact(req, key, index, result) {
		log.WithFields(logger.Fields{"status": result.Status, "candidates": len(result.Candidates)}).Debug("Resolved by exact variant")
		return result, nil
	}

	if !m.config.EnableFuzzyMatching {
		result.Reason = ReasonFuzzyDisabled
		return result, nil
	}

	if utf8.RuneCountInString(key) > m.config.MaxPayerRunes {
		result.Reason = ReasonPayerTooLong
		log.WithField("runes", utf8.RuneCountInString(key)).Warn("Skipping fuzzy tier for oversized payer text")
		return result, nil
	}

	var err error
	switch m.config.FuzzyStrategy {
	case FuzzyLabelSimilarity:
		err = m.resolveLabel(ctx, req, key, index, result)
	default:
		err = m.resolveTokenSet(ctx, req, index, result)
	}
	if err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"status":     result.Status,
		"score":      result.Score,
		"account_id": result.MatchedAccountID,
	}).Debug("Resolved by fuzzy tier")
	return result, nil
}

// resolveExact looks the key up among the roster's name variants. It reports
// whether the tier reached a verdict.
func (m *Matcher) resolveExact(req Request, key string, index *RosterIndex, result *models.ReconciliationResult) bool {
	keys := []string{key}
	if strings.Contains(req.PayerRaw, ",") {
		if swapped, ok := normalize.SwapCommaOrder(req.PayerRaw); ok && swapped != key {
			keys = append(keys, swapped)
		}
	}

	hits := index.lookupVariants(keys...)
	switch len(hits) {
	case 0:
		return false
	case 1:
		setMatched(result, models.MatchTypeExact, hits[0], 1)
		return true
	}

	if m.config.UseReferenceHint {
		if hint := normalize.Normalize(req.ReferenceHint); hint != "" {
			var backed []*indexedEntry
			for _, ie := range hits {
				if ie.matchesHint(hint) {
					backed = append(backed, ie)
				}
			}
			if len(backed) == 1 {
				setMatched(result, models.MatchTypeExact, backed[0], 1)
				return true
			}
		}
	}

	// Several accounts share the name: ambiguous, not low confidence.
	result.Status = models.StatusReview
	result.MatchType = models.MatchTypeExact
	result.Score = 1
	result.Candidates = make([]models.Candidate, 0, len(hits))
	for _, ie := range hits {
		result.Candidates = append(result.Candidates, candidate(ie, 1))
	}
	return true
}

type scored struct {
	ie *indexedEntry
	// score is 0-100 for token sets and 0-1 for labels.
	score float64
	// tieBreak orders entries with equal scores.
	tieBreak float64
}

func rank(list []scored) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		if list[i].tieBreak != list[j].tieBreak {
			return list[i].tieBreak > list[j].tieBreak
		}
		return list[i].ie.position < list[j].ie.position
	})
}

// budget counts the work spent on one row.
type budget struct {
	limit int
	spent int
}

func (b *budget) charge(n int) bool {
	b.spent += n
	return b.spent <= b.limit
}

func (m *Matcher) resolveTokenSet(ctx context.Context, req Request, index *RosterIndex, result *models.ReconciliationResult) error {
	tokens := normalize.Tokenize(req.PayerRaw)
	words := normalize.Words(tokens)
	var bare []string
	if normalize.HasInitials(tokens) {
		bare = normalize.WithoutInitials(tokens)
	}
	payerRunes := utf8.RuneCountInString(strings.Join(words, " "))

	b := &budget{limit: m.config.MaxFuzzyComparisons}
	list := make([]scored, 0, index.Len())
	for _, ie := range index.entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		// Levenshtein is quadratic in the compared lengths, and each entry is
		// scored up to twice.
		if !b.charge(2 * payerRunes * (ie.labelRunes + 1)) {
			result.Reason = ReasonBudgetExhausted
			return nil
		}

		score := similarity.TokenSetRatio(words, ie.words)
		if len(bare) > 0 {
			score = max(score, similarity.TokenSetRatio(bare, ie.words))
		}
		list = append(list, scored{
			ie:       ie,
			score:    float64(score),
			tieBreak: similarity.JaroWinkler(result.NormalizedPayerKey, ie.label),
		})
	}
	rank(list)

	best := list[0].score
	runnerUp := 0.0
	if len(list) > 1 {
		runnerUp = list[1].score
	}

	switch {
	case best < float64(m.config.TokenSetMatchThreshold):
		result.Status = models.StatusUnmatched
		result.Score = best / 100
		result.Reason = ReasonBelowThreshold
		result.Candidates = m.topCandidates(list, 100, true)
	case best-runnerUp >= float64(m.config.TokenSetLeadMargin):
		setMatched(result, models.MatchTypeFuzzy, list[0].ie, best/100)
	default:
		result.Status = models.StatusReview
		result.MatchType = models.MatchTypeFuzzy
		result.Score = best / 100
		result.Candidates = m.topCandidates(list, 100, false)
	}
	return nil
}

func (m *Matcher) resolveLabel(ctx context.Context, req Request, key string, index *RosterIndex, result *models.ReconciliationResult) error {
	keys := []string{key}
	if swapped, ok := normalize.SwapCommaOrder(req.PayerRaw); ok && swapped != key {
		keys = append(keys, swapped)
	}

	b := &budget{limit: m.config.MaxFuzzyComparisons}
	list := make([]scored, 0, index.Len())
	for _, ie := range index.entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		best := 0.0
		for _, k := range keys {
			for _, v := range ie.variants {
				if !b.charge(similarity.Comparisons(k, v)) {
					result.Reason = ReasonBudgetExhausted
					return nil
				}
				best = max(best, similarity.JaroWinkler(k, v))
			}
		}
		list = append(list, scored{
			ie:       ie,
			score:    best,
			tieBreak: float64(similarity.TokenSetRatio(strings.Fields(key), ie.words)),
		})
	}
	rank(list)

	best := list[0].score
	runnerUp := 0.0
	if len(list) > 1 {
		runnerUp = list[1].score
	}

	switch {
	case best >= m.config.LabelMatchThreshold && best-runnerUp >= m.config.LabelLeadMargin:
		setMatched(result, models.MatchTypeFuzzy, list[0].ie, best)
	case best >= m.config.LabelReviewThreshold:
		result.Status = models.StatusReview
		result.MatchType = models.MatchTypeFuzzy
		result.Score = best
		result.Candidates = m.topCandidates(list, 1, false)
	default:
		result.Status = models.StatusUnmatched
		result.Score = best
		result.Reason = ReasonBelowThreshold
		result.Candidates = m.topCandidates(list, 1, true)
	}
	return nil
}

// topCandidates converts the best ranked entries to candidates, dividing
// scores by scale. With skipZero, entries that scored nothing are dropped.
func (m *Matcher) topCandidates(list []scored, scale float64, skipZero bool) []models.Candidate {
	out := make([]models.Candidate, 0, min(len(list), m.config.MaxReviewCandidates))
	for _, s := range list {
		if len(out) == m.config.MaxReviewCandidates {
			break
		}
		if skipZero && s.score == 0 {
			break
		}
		out = append(out, candidate(s.ie, s.score/scale))
	}
	return out
}

func setMatched(result *models.ReconciliationResult, matchType models.MatchType, ie *indexedEntry, score float64) {
	result.Status = models.StatusMatched
	result.MatchType = matchType
	result.MatchedAccountID = ie.entry.ID
	result.Score = score
	result.Reason = ""
	result.Candidates = []models.Candidate{candidate(ie, score)}
}

func candidate(ie *indexedEntry, score float64) models.Candidate {
	return models.Candidate{AccountID: ie.entry.ID, DisplayName: ie.entry.DisplayName, Score: score}
}

func displayName(index *RosterIndex, accountID string) string {
	if index == nil {
		return ""
	}
	if e := index.Entry(accountID); e != nil {
		return e.DisplayName
	}
	return ""
}
