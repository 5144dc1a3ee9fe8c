// Package matcher resolves free-text payer names to roster accounts.
//
// A payer name goes through a fixed cascade of tiers and the first tier that
// reaches a verdict wins:
//  1. Key: the name is normalized; an empty key is unmatched.
//  2. Alias: a confirmed alias for the key always wins.
//  3. Exact variant: the key (and its swapped "Surname, Given" reading) is
//     looked up among every roster entry's precomputed name orderings.
//  4. Fuzzy: every roster entry is scored and the best one is matched only
//     when it is both good enough and clearly ahead of the runner-up.
//
// Ambiguity is never an error. Ties, weak scores and conflicting aliases are
// reported through the result status so that a person makes the final call.
// Resolve only returns an error when the alias store fails or the context is
// cancelled.
//
// Example usage:
//
//	m, err := matcher.NewMatcher(matcher.DefaultMatchingConfig(), log)
//	index := matcher.NewRosterIndex(roster)
//	result, err := m.Resolve(ctx, matcher.Request{TenantID: "t1", PayerRaw: "ROJAS M EUGENIA"}, index, aliases)
package matcher

import (
	"fmt"
)

// FuzzyStrategy selects the scoring pipeline of the fuzzy tier.
type FuzzyStrategy string

const (
	// FuzzyTokenSet scores token-set overlap on a 0-100 scale, with and
	// without the payer's initials. It tolerates reordered and missing words.
	FuzzyTokenSet FuzzyStrategy = "token_set"

	// FuzzyLabelSimilarity scores whole-label Jaro-Winkler similarity. It
	// tolerates typos better but punishes reordered words.
	FuzzyLabelSimilarity FuzzyStrategy = "label_similarity"
)

// String returns the string representation of FuzzyStrategy
func (s FuzzyStrategy) String() string {
	return string(s)
}

// ParseFuzzyStrategy parses a strategy name; the empty string selects the
// token-set pipeline.
func ParseFuzzyStrategy(s string) (FuzzyStrategy, error) {
	switch FuzzyStrategy(s) {
	case "", FuzzyTokenSet:
		return FuzzyTokenSet, nil
	case FuzzyLabelSimilarity:
		return FuzzyLabelSimilarity, nil
	}
	return "", fmt.Errorf("unknown fuzzy strategy %q (want %s or %s)", s, FuzzyTokenSet, FuzzyLabelSimilarity)
}

// Thresholds of the two fuzzy pipelines. Each set belongs to its own
// pipeline; they are not interchangeable.
const (
	// TokenSetMatchThreshold is the lowest token-set score (0-100) that can
	// produce a fuzzy match. Anything below is unmatched.
	TokenSetMatchThreshold = 75

	// TokenSetLeadMargin is how many points the best entry must lead the
	// runner-up by to be matched rather than sent to review.
	TokenSetLeadMargin = 8

	// LabelMatchThreshold is the lowest Jaro-Winkler similarity that can
	// produce a fuzzy match in the label pipeline.
	LabelMatchThreshold = 0.92

	// LabelReviewThreshold is the lowest Jaro-Winkler similarity that is
	// still worth a human look. Anything below is unmatched.
	LabelReviewThreshold = 0.85

	// LabelLeadMargin is the lead the best label must have over the
	// runner-up to be matched.
	LabelLeadMargin = 0.05

	// MaxReviewCandidates caps the candidates attached to a fuzzy verdict.
	MaxReviewCandidates = 5
)

// Per-row work budget. A row over budget skips the fuzzy tier and is
// reported unmatched.
const (
	DefaultMaxPayerRunes       = 256
	DefaultMaxFuzzyComparisons = 2_000_000
)

// MatchingConfig holds the parameters of the matching cascade.
//
// Use the provided factory functions for common scenarios:
//   - DefaultMatchingConfig(): the thresholds the cascade is tuned for
//   - StrictMatchingConfig(): fewer automatic fuzzy matches, more review
//   - RelaxedMatchingConfig(): more automatic fuzzy matches for clean rosters
type MatchingConfig struct {
	// EnableFuzzyMatching turns the fuzzy tier on. When off, rows that miss
	// the alias and exact tiers are unmatched.
	EnableFuzzyMatching bool `json:"enable_fuzzy_matching" yaml:"enable_fuzzy_matching"`

	// FuzzyStrategy selects the fuzzy pipeline.
	FuzzyStrategy FuzzyStrategy `json:"fuzzy_strategy" yaml:"fuzzy_strategy"`

	// TokenSetMatchThreshold and TokenSetLeadMargin drive FuzzyTokenSet (0-100).
	TokenSetMatchThreshold int `json:"token_set_match_threshold" yaml:"token_set_match_threshold"`
	TokenSetLeadMargin     int `json:"token_set_lead_margin" yaml:"token_set_lead_margin"`

	// Label* drive FuzzyLabelSimilarity (0.0 to 1.0).
	LabelMatchThreshold  float64 `json:"label_match_threshold" yaml:"label_match_threshold"`
	LabelReviewThreshold float64 `json:"label_review_threshold" yaml:"label_review_threshold"`
	LabelLeadMargin      float64 `json:"label_lead_margin" yaml:"label_lead_margin"`

	// MaxReviewCandidates limits the candidates attached to fuzzy verdicts.
	MaxReviewCandidates int `json:"max_review_candidates" yaml:"max_review_candidates"`

	// UseReferenceHint lets the statement reference break ties between
	// roster entries that share a name.
	UseReferenceHint bool `json:"use_reference_hint" yaml:"use_reference_hint"`

	// MaxPayerRunes and MaxFuzzyComparisons bound the fuzzy work per row.
	MaxPayerRunes       int `json:"max_payer_runes" yaml:"max_payer_runes"`
	MaxFuzzyComparisons int `json:"max_fuzzy_comparisons" yaml:"max_fuzzy_comparisons"`
}

// DefaultMatchingConfig returns a configuration with sensible defaults
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		EnableFuzzyMatching:    true,
		FuzzyStrategy:          FuzzyTokenSet,
		TokenSetMatchThreshold: TokenSetMatchThreshold,
		TokenSetLeadMargin:     TokenSetLeadMargin,
		LabelMatchThreshold:    LabelMatchThreshold,
		LabelReviewThreshold:   LabelReviewThreshold,
		LabelLeadMargin:        LabelLeadMargin,
		MaxReviewCandidates:    MaxReviewCandidates,
		UseReferenceHint:       true,
		MaxPayerRunes:          DefaultMaxPayerRunes,
		MaxFuzzyComparisons:    DefaultMaxFuzzyComparisons,
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	c := DefaultMatchingConfig()
	c.TokenSetMatchThreshold = 85
	c.TokenSetLeadMargin = 12
	c.LabelMatchThreshold = 0.95
	c.LabelReviewThreshold = 0.88
	c.LabelLeadMargin = 0.08
	return c
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	c := DefaultMatchingConfig()
	c.TokenSetMatchThreshold = 70
	c.TokenSetLeadMargin = 5
	c.LabelMatchThreshold = 0.90
	c.LabelReviewThreshold = 0.80
	c.LabelLeadMargin = 0.03
	c.MaxReviewCandidates = 10
	return c
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if _, err := ParseFuzzyStrategy(string(mc.FuzzyStrategy)); err != nil {
		return err
	}

	if mc.TokenSetMatchThreshold < 0 || mc.TokenSetMatchThreshold > 100 {
		return fmt.Errorf("token set match threshold must be between 0 and 100: %d", mc.TokenSetMatchThreshold)
	}

	if mc.TokenSetLeadMargin < 0 || mc.TokenSetLeadMargin > 100 {
		return fmt.Errorf("token set lead margin must be between 0 and 100: %d", mc.TokenSetLeadMargin)
	}

	for name, v := range map[string]float64{
		"label match threshold":  mc.LabelMatchThreshold,
		"label review threshold": mc.LabelReviewThreshold,
		"label lead margin":      mc.LabelLeadMargin,
	} {
		if v < 0.0 || v > 1.0 {
			return fmt.Errorf("%s must be between 0.0 and 1.0: %f", name, v)
		}
	}

	if mc.LabelReviewThreshold > mc.LabelMatchThreshold {
		return fmt.Errorf("label review threshold %.2f cannot exceed match threshold %.2f",
			mc.LabelReviewThreshold, mc.LabelMatchThreshold)
	}

	if mc.MaxReviewCandidates <= 0 {
		return fmt.Errorf("max review candidates must be positive: %d", mc.MaxReviewCandidates)
	}

	if mc.MaxPayerRunes <= 0 {
		return fmt.Errorf("max payer runes must be positive: %d", mc.MaxPayerRunes)
	}

	if mc.MaxFuzzyComparisons <= 0 {
		return fmt.Errorf("max fuzzy comparisons must be positive: %d", mc.MaxFuzzyComparisons)
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	c := *mc
	return &c
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	if mc.FuzzyStrategy == FuzzyLabelSimilarity {
		return fmt.Sprintf("MatchingConfig{Fuzzy: %t, Strategy: %s, Match: %.2f, Review: %.2f, Lead: %.2f}",
			mc.EnableFuzzyMatching, mc.FuzzyStrategy, mc.LabelMatchThreshold, mc.LabelReviewThreshold, mc.LabelLeadMargin)
	}
	return fmt.Sprintf("MatchingConfig{Fuzzy: %t, Strategy: %s, Match: %d, Lead: %d}",
		mc.EnableFuzzyMatching, mc.FuzzyStrategy, mc.TokenSetMatchThreshold, mc.TokenSetLeadMargin)
}
