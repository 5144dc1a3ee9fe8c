package reconciler

import (
	"context"

	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/normalize"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

// SeedPair maps a client as named in the roster to the payer text the client
// pays with.
type SeedPair struct {
	ClientFullName string `json:"client" yaml:"client" binding:"required"`
	PayerText      string `json:"payer" yaml:"payer" binding:"required"`
}

// SeedEntry is the outcome of one seed pair.
type SeedEntry struct {
	Pair               SeedPair         `json:"pair"`
	Outcome            Outcome          `json:"outcome"`
	NormalizedPayerKey string           `json:"normalized_payer_key,omitempty"`
	AccountID          string           `json:"account_id,omitempty"`
	MatchType          models.MatchType `json:"match_type,omitempty"`
	ExistingAccountID  string           `json:"existing_account_id,omitempty"`
	Reason             string           `json:"reason,omitempty"`
}

// SeedReport summarizes a seeding run.
type SeedReport struct {
	TenantID   string      `json:"tenant_id"`
	Total      int         `json:"total"`
	Committed  int         `json:"committed"`
	Unchanged  int         `json:"unchanged"`
	Conflicts  int         `json:"conflicts"`
	Unresolved int         `json:"unresolved"`
	Entries    []SeedEntry `json:"entries"`
}

func (s *SeedReport) add(e SeedEntry) {
	s.Total++
	switch e.Outcome {
	case OutcomeCommitted:
		s.Committed++
	case OutcomeUnchanged:
		s.Unchanged++
	case OutcomeConflict:
		s.Conflicts++
	default:
		s.Unresolved++
	}
	s.Entries = append(s.Entries, e)
}

// Seed bulk-loads aliases from known client/payer pairs. Each client name is
// resolved through the matching cascade against the tenant's roster; any
// matched result, fuzzy included, is confirmed, while review and unmatched
// clients are reported as unresolved. Pairs are processed in order and go
// through the same conflict check as manual confirmations.
func (r *Runner) Seed(ctx context.Context, tenantID string, pairs []SeedPair, actingUser string) (*SeedReport, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	log := r.logger.WithTenant(tenantID)
	roster, err := r.rosters.Roster(ctx, tenantID)
	if err != nil {
		return nil, r.abortError(ctx, errors.CodeRosterUnavailable, "seed", err)
	}
	index := matcher.NewRosterIndex(roster)

	report := &SeedReport{TenantID: tenantID}
	err = logger.TimedOperation("seed", log.WithField("pairs", len(pairs)), func() error {
		for _, pair := range pairs {
			entry, err := r.seedPair(ctx, tenantID, pair, actingUser, index)
			if err != nil {
				return err
			}
			report.add(entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(logger.Fields{
		"committed":  report.Committed,
		"unchanged":  report.Unchanged,
		"conflicts":  report.Conflicts,
		"unresolved": report.Unresolved,
	}).Info("Seeding completed")
	return report, nil
}

func (r *Runner) seedPair(ctx context.Context, tenantID string, pair SeedPair, actingUser string, index *matcher.RosterIndex) (SeedEntry, error) {
	entry := SeedEntry{Pair: pair, Outcome: OutcomeUnresolved}

	key := normalize.Normalize(pair.PayerText)
	if key == "" {
		entry.Reason = "payer text is empty after normalization"
		return entry, nil
	}
	entry.NormalizedPayerKey = key

	resolved, err := r.matcher.Resolve(ctx, matcher.Request{TenantID: tenantID, PayerRaw: pair.ClientFullName}, index, r.aliases)
	if err != nil {
		return entry, r.abortError(ctx, errors.CodeStoreUnavailable, "seed", err)
	}
	if resolved.Status != models.StatusMatched {
		entry.Reason = "client name resolved to " + resolved.Status.String()
		if resolved.Reason != "" {
			entry.Reason += ": " + resolved.Reason
		}
		return entry, nil
	}
	entry.AccountID = resolved.MatchedAccountID
	entry.MatchType = resolved.MatchType

	outcome, err := r.Confirm(ctx, ConfirmRequest{
		TenantID:           tenantID,
		NormalizedPayerKey: key,
		AccountID:          resolved.MatchedAccountID,
		ActingUser:         actingUser,
	})
	if err != nil {
		return entry, err
	}
	entry.Outcome = outcome.Outcome
	entry.ExistingAccountID = outcome.ExistingAccountID
	return entry, nil
}
