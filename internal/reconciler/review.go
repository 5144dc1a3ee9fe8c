package reconciler

import (
	"context"
	"fmt"
	"strings"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
)

// DecisionKind is the operator's verdict on one batch row.
type DecisionKind string

const (
	DecisionConfirm DecisionKind = "confirm"
	DecisionReject  DecisionKind = "reject"
)

// Decision is a human verdict on the row at index Row of a batch. For
// confirmations an empty AccountID means the account the row matched.
type Decision struct {
	Row        int          `json:"row" yaml:"row"`
	Kind       DecisionKind `json:"kind" yaml:"kind" binding:"required,oneof=confirm reject"`
	AccountID  string       `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	ActingUser string       `json:"acting_user,omitempty" yaml:"acting_user,omitempty"`
}

// DecisionOutcome pairs a decision with what it did.
type DecisionOutcome struct {
	Decision Decision        `json:"decision"`
	Result   *ConfirmOutcome `json:"result"`
}

// DecisionReport is the outcome of replaying decisions against a batch. It
// carries updated copies of the affected results; the batch itself is left
// as it was returned by Run.
type DecisionReport struct {
	BatchID  uuid.UUID                      `json:"batch_id"`
	TenantID string                         `json:"tenant_id"`
	Outcomes []DecisionOutcome              `json:"outcomes"`
	Results  []*models.ReconciliationResult `json:"results"`
	Summary  models.BatchSummary            `json:"summary"`
}

// ApplyDecisions replays decisions in order against the alias store. Every
// decision is checked before any is applied; a provider failure stops the
// replay and is returned, and decisions applied before it stay applied.
func (r *Runner) ApplyDecisions(ctx context.Context, batch *models.Batch, decisions []Decision) (*DecisionReport, error) {
	if batch == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "batch", nil, nil)
	}
	for i, result := range batch.Results {
		if result == nil {
			return nil, errors.ValidationError(errors.CodeMissingField, "results", nil, nil).
				WithContext("row", i)
		}
	}
	for i := range decisions {
		if err := checkDecision(batch, decisions[i]); err != nil {
			return nil, err
		}
	}

	log := r.logger.WithTenant(batch.TenantID).WithField("batch_id", batch.ID.String())
	ol := logger.NewOperationLogger("apply_decisions", log).WithFields(logger.Fields{"decisions": len(decisions)})

	report := &DecisionReport{
		BatchID:  batch.ID,
		TenantID: batch.TenantID,
		Outcomes: make([]DecisionOutcome, 0, len(decisions)),
	}
	updated := make(map[int]*models.ReconciliationResult)
	confirmed := make(map[int]bool)

	for _, d := range decisions {
		ol.Step(fmt.Sprintf("%s row %d", d.Kind, d.Row))
		original := batch.Results[d.Row]

		var (
			outcome *ConfirmOutcome
			err     error
		)
		switch d.Kind {
		case DecisionConfirm:
			outcome, err = r.Confirm(ctx, ConfirmRequest{
				TenantID:           batch.TenantID,
				NormalizedPayerKey: original.NormalizedPayerKey,
				AccountID:          decisionAccount(d, original),
				ActingUser:         d.ActingUser,
			})
		case DecisionReject:
			outcome, err = r.Reject(ctx, RejectRequest{
				TenantID:           batch.TenantID,
				NormalizedPayerKey: original.NormalizedPayerKey,
				AccountID:          decisionAccount(d, original),
				ActingUser:         d.ActingUser,
			})
		}
		if err != nil {
			ol.Error(err, "Decision replay aborted")
			return nil, err
		}
		report.Outcomes = append(report.Outcomes, DecisionOutcome{Decision: d, Result: outcome})

		next := original.Clone()
		delete(confirmed, d.Row)
		switch {
		case d.Kind == DecisionConfirm && outcome.Outcome == OutcomeConflict:
			markConflict(next, outcome.ExistingAccountID)
		case d.Kind == DecisionConfirm:
			next.Status = models.StatusMatched
			next.MatchType = models.MatchTypeNone
			next.MatchedAccountID = outcome.AccountID
			next.Score = 1
			next.Reason = ""
			confirmed[d.Row] = true
		default:
			next.Status = models.StatusUnmatched
			next.MatchType = models.MatchTypeNone
			next.MatchedAccountID = ""
			next.Reason = "rejected by operator"
		}
		updated[d.Row] = next
	}

	// Confirmed rows are folded as untiered matches, then moved from the
	// matched count to the confirmed count.
	for i, original := range batch.Results {
		result := original
		if u, ok := updated[i]; ok {
			result = u
			report.Results = append(report.Results, u)
		}
		report.Summary.Add(result)
	}
	report.Summary.Matched -= len(confirmed)
	report.Summary.Confirmed += len(confirmed)
	report.Summary.ProcessingTime = batch.Summary.ProcessingTime

	ol.Success("Decisions applied")
	return report, nil
}

func checkDecision(batch *models.Batch, d Decision) error {
	if d.Row < 0 || d.Row >= len(batch.Results) {
		return errors.ReconciliationError(errors.CodeUnknownRow, "apply decisions", nil).
			WithContext("row", d.Row).
			WithContext("rows", len(batch.Results))
	}
	if d.Kind != DecisionConfirm && d.Kind != DecisionReject {
		return errors.ValidationError(errors.CodeInvalidData, "kind", d.Kind, nil).
			WithSuggestion("use 'confirm' or 'reject'")
	}
	result := batch.Results[d.Row]
	if result.NormalizedPayerKey == "" {
		return errors.ValidationError(errors.CodeMissingField, "normalized_payer_key", result.PayerRaw, nil).
			WithContext("row", d.Row)
	}
	if decisionAccount(d, result) == "" {
		return errors.ValidationError(errors.CodeMissingField, "account_id", d.AccountID, nil).
			WithContext("row", d.Row).
			WithSuggestion("name the account: the row did not match one")
	}
	return nil
}

func decisionAccount(d Decision, result *models.ReconciliationResult) string {
	if id := strings.TrimSpace(d.AccountID); id != "" {
		return id
	}
	return result.MatchedAccountID
}
