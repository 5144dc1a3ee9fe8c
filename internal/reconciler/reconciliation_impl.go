package reconciler

import (
	"context"
	"fmt"

	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

// resolveRow runs one row through the cascade and, when configured, learns
// exact matches as aliases.
func (r *Runner) resolveRow(ctx context.Context, tenantID string, row models.ReconciliationRow, index *matcher.RosterIndex) (*models.ReconciliationResult, error) {
	result, err := r.matcher.Resolve(ctx, matcher.Request{
		TenantID:      tenantID,
		PayerRaw:      row.PayerRaw,
		ReferenceHint: row.Reference,
	}, index, r.aliases)
	if err != nil {
		return nil, err
	}
	result.Row = row

	if r.config.AutoLearnExact && result.Status == models.StatusMatched && result.MatchType == models.MatchTypeExact {
		if err := r.learn(ctx, tenantID, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// learn commits an exact match as an alias. A refused write marks the row as
// a conflict and leaves the store untouched.
func (r *Runner) learn(ctx context.Context, tenantID string, result *models.ReconciliationResult) error {
	key := result.NormalizedPayerKey
	proposed := result.MatchedAccountID

	check, err := matcher.CheckConflict(ctx, r.aliases, tenantID, key, proposed)
	if err != nil {
		return err
	}
	if check.AlreadyAliased {
		return nil
	}
	if check.Conflict {
		markConflict(result, check.ExistingAccountID())
		r.logConflict(tenantID, key, proposed, check.ExistingAccountID())
		return nil
	}

	current, swapped, err := r.aliases.CompareAndSwapAlias(ctx, "", models.NewPayerAlias(tenantID, key, proposed, AutoLearnUser))
	if err != nil {
		return err
	}
	if !swapped && current != nil && current.AccountID != proposed {
		markConflict(result, current.AccountID)
		r.logConflict(tenantID, key, proposed, current.AccountID)
		return nil
	}

	r.logger.WithFields(logger.Fields{
		"tenant_id":  tenantID,
		"payer_key":  key,
		"account_id": proposed,
	}).Debug("Learned alias from exact match")
	return nil
}

func markConflict(result *models.ReconciliationResult, existingAccountID string) {
	result.Status = models.StatusConflict
	result.Reason = fmt.Sprintf("payer key is already aliased to %s", existingAccountID)
	result.MatchedAccountID = ""
	for _, c := range result.Candidates {
		if c.AccountID == existingAccountID {
			return
		}
	}
	result.Candidates = append(result.Candidates, models.Candidate{AccountID: existingAccountID, Score: 1})
}

func (r *Runner) logConflict(tenantID, key, proposed, existing string) {
	r.logger.WithFields(logger.Fields{
		"tenant_id":           tenantID,
		"payer_key":           key,
		"account_id":          proposed,
		"existing_account_id": existing,
	}).Warn("Alias write refused: key points at another account")
}

// abortError maps a failure that ends a batch or a decision. Cancellation wins
// over whatever error the cancellation caused downstream.
func (r *Runner) abortError(ctx context.Context, code errors.ErrorCode, operation string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.ReconciliationError(errors.CodeBatchCancelled, operation, ctxErr)
	}
	if re, ok := errors.AsReconcilerError(err); ok {
		return re
	}
	return errors.ProviderError(code, operation, err)
}
