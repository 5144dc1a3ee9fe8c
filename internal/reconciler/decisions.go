package reconciler

import (
	"context"
	"strings"

	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/normalize"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

// Outcome is what an alias decision did to the store.
type Outcome string

const (
	// OutcomeCommitted means the alias was written.
	OutcomeCommitted Outcome = "committed"
	// OutcomeUnchanged means the store already held the requested state.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeConflict means the key points at another account; nothing was
	// written.
	OutcomeConflict Outcome = "conflict"
	// OutcomeRemoved means a rejected alias was deleted.
	OutcomeRemoved Outcome = "removed"
	// OutcomeNotFound means there was no alias to act on.
	OutcomeNotFound Outcome = "not_found"
	// OutcomeUnresolved is used by seeding when the client name does not
	// resolve to a single account.
	OutcomeUnresolved Outcome = "unresolved"
)

// casAttempts bounds how often a confirmation re-reads after losing a race
// against a concurrent delete.
const casAttempts = 3

// ConfirmRequest asks to alias a payer key to an account. The key is
// normalized again, so raw payer text is accepted too.
type ConfirmRequest struct {
	TenantID           string `json:"tenant_id"`
	NormalizedPayerKey string `json:"normalized_payer_key" binding:"required"`
	AccountID          string `json:"account_id" binding:"required"`
	ActingUser         string `json:"acting_user"`
}

// ReassignRequest moves an alias from one account to another.
type ReassignRequest struct {
	TenantID           string `json:"tenant_id"`
	NormalizedPayerKey string `json:"normalized_payer_key" binding:"required"`
	FromAccountID      string `json:"from_account_id" binding:"required"`
	ToAccountID        string `json:"to_account_id" binding:"required"`
	ActingUser         string `json:"acting_user"`
}

// RejectRequest removes an alias if it still points at AccountID.
type RejectRequest struct {
	TenantID           string `json:"tenant_id"`
	NormalizedPayerKey string `json:"normalized_payer_key" binding:"required"`
	AccountID          string `json:"account_id" binding:"required"`
	ActingUser         string `json:"acting_user"`
}

// ConfirmOutcome reports the effect of a confirm, reassign or reject.
type ConfirmOutcome struct {
	Outcome            Outcome            `json:"outcome"`
	TenantID           string             `json:"tenant_id"`
	NormalizedPayerKey string             `json:"normalized_payer_key"`
	AccountID          string             `json:"account_id"`
	ExistingAccountID  string             `json:"existing_account_id,omitempty"`
	Alias              *models.PayerAlias `json:"alias,omitempty"`
}

// Confirm aliases a payer key to an account. It never overwrites an alias
// that points elsewhere: that case yields OutcomeConflict naming the
// existing account and leaves the store unchanged.
func (r *Runner) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmOutcome, error) {
	alias, err := newAlias(req.TenantID, req.NormalizedPayerKey, req.AccountID, req.ActingUser)
	if err != nil {
		return nil, err
	}
	out := &ConfirmOutcome{
		TenantID:           alias.TenantID,
		NormalizedPayerKey: alias.NormalizedPayerKey,
		AccountID:          alias.AccountID,
	}
	log := r.logger.WithTenant(alias.TenantID).WithFields(logger.Fields{
		"payer_key":  alias.NormalizedPayerKey,
		"account_id": alias.AccountID,
	})

	for attempt := 0; attempt < casAttempts; attempt++ {
		check, err := matcher.CheckConflict(ctx, r.aliases, alias.TenantID, alias.NormalizedPayerKey, alias.AccountID)
		if err != nil {
			return nil, r.abortError(ctx, errors.CodeStoreUnavailable, "confirm", err)
		}
		if check.AlreadyAliased {
			out.Outcome = OutcomeUnchanged
			out.Alias = check.Existing
			log.Debug("Alias already confirmed")
			return out, nil
		}
		if check.Conflict {
			out.Outcome = OutcomeConflict
			out.ExistingAccountID = check.ExistingAccountID()
			out.Alias = check.Existing
			r.logConflict(alias.TenantID, alias.NormalizedPayerKey, alias.AccountID, out.ExistingAccountID)
			return out, nil
		}

		current, swapped, err := r.aliases.CompareAndSwapAlias(ctx, "", alias)
		if err != nil {
			return nil, r.abortError(ctx, errors.CodeStoreUnavailable, "confirm", err)
		}
		if swapped {
			out.Outcome = OutcomeCommitted
			out.Alias = current
			log.WithField("acting_user", alias.CreatedBy).Info("Alias confirmed")
			return out, nil
		}
		// Lost a race against another writer.
		if current != nil {
			if current.AccountID == alias.AccountID {
				out.Outcome = OutcomeUnchanged
			} else {
				out.Outcome = OutcomeConflict
				out.ExistingAccountID = current.AccountID
				r.logConflict(alias.TenantID, alias.NormalizedPayerKey, alias.AccountID, current.AccountID)
			}
			out.Alias = current
			return out, nil
		}
	}

	return nil, errors.ProviderError(errors.CodeLockContention, "confirm", nil).
		WithContext("payer_key", alias.NormalizedPayerKey)
}

// Reassign is the explicit human override: it re-points an alias from
// FromAccountID to ToAccountID, and only if it still points at FromAccountID.
func (r *Runner) Reassign(ctx context.Context, req ReassignRequest) (*ConfirmOutcome, error) {
	alias, err := newAlias(req.TenantID, req.NormalizedPayerKey, req.ToAccountID, req.ActingUser)
	if err != nil {
		return nil, err
	}
	from := strings.TrimSpace(req.FromAccountID)
	if from == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "from_account_id", req.FromAccountID, nil)
	}

	out := &ConfirmOutcome{
		TenantID:           alias.TenantID,
		NormalizedPayerKey: alias.NormalizedPayerKey,
		AccountID:          alias.AccountID,
	}

	current, swapped, err := r.aliases.CompareAndSwapAlias(ctx, from, alias)
	if err != nil {
		return nil, r.abortError(ctx, errors.CodeStoreUnavailable, "reassign", err)
	}
	out.Alias = current

	switch {
	case swapped:
		out.Outcome = OutcomeCommitted
		r.logger.WithTenant(alias.TenantID).WithFields(logger.Fields{
			"payer_key":       alias.NormalizedPayerKey,
			"from_account_id": from,
			"account_id":      alias.AccountID,
			"acting_user":     alias.UpdatedBy,
		}).Info("Alias reassigned")
	case current == nil:
		out.Outcome = OutcomeNotFound
	case current.AccountID == alias.AccountID:
		out.Outcome = OutcomeUnchanged
	default:
		out.Outcome = OutcomeConflict
		out.ExistingAccountID = current.AccountID
		r.logConflict(alias.TenantID, alias.NormalizedPayerKey, alias.AccountID, current.AccountID)
	}
	return out, nil
}

// Reject removes the alias of a payer key if it currently points at the
// rejected account. An alias pointing elsewhere is left alone.
func (r *Runner) Reject(ctx context.Context, req RejectRequest) (*ConfirmOutcome, error) {
	alias, err := newAlias(req.TenantID, req.NormalizedPayerKey, req.AccountID, req.ActingUser)
	if err != nil {
		return nil, err
	}
	out := &ConfirmOutcome{
		TenantID:           alias.TenantID,
		NormalizedPayerKey: alias.NormalizedPayerKey,
		AccountID:          alias.AccountID,
	}

	removed, err := r.aliases.CompareAndDeleteAlias(ctx, alias.TenantID, alias.NormalizedPayerKey, alias.AccountID)
	if err != nil {
		return nil, r.abortError(ctx, errors.CodeStoreUnavailable, "reject", err)
	}
	if removed {
		out.Outcome = OutcomeRemoved
		r.logger.WithTenant(alias.TenantID).WithFields(logger.Fields{
			"payer_key":   alias.NormalizedPayerKey,
			"account_id":  alias.AccountID,
			"acting_user": alias.UpdatedBy,
		}).Info("Alias rejected")
		return out, nil
	}

	current, err := r.aliases.GetAlias(ctx, alias.TenantID, alias.NormalizedPayerKey)
	if err != nil {
		return nil, r.abortError(ctx, errors.CodeStoreUnavailable, "reject", err)
	}
	if current == nil {
		out.Outcome = OutcomeNotFound
		return out, nil
	}
	out.Outcome = OutcomeUnchanged
	out.ExistingAccountID = current.AccountID
	out.Alias = current
	return out, nil
}

func newAlias(tenantID, payer, accountID, actingUser string) (*models.PayerAlias, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}
	key := normalize.Normalize(payer)
	if key == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "normalized_payer_key", payer, nil)
	}
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "account_id", accountID, nil)
	}
	if strings.TrimSpace(actingUser) == "" {
		actingUser = "unknown"
	}
	alias := models.NewPayerAlias(tenantID, key, accountID, actingUser)
	if err := alias.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidData, "alias", key, err)
	}
	return alias, nil
}
