package matcher

import (
	"context"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/storage"
)

// ConflictCheck is the outcome of CheckConflict.
type ConflictCheck struct {
	// Conflict is set when the key already resolves to another account.
	Conflict bool
	// AlreadyAliased is set when the key already resolves to the proposed
	// account, making a write a no-op.
	AlreadyAliased bool
	// Existing is the stored alias, if any.
	Existing *models.PayerAlias
}

// ExistingAccountID returns the account the key currently resolves to.
func (c *ConflictCheck) ExistingAccountID() string {
	if c.Existing == nil {
		return ""
	}
	return c.Existing.AccountID
}

// Clear reports whether a write of the proposed account may go ahead.
func (c *ConflictCheck) Clear() bool {
	return !c.Conflict && !c.AlreadyAliased
}

// CheckConflict tells whether aliasing key to proposedAccountID would
// overwrite an alias that points elsewhere. It runs before every alias write,
// whichever tier proposed the account, and never writes itself.
func CheckConflict(ctx context.Context, aliases storage.AliasReader, tenantID, key, proposedAccountID string) (*ConflictCheck, error) {
	existing, err := aliases.GetAlias(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}

	check := &ConflictCheck{Existing: existing}
	if existing == nil {
		return check, nil
	}
	if existing.AccountID == proposedAccountID {
		check.AlreadyAliased = true
	} else {
		check.Conflict = true
	}
	return check, nil
}
