// Package storage persists payer aliases and tenant rosters.
//
// Every backend offers the same alias contract: at most one account per
// (tenant, normalized payer key), changed only through an atomic
// compare-and-swap scoped to that single key.
package storage

import (
	"context"

	"payer-reconciliation-service/internal/models"
)

// AliasReader is the read side of the alias store, all the matching cascade
// needs.
type AliasReader interface {
	// GetAlias returns nil, nil when the key has no alias.
	GetAlias(ctx context.Context, tenantID, key string) (*models.PayerAlias, error)
}

// AliasStore persists confirmed payer aliases.
type AliasStore interface {
	AliasReader

	// CompareAndSwapAlias writes next only if the stored account for
	// (next.TenantID, next.NormalizedPayerKey) equals expectedAccountID. An
	// empty expectedAccountID means the key must be absent. When the swap does
	// not happen, current holds the stored alias (nil if there is none).
	CompareAndSwapAlias(ctx context.Context, expectedAccountID string, next *models.PayerAlias) (current *models.PayerAlias, swapped bool, err error)

	// CompareAndDeleteAlias removes the alias only if it points at
	// expectedAccountID.
	CompareAndDeleteAlias(ctx context.Context, tenantID, key, expectedAccountID string) (bool, error)

	// ListAliases returns every alias of the tenant ordered by key.
	ListAliases(ctx context.Context, tenantID string) ([]*models.PayerAlias, error)

	Close() error
}

// RosterProvider hands out a read-only snapshot of a tenant's roster.
type RosterProvider interface {
	Roster(ctx context.Context, tenantID string) ([]*models.RosterEntry, error)
}

// RosterWriter replaces a tenant's roster wholesale.
type RosterWriter interface {
	ReplaceRoster(ctx context.Context, tenantID string, entries []*models.RosterEntry) error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)
