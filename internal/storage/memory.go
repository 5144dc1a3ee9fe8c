package storage

import (
	"context"
	"sync"
	"time"

	"payer-reconciliation-service/internal/models"
)

type aliasKey struct {
	tenantID string
	key      string
}

// MemoryStore keeps aliases and rosters in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	aliases map[aliasKey]*models.PayerAlias
	rosters map[string][]*models.RosterEntry
}

var (
	_ AliasStore     = (*MemoryStore)(nil)
	_ RosterProvider = (*MemoryStore)(nil)
	_ RosterWriter   = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		aliases: make(map[aliasKey]*models.PayerAlias),
		rosters: make(map[string][]*models.RosterEntry),
	}
}

func (m *MemoryStore) GetAlias(ctx context.Context, tenantID, key string) (*models.PayerAlias, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aliases[aliasKey{tenantID, key}].Clone(), nil
}

func (m *MemoryStore) CompareAndSwapAlias(ctx context.Context, expectedAccountID string, next *models.PayerAlias) (*models.PayerAlias, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	k := aliasKey{next.TenantID, next.NormalizedPayerKey}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.aliases[k]
	if !casAllowed(current, expectedAccountID) {
		return current.Clone(), false, nil
	}

	stored := mergeForWrite(current, next)
	m.aliases[k] = stored
	return stored.Clone(), true, nil
}

func (m *MemoryStore) CompareAndDeleteAlias(ctx context.Context, tenantID, key, expectedAccountID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	k := aliasKey{tenantID, key}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.aliases[k]
	if current == nil || current.AccountID != expectedAccountID {
		return false, nil
	}
	delete(m.aliases, k)
	return true, nil
}

func (m *MemoryStore) ListAliases(ctx context.Context, tenantID string) ([]*models.PayerAlias, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.PayerAlias
	for k, a := range m.aliases {
		if k.tenantID == tenantID {
			out = append(out, a.Clone())
		}
	}
	models.SortAliases(out)
	return out, nil
}

func (m *MemoryStore) Roster(ctx context.Context, tenantID string) ([]*models.RosterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*models.RosterEntry(nil), m.rosters[tenantID]...), nil
}

func (m *MemoryStore) ReplaceRoster(ctx context.Context, tenantID string, entries []*models.RosterEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rosters[tenantID] = append([]*models.RosterEntry(nil), entries...)
	return nil
}

// PutRoster is ReplaceRoster without a context, for tests and fixtures.
func (m *MemoryStore) PutRoster(tenantID string, entries ...*models.RosterEntry) {
	_ = m.ReplaceRoster(context.Background(), tenantID, entries)
}

func (m *MemoryStore) Close() error { return nil }

func casAllowed(current *models.PayerAlias, expectedAccountID string) bool {
	if current == nil {
		return expectedAccountID == ""
	}
	return current.AccountID == expectedAccountID
}

// mergeForWrite keeps the creation stamp of an alias being re-pointed.
func mergeForWrite(current, next *models.PayerAlias) *models.PayerAlias {
	stored := next.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	if current != nil {
		stored.CreatedAt = current.CreatedAt
		stored.CreatedBy = current.CreatedBy
	} else if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.UpdatedAt
	}
	return stored
}
