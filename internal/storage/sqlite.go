package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

const timeLayout = time.RFC3339Nano

// SQLiteStore keeps aliases and rosters in a SQLite database file.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

var (
	_ AliasStore     = (*SQLiteStore)(nil)
	_ RosterProvider = (*SQLiteStore)(nil)
	_ RosterWriter   = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens (or creates) the database at path and applies pending
// migrations.
func NewSQLiteStore(path string, log logger.Logger) (*SQLiteStore, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "open sqlite", err).
			WithContext("path", path)
	}
	// One writer at a time keeps compare-and-swap free of SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: log.WithComponent("sqlite-store")}
	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "migrate sqlite", err).
			WithContext("path", path)
	}
	return s, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetAlias(ctx context.Context, tenantID, key string) (*models.PayerAlias, error) {
	alias, err := s.getAlias(ctx, s.db, tenantID, key)
	if err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias lookup", err)
	}
	return alias, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func (s *SQLiteStore) getAlias(ctx context.Context, q queryRower, tenantID, key string) (*models.PayerAlias, error) {
	row := q.QueryRowContext(ctx, `
		SELECT tenant_id, payer_key, account_id, created_at, updated_at, created_by, updated_by
		FROM payer_aliases WHERE tenant_id = ? AND payer_key = ?`, tenantID, key)

	alias, err := scanAlias(row.Scan)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return alias, err
}

func (s *SQLiteStore) CompareAndSwapAlias(ctx context.Context, expectedAccountID string, next *models.PayerAlias) (*models.PayerAlias, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := next.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	created := next.CreatedAt
	if created.IsZero() {
		created = now
	}

	var res sql.Result
	if expectedAccountID == "" {
		res, err = tx.ExecContext(ctx, `
			INSERT INTO payer_aliases
			(tenant_id, payer_key, record_name, account_id, created_at, updated_at, created_by, updated_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, payer_key) DO NOTHING`,
			next.TenantID, next.NormalizedPayerKey, next.RecordName(), next.AccountID,
			created.Format(timeLayout), now.Format(timeLayout), next.CreatedBy, next.UpdatedBy)
	} else {
		res, err = tx.ExecContext(ctx, `
			UPDATE payer_aliases SET account_id = ?, updated_at = ?, updated_by = ?
			WHERE tenant_id = ? AND payer_key = ? AND account_id = ?`,
			next.AccountID, now.Format(timeLayout), next.UpdatedBy,
			next.TenantID, next.NormalizedPayerKey, expectedAccountID)
	}
	if err != nil {
		return nil, false, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}

	current, err := s.getAlias(ctx, tx, next.TenantID, next.NormalizedPayerKey)
	if err != nil {
		return nil, false, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, errors.ProviderError(errors.CodeStoreUnavailable, "alias write", err)
	}

	return current, affected == 1, nil
}

func (s *SQLiteStore) CompareAndDeleteAlias(ctx context.Context, tenantID, key, expectedAccountID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM payer_aliases WHERE tenant_id = ? AND payer_key = ? AND account_id = ?`,
		tenantID, key, expectedAccountID)
	if err != nil {
		return false, errors.ProviderError(errors.CodeStoreUnavailable, "alias delete", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, errors.ProviderError(errors.CodeStoreUnavailable, "alias delete", err)
	}
	return affected == 1, nil
}

func (s *SQLiteStore) ListAliases(ctx context.Context, tenantID string) ([]*models.PayerAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, payer_key, account_id, created_at, updated_at, created_by, updated_by
		FROM payer_aliases WHERE tenant_id = ? ORDER BY payer_key`, tenantID)
	if err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias export", err)
	}
	defer rows.Close()

	var out []*models.PayerAlias
	for rows.Next() {
		alias, err := scanAlias(rows.Scan)
		if err != nil {
			return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias export", err)
		}
		out = append(out, alias)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias export", err)
	}
	return out, nil
}

// AliasesForAccount returns the payer keys that resolve to one account.
func (s *SQLiteStore) AliasesForAccount(ctx context.Context, tenantID, accountID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payer_key FROM payer_aliases WHERE tenant_id = ? AND account_id = ? ORDER BY payer_key`,
		tenantID, accountID)
	if err != nil {
		return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias lookup by account", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.ProviderError(errors.CodeStoreUnavailable, "alias lookup by account", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func scanAlias(scan func(dest ...interface{}) error) (*models.PayerAlias, error) {
	var a models.PayerAlias
	var createdAt, updatedAt string
	if err := scan(&a.TenantID, &a.NormalizedPayerKey, &a.AccountID, &createdAt, &updatedAt, &a.CreatedBy, &a.UpdatedBy); err != nil {
		return nil, err
	}

	var err error
	if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at %q: %w", createdAt, err)
	}
	if a.UpdatedAt, err = time.Parse(timeLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at %q: %w", updatedAt, err)
	}
	return &a, nil
}

func (s *SQLiteStore) Roster(ctx context.Context, tenantID string) ([]*models.RosterEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, display_name, variants_json, tokens_json
		FROM roster_entries WHERE tenant_id = ? ORDER BY position`, tenantID)
	if err != nil {
		return nil, errors.ProviderError(errors.CodeRosterUnavailable, "roster fetch", err)
	}
	defer rows.Close()

	var entries []*models.RosterEntry
	for rows.Next() {
		var e models.RosterEntry
		var variantsJSON, tokensJSON string
		if err := rows.Scan(&e.ID, &e.DisplayName, &variantsJSON, &tokensJSON); err != nil {
			return nil, errors.ProviderError(errors.CodeRosterUnavailable, "roster fetch", err)
		}
		if err := json.Unmarshal([]byte(variantsJSON), &e.NameVariants); err != nil {
			return nil, errors.ProviderError(errors.CodeRosterUnavailable, "roster fetch", err).
				WithContext("account_id", e.ID)
		}
		if err := json.Unmarshal([]byte(tokensJSON), &e.Tokens); err != nil {
			return nil, errors.ProviderError(errors.CodeRosterUnavailable, "roster fetch", err).
				WithContext("account_id", e.ID)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.ProviderError(errors.CodeRosterUnavailable, "roster fetch", err)
	}
	return entries, nil
}

func (s *SQLiteStore) ReplaceRoster(ctx context.Context, tenantID string, entries []*models.RosterEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.ProviderError(errors.CodeRosterUnavailable, "roster import", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM roster_entries WHERE tenant_id = ?`, tenantID); err != nil {
		return errors.ProviderError(errors.CodeRosterUnavailable, "roster import", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO roster_entries (tenant_id, account_id, position, display_name, variants_json, tokens_json)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.ProviderError(errors.CodeRosterUnavailable, "roster import", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		variantsJSON, _ := json.Marshal(e.NameVariants)
		tokensJSON, _ := json.Marshal(e.Tokens)
		if _, err := stmt.ExecContext(ctx, tenantID, e.ID, i, e.DisplayName, string(variantsJSON), string(tokensJSON)); err != nil {
			return errors.ProviderError(errors.CodeRosterUnavailable, "roster import", err).
				WithContext("account_id", e.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.ProviderError(errors.CodeRosterUnavailable, "roster import", err)
	}

	s.logger.WithTenant(tenantID).WithField("entries", len(entries)).Info("Roster replaced")
	return nil
}
