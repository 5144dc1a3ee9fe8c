// Package reconciler runs batches of statement rows through the matching
// cascade and records the decisions operators make about them.
//
// A Runner resolves every row of a batch against one roster snapshot, on a
// bounded worker pool, and returns the results in input order. Human
// decisions (confirm, reassign, reject) go through the conflict detector and
// an atomic compare-and-swap on the alias store; a confirmation never
// overwrites an alias that points at another account.
package reconciler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// AutoLearnUser is recorded as CreatedBy on aliases learned from exact matches.
const AutoLearnUser = "system:auto-learn"

// Config holds configuration options for the batch runner
type Config struct {
	// MaxConcurrency bounds the number of rows resolved at once.
	MaxConcurrency int

	// AutoLearnExact commits exact-tier matches as aliases. A write the
	// conflict detector refuses turns that row into a conflict.
	AutoLearnExact bool

	// ProgressInterval is how often a running batch logs its progress.
	ProgressInterval time.Duration
}

// DefaultConfig returns a default configuration for the batch runner
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:   8,
		AutoLearnExact:   false,
		ProgressInterval: 5 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive, got %d", c.MaxConcurrency)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("progress interval cannot be negative, got %s", c.ProgressInterval)
	}
	return nil
}

// Runner resolves batches and applies alias decisions for any tenant.
type Runner struct {
	matcher *matcher.Matcher
	aliases storage.AliasStore
	rosters storage.RosterProvider
	config  *Config
	logger  logger.Logger
}

// NewRunner wires a runner. A nil config means DefaultConfig.
func NewRunner(m *matcher.Matcher, aliases storage.AliasStore, rosters storage.RosterProvider, config *Config, log logger.Logger) (*Runner, error) {
	if m == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "matcher", nil, nil).
			WithSuggestion("Provide a configured matcher")
	}
	if aliases == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "alias_store", nil, nil).
			WithSuggestion("Open a storage backend before creating the runner")
	}
	if rosters == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "roster_provider", nil, nil).
			WithSuggestion("Open a storage backend before creating the runner")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", config.MaxConcurrency, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	cfg := *config
	return &Runner{
		matcher: m,
		aliases: aliases,
		rosters: rosters,
		config:  &cfg,
		logger:  log.WithComponent("reconciler"),
	}, nil
}

// Config returns a copy of the runner configuration.
func (r *Runner) Config() Config {
	return *r.config
}

// Run resolves rows against a single roster snapshot of tenantID. The batch
// holds exactly one result per row, in input order. A provider failure or a
// cancelled ctx aborts the whole batch and no partial result is returned.
func (r *Runner) Run(ctx context.Context, tenantID string, rows []models.ReconciliationRow) (*models.Batch, error) {
	if err := validateTenant(tenantID); err != nil {
		return nil, err
	}

	start := time.Now()
	batch := &models.Batch{
		ID:       uuid.New(),
		TenantID: tenantID,
	}
	log := r.logger.WithTenant(tenantID).WithField("batch_id", batch.ID.String())
	log.WithField("rows", len(rows)).Info("Starting reconciliation batch")

	roster, err := r.rosters.Roster(ctx, tenantID)
	if err != nil {
		return nil, r.abortError(ctx, errors.CodeRosterUnavailable, "roster snapshot", err)
	}
	index := matcher.NewRosterIndex(roster)
	if index.Len() == 0 {
		log.Warn("Roster is empty; only aliases can match")
	}

	tracker := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "reconcile",
		Total:       int64(len(rows)),
		LogInterval: r.config.ProgressInterval,
		Logger:      log,
	})

	results := make([]*models.ReconciliationResult, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)

	for i := range rows {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			result, err := r.resolveRow(gctx, tenantID, rows[i], index)
			if err != nil {
				return err
			}
			results[i] = result
			tracker.Increment()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		tracker.CompleteWithError(err)
		return nil, r.abortError(ctx, errors.CodeStoreUnavailable, "alias lookup", err)
	}
	if err := ctx.Err(); err != nil {
		tracker.CompleteWithError(err)
		return nil, r.abortError(ctx, errors.CodeStoreUnavailable, "alias lookup", err)
	}

	batch.Results = results
	for _, result := range results {
		batch.Summary.Add(result)
	}
	batch.Summary.ProcessingTime = time.Since(start)
	batch.ProcessedAt = time.Now().UTC()
	tracker.Complete()

	log.WithFields(logger.Fields{
		"matched":    batch.Summary.Matched,
		"review":     batch.Summary.Review,
		"unmatched":  batch.Summary.Unmatched,
		"conflicted": batch.Summary.Conflicted,
		"match_rate": fmt.Sprintf("%.1f%%", batch.Summary.MatchRate()),
	}).Info("Reconciliation batch completed")

	return batch, nil
}

func validateTenant(tenantID string) error {
	if strings.TrimSpace(tenantID) == "" {
		return errors.ValidationError(errors.CodeMissingField, "tenant_id", tenantID, nil)
	}
	return nil
}
