package reconciler

import (
	"fmt"
	"strings"
	"time"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/normalize"
	"payer-reconciliation-service/pkg/logger"
)

// RowPreprocessor cleans statement rows before they reach the runner.
type RowPreprocessor struct {
	config *PreprocessingConfig
	logger logger.Logger
}

// PreprocessingConfig contains configuration for row preprocessing
type PreprocessingConfig struct {
	TrimWhitespace bool

	// DropBlankRows removes rows with no payer, amount or reference, as left
	// behind by spreadsheet exports. Rows with an amount but no payer are kept
	// and come back unmatched.
	DropBlankRows bool

	// Rows dated outside [StartDate, EndDate] are dropped. Undated rows are
	// always kept.
	StartDate *time.Time
	EndDate   *time.Time

	// FlagDuplicates reports rows repeating the payer, amount and date of an
	// earlier row. Duplicates are kept.
	FlagDuplicates bool
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace: true,
		DropBlankRows:  true,
		FlagDuplicates: true,
	}
}

// Validate validates the configuration
func (c *PreprocessingConfig) Validate() error {
	if c.StartDate != nil && c.EndDate != nil && c.StartDate.After(*c.EndDate) {
		return fmt.Errorf("start date must be before end date")
	}
	return nil
}

// DuplicateRow points at a row that repeats an earlier one.
type DuplicateRow struct {
	RowNumber      int    `json:"row_number"`
	FirstRowNumber int    `json:"first_row_number"`
	PayerKey       string `json:"payer_key"`
}

// PreprocessingStats reports what preprocessing did.
type PreprocessingStats struct {
	InputRows  int            `json:"input_rows"`
	KeptRows   int            `json:"kept_rows"`
	BlankRows  int            `json:"blank_rows"`
	OutOfRange int            `json:"out_of_range"`
	Duplicates []DuplicateRow `json:"duplicates,omitempty"`
}

// NewRowPreprocessor creates a new row preprocessor
func NewRowPreprocessor(config *PreprocessingConfig, log logger.Logger) *RowPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &RowPreprocessor{
		config: config,
		logger: log.WithComponent("preprocessor"),
	}
}

// Preprocess returns the rows to reconcile, in their original order.
func (p *RowPreprocessor) Preprocess(rows []models.ReconciliationRow) ([]models.ReconciliationRow, *PreprocessingStats) {
	stats := &PreprocessingStats{InputRows: len(rows)}
	kept := make([]models.ReconciliationRow, 0, len(rows))
	seen := make(map[string]int)

	for _, row := range rows {
		if p.config.TrimWhitespace {
			row.PayerRaw = strings.TrimSpace(row.PayerRaw)
			row.Reference = strings.TrimSpace(row.Reference)
		}

		if p.config.DropBlankRows && isBlank(row) {
			stats.BlankRows++
			continue
		}
		if !p.withinDateRange(row.Date) {
			stats.OutOfRange++
			continue
		}

		if p.config.FlagDuplicates {
			fp := fingerprint(row)
			if first, ok := seen[fp]; ok {
				stats.Duplicates = append(stats.Duplicates, DuplicateRow{
					RowNumber:      row.RowNumber,
					FirstRowNumber: first,
					PayerKey:       normalize.Normalize(row.PayerRaw),
				})
			} else {
				seen[fp] = row.RowNumber
			}
		}
		kept = append(kept, row)
	}
	stats.KeptRows = len(kept)

	if len(stats.Duplicates) > 0 {
		p.logger.WithField("duplicates", len(stats.Duplicates)).Warn("Statement contains repeated rows")
	}
	p.logger.WithFields(logger.Fields{
		"input_rows":   stats.InputRows,
		"kept_rows":    stats.KeptRows,
		"blank_rows":   stats.BlankRows,
		"out_of_range": stats.OutOfRange,
	}).Debug("Preprocessed statement rows")

	return kept, stats
}

func (p *RowPreprocessor) withinDateRange(date time.Time) bool {
	if date.IsZero() {
		return true
	}
	if p.config.StartDate != nil && date.Before(*p.config.StartDate) {
		return false
	}
	if p.config.EndDate != nil && date.After(*p.config.EndDate) {
		return false
	}
	return true
}

func isBlank(row models.ReconciliationRow) bool {
	return strings.TrimSpace(row.PayerRaw) == "" &&
		row.Amount.IsZero() &&
		strings.TrimSpace(row.Reference) == ""
}

func fingerprint(row models.ReconciliationRow) string {
	date := ""
	if !row.Date.IsZero() {
		date = row.Date.Format("2006-01-02")
	}
	return normalize.Normalize(row.PayerRaw) + "|" + row.Amount.String() + "|" + date
}
