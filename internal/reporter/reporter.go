// Package reporter renders reconciliation batches, decision replays, seeding
// runs and alias exports.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: structured data for programmatic consumption
//   - CSV: one line per row for spreadsheet applications
//
// The console report of a batch lists the summary, the review queue with its
// candidates, unmatched rows and conflicts. Matched rows are only listed when
// IncludeMatched is set.
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{
//		Format:           reporter.FormatConsole,
//		IncludeReview:    true,
//		IncludeUnmatched: true,
//		IncludeConflicts: true,
//		MaxCandidates:    3,
//		TableMaxWidth:    120,
//	})
//	err = generator.GenerateReport(batch, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/reconciler"

	"github.com/shopspring/decimal"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	// Output format
	Format OutputFormat `json:"format"`

	// Detail level options
	IncludeMatched   bool `json:"include_matched"`
	IncludeReview    bool `json:"include_review"`
	IncludeUnmatched bool `json:"include_unmatched"`
	IncludeConflicts bool `json:"include_conflicts"`
	MaxCandidates    int  `json:"max_candidates"`

	// Console formatting options
	TableMaxWidth int `json:"table_max_width"`
	MaxListItems  int `json:"max_list_items"`

	// CSV options
	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`

	SortByAmount bool `json:"sort_by_amount"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:           FormatConsole,
		IncludeMatched:   false,
		IncludeReview:    true,
		IncludeUnmatched: true,
		IncludeConflicts: true,
		MaxCandidates:    3,
		TableMaxWidth:    120,
		MaxListItems:     50,
		CSVDelimiter:     ',',
		CSVHeaders:       true,
		SortByAmount:     false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}

	if c.TableMaxWidth < 50 {
		return fmt.Errorf("table max width must be at least 50 characters, got %d", c.TableMaxWidth)
	}

	if c.MaxCandidates < 0 {
		return fmt.Errorf("max candidates cannot be negative, got %d", c.MaxCandidates)
	}

	return nil
}

// ReportGenerator generates reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	return &ReportGenerator{
		config: config,
	}, nil
}

// GenerateReport writes a batch report to writer
func (rg *ReportGenerator) GenerateReport(batch *models.Batch, writer io.Writer) error {
	if batch == nil {
		return fmt.Errorf("batch cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(batch, writer)
	case FormatJSON:
		return rg.writeJSON(rg.filterBatchForOutput(batch), writer)
	case FormatCSV:
		return rg.generateCSVReport(batch, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// GenerateDecisionReport writes the outcome of a decision replay.
func (rg *ReportGenerator) GenerateDecisionReport(report *reconciler.DecisionReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("decision report cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return rg.writeJSON(report, writer)
	case FormatCSV:
		records := make([][]string, 0, len(report.Outcomes))
		for _, o := range report.Outcomes {
			records = append(records, outcomeRecord(string(o.Decision.Kind), o.Result))
		}
		return rg.writeCSV(outcomeHeaders, records, writer)
	}

	fmt.Fprintf(writer, "DECISION REPORT\n")
	fmt.Fprintf(writer, "Batch:  %s\n", report.BatchID)
	fmt.Fprintf(writer, "Tenant: %s\n\n", report.TenantID)

	fmt.Fprintf(writer, "=== OUTCOMES ===\n")
	for i, o := range report.Outcomes {
		fmt.Fprintf(writer, "  %d. row %d %s %s -> %s: %s",
			i+1,
			o.Decision.Row,
			o.Decision.Kind,
			o.Result.NormalizedPayerKey,
			o.Result.AccountID,
			strings.ToUpper(string(o.Result.Outcome)))
		if o.Result.ExistingAccountID != "" {
			fmt.Fprintf(writer, " (already aliased to %s)", o.Result.ExistingAccountID)
		}
		fmt.Fprintf(writer, "\n")
	}
	fmt.Fprintf(writer, "\n=== SUMMARY ===\n")
	rg.printSummaryTable(&report.Summary, writer)
	return nil
}

// GenerateSeedReport writes the outcome of a seeding run.
func (rg *ReportGenerator) GenerateSeedReport(report *reconciler.SeedReport, writer io.Writer) error {
	if report == nil {
		return fmt.Errorf("seed report cannot be nil")
	}

	switch rg.config.Format {
	case FormatJSON:
		return rg.writeJSON(report, writer)
	case FormatCSV:
		headers := []string{"Client", "Payer", "Outcome", "Payer_Key", "Account_ID", "Existing_Account_ID", "Reason"}
		records := make([][]string, 0, len(report.Entries))
		for _, e := range report.Entries {
			records = append(records, []string{
				e.Pair.ClientFullName,
				e.Pair.PayerText,
				string(e.Outcome),
				e.NormalizedPayerKey,
				e.AccountID,
				e.ExistingAccountID,
				e.Reason,
			})
		}
		return rg.writeCSV(headers, records, writer)
	}

	fmt.Fprintf(writer, "SEED REPORT\n")
	fmt.Fprintf(writer, "Tenant: %s\n\n", report.TenantID)
	fmt.Fprintf(writer, "Pairs:      %d\n", report.Total)
	fmt.Fprintf(writer, "Committed:  %d\n", report.Committed)
	fmt.Fprintf(writer, "Unchanged:  %d\n", report.Unchanged)
	fmt.Fprintf(writer, "Conflicts:  %d\n", report.Conflicts)
	fmt.Fprintf(writer, "Unresolved: %d\n", report.Unresolved)

	var attention []reconciler.SeedEntry
	for _, e := range report.Entries {
		if e.Outcome == reconciler.OutcomeConflict || e.Outcome == reconciler.OutcomeUnresolved {
			attention = append(attention, e)
		}
	}
	if len(attention) > 0 {
		fmt.Fprintf(writer, "\n=== NEEDS ATTENTION ===\n")
		for i, e := range attention {
			fmt.Fprintf(writer, "  %d. %q / %q: %s", i+1, e.Pair.ClientFullName, e.Pair.PayerText, e.Outcome)
			switch {
			case e.ExistingAccountID != "":
				fmt.Fprintf(writer, " (already aliased to %s)", e.ExistingAccountID)
			case e.Reason != "":
				fmt.Fprintf(writer, " (%s)", e.Reason)
			}
			fmt.Fprintf(writer, "\n")
			if rg.truncated(i, len(attention), writer) {
				break
			}
		}
	}
	return nil
}

// GenerateAliasExport writes the aliases of a tenant.
func (rg *ReportGenerator) GenerateAliasExport(aliases []*models.PayerAlias, writer io.Writer) error {
	switch rg.config.Format {
	case FormatJSON:
		if aliases == nil {
			aliases = []*models.PayerAlias{}
		}
		return rg.writeJSON(aliases, writer)
	case FormatCSV:
		headers := []string{"Tenant_ID", "Payer_Key", "Account_ID", "Created_By", "Created_At", "Updated_At"}
		records := make([][]string, 0, len(aliases))
		for _, a := range aliases {
			records = append(records, []string{
				a.TenantID,
				a.NormalizedPayerKey,
				a.AccountID,
				a.CreatedBy,
				a.CreatedAt.Format(time.RFC3339),
				a.UpdatedAt.Format(time.RFC3339),
			})
		}
		return rg.writeCSV(headers, records, writer)
	}

	fmt.Fprintf(writer, "ALIASES (%d)\n", len(aliases))
	for _, a := range aliases {
		fmt.Fprintf(writer, "  %-40s -> %-16s by %s\n", rg.clip(a.NormalizedPayerKey, 40), a.AccountID, a.CreatedBy)
	}
	return nil
}

// generateConsoleReport generates a human-readable console report
func (rg *ReportGenerator) generateConsoleReport(batch *models.Batch, writer io.Writer) error {
	fmt.Fprintf(writer, "RECONCILIATION REPORT\n")
	fmt.Fprintf(writer, "Batch:     %s\n", batch.ID)
	fmt.Fprintf(writer, "Tenant:    %s\n", batch.TenantID)
	fmt.Fprintf(writer, "Generated: %s\n", batch.ProcessedAt.Format(time.RFC3339))
	fmt.Fprintf(writer, "Processing Duration: %v\n\n", batch.Summary.ProcessingTime)

	fmt.Fprintf(writer, "=== SUMMARY ===\n")
	rg.printSummaryTable(&batch.Summary, writer)
	fmt.Fprintf(writer, "\n")

	fmt.Fprintf(writer, "=== MATCH TYPE BREAKDOWN ===\n")
	rg.printMatchTypeTable(&batch.Summary, writer)
	fmt.Fprintf(writer, "\n")

	sections := []struct {
		include bool
		title   string
		status  models.Status
	}{
		{rg.config.IncludeReview, "REVIEW QUEUE", models.StatusReview},
		{rg.config.IncludeConflicts, "CONFLICTS", models.StatusConflict},
		{rg.config.IncludeUnmatched, "UNMATCHED", models.StatusUnmatched},
		{rg.config.IncludeMatched, "MATCHED", models.StatusMatched},
	}
	for _, s := range sections {
		results := batch.ResultsByStatus(s.status)
		if !s.include || len(results) == 0 {
			continue
		}
		fmt.Fprintf(writer, "=== %s (%d) ===\n", s.title, len(results))
		rg.printResultList(rg.sorted(results), writer)
		fmt.Fprintf(writer, "\n")
	}

	return nil
}

// generateCSVReport writes one line per selected result
func (rg *ReportGenerator) generateCSVReport(batch *models.Batch, writer io.Writer) error {
	headers := []string{
		"Row",
		"Payer",
		"Payer_Key",
		"Amount",
		"Reference",
		"Date",
		"Status",
		"Match_Type",
		"Account_ID",
		"Score",
		"Candidates",
		"Reason",
	}

	records := make([][]string, 0, len(batch.Results))
	for _, r := range batch.Results {
		if !rg.includes(r.Status) {
			continue
		}
		date := ""
		if !r.Row.Date.IsZero() {
			date = r.Row.Date.Format("2006-01-02")
		}
		records = append(records, []string{
			fmt.Sprintf("%d", r.Row.RowNumber),
			r.PayerRaw,
			r.NormalizedPayerKey,
			r.Row.Amount.StringFixed(2),
			r.Row.Reference,
			date,
			r.Status.String(),
			r.MatchType.String(),
			r.MatchedAccountID,
			fmt.Sprintf("%.4f", r.Score),
			rg.candidateList(r.Candidates),
			r.Reason,
		})
	}
	return rg.writeCSV(headers, records, writer)
}

var outcomeHeaders = []string{"Kind", "Outcome", "Payer_Key", "Account_ID", "Existing_Account_ID"}

func outcomeRecord(kind string, o *reconciler.ConfirmOutcome) []string {
	return []string{kind, string(o.Outcome), o.NormalizedPayerKey, o.AccountID, o.ExistingAccountID}
}

func (rg *ReportGenerator) writeCSV(headers []string, records [][]string, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(headers); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}
	for _, record := range records {
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func (rg *ReportGenerator) writeJSON(v interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// Helper methods for console output formatting

func (rg *ReportGenerator) printSummaryTable(summary *models.BatchSummary, writer io.Writer) {
	total := summary.TotalRows
	fmt.Fprintf(writer, "Rows:\n")
	fmt.Fprintf(writer, "  Total:      %d\n", total)
	fmt.Fprintf(writer, "  Matched:    %d (%.1f%%)\n", summary.Matched, rg.calculatePercentage(summary.Matched, total))
	if summary.Confirmed > 0 {
		fmt.Fprintf(writer, "  Confirmed:  %d (%.1f%%)\n", summary.Confirmed, rg.calculatePercentage(summary.Confirmed, total))
	}
	fmt.Fprintf(writer, "  Review:     %d (%.1f%%)\n", summary.Review, rg.calculatePercentage(summary.Review, total))
	fmt.Fprintf(writer, "  Unmatched:  %d (%.1f%%)\n", summary.Unmatched, rg.calculatePercentage(summary.Unmatched, total))
	fmt.Fprintf(writer, "  Conflicts:  %d (%.1f%%)\n", summary.Conflicted, rg.calculatePercentage(summary.Conflicted, total))

	fmt.Fprintf(writer, "\nAmounts:\n")
	fmt.Fprintf(writer, "  Matched:    %s\n", summary.MatchedAmount.StringFixed(2))
	fmt.Fprintf(writer, "  Unresolved: %s\n", summary.UnresolvedAmount.StringFixed(2))
	all := summary.MatchedAmount.Add(summary.UnresolvedAmount)
	if !all.IsZero() {
		share := summary.MatchedAmount.Div(all).Mul(decimal.NewFromInt(100))
		fmt.Fprintf(writer, "  Matched Share: %s%%\n", share.StringFixed(1))
	}
}

func (rg *ReportGenerator) printMatchTypeTable(summary *models.BatchSummary, writer io.Writer) {
	total := summary.AliasMatches + summary.ExactMatches + summary.FuzzyMatches

	fmt.Fprintf(writer, "Alias Matches: %d (%.1f%%)\n",
		summary.AliasMatches, rg.calculatePercentage(summary.AliasMatches, total))
	fmt.Fprintf(writer, "Exact Matches: %d (%.1f%%)\n",
		summary.ExactMatches, rg.calculatePercentage(summary.ExactMatches, total))
	fmt.Fprintf(writer, "Fuzzy Matches: %d (%.1f%%)\n",
		summary.FuzzyMatches, rg.calculatePercentage(summary.FuzzyMatches, total))
}

func (rg *ReportGenerator) printResultList(results []*models.ReconciliationResult, writer io.Writer) {
	payerWidth := rg.config.TableMaxWidth - 60
	for i, r := range results {
		fmt.Fprintf(writer, "  %d. Row %d: %-*s %12s",
			i+1,
			r.Row.RowNumber,
			payerWidth,
			rg.clip(r.PayerRaw, payerWidth),
			r.Row.Amount.StringFixed(2))
		if r.MatchedAccountID != "" {
			fmt.Fprintf(writer, "  -> %s (%s %.2f)", r.MatchedAccountID, r.MatchType, r.Score)
		}
		fmt.Fprintf(writer, "\n")
		if r.Reason != "" {
			fmt.Fprintf(writer, "       %s\n", r.Reason)
		}
		if len(r.Candidates) > 0 && r.Status != models.StatusMatched {
			fmt.Fprintf(writer, "       candidates: %s\n", rg.candidateList(r.Candidates))
		}

		if rg.truncated(i, len(results), writer) {
			break
		}
	}
}

// truncated prints the "and N more" line once MaxListItems entries were
// written and reports whether the caller should stop.
func (rg *ReportGenerator) truncated(i, total int, writer io.Writer) bool {
	limit := rg.config.MaxListItems
	if limit <= 0 || i < limit-1 || total <= limit {
		return false
	}
	fmt.Fprintf(writer, "  ... and %d more\n", total-limit)
	return true
}

func (rg *ReportGenerator) candidateList(candidates []models.Candidate) string {
	n := len(candidates)
	if rg.config.MaxCandidates > 0 && n > rg.config.MaxCandidates {
		n = rg.config.MaxCandidates
	}
	parts := make([]string, 0, n)
	for _, c := range candidates[:n] {
		if c.DisplayName != "" {
			parts = append(parts, fmt.Sprintf("%s %s (%.2f)", c.AccountID, c.DisplayName, c.Score))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%.2f)", c.AccountID, c.Score))
		}
	}
	return strings.Join(parts, "; ")
}

func (rg *ReportGenerator) sorted(results []*models.ReconciliationResult) []*models.ReconciliationResult {
	if !rg.config.SortByAmount {
		return results
	}
	out := append([]*models.ReconciliationResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Row.Amount.Abs().GreaterThan(out[j].Row.Amount.Abs())
	})
	return out
}

func (rg *ReportGenerator) includes(status models.Status) bool {
	switch status {
	case models.StatusMatched:
		return rg.config.IncludeMatched
	case models.StatusReview:
		return rg.config.IncludeReview
	case models.StatusUnmatched:
		return rg.config.IncludeUnmatched
	case models.StatusConflict:
		return rg.config.IncludeConflicts
	}
	return false
}

func (rg *ReportGenerator) clip(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}

// Helper methods

func (rg *ReportGenerator) calculatePercentage(part, total int) float64 {
	if total == 0 {
		return 0.0
	}
	return float64(part) / float64(total) * 100.0
}

func (rg *ReportGenerator) filterBatchForOutput(batch *models.Batch) map[string]interface{} {
	results := make([]*models.ReconciliationResult, 0, len(batch.Results))
	for _, r := range batch.Results {
		if rg.includes(r.Status) {
			results = append(results, r)
		}
	}
	return map[string]interface{}{
		"batch_id":     batch.ID,
		"tenant_id":    batch.TenantID,
		"processed_at": batch.ProcessedAt,
		"summary":      batch.Summary,
		"match_rate":   batch.Summary.MatchRate(),
		"results":      results,
	}
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}

	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
