// Command validate_batch reconciles a generated statement against its roster
// and checks every verdict against expected.csv from the generator.
//
//	go run ./testdata/validators -data-dir testdata/generated -layout bank-export
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"payer-reconciliation-service/internal/fixtures"
	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/logger"
)

// Mismatch is one row whose verdict differs from the expected one.
type Mismatch struct {
	RowNumber int                  `json:"row_number"`
	Payer     string               `json:"payer"`
	Expected  fixtures.Expectation `json:"expected"`
	Status    models.Status        `json:"status"`
	AccountID string               `json:"account_id,omitempty"`
}

// Result summarizes one validation run.
type Result struct {
	Layout         string                `json:"layout"`
	Matching       string                `json:"matching"`
	Rows           int                   `json:"rows"`
	Summary        models.BatchSummary   `json:"summary"`
	ByKind         map[fixtures.Kind]int `json:"by_kind"`
	Mismatches     []Mismatch            `json:"mismatches"`
	ProcessingTime time.Duration         `json:"processing_time"`
}

func main() {
	var (
		dataDir = flag.String("data-dir", "generated", "Directory written by the generator")
		layout  = flag.String("layout", "standard", "Statement layout to validate")
		preset  = flag.String("matching", "default", "Matching configuration: default, strict, relaxed")
		output  = flag.String("output", "", "Output file for a JSON validation report")
		verbose = flag.Bool("verbose", false, "Verbose output")
	)
	flag.Parse()

	log := logger.WithComponent("validate")
	ctx := context.Background()

	cfg := parsers.GetStatementConfig(*layout)
	if cfg == nil {
		log.Fatalf("Unknown layout: %s", *layout)
	}
	var matching *matcher.MatchingConfig
	switch *preset {
	case "strict":
		matching = matcher.StrictMatchingConfig()
	case "relaxed":
		matching = matcher.RelaxedMatchingConfig()
	default:
		matching = matcher.DefaultMatchingConfig()
	}

	rosterParser, err := parsers.NewRosterParser(parsers.DefaultRosterParserConfig())
	if err != nil {
		log.WithError(err).Fatal("Invalid roster configuration")
	}
	roster, _, err := rosterParser.ParseRoster(ctx, filepath.Join(*dataDir, "roster.csv"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load roster")
	}
	statementParser, err := parsers.NewStatementParser(cfg)
	if err != nil {
		log.WithError(err).Fatal("Invalid statement configuration")
	}
	rows, _, err := statementParser.ParseStatements(ctx, filepath.Join(*dataDir, "statement_"+cfg.Name+".csv"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load statement")
	}
	expected, err := loadExpected(filepath.Join(*dataDir, "expected.csv"))
	if err != nil {
		log.WithError(err).Fatal("Failed to load expectations")
	}

	const tenant = "validation"
	store := storage.NewMemoryStore()
	store.PutRoster(tenant, roster...)
	m, err := matcher.NewMatcher(matching, logger.Nop())
	if err != nil {
		log.WithError(err).Fatal("Invalid matching configuration")
	}
	runner, err := reconciler.NewRunner(m, store, store, nil, logger.Nop())
	if err != nil {
		log.WithError(err).Fatal("Failed to create runner")
	}

	start := time.Now()
	batch, err := runner.Run(ctx, tenant, rows)
	if err != nil {
		log.WithError(err).Fatal("Reconciliation failed")
	}

	result := Result{
		Layout:         cfg.Name,
		Matching:       *preset,
		Rows:           len(rows),
		Summary:        batch.Summary,
		ByKind:         make(map[fixtures.Kind]int),
		ProcessingTime: time.Since(start),
	}
	for _, r := range batch.Results {
		exp, ok := expected[r.Row.RowNumber]
		if !ok {
			continue
		}
		result.ByKind[exp.Kind]++
		if !satisfies(exp, r) {
			result.Mismatches = append(result.Mismatches, Mismatch{
				RowNumber: r.Row.RowNumber,
				Payer:     r.PayerRaw,
				Expected:  exp,
				Status:    r.Status,
				AccountID: r.MatchedAccountID,
			})
		}
	}

	printResult(result, *verbose)
	if *output != "" {
		if err := writeReport(*output, result); err != nil {
			log.WithError(err).Error("Failed to write report")
		} else {
			fmt.Printf("\nValidation report written to: %s\n", *output)
		}
	}
	if len(result.Mismatches) > 0 {
		os.Exit(1)
	}
}

// satisfies reports whether r is an acceptable verdict for exp. Rows without
// an expected status only fail when they match the wrong account.
func satisfies(exp fixtures.Expectation, r *models.ReconciliationResult) bool {
	if exp.Status == "" {
		return !r.IsMatched() || r.MatchedAccountID == exp.AccountID
	}
	if r.Status != exp.Status {
		return false
	}
	return !r.IsMatched() || r.MatchedAccountID == exp.AccountID
}

func loadExpected(path string) (map[int]fixtures.Expectation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	out := make(map[int]fixtures.Expectation, len(records))
	for i, rec := range records {
		if i == 0 || len(rec) < 4 {
			continue
		}
		n, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		out[n] = fixtures.Expectation{Kind: fixtures.Kind(rec[1]), AccountID: rec[2], Status: models.Status(rec[3])}
	}
	return out, nil
}

func printResult(r Result, verbose bool) {
	fmt.Println("Reconciliation Validation Results")
	fmt.Println("=================================")
	fmt.Printf("Layout: %s, matching: %s\n", r.Layout, r.Matching)
	fmt.Printf("Rows: %d in %v\n", r.Rows, r.ProcessingTime)
	fmt.Printf("Matched: %d (alias %d, exact %d, fuzzy %d)\n",
		r.Summary.Matched, r.Summary.AliasMatches, r.Summary.ExactMatches, r.Summary.FuzzyMatches)
	fmt.Printf("Review: %d, unmatched: %d, conflicts: %d\n", r.Summary.Review, r.Summary.Unmatched, r.Summary.Conflicted)
	fmt.Printf("Match rate: %.1f%%\n", r.Summary.MatchRate())

	if verbose {
		fmt.Println("Rows by kind:")
		for kind, n := range r.ByKind {
			fmt.Printf("  %s: %d\n", kind, n)
		}
	}

	if len(r.Mismatches) == 0 {
		fmt.Println("Result: PASSED")
		return
	}
	fmt.Printf("Result: FAILED (%d rows)\n", len(r.Mismatches))
	for _, m := range r.Mismatches {
		fmt.Printf("  row %d %q: want %s %s, got %s %s\n",
			m.RowNumber, m.Payer, m.Expected.Status, m.Expected.AccountID, m.Status, m.AccountID)
	}
}

func writeReport(path string, r Result) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
