// Command generate writes a reproducible tenant to disk: a roster, the same
// statement in every supported layout, a seed file and the expected verdict
// of each row.
//
//	go run ./testdata/generators -output-dir testdata/generated -seed 7
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"payer-reconciliation-service/internal/fixtures"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/pkg/logger"
)

func main() {
	defaults := fixtures.DefaultConfig()
	var (
		outputDir = flag.String("output-dir", "generated", "Output directory for generated files")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		tenant    = flag.String("tenant", defaults.Tenant, "Tenant written into the seed file")
		accounts  = flag.Int("accounts", defaults.Accounts, "Number of roster accounts")
		rows      = flag.Int("rows", defaults.Rows, "Number of statement rows")
		homonyms  = flag.Int("homonyms", defaults.Homonyms, "Number of account pairs sharing a name")
		unknown   = flag.Float64("unknown", defaults.Unknown, "Share of rows paid by strangers")
		typos     = flag.Float64("typos", defaults.Typo, "Share of rows with a misspelled surname")
	)
	flag.Parse()

	log := logger.WithComponent("generate")

	cfg := defaults
	cfg.Seed = *seed
	cfg.Tenant = *tenant
	cfg.Accounts = *accounts
	cfg.Rows = *rows
	cfg.Homonyms = *homonyms
	cfg.Unknown = *unknown
	cfg.Typo = *typos

	scenario, err := fixtures.Generate(cfg)
	if err != nil {
		log.WithError(err).Fatal("Invalid generator settings")
	}
	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.WithError(err).Fatal("Failed to create output directory")
	}

	write := func(name string, fn func(f *os.File) error) {
		path := filepath.Join(*outputDir, name)
		f, err := os.Create(path)
		if err != nil {
			log.WithError(err).WithField("file", path).Fatal("Failed to create file")
		}
		defer f.Close()
		if err := fn(f); err != nil {
			log.WithError(err).WithField("file", path).Fatal("Failed to write file")
		}
		fmt.Printf("  %s\n", path)
	}

	fmt.Printf("Generating tenant %s (seed %d)\n", cfg.Tenant, cfg.Seed)
	write("roster.csv", func(f *os.File) error { return scenario.WriteRoster(f) })
	for _, layout := range parsers.ListStatementConfigs() {
		layout := layout
		write("statement_"+layout.Name+".csv", func(f *os.File) error { return scenario.WriteStatement(f, layout) })
	}
	write("seed.yaml", func(f *os.File) error { return scenario.WriteSeed(f, "generator") })
	write("expected.csv", func(f *os.File) error { return writeExpected(f, scenario) })

	fmt.Printf("Seed used: %d\n", cfg.Seed)
}

// writeExpected lists the verdict each row should get, for validate_batch.
func writeExpected(f *os.File, s *fixtures.Scenario) error {
	numbers := make([]int, 0, len(s.Expected))
	for n := range s.Expected {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	w := csv.NewWriter(f)
	if err := w.Write([]string{"row", "kind", "account_id", "status"}); err != nil {
		return err
	}
	for _, n := range numbers {
		exp := s.Expected[n]
		if err := w.Write([]string{strconv.Itoa(n), string(exp.Kind), exp.AccountID, string(exp.Status)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
