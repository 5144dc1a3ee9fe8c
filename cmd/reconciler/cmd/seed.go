package cmd

import (
	"strings"

	"payer-reconciliation-service/cmd/reconciler/config"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	seedFile   string
	seedUser   string
	seedFormat string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Bulk-load aliases from client/payer pairs",
	Long: `Seed loads known client/payer pairs, typically exported from a previous
system. Each client name is resolved against the roster the same way a
statement row is; pairs whose client does not resolve to a single account
are reported as unresolved and nothing is stored for them. Existing aliases
are never overwritten.

The file is YAML (tenant, acting_user, pairs) or a CSV/XLSX sheet with a
client and a payer column. A tenant named in a YAML file must agree with
--tenant when both are given.`,
	Example: `  reconciler seed --tenant club-1 --file pairs.csv
  reconciler seed --file pairs.yaml --output-format json`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "F", "", "seed file: .yaml, .csv or .xlsx (required)")
	seedCmd.Flags().StringVarP(&seedUser, "user", "u", "", "acting user (default: acting_user from the file, or 'seed')")
	seedCmd.Flags().StringVarP(&seedFormat, "output-format", "f", "console", "output format: console, json, csv")
	seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := validateFileExists(seedFile, "seed file"); err != nil {
		return err
	}
	seed, stats, err := parsers.NewSeedParser(nil).ParseSeed(cmd.Context(), seedFile)
	if err != nil {
		return err
	}
	if stats != nil && stats.HasErrors() {
		cmd.PrintErrln(FormatParseErrors(stats.GetSampleErrors(10), stats.ErrorCount))
	}

	tenant, err := seedTenant(settings.Tenant, seed.Tenant)
	if err != nil {
		return err
	}
	user := firstNonEmpty(seedUser, seed.ActingUser, "seed")

	rt, err := openRuntime(cmd.Context(), "seed", nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.runner.Seed(cmd.Context(), tenant, seed.Pairs, user)
	if err != nil {
		return err
	}
	return renderReport(report, seedFormat, "", cmd.OutOrStdout())
}

// seedTenant reconciles the tenant given on the command line with the one
// named in the seed file.
func seedTenant(flag, file string) (string, error) {
	flag, file = strings.TrimSpace(flag), strings.TrimSpace(file)
	switch {
	case flag != "" && file != "" && flag != file:
		return "", errors.ConfigurationError(errors.CodeConfigConflict, config.KeyTenant, flag, nil).
			WithContext("file_tenant", file).
			WithSuggestion("Drop --tenant or fix the tenant in the seed file")
	case flag != "":
		return flag, nil
	case file != "":
		return file, nil
	}
	return "", errors.ConfigurationError(errors.CodeMissingConfig, config.KeyTenant, "", nil).
		WithSuggestion("pass --tenant or name the tenant in the seed file")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
