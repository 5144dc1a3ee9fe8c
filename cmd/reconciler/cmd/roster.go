package cmd

import (
	"context"
	"fmt"
	"io"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	rosterImportFile string
	rosterSheet      string
)

var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Manage tenant rosters",
}

var rosterImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Replace a tenant's roster with the accounts in a file",
	Long: `Import reads a CSV or XLSX roster and replaces the stored roster of the
tenant. The file needs an id column and either surname and given_name
columns or a single full_name column; an alternates column may list other
names of the account separated by '|'.

Only the sqlite backend keeps rosters between runs. With the memory and
redis backends pass the roster to 'reconcile --roster' instead.`,
	Example: `  reconciler roster import --tenant club-1 --file roster.csv
  reconciler roster import -t club-1 --file socios.xlsx --sheet Activos`,
	RunE: runRosterImport,
}

func init() {
	rosterImportCmd.Flags().StringVarP(&rosterImportFile, "file", "F", "", "roster file, .csv or .xlsx (required)")
	rosterImportCmd.Flags().StringVar(&rosterSheet, "sheet", "", "worksheet to read from an .xlsx roster (default: first)")
	rosterImportCmd.MarkFlagRequired("file")
	rosterCmd.AddCommand(rosterImportCmd)
	rootCmd.AddCommand(rosterCmd)
}

func runRosterImport(cmd *cobra.Command, args []string) error {
	tenant, err := settings.RequireTenant()
	if err != nil {
		return err
	}
	if settings.Store.Backend != storage.BackendSQLite {
		return errors.ConfigurationError(errors.CodeConfigConflict, "store", settings.Store.Backend, nil).
			WithSuggestion("Use --store sqlite, or pass the roster to 'reconcile --roster'")
	}
	if err := validateFileExists(rosterImportFile, "roster file"); err != nil {
		return err
	}

	entries, err := loadRoster(cmd.Context(), rosterImportFile, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd.Context(), "roster", nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.stores.Writer.ReplaceRoster(cmd.Context(), tenant, entries); err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryProvider, errors.CodeRosterUnavailable, "replace roster")
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d accounts for %s\n", len(entries), tenant)
	return nil
}

// loadRoster parses a roster file, reporting skipped rows on warn.
func loadRoster(ctx context.Context, path string, warn io.Writer) ([]*models.RosterEntry, error) {
	cfg := parsers.DefaultRosterParserConfig()
	cfg.Sheet = rosterSheet
	parser, err := parsers.NewRosterParser(cfg)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "roster", path, err)
	}
	entries, stats, err := parser.ParseRoster(ctx, path)
	if err != nil {
		return nil, err
	}
	if stats.HasErrors() {
		fmt.Fprintln(warn, FormatParseErrors(stats.GetSampleErrors(10), stats.ErrorCount))
	}
	if len(entries) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "roster", path, nil).
			WithSuggestion("The roster file holds no usable accounts")
	}
	return entries, nil
}
