package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"payer-reconciliation-service/cmd/reconciler/config"
	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/internal/reporter"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Flags for the reconcile command
var (
	statementFile    string
	rosterFile       string
	statementLayout  string
	outputFormat     string
	outputFile       string
	startDate        string
	endDate          string
	includeMatched   bool
	detectDuplicates bool
	saveBatchFile    string
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match the payers of a statement to roster accounts",
	Long: `Reconcile reads a bank or card statement and decides, row by row, which
roster account each payment belongs to. Confirmed aliases win, then exact
name matches, then fuzzy matches that are clearly ahead of the runner-up.
Everything else is reported for review.

The roster comes from the store (see 'reconciler roster import') unless
--roster names a roster file, which is then used for this run only.

Examples:
  # Basic reconciliation against the stored roster
  reconciler reconcile --tenant club-1 --statement export.csv

  # Home banking export with a roster file, only March
  reconciler reconcile -t club-1 -s export.csv --layout bank-export \
    --roster roster.xlsx --start-date 2024-03-01 --end-date 2024-03-31

  # Keep the batch for 'reconciler review' and write a CSV report
  reconciler reconcile -t club-1 -s export.csv --save-batch batch.json \
    --output-format csv --output-file report.csv`,

	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	flags := reconcileCmd.Flags()
	flags.StringVarP(&statementFile, "statement", "s", "", "statement file, .csv or .xlsx (required)")
	flags.StringVarP(&rosterFile, "roster", "r", "", "roster file used instead of the stored roster")
	flags.StringVarP(&statementLayout, "layout", "l", "", "statement layout: standard, bank-export, card-settlement (default: detected)")
	flags.StringVarP(&outputFormat, "output-format", "f", "console", "output format: console, json, csv")
	flags.StringVarP(&outputFile, "output-file", "o", "", "output file path (default: stdout)")
	flags.StringVar(&startDate, "start-date", "", "skip rows dated before this day (YYYY-MM-DD)")
	flags.StringVar(&endDate, "end-date", "", "skip rows dated after this day (YYYY-MM-DD)")
	flags.BoolVar(&includeMatched, "include-matched", false, "list matched rows in the report")
	flags.BoolVar(&detectDuplicates, "detect-duplicates", true, "warn about rows repeating payer, amount and date")
	flags.StringVar(&saveBatchFile, "save-batch", "", "write the raw batch as JSON for later review")

	reconcileCmd.MarkFlagRequired("statement")

	// Config file keys live under "reconcile:".
	for _, name := range []string{"layout", "output-format", "start-date", "end-date", "include-matched", "detect-duplicates"} {
		viper.BindPFlag("reconcile."+name, flags.Lookup(name))
	}
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	// Values from viper allow overrides from the config file
	statementLayout = viper.GetString("reconcile.layout")
	outputFormat = viper.GetString("reconcile.output-format")
	startDate = viper.GetString("reconcile.start-date")
	endDate = viper.GetString("reconcile.end-date")
	includeMatched = viper.GetBool("reconcile.include-matched")
	detectDuplicates = viper.GetBool("reconcile.detect-duplicates")

	if _, err := settings.RequireTenant(); err != nil {
		return err
	}
	if err := validateFileExists(statementFile, "statement file"); err != nil {
		return err
	}
	if rosterFile != "" {
		if err := validateFileExists(rosterFile, "roster file"); err != nil {
			return err
		}
	}
	if !reporter.OutputFormat(outputFormat).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", outputFormat, nil).
			WithSuggestion("Valid formats: console, json, csv")
	}
	if _, err := config.CreatePreprocessingConfig(startDate, endDate, detectDuplicates); err != nil {
		return err
	}
	if err := validateOutputDir(outputFile); err != nil {
		return err
	}
	return validateOutputDir(saveBatchFile)
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.ValidationError(errors.CodeMissingField, description, "", nil)
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, err).
			WithContext("file", description)
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	if info.IsDir() {
		return errors.FileError(errors.CodeUnsupportedFile, filePath, nil).
			WithSuggestion(fmt.Sprintf("%s is a directory, expected a file", description))
	}
	return nil
}

func validateOutputDir(path string) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, dir, err).
			WithSuggestion("Create the output directory first")
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tenant, _ := settings.RequireTenant()
	log := logger.GetGlobalLogger().WithComponent("cli").WithTenant(tenant)
	verbose := viper.GetBool("verbose")

	layout, err := config.CreateStatementParserConfig(statementLayout, statementFile)
	if err != nil {
		return err
	}
	parser, err := parsers.NewStatementParser(layout)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "layout", layout.Name, err)
	}
	rows, stats, err := parser.ParseStatements(ctx, statementFile)
	if err != nil {
		return err
	}
	if stats.HasErrors() {
		fmt.Fprintln(cmd.ErrOrStderr(), FormatParseErrors(stats.GetSampleErrors(10), stats.ErrorCount))
	}

	preCfg, err := config.CreatePreprocessingConfig(startDate, endDate, detectDuplicates)
	if err != nil {
		return err
	}
	rows, preStats := reconciler.NewRowPreprocessor(preCfg, log).Preprocess(rows)
	for _, d := range preStats.Duplicates {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: row %d repeats row %d (%s)\n", d.RowNumber, d.FirstRowNumber, d.PayerKey)
	}

	var rosters storage.RosterProvider
	if rosterFile != "" {
		entries, err := loadRoster(ctx, rosterFile, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		mem := storage.NewMemoryStore()
		mem.PutRoster(tenant, entries...)
		rosters = mem
	}

	rt, err := openRuntime(ctx, "reconcile", rosters)
	if err != nil {
		return err
	}
	defer rt.Close()

	batch, err := rt.runner.Run(ctx, tenant, rows)
	if err != nil {
		return err
	}

	if saveBatchFile != "" {
		if err := saveBatch(batch, saveBatchFile); err != nil {
			return err
		}
	}

	reportConfig, err := config.CreateReportConfig(outputFormat, includeMatched)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}
	out, closeOut, err := outputTarget(outputFile, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeOut()
	if err := generator.GenerateReportSafely(batch, out); err != nil {
		return err
	}

	if verbose {
		s := batch.Summary
		fmt.Fprintf(cmd.ErrOrStderr(), "\nReconciled %d rows from %s (%d kept after filtering).\n",
			preStats.InputRows, statementFile, preStats.KeptRows)
		fmt.Fprintf(cmd.ErrOrStderr(), "Matched %d, review %d, unmatched %d, conflicts %d.\n",
			s.Matched, s.Review, s.Unmatched, s.Conflicted)
		fmt.Fprintf(cmd.ErrOrStderr(), "Processing time: %v\n", s.ProcessingTime.Round(time.Millisecond))
	}
	return nil
}

func saveBatch(batch *models.Batch, path string) error {
	data, err := json.MarshalIndent(batch, "", "  ")
	if err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "encode batch", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return nil
}

func loadBatch(path string) (*models.Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	var batch models.Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", err).
			WithSuggestion("Pass a file written by 'reconciler reconcile --save-batch'")
	}
	return &batch, nil
}
