package cmd

import (
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"strings"
	"syscall"

	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// CLIErrorHandler provides user-friendly error handling for CLI operations
type CLIErrorHandler struct {
	out     io.Writer
	logger  logger.Logger
	verbose bool
}

// NewCLIErrorHandler creates a new CLI error handler writing to out
func NewCLIErrorHandler(out io.Writer) *CLIErrorHandler {
	return &CLIErrorHandler{
		out:     out,
		logger:  logger.GetGlobalLogger().WithComponent("cli"),
		verbose: viper.GetBool("verbose"),
	}
}

// HandleError prints err and returns the exit code for it. A nil error
// returns 0.
func (h *CLIErrorHandler) HandleError(err error) int {
	if err == nil {
		return 0
	}

	h.logger.WithError(err).Debug("Command failed")

	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return h.handleReconcilerError(reconcilerErr)
	}
	return h.handleGenericError(err)
}

func (h *CLIErrorHandler) handleReconcilerError(err *errors.ReconcilerError) int {
	fmt.Fprintf(h.out, "Error: %s\n", err.Message)

	if len(err.Context) > 0 {
		keys := make([]string, 0, len(err.Context))
		for key := range err.Context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(h.out, "\nContext:\n")
		for _, key := range keys {
			fmt.Fprintf(h.out, "  %s: %v\n", key, err.Context[key])
		}
	}

	if err.Suggestion != "" {
		fmt.Fprintf(h.out, "\nSuggestion: %s\n", err.Suggestion)
	}

	fmt.Fprintf(h.out, "\n%s\n", h.getCategoryHelp(err.Category))

	if h.verbose && err.Cause != nil {
		fmt.Fprintf(h.out, "\nUnderlying error: %v\n", err.Cause)
	}

	return err.GetExitCode()
}

// handleGenericError covers errors raised outside the service packages,
// mostly cobra flag parsing and raw os errors.
func (h *CLIErrorHandler) handleGenericError(err error) int {
	if h.isFileNotFoundError(err) {
		fmt.Fprintf(h.out, "Error: File not found\n")
		fmt.Fprintf(h.out, "Suggestion: Check if the file path is correct and the file exists\n")
		return 2
	}

	if h.isPermissionError(err) {
		fmt.Fprintf(h.out, "Error: Permission denied\n")
		fmt.Fprintf(h.out, "Suggestion: Check file permissions and ensure you have read access\n")
		return 2
	}

	if h.isDiskFullError(err) {
		fmt.Fprintf(h.out, "Error: Insufficient disk space\n")
		fmt.Fprintf(h.out, "Suggestion: Free up disk space and try again\n")
		return 2
	}

	fmt.Fprintf(h.out, "Error: %v\n", err)
	if !h.verbose {
		fmt.Fprintf(h.out, "\nRun with --verbose for more details\n")
	}
	return 1
}

// getCategoryHelp returns category-specific help text
func (h *CLIErrorHandler) getCategoryHelp(category errors.ErrorCategory) string {
	switch category {
	case errors.CategoryFile:
		return `File error help:
• Check if the file exists and is readable
• Statements and rosters must be .csv or .xlsx; seed files may also be .yaml`

	case errors.CategoryParse:
		return `Parse error help:
• Check the header row: statements need a payer and an amount column
• Rosters need an id column and either surname/given_name or full_name
• Pick the statement layout explicitly with --layout if detection fails
• Save the file in UTF-8 encoding`

	case errors.CategoryValidation:
		return `Validation error help:
• Check that all required fields have values
• Dates on the command line use YYYY-MM-DD
• Amounts use a dot or a comma as decimal separator, without currency symbols`

	case errors.CategoryConfiguration:
		return `Configuration error help:
• Check your command-line flags and RECONCILER_* environment variables
• Verify configuration file syntax if using --config
• Use 'reconciler <command> --help' to see all available options`

	case errors.CategoryProvider:
		return `Store error help:
• Check that the alias store is reachable (--store, --store-dsn, --redis-addr)
• No partial batch was reported; rerun the command once the store is back`

	case errors.CategoryReconciliation:
		return `Reconciliation error help:
• Decisions must name rows that exist in the saved batch
• A cancelled run reports nothing; rerun it to completion`

	default:
		return `For more help:
• Use 'reconciler --help' for general help
• Rerun with --verbose to see the underlying error`
	}
}

// Error detection helpers

func (h *CLIErrorHandler) isFileNotFoundError(err error) bool {
	return stderrors.Is(err, fs.ErrNotExist) || strings.Contains(err.Error(), "no such file or directory")
}

func (h *CLIErrorHandler) isPermissionError(err error) bool {
	return stderrors.Is(err, fs.ErrPermission) ||
		strings.Contains(err.Error(), "permission denied") ||
		strings.Contains(err.Error(), "access denied")
}

func (h *CLIErrorHandler) isDiskFullError(err error) bool {
	if stderrors.Is(err, syscall.ENOSPC) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no space left") ||
		strings.Contains(errStr, "disk full") ||
		strings.Contains(errStr, "device full")
}

// FormatParseErrors formats the rows a parser skipped in a user-friendly way
func FormatParseErrors(samples []string, total int) string {
	if total == 0 {
		return ""
	}

	var lines []string
	if total == 1 {
		lines = append(lines, "Skipped 1 row:")
	} else {
		lines = append(lines, fmt.Sprintf("Skipped %d rows:", total))
	}
	for i, s := range samples {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, s))
	}
	if total > len(samples) {
		lines = append(lines, fmt.Sprintf("  ... and %d more", total-len(samples)))
	}
	return strings.Join(lines, "\n")
}
