package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"payer-reconciliation-service/cmd/reconciler/config"
	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/internal/reporter"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	aliasPayer     string
	aliasAccount   string
	aliasFrom      string
	aliasUser      string
	aliasJSON      bool
	aliasFormat    string
	aliasOutput    string
	aliasAccountID string
	reviewBatch    string
	reviewFile     string
	reviewFormat   string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Remember that a payer name pays for an account",
	Long: `Confirm stores an alias from a payer name to an account. The payer name is
normalized first, so raw statement text is accepted. An alias that already
points at another account is never overwritten: the conflict is reported
and the store is left as it was. Use 'reassign' to move an alias.`,
	Example: `  reconciler confirm --tenant club-1 --payer "MEU ROJAS TRANSFER" --account p1 --user ana`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAliasDecision(cmd, func(rt *runtime, tenant string) (*reconciler.ConfirmOutcome, error) {
			return rt.runner.Confirm(cmd.Context(), reconciler.ConfirmRequest{
				TenantID:           tenant,
				NormalizedPayerKey: aliasPayer,
				AccountID:          aliasAccount,
				ActingUser:         aliasUser,
			})
		})
	},
}

var reassignCmd = &cobra.Command{
	Use:     "reassign",
	Short:   "Move an alias from one account to another",
	Example: `  reconciler reassign --tenant club-1 --payer "MEU ROJAS TRANSFER" --from p1 --account p3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAliasDecision(cmd, func(rt *runtime, tenant string) (*reconciler.ConfirmOutcome, error) {
			return rt.runner.Reassign(cmd.Context(), reconciler.ReassignRequest{
				TenantID:           tenant,
				NormalizedPayerKey: aliasPayer,
				FromAccountID:      aliasFrom,
				ToAccountID:        aliasAccount,
				ActingUser:         aliasUser,
			})
		})
	},
}

var rejectCmd = &cobra.Command{
	Use:     "reject",
	Short:   "Forget an alias if it still points at the account",
	Example: `  reconciler reject --tenant club-1 --payer "MEU ROJAS TRANSFER" --account p1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAliasDecision(cmd, func(rt *runtime, tenant string) (*reconciler.ConfirmOutcome, error) {
			return rt.runner.Reject(cmd.Context(), reconciler.RejectRequest{
				TenantID:           tenant,
				NormalizedPayerKey: aliasPayer,
				AccountID:          aliasAccount,
				ActingUser:         aliasUser,
			})
		})
	},
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Apply review decisions to a saved batch",
	Long: `Review replays operator decisions against a batch saved with
'reconciler reconcile --save-batch'. The decisions file is YAML or JSON:

  decisions:
    - row: 3            # index into the batch results, from 0
      kind: confirm     # confirm or reject
      account_id: acct-200
      acting_user: ana

A confirm without account_id confirms the account the row matched.`,
	Example: `  reconciler review --tenant club-1 --batch batch.json --decisions decisions.yaml`,
	RunE:    runReview,
}

var aliasesCmd = &cobra.Command{
	Use:   "aliases",
	Short: "Inspect the alias store",
}

var aliasesExportCmd = &cobra.Command{
	Use:     "export",
	Short:   "Export every alias of a tenant",
	Example: `  reconciler aliases export --tenant club-1 --output-format csv --output-file aliases.csv`,
	RunE:    runAliasesExport,
}

func init() {
	for _, c := range []*cobra.Command{confirmCmd, reassignCmd, rejectCmd} {
		c.Flags().StringVarP(&aliasPayer, "payer", "p", "", "payer name or normalized payer key (required)")
		c.Flags().StringVarP(&aliasAccount, "account", "a", "", "account id (required)")
		c.Flags().StringVarP(&aliasUser, "user", "u", os.Getenv("USER"), "acting user recorded on the alias")
		c.Flags().BoolVar(&aliasJSON, "json", false, "print the outcome as JSON")
		c.MarkFlagRequired("payer")
		c.MarkFlagRequired("account")
		rootCmd.AddCommand(c)
	}
	reassignCmd.Flags().StringVar(&aliasFrom, "from", "", "account the alias points at now (required)")
	reassignCmd.MarkFlagRequired("from")

	reviewCmd.Flags().StringVarP(&reviewBatch, "batch", "b", "", "batch JSON written by --save-batch (required)")
	reviewCmd.Flags().StringVarP(&reviewFile, "decisions", "d", "", "decisions file, YAML or JSON (required)")
	reviewCmd.Flags().StringVarP(&reviewFormat, "output-format", "f", "console", "output format: console, json, csv")
	reviewCmd.MarkFlagRequired("batch")
	reviewCmd.MarkFlagRequired("decisions")
	rootCmd.AddCommand(reviewCmd)

	aliasesExportCmd.Flags().StringVarP(&aliasFormat, "output-format", "f", "console", "output format: console, json, csv")
	aliasesExportCmd.Flags().StringVarP(&aliasOutput, "output-file", "o", "", "output file path (default: stdout)")
	aliasesExportCmd.Flags().StringVar(&aliasAccountID, "account", "", "only aliases pointing at this account")
	aliasesCmd.AddCommand(aliasesExportCmd)
	rootCmd.AddCommand(aliasesCmd)
}

func runAliasDecision(cmd *cobra.Command, decide func(rt *runtime, tenant string) (*reconciler.ConfirmOutcome, error)) error {
	tenant, err := settings.RequireTenant()
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), "aliases", nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	out, err := decide(rt, tenant)
	if err != nil {
		return err
	}
	if aliasJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	printOutcome(cmd.OutOrStdout(), out)
	return nil
}

func printOutcome(w io.Writer, out *reconciler.ConfirmOutcome) {
	switch out.Outcome {
	case reconciler.OutcomeConflict:
		fmt.Fprintf(w, "CONFLICT: %s already points at %s; nothing was changed\n", out.NormalizedPayerKey, out.ExistingAccountID)
		fmt.Fprintf(w, "Use 'reconciler reassign --from %s' to move it.\n", out.ExistingAccountID)
	case reconciler.OutcomeNotFound:
		fmt.Fprintf(w, "NOT FOUND: no alias %s -> %s\n", out.NormalizedPayerKey, out.AccountID)
	default:
		fmt.Fprintf(w, "%s: %s -> %s\n", strings.ToUpper(string(out.Outcome)), out.NormalizedPayerKey, out.AccountID)
	}
}

// decisionsFile is the layout of the review decisions file.
type decisionsFile struct {
	Decisions []reconciler.Decision `yaml:"decisions"`
}

func loadDecisions(path string) ([]reconciler.Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	var f decisionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", err)
	}
	if len(f.Decisions) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "decisions", path, nil).
			WithSuggestion("List the decisions under a top-level 'decisions:' key")
	}
	return f.Decisions, nil
}

func runReview(cmd *cobra.Command, args []string) error {
	tenant, err := settings.RequireTenant()
	if err != nil {
		return err
	}
	batch, err := loadBatch(reviewBatch)
	if err != nil {
		return err
	}
	if batch.TenantID != tenant {
		return errors.ConfigurationError(errors.CodeConfigConflict, config.KeyTenant, tenant, nil).
			WithContext("batch_tenant", batch.TenantID).
			WithSuggestion("Review a batch under the tenant that produced it")
	}
	decisions, err := loadDecisions(reviewFile)
	if err != nil {
		return err
	}

	rt, err := openRuntime(cmd.Context(), "review", nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	report, err := rt.runner.ApplyDecisions(cmd.Context(), batch, decisions)
	if err != nil {
		return err
	}
	return renderReport(report, reviewFormat, "", cmd.OutOrStdout())
}

func runAliasesExport(cmd *cobra.Command, args []string) error {
	tenant, err := settings.RequireTenant()
	if err != nil {
		return err
	}
	rt, err := openRuntime(cmd.Context(), "aliases", nil)
	if err != nil {
		return err
	}
	defer rt.Close()

	aliases, err := rt.stores.Aliases.ListAliases(cmd.Context(), tenant)
	if err != nil {
		return errors.WrapIfNeeded(err, errors.CategoryProvider, errors.CodeStoreUnavailable, "list aliases")
	}
	if aliasAccountID != "" {
		kept := aliases[:0]
		for _, a := range aliases {
			if a.AccountID == aliasAccountID {
				kept = append(kept, a)
			}
		}
		aliases = kept
	}
	rt.log.WithTenant(tenant).WithField("aliases", len(aliases)).Debug("Exporting aliases")
	return renderReport(aliases, aliasFormat, aliasOutput, cmd.OutOrStdout())
}

// renderReport writes any reporter input in format to path, or to w when
// path is empty.
func renderReport(result interface{}, format, path string, w io.Writer) error {
	reportConfig, err := config.CreateReportConfig(format, true)
	if err != nil {
		return err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, logger.GetGlobalLogger())
	if err != nil {
		return err
	}
	out, closeOut, err := outputTarget(path, w)
	if err != nil {
		return err
	}
	defer closeOut()
	return generator.GenerateReportSafely(result, out)
}
