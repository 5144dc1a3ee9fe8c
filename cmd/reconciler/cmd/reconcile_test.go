package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payer-reconciliation-service/pkg/errors"
)

const testRoster = `id,surname,given_name
p1,Rojas,Maria Eugenia
p3,Lopez,Ariel
acct-100,Gonzalez,Mario
acct-200,Gonzalez,Mario
`

const testStatement = `payer,amount,reference,date
Rojas Maria Eugenia,100.50,CUOTA 03,2024-03-01
GONZALEZ MARIO,40,,2024-03-02
`

// resetFlags puts every flag of c and its subcommands back to its default,
// since cobra keeps flag values between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			def := strings.Trim(f.DefValue, "[]")
			var vals []string
			if def != "" {
				vals = strings.Split(def, ",")
			}
			sv.Replace(vals)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append([]string{"--log-level", "error", "--env-file", ""}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	validFile := writeFile(t, tmpDir, "valid.csv", "test")

	tests := []struct {
		name        string
		filePath    string
		expectError bool
	}{
		{"valid file", validFile, false},
		{"empty path", "", true},
		{"non-existent file", "/non/existent/file.csv", true},
		{"directory instead of file", tmpDir, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFileExists(tt.filePath, "test file")
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReconcileFlagValidation(t *testing.T) {
	dir := t.TempDir()
	statement := writeFile(t, dir, "statement.csv", testStatement)
	db := filepath.Join(dir, "aliases.db")

	tests := []struct {
		name string
		args []string
		code errors.ErrorCode
	}{
		{"missing tenant", []string{"reconcile", "-s", statement}, errors.CodeMissingConfig},
		{"missing statement", []string{"reconcile", "-t", "club-1", "-s", filepath.Join(dir, "nope.csv")}, errors.CodeFileNotFound},
		{"invalid output format", []string{"reconcile", "-t", "club-1", "-s", statement, "-f", "xml"}, errors.CodeInvalidConfig},
		{"invalid start date", []string{"reconcile", "-t", "club-1", "-s", statement, "--start-date", "01/03/2024"}, errors.CodeInvalidDate},
		{"start after end", []string{"reconcile", "-t", "club-1", "-s", statement, "--start-date", "2024-03-31", "--end-date", "2024-03-01"}, errors.CodeOutOfRange},
		{"missing output dir", []string{"reconcile", "-t", "club-1", "-s", statement, "-o", filepath.Join(dir, "missing", "out.csv")}, errors.CodeFileNotFound},
		{"unknown matching preset", []string{"reconcile", "-t", "club-1", "-s", statement, "--matching", "loose"}, errors.CodeInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, append(tt.args, "--store-dsn", db)...)
			require.Error(t, err)
			rerr, ok := errors.AsReconcilerError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.code, rerr.Code)
		})
	}
}

func TestReconcileWorkflow(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "aliases.db")
	roster := writeFile(t, dir, "roster.csv", testRoster)
	statement := writeFile(t, dir, "statement.csv", testStatement)
	batchFile := filepath.Join(dir, "batch.json")
	store := []string{"--tenant", "club-1", "--store", "sqlite", "--store-dsn", db}

	out, _, err := execute(t, append([]string{"roster", "import", "--file", roster}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 4 accounts for club-1")

	out, _, err = execute(t, append([]string{"reconcile", "-s", statement, "-f", "json", "--include-matched", "--save-batch", batchFile}, store...)...)
	require.NoError(t, err)

	var report struct {
		Summary struct {
			Matched int `json:"matched"`
			Review  int `json:"review"`
		} `json:"summary"`
		Results []struct {
			MatchedAccountID string `json:"matched_account_id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, 1, report.Summary.Matched)
	assert.Equal(t, 1, report.Summary.Review)
	require.Len(t, report.Results, 2)
	assert.Equal(t, "p1", report.Results[0].MatchedAccountID)
	assert.FileExists(t, batchFile)

	decisions := writeFile(t, dir, "decisions.yaml", `decisions:
  - row: 1
    kind: confirm
    account_id: acct-200
    acting_user: ana
`)
	out, _, err = execute(t, append([]string{"review", "--batch", batchFile, "--decisions", decisions}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "row 1 confirm GONZALEZ MARIO -> acct-200: COMMITTED")

	out, _, err = execute(t, append([]string{"aliases", "export", "-f", "csv"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "club-1,GONZALEZ MARIO,acct-200,ana")

	out, _, err = execute(t, append([]string{"confirm", "--payer", "gonzalez mario", "--account", "acct-100"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "CONFLICT: GONZALEZ MARIO already points at acct-200")

	out, _, err = execute(t, append([]string{"reconcile", "-s", statement, "-f", "csv"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "GONZALEZ MARIO")
	assert.Contains(t, out, "alias")

	out, _, err = execute(t, append([]string{"reject", "--payer", "GONZALEZ MARIO", "--account", "acct-200", "--json"}, store...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome": "removed"`)
}

func TestReconcileWithRosterFile(t *testing.T) {
	dir := t.TempDir()
	roster := writeFile(t, dir, "roster.csv", testRoster)
	statement := writeFile(t, dir, "export.csv", "Ordenante;Importe;Concepto;Fecha\nLOPEZ ARIEL;1.500,00;CUOTA;05/03/2024\n")

	out, _, err := execute(t, "reconcile", "-t", "club-9", "--store", "memory", "-s", statement, "-r", roster, "--include-matched")
	require.NoError(t, err)
	assert.Contains(t, out, "RECONCILIATION REPORT")
	assert.Contains(t, out, "-> p3 (exact")
}

func TestReviewRejectsOtherTenant(t *testing.T) {
	dir := t.TempDir()
	batch := writeFile(t, dir, "batch.json", `{"tenant_id":"club-1","results":[]}`)
	decisions := writeFile(t, dir, "decisions.yaml", "decisions:\n  - row: 0\n    kind: reject\n")

	_, _, err := execute(t, "review", "-t", "club-2", "--store", "memory", "--batch", batch, "--decisions", decisions)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	empty := writeFile(t, dir, "empty.yaml", "decisions: []\n")
	_, _, err = execute(t, "review", "-t", "club-1", "--store", "memory", "--batch", batch, "--decisions", empty)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestSeedCommand(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "aliases.db")
	roster := writeFile(t, dir, "roster.csv", testRoster)
	pairs := writeFile(t, dir, "pairs.yaml", `tenant: club-1
acting_user: importer
pairs:
  - client: Rojas Maria Eugenia
    payer: MEU ROJAS
  - client: Gonzalez Mario
    payer: MG
`)

	_, _, err := execute(t, "roster", "import", "-t", "club-1", "--store-dsn", db, "--file", roster)
	require.NoError(t, err)

	out, _, err := execute(t, "seed", "--store-dsn", db, "--file", pairs)
	require.NoError(t, err)
	assert.Contains(t, out, "Committed:  1")
	assert.Contains(t, out, "Unresolved: 1")

	_, _, err = execute(t, "seed", "-t", "club-2", "--store-dsn", db, "--file", pairs)
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeConfigConflict, rerr.Code)
}

func TestSeedTenant(t *testing.T) {
	tests := []struct {
		flag, file string
		want       string
		wantErr    bool
	}{
		{"club-1", "", "club-1", false},
		{"", "club-1", "club-1", false},
		{"club-1", "club-1", "club-1", false},
		{"club-1", "club-2", "", true},
		{"", " ", "", true},
	}
	for _, tt := range tests {
		got, err := seedTenant(tt.flag, tt.file)
		if tt.wantErr {
			assert.Error(t, err, "%q/%q", tt.flag, tt.file)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestRosterImportNeedsSQLite(t *testing.T) {
	dir := t.TempDir()
	roster := writeFile(t, dir, "roster.csv", testRoster)

	_, _, err := execute(t, "roster", "import", "-t", "club-1", "--store", "memory", "--file", roster)
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Equal(t, errors.CodeConfigConflict, rerr.Code)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	roster := writeFile(t, dir, "roster.csv", testRoster)
	statement := writeFile(t, dir, "statement.csv", testStatement)
	cfg := writeFile(t, dir, "reconciler.yaml", `tenant: club-1
store: memory
reconcile:
  output-format: csv
`)

	out, _, err := execute(t, "--config", cfg, "reconcile", "-s", statement, "-r", roster)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Row,Payer,Payer_Key"), out)

	_, _, err = execute(t, "--config", filepath.Join(dir, "missing.yaml"), "reconcile", "-s", statement)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}
