package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"payer-reconciliation-service/cmd/reconciler/config"
	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	envFile   string
	settings  *config.Settings
	configErr error
	version   = "dev"
	commit    = "unknown"
	date      = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Payer-to-account reconciliation tool",
	Long: `Reconciler decides which roster account each payment on a bank or card
statement belongs to. Confirmed payer names are remembered per tenant as
aliases, so the next statement matches them straight away; ambiguous and
conflicting rows are left for a person to review.

Examples:
  reconciler roster import --tenant club-1 --file roster.csv
  reconciler reconcile --tenant club-1 --statement export.csv
  reconciler confirm --tenant club-1 --payer "MEU ROJAS TRANSFER" --account p1
  reconciler seed --tenant club-1 --file pairs.yaml
  reconciler serve --store sqlite --store-dsn /var/lib/reconciler.db`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	return NewCLIErrorHandler(os.Stderr).HandleError(err)
}

func init() {
	cobra.OnInitialize(initConfig)
	config.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (optional, YAML)")
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	flags.BoolP(config.KeyVerbose, "v", false, "verbose output")
	flags.StringP(config.KeyTenant, "t", "", "tenant the command acts on")
	flags.String(config.KeyStore, storage.BackendSQLite, "alias store backend: memory, sqlite, redis")
	flags.String(config.KeyStoreDSN, config.DefaultSQLitePath, "SQLite database path")
	flags.String(config.KeyRedisAddr, "", "Redis address for the redis backend")
	flags.String(config.KeyRedisPassword, "", "Redis password")
	flags.Int(config.KeyRedisDB, 0, "Redis database number")
	flags.String(config.KeyLogLevel, string(logger.InfoLevel), "log level: debug, info, warn, error")
	flags.String(config.KeyLogFormat, string(logger.TextFormat), "log format: text, json")
	flags.Int(config.KeyConcurrency, reconciler.DefaultConfig().MaxConcurrency, "rows resolved concurrently")
	flags.String(config.KeyMatching, "default", "matching preset: default, strict, relaxed")
	flags.String(config.KeyFuzzyStrategy, string(matcher.FuzzyTokenSet), "fuzzy pipeline: token_set, label_similarity")
	flags.Bool(config.KeyAutoLearn, false, "store exact matches as aliases")

	for _, key := range []string{
		config.KeyVerbose, config.KeyTenant, config.KeyStore, config.KeyStoreDSN,
		config.KeyRedisAddr, config.KeyRedisPassword, config.KeyRedisDB,
		config.KeyLogLevel, config.KeyLogFormat, config.KeyConcurrency,
		config.KeyMatching, config.KeyFuzzyStrategy, config.KeyAutoLearn,
	} {
		viper.BindPFlag(key, flags.Lookup(key))
	}
}

// initConfig reads in the dotenv file, the config file and ENV variables.
func initConfig() {
	configErr = nil

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			configErr = errors.ConfigurationError(errors.CodeInvalidConfig, "env-file", envFile, err)
			return
		}
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			configErr = errors.ConfigurationError(errors.CodeInvalidConfig, "config", cfgFile, err).
				WithSuggestion("Check the config file path and YAML syntax")
			return
		}
	}

	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// setup resolves the settings and installs the global logger before any
// command runs.
func setup(cmd *cobra.Command, args []string) error {
	if configErr != nil {
		return configErr
	}

	s, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	log, err := logger.NewLogger(s.Logger)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyLogLevel, s.Logger.Level, err)
	}
	logger.SetGlobalLogger(log)
	settings = s

	if cfgFile != "" {
		log.WithField("config_file", viper.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

// runtime holds what a command needs to talk to the alias store.
type runtime struct {
	stores *storage.Stores
	runner *reconciler.Runner
	log    logger.Logger
}

// openRuntime opens the configured store and builds a runner on it. A
// non-nil rosters replaces the store's roster source for this run.
func openRuntime(ctx context.Context, component string, rosters storage.RosterProvider) (*runtime, error) {
	log := logger.GetGlobalLogger().WithComponent(component)

	stores, err := storage.Open(ctx, settings.Store, log)
	if err != nil {
		return nil, err
	}
	if rosters == nil {
		rosters = stores.Rosters
	}

	m, err := matcher.NewMatcher(settings.Matching, log)
	if err != nil {
		stores.Close()
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, config.KeyMatching, settings.Matching.String(), err)
	}
	runner, err := reconciler.NewRunner(m, stores.Aliases, rosters, settings.Reconciler, log)
	if err != nil {
		stores.Close()
		return nil, err
	}

	log.WithFields(logger.Fields{
		"store":          settings.Store.Backend,
		"fuzzy_strategy": settings.Matching.FuzzyStrategy,
		"concurrency":    settings.Reconciler.MaxConcurrency,
	}).Debug("Runtime ready")
	return &runtime{stores: stores, runner: runner, log: log}, nil
}

func (rt *runtime) Close() {
	if err := rt.stores.Close(); err != nil {
		rt.log.WithError(err).Warn("Closing store failed")
	}
}

// outputTarget opens path for writing, or returns w when path is empty.
func outputTarget(path string, w io.Writer) (io.Writer, func(), error) {
	if path == "" {
		return w, func() {}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return f, func() { f.Close() }, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
