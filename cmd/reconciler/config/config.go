package config

import (
	"fmt"
	"strings"
	"time"

	"payer-reconciliation-service/internal/api"
	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/internal/reporter"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// Keys shared by flags, the RECONCILER_ environment and the config file.
const (
	KeyVerbose        = "verbose"
	KeyTenant         = "tenant"
	KeyStore          = "store"
	KeyStoreDSN       = "store-dsn"
	KeyRedisAddr      = "redis-addr"
	KeyRedisPassword  = "redis-password"
	KeyRedisDB        = "redis-db"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
	KeyConcurrency    = "concurrency"
	KeyMatching       = "matching"
	KeyFuzzyStrategy  = "fuzzy-strategy"
	KeyAutoLearn      = "auto-learn"
	KeyListenAddr     = "listen-addr"
	KeyAllowedOrigins = "allowed-origins"
)

// DefaultSQLitePath is where the sqlite backend keeps aliases when
// --store-dsn is not set.
const DefaultSQLitePath = "reconciler.db"

// Settings is the resolved configuration shared by every command.
type Settings struct {
	Tenant     string
	Logger     *logger.Config
	Store      storage.Config
	Matching   *matcher.MatchingConfig
	Reconciler *reconciler.Config
	Server     *api.Config
}

// SetDefaults registers the defaults of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyStore, storage.BackendSQLite)
	v.SetDefault(KeyStoreDSN, DefaultSQLitePath)
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
	v.SetDefault(KeyConcurrency, reconciler.DefaultConfig().MaxConcurrency)
	v.SetDefault(KeyMatching, "default")
	v.SetDefault(KeyFuzzyStrategy, string(matcher.FuzzyTokenSet))
	v.SetDefault(KeyAutoLearn, false)
	v.SetDefault(KeyListenAddr, api.DefaultConfig().ListenAddr)
	v.SetDefault(KeyAllowedOrigins, []string{"*"})
}

// Load resolves Settings from v.
func Load(v *viper.Viper) (*Settings, error) {
	logCfg, err := CreateLoggerConfig(v.GetString(KeyLogLevel), v.GetString(KeyLogFormat), v.GetBool(KeyVerbose))
	if err != nil {
		return nil, err
	}
	matching, err := CreateMatchingConfig(v.GetString(KeyMatching), v.GetString(KeyFuzzyStrategy))
	if err != nil {
		return nil, err
	}
	rec, err := CreateReconcilerConfig(v.GetInt(KeyConcurrency), v.GetBool(KeyAutoLearn))
	if err != nil {
		return nil, err
	}
	server, err := CreateServerConfig(v.GetString(KeyListenAddr), v.GetStringSlice(KeyAllowedOrigins))
	if err != nil {
		return nil, err
	}

	return &Settings{
		Tenant:     strings.TrimSpace(v.GetString(KeyTenant)),
		Logger:     logCfg,
		Store:      CreateStoreConfig(v),
		Matching:   matching,
		Reconciler: rec,
		Server:     server,
	}, nil
}

// RequireTenant returns the tenant or a configuration error naming the flag.
func (s *Settings) RequireTenant() (string, error) {
	if s.Tenant == "" {
		return "", errors.ConfigurationError(errors.CodeMissingConfig, KeyTenant, "", nil).
			WithSuggestion("pass --tenant or set RECONCILER_TENANT")
	}
	return s.Tenant, nil
}

// CreateLoggerConfig builds the CLI logger configuration. Logs go to stderr
// so reports on stdout stay clean; verbose forces debug level and caller info.
func CreateLoggerConfig(level, format string, verbose bool) (*logger.Config, error) {
	cfg := logger.DefaultConfig()
	if verbose {
		cfg = logger.DebugConfig()
		level = string(logger.DebugLevel)
	}
	parsed, err := logger.ParseLevel(level)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyLogLevel, level, err)
	}
	cfg.Level = parsed
	cfg.Format = logger.Format(strings.ToLower(strings.TrimSpace(format)))
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyLogFormat, format, err).
			WithSuggestion("use json or text")
	}
	return cfg, nil
}

// CreateMatchingConfig picks a matching preset and applies the fuzzy
// strategy override.
func CreateMatchingConfig(preset, strategy string) (*matcher.MatchingConfig, error) {
	var cfg *matcher.MatchingConfig
	switch strings.ToLower(strings.TrimSpace(preset)) {
	case "", "default":
		cfg = matcher.DefaultMatchingConfig()
	case "strict":
		cfg = matcher.StrictMatchingConfig()
	case "relaxed":
		cfg = matcher.RelaxedMatchingConfig()
	default:
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyMatching, preset, nil).
			WithSuggestion("use one of: default, strict, relaxed")
	}

	s, err := matcher.ParseFuzzyStrategy(strings.TrimSpace(strategy))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyFuzzyStrategy, strategy, err)
	}
	cfg.FuzzyStrategy = s
	return cfg, nil
}

// CreateReconcilerConfig creates the batch runner configuration.
func CreateReconcilerConfig(concurrency int, autoLearn bool) (*reconciler.Config, error) {
	cfg := reconciler.DefaultConfig()
	cfg.MaxConcurrency = concurrency
	cfg.AutoLearnExact = autoLearn
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyConcurrency, concurrency, err)
	}
	return cfg, nil
}

// CreateStoreConfig reads the storage backend settings.
func CreateStoreConfig(v *viper.Viper) storage.Config {
	return storage.Config{
		Backend:       v.GetString(KeyStore),
		SQLitePath:    v.GetString(KeyStoreDSN),
		RedisAddr:     v.GetString(KeyRedisAddr),
		RedisPassword: v.GetString(KeyRedisPassword),
		RedisDB:       v.GetInt(KeyRedisDB),
	}
}

// CreateServerConfig creates the HTTP server configuration.
func CreateServerConfig(listenAddr string, origins []string) (*api.Config, error) {
	cfg := api.DefaultConfig()
	cfg.ListenAddr = strings.TrimSpace(listenAddr)
	if len(origins) > 0 {
		cfg.AllowedOrigins = origins
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateReportConfig creates a report configuration for the specified output format
func CreateReportConfig(format string, includeMatched bool) (*reporter.ReportConfig, error) {
	config := reporter.DefaultReportConfig()
	config.Format = reporter.OutputFormat(strings.ToLower(strings.TrimSpace(format)))
	config.IncludeMatched = includeMatched

	switch config.Format {
	case reporter.FormatCSV:
		// CSV exports feed spreadsheets; keep every row.
		config.IncludeMatched = true
	case reporter.FormatJSON:
		config.MaxCandidates = matcher.MaxReviewCandidates
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", format, err).
			WithSuggestion("Valid formats: console, json, csv")
	}
	return config, nil
}

// CreateStatementParserConfig returns the named layout, or the layout
// detected from the file's header when name is empty.
func CreateStatementParserConfig(name, path string) (*parsers.StatementParserConfig, error) {
	if strings.TrimSpace(name) == "" {
		return parsers.DetectStatementConfig(path), nil
	}
	cfg := parsers.GetStatementConfig(name)
	if cfg == nil {
		names := make([]string, 0, 3)
		for _, c := range parsers.ListStatementConfigs() {
			names = append(names, c.Name)
		}
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "layout", name, nil).
			WithSuggestion(fmt.Sprintf("use one of: %s", strings.Join(names, ", ")))
	}
	return cfg, nil
}

// CreatePreprocessingConfig builds the row filters of the reconcile command.
// Dates are YYYY-MM-DD; the end date covers its whole day.
func CreatePreprocessingConfig(startDate, endDate string, flagDuplicates bool) (*reconciler.PreprocessingConfig, error) {
	cfg := reconciler.DefaultPreprocessingConfig()
	cfg.FlagDuplicates = flagDuplicates

	if startDate != "" {
		t, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidDate, "start-date", startDate, err).
				WithSuggestion("Use YYYY-MM-DD")
		}
		cfg.StartDate = &t
	}
	if endDate != "" {
		t, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidDate, "end-date", endDate, err).
				WithSuggestion("Use YYYY-MM-DD")
		}
		t = t.Add(24*time.Hour - time.Nanosecond)
		cfg.EndDate = &t
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "start-date", startDate, err)
	}
	return cfg, nil
}
