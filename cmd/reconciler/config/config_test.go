package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payer-reconciliation-service/internal/matcher"
	"payer-reconciliation-service/internal/parsers"
	"payer-reconciliation-service/internal/reporter"
	"payer-reconciliation-service/internal/storage"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, storage.BackendSQLite, s.Store.Backend)
	assert.Equal(t, DefaultSQLitePath, s.Store.SQLitePath)
	assert.Equal(t, logger.InfoLevel, s.Logger.Level)
	assert.Equal(t, logger.TextFormat, s.Logger.Format)
	assert.Equal(t, matcher.FuzzyTokenSet, s.Matching.FuzzyStrategy)
	assert.Equal(t, matcher.TokenSetMatchThreshold, s.Matching.TokenSetMatchThreshold)
	assert.Equal(t, 8, s.Reconciler.MaxConcurrency)
	assert.False(t, s.Reconciler.AutoLearnExact)
	assert.Equal(t, ":8080", s.Server.ListenAddr)
	assert.Equal(t, []string{"*"}, s.Server.AllowedOrigins)

	_, err = s.RequireTenant()
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set(KeyTenant, " club-1 ")
	v.Set(KeyStore, storage.BackendRedis)
	v.Set(KeyRedisAddr, "localhost:6379")
	v.Set(KeyRedisDB, 2)
	v.Set(KeyVerbose, true)
	v.Set(KeyLogFormat, "JSON")
	v.Set(KeyConcurrency, 2)
	v.Set(KeyMatching, "strict")
	v.Set(KeyFuzzyStrategy, "label_similarity")
	v.Set(KeyAutoLearn, true)
	v.Set(KeyListenAddr, "127.0.0.1:9000")
	v.Set(KeyAllowedOrigins, []string{"https://club.example"})

	s, err := Load(v)
	require.NoError(t, err)

	tenant, err := s.RequireTenant()
	require.NoError(t, err)
	assert.Equal(t, "club-1", tenant)
	assert.Equal(t, storage.Config{Backend: "redis", SQLitePath: DefaultSQLitePath, RedisAddr: "localhost:6379", RedisDB: 2}, s.Store)
	assert.Equal(t, logger.DebugLevel, s.Logger.Level)
	assert.Equal(t, logger.JSONFormat, s.Logger.Format)
	assert.Equal(t, matcher.FuzzyLabelSimilarity, s.Matching.FuzzyStrategy)
	assert.Equal(t, matcher.StrictMatchingConfig().TokenSetMatchThreshold, s.Matching.TokenSetMatchThreshold)
	assert.Equal(t, 2, s.Reconciler.MaxConcurrency)
	assert.True(t, s.Reconciler.AutoLearnExact)
	assert.Equal(t, "127.0.0.1:9000", s.Server.ListenAddr)
	assert.Equal(t, []string{"https://club.example"}, s.Server.AllowedOrigins)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
	}{
		{"log level", KeyLogLevel, "loud"},
		{"log format", KeyLogFormat, "xml"},
		{"matching preset", KeyMatching, "loose"},
		{"fuzzy strategy", KeyFuzzyStrategy, "soundex"},
		{"concurrency", KeyConcurrency, 0},
		{"listen address", KeyListenAddr, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			SetDefaults(v)
			v.Set(tt.key, tt.value)

			_, err := Load(v)
			require.Error(t, err)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), "got %v", err)
		})
	}
}

func TestCreateMatchingConfig(t *testing.T) {
	tests := []struct {
		preset    string
		threshold int
	}{
		{"", matcher.DefaultMatchingConfig().TokenSetMatchThreshold},
		{"default", matcher.DefaultMatchingConfig().TokenSetMatchThreshold},
		{"Strict", matcher.StrictMatchingConfig().TokenSetMatchThreshold},
		{"relaxed", matcher.RelaxedMatchingConfig().TokenSetMatchThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.preset, func(t *testing.T) {
			cfg, err := CreateMatchingConfig(tt.preset, "")
			require.NoError(t, err)
			assert.Equal(t, tt.threshold, cfg.TokenSetMatchThreshold)
			assert.Equal(t, matcher.FuzzyTokenSet, cfg.FuzzyStrategy)
			assert.NoError(t, cfg.Validate())
		})
	}
}

func TestCreateReportConfig(t *testing.T) {
	tests := []struct {
		format         string
		includeMatched bool
		expectedType   reporter.OutputFormat
		wantMatched    bool
	}{
		{"console", false, reporter.FormatConsole, false},
		{"console", true, reporter.FormatConsole, true},
		{"JSON", false, reporter.FormatJSON, false},
		{"csv", false, reporter.FormatCSV, true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			cfg, err := CreateReportConfig(tt.format, tt.includeMatched)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedType, cfg.Format)
			assert.Equal(t, tt.wantMatched, cfg.IncludeMatched)
		})
	}

	_, err := CreateReportConfig("xml", false)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestCreateStatementParserConfig(t *testing.T) {
	cfg, err := CreateStatementParserConfig("Bank-Export", "ignored.csv")
	require.NoError(t, err)
	assert.Equal(t, parsers.BankExportConfig, cfg)

	cfg, err = CreateStatementParserConfig("", "statement.xlsx")
	require.NoError(t, err)
	assert.Equal(t, parsers.StandardStatementConfig, cfg)

	_, err = CreateStatementParserConfig("swift", "x.csv")
	require.Error(t, err)
	rerr, ok := errors.AsReconcilerError(err)
	require.True(t, ok)
	assert.Contains(t, rerr.Suggestion, "bank-export")
}

func TestCreatePreprocessingConfig(t *testing.T) {
	cfg, err := CreatePreprocessingConfig("2024-03-01", "2024-03-31", false)
	require.NoError(t, err)
	require.NotNil(t, cfg.StartDate)
	require.NotNil(t, cfg.EndDate)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), *cfg.StartDate)
	assert.True(t, cfg.EndDate.After(time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC)))
	assert.True(t, cfg.EndDate.Before(time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, cfg.FlagDuplicates)
	assert.True(t, cfg.DropBlankRows)

	cfg, err = CreatePreprocessingConfig("", "", true)
	require.NoError(t, err)
	assert.Nil(t, cfg.StartDate)
	assert.Nil(t, cfg.EndDate)

	_, err = CreatePreprocessingConfig("03/01/2024", "", true)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	_, err = CreatePreprocessingConfig("2024-04-01", "2024-03-01", true)
	require.Error(t, err)
	rerr, _ := errors.AsReconcilerError(err)
	assert.Equal(t, errors.CodeOutOfRange, rerr.Code)
}
