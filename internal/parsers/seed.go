package parsers

import (
	"context"
	"fmt"
	"os"

	"payer-reconciliation-service/internal/reconciler"
	"payer-reconciliation-service/pkg/errors"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML layout of a seed file:
//
//	tenant: club-1
//	acting_user: importer
//	pairs:
//	  - client: Rojas Maria Eugenia
//	    payer: MEU ROJAS TRANSFER
type SeedFile struct {
	Tenant     string                `yaml:"tenant"`
	ActingUser string                `yaml:"acting_user"`
	Pairs      []reconciler.SeedPair `yaml:"pairs"`
}

// SeedParser reads client/payer pairs from YAML, CSV or XLSX files.
type SeedParser struct {
	*BaseParser
}

// NewSeedParser creates a SeedParser. A nil config means DefaultParseConfig.
func NewSeedParser(config *ParseConfig) *SeedParser {
	return &SeedParser{BaseParser: NewBaseParser(config)}
}

// ParseSeed reads a seed file. Tabular files have a client and a payer
// column and carry no tenant, so the returned SeedFile has Tenant unset.
func (sp *SeedParser) ParseSeed(ctx context.Context, path string) (*SeedFile, *ParseStats, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, nil, err
	}
	if format == FormatYAML {
		return sp.parseYAML(path)
	}

	src, err := sp.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()

	pc := NewParseContext(ctx, path)
	seed := &SeedFile{}
	columns := []Column{
		column(ColumnClient, "", nil, true),
		column(ColumnPayer, "", nil, true),
	}
	stats, err := sp.readAll(src, pc, columns, func(record []string) *ParseError {
		pair := reconciler.SeedPair{
			ClientFullName: sp.FieldValue(record, pc, ColumnClient),
			PayerText:      sp.FieldValue(record, pc, ColumnPayer),
		}
		if perr := checkPair(pair, pc.LineNumber); perr != nil {
			return perr
		}
		seed.Pairs = append(seed.Pairs, pair)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return seed, stats, nil
}

func (sp *SeedParser) parseYAML(path string) (*SeedFile, *ParseStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fileError(path, err)
	}

	var raw SeedFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "", "", err).
			WithSuggestion("Check the YAML syntax: a 'pairs' list of client/payer entries")
	}

	stats := NewParseStats()
	seed := &SeedFile{Tenant: raw.Tenant, ActingUser: raw.ActingUser}
	for i, pair := range raw.Pairs {
		stats.RecordsParsed++
		if perr := checkPair(pair, i+1); perr != nil {
			stats.AddError(perr)
			continue
		}
		stats.RecordsValid++
		seed.Pairs = append(seed.Pairs, pair)
	}
	stats.TotalLines = len(raw.Pairs)
	return seed, stats, nil
}

func checkPair(pair reconciler.SeedPair, line int) *ParseError {
	switch {
	case pair.ClientFullName == "":
		return &ParseError{Line: line, Field: ColumnClient, Value: pair.PayerText, Message: "missing client name"}
	case pair.PayerText == "":
		return &ParseError{Line: line, Field: ColumnPayer, Value: pair.ClientFullName, Message: fmt.Sprintf("missing payer text for %q", pair.ClientFullName)}
	}
	return nil
}
