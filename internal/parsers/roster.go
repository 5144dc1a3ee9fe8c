package parsers

import (
	"context"
	"fmt"
	"strings"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/pkg/errors"
)

// RosterParser reads a tenant roster export.
type RosterParser struct {
	*BaseParser
	config *RosterParserConfig
}

// NewRosterParser creates a RosterParser. A nil config means
// DefaultRosterParserConfig.
func NewRosterParser(config *RosterParserConfig) (*RosterParser, error) {
	if config == nil {
		config = DefaultRosterParserConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roster configuration: %w", err)
	}
	return &RosterParser{
		BaseParser: NewBaseParser(config.parseConfig()),
		config:     config,
	}, nil
}

// ParseRoster parses a CSV or XLSX roster. Entries keep file order, which is
// the order ties between equally scored accounts are broken in. A repeated
// id is reported and its later rows dropped.
func (rp *RosterParser) ParseRoster(ctx context.Context, path string) ([]*models.RosterEntry, *ParseStats, error) {
	src, err := rp.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()
	return rp.ParseFrom(ctx, src, path)
}

// ParseFrom parses roster entries from an already open source.
func (rp *RosterParser) ParseFrom(ctx context.Context, src RecordSource, name string) ([]*models.RosterEntry, *ParseStats, error) {
	pc := NewParseContext(ctx, name)
	var entries []*models.RosterEntry
	seen := make(map[string]int)

	stats, err := rp.readAll(src, pc, rp.config.columns(), func(record []string) *ParseError {
		entry, perr := rp.parseEntry(record, pc)
		if perr != nil {
			return perr
		}
		if first, dup := seen[entry.ID]; dup {
			return &ParseError{
				Line:    pc.LineNumber,
				Field:   ColumnID,
				Value:   entry.ID,
				Message: fmt.Sprintf("duplicate id, first seen at line %d", first),
			}
		}
		seen[entry.ID] = pc.LineNumber
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	if !pc.HasColumn(ColumnFullName) && !(pc.HasColumn(ColumnSurname) || pc.HasColumn(ColumnGivenName)) {
		return nil, stats, errors.ParseError(errors.CodeMissingColumn, name, 1, "surname, given_name or full_name", "", nil).
			WithSuggestion("Add surname and given_name columns, or a single full_name column")
	}
	return entries, stats, nil
}

func (rp *RosterParser) parseEntry(record []string, pc *ParseContext) (*models.RosterEntry, *ParseError) {
	id := rp.FieldValue(record, pc, ColumnID)
	if id == "" {
		return nil, &ParseError{Line: pc.LineNumber, Field: ColumnID, Message: "missing id"}
	}

	var alternates []string
	for _, alt := range strings.Split(rp.FieldValue(record, pc, ColumnAlternates), rp.config.AlternateSeparator) {
		if alt = strings.TrimSpace(alt); alt != "" {
			alternates = append(alternates, alt)
		}
	}

	surname := rp.FieldValue(record, pc, ColumnSurname)
	given := rp.FieldValue(record, pc, ColumnGivenName)
	if surname == "" && given == "" {
		full := rp.FieldValue(record, pc, ColumnFullName)
		if surname, given = splitFullName(full); surname == "" {
			return nil, &ParseError{Line: pc.LineNumber, Field: ColumnFullName, Value: full, Message: "missing name"}
		}
	}

	entry := models.NewRosterEntry(id, surname, given, alternates...)
	if err := entry.Validate(); err != nil {
		return nil, &ParseError{Line: pc.LineNumber, Field: ColumnID, Value: id, Message: "invalid roster entry", Err: err}
	}
	return entry, nil
}

// splitFullName reads "Surname, Given" or "Surname Given Names": the first
// word is taken as the surname when there is no comma.
func splitFullName(full string) (surname, given string) {
	full = strings.TrimSpace(full)
	if i := strings.Index(full, ","); i >= 0 {
		return strings.TrimSpace(full[:i]), strings.TrimSpace(full[i+1:])
	}
	words := strings.Fields(full)
	if len(words) == 0 {
		return "", ""
	}
	return words[0], strings.Join(words[1:], " ")
}
