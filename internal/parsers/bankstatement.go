package parsers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"payer-reconciliation-service/internal/models"
	"payer-reconciliation-service/pkg/logger"
)

// StatementParser reads bank and card statements into reconciliation rows.
type StatementParser struct {
	*BaseParser
	config *StatementParserConfig
}

// NewStatementParser creates a StatementParser. A nil config means
// StandardStatementConfig.
func NewStatementParser(config *StatementParserConfig) (*StatementParser, error) {
	if config == nil {
		config = StandardStatementConfig
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid statement configuration: %w", err)
	}
	return &StatementParser{
		BaseParser: NewBaseParser(config.parseConfig()),
		config:     config,
	}, nil
}

// ParseStatements parses a CSV or XLSX statement. Rows whose amount or date
// cannot be read are left out and reported in the stats; RowNumber is the
// line (or spreadsheet row) the row came from.
func (sp *StatementParser) ParseStatements(ctx context.Context, path string) ([]models.ReconciliationRow, *ParseStats, error) {
	src, err := sp.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer src.Close()
	return sp.ParseFrom(ctx, src, path)
}

// ParseFrom parses statement rows from an already open source.
func (sp *StatementParser) ParseFrom(ctx context.Context, src RecordSource, name string) ([]models.ReconciliationRow, *ParseStats, error) {
	pc := NewParseContext(ctx, name)
	var rows []models.ReconciliationRow

	stats, err := sp.readAll(src, pc, sp.config.columns(), func(record []string) *ParseError {
		row, perr := sp.parseRow(record, pc)
		if perr != nil {
			return perr
		}
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}

	if stats.HasErrors() {
		sp.logger.WithFields(logger.Fields{
			"file":   name,
			"errors": stats.ErrorCount,
			"sample": stats.GetSampleErrors(3),
		}).Warn("Some statement rows could not be parsed")
	}
	return rows, stats, nil
}

func (sp *StatementParser) parseRow(record []string, pc *ParseContext) (models.ReconciliationRow, *ParseError) {
	row := models.ReconciliationRow{
		RowNumber: pc.LineNumber,
		PayerRaw:  sp.FieldValue(record, pc, ColumnPayer),
		Reference: sp.FieldValue(record, pc, ColumnReference),
	}

	amountStr := sp.FieldValue(record, pc, ColumnAmount)
	amount, err := models.ParseAmount(amountStr)
	if err != nil {
		return row, &ParseError{
			Line:    pc.LineNumber,
			Field:   ColumnAmount,
			Value:   amountStr,
			Message: "invalid amount",
			Err:     err,
		}
	}
	row.Amount = amount

	dateStr := sp.FieldValue(record, pc, ColumnDate)
	date, err := sp.parseDate(dateStr)
	if err != nil {
		return row, &ParseError{
			Line:    pc.LineNumber,
			Field:   ColumnDate,
			Value:   dateStr,
			Message: "invalid date",
			Err:     err,
		}
	}
	row.Date = date
	return row, nil
}

func (sp *StatementParser) parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || sp.config.DateFormat == "" {
		return models.ParseDate(s)
	}
	if t, err := time.Parse(sp.config.DateFormat, s); err == nil {
		return t, nil
	}
	return models.ParseDate(s)
}
