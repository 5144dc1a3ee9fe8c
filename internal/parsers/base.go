// Package parsers reads statement, roster and seed files into the types the
// reconciler works with.
//
// Files may be CSV or XLSX spreadsheets (first sheet unless configured).
// Column headers are matched case-insensitively and without accents, and each
// logical column accepts several header spellings, so "Pagador", "payer" and
// "Nombre" all feed the payer column of a statement.
//
// Example usage:
//
//	parser, err := parsers.NewStatementParser(nil)
//	rows, stats, err := parser.ParseStatements(ctx, "extracto.xlsx")
//	if stats.HasErrors() {
//		log.Warn(stats.GetSampleErrors(5))
//	}
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"payer-reconciliation-service/internal/normalize"
	"payer-reconciliation-service/pkg/errors"
	"payer-reconciliation-service/pkg/logger"
)

// ParseError represents an error that occurred while parsing one record
type ParseError struct {
	Line    int
	Field   string
	Value   string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error at line %d (%s='%s'): %s: %v",
			e.Line, e.Field, e.Value, e.Message, e.Err)
	}
	return fmt.Sprintf("parse error at line %d (%s='%s'): %s",
		e.Line, e.Field, e.Value, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Format is the container format of an input file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatYAML Format = "yaml"
)

// DetectFormat maps a file extension to a Format.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return "", errors.FileError(errors.CodeUnsupportedFile, path, nil)
}

// ParseConfig holds configuration for record parsing
type ParseConfig struct {
	HasHeader        bool
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
	// Sheet selects the worksheet of spreadsheet inputs. Empty means the
	// first sheet.
	Sheet string
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
	}
}

// Column is a logical column and the header spellings it accepts.
type Column struct {
	Name     string
	Aliases  []string
	Required bool
}

// RecordSource yields raw records one at a time. Next returns io.EOF after
// the last record.
type RecordSource interface {
	Next() ([]string, error)
	Close() error
}

// BaseParser provides the record reading shared by every parser
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("parser")
	log.WithFields(logger.Fields{
		"has_header":        config.HasHeader,
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"sheet":             config.Sheet,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	Source     string
	LineNumber int
	Headers    []string
	// columns maps a logical column name to its index in the record.
	columns map[string]int
	ctx     context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, source string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		Source:  source,
		columns: make(map[string]int),
		ctx:     ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// HasColumn reports whether the logical column was found in the headers.
func (pc *ParseContext) HasColumn(name string) bool {
	_, ok := pc.columns[name]
	return ok
}

// Open opens path as a record source, picking CSV or XLSX from its extension.
func (bp *BaseParser) Open(path string) (RecordSource, error) {
	bp.logger.WithField("file_path", path).Debug("Opening input file")

	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatXLSX:
		return openXLSX(path, bp.config.Sheet)
	case FormatCSV:
		file, err := os.Open(path)
		if err != nil {
			return nil, fileError(path, err)
		}
		if bp.config.ValidateEncoding {
			if err := bp.validateEncoding(file, path); err != nil {
				file.Close()
				return nil, err
			}
			if _, err := file.Seek(0, io.SeekStart); err != nil {
				file.Close()
				return nil, errors.FileError(errors.CodeFilePermission, path, err)
			}
		}
		return &csvSource{reader: bp.newCSVReader(file), closer: file}, nil
	}
	return nil, errors.FileError(errors.CodeUnsupportedFile, path, nil)
}

// NewCSVSource reads CSV records from r, for stdin or request bodies.
func (bp *BaseParser) NewCSVSource(r io.Reader) RecordSource {
	return &csvSource{reader: bp.newCSVReader(r)}
}

func fileError(path string, err error) error {
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, path, err)
	}
	if os.IsPermission(err) {
		return errors.FileError(errors.CodeFilePermission, path, err)
	}
	return errors.FileError(errors.CodeUnsupportedFile, path, err)
}

func (bp *BaseParser) newCSVReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

type csvSource struct {
	reader *csv.Reader
	closer io.Closer
}

func (s *csvSource) Next() ([]string, error) {
	return s.reader.Read()
}

func (s *csvSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// validateEncoding checks if the file contains valid UTF-8 text
func (bp *BaseParser) validateEncoding(file *os.File, path string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() && lineNum < 100 {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				path,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			).WithSuggestion("Save the file in UTF-8 encoding and try again")
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.ParseError(errors.CodeInvalidFormat, path, lineNum, "", "", err)
	}
	return nil
}

// ReadHeaders reads the header row and resolves each logical column to an
// index. Without a header row, columns are taken in the given order.
func (bp *BaseParser) ReadHeaders(src RecordSource, pc *ParseContext, columns []Column) error {
	if !bp.config.HasHeader {
		for i, c := range columns {
			pc.columns[c.Name] = i
			pc.Headers = append(pc.Headers, c.Name)
		}
		return nil
	}

	headers, err := src.Next()
	if err != nil {
		if err == io.EOF {
			return errors.ValidationError(errors.CodeMissingField, "file_content", "empty", nil).
				WithSuggestion("Ensure the file contains header and data rows").
				WithContext("file", pc.Source)
		}
		return errors.ParseError(errors.CodeInvalidFormat, pc.Source, 1, "headers", "", err).
			WithSuggestion("Check the file format and ensure it's a valid CSV or XLSX file")
	}
	pc.LineNumber++
	pc.Headers = cleanHeaders(headers)

	byKey := make(map[string]int, len(pc.Headers))
	for i, h := range pc.Headers {
		key := headerKey(h)
		if _, dup := byKey[key]; !dup {
			byKey[key] = i
		}
	}

	var missing []string
	for _, c := range columns {
		idx, ok := lookupColumn(byKey, c)
		if ok {
			pc.columns[c.Name] = idx
			continue
		}
		if c.Required {
			missing = append(missing, c.Name)
		}
	}

	bp.logger.WithFields(logger.Fields{
		"file":    pc.Source,
		"headers": pc.Headers,
	}).Debug("Read headers")

	if len(missing) > 0 {
		return errors.ParseError(
			errors.CodeMissingColumn,
			pc.Source,
			pc.LineNumber,
			strings.Join(missing, ", "),
			"",
			nil,
		).WithSuggestion(fmt.Sprintf("Add a header for: %s (found: %s)", strings.Join(missing, ", "), strings.Join(pc.Headers, ", ")))
	}
	return nil
}

func lookupColumn(byKey map[string]int, c Column) (int, bool) {
	if idx, ok := byKey[headerKey(c.Name)]; ok {
		return idx, true
	}
	for _, alias := range c.Aliases {
		if idx, ok := byKey[headerKey(alias)]; ok {
			return idx, true
		}
	}
	return 0, false
}

// headerKey folds a header so "Fecha de Pago", "fecha_de_pago" and
// "FECHA-DE-PAGO" compare equal.
func headerKey(h string) string {
	return normalize.Normalize(h)
}

func cleanHeaders(headers []string) []string {
	cleaned := make([]string, len(headers))
	for i, h := range headers {
		// Strip a UTF-8 byte order mark left by spreadsheet exports.
		cleaned[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}
	return cleaned
}

// ReadRecord returns the next non-empty record.
func (bp *BaseParser) ReadRecord(src RecordSource, pc *ParseContext) ([]string, error) {
	for {
		if pc.IsCancelled() {
			return nil, errors.ReconciliationError(errors.CodeBatchCancelled, "parsing", pc.ctx.Err())
		}

		record, err := src.Next()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			pc.LineNumber++
			return nil, err
		}
		pc.LineNumber++

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(
						errors.CodeInvalidData,
						pc.Source,
						pc.LineNumber,
						fmt.Sprintf("field_%d", i),
						field[:50]+"...",
						fmt.Errorf("field size limit exceeded"),
					).WithSuggestion(fmt.Sprintf("Reduce field size to under %d bytes", bp.config.MaxFieldSize))
				}
			}
		}
		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// FieldValue returns the trimmed value of a logical column. Absent columns
// and cells past the end of a short record read as empty: spreadsheets drop
// trailing blank cells.
func (bp *BaseParser) FieldValue(record []string, pc *ParseContext, column string) string {
	idx, ok := pc.columns[column]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
	Errors        []*ParseError
}

// NewParseStats creates a new ParseStats instance
func NewParseStats() *ParseStats {
	return &ParseStats{
		Errors: make([]*ParseError, 0),
	}
}

// AddError adds an error to the parsing statistics
func (ps *ParseStats) AddError(err *ParseError) {
	ps.Errors = append(ps.Errors, err)
	ps.ErrorCount++
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.ErrorCount > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// GetSampleErrors returns a sample of the parsing errors for logging/debugging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}

	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}

	samples := make([]string, 0, limit)
	for i := 0; i < limit; i++ {
		samples = append(samples, ps.Errors[i].Error())
	}
	return samples
}

// readAll drives src through the header and record steps and hands every
// record to fn. Record-level failures are collected in stats; read failures
// that leave the source unusable are returned.
func (bp *BaseParser) readAll(src RecordSource, pc *ParseContext, columns []Column, fn func(record []string) *ParseError) (*ParseStats, error) {
	stats := NewParseStats()
	if err := bp.ReadHeaders(src, pc, columns); err != nil {
		return stats, err
	}

	for {
		record, err := bp.ReadRecord(src, pc)
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if stderrors.As(err, &csvErr) {
				stats.AddError(&ParseError{Line: pc.LineNumber, Message: "failed to read record", Err: err})
				continue
			}
			stats.TotalLines = pc.LineNumber
			if _, ok := errors.AsReconcilerError(err); ok {
				return stats, err
			}
			return stats, errors.ParseError(errors.CodeInvalidFormat, pc.Source, pc.LineNumber, "", "", err)
		}

		stats.RecordsParsed++
		if perr := fn(record); perr != nil {
			stats.AddError(perr)
			continue
		}
		stats.RecordsValid++
	}

	stats.TotalLines = pc.LineNumber
	bp.logger.WithFields(logger.Fields{
		"file":    pc.Source,
		"records": stats.RecordsParsed,
		"valid":   stats.RecordsValid,
		"errors":  stats.ErrorCount,
	}).Debug("Finished parsing")
	return stats, nil
}
