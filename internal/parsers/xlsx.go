package parsers

import (
	"fmt"
	"io"

	"payer-reconciliation-service/pkg/errors"

	"github.com/xuri/excelize/v2"
)

// xlsxSource streams the rows of one worksheet.
type xlsxSource struct {
	file *excelize.File
	rows *excelize.Rows
}

func openXLSX(path, sheet string) (RecordSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fileError(path, err)
	}
	src, err := newXLSXSource(f, sheet)
	if err != nil {
		f.Close()
		return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "sheet", sheet, err)
	}
	return src, nil
}

// NewXLSXSource reads the worksheet rows of a spreadsheet held in r.
func (bp *BaseParser) NewXLSXSource(r io.Reader) (RecordSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, "upload", 0, "", "", err)
	}
	src, err := newXLSXSource(f, bp.config.Sheet)
	if err != nil {
		f.Close()
		return nil, errors.ParseError(errors.CodeInvalidFormat, "upload", 0, "sheet", bp.config.Sheet, err)
	}
	return src, nil
}

func newXLSXSource(f *excelize.File, sheet string) (*xlsxSource, error) {
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook has no sheets")
		}
		sheet = sheets[0]
	}
	rows, err := f.Rows(sheet)
	if err != nil {
		return nil, err
	}
	return &xlsxSource{file: f, rows: rows}, nil
}

func (s *xlsxSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return s.rows.Columns()
}

func (s *xlsxSource) Close() error {
	if err := s.rows.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
