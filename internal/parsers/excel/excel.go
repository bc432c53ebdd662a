// Package excel parses .xlsx statement exports, including password
// protected workbooks.
package excel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/xuri/excelize/v2"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

var (
	zipMagic = []byte("PK\x03\x04")
	// Compound File Binary: legacy .xls and encrypted .xlsx both use it.
	cfbMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
)

// Parser reads the first worksheet that carries a transaction header.
type Parser struct {
	hints *parser.Hints
}

// NewParser creates an Excel parser using the given hints, or the embedded ones when nil.
func NewParser(hints *parser.Hints) *Parser {
	if hints == nil {
		hints = parser.DefaultHints()
	}
	return &Parser{hints: hints}
}

// Name implements parser.Parser.
func (p *Parser) Name() string { return "excel" }

// Source implements parser.Parser.
func (p *Parser) Source() domain.ImportSource { return domain.SourceExcel }

// CanParse implements parser.Parser.
func (p *Parser) CanParse(fileName string, header []byte) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm", ".xls":
		return true
	}
	return bytes.HasPrefix(header, zipMagic) || bytes.HasPrefix(header, cfbMagic)
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, data []byte, opts parser.Options) (*domain.ImportResult, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("excel.Parse: %w", parser.ErrEmptyDocument)
	}
	if bytes.HasPrefix(data, cfbMagic) && opts.Password == "" {
		if strings.EqualFold(filepath.Ext(opts.FileName), ".xls") {
			return nil, fmt.Errorf("excel.Parse: legacy .xls workbooks: %w", parser.ErrUnsupportedFormat)
		}
		return nil, fmt.Errorf("excel.Parse: %w", parser.ErrPasswordRequired)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{Password: opts.Password})
	if err != nil {
		if errors.Is(err, excelize.ErrWorkbookPassword) {
			return nil, fmt.Errorf("excel.Parse: %w", parser.ErrInvalidPassword)
		}
		return nil, fmt.Errorf("excel.Parse: opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("excel.Parse: %w", parser.ErrEmptyDocument)
	}

	topts := parser.TableOptions{Source: domain.SourceExcel, ParseDate: parseCellDate, Hints: p.hints}

	var fallback *domain.ImportResult
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("excel.Parse: reading sheet %q: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		result := parser.ParseTable(rows, opts, topts)
		if len(result.Transactions) > 0 {
			return result, nil
		}
		if fallback == nil {
			fallback = result
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("excel.Parse: %w", parser.ErrEmptyDocument)
	}
	return fallback, nil
}

// parseCellDate accepts formatted dates and raw Excel serial numbers.
func parseCellDate(s string) (civil.Date, error) {
	d, err := parser.ParseDate(s)
	if err == nil {
		return d, nil
	}
	serial, convErr := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if convErr != nil || serial < 1 || serial > 2958465 {
		return civil.Date{}, err
	}
	t, convErr := excelize.ExcelDateToTime(serial, false)
	if convErr != nil {
		return civil.Date{}, err
	}
	return civil.DateOf(t), nil
}

var _ parser.Parser = (*Parser)(nil)
