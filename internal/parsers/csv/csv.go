// Package csv parses delimited bank statement exports.
package csv

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Parser reads CSV, TSV and semicolon separated statements. It is stateless
// and safe for concurrent use.
type Parser struct {
	hints *parser.Hints
}

// NewParser creates a CSV parser using the given hints, or the embedded ones when nil.
func NewParser(hints *parser.Hints) *Parser {
	if hints == nil {
		hints = parser.DefaultHints()
	}
	return &Parser{hints: hints}
}

// Name implements parser.Parser.
func (p *Parser) Name() string { return "csv" }

// Source implements parser.Parser.
func (p *Parser) Source() domain.ImportSource { return domain.SourceCSV }

// CanParse implements parser.Parser.
func (p *Parser) CanParse(fileName string, header []byte) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".tsv", ".txt":
		return true
	}
	return false
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, data []byte, opts parser.Options) (*domain.ImportResult, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("csv.Parse: %w", parser.ErrEmptyDocument)
	}
	if !utf8.Valid(data) {
		decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("csv.Parse: decoding windows-1252: %w", err)
		}
		data = decoded
	}

	rows, rowErrors := readRows(data, detectDelimiter(data))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := parser.ParseTable(rows, opts, parser.TableOptions{Source: domain.SourceCSV, Hints: p.hints})
	result.Errors = append(rowErrors, result.Errors...)
	return result, nil
}

// readRows reads every record, reporting malformed lines instead of stopping.
func readRows(data []byte, delimiter rune) ([][]string, []string) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	var errs []string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				errs = append(errs, fmt.Sprintf("line %d: %v", perr.Line, perr.Err))
				continue
			}
			errs = append(errs, err.Error())
			break
		}
		rows = append(rows, record)
	}
	return rows, errs
}

// detectDelimiter picks the separator that appears most in the first lines.
func detectDelimiter(data []byte) rune {
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	best, bestCount := ',', 0
	for _, d := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(sample, []byte(string(d))); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

var _ parser.Parser = (*Parser)(nil)
