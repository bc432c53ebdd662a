// Package registry picks the statement parser for an uploaded file.
package registry

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/parser"
	"github.com/dvloznov/finance-importer/internal/parsers/csv"
	"github.com/dvloznov/finance-importer/internal/parsers/excel"
	"github.com/dvloznov/finance-importer/internal/parsers/ofx"
	"github.com/dvloznov/finance-importer/internal/parsers/pdf"
)

// headerSize is how many leading bytes format sniffing looks at.
const headerSize = 512

// Registry holds the registered parsers in priority order.
type Registry struct {
	parsers []parser.Parser
}

// New creates a registry with the built-in PDF, Excel, OFX and CSV parsers.
func New(log zerolog.Logger, hints *parser.Hints, pdfOpts ...pdf.Option) *Registry {
	if hints == nil {
		hints = parser.DefaultHints()
	}
	pdfOpts = append([]pdf.Option{pdf.WithHints(hints)}, pdfOpts...)
	return &Registry{
		parsers: []parser.Parser{
			pdf.NewParser(log, pdfOpts...),
			excel.NewParser(hints),
			ofx.NewParser(hints),
			csv.NewParser(hints),
		},
	}
}

// Register adds a parser ahead of the built-in ones.
func (r *Registry) Register(p parser.Parser) {
	r.parsers = append([]parser.Parser{p}, r.parsers...)
}

// FindParser returns the parser for a file. The extension decides when a
// parser claims it; otherwise the leading bytes are sniffed.
func (r *Registry) FindParser(fileName string, data []byte) (parser.Parser, error) {
	header := data
	if len(header) > headerSize {
		header = header[:headerSize]
	}

	if ext := strings.ToLower(filepath.Ext(fileName)); ext != "" {
		for _, p := range r.parsers {
			if p.CanParse(fileName, nil) {
				return p, nil
			}
		}
	}
	for _, p := range r.parsers {
		if p.CanParse("", header) {
			return p, nil
		}
	}
	if looksLikeText(header) {
		for _, p := range r.parsers {
			if p.CanParse("upload.csv", nil) {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("FindParser: %q: %w", fileName, parser.ErrUnsupportedFormat)
}

// ListParsers returns the registered parser names.
func (r *Registry) ListParsers() []string {
	names := make([]string, len(r.parsers))
	for i, p := range r.parsers {
		names[i] = p.Name()
	}
	return names
}

// looksLikeText accepts headers without NUL bytes that contain a line break
// or a field separator.
func looksLikeText(header []byte) bool {
	if len(header) == 0 {
		return false
	}
	for _, b := range header {
		if b == 0 {
			return false
		}
	}
	return strings.ContainsAny(string(header), "\n,;\t")
}
