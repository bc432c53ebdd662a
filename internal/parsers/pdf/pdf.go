// Package pdf parses text-based PDF statements line by line, with an
// optional model fallback for layouts the line patterns miss.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

// TransactionExtractor reads transactions from a whole document when line
// parsing finds none.
type TransactionExtractor interface {
	ExtractTransactions(ctx context.Context, data []byte, opts parser.Options) ([]domain.ParsedTransaction, error)
}

// Parser reads PDF statements.
type Parser struct {
	extractor TextExtractor
	fallback  TransactionExtractor
	hints     *parser.Hints
	log       zerolog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithExtractor replaces the text extractor.
func WithExtractor(e TextExtractor) Option {
	return func(p *Parser) { p.extractor = e }
}

// WithFallback enables a model fallback for statements with no matching lines.
func WithFallback(f TransactionExtractor) Option {
	return func(p *Parser) { p.fallback = f }
}

// WithHints sets the institution keyword tables.
func WithHints(h *parser.Hints) Option {
	return func(p *Parser) { p.hints = h }
}

// NewParser creates a PDF parser.
func NewParser(log zerolog.Logger, opts ...Option) *Parser {
	p := &Parser{log: log}
	for _, o := range opts {
		o(p)
	}
	if p.extractor == nil {
		p.extractor = NewLibraryExtractor(log)
	}
	if p.hints == nil {
		p.hints = parser.DefaultHints()
	}
	return p
}

// Name implements parser.Parser.
func (p *Parser) Name() string { return "pdf" }

// Source implements parser.Parser.
func (p *Parser) Source() domain.ImportSource { return domain.SourcePDF }

// CanParse implements parser.Parser.
func (p *Parser) CanParse(fileName string, header []byte) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".pdf") || bytes.HasPrefix(header, pdfMagic)
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, data []byte, opts parser.Options) (*domain.ImportResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("pdf.Parse: %w", parser.ErrEmptyDocument)
	}

	doc, err := p.extractor.Extract(ctx, data, opts.Password)
	if err != nil {
		return nil, fmt.Errorf("pdf.Parse: %w", err)
	}

	result := parseStatement(doc.Lines, opts, p.hints)
	p.log.Debug().
		Str("file", opts.FileName).
		Int("lines", len(doc.Lines)).
		Int("transactions", len(result.Transactions)).
		Msg("parsed pdf text")

	if len(result.Transactions) == 0 && p.fallback != nil {
		p.applyFallback(ctx, doc, opts, result)
	}
	if len(doc.Lines) == 0 && len(result.Transactions) == 0 {
		return nil, fmt.Errorf("pdf.Parse: no extractable text: %w", parser.ErrEmptyDocument)
	}
	return result, nil
}

func (p *Parser) applyFallback(ctx context.Context, doc *Document, opts parser.Options, result *domain.ImportResult) {
	plain := doc.Plain
	if plain == nil {
		return
	}
	txs, err := p.fallback.ExtractTransactions(ctx, plain, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.log.Warn().Err(err).Str("file", opts.FileName).Msg("model fallback failed")
		result.Errors = append(result.Errors, fmt.Sprintf("model fallback: %v", err))
		return
	}

	ids := parser.NewIDGenerator(domain.SourcePDF, opts.UserID)
	for _, tx := range txs {
		tx.TransactionID = ids.Next(tx.Date, tx.Amount, tx.Description, tx.Reference)
		result.Transactions = append(result.Transactions, tx)
	}
	p.log.Info().
		Str("file", opts.FileName).
		Int("transactions", len(txs)).
		Msg("model fallback extracted transactions")
}

var _ parser.Parser = (*Parser)(nil)
