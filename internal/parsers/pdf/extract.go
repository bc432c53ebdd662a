package pdf

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/parser"
)

var pdfMagic = []byte("%PDF")

// Document is the text of a statement, one entry per visual line.
type Document struct {
	Lines []string
	// Plain holds the decrypted file bytes.
	Plain []byte
}

// TextExtractor pulls text lines out of PDF bytes.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, password string) (*Document, error)
}

// LibraryExtractor decrypts with pdfcpu and reads text positions with
// ledongthuc/pdf.
type LibraryExtractor struct {
	log zerolog.Logger
}

// NewLibraryExtractor creates the default extractor.
func NewLibraryExtractor(log zerolog.Logger) *LibraryExtractor {
	return &LibraryExtractor{log: log}
}

// Extract implements TextExtractor.
func (e *LibraryExtractor) Extract(ctx context.Context, data []byte, password string) (*Document, error) {
	if !bytes.HasPrefix(bytes.TrimLeft(data, "\x00\t\r\n "), pdfMagic) {
		return nil, fmt.Errorf("Extract: missing %%PDF header: %w", parser.ErrUnsupportedFormat)
	}

	plain, err := e.decrypt(data, password)
	if err != nil {
		return nil, err
	}
	lines, err := readLines(ctx, plain)
	if err != nil {
		return nil, err
	}
	return &Document{Lines: lines, Plain: plain}, nil
}

func (e *LibraryExtractor) decrypt(data []byte, password string) ([]byte, error) {
	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password

	info, err := api.PDFInfo(bytes.NewReader(data), "statement.pdf", nil, conf)
	if err != nil {
		if perr := passwordError(err, password); perr != nil {
			return nil, fmt.Errorf("decrypt: %w", perr)
		}
		// pdfcpu validates more strictly than the text reader needs.
		e.log.Debug().Err(err).Msg("pdfcpu could not read document info, trying text extraction anyway")
		return data, nil
	}
	if !info.Encrypted {
		return data, nil
	}

	var out bytes.Buffer
	if err := api.Decrypt(bytes.NewReader(data), &out, conf); err != nil {
		if perr := passwordError(err, password); perr != nil {
			return nil, fmt.Errorf("decrypt: %w", perr)
		}
		return nil, fmt.Errorf("decrypt: decrypting document: %w", err)
	}
	return out.Bytes(), nil
}

// passwordError maps pdfcpu password failures onto parser sentinels, or
// returns nil for unrelated errors.
func passwordError(err error, password string) error {
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "password") && !strings.Contains(msg, "encrypt") {
		return nil
	}
	if password == "" {
		return parser.ErrPasswordRequired
	}
	return parser.ErrInvalidPassword
}

func readLines(ctx context.Context, data []byte) (lines []string, err error) {
	// The text reader panics on some malformed content streams.
	defer func() {
		if r := recover(); r != nil {
			lines, err = nil, fmt.Errorf("readLines: malformed document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("readLines: opening document: %w", err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("readLines: page %d: %w", i, err)
		}
		for _, row := range rows {
			if line := joinRow(row.Content); line != "" {
				lines = append(lines, line)
			}
		}
	}
	return lines, nil
}

// joinRow glues positioned glyph runs into a line, inserting a space where
// the horizontal gap is wider than a fraction of the font size.
func joinRow(texts pdf.TextHorizontal) string {
	var b strings.Builder
	var prevEnd float64
	for i, t := range texts {
		if i > 0 && t.X-prevEnd > spaceGap(t.FontSize) {
			b.WriteByte(' ')
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func spaceGap(fontSize float64) float64 {
	if g := fontSize * 0.15; g > 1 {
		return g
	}
	return 1
}
