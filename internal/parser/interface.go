// Package parser defines the statement parser contract and the heuristics
// shared by the CSV, Excel and PDF parsers.
package parser

import (
	"context"
	"errors"
	"time"

	"github.com/dvloznov/finance-importer/internal/domain"
)

var (
	// ErrUnsupportedFormat means no parser understands the file.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrPasswordRequired means the file is encrypted and no password was given.
	ErrPasswordRequired = errors.New("file is password protected")
	// ErrInvalidPassword means the given password did not open the file.
	ErrInvalidPassword = errors.New("invalid file password")
	// ErrEmptyDocument means the file holds no readable content.
	ErrEmptyDocument = errors.New("document is empty")
)

// Options carries per-call parse inputs besides the bytes themselves.
type Options struct {
	// FileName is evidence for account detection, not just a label.
	FileName string
	UserID   string
	// Password opens encrypted PDF and Excel files; other formats ignore it.
	Password string
	// Now anchors year inference for dates printed without a year.
	Now time.Time
}

// Reference returns Now, or the wall clock when Now is unset.
func (o Options) Reference() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Parser turns statement bytes into transactions.
// Parse returns an error only when the file as a whole cannot be read; bad
// records are reported in ImportResult.Errors.
type Parser interface {
	// Name returns a short identifier such as "csv".
	Name() string

	// Source returns the import source stamped on results.
	Source() domain.ImportSource

	// CanParse reports whether the parser handles a file with this name and leading bytes.
	CanParse(fileName string, header []byte) bool

	// Parse extracts transactions, account evidence and statement metadata.
	Parse(ctx context.Context, data []byte, opts Options) (*domain.ImportResult, error)
}
