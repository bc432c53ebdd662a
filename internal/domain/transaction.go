package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// ImportSource identifies the statement format a transaction came from.
type ImportSource string

const (
	SourceCSV   ImportSource = "CSV"
	SourceExcel ImportSource = "EXCEL"
	SourcePDF   ImportSource = "PDF"
	SourceOFX   ImportSource = "OFX"
)

// ParsedTransaction is one row extracted from a statement.
// The amount sign is whatever the statement used; nothing downstream flips it.
type ParsedTransaction struct {
	Date                     civil.Date
	Amount                   decimal.Decimal
	Description              string
	MerchantName             string
	CategoryPrimary          string
	CategoryDetailed         string
	CurrencyCode             string
	PaymentChannel           string
	TransactionTypeIndicator string
	TransactionType          string
	TransactionID            string
	// Reference is the statement's own row reference, which banks do not
	// keep unique (POS, CHK, blank).
	Reference                string

	// AccountID is empty until the account resolver assigns it.
	AccountID string
}

// StoredTransaction is a persisted transaction as seen by duplicate detection.
type StoredTransaction struct {
	TransactionID      string
	PlaidTransactionID string
	UserID             string
	AccountID          string
	Amount             decimal.Decimal
	Date               civil.Date
	Description        string
	MerchantName       string
	ImportBatchID      string
	ImportID           string
	CreatedAt          time.Time
}

// NewTransaction is the input to the transaction store.
// An empty AccountID stores the row against the user's pseudo account.
type NewTransaction struct {
	TransactionID    string
	UserID           string
	AccountID        string
	Amount           decimal.Decimal
	Date             civil.Date
	Description      string
	MerchantName     string
	CategoryPrimary  string
	CategoryDetailed string
	TransactionType  string
	CurrencyCode     string
	PaymentChannel   string
	Source           ImportSource
	ImportBatchID    string
	ImportID         string
	FileName         string
}
