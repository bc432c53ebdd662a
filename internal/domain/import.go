package domain

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// StatementMetadata holds statement-level values extracted alongside transactions.
// Zero dates and invalid decimals mean "not present".
type StatementMetadata struct {
	Balance           decimal.NullDecimal
	BalanceDate       civil.Date
	PaymentDueDate    civil.Date
	MinimumPaymentDue decimal.NullDecimal
	RewardPoints      *int64
	PeriodStart       civil.Date
	PeriodEnd         civil.Date
}

// IsEmpty reports whether no metadata was found.
func (m StatementMetadata) IsEmpty() bool {
	return !m.Balance.Valid && m.BalanceDate.IsZero() && m.PaymentDueDate.IsZero() &&
		!m.MinimumPaymentDue.Valid && m.RewardPoints == nil
}

// ImportResult is the output of parsing one statement file.
type ImportResult struct {
	Source          ImportSource
	FileName        string
	Transactions    []ParsedTransaction
	DetectedAccount *DetectedAccount
	Metadata        StatementMetadata
	Errors          []string
}

// ImportBatch records the provenance and outcome of one import call.
type ImportBatch struct {
	BatchID    string
	UserID     string
	Source     ImportSource
	FileName   string
	AccountID  string
	Total      int
	Created    int
	Failed     int
	Duplicates int
	StartedAt  time.Time
	FinishedAt time.Time
}
