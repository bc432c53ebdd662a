package accounts

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// Metadata is the optional statement metadata attached to a new account.
// It is either NoMetadata or PdfMetadata.
type Metadata interface {
	isMetadata()
}

// NoMetadata creates an account without payment details.
type NoMetadata struct{}

// PdfMetadata carries the payment details printed on a card statement.
type PdfMetadata struct {
	PaymentDueDate    civil.Date
	MinimumPaymentDue decimal.NullDecimal
	RewardPoints      *int64
}

func (NoMetadata) isMetadata()  {}
func (PdfMetadata) isMetadata() {}

// MetadataFromStatement picks the creation metadata for a parsed statement.
func MetadataFromStatement(m domain.StatementMetadata) Metadata {
	if m.PaymentDueDate.IsZero() {
		return NoMetadata{}
	}
	return PdfMetadata{
		PaymentDueDate:    m.PaymentDueDate,
		MinimumPaymentDue: m.MinimumPaymentDue,
		RewardPoints:      m.RewardPoints,
	}
}
