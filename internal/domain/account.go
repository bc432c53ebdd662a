package domain

import (
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Account is a user's financial account.
// AccountNumber never holds more than the last four digits.
type Account struct {
	AccountID         string
	UserID            string
	AccountName       string
	InstitutionName   string
	AccountType       string
	AccountSubtype    string
	AccountNumber     string
	CurrencyCode      string
	Balance           decimal.NullDecimal
	BalanceDate       civil.Date
	PaymentDueDate    civil.Date
	MinimumPaymentDue decimal.NullDecimal
	RewardPoints      *int64
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.RewardPoints != nil {
		p := *a.RewardPoints
		c.RewardPoints = &p
	}
	return &c
}

// DetectedAccount is a guess about which account a statement belongs to.
// It is evidence only and never stored.
type DetectedAccount struct {
	AccountName      string
	InstitutionName  string
	AccountType      string
	AccountSubtype   string
	AccountNumber    string
	CardNumber       string
	Balance          decimal.NullDecimal
	BalanceDate      civil.Date
	MatchedAccountID string
}

// HasInformation reports whether the detection carries anything an account
// could be matched or created from.
func (d *DetectedAccount) HasInformation() bool {
	if d == nil {
		return false
	}
	for _, s := range []string{d.InstitutionName, d.AccountName, d.AccountNumber, d.AccountType, d.MatchedAccountID} {
		if strings.TrimSpace(s) != "" {
			return true
		}
	}
	return false
}

// Merge fills empty fields of d from other. Fields already set in d win.
func (d *DetectedAccount) Merge(other *DetectedAccount) {
	if d == nil || other == nil {
		return
	}
	fill := func(dst *string, src string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = src
		}
	}
	fill(&d.AccountName, other.AccountName)
	fill(&d.InstitutionName, other.InstitutionName)
	fill(&d.AccountType, other.AccountType)
	fill(&d.AccountSubtype, other.AccountSubtype)
	fill(&d.AccountNumber, other.AccountNumber)
	fill(&d.CardNumber, other.CardNumber)
	fill(&d.MatchedAccountID, other.MatchedAccountID)
	if !d.Balance.Valid {
		d.Balance = other.Balance
	}
	if d.BalanceDate.IsZero() {
		d.BalanceDate = other.BalanceDate
	}
}
