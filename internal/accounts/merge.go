package accounts

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// MetadataUpdate is a statement's view of an account's balance and payment state.
// Zero dates and invalid decimals mean the statement did not report the value.
type MetadataUpdate struct {
	Balance           decimal.NullDecimal
	BalanceDate       civil.Date
	PaymentDueDate    civil.Date
	MinimumPaymentDue decimal.NullDecimal
	RewardPoints      *int64
}

// UpdateFromStatement combines the detected balance with the statement metadata.
// The statement's own balance wins over the detected one.
func UpdateFromStatement(detected *domain.DetectedAccount, m domain.StatementMetadata) MetadataUpdate {
	u := MetadataUpdate{
		Balance:           m.Balance,
		BalanceDate:       m.BalanceDate,
		PaymentDueDate:    m.PaymentDueDate,
		MinimumPaymentDue: m.MinimumPaymentDue,
		RewardPoints:      m.RewardPoints,
	}
	if detected != nil {
		if !u.Balance.Valid {
			u.Balance = detected.Balance
		}
		if u.BalanceDate.IsZero() {
			u.BalanceDate = detected.BalanceDate
		}
	}
	return u
}

// ApplyBalance overwrites the stored balance when date is newer than the stored
// balance date, or when no balance date is stored. It reports whether anything changed.
func ApplyBalance(acc *domain.Account, balance decimal.Decimal, date civil.Date) bool {
	if date.IsZero() {
		return false
	}
	if !acc.BalanceDate.IsZero() && !date.After(acc.BalanceDate) {
		return false
	}
	changed := !acc.Balance.Valid || !acc.Balance.Decimal.Equal(balance) || acc.BalanceDate != date
	acc.Balance = decimal.NewNullDecimal(balance)
	acc.BalanceDate = date
	return changed
}

// MergeStatementMetadata folds u into acc using the payment due date to decide
// which statement is current. Balances follow their own date rule when the
// due date does not advance. It reports whether acc changed.
func MergeStatementMetadata(acc *domain.Account, u MetadataUpdate) bool {
	if !u.PaymentDueDate.IsZero() {
		if acc.PaymentDueDate.IsZero() || u.PaymentDueDate.After(acc.PaymentDueDate) {
			return adoptStatement(acc, u)
		}
		return mergeBalance(acc, u)
	}

	changed := mergeBalance(acc, u)
	if u.BalanceDate.IsZero() && u.Balance.Valid && !acc.Balance.Valid {
		acc.Balance = u.Balance
		changed = true
	}
	return changed
}

func adoptStatement(acc *domain.Account, u MetadataUpdate) bool {
	changed := acc.PaymentDueDate != u.PaymentDueDate
	acc.PaymentDueDate = u.PaymentDueDate

	if u.MinimumPaymentDue.Valid {
		if !acc.MinimumPaymentDue.Valid || !acc.MinimumPaymentDue.Decimal.Equal(u.MinimumPaymentDue.Decimal) {
			changed = true
		}
		acc.MinimumPaymentDue = u.MinimumPaymentDue
	}
	if u.RewardPoints != nil {
		if acc.RewardPoints == nil || *acc.RewardPoints != *u.RewardPoints {
			changed = true
		}
		p := *u.RewardPoints
		acc.RewardPoints = &p
	}
	if u.Balance.Valid {
		if !acc.Balance.Valid || !acc.Balance.Decimal.Equal(u.Balance.Decimal) {
			changed = true
		}
		acc.Balance = u.Balance
		if !u.BalanceDate.IsZero() {
			if acc.BalanceDate != u.BalanceDate {
				changed = true
			}
			acc.BalanceDate = u.BalanceDate
		}
	}
	return changed
}

func mergeBalance(acc *domain.Account, u MetadataUpdate) bool {
	if !u.Balance.Valid {
		return false
	}
	return ApplyBalance(acc, u.Balance.Decimal, u.BalanceDate)
}
