package bigquery

import (
	"math/big"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// NUMERIC columns carry nine fractional digits.
const numericScale = 9

func ratFromDecimal(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func ratFromNullDecimal(d decimal.NullDecimal) *big.Rat {
	if !d.Valid {
		return nil
	}
	return d.Decimal.Rat()
}

func decimalFromRat(r *big.Rat) decimal.Decimal {
	if r == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(r.FloatString(numericScale))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func nullDecimalFromRat(r *big.Rat) decimal.NullDecimal {
	if r == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimalFromRat(r))
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}

func nullDate(d civil.Date) bigquery.NullDate {
	return bigquery.NullDate{Date: d, Valid: !d.IsZero()}
}

func dateOrZero(d bigquery.NullDate) civil.Date {
	if !d.Valid {
		return civil.Date{}
	}
	return d.Date
}

// AccountRowFromDomain maps an account onto its BigQuery row.
func AccountRowFromDomain(a *domain.Account) *AccountRow {
	row := &AccountRow{
		AccountID:         a.AccountID,
		UserID:            a.UserID,
		AccountName:       a.AccountName,
		InstitutionName:   a.InstitutionName,
		AccountType:       a.AccountType,
		AccountSubtype:    nullString(a.AccountSubtype),
		AccountNumber:     nullString(a.AccountNumber),
		CurrencyCode:      a.CurrencyCode,
		Balance:           ratFromNullDecimal(a.Balance),
		BalanceDate:       nullDate(a.BalanceDate),
		PaymentDueDate:    nullDate(a.PaymentDueDate),
		MinimumPaymentDue: ratFromNullDecimal(a.MinimumPaymentDue),
		Active:            a.Active,
		CreatedTS:         a.CreatedAt,
		UpdatedTS:         a.UpdatedAt,
	}
	if a.RewardPoints != nil {
		row.RewardPoints = bigquery.NullInt64{Int64: *a.RewardPoints, Valid: true}
	}
	return row
}

// ToDomain maps the row back onto an account.
func (r *AccountRow) ToDomain() *domain.Account {
	a := &domain.Account{
		AccountID:         r.AccountID,
		UserID:            r.UserID,
		AccountName:       r.AccountName,
		InstitutionName:   r.InstitutionName,
		AccountType:       r.AccountType,
		AccountSubtype:    r.AccountSubtype.StringVal,
		AccountNumber:     r.AccountNumber.StringVal,
		CurrencyCode:      r.CurrencyCode,
		Balance:           nullDecimalFromRat(r.Balance),
		BalanceDate:       dateOrZero(r.BalanceDate),
		PaymentDueDate:    dateOrZero(r.PaymentDueDate),
		MinimumPaymentDue: nullDecimalFromRat(r.MinimumPaymentDue),
		Active:            r.Active,
		CreatedAt:         r.CreatedTS,
		UpdatedAt:         r.UpdatedTS,
	}
	if r.RewardPoints.Valid {
		p := r.RewardPoints.Int64
		a.RewardPoints = &p
	}
	return a
}

// TransactionRowFromDomain maps a new transaction onto its BigQuery row.
func TransactionRowFromDomain(tx *domain.NewTransaction) *TransactionRow {
	return &TransactionRow{
		TransactionID:    tx.TransactionID,
		UserID:           tx.UserID,
		AccountID:        nullString(tx.AccountID),
		TransactionDate:  tx.Date,
		Amount:           ratFromDecimal(tx.Amount),
		CurrencyCode:     tx.CurrencyCode,
		Description:      tx.Description,
		MerchantName:     nullString(tx.MerchantName),
		PaymentChannel:   nullString(tx.PaymentChannel),
		CategoryPrimary:  tx.CategoryPrimary,
		CategoryDetailed: tx.CategoryDetailed,
		TransactionType:  tx.TransactionType,
		ImportSource:     string(tx.Source),
		ImportBatchID:    tx.ImportBatchID,
		ImportID:         nullString(tx.ImportID),
		FileName:         nullString(tx.FileName),
	}
}

// ToDomain maps the row onto the history view used by duplicate detection.
func (r *TransactionRow) ToDomain() *domain.StoredTransaction {
	return &domain.StoredTransaction{
		TransactionID:      r.TransactionID,
		PlaidTransactionID: r.PlaidTransactionID.StringVal,
		UserID:             r.UserID,
		AccountID:          r.AccountID.StringVal,
		Amount:             decimalFromRat(r.Amount),
		Date:               r.TransactionDate,
		Description:        r.Description,
		MerchantName:       r.MerchantName.StringVal,
		ImportBatchID:      r.ImportBatchID,
		ImportID:           r.ImportID.StringVal,
		CreatedAt:          r.CreatedTS,
	}
}

// ImportBatchRowFromDomain maps an import batch onto its BigQuery row.
func ImportBatchRowFromDomain(b *domain.ImportBatch) *ImportBatchRow {
	return &ImportBatchRow{
		BatchID:    b.BatchID,
		UserID:     b.UserID,
		Source:     string(b.Source),
		FileName:   b.FileName,
		AccountID:  nullString(b.AccountID),
		Total:      int64(b.Total),
		Created:    int64(b.Created),
		Failed:     int64(b.Failed),
		Duplicates: int64(b.Duplicates),
		StartedTS:  b.StartedAt,
		FinishedTS: b.FinishedAt,
	}
}

// ToDomain maps the row back onto an import batch.
func (r *ImportBatchRow) ToDomain() *domain.ImportBatch {
	return &domain.ImportBatch{
		BatchID:    r.BatchID,
		UserID:     r.UserID,
		Source:     domain.ImportSource(r.Source),
		FileName:   r.FileName,
		AccountID:  r.AccountID.StringVal,
		Total:      int(r.Total),
		Created:    int(r.Created),
		Failed:     int(r.Failed),
		Duplicates: int(r.Duplicates),
		StartedAt:  r.StartedTS,
		FinishedAt: r.FinishedTS,
	}
}
