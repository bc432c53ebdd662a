package bigquery

import (
	"context"
	"errors"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// ErrAccountExists is returned by CreateAccount when an active account with the
// same owner and account number is already stored.
var ErrAccountExists = errors.New("account already exists")

// AccountRepository provides account reads and writes for the import core.
type AccountRepository interface {
	// FindAccountsByUser returns all accounts owned by userID.
	FindAccountsByUser(ctx context.Context, userID string) ([]*domain.Account, error)

	// FindAccountByID returns the account or nil when it does not exist.
	FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error)

	// CreateAccount inserts a new account. It fails with ErrAccountExists when
	// the owner already has an active account with the same account number.
	CreateAccount(ctx context.Context, account *domain.Account) error

	// SaveAccount overwrites an existing account.
	SaveAccount(ctx context.Context, account *domain.Account) error
}

// TransactionRepository persists imported transactions and serves history for
// duplicate detection.
type TransactionRepository interface {
	// CreateTransaction stores one transaction and returns the persisted row.
	CreateTransaction(ctx context.Context, tx *domain.NewTransaction) (*domain.StoredTransaction, error)

	// FindDuplicateCandidates returns the user's transactions dated within [from, to].
	FindDuplicateCandidates(ctx context.Context, userID string, from, to civil.Date) ([]*domain.StoredTransaction, error)
}

// ImportBatchRepository stores import provenance.
type ImportBatchRepository interface {
	// SaveImportBatch records the outcome of one import call.
	SaveImportBatch(ctx context.Context, batch *domain.ImportBatch) error

	// ListImportBatches returns the user's most recent imports, newest first.
	ListImportBatches(ctx context.Context, userID string, limit int) ([]*domain.ImportBatch, error)
}

// AccountRow represents an account record in BigQuery.
type AccountRow struct {
	AccountID string `bigquery:"account_id"`
	UserID    string `bigquery:"user_id"`

	AccountName     string              `bigquery:"account_name"`
	InstitutionName string              `bigquery:"institution_name"`
	AccountType     string              `bigquery:"account_type"`
	AccountSubtype  bigquery.NullString `bigquery:"account_subtype"`
	AccountNumber   bigquery.NullString `bigquery:"account_number"`
	CurrencyCode    string              `bigquery:"currency_code"`

	Balance     *big.Rat          `bigquery:"balance"`
	BalanceDate bigquery.NullDate `bigquery:"balance_date"`

	PaymentDueDate    bigquery.NullDate  `bigquery:"payment_due_date"`
	MinimumPaymentDue *big.Rat           `bigquery:"minimum_payment_due"`
	RewardPoints      bigquery.NullInt64 `bigquery:"reward_points"`

	Active    bool      `bigquery:"active"`
	CreatedTS time.Time `bigquery:"created_ts"`
	UpdatedTS time.Time `bigquery:"updated_ts"`
}

// TransactionRow represents a transaction record in BigQuery.
type TransactionRow struct {
	TransactionID      string              `bigquery:"transaction_id"`
	PlaidTransactionID bigquery.NullString `bigquery:"plaid_transaction_id"`

	UserID    string              `bigquery:"user_id"`
	AccountID bigquery.NullString `bigquery:"account_id"`

	TransactionDate civil.Date `bigquery:"transaction_date"`
	Amount          *big.Rat   `bigquery:"amount"`
	CurrencyCode    string     `bigquery:"currency_code"`

	Description    string              `bigquery:"description"`
	MerchantName   bigquery.NullString `bigquery:"merchant_name"`
	PaymentChannel bigquery.NullString `bigquery:"payment_channel"`

	CategoryPrimary  string `bigquery:"category_primary"`
	CategoryDetailed string `bigquery:"category_detailed"`
	TransactionType  string `bigquery:"transaction_type"`

	ImportSource  string              `bigquery:"import_source"`
	ImportBatchID string              `bigquery:"import_batch_id"`
	ImportID      bigquery.NullString `bigquery:"import_id"`
	FileName      bigquery.NullString `bigquery:"file_name"`

	CreatedTS time.Time `bigquery:"created_ts"`
}

// ImportBatchRow represents one import call in BigQuery.
type ImportBatchRow struct {
	BatchID   string              `bigquery:"batch_id"`
	UserID    string              `bigquery:"user_id"`
	Source    string              `bigquery:"source"`
	FileName  string              `bigquery:"file_name"`
	AccountID bigquery.NullString `bigquery:"account_id"`

	Total      int64 `bigquery:"total"`
	Created    int64 `bigquery:"created"`
	Failed     int64 `bigquery:"failed"`
	Duplicates int64 `bigquery:"duplicates"`

	StartedTS  time.Time `bigquery:"started_ts"`
	FinishedTS time.Time `bigquery:"finished_ts"`
}
