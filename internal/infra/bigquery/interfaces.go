// Package bigquery implements the import repositories on BigQuery.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"

	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

// Re-export interfaces from shared package for backward compatibility
type AccountRepository = bq.AccountRepository
type TransactionRepository = bq.TransactionRepository
type ImportBatchRepository = bq.ImportBatchRepository

// Table names.
const (
	accountsTable     = "accounts"
	transactionsTable = "transactions"
	importBatchTable  = "import_batches"
)

// Dataset locates the tables of one deployment.
type Dataset struct {
	Project string
	Dataset string
}

// table returns the quoted, fully qualified name of a table.
func (d Dataset) table(name string) string {
	return "`" + d.Project + "." + d.Dataset + "." + name + "`"
}

// Repository implements the account, transaction and import batch
// repositories over one shared BigQuery client.
type Repository struct {
	client *bigquery.Client
	ds     Dataset
}

// NewRepository creates a Repository with its own client.
func NewRepository(ctx context.Context, ds Dataset) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, ds.Project)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{client: client, ds: ds}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// FindAccountsByUser delegates to FindAccountsByUserWithClient with the shared client.
func (r *Repository) FindAccountsByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	return FindAccountsByUserWithClient(ctx, r.client, r.ds, userID)
}

// FindAccountByID delegates to FindAccountByIDWithClient with the shared client.
func (r *Repository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	return FindAccountByIDWithClient(ctx, r.client, r.ds, accountID)
}

// CreateAccount delegates to CreateAccountWithClient with the shared client.
func (r *Repository) CreateAccount(ctx context.Context, account *domain.Account) error {
	return CreateAccountWithClient(ctx, r.client, r.ds, account)
}

// SaveAccount delegates to SaveAccountWithClient with the shared client.
func (r *Repository) SaveAccount(ctx context.Context, account *domain.Account) error {
	return SaveAccountWithClient(ctx, r.client, r.ds, account)
}

// CreateTransaction delegates to CreateTransactionWithClient with the shared client.
func (r *Repository) CreateTransaction(ctx context.Context, tx *domain.NewTransaction) (*domain.StoredTransaction, error) {
	return CreateTransactionWithClient(ctx, r.client, r.ds, tx)
}

// FindDuplicateCandidates delegates to FindDuplicateCandidatesWithClient with the shared client.
func (r *Repository) FindDuplicateCandidates(ctx context.Context, userID string, from, to civil.Date) ([]*domain.StoredTransaction, error) {
	return FindDuplicateCandidatesWithClient(ctx, r.client, r.ds, userID, from, to)
}

// SaveImportBatch delegates to SaveImportBatchWithClient with the shared client.
func (r *Repository) SaveImportBatch(ctx context.Context, batch *domain.ImportBatch) error {
	return SaveImportBatchWithClient(ctx, r.client, r.ds, batch)
}

// ListImportBatches delegates to ListImportBatchesWithClient with the shared client.
func (r *Repository) ListImportBatches(ctx context.Context, userID string, limit int) ([]*domain.ImportBatch, error) {
	return ListImportBatchesWithClient(ctx, r.client, r.ds, userID, limit)
}

var (
	_ AccountRepository     = (*Repository)(nil)
	_ TransactionRepository = (*Repository)(nil)
	_ ImportBatchRepository = (*Repository)(nil)
)
