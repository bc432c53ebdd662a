package bigquery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

var (
	transactionSchemaOnce sync.Once
	transactionSchema     bigquery.Schema
	transactionSchemaErr  error
)

func transactionRowSchema() (bigquery.Schema, error) {
	transactionSchemaOnce.Do(func() {
		transactionSchema, transactionSchemaErr = bigquery.InferSchema(bq.TransactionRow{})
	})
	return transactionSchema, transactionSchemaErr
}

// transactionSaver keys streaming inserts by transaction id so a retried
// Put does not store the row twice.
type transactionSaver struct {
	row *bq.TransactionRow
}

func (s transactionSaver) Save() (map[string]bigquery.Value, string, error) {
	schema, err := transactionRowSchema()
	if err != nil {
		return nil, "", fmt.Errorf("transactionSaver.Save: inferring schema: %w", err)
	}
	return (&bigquery.StructSaver{
		Struct:   s.row,
		Schema:   schema,
		InsertID: s.row.TransactionID,
	}).Save()
}

// CreateTransactionWithClient streams one transaction into the transactions table.
func CreateTransactionWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, tx *domain.NewTransaction) (*domain.StoredTransaction, error) {
	if tx.TransactionID == "" {
		return nil, fmt.Errorf("CreateTransactionWithClient: transaction ID is required")
	}
	row := bq.TransactionRowFromDomain(tx)
	row.CreatedTS = time.Now()

	inserter := client.DatasetInProject(ds.Project, ds.Dataset).Table(transactionsTable).Inserter()
	if err := inserter.Put(ctx, transactionSaver{row: row}); err != nil {
		return nil, fmt.Errorf("CreateTransactionWithClient: inserting row: %w", err)
	}
	return row.ToDomain(), nil
}

// FindDuplicateCandidatesWithClient returns the user's transactions dated
// within [from, to], oldest first.
func FindDuplicateCandidatesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string, from, to civil.Date) ([]*domain.StoredTransaction, error) {
	q := client.Query(`
		SELECT
			transaction_id,
			plaid_transaction_id,
			user_id,
			account_id,
			transaction_date,
			amount,
			currency_code,
			description,
			merchant_name,
			payment_channel,
			category_primary,
			category_detailed,
			transaction_type,
			import_source,
			import_batch_id,
			import_id,
			file_name,
			created_ts
		FROM ` + ds.table(transactionsTable) + `
		WHERE user_id = @user_id
		  AND transaction_date >= @from_date
		  AND transaction_date <= @to_date
		ORDER BY transaction_date, created_ts
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "from_date", Value: from},
		{Name: "to_date", Value: to},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindDuplicateCandidatesWithClient: query read: %w", err)
	}

	var txs []*domain.StoredTransaction
	for {
		var r bq.TransactionRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("FindDuplicateCandidatesWithClient: iter next: %w", err)
		}
		txs = append(txs, r.ToDomain())
	}
	return txs, nil
}
