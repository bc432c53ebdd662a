package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

const defaultBatchLimit = 50

// SaveImportBatchWithClient streams the import batch row.
func SaveImportBatchWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, batch *domain.ImportBatch) error {
	row := bq.ImportBatchRowFromDomain(batch)
	inserter := client.DatasetInProject(ds.Project, ds.Dataset).Table(importBatchTable).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("SaveImportBatchWithClient: inserting row: %w", err)
	}
	return nil
}

// ListImportBatchesWithClient returns the user's latest imports, newest first.
func ListImportBatchesWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string, limit int) ([]*domain.ImportBatch, error) {
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	q := client.Query(`
		SELECT
			batch_id,
			user_id,
			source,
			file_name,
			account_id,
			total,
			created,
			failed,
			duplicates,
			started_ts,
			finished_ts
		FROM ` + ds.table(importBatchTable) + `
		WHERE user_id = @user_id
		ORDER BY started_ts DESC
		LIMIT @limit
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListImportBatchesWithClient: query read: %w", err)
	}

	var batches []*domain.ImportBatch
	for {
		var r bq.ImportBatchRow
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListImportBatchesWithClient: iter next: %w", err)
		}
		batches = append(batches, r.ToDomain())
	}
	return batches, nil
}
