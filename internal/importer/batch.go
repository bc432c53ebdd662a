package importer

import (
	"context"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// BatchSize is the number of rows persisted between progress checkpoints.
const BatchSize = 500

// BatchInput is the work of one ImportBatch call.
type BatchInput struct {
	UserID string
	// AccountID is empty for the pseudo account.
	AccountID    string
	BatchID      string
	ImportID     string
	FileName     string
	Source       domain.ImportSource
	Transactions []domain.ParsedTransaction
	// Duplicates is keyed by position in Transactions.
	Duplicates domain.DuplicateMap
	// Include forces fuzzy duplicates at these positions to be stored.
	// Exact duplicates are always skipped.
	Include map[int]bool
	// RowOffset is added to positions in error messages.
	RowOffset int
}

// BatchCounts aggregates the outcome of ImportBatch.
type BatchCounts struct {
	Total      int
	Created    int
	Failed     int
	Duplicates int
	Errors     []string
}

// ImportBatch stores transactions in document order, BatchSize rows at a time.
// Duplicates are skipped and counted; a failed row is counted and never stops
// the rest. Cancellation is honoured between batches and the unprocessed rows
// are reported as failed.
func (s *Service) ImportBatch(ctx context.Context, in BatchInput) BatchCounts {
	counts := BatchCounts{Total: len(in.Transactions)}
	batches := (len(in.Transactions) + BatchSize - 1) / BatchSize

	for b := 0; b < batches; b++ {
		start := b * BatchSize
		end := min(start+BatchSize, len(in.Transactions))

		if err := ctx.Err(); err != nil {
			remaining := len(in.Transactions) - start
			counts.Failed += remaining
			counts.Errors = append(counts.Errors, fmt.Sprintf("import stopped before row %d: %v", start+in.RowOffset+1, err))
			s.log.Warn().Err(err).Int("remaining", remaining).Msg("Import cancelled between batches")
			break
		}

		for i := start; i < end; i++ {
			if s.skipDuplicate(in, i) {
				counts.Duplicates++
				continue
			}
			if err := s.storeTransaction(ctx, in, in.Transactions[i]); err != nil {
				counts.Failed++
				counts.Errors = append(counts.Errors, fmt.Sprintf("row %d: %v", i+in.RowOffset+1, err))
				s.log.Debug().Err(err).Int("row", i+in.RowOffset+1).Msg("Failed to create transaction")
				continue
			}
			counts.Created++
		}

		s.log.Info().
			Str("batch_id", in.BatchID).
			Int("created", counts.Created).
			Int("failed", counts.Failed).
			Int("duplicates", counts.Duplicates).
			Msgf("Batch %d/%d completed", b+1, batches)
	}
	return counts
}

func (s *Service) skipDuplicate(in BatchInput, i int) bool {
	if !in.Duplicates.IsDuplicate(i) {
		return false
	}
	if in.Duplicates.IsExact(i) {
		return true
	}
	return !in.Include[i]
}

func (s *Service) storeTransaction(ctx context.Context, in BatchInput, tx domain.ParsedTransaction) error {
	accountID := tx.AccountID
	if accountID == "" {
		accountID = in.AccountID
	}
	category := normalizeCategory(tx.CategoryPrimary)
	_, err := s.txs.CreateTransaction(ctx, &domain.NewTransaction{
		TransactionID:    tx.TransactionID,
		UserID:           in.UserID,
		AccountID:        accountID,
		Amount:           tx.Amount,
		Date:             tx.Date,
		Description:      tx.Description,
		MerchantName:     tx.MerchantName,
		CategoryPrimary:  category,
		CategoryDetailed: normalizeDetailed(tx.CategoryDetailed, category),
		TransactionType:  normalizeType(tx.TransactionType),
		CurrencyCode:     tx.CurrencyCode,
		PaymentChannel:   tx.PaymentChannel,
		Source:           in.Source,
		ImportBatchID:    in.BatchID,
		ImportID:         in.ImportID,
		FileName:         in.FileName,
	})
	return err
}
