package importer

import (
	"context"
	"time"

	"github.com/dvloznov/finance-importer/internal/accounts"
	"github.com/dvloznov/finance-importer/internal/dedup"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/logger"
)

// BatchImportResponse is the aggregate outcome of an import.
type BatchImportResponse struct {
	Total            int      `json:"total"`
	Created          int      `json:"created"`
	Failed           int      `json:"failed"`
	Duplicates       int      `json:"duplicates"`
	CreatedAccountID string   `json:"createdAccountId,omitempty"`
	AccountID        string   `json:"accountId,omitempty"`
	BatchID          string   `json:"batchId"`
	Errors           []string `json:"errors,omitempty"`
}

// ChunkImportResponse is the outcome of importing one page of a file.
type ChunkImportResponse struct {
	ImportResponse BatchImportResponse `json:"importResponse"`
	// ImportID ties the pages of one import together; send it with later pages.
	ImportID   string `json:"importId"`
	Page       int    `json:"page"`
	Size       int    `json:"size"`
	Total      int    `json:"total"`
	TotalPages int    `json:"totalPages"`
	HasNext    bool   `json:"hasNext"`
}

// ChunkContext carries state between the pages of one import.
type ChunkContext struct {
	// ImportID is empty on the first page; the response supplies one.
	ImportID string
	// ImportAccountID is the account returned for page 0.
	ImportAccountID string
}

// Import parses a file and stores every non-duplicate transaction.
func (s *Service) Import(ctx context.Context, req Request) (*BatchImportResponse, error) {
	started := s.now()
	batchID := s.newID()

	a, err := s.Analyze(ctx, req, dedup.Options{})
	if err != nil {
		return nil, err
	}

	res := s.resolve(ctx, req.UserID, a, accounts.PageContext{})
	in := BatchInput{
		UserID:       req.UserID,
		BatchID:      batchID,
		ImportID:     batchID,
		FileName:     req.FileName,
		Source:       a.Result.Source,
		Transactions: a.Result.Transactions,
		Duplicates:   a.Duplicates,
		Include:      includeSet(req.Include, 0, len(a.Result.Transactions)),
	}
	resp := &BatchImportResponse{BatchID: batchID}
	if res != nil {
		in.AccountID = res.AccountID
		resp.AccountID = res.AccountID
		if res.Created {
			resp.CreatedAccountID = res.AccountID
		}
	}

	counts := s.ImportBatch(ctx, in)
	resp.fill(counts, a.Result.Errors)
	s.recordBatch(ctx, in, counts, started)
	return resp, nil
}

// ImportChunk imports one page of a file. Duplicates are detected against the
// whole file, ignoring rows stored by earlier pages of the same import, so the
// pages together store exactly what Import would.
func (s *Service) ImportChunk(ctx context.Context, req Request, page, size int, cc ChunkContext) (*ChunkImportResponse, error) {
	if _, err := Paginate(0, 0, size, MaxChunkPageSize); err != nil {
		return nil, err
	}
	started := s.now()
	batchID := s.newID()
	importID := cc.ImportID
	if importID == "" {
		importID = batchID
	}

	a, err := s.Analyze(ctx, req, dedup.Options{IgnoreImportID: importID})
	if err != nil {
		return nil, err
	}
	txs := a.Result.Transactions
	w, err := Paginate(len(txs), page, size, MaxChunkPageSize)
	if err != nil {
		return nil, err
	}

	out := &ChunkImportResponse{
		ImportID:   importID,
		Page:       page,
		Size:       size,
		Total:      len(txs),
		TotalPages: w.TotalPages,
		HasNext:    w.HasNext,
	}
	out.ImportResponse.BatchID = batchID
	if w.End == w.Start {
		return out, nil
	}

	res := s.resolve(ctx, req.UserID, a, accounts.PageContext{Page: page, ImportAccountID: cc.ImportAccountID})
	in := BatchInput{
		UserID:       req.UserID,
		BatchID:      batchID,
		ImportID:     importID,
		FileName:     req.FileName,
		Source:       a.Result.Source,
		Transactions: txs[w.Start:w.End],
		Duplicates:   a.Duplicates.Slice(w.Start, w.End),
		Include:      includeSet(req.Include, w.Start, w.End),
		RowOffset:    w.Start,
	}
	if res != nil {
		in.AccountID = res.AccountID
		out.ImportResponse.AccountID = res.AccountID
		if res.Created {
			out.ImportResponse.CreatedAccountID = res.AccountID
		}
	}

	counts := s.ImportBatch(ctx, in)
	var parseErrors []string
	if page == 0 {
		parseErrors = a.Result.Errors
	}
	out.ImportResponse.fill(counts, parseErrors)
	s.recordBatch(ctx, in, counts, started)
	return out, nil
}

// resolve assigns the statement's account. Resolution failures degrade to the
// pseudo account rather than failing the import.
func (s *Service) resolve(ctx context.Context, userID string, a *Analysis, page accounts.PageContext) *accounts.Resolution {
	res, err := s.resolver.Resolve(ctx, userID, a.Result.DetectedAccount, page, a.Result.Metadata)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("Account resolution failed, using pseudo account")
		return nil
	}
	if res == nil {
		s.log.Info().Str("user_id", userID).Msg("No account resolved, using pseudo account")
		return nil
	}
	s.log.Info().
		Str("account_id", res.AccountID).
		Str("matched_by", string(res.MatchedBy)).
		Bool("created", res.Created).
		Msg("Resolved import account")
	return res
}

func (r *BatchImportResponse) fill(c BatchCounts, parseErrors []string) {
	r.Total = c.Total
	r.Created = c.Created
	r.Failed = c.Failed
	r.Duplicates = c.Duplicates
	if len(parseErrors)+len(c.Errors) > 0 {
		r.Errors = append(append([]string{}, parseErrors...), c.Errors...)
	}
}

// includeSet re-keys caller selected file indices within [start, end).
func includeSet(indices []int, start, end int) map[int]bool {
	if len(indices) == 0 {
		return nil
	}
	set := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i >= start && i < end {
			set[i-start] = true
		}
	}
	return set
}

// recordBatch stores import history. Failures are logged only.
func (s *Service) recordBatch(ctx context.Context, in BatchInput, c BatchCounts, started time.Time) {
	if s.batches == nil {
		return
	}
	batch := &domain.ImportBatch{
		BatchID:    in.BatchID,
		UserID:     in.UserID,
		Source:     in.Source,
		FileName:   in.FileName,
		AccountID:  in.AccountID,
		Total:      c.Total,
		Created:    c.Created,
		Failed:     c.Failed,
		Duplicates: c.Duplicates,
		StartedAt:  started,
		FinishedAt: s.now(),
	}
	if err := s.batches.SaveImportBatch(context.WithoutCancel(ctx), batch); err != nil {
		log := logger.ForImport(s.log, in.UserID, in.FileName, in.ImportID)
		log.Warn().
			Err(err).
			Str("batch_id", in.BatchID).
			Msg("Failed to record import batch")
	}
}

// History returns the user's recent imports, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*domain.ImportBatch, error) {
	if userID == "" {
		return nil, validationError("user id is required")
	}
	if s.batches == nil {
		return []*domain.ImportBatch{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.batches.ListImportBatches(ctx, userID, limit)
}
