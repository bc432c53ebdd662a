package importer

import (
	"context"
	"errors"
	"fmt"

	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/parser"
)

// ObjectFetcher reads statement files from object storage.
type ObjectFetcher interface {
	FetchFromGCS(ctx context.Context, gcsURI string) ([]byte, error)
	ExtractFilenameFromGCSURI(uri string) string
}

// JobHandler returns a queue handler that imports statements referenced by
// ImportStatementJobs. Errors a retry cannot fix are marked permanent.
func (s *Service) JobHandler(fetcher ObjectFetcher) jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		j, ok := job.(*jobs.ImportStatementJob)
		if !ok {
			return jobs.Permanent(fmt.Errorf("unexpected job type %s", job.GetType()))
		}

		data, err := fetcher.FetchFromGCS(ctx, j.GCSURI)
		if err != nil {
			return fmt.Errorf("JobHandler: fetching %s: %w", j.GCSURI, err)
		}
		fileName := j.FileName
		if fileName == "" {
			fileName = fetcher.ExtractFilenameFromGCSURI(j.GCSURI)
		}

		log := logger.ForImport(s.log, j.UserID, fileName, "").With().Str("job_id", j.JobID).Logger()
		log.Info().Msg("Importing statement")

		resp, err := s.Import(ctx, Request{
			UserID:    j.UserID,
			FileName:  fileName,
			Data:      data,
			AccountID: j.AccountID,
		})
		if err != nil {
			if isPermanent(err) {
				return jobs.Permanent(err)
			}
			return fmt.Errorf("JobHandler: %w", err)
		}

		j.Result = &jobs.ImportSummary{
			BatchID:          resp.BatchID,
			AccountID:        resp.AccountID,
			CreatedAccountID: resp.CreatedAccountID,
			Total:            resp.Total,
			Created:          resp.Created,
			Failed:           resp.Failed,
			Duplicates:       resp.Duplicates,
		}
		log.Info().
			Int("created", resp.Created).
			Int("duplicates", resp.Duplicates).
			Int("failed", resp.Failed).
			Msg("Statement imported")
		return nil
	}
}

// isPermanent reports whether err comes from the request or the file itself.
func isPermanent(err error) bool {
	for _, target := range []error{
		ErrValidation,
		parser.ErrUnsupportedFormat,
		parser.ErrPasswordRequired,
		parser.ErrInvalidPassword,
		parser.ErrEmptyDocument,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
