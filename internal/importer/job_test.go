package importer

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/gcs"
	"github.com/dvloznov/finance-importer/internal/infra/inmemory"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/parser"
)

type fakeFetcher struct {
	objects map[string][]byte
	err     error
}

func (f *fakeFetcher) FetchFromGCS(ctx context.Context, uri string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[uri]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

func (f *fakeFetcher) ExtractFilenameFromGCSURI(uri string) string {
	return gcs.FileName(uri)
}

func TestJobHandler_ImportsStatement(t *testing.T) {
	store := inmemory.NewStore()
	svc := newTestService(t, store, domain.ImportResult{Source: domain.SourceCSV, Transactions: rows(4)})
	fetcher := &fakeFetcher{objects: map[string][]byte{"gs://bucket/u1/jan.csv": []byte("x")}}

	job := &jobs.ImportStatementJob{JobID: "j1", UserID: "u1", GCSURI: "gs://bucket/u1/jan.csv"}
	require.NoError(t, svc.JobHandler(fetcher)(context.Background(), job))

	require.NotNil(t, job.Result)
	assert.Equal(t, 4, job.Result.Created)
	assert.NotEmpty(t, job.Result.BatchID)
	assert.Len(t, store.TransactionsByUser("u1"), 4)

	batches, err := store.ListImportBatches(context.Background(), "u1", 10)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "jan.csv", batches[0].FileName)
}

func TestJobHandler_FetchErrorIsRetryable(t *testing.T) {
	svc := newTestService(t, inmemory.NewStore(), domain.ImportResult{})
	fetcher := &fakeFetcher{err: errors.New("connection reset")}

	err := svc.JobHandler(fetcher)(context.Background(), &jobs.ImportStatementJob{UserID: "u1", GCSURI: "gs://b/o.csv"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, jobs.ErrPermanent))
}

func TestJobHandler_UnreadableFileIsPermanent(t *testing.T) {
	svc := NewService(Deps{
		Parsers:      stubFinder{p: &stubParser{err: parser.ErrPasswordRequired}},
		Accounts:     inmemory.NewStore(),
		Transactions: inmemory.NewStore(),
	}, zerolog.Nop())
	fetcher := &fakeFetcher{objects: map[string][]byte{"gs://b/locked.pdf": []byte("%PDF")}}

	err := svc.JobHandler(fetcher)(context.Background(), &jobs.ImportStatementJob{UserID: "u1", GCSURI: "gs://b/locked.pdf"})
	assert.ErrorIs(t, err, jobs.ErrPermanent)
	assert.ErrorIs(t, err, parser.ErrPasswordRequired)
}
