package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-importer/internal/api/middleware"
	"github.com/dvloznov/finance-importer/internal/importer"
	"github.com/dvloznov/finance-importer/internal/infra/inmemory"
	"github.com/dvloznov/finance-importer/internal/jobs"
	jobsmem "github.com/dvloznov/finance-importer/internal/jobs/inmemory"
	"github.com/dvloznov/finance-importer/internal/registry"
	"github.com/dvloznov/finance-importer/internal/upload"
)

const chaseCSV = "Transaction Date,Post Date,Description,Category,Type,Amount,Memo\n" +
	"01/02/2024,01/03/2024,AMAZON MKTPL*AB12C,Shopping,Sale,-23.99,\n" +
	"01/07/2024,01/08/2024,SPOTIFY USA,Entertainment,Sale,-10.99,\n"

type testServer struct {
	handler  http.Handler
	store    *inmemory.Store
	jobStore *jobsmem.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zerolog.Nop()
	store := inmemory.NewStore()
	svc := importer.NewService(importer.Deps{
		Parsers:      registry.New(log, nil),
		Accounts:     store,
		Transactions: store,
		Batches:      store,
	}, log)

	jobStore := jobsmem.NewStore()
	queue := jobsmem.NewQueue(10, jobStore)
	t.Cleanup(func() { queue.Close() })

	mux := http.NewServeMux()
	NewImportHandler(svc, upload.NewManager(upload.NewMemoryStore(), 1<<20, log), queue, "statements", 1<<20, log).Register(mux)
	NewAccountsHandler(store, log).Register(mux)
	NewJobsHandler(jobStore, log).Register(mux)
	mux.HandleFunc("/health", Health)

	return &testServer{
		handler:  middleware.Auth("/health")(mux),
		store:    store,
		jobStore: jobStore,
	}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	if req.Header.Get(middleware.UserIDHeader) == "" {
		req.Header.Set(middleware.UserIDHeader, "u1")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func rawUpload(method, target, fileName, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	if fileName != "" {
		req.Header.Set("X-Filename", fileName)
	}
	return req
}

func multipartUpload(t *testing.T, target, fileName, body string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPreview_Multipart(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, multipartUpload(t, "/api/import/preview?page=0&size=10", "Chase4821_Activity20240131.CSV", chaseCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[importer.PreviewResponse](t, rec)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 1, resp.TotalPages)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "SPOTIFY USA", resp.Transactions[1].Description)
	require.NotNil(t, resp.DetectedAccount)
	assert.Equal(t, "4821", resp.DetectedAccount.AccountNumber)

	assert.Empty(t, s.store.TransactionsByUser("u1"))
}

func TestPreview_BadRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  *http.Request
		want int
	}{
		{name: "size zero", req: rawUpload(http.MethodPost, "/api/import/preview?size=0", "a.csv", chaseCSV), want: http.StatusBadRequest},
		{name: "size not a number", req: rawUpload(http.MethodPost, "/api/import/preview?size=ten", "a.csv", chaseCSV), want: http.StatusBadRequest},
		{name: "page past end", req: rawUpload(http.MethodPost, "/api/import/preview?page=3", "a.csv", chaseCSV), want: http.StatusBadRequest},
		{name: "empty body", req: rawUpload(http.MethodPost, "/api/import/preview", "a.csv", ""), want: http.StatusBadRequest},
		{name: "unsupported file", req: rawUpload(http.MethodPost, "/api/import/preview", "photo.heic", "\x00\x00\x00\x18ftypheic"), want: http.StatusBadRequest},
		{name: "wrong method", req: httptest.NewRequest(http.MethodGet, "/api/import/preview", nil), want: http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.do(t, tt.req).Code)
		})
	}
}

func TestImport_RawBodyIsIdempotent(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, rawUpload(http.MethodPost, "/api/import", "Chase4821_Activity20240131.CSV", chaseCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[importer.BatchImportResponse](t, rec)
	assert.Equal(t, 2, first.Created)
	assert.NotEmpty(t, first.CreatedAccountID)

	rec = s.do(t, rawUpload(http.MethodPost, "/api/import", "Chase4821_Activity20240131.CSV", chaseCSV))
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[importer.BatchImportResponse](t, rec)
	assert.Zero(t, second.Created)
	assert.Equal(t, 2, second.Duplicates)
	assert.Equal(t, first.AccountID, second.AccountID)
	assert.Empty(t, second.CreatedAccountID)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/accounts", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	accts := decode[struct {
		Accounts []AccountView `json:"accounts"`
	}](t, rec)
	require.Len(t, accts.Accounts, 1)
	assert.Equal(t, "4821", accts.Accounts[0].AccountNumber)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/imports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[struct {
		Imports []BatchView `json:"imports"`
	}](t, rec)
	require.Len(t, history.Imports, 2)
	assert.Equal(t, second.BatchID, history.Imports[0].BatchID)
}

func TestImportChunk(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, rawUpload(http.MethodPost, "/api/import/chunk?page=0&size=1", "Chase4821_Activity20240131.CSV", chaseCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page0 := decode[importer.ChunkImportResponse](t, rec)
	assert.Equal(t, 2, page0.TotalPages)
	assert.True(t, page0.HasNext)
	assert.Equal(t, 1, page0.ImportResponse.Created)

	target := "/api/import/chunk?page=1&size=1&importId=" + page0.ImportID + "&importAccountId=" + page0.ImportResponse.AccountID
	rec = s.do(t, rawUpload(http.MethodPost, target, "Chase4821_Activity20240131.CSV", chaseCSV))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page1 := decode[importer.ChunkImportResponse](t, rec)
	assert.False(t, page1.HasNext)
	assert.Equal(t, 1, page1.ImportResponse.Created)
	assert.Equal(t, page0.ImportResponse.AccountID, page1.ImportResponse.AccountID)

	rec = s.do(t, rawUpload(http.MethodPost, "/api/import/chunk?size=501", "a.csv", chaseCSV))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func chunkRequest(uploadID string, index, total int, fileName, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/import/upload-chunk", bytes.NewBufferString(body))
	req.Header.Set("X-Upload-Id", uploadID)
	req.Header.Set("X-Chunk-Index", strconv.Itoa(index))
	req.Header.Set("X-Total-Chunks", strconv.Itoa(total))
	if fileName != "" {
		req.Header.Set("X-Filename", fileName)
	}
	return req
}

func TestChunkedUpload(t *testing.T) {
	s := newTestServer(t)
	half := len(chaseCSV) / 2

	rec := s.do(t, chunkRequest("up-1", 1, 2, "", chaseCSV[half:]))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/import/finalize?uploadId=up-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "1/2 chunks received")

	rec = s.do(t, chunkRequest("up-1", 0, 2, "Chase4821_Activity20240131.CSV", chaseCSV[:half]))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[upload.Status](t, rec)
	assert.True(t, status.Complete)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/import/finalize?uploadId=up-1", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[importer.BatchImportResponse](t, rec)
	assert.Equal(t, 2, resp.Created)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/import/finalize?uploadId=up-1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelUpload(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, chunkRequest("up-2", 0, 3, "big.pdf", "%PDF-1.7"))
	require.Equal(t, http.StatusOK, rec.Code)

	other := httptest.NewRequest(http.MethodDelete, "/api/import/upload?uploadId=up-2", nil)
	other.Header.Set(middleware.UserIDHeader, "u2")
	assert.Equal(t, http.StatusNotFound, s.do(t, other).Code)

	rec = s.do(t, httptest.NewRequest(http.MethodDelete, "/api/import/upload?uploadId=up-2", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, chunkRequest("up-3", 0, 1, "x.csv", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestImportFromGCS_EnqueuesJob(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/import/gcs", bytes.NewBufferString(`{"gcs_uri":"gs://statements/inbox/u1/jan.csv"}`))
	rec := s.do(t, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	body := decode[map[string]string](t, rec)
	require.NotEmpty(t, body["job_id"])
	assert.Equal(t, string(jobs.JobStatusPending), body["status"])

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/"+body["job_id"], nil))
	require.Equal(t, http.StatusOK, rec.Code)
	job := decode[jobs.ImportStatementJob](t, rec)
	assert.Equal(t, "jan.csv", job.FileName)

	other := httptest.NewRequest(http.MethodGet, "/api/jobs/"+body["job_id"], nil)
	other.Header.Set(middleware.UserIDHeader, "u2")
	assert.Equal(t, http.StatusNotFound, s.do(t, other).Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rec)
	assert.Equal(t, 1, list.Count)

	bad := httptest.NewRequest(http.MethodPost, "/api/import/gcs", bytes.NewBufferString(`{"gcs_uri":"s3://nope/x.csv"}`))
	assert.Equal(t, http.StatusBadRequest, s.do(t, bad).Code)

	_, err := s.jobStore.GetJob(context.Background(), body["job_id"])
	assert.NoError(t, err)
}

func TestImportFromGCS_RequiresOwnInbox(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want int
	}{
		{name: "own inbox", uri: "gs://statements/inbox/u1/feb.csv", want: http.StatusAccepted},
		{name: "other user's inbox", uri: "gs://statements/inbox/u2/feb.csv", want: http.StatusForbidden},
		{name: "other bucket", uri: "gs://someone-else/inbox/u1/feb.csv", want: http.StatusForbidden},
		{name: "outside inbox", uri: "gs://statements/uploads/abc/00000", want: http.StatusForbidden},
		{name: "bucket root", uri: "gs://statements/feb.csv", want: http.StatusForbidden},
		{name: "dot segments", uri: "gs://statements/inbox/u1/../u2/feb.csv", want: http.StatusForbidden},
		{name: "folder only", uri: "gs://statements/inbox/u1/", want: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			req := httptest.NewRequest(http.MethodPost, "/api/import/gcs", bytes.NewBufferString(`{"gcs_uri":"`+tt.uri+`"}`))
			rec := s.do(t, req)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())

			rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
			require.Equal(t, http.StatusOK, rec.Code)
			list := decode[struct {
				Count int `json:"count"`
			}](t, rec)
			if tt.want == http.StatusAccepted {
				assert.Equal(t, 1, list.Count)
			} else {
				assert.Zero(t, list.Count, "rejected URIs never reach the queue")
			}
		})
	}
}

func TestChunkedUpload_TotalSizeLimit(t *testing.T) {
	s := newTestServer(t)
	part := string(bytes.Repeat([]byte("a"), 600<<10))

	rec := s.do(t, chunkRequest("up-9", 0, 2, "big.csv", part))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, chunkRequest("up-9", 1, 2, "", part))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/api/import/finalize?uploadId=up-9", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "the oversized chunk was never stored")
}

func TestFilePassword(t *testing.T) {
	h := NewImportHandler(nil, nil, nil, "", 1<<20, zerolog.Nop())

	t.Run("header", func(t *testing.T) {
		req := rawUpload(http.MethodPost, "/api/import", "s.pdf", "%PDF-1.7")
		req.Header.Set(PasswordHeader, "hunter2")
		name, data, err := h.readFile(httptest.NewRecorder(), req)
		require.NoError(t, err)
		assert.Equal(t, "hunter2", h.request(req, name, data).Password)
	})

	t.Run("multipart field", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("password", "s3cret"))
		fw, err := mw.CreateFormFile("file", "s.pdf")
		require.NoError(t, err)
		_, err = fw.Write([]byte("%PDF-1.7"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/api/import", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		name, data, err := h.readFile(httptest.NewRecorder(), req)
		require.NoError(t, err)
		assert.Equal(t, "s3cret", h.request(req, name, data).Password)
	})

	t.Run("query string is ignored", func(t *testing.T) {
		req := rawUpload(http.MethodPost, "/api/import?password=leaked", "s.pdf", "%PDF-1.7")
		name, data, err := h.readFile(httptest.NewRecorder(), req)
		require.NoError(t, err)
		assert.Empty(t, h.request(req, name, data).Password)
	})
}

func TestUploadTooLarge(t *testing.T) {
	s := newTestServer(t)
	big := bytes.Repeat([]byte("a"), 2<<20)

	req := httptest.NewRequest(http.MethodPost, "/api/import", bytes.NewReader(big))
	req.Header.Set("X-Filename", "huge.csv")
	assert.Equal(t, http.StatusRequestEntityTooLarge, s.do(t, req).Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
