package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/api/middleware"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/gcs"
	"github.com/dvloznov/finance-importer/internal/importer"
	"github.com/dvloznov/finance-importer/internal/inbox"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/logger"
	"github.com/dvloznov/finance-importer/internal/upload"
)

const (
	defaultPreviewSize = 100
	defaultChunkSize   = 100
	multipartMemory    = 32 << 20

	// PasswordHeader carries the password of an encrypted statement. Multipart
	// requests may send it as the "password" form field instead.
	PasswordHeader = "X-File-Password"
)

// Importer is the import service used by ImportHandler.
type Importer interface {
	Preview(ctx context.Context, req importer.Request, page, size int) (*importer.PreviewResponse, error)
	Import(ctx context.Context, req importer.Request) (*importer.BatchImportResponse, error)
	ImportChunk(ctx context.Context, req importer.Request, page, size int, cc importer.ChunkContext) (*importer.ChunkImportResponse, error)
	History(ctx context.Context, userID string, limit int) ([]*domain.ImportBatch, error)
}

// Uploads tracks chunked upload sessions.
type Uploads interface {
	UploadChunk(ctx context.Context, c upload.Chunk) (*upload.Status, error)
	Finalize(ctx context.Context, userID, uploadID string) (*upload.File, error)
	Cancel(ctx context.Context, userID, uploadID string) error
}

// ImportHandler handles statement import endpoints.
type ImportHandler struct {
	svc       Importer
	uploads   Uploads
	publisher jobs.Publisher
	bucket    string
	maxBytes  int64
	log       zerolog.Logger
}

// NewImportHandler creates a new import handler. GCS import jobs read from
// bucket only; a nil publisher or an empty bucket disables them.
func NewImportHandler(svc Importer, uploads Uploads, publisher jobs.Publisher, bucket string, maxBytes int64, log zerolog.Logger) *ImportHandler {
	return &ImportHandler{
		svc:       svc,
		uploads:   uploads,
		publisher: publisher,
		bucket:    bucket,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// Register adds the import routes to mux.
func (h *ImportHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/import", method(http.MethodPost, h.Import))
	mux.HandleFunc("/api/import/preview", method(http.MethodPost, h.Preview))
	mux.HandleFunc("/api/import/chunk", method(http.MethodPost, h.ImportChunk))
	mux.HandleFunc("/api/import/upload-chunk", method(http.MethodPost, h.UploadChunk))
	mux.HandleFunc("/api/import/finalize", method(http.MethodPost, h.Finalize))
	mux.HandleFunc("/api/import/upload", method(http.MethodDelete, h.CancelUpload))
	mux.HandleFunc("/api/import/gcs", method(http.MethodPost, h.ImportFromGCS))
	mux.HandleFunc("/api/imports", method(http.MethodGet, h.History))
}

// readFile reads the uploaded file from multipart field "file" or from the
// raw body named by X-Filename.
func (h *ImportHandler) readFile(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return "", nil, err
			}
			return "", nil, badRequest("malformed multipart body")
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, badRequest("file is required")
		}
		defer f.Close()
		data, err := io.ReadAll(f)
		if err != nil {
			return "", nil, fmt.Errorf("reading upload: %w", err)
		}
		return baseName(header.Filename), data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, err
	}
	return baseName(r.Header.Get("X-Filename")), data, nil
}

// baseName strips any client supplied directories from a file name.
func baseName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	return path.Base(strings.ReplaceAll(name, "\\", "/"))
}

func (h *ImportHandler) request(r *http.Request, fileName string, data []byte) importer.Request {
	q := r.URL.Query()
	req := importer.Request{
		UserID:    userID(r.Context()),
		FileName:  fileName,
		Data:      data,
		Password:  filePassword(r),
		AccountID: q.Get("accountId"),
	}
	for _, s := range strings.Split(q.Get("include"), ",") {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			req.Include = append(req.Include, i)
		}
	}
	return req
}

// filePassword reads the statement password from the header or, for
// multipart uploads, the form. Query strings end up in access logs and are
// never read.
func filePassword(r *http.Request) string {
	if p := r.Header.Get(PasswordHeader); p != "" {
		return p
	}
	if r.MultipartForm != nil {
		if v := r.MultipartForm.Value["password"]; len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// Preview handles POST /api/import/preview
func (h *ImportHandler) Preview(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := intParam(r, "page", 0)
	if err != nil {
		writeServiceError(w, log, err, "")
		return
	}
	size, err := intParam(r, "size", defaultPreviewSize)
	if err != nil {
		writeServiceError(w, log, err, "")
		return
	}
	name, data, err := h.readFile(w, r)
	if err != nil {
		writeServiceError(w, log, err, "Failed to preview file")
		return
	}

	resp, err := h.svc.Preview(r.Context(), h.request(r, name, data), page, size)
	if err != nil {
		writeServiceError(w, log, err, "Failed to preview file")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Import handles POST /api/import
func (h *ImportHandler) Import(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	name, data, err := h.readFile(w, r)
	if err != nil {
		writeServiceError(w, log, err, "Failed to import file")
		return
	}
	resp, err := h.svc.Import(r.Context(), h.request(r, name, data))
	if err != nil {
		writeServiceError(w, log, err, "Failed to import file")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// ImportChunk handles POST /api/import/chunk
func (h *ImportHandler) ImportChunk(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	page, err := intParam(r, "page", 0)
	if err != nil {
		writeServiceError(w, log, err, "")
		return
	}
	size, err := intParam(r, "size", defaultChunkSize)
	if err != nil {
		writeServiceError(w, log, err, "")
		return
	}
	name, data, err := h.readFile(w, r)
	if err != nil {
		writeServiceError(w, log, err, "Failed to import file")
		return
	}

	q := r.URL.Query()
	resp, err := h.svc.ImportChunk(r.Context(), h.request(r, name, data), page, size, importer.ChunkContext{
		ImportID:        q.Get("importId"),
		ImportAccountID: q.Get("importAccountId"),
	})
	if err != nil {
		writeServiceError(w, log, err, "Failed to import file")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// UploadChunk handles POST /api/import/upload-chunk
func (h *ImportHandler) UploadChunk(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	index, err1 := strconv.Atoi(r.Header.Get("X-Chunk-Index"))
	total, err2 := strconv.Atoi(r.Header.Get("X-Total-Chunks"))
	if err1 != nil || err2 != nil {
		middleware.WriteError(w, http.StatusBadRequest, "X-Chunk-Index and X-Total-Chunks must be integers")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeServiceError(w, log, err, "Failed to read chunk")
		return
	}

	status, err := h.uploads.UploadChunk(r.Context(), upload.Chunk{
		UploadID:    r.Header.Get("X-Upload-Id"),
		UserID:      userID(r.Context()),
		Index:       index,
		Total:       total,
		FileName:    baseName(r.Header.Get("X-Filename")),
		ContentType: r.Header.Get("X-Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeServiceError(w, log, err, "Failed to store chunk")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, status)
}

// Finalize handles POST /api/import/finalize
func (h *ImportHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "uploadId is required")
		return
	}
	f, err := h.uploads.Finalize(r.Context(), userID(r.Context()), uploadID)
	if err != nil {
		writeServiceError(w, log, err, "Failed to assemble upload")
		return
	}

	resp, err := h.svc.Import(r.Context(), h.request(r, f.FileName, f.Data))
	if err != nil {
		writeServiceError(w, log, err, "Failed to import file")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// CancelUpload handles DELETE /api/import/upload
func (h *ImportHandler) CancelUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "uploadId is required")
		return
	}
	if err := h.uploads.Cancel(r.Context(), userID(r.Context()), uploadID); err != nil {
		writeServiceError(w, logger.FromContext(r.Context()), err, "Failed to cancel upload")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ImportFromGCS handles POST /api/import/gcs
func (h *ImportHandler) ImportFromGCS(w http.ResponseWriter, r *http.Request) {
	if h.publisher == nil || h.bucket == "" {
		middleware.WriteError(w, http.StatusServiceUnavailable, "GCS imports are not configured")
		return
	}

	var req struct {
		GCSURI    string `json:"gcs_uri"`
		AccountID string `json:"account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	bucket, object, err := gcs.ParseURI(req.GCSURI)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	uid := userID(r.Context())
	if !h.ownsObject(uid, bucket, object) {
		h.log.Warn().
			Str("user_id", uid).
			Str("gcs_uri", req.GCSURI).
			Msg("Rejected GCS import outside the user's inbox")
		middleware.WriteError(w, http.StatusForbidden, "GCS object is not in your inbox")
		return
	}

	job := &jobs.ImportStatementJob{
		UserID:    uid,
		GCSURI:    req.GCSURI,
		FileName:  gcs.FileName(req.GCSURI),
		AccountID: req.AccountID,
	}
	if err := h.publisher.PublishImportStatement(r.Context(), job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("gcs_uri", job.GCSURI).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}

// ownsObject reports whether object sits in the configured bucket under the
// user's inbox folder, inbox/{userID}/.
func (h *ImportHandler) ownsObject(uid, bucket, object string) bool {
	if bucket != h.bucket || path.Clean("/"+object) != "/"+object {
		return false
	}
	owner, _, ok := inbox.SplitObject(inbox.DefaultPrefix, object)
	return ok && owner == uid
}

// BatchView is the JSON form of an import batch.
type BatchView struct {
	BatchID    string    `json:"batchId"`
	Source     string    `json:"source"`
	FileName   string    `json:"fileName"`
	AccountID  string    `json:"accountId,omitempty"`
	Total      int       `json:"total"`
	Created    int       `json:"created"`
	Failed     int       `json:"failed"`
	Duplicates int       `json:"duplicates"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// History handles GET /api/imports
func (h *ImportHandler) History(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	limit, err := intParam(r, "limit", 0)
	if err != nil {
		writeServiceError(w, log, err, "")
		return
	}
	batches, err := h.svc.History(r.Context(), userID(r.Context()), limit)
	if err != nil {
		writeServiceError(w, log, err, "Failed to list imports")
		return
	}

	views := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		views = append(views, BatchView{
			BatchID:    b.BatchID,
			Source:     string(b.Source),
			FileName:   b.FileName,
			AccountID:  b.AccountID,
			Total:      b.Total,
			Created:    b.Created,
			Failed:     b.Failed,
			Duplicates: b.Duplicates,
			StartedAt:  b.StartedAt,
			FinishedAt: b.FinishedAt,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": views,
		"count":   len(views),
	})
}
