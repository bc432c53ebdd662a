// Package handlers implements the HTTP endpoints of the import service.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/api/middleware"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/importer"
	"github.com/dvloznov/finance-importer/internal/jobs"
	"github.com/dvloznov/finance-importer/internal/parser"
	"github.com/dvloznov/finance-importer/internal/upload"
)

// method rejects requests with any other HTTP method.
func method(m string, f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		f(w, r)
	}
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge), errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrSessionNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, importer.ErrValidation),
		errors.Is(err, upload.ErrInvalidChunk),
		errors.Is(err, upload.ErrIncomplete),
		errors.Is(err, parser.ErrUnsupportedFormat),
		errors.Is(err, parser.ErrPasswordRequired),
		errors.Is(err, parser.ErrInvalidPassword),
		errors.Is(err, parser.ErrEmptyDocument):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeServiceError writes err with its mapped status. Server errors are
// logged and hidden behind fallback.
func writeServiceError(w http.ResponseWriter, log zerolog.Logger, err error, fallback string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(fallback)
		middleware.WriteError(w, status, fallback)
		return
	}
	log.Debug().Err(err).Int("status", status).Msg("Request rejected")
	middleware.WriteError(w, status, err.Error())
}

// intParam reads an integer query parameter, returning def when it is absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("%s must be an integer", name)
	}
	return n, nil
}

// badRequest marks a malformed HTTP request.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", importer.ErrValidation, fmt.Sprintf(format, args...))
}

func userID(ctx context.Context) string {
	return middleware.UserIDFromContext(ctx)
}

// AccountView is the JSON form of an account.
type AccountView struct {
	AccountID         string           `json:"accountId"`
	AccountName       string           `json:"accountName"`
	InstitutionName   string           `json:"institutionName"`
	AccountType       string           `json:"accountType"`
	AccountSubtype    string           `json:"accountSubtype,omitempty"`
	AccountNumber     string           `json:"accountNumber,omitempty"`
	CurrencyCode      string           `json:"currencyCode,omitempty"`
	Balance           *decimal.Decimal `json:"balance,omitempty"`
	BalanceDate       string           `json:"balanceDate,omitempty"`
	PaymentDueDate    string           `json:"paymentDueDate,omitempty"`
	MinimumPaymentDue *decimal.Decimal `json:"minimumPaymentDue,omitempty"`
	RewardPoints      *int64           `json:"rewardPoints,omitempty"`
	Active            bool             `json:"active"`
	CreatedAt         time.Time        `json:"createdAt"`
}

func newAccountView(a *domain.Account) AccountView {
	v := AccountView{
		AccountID:       a.AccountID,
		AccountName:     a.AccountName,
		InstitutionName: a.InstitutionName,
		AccountType:     a.AccountType,
		AccountSubtype:  a.AccountSubtype,
		AccountNumber:   a.AccountNumber,
		CurrencyCode:    a.CurrencyCode,
		RewardPoints:    a.RewardPoints,
		Active:          a.Active,
		CreatedAt:       a.CreatedAt,
	}
	if a.Balance.Valid {
		b := a.Balance.Decimal
		v.Balance = &b
	}
	if a.MinimumPaymentDue.Valid {
		m := a.MinimumPaymentDue.Decimal
		v.MinimumPaymentDue = &m
	}
	if !a.BalanceDate.IsZero() {
		v.BalanceDate = a.BalanceDate.String()
	}
	if !a.PaymentDueDate.IsZero() {
		v.PaymentDueDate = a.PaymentDueDate.String()
	}
	return v
}

// AccountLister lists a user's accounts.
type AccountLister interface {
	FindAccountsByUser(ctx context.Context, userID string) ([]*domain.Account, error)
}

// AccountsHandler handles account endpoints.
type AccountsHandler struct {
	repo AccountLister
	log  zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(repo AccountLister, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{repo: repo, log: log}
}

// Register adds the account routes to mux.
func (h *AccountsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/accounts", method(http.MethodGet, h.ListAccounts))
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accts, err := h.repo.FindAccountsByUser(r.Context(), userID(r.Context()))
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list accounts")
		return
	}

	views := make([]AccountView, 0, len(accts))
	for _, a := range accts {
		views = append(views, newAccountView(a))
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"accounts": views,
		"count":    len(views),
	})
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store jobs.JobStore
	log   zerolog.Logger
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store: store,
		log:   log,
	}
}

// Register adds the job routes to mux.
func (h *JobsHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/jobs", method(http.MethodGet, h.ListJobs))
	mux.HandleFunc("/api/jobs/", method(http.MethodGet, func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		h.GetJob(w, r, jobID)
	}))
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err == nil && job.UserID != userID(ctx) {
		err = jobs.ErrJobNotFound
	}
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to get job")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Parse query parameters
	query := r.URL.Query()
	filter := jobs.JobFilter{
		UserID: userID(ctx),
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		writeServiceError(w, h.log, err, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}
