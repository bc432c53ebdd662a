package importer

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/accounts"
	"github.com/dvloznov/finance-importer/internal/dedup"
	"github.com/dvloznov/finance-importer/internal/domain"
)

// Transaction types shown to users.
const (
	TypeIncome     = "INCOME"
	TypeExpense    = "EXPENSE"
	TypeInvestment = "INVESTMENT"
	TypeLoan       = "LOAN"
)

const defaultCategory = "other"

// maxDisplayAmount hides implausible amounts, usually a misread account
// number, instead of showing them.
var maxDisplayAmount = decimal.NewFromInt(1_000_000_000)

// PreviewTransaction is one row of a preview page. Construct it with
// NewPreviewTransaction so the defaults hold.
type PreviewTransaction struct {
	Index            int              `json:"index"`
	TransactionID    string           `json:"transactionId"`
	Date             string           `json:"date"`
	Amount           *decimal.Decimal `json:"amount"`
	Description      string           `json:"description"`
	MerchantName     string           `json:"merchantName,omitempty"`
	CategoryPrimary  string           `json:"categoryPrimary"`
	CategoryDetailed string           `json:"categoryDetailed"`
	TransactionType  string           `json:"transactionType"`
	CurrencyCode     string           `json:"currencyCode,omitempty"`
	PaymentChannel   string           `json:"paymentChannel,omitempty"`

	IsDuplicate         bool     `json:"isDuplicate"`
	DuplicateSimilarity *float64 `json:"duplicateSimilarity,omitempty"`
	DuplicateReason     string   `json:"duplicateReason,omitempty"`
	// SelectedByDefault is false for duplicates; the user may still pick them.
	SelectedByDefault bool `json:"selectedByDefault"`
}

// NewPreviewTransaction builds the preview row for the transaction at index
// of the file, given its duplicate map entry.
func NewPreviewTransaction(index int, tx domain.ParsedTransaction, dups domain.DuplicateMap) PreviewTransaction {
	category := normalizeCategory(tx.CategoryPrimary)
	p := PreviewTransaction{
		Index:            index,
		TransactionID:    tx.TransactionID,
		Date:             tx.Date.String(),
		Description:      strings.TrimSpace(tx.Description),
		MerchantName:     strings.TrimSpace(tx.MerchantName),
		CategoryPrimary:  category,
		CategoryDetailed: normalizeDetailed(tx.CategoryDetailed, category),
		TransactionType:  normalizeType(tx.TransactionType),
		CurrencyCode:     strings.ToUpper(strings.TrimSpace(tx.CurrencyCode)),
		PaymentChannel:   strings.TrimSpace(tx.PaymentChannel),
	}
	if tx.Amount.Abs().LessThanOrEqual(maxDisplayAmount) {
		a := tx.Amount
		p.Amount = &a
	}

	if matches, ok := dups[index]; ok {
		similarity, reason := dedup.DisplayMatch(matches)
		p.IsDuplicate = true
		p.DuplicateSimilarity = &similarity
		p.DuplicateReason = reason
	}
	p.SelectedByDefault = !p.IsDuplicate
	return p
}

func normalizeCategory(c string) string {
	c = strings.TrimSpace(c)
	if c == "" {
		return defaultCategory
	}
	return c
}

func normalizeDetailed(detailed, primary string) string {
	if d := strings.TrimSpace(detailed); d != "" {
		return d
	}
	return primary
}

func normalizeType(t string) string {
	switch u := strings.ToUpper(strings.TrimSpace(t)); u {
	case TypeIncome, TypeExpense, TypeInvestment, TypeLoan:
		return u
	}
	return TypeExpense
}

// DetectedAccountInfo describes the account evidence found in a statement and
// the existing account it matched, if any.
type DetectedAccountInfo struct {
	AccountName     string           `json:"accountName,omitempty"`
	InstitutionName string           `json:"institutionName,omitempty"`
	AccountType     string           `json:"accountType,omitempty"`
	AccountSubtype  string           `json:"accountSubtype,omitempty"`
	AccountNumber   string           `json:"accountNumber,omitempty"`
	Balance         *decimal.Decimal `json:"balance,omitempty"`
	BalanceDate     string           `json:"balanceDate,omitempty"`

	PaymentDueDate    string           `json:"paymentDueDate,omitempty"`
	MinimumPaymentDue *decimal.Decimal `json:"minimumPaymentDue,omitempty"`
	RewardPoints      *int64           `json:"rewardPoints,omitempty"`

	MatchedAccountID   string `json:"matchedAccountId,omitempty"`
	MatchedAccountName string `json:"matchedAccountName,omitempty"`
}

// NewDetectedAccountInfo summarises an analysis for display. The account
// number is reduced to its last four digits.
func NewDetectedAccountInfo(a *Analysis) *DetectedAccountInfo {
	d := a.Result.DetectedAccount
	m := a.Result.Metadata
	if d == nil && a.Matched == nil && m.IsEmpty() {
		return nil
	}

	info := &DetectedAccountInfo{}
	if d != nil {
		info.AccountName = accounts.SanitizeName(d.AccountName)
		info.InstitutionName = accounts.SanitizeName(d.InstitutionName)
		info.AccountType = d.AccountType
		info.AccountSubtype = d.AccountSubtype
		number := d.AccountNumber
		if number == "" {
			number = d.CardNumber
		}
		info.AccountNumber = accounts.NormalizeAccountNumber(number)
		if d.Balance.Valid {
			b := d.Balance.Decimal
			info.Balance = &b
		}
		if !d.BalanceDate.IsZero() {
			info.BalanceDate = d.BalanceDate.String()
		}
	}
	if !m.PaymentDueDate.IsZero() {
		info.PaymentDueDate = m.PaymentDueDate.String()
	}
	if m.MinimumPaymentDue.Valid {
		v := m.MinimumPaymentDue.Decimal
		info.MinimumPaymentDue = &v
	}
	info.RewardPoints = m.RewardPoints
	if a.Matched != nil {
		info.MatchedAccountID = a.Matched.AccountID
		info.MatchedAccountName = a.Matched.AccountName
	}
	return info
}

// PreviewResponse is one page of a preview.
type PreviewResponse struct {
	Source          domain.ImportSource  `json:"source"`
	FileName        string               `json:"fileName"`
	Transactions    []PreviewTransaction `json:"transactions"`
	DetectedAccount *DetectedAccountInfo `json:"detectedAccount,omitempty"`
	Duplicates      int                  `json:"duplicates"`
	Page            int                  `json:"page"`
	Size            int                  `json:"size"`
	Total           int                  `json:"total"`
	TotalPages      int                  `json:"totalPages"`
	HasNext         bool                 `json:"hasNext"`
	Errors          []string             `json:"errors,omitempty"`
}

// Preview parses a file and returns one page of annotated transactions
// without storing anything.
func (s *Service) Preview(ctx context.Context, req Request, page, size int) (*PreviewResponse, error) {
	if _, err := Paginate(0, 0, size, MaxPreviewPageSize); err != nil {
		return nil, err
	}
	a, err := s.Analyze(ctx, req, dedup.Options{})
	if err != nil {
		return nil, err
	}
	txs := a.Result.Transactions
	w, err := Paginate(len(txs), page, size, MaxPreviewPageSize)
	if err != nil {
		return nil, err
	}

	rows := make([]PreviewTransaction, 0, w.End-w.Start)
	for i := w.Start; i < w.End; i++ {
		rows = append(rows, NewPreviewTransaction(i, txs[i], a.Duplicates))
	}
	return &PreviewResponse{
		Source:          a.Result.Source,
		FileName:        req.FileName,
		Transactions:    rows,
		DetectedAccount: NewDetectedAccountInfo(a),
		Duplicates:      len(a.Duplicates),
		Page:            page,
		Size:            size,
		Total:           len(txs),
		TotalPages:      w.TotalPages,
		HasNext:         w.HasNext,
		Errors:          a.Result.Errors,
	}, nil
}
