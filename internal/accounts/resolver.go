package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

// pageReuseWindow bounds how old an account may be for a later page of an
// import to adopt it without an explicit id.
const pageReuseWindow = time.Hour

// MatchKind says how an account was resolved.
type MatchKind string

const (
	MatchedByID         MatchKind = "matched_id"
	MatchedByNumber     MatchKind = "account_number"
	MatchedByAttributes MatchKind = "attributes"
	MatchedByImport     MatchKind = "import_page"
	MatchedByCreation   MatchKind = "created"
)

// PageContext threads the state of a multi-page import between calls.
type PageContext struct {
	Page int
	// ImportAccountID is the account resolved for page 0 of the same import.
	ImportAccountID string
}

// Resolution is the account a statement was assigned to.
type Resolution struct {
	AccountID string
	Account   *domain.Account
	Created   bool
	MatchedBy MatchKind
}

// Resolver matches statements to accounts and creates accounts when needed.
type Resolver struct {
	repo  bq.AccountRepository
	log   zerolog.Logger
	now   func() time.Time
	newID func() string
}

// NewResolver creates a Resolver backed by repo.
func NewResolver(repo bq.AccountRepository, log zerolog.Logger) *Resolver {
	return &Resolver{
		repo:  repo,
		log:   log,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

// Resolve picks the account for a statement. A nil Resolution means no account
// could be determined and the caller should use the pseudo account.
func (r *Resolver) Resolve(ctx context.Context, userID string, detected *domain.DetectedAccount, page PageContext, stmt domain.StatementMetadata) (*Resolution, error) {
	if userID == "" {
		return nil, errors.New("Resolve: user id is required")
	}

	existing, err := r.repo.FindAccountsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Resolve: listing accounts: %w", err)
	}

	update := UpdateFromStatement(detected, stmt)

	if detected != nil && detected.MatchedAccountID != "" {
		if acc := findOwned(userID, detected.MatchedAccountID, existing); acc != nil {
			r.mergeInto(ctx, acc, update)
			return &Resolution{AccountID: acc.AccountID, Account: acc, MatchedBy: MatchedByID}, nil
		}
		r.log.Warn().Str("account_id", detected.MatchedAccountID).Msg("Matched account not found for user, continuing detection")
	}

	if acc := Match(userID, detected, existing); acc != nil {
		kind := MatchedByAttributes
		if n := detectedNumber(detected); n != "" && NormalizeAccountNumber(acc.AccountNumber) == n {
			kind = MatchedByNumber
		}
		r.mergeInto(ctx, acc, update)
		return &Resolution{AccountID: acc.AccountID, Account: acc, MatchedBy: kind}, nil
	}

	if page.Page > 0 {
		acc := r.pageAccount(userID, page, existing)
		if acc == nil {
			r.log.Info().Int("page", page.Page).Msg("No account from the first page of this import, using pseudo account")
			return nil, nil
		}
		r.mergeInto(ctx, acc, update)
		return &Resolution{AccountID: acc.AccountID, Account: acc, MatchedBy: MatchedByImport}, nil
	}

	if !detected.HasInformation() {
		r.log.Debug().Msg("Detected account carries no information, using pseudo account")
		return nil, nil
	}

	acc, created, err := r.CreateAccount(ctx, userID, detected, MetadataFromStatement(stmt))
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	if !created {
		r.mergeInto(ctx, acc, update)
		return &Resolution{AccountID: acc.AccountID, Account: acc, MatchedBy: MatchedByNumber}, nil
	}
	return &Resolution{AccountID: acc.AccountID, Account: acc, Created: true, MatchedBy: MatchedByCreation}, nil
}

// pageAccount returns the account a later page should share with page 0.
func (r *Resolver) pageAccount(userID string, page PageContext, existing []*domain.Account) *domain.Account {
	if page.ImportAccountID != "" {
		return findOwned(userID, page.ImportAccountID, existing)
	}
	var newest *domain.Account
	for _, a := range existing {
		if a == nil || a.UserID != userID || !a.Active {
			continue
		}
		if newest == nil || a.CreatedAt.After(newest.CreatedAt) {
			newest = a
		}
	}
	if newest == nil || r.now().Sub(newest.CreatedAt) > pageReuseWindow {
		return nil
	}
	return newest
}

// CreateAccount creates an account for detected, attaching meta when it carries
// a payment due date. When an account with the same number already exists, or
// appears while inserting, that account is returned with created=false.
func (r *Resolver) CreateAccount(ctx context.Context, userID string, detected *domain.DetectedAccount, meta Metadata) (acc *domain.Account, created bool, err error) {
	if detected == nil {
		detected = &domain.DetectedAccount{}
	}
	number := detectedNumber(detected)

	if number != "" {
		existing, err := r.findByNumber(ctx, userID, number)
		if err != nil {
			return nil, false, fmt.Errorf("CreateAccount: checking for existing account: %w", err)
		}
		if existing != nil {
			r.log.Info().Str("account_id", existing.AccountID).Msg("Account appeared before creation, reusing it")
			return existing, false, nil
		}
	}

	acc = NewAccount(userID, detected, meta, r.newID(), r.now())
	if err := r.repo.CreateAccount(ctx, acc); err != nil {
		if number != "" {
			existing, qerr := r.findByNumber(ctx, userID, number)
			if qerr == nil && existing != nil {
				r.log.Info().Err(err).Str("account_id", existing.AccountID).Msg("Account created concurrently, reusing it")
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("CreateAccount: inserting account: %w", err)
	}

	r.log.Info().
		Str("account_id", acc.AccountID).
		Str("institution", acc.InstitutionName).
		Str("account_type", acc.AccountType).
		Msg("Created account from import")
	return acc, true, nil
}

func (r *Resolver) findByNumber(ctx context.Context, userID, number string) (*domain.Account, error) {
	accounts, err := r.repo.FindAccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Active && NormalizeAccountNumber(a.AccountNumber) == number {
			return a, nil
		}
	}
	return nil, nil
}

// mergeInto applies statement metadata to a matched account. Failures are
// logged and never fail the import.
func (r *Resolver) mergeInto(ctx context.Context, acc *domain.Account, u MetadataUpdate) {
	if !MergeStatementMetadata(acc, u) {
		return
	}
	acc.UpdatedAt = r.now()
	if err := r.repo.SaveAccount(ctx, acc); err != nil {
		r.log.Warn().Err(err).Str("account_id", acc.AccountID).Msg("Failed to save statement metadata")
		return
	}
	r.log.Debug().Str("account_id", acc.AccountID).Msg("Updated account from statement metadata")
}

// NewAccount builds, without storing, the account created for detected.
func NewAccount(userID string, detected *domain.DetectedAccount, meta Metadata, accountID string, now time.Time) *domain.Account {
	number := detectedNumber(detected)

	institution := SanitizeName(detected.InstitutionName)
	if institution == "" {
		institution = unknownInstitute
	}
	accountType := NormalizeAccountType(detected.AccountType)
	name := SanitizeName(detected.AccountName)
	if name == "" {
		// A blank type stays blank so an evidence-free account keeps the fallback name.
		nameType := accountType
		if SanitizeName(detected.AccountType) == "" {
			nameType = ""
		}
		name = GenerateAccountName(detected.InstitutionName, nameType, detected.AccountSubtype, number)
	}

	acc := &domain.Account{
		AccountID:       accountID,
		UserID:          userID,
		AccountName:     name,
		InstitutionName: institution,
		AccountType:     accountType,
		AccountSubtype:  SanitizeName(detected.AccountSubtype),
		AccountNumber:   number,
		CurrencyCode:    defaultCurrency,
		Balance:         decimal.NewNullDecimal(decimal.Zero),
		BalanceDate:     detected.BalanceDate,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if detected.Balance.Valid {
		acc.Balance = detected.Balance
	}

	if pdf, ok := meta.(PdfMetadata); ok && !pdf.PaymentDueDate.IsZero() {
		acc.PaymentDueDate = pdf.PaymentDueDate
		acc.MinimumPaymentDue = pdf.MinimumPaymentDue
		if pdf.RewardPoints != nil {
			p := *pdf.RewardPoints
			acc.RewardPoints = &p
		}
	}
	return acc
}
