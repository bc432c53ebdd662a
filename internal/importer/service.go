// Package importer runs statement imports: parse, detect duplicates, resolve
// the account and persist transactions in batches.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/finance-importer/internal/accounts"
	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/dedup"
	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

// ErrValidation marks malformed requests. Callers map it to a client error.
var ErrValidation = errors.New("invalid import request")

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ParserFinder picks the parser for a file.
type ParserFinder interface {
	FindParser(fileName string, data []byte) (parser.Parser, error)
}

// DuplicateDetector builds the duplicate map for parsed transactions.
type DuplicateDetector interface {
	DetectDuplicates(ctx context.Context, userID string, candidates []domain.ParsedTransaction, opts dedup.Options) (domain.DuplicateMap, error)
}

// AccountResolver assigns statements to accounts. A nil Resolution means the
// pseudo account.
type AccountResolver interface {
	Resolve(ctx context.Context, userID string, detected *domain.DetectedAccount, page accounts.PageContext, stmt domain.StatementMetadata) (*accounts.Resolution, error)
}

// Deps are the collaborators of a Service. Batches may be nil.
type Deps struct {
	Parsers      ParserFinder
	Accounts     bq.AccountRepository
	Transactions bq.TransactionRepository
	Batches      bq.ImportBatchRepository

	// Detector and Resolver default to the dedup and accounts implementations
	// over the repositories above.
	Detector DuplicateDetector
	Resolver AccountResolver
}

// Service runs previews and imports.
type Service struct {
	parsers  ParserFinder
	accounts bq.AccountRepository
	txs      bq.TransactionRepository
	batches  bq.ImportBatchRepository
	detector DuplicateDetector
	resolver AccountResolver
	log      zerolog.Logger
	now      func() time.Time
	newID    func() string
}

// NewService creates a Service.
func NewService(deps Deps, log zerolog.Logger) *Service {
	s := &Service{
		parsers:  deps.Parsers,
		accounts: deps.Accounts,
		txs:      deps.Transactions,
		batches:  deps.Batches,
		detector: deps.Detector,
		resolver: deps.Resolver,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	if s.detector == nil {
		s.detector = dedup.NewDetector(deps.Transactions, log)
	}
	if s.resolver == nil {
		s.resolver = accounts.NewResolver(deps.Accounts, log)
	}
	return s
}

// Request is one uploaded statement.
type Request struct {
	UserID   string
	FileName string
	Data     []byte
	Password string
	// AccountID is an account the caller chose explicitly.
	AccountID string
	// Include lists file indices of fuzzy duplicates the caller wants imported anyway.
	Include []int
}

func (r Request) validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return validationError("user id is required")
	}
	if len(r.Data) == 0 {
		return validationError("file is required")
	}
	return nil
}

// Analysis is the shared first step of preview and import, so both see the
// same duplicate map and account detection for a file.
type Analysis struct {
	Result     *domain.ImportResult
	Duplicates domain.DuplicateMap
	// Matched is the existing account the statement belongs to, if any.
	Matched *domain.Account
}

// Analyze parses the file, then detects duplicates and loads the user's
// accounts concurrently.
func (s *Service) Analyze(ctx context.Context, req Request, opts dedup.Options) (*Analysis, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	p, err := s.parsers.FindParser(req.FileName, req.Data)
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	result, err := p.Parse(ctx, req.Data, parser.Options{
		FileName: req.FileName,
		UserID:   req.UserID,
		Password: req.Password,
		Now:      s.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("Analyze: parsing %s file: %w", p.Name(), err)
	}
	if req.AccountID != "" {
		if result.DetectedAccount == nil {
			result.DetectedAccount = &domain.DetectedAccount{}
		}
		result.DetectedAccount.MatchedAccountID = req.AccountID
	}

	var (
		dups     domain.DuplicateMap
		existing []*domain.Account
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		dups, err = s.detector.DetectDuplicates(gctx, req.UserID, result.Transactions, opts)
		return err
	})
	g.Go(func() error {
		var err error
		existing, err = s.accounts.FindAccountsByUser(gctx, req.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}

	s.log.Debug().
		Str("file", req.FileName).
		Str("source", string(result.Source)).
		Int("transactions", len(result.Transactions)).
		Int("duplicates", len(dups)).
		Int("parse_errors", len(result.Errors)).
		Msg("Analyzed statement")

	return &Analysis{
		Result:     result,
		Duplicates: dups,
		Matched:    matchExisting(req.UserID, result.DetectedAccount, existing),
	}, nil
}

func matchExisting(userID string, detected *domain.DetectedAccount, existing []*domain.Account) *domain.Account {
	if detected != nil && detected.MatchedAccountID != "" {
		for _, a := range existing {
			if a.AccountID == detected.MatchedAccountID && a.UserID == userID {
				return a
			}
		}
	}
	return accounts.Match(userID, detected, existing)
}
