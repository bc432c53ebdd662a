// Package inmemory provides repository implementations backed by process memory.
// Data is lost on restart; it serves local runs of the CLI and tests.
package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/dvloznov/finance-importer/internal/accounts"
	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

// Store holds accounts, transactions and import batches. It is safe for concurrent use.
type Store struct {
	mu           sync.RWMutex
	accounts     map[string]*domain.Account
	transactions map[string]*domain.StoredTransaction
	order        []string
	batches      []*domain.ImportBatch
	now          func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:     make(map[string]*domain.Account),
		transactions: make(map[string]*domain.StoredTransaction),
		now:          time.Now,
	}
}

// FindAccountsByUser implements bigquery.AccountRepository.
func (s *Store) FindAccountsByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// FindAccountByID implements bigquery.AccountRepository.
func (s *Store) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, nil
	}
	return a.Clone(), nil
}

// CreateAccount implements bigquery.AccountRepository.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.AccountID == "" {
		return fmt.Errorf("account ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.AccountID]; exists {
		return fmt.Errorf("account %s: %w", account.AccountID, bq.ErrAccountExists)
	}
	number := accounts.NormalizeAccountNumber(account.AccountNumber)
	if number != "" {
		for _, a := range s.accounts {
			if a.UserID == account.UserID && a.Active && accounts.NormalizeAccountNumber(a.AccountNumber) == number {
				return fmt.Errorf("account number ending %s: %w", number, bq.ErrAccountExists)
			}
		}
	}

	s.accounts[account.AccountID] = account.Clone()
	return nil
}

// SaveAccount implements bigquery.AccountRepository.
func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.AccountID]; !exists {
		return fmt.Errorf("account not found: %s", account.AccountID)
	}
	s.accounts[account.AccountID] = account.Clone()
	return nil
}

// CreateTransaction implements bigquery.TransactionRepository.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.NewTransaction) (*domain.StoredTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := tx.TransactionID
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.transactions[id]; exists {
		return nil, fmt.Errorf("transaction already exists: %s", id)
	}

	stored := &domain.StoredTransaction{
		TransactionID: id,
		UserID:        tx.UserID,
		AccountID:     tx.AccountID,
		Amount:        tx.Amount,
		Date:          tx.Date,
		Description:   tx.Description,
		MerchantName:  tx.MerchantName,
		ImportBatchID: tx.ImportBatchID,
		ImportID:      tx.ImportID,
		CreatedAt:     s.now(),
	}
	s.transactions[id] = stored
	s.order = append(s.order, id)

	out := *stored
	return &out, nil
}

// FindDuplicateCandidates implements bigquery.TransactionRepository.
func (s *Store) FindDuplicateCandidates(ctx context.Context, userID string, from, to civil.Date) ([]*domain.StoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StoredTransaction
	for _, id := range s.order {
		t := s.transactions[id]
		if t.UserID != userID || t.Date.Before(from) || t.Date.After(to) {
			continue
		}
		c := *t
		result = append(result, &c)
	}
	return result, nil
}

// TransactionsByUser returns every stored transaction of the user in insertion order.
func (s *Store) TransactionsByUser(userID string) []*domain.StoredTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.StoredTransaction
	for _, id := range s.order {
		if t := s.transactions[id]; t.UserID == userID {
			c := *t
			result = append(result, &c)
		}
	}
	return result
}

// SaveImportBatch implements bigquery.ImportBatchRepository.
func (s *Store) SaveImportBatch(ctx context.Context, batch *domain.ImportBatch) error {
	if batch.BatchID == "" {
		return fmt.Errorf("batch ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *batch
	s.batches = append(s.batches, &c)
	return nil
}

// ListImportBatches implements bigquery.ImportBatchRepository.
func (s *Store) ListImportBatches(ctx context.Context, userID string, limit int) ([]*domain.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ImportBatch
	for i := len(s.batches) - 1; i >= 0; i-- {
		if s.batches[i].UserID != userID {
			continue
		}
		c := *s.batches[i]
		result = append(result, &c)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

var (
	_ bq.AccountRepository     = (*Store)(nil)
	_ bq.TransactionRepository = (*Store)(nil)
	_ bq.ImportBatchRepository = (*Store)(nil)
)
