package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

// mockAccountRepository is a mock implementation of bigquery.AccountRepository.
type mockAccountRepository struct {
	mu       sync.Mutex
	accounts []*domain.Account
	saved    []*domain.Account

	CreateAccountFunc func(ctx context.Context, account *domain.Account) error
	listCalls         int
}

func (m *mockAccountRepository) FindAccountsByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	var out []*domain.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}

func (m *mockAccountRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.AccountID == accountID {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (m *mockAccountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, account)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts = append(m.accounts, account.Clone())
	return nil
}

func (m *mockAccountRepository) SaveAccount(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, account.Clone())
	for i, a := range m.accounts {
		if a.AccountID == account.AccountID {
			m.accounts[i] = account.Clone()
		}
	}
	return nil
}

var _ bq.AccountRepository = (*mockAccountRepository)(nil)

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestResolver(repo bq.AccountRepository) *Resolver {
	r := NewResolver(repo, zerolog.Nop())
	r.now = func() time.Time { return fixedNow }
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	}
	return r
}

func account(id, user, institution, typ, number string) *domain.Account {
	return &domain.Account{
		AccountID:       id,
		UserID:          user,
		AccountName:     institution + " account",
		InstitutionName: institution,
		AccountType:     typ,
		AccountNumber:   number,
		Active:          true,
		CreatedAt:       fixedNow.Add(-48 * time.Hour),
	}
}

func TestMatch_Order(t *testing.T) {
	existing := []*domain.Account{
		account("a1", "u1", "Chase", "credit", "1111"),
		account("a2", "u1", "Chase", "depository", "2222"),
		account("a3", "u2", "Citi", "credit", "3333"),
		{AccountID: "a4", UserID: "u1", AccountName: "Joint", InstitutionName: "Ally Bank", AccountType: "savings", Active: true},
	}

	tests := []struct {
		name     string
		detected *domain.DetectedAccount
		want     string
	}{
		{"number wins over attributes", &domain.DetectedAccount{InstitutionName: "Chase", AccountType: "credit", AccountNumber: "xxxx-2222"}, "a2"},
		{"card number counts", &domain.DetectedAccount{CardNumber: "4000 0000 0000 1111"}, "a1"},
		{"institution and type", &domain.DetectedAccount{InstitutionName: "chase", AccountType: "DEPOSITORY"}, "a2"},
		{"different number blocks attribute match", &domain.DetectedAccount{InstitutionName: "Chase", AccountType: "credit", AccountNumber: "9999"}, ""},
		{"name and institution", &domain.DetectedAccount{InstitutionName: "Ally Bank", AccountName: "joint"}, "a4"},
		{"other users ignored", &domain.DetectedAccount{AccountNumber: "3333"}, ""},
		{"nothing", &domain.DetectedAccount{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Match("u1", tt.detected, existing)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.AccountID)
		})
	}
}

func TestResolve_MatchedAccountIDMustBelongToUser(t *testing.T) {
	repo := &mockAccountRepository{accounts: []*domain.Account{
		account("mine", "u1", "Chase", "credit", "1111"),
		account("theirs", "u2", "Chase", "credit", "2222"),
	}}
	r := newTestResolver(repo)

	res, err := r.Resolve(context.Background(), "u1", &domain.DetectedAccount{MatchedAccountID: "mine"}, PageContext{}, domain.StatementMetadata{})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "mine", res.AccountID)
	assert.Equal(t, MatchedByID, res.MatchedBy)

	res, err = r.Resolve(context.Background(), "u1", &domain.DetectedAccount{MatchedAccountID: "theirs"}, PageContext{}, domain.StatementMetadata{})
	require.NoError(t, err)
	require.NotNil(t, res, "falls through to creation since matchedAccountId is meaningful")
	assert.True(t, res.Created)
}

func TestResolve_NoInformationNeverCreates(t *testing.T) {
	repo := &mockAccountRepository{}
	r := newTestResolver(repo)

	for _, detected := range []*domain.DetectedAccount{nil, {}, {AccountName: "  ", InstitutionName: "\t"}} {
		res, err := r.Resolve(context.Background(), "u1", detected, PageContext{}, domain.StatementMetadata{})
		require.NoError(t, err)
		assert.Nil(t, res)
	}
	assert.Empty(t, repo.accounts)
}

func TestResolve_CreatesSanitizedAccount(t *testing.T) {
	repo := &mockAccountRepository{}
	r := newTestResolver(repo)

	stmt := domain.StatementMetadata{
		PaymentDueDate:    date(2024, 4, 2),
		MinimumPaymentDue: dec("40"),
		RewardPoints:      points(321),
	}
	res, err := r.Resolve(context.Background(), "u1", &domain.DetectedAccount{
		InstitutionName: "Chase\x00",
		AccountType:     "Credit",
		AccountSubtype:  "credit card",
		AccountNumber:   "4147-2020-3030-9876",
	}, PageContext{}, stmt)

	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Created)
	assert.Equal(t, "new-1", res.AccountID)

	acc := res.Account
	assert.Equal(t, "9876", acc.AccountNumber)
	assert.Equal(t, "credit", acc.AccountType)
	assert.Equal(t, "Chase", acc.InstitutionName)
	assert.Equal(t, "ChaseCreditCard9876", acc.AccountName)
	assert.Equal(t, "USD", acc.CurrencyCode)
	assert.True(t, acc.Active)
	assert.True(t, acc.Balance.Valid)
	assert.True(t, acc.Balance.Decimal.IsZero())
	assert.Equal(t, date(2024, 4, 2), acc.PaymentDueDate)
	assert.Equal(t, int64(321), *acc.RewardPoints)
}

func TestNewAccount_NoMetadataLeavesPaymentFieldsEmpty(t *testing.T) {
	acc := NewAccount("u1", &domain.DetectedAccount{AccountType: "weird"}, NoMetadata{}, "id", fixedNow)

	assert.Equal(t, "other", acc.AccountType)
	assert.Equal(t, "Unknown", acc.InstitutionName)
	assert.True(t, acc.PaymentDueDate.IsZero())
	assert.False(t, acc.MinimumPaymentDue.Valid)
	assert.Nil(t, acc.RewardPoints)

	acc = NewAccount("u1", &domain.DetectedAccount{}, PdfMetadata{MinimumPaymentDue: dec("5")}, "id", fixedNow)
	assert.False(t, acc.MinimumPaymentDue.Valid, "metadata without a due date is ignored")
	assert.Equal(t, "Imported Account", acc.AccountName)
}

func TestNewAccount_NameUsesNormalizedType(t *testing.T) {
	tests := []struct {
		name     string
		detected domain.DetectedAccount
		wantName string
		wantType string
	}{
		{
			name:     "unknown type becomes other",
			detected: domain.DetectedAccount{InstitutionName: "Chase", AccountType: "Crypto Wallet", AccountNumber: "1234"},
			wantName: "ChaseOther1234",
			wantType: "other",
		},
		{
			name:     "padded upper case type",
			detected: domain.DetectedAccount{InstitutionName: "Citi", AccountType: "  CREDIT ", AccountNumber: "4321"},
			wantName: "CitiCredit4321",
			wantType: "credit",
		},
		{
			name:     "subtype still wins",
			detected: domain.DetectedAccount{InstitutionName: "Chase", AccountType: "bogus", AccountSubtype: "checking", AccountNumber: "9999"},
			wantName: "ChaseChecking9999",
			wantType: "other",
		},
		{
			name:     "no type",
			detected: domain.DetectedAccount{InstitutionName: "Ally", AccountNumber: "5555"},
			wantName: "AllyOther5555",
			wantType: "other",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			acc := NewAccount("u1", &tt.detected, NoMetadata{}, "id", fixedNow)
			assert.Equal(t, tt.wantName, acc.AccountName)
			assert.Equal(t, tt.wantType, acc.AccountType)
		})
	}
}

func TestResolve_LaterPagesReuseFirstPageAccount(t *testing.T) {
	repo := &mockAccountRepository{}
	r := newTestResolver(repo)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "u1", &domain.DetectedAccount{InstitutionName: "Discover"}, PageContext{Page: 0}, domain.StatementMetadata{})
	require.NoError(t, err)
	require.NotNil(t, first)
	require.True(t, first.Created)

	// Later pages see no header evidence but must not create another account.
	second, err := r.Resolve(ctx, "u1", &domain.DetectedAccount{AccountName: "Page 2"}, PageContext{Page: 1, ImportAccountID: first.AccountID}, domain.StatementMetadata{})
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.AccountID, second.AccountID)
	assert.Equal(t, MatchedByImport, second.MatchedBy)

	third, err := r.Resolve(ctx, "u1", &domain.DetectedAccount{AccountName: "Page 3"}, PageContext{Page: 2}, domain.StatementMetadata{})
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, first.AccountID, third.AccountID)

	assert.Len(t, repo.accounts, 1)
}

func TestResolve_LaterPageWithoutRecentAccountUsesPseudo(t *testing.T) {
	repo := &mockAccountRepository{accounts: []*domain.Account{account("old", "u1", "Chase", "credit", "1111")}}
	r := newTestResolver(repo)

	res, err := r.Resolve(context.Background(), "u1", &domain.DetectedAccount{InstitutionName: "Amex"}, PageContext{Page: 3}, domain.StatementMetadata{})
	require.NoError(t, err)
	assert.Nil(t, res)
	assert.Len(t, repo.accounts, 1)
}

func TestResolve_MatchedAccountGetsNewerStatement(t *testing.T) {
	existing := account("a1", "u1", "Chase", "credit", "1111")
	existing.PaymentDueDate = date(2024, 2, 1)
	repo := &mockAccountRepository{accounts: []*domain.Account{existing}}
	r := newTestResolver(repo)

	res, err := r.Resolve(context.Background(), "u1", &domain.DetectedAccount{AccountNumber: "1111"}, PageContext{}, domain.StatementMetadata{
		PaymentDueDate:    date(2024, 3, 1),
		MinimumPaymentDue: dec("30"),
		Balance:           dec("-900.10"),
		BalanceDate:       date(2024, 2, 6),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, MatchedByNumber, res.MatchedBy)

	require.Len(t, repo.saved, 1)
	assert.Equal(t, date(2024, 3, 1), repo.saved[0].PaymentDueDate)
	assert.Equal(t, fixedNow, repo.saved[0].UpdatedAt)
}

func TestCreateAccount_ConcurrentInsertReusesWinner(t *testing.T) {
	repo := &mockAccountRepository{}
	repo.CreateAccountFunc = func(ctx context.Context, acc *domain.Account) error {
		// Another import won the race between our check and our insert.
		repo.mu.Lock()
		repo.accounts = append(repo.accounts, account("winner", "u1", "Chase", "credit", "7777"))
		repo.mu.Unlock()
		return bq.ErrAccountExists
	}
	r := newTestResolver(repo)

	acc, created, err := r.CreateAccount(context.Background(), "u1", &domain.DetectedAccount{AccountNumber: "7777"}, NoMetadata{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "winner", acc.AccountID)
}

func TestCreateAccount_UnrecoverableFailure(t *testing.T) {
	repo := &mockAccountRepository{CreateAccountFunc: func(ctx context.Context, acc *domain.Account) error {
		return errors.New("backend unavailable")
	}}
	r := newTestResolver(repo)

	acc, created, err := r.CreateAccount(context.Background(), "u1", &domain.DetectedAccount{AccountNumber: "7777"}, NoMetadata{})
	require.Error(t, err)
	assert.Nil(t, acc)
	assert.False(t, created)

	res, err := r.Resolve(context.Background(), "u1", &domain.DetectedAccount{AccountNumber: "7777"}, PageContext{}, domain.StatementMetadata{})
	assert.Error(t, err)
	assert.Nil(t, res)
}

func TestResolve_ConcurrentImportsConverge(t *testing.T) {
	repo := &mockAccountRepository{}
	repo.CreateAccountFunc = func(ctx context.Context, acc *domain.Account) error {
		repo.mu.Lock()
		defer repo.mu.Unlock()
		for _, a := range repo.accounts {
			if NormalizeAccountNumber(a.AccountNumber) == NormalizeAccountNumber(acc.AccountNumber) {
				return bq.ErrAccountExists
			}
		}
		repo.accounts = append(repo.accounts, acc.Clone())
		return nil
	}
	r := newTestResolver(repo)
	r.newID = func() string { return fmt.Sprintf("id-%d", time.Now().UnixNano()) }

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), "u1", &domain.DetectedAccount{InstitutionName: "Chase", AccountNumber: "5555"}, PageContext{}, domain.StatementMetadata{})
			if err == nil && res != nil {
				ids[i] = res.AccountID
			}
		}(i)
	}
	wg.Wait()

	require.Len(t, repo.accounts, 1)
	for _, id := range ids {
		assert.Equal(t, repo.accounts[0].AccountID, id)
	}
}
