// Package sqlite provides repository implementations backed by a local SQLite
// file. It lets the CLI keep accounts and history between runs without GCP.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/dvloznov/finance-importer/internal/accounts"
	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

// timeLayout has fixed-width fractions so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists accounts, transactions and import batches in one database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path and makes sure the schema exists.
// ":memory:" gives a private database that lives as long as the Store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("Open: opening %s: %w", path, err)
	}
	// One connection serializes writers and keeps ":memory:" to a single database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: connecting to %s: %w", path, err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("Open: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"accounts", `
			CREATE TABLE IF NOT EXISTS accounts (
				account_id          TEXT PRIMARY KEY,
				user_id             TEXT NOT NULL,
				account_name        TEXT NOT NULL,
				institution_name    TEXT,
				account_type        TEXT,
				account_subtype     TEXT,
				account_number      TEXT,
				currency_code       TEXT,
				balance             TEXT,
				balance_date        TEXT,
				payment_due_date    TEXT,
				minimum_payment_due TEXT,
				reward_points       INTEGER,
				active              INTEGER NOT NULL DEFAULT 1,
				created_ts          TEXT NOT NULL,
				updated_ts          TEXT NOT NULL
			)`},
		{"accounts index", `CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id)`},
		{"transactions", `
			CREATE TABLE IF NOT EXISTS transactions (
				transaction_id  TEXT PRIMARY KEY,
				user_id         TEXT NOT NULL,
				account_id      TEXT,
				amount          TEXT NOT NULL,
				date            TEXT NOT NULL,
				description     TEXT,
				merchant_name   TEXT,
				import_batch_id TEXT,
				import_id       TEXT,
				created_ts      TEXT NOT NULL
			)`},
		{"transactions index", `CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions(user_id, date)`},
		{"import_batches", `
			CREATE TABLE IF NOT EXISTS import_batches (
				batch_id    TEXT PRIMARY KEY,
				user_id     TEXT NOT NULL,
				source      TEXT,
				file_name   TEXT,
				account_id  TEXT,
				total       INTEGER NOT NULL,
				created     INTEGER NOT NULL,
				failed      INTEGER NOT NULL,
				duplicates  INTEGER NOT NULL,
				started_ts  TEXT NOT NULL,
				finished_ts TEXT
			)`},
		{"import_batches index", `CREATE INDEX IF NOT EXISTS idx_import_batches_user ON import_batches(user_id, started_ts)`},
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st.sql); err != nil {
			return fmt.Errorf("initSchema: creating %s: %w", st.name, err)
		}
	}
	return nil
}

const accountColumns = `account_id, user_id, account_name, institution_name, account_type,
	account_subtype, account_number, currency_code, balance, balance_date,
	payment_due_date, minimum_payment_due, reward_points, active, created_ts, updated_ts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var (
		a                                           domain.Account
		institution, typ, subtype, number, currency sql.NullString
		balanceDate, dueDate                        sql.NullString
		rewardPoints                                sql.NullInt64
		active                                      bool
		created, updated                            string
	)
	err := row.Scan(&a.AccountID, &a.UserID, &a.AccountName, &institution, &typ,
		&subtype, &number, &currency, &a.Balance, &balanceDate,
		&dueDate, &a.MinimumPaymentDue, &rewardPoints, &active, &created, &updated)
	if err != nil {
		return nil, err
	}
	a.InstitutionName = institution.String
	a.AccountType = typ.String
	a.AccountSubtype = subtype.String
	a.AccountNumber = number.String
	a.CurrencyCode = currency.String
	a.Active = active
	if rewardPoints.Valid {
		p := rewardPoints.Int64
		a.RewardPoints = &p
	}
	if a.BalanceDate, err = parseDate(balanceDate); err != nil {
		return nil, err
	}
	if a.PaymentDueDate, err = parseDate(dueDate); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("parsing created_ts: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("parsing updated_ts: %w", err)
	}
	return &a, nil
}

// FindAccountsByUser implements bigquery.AccountRepository.
func (s *Store) FindAccountsByUser(ctx context.Context, userID string) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = ? ORDER BY created_ts, rowid`, userID)
	if err != nil {
		return nil, fmt.Errorf("FindAccountsByUser: %w", err)
	}
	defer rows.Close()

	var result []*domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("FindAccountsByUser: scanning account: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindAccountsByUser: %w", err)
	}
	return result, nil
}

// FindAccountByID implements bigquery.AccountRepository. A missing account is (nil, nil).
func (s *Store) FindAccountByID(ctx context.Context, accountID string) (*domain.Account, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE account_id = ?`, accountID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindAccountByID: %w", err)
	}
	return a, nil
}

func accountArgs(a *domain.Account) []any {
	var reward any
	if a.RewardPoints != nil {
		reward = *a.RewardPoints
	}
	return []any{
		a.AccountName, a.InstitutionName, a.AccountType, a.AccountSubtype,
		a.AccountNumber, a.CurrencyCode, a.Balance, dateArg(a.BalanceDate),
		dateArg(a.PaymentDueDate), a.MinimumPaymentDue, reward, a.Active,
	}
}

// CreateAccount implements bigquery.AccountRepository. It fails with
// bigquery.ErrAccountExists when the id is taken or the user already has an
// active account with the same number.
func (s *Store) CreateAccount(ctx context.Context, account *domain.Account) error {
	if account.AccountID == "" {
		return fmt.Errorf("CreateAccount: account ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("CreateAccount: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE account_id = ?`, account.AccountID).Scan(&n); err != nil {
		return fmt.Errorf("CreateAccount: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("CreateAccount: account %s: %w", account.AccountID, bq.ErrAccountExists)
	}

	if number := accounts.NormalizeAccountNumber(account.AccountNumber); number != "" {
		rows, err := tx.QueryContext(ctx,
			`SELECT account_number FROM accounts WHERE user_id = ? AND active = 1 AND account_number IS NOT NULL AND account_number != ''`,
			account.UserID)
		if err != nil {
			return fmt.Errorf("CreateAccount: %w", err)
		}
		var taken bool
		for rows.Next() {
			var existing string
			if err := rows.Scan(&existing); err != nil {
				rows.Close()
				return fmt.Errorf("CreateAccount: %w", err)
			}
			if accounts.NormalizeAccountNumber(existing) == number {
				taken = true
			}
		}
		rows.Close()
		if taken {
			return fmt.Errorf("CreateAccount: account number ending %s: %w", number, bq.ErrAccountExists)
		}
	}

	now := s.now().UTC()
	created, updated := account.CreatedAt, account.UpdatedAt
	if created.IsZero() {
		created = now
	}
	if updated.IsZero() {
		updated = created
	}

	args := append([]any{account.AccountID, account.UserID}, accountArgs(account)...)
	args = append(args, created.UTC().Format(timeLayout), updated.UTC().Format(timeLayout))
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...); err != nil {
		return fmt.Errorf("CreateAccount: inserting: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("CreateAccount: committing: %w", err)
	}
	return nil
}

// SaveAccount implements bigquery.AccountRepository.
func (s *Store) SaveAccount(ctx context.Context, account *domain.Account) error {
	updated := account.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	args := append(accountArgs(account), updated.UTC().Format(timeLayout), account.AccountID, account.UserID)
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET
			account_name = ?, institution_name = ?, account_type = ?, account_subtype = ?,
			account_number = ?, currency_code = ?, balance = ?, balance_date = ?,
			payment_due_date = ?, minimum_payment_due = ?, reward_points = ?, active = ?,
			updated_ts = ?
		WHERE account_id = ? AND user_id = ?`, args...)
	if err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SaveAccount: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("SaveAccount: account not found: %s", account.AccountID)
	}
	return nil
}

// CreateTransaction implements bigquery.TransactionRepository.
func (s *Store) CreateTransaction(ctx context.Context, tx *domain.NewTransaction) (*domain.StoredTransaction, error) {
	id := tx.TransactionID
	if id == "" {
		id = uuid.NewString()
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
		CreatedAt:     s.now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, user_id, account_id, amount, date,
			description, merchant_name, import_batch_id, import_id, created_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.TransactionID, stored.UserID, stored.AccountID, stored.Amount.String(), stored.Date.String(),
		stored.Description, stored.MerchantName, stored.ImportBatchID, stored.ImportID,
		stored.CreatedAt.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("CreateTransaction: inserting %s: %w", id, err)
	}
	return stored, nil
}

// FindDuplicateCandidates implements bigquery.TransactionRepository.
func (s *Store) FindDuplicateCandidates(ctx context.Context, userID string, from, to civil.Date) ([]*domain.StoredTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, user_id, account_id, amount, date, description,
			merchant_name, import_batch_id, import_id, created_ts
		FROM transactions
		WHERE user_id = ? AND date BETWEEN ? AND ?
		ORDER BY date, created_ts, rowid`,
		userID, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("FindDuplicateCandidates: %w", err)
	}
	defer rows.Close()

	var result []*domain.StoredTransaction
	for rows.Next() {
		var (
			t                                          domain.StoredTransaction
			account, desc, merchant, batchID, importID sql.NullString
			amount, date, created                      string
		)
		if err := rows.Scan(&t.TransactionID, &t.UserID, &account, &amount, &date, &desc,
			&merchant, &batchID, &importID, &created); err != nil {
			return nil, fmt.Errorf("FindDuplicateCandidates: scanning: %w", err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("FindDuplicateCandidates: amount of %s: %w", t.TransactionID, err)
		}
		if t.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("FindDuplicateCandidates: date of %s: %w", t.TransactionID, err)
		}
		if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("FindDuplicateCandidates: created_ts of %s: %w", t.TransactionID, err)
		}
		t.AccountID = account.String
		t.Description = desc.String
		t.MerchantName = merchant.String
		t.ImportBatchID = batchID.String
		t.ImportID = importID.String
		result = append(result, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("FindDuplicateCandidates: %w", err)
	}
	return result, nil
}

// SaveImportBatch implements bigquery.ImportBatchRepository.
func (s *Store) SaveImportBatch(ctx context.Context, batch *domain.ImportBatch) error {
	if batch.BatchID == "" {
		return fmt.Errorf("SaveImportBatch: batch ID is required")
	}
	var finished any
	if !batch.FinishedAt.IsZero() {
		finished = batch.FinishedAt.UTC().Format(timeLayout)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_batches (batch_id, user_id, source, file_name, account_id,
			total, created, failed, duplicates, started_ts, finished_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batch.BatchID, batch.UserID, string(batch.Source), batch.FileName, batch.AccountID,
		batch.Total, batch.Created, batch.Failed, batch.Duplicates,
		batch.StartedAt.UTC().Format(timeLayout), finished)
	if err != nil {
		return fmt.Errorf("SaveImportBatch: %w", err)
	}
	return nil
}

// ListImportBatches implements bigquery.ImportBatchRepository, newest first.
func (s *Store) ListImportBatches(ctx context.Context, userID string, limit int) ([]*domain.ImportBatch, error) {
	query := `
		SELECT batch_id, user_id, source, file_name, account_id,
			total, created, failed, duplicates, started_ts, finished_ts
		FROM import_batches
		WHERE user_id = ?
		ORDER BY started_ts DESC, rowid DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListImportBatches: %w", err)
	}
	defer rows.Close()

	var result []*domain.ImportBatch
	for rows.Next() {
		var (
			b                     domain.ImportBatch
			source, file, account sql.NullString
			started               string
			finished              sql.NullString
		)
		if err := rows.Scan(&b.BatchID, &b.UserID, &source, &file, &account,
			&b.Total, &b.Created, &b.Failed, &b.Duplicates, &started, &finished); err != nil {
			return nil, fmt.Errorf("ListImportBatches: scanning: %w", err)
		}
		b.Source = domain.ImportSource(source.String)
		b.FileName = file.String
		b.AccountID = account.String
		if b.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, fmt.Errorf("ListImportBatches: started_ts: %w", err)
		}
		if finished.Valid {
			if b.FinishedAt, err = time.Parse(timeLayout, finished.String); err != nil {
				return nil, fmt.Errorf("ListImportBatches: finished_ts: %w", err)
			}
		}
		result = append(result, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListImportBatches: %w", err)
	}
	return result, nil
}

func dateArg(d civil.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

func parseDate(s sql.NullString) (civil.Date, error) {
	if !s.Valid || s.String == "" {
		return civil.Date{}, nil
	}
	d, err := civil.ParseDate(s.String)
	if err != nil {
		return civil.Date{}, fmt.Errorf("parsing date %q: %w", s.String, err)
	}
	return d, nil
}

var (
	_ bq.AccountRepository     = (*Store)(nil)
	_ bq.TransactionRepository = (*Store)(nil)
	_ bq.ImportBatchRepository = (*Store)(nil)
)
