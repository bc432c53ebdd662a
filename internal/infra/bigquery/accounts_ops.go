package bigquery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	bq "github.com/dvloznov/finance-importer/internal/bigquery"
	"github.com/dvloznov/finance-importer/internal/domain"
)

const accountColumns = `
			account_id,
			user_id,
			account_name,
			institution_name,
			account_type,
			account_subtype,
			account_number,
			currency_code,
			balance,
			balance_date,
			payment_due_date,
			minimum_payment_due,
			reward_points,
			active,
			created_ts,
			updated_ts`

// numericParam passes a nullable NUMERIC as a string; the query casts it.
func numericParam(r *big.Rat) bigquery.NullString {
	if r == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: r.FloatString(9), Valid: true}
}

func accountParams(row *bq.AccountRow) []bigquery.QueryParameter {
	return []bigquery.QueryParameter{
		{Name: "account_id", Value: row.AccountID},
		{Name: "user_id", Value: row.UserID},
		{Name: "account_name", Value: row.AccountName},
		{Name: "institution_name", Value: row.InstitutionName},
		{Name: "account_type", Value: row.AccountType},
		{Name: "account_subtype", Value: row.AccountSubtype},
		{Name: "account_number", Value: row.AccountNumber},
		{Name: "currency_code", Value: row.CurrencyCode},
		{Name: "balance", Value: numericParam(row.Balance)},
		{Name: "balance_date", Value: row.BalanceDate},
		{Name: "payment_due_date", Value: row.PaymentDueDate},
		{Name: "minimum_payment_due", Value: numericParam(row.MinimumPaymentDue)},
		{Name: "reward_points", Value: row.RewardPoints},
		{Name: "active", Value: row.Active},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "updated_ts", Value: row.UpdatedTS},
	}
}

func readAccounts(it *bigquery.RowIterator) ([]*domain.Account, error) {
	var accounts []*domain.Account
	for {
		var row bq.AccountRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, row.ToDomain())
	}
	return accounts, nil
}

// FindAccountsByUserWithClient returns the user's accounts, oldest first.
func FindAccountsByUserWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, userID string) ([]*domain.Account, error) {
	q := client.Query(`
		SELECT` + accountColumns + `
		FROM ` + ds.table(accountsTable) + `
		WHERE user_id = @user_id
		ORDER BY created_ts
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "user_id", Value: userID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindAccountsByUserWithClient: reading query: %w", err)
	}
	accounts, err := readAccounts(it)
	if err != nil {
		return nil, fmt.Errorf("FindAccountsByUserWithClient: iterating: %w", err)
	}
	return accounts, nil
}

// FindAccountByIDWithClient returns the account or nil when none exists.
func FindAccountByIDWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, accountID string) (*domain.Account, error) {
	q := client.Query(`
		SELECT` + accountColumns + `
		FROM ` + ds.table(accountsTable) + `
		WHERE account_id = @account_id
		LIMIT 1
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "account_id", Value: accountID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindAccountByIDWithClient: reading query: %w", err)
	}
	accounts, err := readAccounts(it)
	if err != nil {
		return nil, fmt.Errorf("FindAccountByIDWithClient: iterating: %w", err)
	}
	if len(accounts) == 0 {
		return nil, nil
	}
	return accounts[0], nil
}

// CreateAccountWithClient inserts the account unless the id is taken or the
// owner already has an active account with the same number. The check and
// the insert run as one MERGE so concurrent imports cannot both insert.
func CreateAccountWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, account *domain.Account) error {
	if account.AccountID == "" {
		return fmt.Errorf("CreateAccountWithClient: account ID is required")
	}
	row := bq.AccountRowFromDomain(account)
	now := time.Now()
	if row.CreatedTS.IsZero() {
		row.CreatedTS = now
	}
	if row.UpdatedTS.IsZero() {
		row.UpdatedTS = now
	}

	q := client.Query(`
		MERGE ` + ds.table(accountsTable) + ` t
		USING (SELECT @account_id AS account_id) s
		ON t.account_id = s.account_id
		   OR (@account_number IS NOT NULL
		       AND t.user_id = @user_id
		       AND t.active
		       AND t.account_number = @account_number)
		WHEN NOT MATCHED THEN
		  INSERT (` + accountColumns + `
		  )
		  VALUES (
			@account_id, @user_id, @account_name, @institution_name,
			@account_type, @account_subtype, @account_number, @currency_code,
			CAST(@balance AS NUMERIC), @balance_date, @payment_due_date,
			CAST(@minimum_payment_due AS NUMERIC), @reward_points, @active,
			@created_ts, @updated_ts
		  )
	`)
	q.Parameters = accountParams(row)

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("CreateAccountWithClient: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("CreateAccountWithClient: account %s: %w", account.AccountID, bq.ErrAccountExists)
	}
	return nil
}

// SaveAccountWithClient overwrites the mutable fields of an existing account.
func SaveAccountWithClient(ctx context.Context, client *bigquery.Client, ds Dataset, account *domain.Account) error {
	row := bq.AccountRowFromDomain(account)
	row.UpdatedTS = time.Now()

	q := client.Query(`
		UPDATE ` + ds.table(accountsTable) + `
		SET account_name = @account_name,
		    institution_name = @institution_name,
		    account_type = @account_type,
		    account_subtype = @account_subtype,
		    account_number = @account_number,
		    currency_code = @currency_code,
		    balance = CAST(@balance AS NUMERIC),
		    balance_date = @balance_date,
		    payment_due_date = @payment_due_date,
		    minimum_payment_due = CAST(@minimum_payment_due AS NUMERIC),
		    reward_points = @reward_points,
		    active = @active,
		    updated_ts = @updated_ts
		WHERE account_id = @account_id
		  AND user_id = @user_id
	`)
	q.Parameters = accountParams(row)

	affected, err := runDML(ctx, q)
	if err != nil {
		return fmt.Errorf("SaveAccountWithClient: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("SaveAccountWithClient: account not found: %s", account.AccountID)
	}
	return nil
}

// runDML runs a DML statement and returns the number of affected rows.
func runDML(ctx context.Context, q *bigquery.Query) (int64, error) {
	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("running query: %w", err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("job error: %w", err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}
