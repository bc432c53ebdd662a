package accounts

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-importer/internal/domain"
)

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func dec(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func points(n int64) *int64 { return &n }

func TestApplyBalance(t *testing.T) {
	acc := &domain.Account{}

	assert.True(t, ApplyBalance(acc, decimal.RequireFromString("100"), date(2024, 1, 31)), "no stored date accepts")
	assert.False(t, ApplyBalance(acc, decimal.RequireFromString("50"), date(2024, 1, 15)), "older date rejected")
	assert.False(t, ApplyBalance(acc, decimal.RequireFromString("75"), date(2024, 1, 31)), "same date rejected")
	assert.True(t, acc.Balance.Decimal.Equal(decimal.NewFromInt(100)))

	assert.True(t, ApplyBalance(acc, decimal.RequireFromString("80"), date(2024, 2, 29)))
	assert.True(t, acc.Balance.Decimal.Equal(decimal.NewFromInt(80)))
	assert.Equal(t, date(2024, 2, 29), acc.BalanceDate)

	assert.False(t, ApplyBalance(acc, decimal.RequireFromString("1"), civil.Date{}), "undated balance is not a newer reading")
}

func TestMergeStatementMetadata_LatestDueDateWins(t *testing.T) {
	d1 := MetadataUpdate{
		Balance:           dec("500.00"),
		BalanceDate:       date(2024, 1, 5),
		PaymentDueDate:    date(2024, 2, 1),
		MinimumPaymentDue: dec("25.00"),
		RewardPoints:      points(1000),
	}
	d2 := MetadataUpdate{
		Balance:           dec("750.00"),
		BalanceDate:       date(2024, 2, 5),
		PaymentDueDate:    date(2024, 3, 1),
		MinimumPaymentDue: dec("35.00"),
		RewardPoints:      points(1500),
	}

	acc := &domain.Account{}
	require.True(t, MergeStatementMetadata(acc, d1))
	require.True(t, MergeStatementMetadata(acc, d2))

	assert.Equal(t, date(2024, 3, 1), acc.PaymentDueDate)
	assert.True(t, acc.Balance.Decimal.Equal(decimal.RequireFromString("750")))
	assert.True(t, acc.MinimumPaymentDue.Decimal.Equal(decimal.RequireFromString("35")))
	assert.Equal(t, int64(1500), *acc.RewardPoints)

	// Replaying the older statement changes nothing.
	before := *acc.Clone()
	assert.False(t, MergeStatementMetadata(acc, d1))
	assert.Equal(t, before.PaymentDueDate, acc.PaymentDueDate)
	assert.True(t, acc.Balance.Decimal.Equal(before.Balance.Decimal))
	assert.True(t, acc.MinimumPaymentDue.Decimal.Equal(before.MinimumPaymentDue.Decimal))
	assert.Equal(t, *before.RewardPoints, *acc.RewardPoints)
}

func TestMergeStatementMetadata_OlderDueDateStillTakesFresherBalance(t *testing.T) {
	acc := &domain.Account{
		PaymentDueDate:    date(2024, 3, 1),
		MinimumPaymentDue: dec("35"),
		Balance:           dec("750"),
		BalanceDate:       date(2024, 2, 5),
	}

	changed := MergeStatementMetadata(acc, MetadataUpdate{
		Balance:           dec("810"),
		BalanceDate:       date(2024, 2, 20),
		PaymentDueDate:    date(2024, 2, 1),
		MinimumPaymentDue: dec("10"),
	})

	assert.True(t, changed)
	assert.True(t, acc.Balance.Decimal.Equal(decimal.NewFromInt(810)))
	assert.Equal(t, date(2024, 3, 1), acc.PaymentDueDate)
	assert.True(t, acc.MinimumPaymentDue.Decimal.Equal(decimal.NewFromInt(35)))
}

func TestMergeStatementMetadata_WithoutDueDate(t *testing.T) {
	t.Run("undated balance fills empty account", func(t *testing.T) {
		acc := &domain.Account{}
		assert.True(t, MergeStatementMetadata(acc, MetadataUpdate{Balance: dec("12.34")}))
		assert.True(t, acc.Balance.Decimal.Equal(decimal.RequireFromString("12.34")))
	})

	t.Run("undated balance never overwrites", func(t *testing.T) {
		acc := &domain.Account{Balance: dec("1")}
		assert.False(t, MergeStatementMetadata(acc, MetadataUpdate{Balance: dec("2")}))
		assert.True(t, acc.Balance.Decimal.Equal(decimal.NewFromInt(1)))
	})

	t.Run("dated balance follows date rule", func(t *testing.T) {
		acc := &domain.Account{Balance: dec("1"), BalanceDate: date(2024, 5, 1)}
		assert.False(t, MergeStatementMetadata(acc, MetadataUpdate{Balance: dec("2"), BalanceDate: date(2024, 4, 1)}))
		assert.True(t, MergeStatementMetadata(acc, MetadataUpdate{Balance: dec("3"), BalanceDate: date(2024, 6, 1)}))
		assert.True(t, acc.Balance.Decimal.Equal(decimal.NewFromInt(3)))
	})
}

func TestUpdateFromStatement_PrefersStatementBalance(t *testing.T) {
	detected := &domain.DetectedAccount{Balance: dec("1"), BalanceDate: date(2024, 1, 1)}

	u := UpdateFromStatement(detected, domain.StatementMetadata{Balance: dec("2")})
	assert.True(t, u.Balance.Decimal.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, date(2024, 1, 1), u.BalanceDate)

	u = UpdateFromStatement(nil, domain.StatementMetadata{})
	assert.False(t, u.Balance.Valid)
}
