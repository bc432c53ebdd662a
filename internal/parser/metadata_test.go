package parser

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/finance-importer/internal/domain"
)

func TestExtractMetadata_CardStatement(t *testing.T) {
	lines := []string{
		"Opening/Closing Date 01/06/24 - 02/05/24",
		"New Balance $1,482.19",
		"Minimum Payment Due: $40.00",
		"Payment Due Date: 03/01/24",
		"Total points available 45,210",
		"New Balance $9.99",
	}

	m := ExtractMetadata(lines)

	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 6}, m.PeriodStart)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 5}, m.PeriodEnd)
	assert.Equal(t, m.PeriodEnd, m.BalanceDate)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 1}, m.PaymentDueDate)
	require.True(t, m.Balance.Valid)
	assert.True(t, m.Balance.Decimal.Equal(decimal.RequireFromString("1482.19")), "first balance wins")
	require.True(t, m.MinimumPaymentDue.Valid)
	assert.True(t, m.MinimumPaymentDue.Decimal.Equal(decimal.NewFromInt(40)))
	require.NotNil(t, m.RewardPoints)
	assert.Equal(t, int64(45210), *m.RewardPoints)
}

func TestExtractMetadata_ClosingDateAndMonthNames(t *testing.T) {
	m := ExtractMetadata([]string{
		"Statement Closing Date: January 31, 2024",
		"Payment Due Date Feb 25, 2024",
		"Ending Balance: (250.00)",
	})

	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 31}, m.BalanceDate)
	assert.Equal(t, m.BalanceDate, m.PeriodEnd)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 25}, m.PaymentDueDate)
	assert.True(t, m.Balance.Decimal.Equal(decimal.NewFromInt(-250)))
}

func TestExtractMetadata_RejectsImplausiblePoints(t *testing.T) {
	m := ExtractMetadata([]string{"Rewards points: 99999999999"})
	assert.Nil(t, m.RewardPoints)
}

func TestExtractMetadata_Nothing(t *testing.T) {
	assert.True(t, ExtractMetadata([]string{"Hello", ""}).IsEmpty())
}

func TestStatementYear(t *testing.T) {
	assert.Equal(t, 2023, StatementYear(domain.StatementMetadata{PeriodEnd: civil.Date{Year: 2023, Month: 12, Day: 31}}, "x_2020.pdf", 2025))
	assert.Equal(t, 2022, StatementYear(domain.StatementMetadata{}, "chase_2022_03.pdf", 2025))
	assert.Equal(t, 2025, StatementYear(domain.StatementMetadata{}, "statement.pdf", 2025))
}
