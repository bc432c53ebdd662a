package domain

import (
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestDetectedAccount_HasInformation(t *testing.T) {
	tests := []struct {
		name     string
		detected *DetectedAccount
		want     bool
	}{
		{"nil", nil, false},
		{"all blank", &DetectedAccount{AccountName: "  ", InstitutionName: "\t"}, false},
		{"card number only", &DetectedAccount{CardNumber: "1234"}, false},
		{"subtype only", &DetectedAccount{AccountSubtype: "checking"}, false},
		{"institution", &DetectedAccount{InstitutionName: "Chase"}, true},
		{"matched id", &DetectedAccount{MatchedAccountID: "acc-1"}, true},
		{"type", &DetectedAccount{AccountType: "credit"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.detected.HasInformation())
		})
	}
}

func TestDetectedAccount_Merge(t *testing.T) {
	d := &DetectedAccount{InstitutionName: "Chase", AccountNumber: "1234"}
	d.Merge(&DetectedAccount{
		InstitutionName: "Citi",
		AccountType:     "credit",
		Balance:         decimal.NewNullDecimal(decimal.RequireFromString("10.50")),
		BalanceDate:     civil.Date{Year: 2024, Month: 1, Day: 31},
	})

	assert.Equal(t, "Chase", d.InstitutionName)
	assert.Equal(t, "credit", d.AccountType)
	assert.Equal(t, "1234", d.AccountNumber)
	assert.True(t, d.Balance.Valid)
	assert.Equal(t, civil.Date{Year: 2024, Month: 1, Day: 31}, d.BalanceDate)
}

func TestDuplicateMap_Semantics(t *testing.T) {
	m := DuplicateMap{
		0: {},
		2: {{Similarity: 0.97, MatchedTransactionID: "t-9"}, {Similarity: 0.91}},
	}

	assert.True(t, m.IsDuplicate(0))
	assert.True(t, m.IsExact(0))
	assert.True(t, m.IsDuplicate(2))
	assert.False(t, m.IsExact(2))
	assert.False(t, m.IsDuplicate(1))

	best, ok := m.Best(2)
	assert.True(t, ok)
	assert.Equal(t, "t-9", best.MatchedTransactionID)

	_, ok = m.Best(0)
	assert.False(t, ok)

	sliced := m.Slice(1, 3)
	assert.False(t, sliced.IsDuplicate(0))
	assert.True(t, sliced.IsDuplicate(1))
	assert.Len(t, sliced, 1)
}

func TestAccount_Clone(t *testing.T) {
	points := int64(1200)
	a := &Account{AccountID: "a", RewardPoints: &points}
	c := a.Clone()
	*c.RewardPoints = 5

	assert.Equal(t, int64(1200), *a.RewardPoints)
	assert.Nil(t, (*Account)(nil).Clone())
}
