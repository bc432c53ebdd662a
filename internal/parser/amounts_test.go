package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"12.34", "12.34"},
		{"-12.34", "-12.34"},
		{"+12.34", "12.34"},
		{"$1,234.56", "1234.56"},
		{"-$1,234.56", "-1234.56"},
		{"$-1,234.56", "-1234.56"},
		{"(45.00)", "-45.00"},
		{"($45.00)", "-45.00"},
		{"45.00-", "-45.00"},
		{"120.00 CR", "-120.00"},
		{"120.00CR", "-120.00"},
		{"120.00 DR", "120.00"},
		{"£1.234,50", "1234.50"},
		{"12,50", "12.50"},
		{"1,234", "1234"},
		{"−7.10", "-7.10"},
		{" 0.00 ", "0"},
		{"USD 99.99", "99.99"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "$", "()", "1.2.3"} {
		_, err := ParseAmount(in)
		assert.Error(t, err, in)
	}
}
