package dedup

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// Score weights. Merchant similarity only counts when both sides carry a
// merchant; without it the remaining weights are rescaled to sum to one.
const (
	amountWeight   = 0.3
	dateWeight     = 0.2
	merchantWeight = 0.2

	strongDescriptionWeight  = 0.3
	partialDescriptionWeight = 0.05
	weakDescriptionWeight    = 0.01

	identicalScore = 0.95
	recurringScore = 0.30
)

var amountTolerance = decimal.RequireFromString("0.01")

// recurringGaps are day distances at which identical charges are most likely
// subscriptions or bills rather than duplicates.
var recurringGaps = [][2]int{
	{6, 8}, {13, 15}, {25, 31}, {88, 93}, {180, 186}, {365, 366},
}

// NormalizeDescription lowercases and collapses whitespace.
func NormalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// amountsEqual compares signed amounts within a cent. A sign flip is a
// refund or reversal, not the same transaction; amountScore gives it partial
// credit instead.
func amountsEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(amountTolerance)
}

// IsExactMatch reports whether candidate and stored are the same transaction.
func IsExactMatch(candidate domain.ParsedTransaction, stored *domain.StoredTransaction) bool {
	if candidate.TransactionID != "" {
		if strings.EqualFold(candidate.TransactionID, stored.TransactionID) ||
			strings.EqualFold(candidate.TransactionID, stored.PlaidTransactionID) {
			return true
		}
	}
	return candidate.Date == stored.Date &&
		amountsEqual(candidate.Amount, stored.Amount) &&
		NormalizeDescription(candidate.Description) == NormalizeDescription(stored.Description)
}

// Similarity scores how likely candidate duplicates stored, from 0 to 1.
func Similarity(candidate domain.ParsedTransaction, stored *domain.StoredTransaction) float64 {
	descA := NormalizeDescription(candidate.Description)
	descB := NormalizeDescription(stored.Description)
	sameAmount := amountsEqual(candidate.Amount, stored.Amount)
	days := dayDistance(candidate, stored)

	if descA != "" && descA == descB && sameAmount {
		if days == 0 {
			return identicalScore
		}
		if isRecurringGap(days) {
			return recurringScore
		}
	}

	score := amountScore(candidate.Amount, stored.Amount)*amountWeight + dateScore(days)*dateWeight
	total := amountWeight + dateWeight + strongDescriptionWeight

	descSim := TextSimilarity(descA, descB)
	switch {
	case descSim >= 0.95:
		score += descSim * strongDescriptionWeight
	case descSim >= 0.5:
		score += descSim * partialDescriptionWeight
	default:
		score += descSim * weakDescriptionWeight
	}

	merchA := NormalizeDescription(candidate.MerchantName)
	merchB := NormalizeDescription(stored.MerchantName)
	if merchA != "" && merchB != "" {
		score += TextSimilarity(merchA, merchB) * merchantWeight
		total += merchantWeight
	}

	return math.Min(score/total, 1.0)
}

// MatchReason explains a fuzzy match for display.
func MatchReason(candidate domain.ParsedTransaction, stored *domain.StoredTransaction) string {
	var parts []string
	if amountsEqual(candidate.Amount, stored.Amount) {
		parts = append(parts, "same amount")
	}
	if candidate.Date == stored.Date {
		parts = append(parts, "same date")
	}
	descA := NormalizeDescription(candidate.Description)
	descB := NormalizeDescription(stored.Description)
	switch {
	case descA != "" && descA == descB:
		parts = append(parts, "same description")
	case TextSimilarity(descA, descB) > 0.8:
		parts = append(parts, "similar description")
	}
	if len(parts) == 0 {
		return "similar transaction"
	}
	return strings.Join(parts, ", ")
}

// TextSimilarity is 1 - levenshtein distance / longer length.
func TextSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	dist := levenshtein.DistanceForStrings(ra, rb, levenshtein.DefaultOptionsWithSub)
	return 1 - float64(dist)/float64(longest)
}

func amountScore(a, b decimal.Decimal) float64 {
	if a.Sign() != 0 && b.Sign() != 0 && a.Sign() != b.Sign() {
		if a.Abs().Sub(b.Abs()).Abs().LessThan(amountTolerance) {
			return 0.3
		}
		return 0
	}
	avg := a.Abs().Add(b.Abs()).Div(decimal.NewFromInt(2))
	if avg.IsZero() {
		if a.Equal(b) {
			return 1
		}
		return 0
	}
	diff, _ := a.Sub(b).Abs().Div(avg).Float64()
	switch {
	case diff < 0.001:
		return 1.0
	case diff < 0.005:
		return 0.9
	case diff < 0.01:
		return 0.7
	case diff < 0.05:
		return 0.5
	}
	return math.Max(0, 1-diff)
}

func dateScore(days int) float64 {
	switch {
	case days == 0:
		return 1.0
	case days <= 1:
		return 0.9
	case days <= 3:
		return 0.8
	case days <= 7:
		return 0.5
	case days <= 30:
		return 0.3
	}
	return 0
}

func dayDistance(candidate domain.ParsedTransaction, stored *domain.StoredTransaction) int {
	d := candidate.Date.DaysSince(stored.Date)
	if d < 0 {
		d = -d
	}
	return d
}

func isRecurringGap(days int) bool {
	for _, g := range recurringGaps {
		if days >= g[0] && days <= g[1] {
			return true
		}
	}
	return false
}
