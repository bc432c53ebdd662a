package parser

import (
	"regexp"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
)

const maxRewardPoints = 10_000_000

const (
	datePattern   = `(\d{1,2}/\d{1,2}/\d{2,4}|\d{4}-\d{2}-\d{2}|[A-Za-z]{3,9}\.?\s+\d{1,2},?\s+\d{4})`
	amountPattern = `(\(?-?\$?\s?\d[\d,]*\.\d{2}\)?(?:\s?CR)?)`
)

var (
	periodLine  = regexp.MustCompile(`(?i)(?:statement\s+period|billing\s+period|billing\s+cycle|opening\s*/\s*closing\s+date)\s*[:\-]?\s*` + datePattern + `\s*(?:-|–|to|through)\s*` + datePattern)
	closingLine = regexp.MustCompile(`(?i)(?:closing|statement|period\s+ending)\s+date\s*[:\-]?\s*` + datePattern)
	dueLine     = regexp.MustCompile(`(?i)(?:payment\s+)?due\s+date\s*[:\-]?\s*` + datePattern)
	minimumLine = regexp.MustCompile(`(?i)minimum\s+(?:payment|amount)(?:\s+due)?\s*[:\-]?\s*` + amountPattern)
	balanceLine = regexp.MustCompile(`(?i)(?:new|ending|closing|statement)\s+balance\s*[:\-]?\s*` + amountPattern)
	pointsLine  = regexp.MustCompile(`(?i)(?:(?:rewards?\s+)?points(?:\s+(?:balance|available|earned(?:\s+to\s+date)?))?|(?:available|total)\s+(?:rewards?\s+)?points)\s*[:\-]?\s*(\d{1,3}(?:,\d{3})+|\d+)\b`)
)

// ExtractMetadata scans statement lines for balance and payment details.
// The first occurrence of each value wins; statements print the summary first.
func ExtractMetadata(lines []string) domain.StatementMetadata {
	var m domain.StatementMetadata
	var closing civil.Date

	for _, line := range lines {
		periodHit := false
		if m.PeriodEnd.IsZero() {
			if g := periodLine.FindStringSubmatch(line); g != nil {
				periodHit = true
				if start, err := ParseDate(g[1]); err == nil {
					m.PeriodStart = start
				}
				if end, err := ParseDate(g[2]); err == nil {
					m.PeriodEnd = end
				}
			}
		}
		// "Opening/Closing Date a - b" is a period, not a closing date.
		if closing.IsZero() && !periodHit {
			if g := closingLine.FindStringSubmatch(line); g != nil {
				if d, err := ParseDate(g[1]); err == nil {
					closing = d
				}
			}
		}
		if m.PaymentDueDate.IsZero() {
			if g := dueLine.FindStringSubmatch(line); g != nil {
				if d, err := ParseDate(g[1]); err == nil {
					m.PaymentDueDate = d
				}
			}
		}
		if !m.MinimumPaymentDue.Valid {
			if g := minimumLine.FindStringSubmatch(line); g != nil {
				if a, err := ParseAmount(g[1]); err == nil {
					m.MinimumPaymentDue = decimal.NewNullDecimal(a)
				}
			}
		}
		if !m.Balance.Valid {
			if g := balanceLine.FindStringSubmatch(line); g != nil {
				if a, err := ParseAmount(g[1]); err == nil {
					m.Balance = decimal.NewNullDecimal(a)
				}
			}
		}
		if m.RewardPoints == nil {
			if g := pointsLine.FindStringSubmatch(line); g != nil {
				if n, err := strconv.ParseInt(strings.ReplaceAll(g[1], ",", ""), 10, 64); err == nil && n >= 0 && n <= maxRewardPoints {
					m.RewardPoints = &n
				}
			}
		}
	}

	switch {
	case !m.PeriodEnd.IsZero():
		m.BalanceDate = m.PeriodEnd
	case !closing.IsZero():
		m.BalanceDate = closing
	}
	if m.PeriodEnd.IsZero() {
		m.PeriodEnd = closing
	}
	return m
}

// StatementYear picks the year used for yearless transaction dates.
func StatementYear(m domain.StatementMetadata, fileName string, fallback int) int {
	switch {
	case !m.PeriodEnd.IsZero():
		return m.PeriodEnd.Year
	case !m.BalanceDate.IsZero():
		return m.BalanceDate.Year
	}
	if g := filenameYear.FindStringSubmatch(fileName); g != nil {
		return atoi(g[1])
	}
	return fallback
}

var filenameYear = regexp.MustCompile(`(?:^|[^0-9])(20\d{2})(?:[^0-9]|$)`)
