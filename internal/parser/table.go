package parser

import (
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
)

// headerScanLimit bounds how far down a sheet the header row may sit.
const headerScanLimit = 30

type column int

const (
	colDate column = iota
	colAmount
	colDebit
	colCredit
	colDescription
	colMerchant
	colCategory
	colSubcategory
	colCurrency
	colType
	colChannel
	colBalance
	colReference
	numColumns
)

// Aliases are listed in preference order; the first alias found wins when a
// sheet has several candidate columns.
var columnAliases = [numColumns][]string{
	colDate:        {"transaction date", "trans date", "date", "txn date", "posting date", "posted date", "post date", "booking date", "value date"},
	colAmount:      {"amount", "transaction amount", "net amount", "value"},
	colDebit:       {"debit", "debit amount", "withdrawal", "withdrawals", "paid out", "money out", "charges"},
	colCredit:      {"credit", "credit amount", "deposit", "deposits", "paid in", "money in", "payments"},
	colDescription: {"description", "transaction description", "details", "transaction details", "memo", "narrative", "particulars", "name", "payee"},
	colMerchant:    {"merchant", "merchant name", "payee name", "counterparty"},
	colCategory:    {"category", "category primary", "primary category"},
	colSubcategory: {"subcategory", "sub category", "category detailed", "detailed category"},
	colCurrency:    {"currency", "currency code", "ccy"},
	colType:        {"type", "transaction type", "credit debit", "debit credit", "dr cr"},
	colChannel:     {"payment channel", "channel", "method"},
	colBalance:     {"balance", "running balance", "available balance"},
	colReference:   {"transaction id", "reference", "reference number", "ref", "fitid", "id"},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func normalizeHeader(s string) string {
	return strings.TrimSpace(nonAlnum.ReplaceAllString(strings.ToLower(s), " "))
}

type columnMap [numColumns]int

func (m columnMap) has(c column) bool { return m[c] >= 0 }

func (m columnMap) cell(row []string, c column) string {
	i := m[c]
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// mapColumns matches a candidate header row. ok is false unless the row names
// a date column and an amount or debit/credit column.
func mapColumns(row []string) (m columnMap, ok bool) {
	rank := [numColumns]int{}
	for c := range m {
		m[c] = -1
		rank[c] = len(columnAliases[c])
	}
	for i, cell := range row {
		name := normalizeHeader(cell)
		if name == "" {
			continue
		}
		for c := column(0); c < numColumns; c++ {
			for r, alias := range columnAliases[c] {
				hit := name == alias || (c == colAmount && r == 0 && strings.HasPrefix(name, "amount "))
				if hit && r < rank[c] {
					m[c], rank[c] = i, r
				}
			}
		}
	}
	ok = m.has(colDate) && (m.has(colAmount) || m.has(colDebit) || m.has(colCredit))
	return m, ok
}

// TableOptions customises ParseTable for a source format.
type TableOptions struct {
	Source domain.ImportSource
	// ParseDate reads a date cell; nil means ParseDate.
	ParseDate func(string) (civil.Date, error)
	Hints     *Hints
}

// ParseTable converts spreadsheet-like rows into an ImportResult. Rows above
// the header are treated as statement preamble for account detection and
// metadata. Bad rows are reported in Errors and skipped.
func ParseTable(rows [][]string, opts Options, topts TableOptions) *domain.ImportResult {
	result := &domain.ImportResult{Source: topts.Source, FileName: opts.FileName}
	hints := topts.Hints
	if hints == nil {
		hints = DefaultHints()
	}
	parseDate := topts.ParseDate
	if parseDate == nil {
		parseDate = ParseDate
	}

	headerIdx := -1
	var cols columnMap
	for i := 0; i < len(rows) && i < headerScanLimit; i++ {
		if m, ok := mapColumns(rows[i]); ok {
			headerIdx, cols = i, m
			break
		}
	}

	fromName := DetectFromFilename(opts.FileName, hints)
	if headerIdx < 0 {
		result.DetectedAccount = fromName
		if len(rows) > 0 {
			result.Errors = append(result.Errors, "no header row with date and amount columns found")
		}
		return result
	}

	preamble := make([]string, 0, headerIdx)
	for _, r := range rows[:headerIdx] {
		if line := strings.TrimSpace(strings.Join(r, " ")); line != "" {
			preamble = append(preamble, line)
		}
	}
	result.Metadata = ExtractMetadata(preamble)

	ids := NewIDGenerator(topts.Source, opts.UserID)
	var latestBalance decimal.NullDecimal
	var latestBalanceDate civil.Date

	for i := headerIdx + 1; i < len(rows); i++ {
		row := rows[i]
		lineNo := i + 1
		if isBlank(row) {
			continue
		}
		if _, again := mapColumns(row); again {
			continue
		}

		tx, err := rowTransaction(row, cols, parseDate)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("row %d: %v", lineNo, err))
			continue
		}
		tx.TransactionID = ids.Next(tx.Date, tx.Amount, tx.Description, tx.Reference)
		result.Transactions = append(result.Transactions, tx)

		if raw := cols.cell(row, colBalance); raw != "" {
			if b, err := ParseAmount(raw); err == nil && !tx.Date.Before(latestBalanceDate) {
				latestBalance, latestBalanceDate = decimal.NewNullDecimal(b), tx.Date
			}
		}
	}

	if !result.Metadata.Balance.Valid && latestBalance.Valid {
		result.Metadata.Balance = latestBalance
		result.Metadata.BalanceDate = latestBalanceDate
	}

	detected := CombineDetections(DetectFromText(preamble, hints), fromName)
	if detected != nil {
		if !detected.Balance.Valid {
			detected.Balance = result.Metadata.Balance
			detected.BalanceDate = result.Metadata.BalanceDate
		}
	}
	result.DetectedAccount = detected
	return result
}

func rowTransaction(row []string, cols columnMap, parseDate func(string) (civil.Date, error)) (domain.ParsedTransaction, error) {
	var tx domain.ParsedTransaction

	rawDate := cols.cell(row, colDate)
	if rawDate == "" {
		return tx, fmt.Errorf("missing date")
	}
	d, err := parseDate(rawDate)
	if err != nil {
		return tx, err
	}
	tx.Date = d

	amount, err := rowAmount(row, cols)
	if err != nil {
		return tx, err
	}
	tx.Amount = amount

	tx.Description = cols.cell(row, colDescription)
	tx.MerchantName = cols.cell(row, colMerchant)
	if tx.Description == "" {
		tx.Description = tx.MerchantName
	}
	tx.CategoryPrimary = cols.cell(row, colCategory)
	tx.CategoryDetailed = cols.cell(row, colSubcategory)
	tx.CurrencyCode = strings.ToUpper(cols.cell(row, colCurrency))
	tx.TransactionTypeIndicator = cols.cell(row, colType)
	tx.PaymentChannel = cols.cell(row, colChannel)
	tx.Reference = cols.cell(row, colReference)
	return tx, nil
}

// rowAmount reads a signed amount column, or credit minus debit when the
// sheet splits them.
func rowAmount(row []string, cols columnMap) (decimal.Decimal, error) {
	if raw := cols.cell(row, colAmount); raw != "" {
		return ParseAmount(raw)
	}

	debitRaw, creditRaw := cols.cell(row, colDebit), cols.cell(row, colCredit)
	if debitRaw == "" && creditRaw == "" {
		return decimal.Decimal{}, fmt.Errorf("missing amount")
	}
	total := decimal.Zero
	if creditRaw != "" {
		c, err := ParseAmount(creditRaw)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(c.Abs())
	}
	if debitRaw != "" {
		d, err := ParseAmount(debitRaw)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Sub(d.Abs())
	}
	return total, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
