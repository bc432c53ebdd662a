package pdf

import (
	"regexp"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

// detectionLines bounds the header area searched for account details.
const detectionLines = 80

const (
	amountExpr = `((?:\(\$?\d{1,3}(?:,\d{3})*\.\d{2}\)|[-+]?\$?\d{1,3}(?:,\d{3})*\.\d{2}-?)(?:\s?(?:CR|DR))?)`
	monthExpr  = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`
	tailExpr   = `\s+(.+?)\s+` + amountExpr + `(?:\s+` + amountExpr + `)?$`
)

type linePattern struct {
	re *regexp.Regexp
	// yearless dates take their year from the statement period.
	yearless bool
}

// Tried in order; two-date layouts come before their single-date prefixes.
var linePatterns = []linePattern{
	{re: regexp.MustCompile(`(?i)^(\d{1,2}/\d{1,2})\s+\d{1,2}/\d{1,2}` + tailExpr), yearless: true},
	{re: regexp.MustCompile(`(?i)^(\d{1,2}/\d{1,2}/\d{2,4})(?:\s+\d{1,2}/\d{1,2}/\d{2,4})?` + tailExpr)},
	{re: regexp.MustCompile(`(?i)^(\d{4}-\d{2}-\d{2})` + tailExpr)},
	{re: regexp.MustCompile(`(?i)^(` + monthExpr + `\s+\d{1,2},?\s+\d{4})` + tailExpr)},
	{re: regexp.MustCompile(`(?i)^(` + monthExpr + `\s+\d{1,2})(?:\s+` + monthExpr + `\s+\d{1,2})?` + tailExpr), yearless: true},
	{re: regexp.MustCompile(`(?i)^(\d{1,2}/\d{1,2})` + tailExpr), yearless: true},
}

var (
	summaryLine = regexp.MustCompile(`(?i)^(?:sub)?totals?\b|(?:previous|new|beginning|ending|opening|closing)\s+balance|balance\s+(?:forward|brought|carried)`)
	hasLetter   = regexp.MustCompile(`[A-Za-z]`)
)

// parseStatement turns extracted text lines into transactions, account
// evidence and statement metadata.
func parseStatement(lines []string, opts parser.Options, hints *parser.Hints) *domain.ImportResult {
	result := &domain.ImportResult{Source: domain.SourcePDF, FileName: opts.FileName}
	result.Metadata = parser.ExtractMetadata(lines)

	closing := result.Metadata.PeriodEnd
	fallbackYear := parser.StatementYear(result.Metadata, opts.FileName, opts.Reference().Year())

	ids := parser.NewIDGenerator(domain.SourcePDF, opts.UserID)
	for _, line := range lines {
		tx, ok := parseLine(line, closing, fallbackYear)
		if !ok {
			continue
		}
		tx.TransactionID = ids.Next(tx.Date, tx.Amount, tx.Description, "")
		result.Transactions = append(result.Transactions, tx)
	}

	header := lines
	if len(header) > detectionLines {
		header = header[:detectionLines]
	}
	detected := parser.CombineDetections(
		parser.DetectFromText(header, hints),
		parser.DetectFromFilename(opts.FileName, hints),
	)
	if detected != nil && !detected.Balance.Valid {
		detected.Balance = result.Metadata.Balance
		detected.BalanceDate = result.Metadata.BalanceDate
	}
	result.DetectedAccount = detected
	return result
}

func parseLine(line string, closing civil.Date, fallbackYear int) (domain.ParsedTransaction, bool) {
	line = strings.TrimSpace(line)
	for _, lp := range linePatterns {
		m := lp.re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		desc := strings.TrimSpace(strings.TrimSuffix(m[2], "$"))
		if !hasLetter.MatchString(desc) || summaryLine.MatchString(desc) {
			return domain.ParsedTransaction{}, false
		}
		date, err := lineDate(m[1], lp.yearless, closing, fallbackYear)
		if err != nil {
			return domain.ParsedTransaction{}, false
		}
		amount, err := parser.ParseAmount(m[3])
		if err != nil {
			return domain.ParsedTransaction{}, false
		}
		return domain.ParsedTransaction{
			Date:        date,
			Amount:      amount,
			Description: desc,
		}, true
	}
	return domain.ParsedTransaction{}, false
}

// lineDate resolves a yearless date against the statement closing date, so
// December rows on a January statement land in the previous year.
func lineDate(raw string, yearless bool, closing civil.Date, fallbackYear int) (civil.Date, error) {
	if !yearless {
		return parser.ParseDate(raw)
	}
	// 2000 is a leap year, so Feb 29 survives the first pass.
	monthDay, err := parser.ParseDateInYear(raw, 2000)
	if err != nil {
		return civil.Date{}, err
	}
	year := fallbackYear
	if !closing.IsZero() {
		year = parser.InferYear(int(monthDay.Month), closing)
	}
	return parser.ParseDateInYear(raw, year)
}
