// Package ofx parses OFX and QFX statement downloads.
package ofx

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

// Parser reads bank and credit card OFX statements. It is stateless and safe
// for concurrent use.
type Parser struct {
	hints *parser.Hints
}

// NewParser creates an OFX parser using the given hints, or the embedded ones when nil.
func NewParser(hints *parser.Hints) *Parser {
	if hints == nil {
		hints = parser.DefaultHints()
	}
	return &Parser{hints: hints}
}

// Name implements parser.Parser.
func (p *Parser) Name() string { return "ofx" }

// Source implements parser.Parser.
func (p *Parser) Source() domain.ImportSource { return domain.SourceOFX }

// CanParse implements parser.Parser. Files are claimed by extension; without
// a name the header must carry an OFX marker.
func (p *Parser) CanParse(fileName string, header []byte) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".ofx", ".qfx":
		return true
	}
	upper := bytes.ToUpper(header)
	return bytes.Contains(upper, []byte("OFXHEADER")) ||
		bytes.Contains(upper, []byte("<?OFX")) ||
		bytes.Contains(upper, []byte("<OFX>"))
}

// statement is what bank and credit card responses have in common.
type statement struct {
	accountID   string
	accountType string
	subtype     string
	currency    string
	tranList    *ofxgo.TransactionList
	balance     ofxgo.Amount
	balanceAsOf ofxgo.Date
}

// Parse implements parser.Parser.
func (p *Parser) Parse(ctx context.Context, data []byte, opts parser.Options) (*domain.ImportResult, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("ofx.Parse: %w", parser.ErrEmptyDocument)
	}

	resp, err := ofxgo.ParseResponse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ofx.Parse: %w: %v", parser.ErrUnsupportedFormat, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stmt, err := firstStatement(resp)
	if err != nil {
		return nil, fmt.Errorf("ofx.Parse: %w", err)
	}

	result := &domain.ImportResult{Source: domain.SourceOFX, FileName: opts.FileName}
	result.DetectedAccount = p.detect(resp, stmt, opts.FileName)
	result.Metadata = metadata(stmt)
	result.DetectedAccount.Balance = result.Metadata.Balance
	result.DetectedAccount.BalanceDate = result.Metadata.BalanceDate

	if stmt.tranList == nil {
		result.Errors = append(result.Errors, "statement has no transaction list")
		return result, nil
	}

	ids := parser.NewIDGenerator(domain.SourceOFX, opts.UserID)
	for i, txn := range stmt.tranList.Transactions {
		tx, err := transaction(txn, stmt.currency)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("transaction %d: %v", i+1, err))
			continue
		}
		tx.TransactionID = ids.Next(tx.Date, tx.Amount, tx.Description, tx.Reference)
		result.Transactions = append(result.Transactions, tx)
	}
	return result, nil
}

func firstStatement(resp *ofxgo.Response) (*statement, error) {
	if len(resp.Bank) > 0 {
		bank, ok := resp.Bank[0].(*ofxgo.StatementResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected bank message %T", resp.Bank[0])
		}
		accountType, subtype := bankAccountType(bank.BankAcctFrom)
		return &statement{
			accountID:   bank.BankAcctFrom.AcctID.String(),
			accountType: accountType,
			subtype:     subtype,
			currency:    currency(bank.CurDef),
			tranList:    bank.BankTranList,
			balance:     bank.BalAmt,
			balanceAsOf: bank.DtAsOf,
		}, nil
	}
	if len(resp.CreditCard) > 0 {
		cc, ok := resp.CreditCard[0].(*ofxgo.CCStatementResponse)
		if !ok {
			return nil, fmt.Errorf("unexpected credit card message %T", resp.CreditCard[0])
		}
		return &statement{
			accountID:   cc.CCAcctFrom.AcctID.String(),
			accountType: "credit",
			subtype:     "credit card",
			currency:    currency(cc.CurDef),
			tranList:    cc.BankTranList,
			balance:     cc.BalAmt,
			balanceAsOf: cc.DtAsOf,
		}, nil
	}
	if len(resp.InvStmt) > 0 {
		return nil, fmt.Errorf("%w: investment statements", parser.ErrUnsupportedFormat)
	}
	return nil, fmt.Errorf("%w: no bank or credit card statement", parser.ErrEmptyDocument)
}

func bankAccountType(acct ofxgo.BankAcct) (accountType, subtype string) {
	switch acct.AcctType {
	case ofxgo.AcctTypeChecking:
		return "depository", "checking"
	case ofxgo.AcctTypeSavings:
		return "depository", "savings"
	case ofxgo.AcctTypeMoneyMrkt:
		return "depository", "money market"
	case ofxgo.AcctTypeCD:
		return "depository", "cd"
	case ofxgo.AcctTypeCreditLine:
		return "credit", "line of credit"
	}
	return "depository", ""
}

// currency returns the ISO code, or "" when the statement left it unset.
func currency(c ofxgo.CurrSymbol) string {
	code := c.String()
	if code == "" || code == "XXX" {
		return ""
	}
	return code
}

func (p *Parser) detect(resp *ofxgo.Response, stmt *statement, fileName string) *domain.DetectedAccount {
	org := strings.TrimSpace(resp.Signon.Org.String())
	institution := p.hints.Institution(org)
	if institution == "" {
		institution = org
	}
	d := &domain.DetectedAccount{
		InstitutionName: institution,
		AccountType:     stmt.accountType,
		AccountSubtype:  stmt.subtype,
		AccountNumber:   stmt.accountID,
	}
	d.Merge(parser.DetectFromFilename(fileName, p.hints))
	return d
}

func metadata(stmt *statement) domain.StatementMetadata {
	var m domain.StatementMetadata
	if !stmt.balanceAsOf.IsZero() {
		m.Balance = decimal.NewNullDecimal(amount(stmt.balance))
		m.BalanceDate = civil.DateOf(stmt.balanceAsOf.Time)
	}
	if stmt.tranList != nil {
		if !stmt.tranList.DtStart.IsZero() {
			m.PeriodStart = civil.DateOf(stmt.tranList.DtStart.Time)
		}
		if !stmt.tranList.DtEnd.IsZero() {
			m.PeriodEnd = civil.DateOf(stmt.tranList.DtEnd.Time)
		}
	}
	return m
}

func amount(a ofxgo.Amount) decimal.Decimal {
	d, err := decimal.NewFromString(a.Rat.FloatString(4))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func transaction(txn ofxgo.Transaction, stmtCurrency string) (domain.ParsedTransaction, error) {
	var tx domain.ParsedTransaction
	if txn.DtPosted.IsZero() {
		return tx, fmt.Errorf("missing posted date")
	}
	tx.Date = civil.DateOf(txn.DtPosted.Time)
	tx.Amount = amount(txn.TrnAmt)

	tx.Description = strings.TrimSpace(txn.Name.String())
	memo := strings.TrimSpace(txn.Memo.String())
	if tx.Description == "" {
		tx.Description = memo
	}
	if txn.Payee != nil {
		tx.MerchantName = strings.TrimSpace(txn.Payee.Name.String())
	}
	if tx.Description == "" {
		tx.Description = tx.MerchantName
	}
	if tx.Description == "" {
		return tx, fmt.Errorf("missing name and memo")
	}

	tx.CurrencyCode = stmtCurrency
	if txn.Currency != nil {
		if code := currency(txn.Currency.CurSym); code != "" {
			tx.CurrencyCode = code
		}
	}
	tx.TransactionTypeIndicator = txn.TrnType.String()
	tx.PaymentChannel = paymentChannel(txn)
	return tx, nil
}

func paymentChannel(txn ofxgo.Transaction) string {
	switch txn.TrnType {
	case ofxgo.TrnTypePOS, ofxgo.TrnTypeATM:
		return "in store"
	case ofxgo.TrnTypeCheck, ofxgo.TrnTypeXfer, ofxgo.TrnTypeDirectDep, ofxgo.TrnTypeDirectDebit:
		return "other"
	}
	return ""
}

var _ parser.Parser = (*Parser)(nil)
