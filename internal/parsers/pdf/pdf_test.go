package pdf

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/dvloznov/finance-importer/internal/domain"
	"github.com/dvloznov/finance-importer/internal/parser"
)

type fakeExtractor struct {
	lines []string
	err   error
}

func (f *fakeExtractor) Extract(_ context.Context, data []byte, _ string) (*Document, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Document{Lines: f.lines, Plain: data}, nil
}

type fakeFallback struct {
	txs   []domain.ParsedTransaction
	err   error
	calls int
}

func (f *fakeFallback) ExtractTransactions(context.Context, []byte, parser.Options) ([]domain.ParsedTransaction, error) {
	f.calls++
	return f.txs, f.err
}

var cardStatement = []string{
	"CHASE FREEDOM UNLIMITED",
	"Account Number: XXXX XXXX XXXX 4821",
	"Opening/Closing Date 12/06/23 - 01/05/24",
	"New Balance $1,482.19",
	"Minimum Payment Due: $40.00",
	"Payment Due Date: 02/01/24",
	"ACCOUNT ACTIVITY",
	"Date of Transaction Merchant Name or Transaction Description $ Amount",
	"12/08 AMAZON MKTPL*AB12C Amzn.com/bill WA 23.99",
	"12/15 12/16 SHELL OIL 57444221 HOUSTON TX 45.10",
	"01/02 AUTOMATIC PAYMENT - THANK YOU -450.00",
	"01/03 REFUND SPOTIFY (10.99)",
	"Total fees charged in 2024 $0.00",
	"Previous Balance 1,200.00",
}

func newTestParser(lines []string, opts ...Option) *Parser {
	opts = append([]Option{WithExtractor(&fakeExtractor{lines: lines})}, opts...)
	return NewParser(zerolog.Nop(), opts...)
}

func TestParse_CardStatement(t *testing.T) {
	p := newTestParser(cardStatement)

	res, err := p.Parse(context.Background(), []byte("%PDF-1.7"), parser.Options{FileName: "statement.pdf"})
	require.NoError(t, err)
	assert.Equal(t, domain.SourcePDF, res.Source)
	require.Len(t, res.Transactions, 4)

	first := res.Transactions[0]
	assert.Equal(t, civil.Date{Year: 2023, Month: time.December, Day: 8}, first.Date)
	assert.Equal(t, "AMAZON MKTPL*AB12C Amzn.com/bill WA", first.Description)
	assert.True(t, first.Amount.Equal(decimal.RequireFromString("23.99")))

	shell := res.Transactions[1]
	assert.Equal(t, civil.Date{Year: 2023, Month: time.December, Day: 15}, shell.Date)
	assert.Equal(t, "SHELL OIL 57444221 HOUSTON TX", shell.Description)

	payment := res.Transactions[2]
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 2}, payment.Date)
	assert.True(t, payment.Amount.Equal(decimal.RequireFromString("-450")))

	assert.True(t, res.Transactions[3].Amount.Equal(decimal.RequireFromString("-10.99")))
	for _, tx := range res.Transactions {
		assert.NotEmpty(t, tx.TransactionID)
	}

	require.NotNil(t, res.DetectedAccount)
	assert.Equal(t, "Chase", res.DetectedAccount.InstitutionName)
	assert.Equal(t, "4821", res.DetectedAccount.AccountNumber)
	require.True(t, res.DetectedAccount.Balance.Valid)
	assert.True(t, res.DetectedAccount.Balance.Decimal.Equal(decimal.RequireFromString("1482.19")))

	assert.Equal(t, civil.Date{Year: 2024, Month: time.February, Day: 1}, res.Metadata.PaymentDueDate)
}

func TestParse_IdsStableAcrossRuns(t *testing.T) {
	p := newTestParser(cardStatement)
	a, err := p.Parse(context.Background(), []byte("%PDF"), parser.Options{})
	require.NoError(t, err)
	b, err := p.Parse(context.Background(), []byte("%PDF"), parser.Options{})
	require.NoError(t, err)

	for i := range a.Transactions {
		assert.Equal(t, a.Transactions[i].TransactionID, b.Transactions[i].TransactionID)
	}
}

func TestParse_FullDatesAndBalanceColumn(t *testing.T) {
	lines := []string{
		"Bank of America Checking",
		"01/04/2024 DIRECT DEPOSIT ACME CORP 2,500.00 3,100.00",
		"01/05/2024 CHECK 1042 120.00- 2,980.00",
		"Jan 9, 2024 ZELLE TO SAM 75.00 CR 2,905.00",
		"Beginning balance on 01/01/2024 600.00",
	}
	res, err := newTestParser(lines).Parse(context.Background(), []byte("%PDF"), parser.Options{})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)

	assert.True(t, res.Transactions[0].Amount.Equal(decimal.RequireFromString("2500")))
	assert.True(t, res.Transactions[1].Amount.Equal(decimal.RequireFromString("-120")))
	assert.Equal(t, "CHECK 1042", res.Transactions[1].Description)
	assert.Equal(t, civil.Date{Year: 2024, Month: time.January, Day: 9}, res.Transactions[2].Date)
	assert.True(t, res.Transactions[2].Amount.Equal(decimal.RequireFromString("-75")))
}

func TestParse_YearFromReferenceWhenNoPeriod(t *testing.T) {
	lines := []string{"03/14 COFFEE SHOP 4.50"}
	now := time.Date(2022, time.June, 1, 0, 0, 0, 0, time.UTC)

	res, err := newTestParser(lines).Parse(context.Background(), []byte("%PDF"), parser.Options{Now: now})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)
	assert.Equal(t, civil.Date{Year: 2022, Month: time.March, Day: 14}, res.Transactions[0].Date)

	res, err = newTestParser(lines).Parse(context.Background(), []byte("%PDF"), parser.Options{Now: now, FileName: "estatement_2021-03.pdf"})
	require.NoError(t, err)
	assert.Equal(t, 2021, res.Transactions[0].Date.Year)
}

func TestParse_FallbackOnlyWhenNothingMatched(t *testing.T) {
	fb := &fakeFallback{txs: []domain.ParsedTransaction{
		{Date: civil.Date{Year: 2024, Month: 1, Day: 2}, Amount: decimal.NewFromInt(-5), Description: "Scanned row"},
	}}

	res, err := newTestParser([]string{"no transactions here"}, WithFallback(fb)).
		Parse(context.Background(), []byte("%PDF"), parser.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
	require.Len(t, res.Transactions, 1)
	assert.NotEmpty(t, res.Transactions[0].TransactionID)

	_, err = newTestParser(cardStatement, WithFallback(fb)).Parse(context.Background(), []byte("%PDF"), parser.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, fb.calls)
}

func TestParse_FallbackErrorIsReported(t *testing.T) {
	fb := &fakeFallback{err: errors.New("quota exceeded")}

	res, err := newTestParser([]string{"header only"}, WithFallback(fb)).
		Parse(context.Background(), []byte("%PDF"), parser.Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "quota exceeded")
}

func TestParse_Errors(t *testing.T) {
	_, err := newTestParser(nil).Parse(context.Background(), nil, parser.Options{})
	assert.True(t, errors.Is(err, parser.ErrEmptyDocument))

	_, err = newTestParser(nil).Parse(context.Background(), []byte("%PDF"), parser.Options{})
	assert.True(t, errors.Is(err, parser.ErrEmptyDocument))

	p := NewParser(zerolog.Nop(), WithExtractor(&fakeExtractor{err: parser.ErrPasswordRequired}))
	_, err = p.Parse(context.Background(), []byte("%PDF"), parser.Options{})
	assert.True(t, errors.Is(err, parser.ErrPasswordRequired))
}

func TestLibraryExtractor_RejectsNonPDF(t *testing.T) {
	_, err := NewLibraryExtractor(zerolog.Nop()).Extract(context.Background(), []byte("Date,Amount\n"), "")
	assert.True(t, errors.Is(err, parser.ErrUnsupportedFormat))
}

func TestPasswordError(t *testing.T) {
	assert.Nil(t, passwordError(errors.New("xref table corrupt"), ""))
	assert.Equal(t, parser.ErrPasswordRequired, passwordError(errors.New("pdfcpu: please provide the correct password"), ""))
	assert.Equal(t, parser.ErrInvalidPassword, passwordError(errors.New("pdfcpu: please provide the correct password"), "wrong"))
}

func TestCleanModelJSON(t *testing.T) {
	assert.Equal(t, `[{"a":1}]`, cleanModelJSON("```json\n[{\"a\":1}]\n```"))
	assert.Equal(t, `[1,2]`, cleanModelJSON("Here you go: [1,2] hope it helps"))
}

type fakeGenerator struct {
	text string
}

func (f *fakeGenerator) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestGeminiExtractor(t *testing.T) {
	g := NewGeminiExtractorWith(&fakeGenerator{text: "```json\n" +
		`[{"date":"2024-01-02","description":"Coffee","amount":-4.5,"currency":"usd","merchant":null}]` +
		"\n```"}, "")

	txs, err := g.ExtractTransactions(context.Background(), []byte("%PDF"), parser.Options{})
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Coffee", txs[0].Description)
	assert.Equal(t, "USD", txs[0].CurrencyCode)
	assert.True(t, txs[0].Amount.Equal(decimal.RequireFromString("-4.5")))

	_, err = NewGeminiExtractorWith(&fakeGenerator{text: `[{"date":"2024-01-02","description":"x"}]`}, "").
		ExtractTransactions(context.Background(), nil, parser.Options{})
	assert.ErrorContains(t, err, "amount")
}
