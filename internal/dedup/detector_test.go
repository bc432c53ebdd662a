package dedup

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

	"github.com/dvloznov/finance-importer/internal/domain"
)

type mockHistory struct {
	rows     []*domain.StoredTransaction
	err      error
	from, to civil.Date
	calls    int
}

func (m *mockHistory) FindDuplicateCandidates(ctx context.Context, userID string, from, to civil.Date) ([]*domain.StoredTransaction, error) {
	m.calls++
	m.from, m.to = from, to
	return m.rows, m.err
}

func day(d int) civil.Date {
	return civil.Date{Year: 2024, Month: time.March, Day: 1}.AddDays(d)
}

func parsed(id string, d int, amount, desc string) domain.ParsedTransaction {
	return domain.ParsedTransaction{
		TransactionID: id,
		Date:          day(d),
		Amount:        decimal.RequireFromString(amount),
		Description:   desc,
	}
}

func stored(id string, d int, amount, desc string) *domain.StoredTransaction {
	return &domain.StoredTransaction{
		TransactionID: id,
		Date:          day(d),
		Amount:        decimal.RequireFromString(amount),
		Description:   desc,
	}
}

func TestDetectDuplicates_MapSemantics(t *testing.T) {
	history := &mockHistory{rows: []*domain.StoredTransaction{
		stored("h1", 0, "-4.50", "Blue Bottle Coffee"),
		stored("csv-abc", 5, "-60.00", "Something else entirely"),
		stored("h3", 10, "-23.99", "AMAZON MKTPLACE PMTS*"),
	}}
	d := NewDetector(history, zerolog.Nop())

	candidates := []domain.ParsedTransaction{
		parsed("", 0, "-4.50", "  blue bottle   COFFEE "),
		parsed("CSV-ABC", 20, "-1.00", "Different"),
		parsed("", 11, "-23.99", "AMAZON MKTPLACE PMTS"),
		parsed("", 3, "-100.00", "Rent"),
	}

	dups, err := d.DetectDuplicates(context.Background(), "u1", candidates, Options{})
	require.NoError(t, err)

	assert.True(t, dups.IsExact(0), "same date, amount and normalized description")
	assert.True(t, dups.IsExact(1), "transaction id match is case-insensitive")

	require.True(t, dups.IsDuplicate(2))
	assert.False(t, dups.IsExact(2))
	best, ok := dups.Best(2)
	require.True(t, ok)
	assert.Equal(t, "h3", best.MatchedTransactionID)
	assert.GreaterOrEqual(t, best.Similarity, DefaultThreshold)
	assert.Equal(t, "same amount, similar description", best.MatchReason)

	assert.False(t, dups.IsDuplicate(3))

	assert.Equal(t, day(-35), history.from)
	assert.Equal(t, day(20+35), history.to)
}

func TestDetectDuplicates_RecurringChargeIsNotDuplicate(t *testing.T) {
	history := &mockHistory{rows: []*domain.StoredTransaction{
		stored("h1", 0, "-15.99", "NETFLIX.COM"),
	}}
	d := NewDetector(history, zerolog.Nop())

	dups, err := d.DetectDuplicates(context.Background(), "u1", []domain.ParsedTransaction{
		parsed("", 30, "-15.99", "NETFLIX.COM"),
		parsed("", 2, "-15.99", "NETFLIX.COM"),
	}, Options{})
	require.NoError(t, err)

	assert.False(t, dups.IsDuplicate(0), "monthly gap looks like a subscription")
	assert.True(t, dups.IsDuplicate(1), "a two day shift is a posting-date difference")
}

func TestDetectDuplicates_RankedBestFirst(t *testing.T) {
	history := &mockHistory{rows: []*domain.StoredTransaction{
		stored("far", 3, "-42.00", "SHELL OIL 57444221 HOUSTON TX."),
		stored("near", 1, "-42.00", "SHELL OIL 57444221 HOUSTON TX."),
	}}
	d := NewDetector(history, zerolog.Nop())

	dups, err := d.DetectDuplicates(context.Background(), "u1", []domain.ParsedTransaction{
		parsed("", 0, "-42.00", "SHELL OIL 57444221 HOUSTON TX"),
	}, Options{})
	require.NoError(t, err)

	require.Len(t, dups[0], 2)
	assert.Equal(t, "near", dups[0][0].MatchedTransactionID)
	assert.Greater(t, dups[0][0].Similarity, dups[0][1].Similarity)
}

func TestDetectDuplicates_IgnoresRowsFromSameImport(t *testing.T) {
	row := stored("t1", 0, "-9.99", "Spotify")
	row.ImportID = "upload-1"
	d := NewDetector(&mockHistory{rows: []*domain.StoredTransaction{row}}, zerolog.Nop())

	cand := []domain.ParsedTransaction{parsed("", 0, "-9.99", "Spotify")}

	dups, err := d.DetectDuplicates(context.Background(), "u1", cand, Options{IgnoreImportID: "upload-1"})
	require.NoError(t, err)
	assert.Empty(t, dups)

	dups, err = d.DetectDuplicates(context.Background(), "u1", cand, Options{})
	require.NoError(t, err)
	assert.True(t, dups.IsExact(0))
}

func TestDetectDuplicates_NoDatedCandidatesSkipsHistory(t *testing.T) {
	history := &mockHistory{}
	d := NewDetector(history, zerolog.Nop())

	dups, err := d.DetectDuplicates(context.Background(), "u1", []domain.ParsedTransaction{{Description: "x"}}, Options{})
	require.NoError(t, err)
	assert.Empty(t, dups)
	assert.Zero(t, history.calls)
}

func TestDetectDuplicates_HistoryError(t *testing.T) {
	d := NewDetector(&mockHistory{err: errors.New("boom")}, zerolog.Nop())
	_, err := d.DetectDuplicates(context.Background(), "u1", []domain.ParsedTransaction{parsed("", 0, "1", "x")}, Options{})
	assert.Error(t, err)
}

func TestWithThreshold(t *testing.T) {
	history := &mockHistory{rows: []*domain.StoredTransaction{stored("h", 0, "-10.00", "Lunch at Joe's")}}
	strict := NewDetector(history, zerolog.Nop()).WithThreshold(0.99)

	dups, err := strict.DetectDuplicates(context.Background(), "u1", []domain.ParsedTransaction{parsed("", 1, "-10.00", "Lunch at Joe's")}, Options{})
	require.NoError(t, err)
	assert.Empty(t, dups)
}

func TestDisplayMatch(t *testing.T) {
	sim, reason := DisplayMatch(nil)
	assert.Equal(t, 1.0, sim)
	assert.Equal(t, "Exact match", reason)

	sim, reason = DisplayMatch([]domain.DuplicateMatch{{Similarity: 0.93, MatchReason: "same amount"}})
	assert.Equal(t, 0.93, sim)
	assert.Equal(t, "same amount", reason)
}
