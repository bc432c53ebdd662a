// Package dedup flags parsed transactions that already exist in a user's history.
package dedup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/finance-importer/internal/domain"
)

const (
	// DefaultThreshold is the minimum similarity reported as a fuzzy duplicate.
	DefaultThreshold = 0.90
	// historyWindowDays widens the history query around the candidates' dates.
	historyWindowDays = 35
	exactReason       = "Exact match"
)

// HistorySource returns a user's stored transactions within a date range.
type HistorySource interface {
	FindDuplicateCandidates(ctx context.Context, userID string, from, to civil.Date) ([]*domain.StoredTransaction, error)
}

// Detector compares candidates against stored history.
type Detector struct {
	history   HistorySource
	threshold float64
	log       zerolog.Logger
}

// NewDetector creates a Detector using DefaultThreshold.
func NewDetector(history HistorySource, log zerolog.Logger) *Detector {
	return &Detector{history: history, threshold: DefaultThreshold, log: log}
}

// WithThreshold returns a copy of d reporting fuzzy matches at or above threshold.
func (d *Detector) WithThreshold(threshold float64) *Detector {
	c := *d
	c.threshold = threshold
	return &c
}

// Options narrows which history counts.
type Options struct {
	// IgnoreImportID excludes rows written by an earlier page of the same import.
	IgnoreImportID string
}

// DetectDuplicates returns the duplicate map for candidates, keyed by index.
func (d *Detector) DetectDuplicates(ctx context.Context, userID string, candidates []domain.ParsedTransaction, opts Options) (domain.DuplicateMap, error) {
	result := make(domain.DuplicateMap)
	from, to, ok := dateRange(candidates)
	if !ok {
		return result, nil
	}

	history, err := d.history.FindDuplicateCandidates(ctx, userID, from.AddDays(-historyWindowDays), to.AddDays(historyWindowDays))
	if err != nil {
		return nil, fmt.Errorf("DetectDuplicates: loading history: %w", err)
	}
	if opts.IgnoreImportID != "" {
		kept := history[:0:0]
		for _, h := range history {
			if h.ImportID != opts.IgnoreImportID {
				kept = append(kept, h)
			}
		}
		history = kept
	}
	if len(history) == 0 {
		return result, nil
	}

	byID := make(map[string]*domain.StoredTransaction, len(history))
	for _, h := range history {
		byID[strings.ToLower(h.TransactionID)] = h
		if h.PlaidTransactionID != "" {
			byID[strings.ToLower(h.PlaidTransactionID)] = h
		}
	}

	for i, c := range candidates {
		if c.TransactionID != "" {
			if _, found := byID[strings.ToLower(c.TransactionID)]; found {
				result[i] = []domain.DuplicateMatch{}
				continue
			}
		}
		if matches, exact := d.compare(c, history); exact {
			result[i] = []domain.DuplicateMatch{}
		} else if len(matches) > 0 {
			result[i] = matches
		}
	}

	d.log.Debug().
		Int("candidates", len(candidates)).
		Int("history", len(history)).
		Int("duplicates", len(result)).
		Msg("Duplicate detection finished")
	return result, nil
}

func (d *Detector) compare(c domain.ParsedTransaction, history []*domain.StoredTransaction) ([]domain.DuplicateMatch, bool) {
	var matches []domain.DuplicateMatch
	for _, h := range history {
		if IsExactMatch(c, h) {
			return nil, true
		}
		score := Similarity(c, h)
		if score >= d.threshold {
			matches = append(matches, domain.DuplicateMatch{
				Similarity:           score,
				MatchReason:          MatchReason(c, h),
				MatchedTransactionID: h.TransactionID,
			})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, false
}

// DisplayMatch returns the similarity and reason shown for a flagged candidate.
func DisplayMatch(matches []domain.DuplicateMatch) (float64, string) {
	if len(matches) == 0 {
		return 1.0, exactReason
	}
	return matches[0].Similarity, matches[0].MatchReason
}

func dateRange(candidates []domain.ParsedTransaction) (from, to civil.Date, ok bool) {
	for _, c := range candidates {
		if c.Date.IsZero() {
			continue
		}
		if !ok || c.Date.Before(from) {
			from = c.Date
		}
		if !ok || c.Date.After(to) {
			to = c.Date
		}
		ok = true
	}
	return from, to, ok
}
