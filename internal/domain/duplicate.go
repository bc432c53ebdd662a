package domain

// DuplicateMatch is one historical transaction a candidate resembles.
type DuplicateMatch struct {
	Similarity           float64 `json:"similarity"`
	MatchReason          string  `json:"matchReason"`
	MatchedTransactionID string  `json:"matchedTransactionId"`
}

// DuplicateMap is keyed by candidate index.
// A present key with an empty slice is an exact match, a non-empty slice holds
// fuzzy matches best-first, and an absent key means no duplicate was found.
type DuplicateMap map[int][]DuplicateMatch

// IsDuplicate reports whether the candidate at index should be skipped.
func (m DuplicateMap) IsDuplicate(index int) bool {
	_, ok := m[index]
	return ok
}

// IsExact reports whether the candidate at index is an exact duplicate.
func (m DuplicateMap) IsExact(index int) bool {
	matches, ok := m[index]
	return ok && len(matches) == 0
}

// Best returns the highest ranked fuzzy match for index, if any.
func (m DuplicateMap) Best(index int) (DuplicateMatch, bool) {
	matches := m[index]
	if len(matches) == 0 {
		return DuplicateMatch{}, false
	}
	return matches[0], true
}

// Slice returns the entries for indices [start, end) re-keyed from zero.
func (m DuplicateMap) Slice(start, end int) DuplicateMap {
	out := make(DuplicateMap)
	for i, matches := range m {
		if i >= start && i < end {
			out[i-start] = matches
		}
	}
	return out
}
