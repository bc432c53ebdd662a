package parser

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed institutions.yaml
var embeddedHints []byte

// Institution is a canonical institution name and the keywords that identify it.
type Institution struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// TypeHint maps keywords to an account type and subtype.
type TypeHint struct {
	Keywords []string `yaml:"keywords"`
	Type     string   `yaml:"type"`
	Subtype  string   `yaml:"subtype"`
}

// Hints holds the keyword tables used for account detection.
type Hints struct {
	Institutions []Institution `yaml:"institutions"`
	AccountTypes []TypeHint    `yaml:"account_types"`

	institutionIndex []keywordEntry
	typeIndex        []keywordEntry
}

type keywordEntry struct {
	keyword string
	pattern *regexp.Regexp
	index   int
}

var (
	defaultHints     *Hints
	defaultHintsErr  error
	defaultHintsOnce sync.Once
)

// DefaultHints returns the embedded keyword tables.
func DefaultHints() *Hints {
	defaultHintsOnce.Do(func() {
		defaultHints, defaultHintsErr = ParseHints(embeddedHints)
	})
	if defaultHintsErr != nil {
		panic(fmt.Sprintf("embedded institution hints are invalid: %v", defaultHintsErr))
	}
	return defaultHints
}

// LoadHints reads keyword tables from a YAML file.
func LoadHints(path string) (*Hints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadHints: reading %s: %w", path, err)
	}
	return ParseHints(data)
}

// ParseHints decodes and validates YAML keyword tables.
func ParseHints(data []byte) (*Hints, error) {
	var h Hints
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("ParseHints: decoding yaml: %w", err)
	}
	for i, inst := range h.Institutions {
		if strings.TrimSpace(inst.Name) == "" {
			return nil, fmt.Errorf("ParseHints: institution %d has no name", i)
		}
		if len(inst.Keywords) == 0 {
			return nil, fmt.Errorf("ParseHints: institution %q has no keywords", inst.Name)
		}
		for _, kw := range inst.Keywords {
			h.institutionIndex = append(h.institutionIndex, newKeywordEntry(kw, i))
		}
	}
	for i, th := range h.AccountTypes {
		if th.Type == "" {
			return nil, fmt.Errorf("ParseHints: account type hint %d has no type", i)
		}
		for _, kw := range th.Keywords {
			h.typeIndex = append(h.typeIndex, newKeywordEntry(kw, i))
		}
	}
	// Longest keyword first so multi-word names beat their fragments.
	byLength := func(entries []keywordEntry) {
		sort.SliceStable(entries, func(i, j int) bool {
			return len(entries[i].keyword) > len(entries[j].keyword)
		})
	}
	byLength(h.institutionIndex)
	byLength(h.typeIndex)
	return &h, nil
}

func newKeywordEntry(keyword string, index int) keywordEntry {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	return keywordEntry{
		keyword: kw,
		pattern: regexp.MustCompile(`(^|[^a-z0-9])` + regexp.QuoteMeta(kw) + `($|[^a-z])`),
		index:   index,
	}
}

// Institution returns the canonical institution named in text, or "".
func (h *Hints) Institution(text string) string {
	text = strings.ToLower(text)
	for _, e := range h.institutionIndex {
		if e.pattern.MatchString(text) {
			return h.Institutions[e.index].Name
		}
	}
	return ""
}

// AccountType returns the type and subtype named in text.
func (h *Hints) AccountType(text string) (accountType, subtype string) {
	text = strings.ToLower(text)
	for _, e := range h.typeIndex {
		if e.pattern.MatchString(text) {
			th := h.AccountTypes[e.index]
			return th.Type, th.Subtype
		}
	}
	return "", ""
}
