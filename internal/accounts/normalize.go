// Package accounts decides which account a statement belongs to, creating one
// when nothing matches, and merges statement metadata into stored accounts.
package accounts

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	maxNameLength    = 255
	ellipsis         = "..."
	fallbackName     = "Imported Account"
	unknownInstitute = "Unknown"
	defaultCurrency  = "USD"
	defaultType      = "other"
)

var validAccountTypes = map[string]bool{
	"depository": true,
	"credit":     true,
	"loan":       true,
	"investment": true,
	"other":      true,
	"brokerage":  true,
	"checking":   true,
	"savings":    true,
	"creditcard": true,
	"mortgage":   true,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

var titleCaser = cases.Title(language.English)

// NormalizeAccountNumber keeps the digits of s and returns at most the last four.
func NormalizeAccountNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > 4 {
		return digits[len(digits)-4:]
	}
	return digits
}

// NormalizeAccountType lowercases t and coerces anything outside the known set to "other".
func NormalizeAccountType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if validAccountTypes[t] {
		return t
	}
	return defaultType
}

// SanitizeName strips control characters, collapses whitespace and caps the
// result at 255 characters, marking a cut with "...".
func SanitizeName(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFC.String(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))

	runes := []rune(s)
	if len(runes) > maxNameLength {
		s = string(runes[:maxNameLength-len(ellipsis)]) + ellipsis
	}
	return s
}

// GenerateAccountName builds "{institution}{subtype-or-type}{last4}".
// It falls back to "Imported Account" only when every input is blank.
func GenerateAccountName(institution, accountType, subtype, accountNumber string) string {
	institution = SanitizeName(institution)
	accountType = SanitizeName(accountType)
	subtype = SanitizeName(subtype)
	last4 := NormalizeAccountNumber(accountNumber)

	if institution == "" && accountType == "" && subtype == "" && last4 == "" {
		return fallbackName
	}
	if institution == "" {
		institution = unknownInstitute
	}

	kind := subtype
	if kind == "" {
		kind = accountType
	}
	if kind == "" {
		kind = defaultType
	}
	kind = strings.ReplaceAll(titleCaser.String(kind), " ", "")

	return SanitizeName(institution + kind + last4)
}
