package parser

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dvloznov/finance-importer/internal/domain"
)

var (
	uuidName = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	// A four digit group on its own, or glued to the end of a word ("chase1234").
	filenameLast4 = regexp.MustCompile(`(?:^|[\s_\-.]|[a-z])(\d{4})(?:$|[\s_\-.])`)
	longDigitRun  = regexp.MustCompile(`\d{5,}`)
	yearLike      = regexp.MustCompile(`^(19|20)\d{2}$`)

	accountNumberLine = regexp.MustCompile(`(?i)(?:account\s+number|account\s+no\.?|account\s*#|acct\.?\s*(?:no\.?|#)?|account\s+ending\s+in|card\s+ending\s+in|card\s+number|ending\s+in)\s*[:#]?\s*([xX*•\d][xX*•\d\s\-]{2,30}\d)`)
	accountNameLine   = regexp.MustCompile(`(?i)^\s*account\s+name\s*[:\-]\s*(.+)$`)
)

// DetectFromFilename reads institution, type and last-4 hints from a file name.
// Generated names (uploads, UUIDs) yield nil.
func DetectFromFilename(fileName string, hints *Hints) *domain.DetectedAccount {
	base := strings.ToLower(filepath.Base(strings.TrimSpace(fileName)))
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || strings.HasPrefix(base, "unknown") || strings.HasPrefix(base, "import_") || uuidName.MatchString(base) {
		return nil
	}
	spaced := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(base)

	d := &domain.DetectedAccount{}
	d.InstitutionName = hints.Institution(spaced)
	d.AccountType, d.AccountSubtype = hints.AccountType(spaced)
	d.AccountNumber = filenameNumber(base)

	if d.InstitutionName == "" && d.AccountType == "" && d.AccountNumber == "" {
		return nil
	}
	return d
}

func filenameNumber(base string) string {
	for _, run := range longDigitRun.FindAllString(base, -1) {
		if !isDateRun(run) {
			return run[len(run)-4:]
		}
	}
	for _, m := range filenameLast4.FindAllStringSubmatch(base, -1) {
		if !yearLike.MatchString(m[1]) {
			return m[1]
		}
	}
	return ""
}

// isDateRun spots yyyymmdd stamps that are not account numbers.
func isDateRun(run string) bool {
	return len(run) == 8 && yearLike.MatchString(run[:4]) && run[4:6] <= "12"
}

// DetectFromText reads account evidence from statement header lines.
func DetectFromText(lines []string, hints *Hints) *domain.DetectedAccount {
	d := &domain.DetectedAccount{}
	for _, line := range lines {
		if d.AccountNumber == "" {
			if m := accountNumberLine.FindStringSubmatch(line); m != nil {
				d.AccountNumber = maskedDigits(m[1])
			}
		}
		if d.AccountName == "" {
			if m := accountNameLine.FindStringSubmatch(line); m != nil {
				d.AccountName = strings.TrimSpace(m[1])
			}
		}
		if d.InstitutionName == "" {
			d.InstitutionName = hints.Institution(line)
		}
		if d.AccountType == "" {
			d.AccountType, d.AccountSubtype = hints.AccountType(line)
		}
	}
	if !d.HasInformation() {
		return nil
	}
	return d
}

// maskedDigits keeps the trailing digits of a masked number such as "XXXX-XXXX-1234".
func maskedDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CombineDetections prefers content evidence and fills gaps from the file name.
func CombineDetections(content, fromName *domain.DetectedAccount) *domain.DetectedAccount {
	switch {
	case content == nil && fromName == nil:
		return nil
	case content == nil:
		return fromName
	}
	content.Merge(fromName)
	return content
}
