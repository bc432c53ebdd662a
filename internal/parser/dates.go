package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

var (
	isoDate     = regexp.MustCompile(`^(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})`)
	numericDate = regexp.MustCompile(`^(\d{1,2})[-/.](\d{1,2})[-/.](\d{2}|\d{4})$`)
	shortDate   = regexp.MustCompile(`^(\d{1,2})[/-](\d{1,2})$`)
)

var monthLayouts = []string{
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"2 Jan 2006",
	"2 January 2006",
	"2-Jan-2006",
	"2-Jan-06",
	"02-Jan-2006",
	"02-Jan-06",
	"Jan-02-2006",
	"2006-Jan-02",
}

var shortMonthLayouts = []string{
	"Jan 2",
	"January 2",
	"2 Jan",
	"2-Jan",
	"Jan. 2",
}

// ParseDate reads the common statement date formats. Numeric dates are read
// month first unless the first field cannot be a month.
func ParseDate(s string) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return civil.Date{}, fmt.Errorf("ParseDate: empty date")
	}

	if m := isoDate.FindStringSubmatch(s); m != nil {
		return buildDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), s)
	}

	if m := numericDate.FindStringSubmatch(s); m != nil {
		first, second, year := atoi(m[1]), atoi(m[2]), atoi(m[3])
		if len(m[3]) == 2 {
			year += 2000
		}
		month, day := first, second
		if first > 12 && second <= 12 {
			month, day = second, first
		}
		return buildDate(year, month, day, s)
	}

	for _, layout := range monthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return civil.DateOf(t), nil
		}
	}
	return civil.Date{}, fmt.Errorf("ParseDate: unrecognized date %q", s)
}

// ParseDateInYear reads dates printed without a year, such as "03/14" or
// "Mar 14", falling back to ParseDate for full dates.
func ParseDateInYear(s string, year int) (civil.Date, error) {
	s = strings.TrimSpace(s)
	if m := shortDate.FindStringSubmatch(s); m != nil {
		return buildDate(year, atoi(m[1]), atoi(m[2]), s)
	}
	for _, layout := range shortMonthLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return buildDate(year, int(t.Month()), t.Day(), s)
		}
	}
	return ParseDate(s)
}

// InferYear returns the year of a yearless transaction month printed on a
// statement that closed on closing. Months after the closing month belong to
// the previous year.
func InferYear(month int, closing civil.Date) int {
	if month > int(closing.Month) {
		return closing.Year - 1
	}
	return closing.Year
}

func buildDate(year, month, day int, raw string) (civil.Date, error) {
	d := civil.Date{Year: year, Month: time.Month(month), Day: day}
	if !d.IsValid() {
		return civil.Date{}, fmt.Errorf("ParseDate: invalid date %q", raw)
	}
	return d, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
