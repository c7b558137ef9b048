package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

var (
	dateSeparators = regexp.MustCompile(`[/\-.\s,]+`)
	septMonth      = regexp.MustCompile(`(?i)\bsept\b`)
)

// Dates outside this range of years are treated as misreads.
const (
	minYear = 1900
	maxYear = 2999
)

// genericLayouts are tried before the lenient parser. Day-first wins over month-first.
var genericLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2 Jan 2006",
	"2 Jan, 2006",
	"2 January 2006",
	"2 January, 2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"January 2, 2006",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	time.RFC3339,
}

// ParseDate resolves a date candidate such as "07/05/2023", "2023-5-7" or
// "7 May 2023". Three separated tokens are read as year-month-day when the
// first token has four characters and as day-month-year otherwise. Anything
// else falls back to ParseGeneric. The second return value is false when no
// date could be found.
func ParseDate(candidate string) (time.Time, bool) {
	var tokens []string
	for _, tok := range dateSeparators.Split(strings.TrimSpace(candidate), -1) {
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}

	if len(tokens) == 3 {
		year, month, day := tokens[2], tokens[1], tokens[0]
		if len(tokens[0]) == 4 {
			year, month, day = tokens[0], tokens[1], tokens[2]
		}
		iso := fmt.Sprintf("%s-%s-%s", year, padTwo(month), padTwo(day))
		if t, err := time.Parse("2006-01-02", iso); err == nil && plausible(t) {
			return t, true
		}
	}

	return ParseGeneric(candidate)
}

// ParseGeneric parses a free-form English date string. Years before 1900 or
// after 2999 are rejected. It never panics.
func ParseGeneric(s string) (t time.Time, ok bool) {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return time.Time{}, false
	}
	s = septMonth.ReplaceAllString(s, "Sep")

	for _, layout := range genericLayouts {
		if parsed, err := time.Parse(layout, s); err == nil && plausible(parsed) {
			return dateOnly(parsed), true
		}
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Debug("date parser panicked", "input", s, "panic", r)
			t, ok = time.Time{}, false
		}
	}()

	parsed, err := dateparse.ParseIn(s, time.UTC)
	if err != nil || !plausible(parsed) {
		return time.Time{}, false
	}
	return dateOnly(parsed), true
}

func padTwo(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

func plausible(t time.Time) bool {
	return t.Year() >= minYear && t.Year() <= maxYear
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
