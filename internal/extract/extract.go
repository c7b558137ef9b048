// Package extract pulls an amount, a transaction date, a merchant and a short
// note out of raw OCR text. Every function here is pure and total: malformed
// input degrades to empty fields rather than errors.
package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MaxNoteLines is the number of leading lines joined into Fields.Note.
const MaxNoteLines = 5

// NoteSeparator joins note lines.
const NoteSeparator = " | "

// Fields holds the values recognized in a receipt text. Each field is
// independent of the others.
type Fields struct {
	// Amount is valid only when a positive value was found. It is not rounded.
	Amount     decimal.NullDecimal
	// AmountTier names the AmountTier that produced Amount.
	AmountTier string
	Date       *time.Time
	Merchant   string
	Note       string
}

// HasAmount reports whether an amount was found.
func (f Fields) HasAmount() bool {
	return f.Amount.Valid
}

// DatePattern is one ranked date extraction strategy.
type DatePattern struct {
	Name    string
	Pattern *regexp.Regexp
	// Resolve receives the whole match followed by the capture groups.
	Resolve func(groups []string) (time.Time, bool)
}

const monthNames = `(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Sept|Oct|Nov|Dec)`

// DatePatterns are tried in order; the first one whose match resolves to a date wins.
var DatePatterns = []DatePattern{
	{
		Name:    "day-first",
		Pattern: regexp.MustCompile(`([0-3]?\d[/\-.\s][0-1]?\d[/\-.\s](?:20|19)\d{2})`),
		Resolve: resolveNumeric,
	},
	{
		Name:    "year-first",
		Pattern: regexp.MustCompile(`((?:20|19)\d{2}[/\-.\s][0-1]?\d[/\-.\s][0-3]?\d)`),
		Resolve: resolveNumeric,
	},
	{
		Name:    "day-month-name",
		Pattern: regexp.MustCompile(`(?i)\b(0?[1-9]|[12][0-9]|3[01])\s+` + monthNames + `\b.*?([0-9]{4})`),
		Resolve: resolveDayMonth,
	},
	{
		Name:    "month-name-day",
		Pattern: regexp.MustCompile(`(?i)\b` + monthNames + `\s+(0?[1-9]|[12][0-9]|3[01]),?\s*([0-9]{4})\b`),
		Resolve: resolveMonthDay,
	},
}

var (
	letterO    = regexp.MustCompile(`O(\d)`)
	letterL    = regexp.MustCompile(`l(\d)`)
	commas     = regexp.MustCompile(`,[ \t]*`)
	whitespace = regexp.MustCompile(`\s+`)
)

// Normalize applies the OCR corrections run before matching: carriage returns
// become line breaks, O and l before a digit become 0 and 1, and thousands
// separators are dropped.
func Normalize(raw string) string {
	return commas.ReplaceAllString(correct(raw), "")
}

// correct is Normalize without comma removal. Dates are matched on it so
// "May 12, 2023" keeps the comma between day and year.
func correct(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = letterO.ReplaceAllString(text, "0${1}")
	return letterL.ReplaceAllString(text, "1${1}")
}

// Extract recognizes the receipt fields in raw OCR text.
func Extract(raw string) Fields {
	corrected := correct(raw)
	text := commas.ReplaceAllString(corrected, "")

	var fields Fields
	if amount, tier, ok := findAmount(text); ok {
		fields.Amount = decimal.NewNullDecimal(amount)
		fields.AmountTier = tier
	}
	if date, ok := findDate(corrected); ok {
		fields.Date = &date
	}

	lines := Lines(text)
	if len(lines) > 0 {
		fields.Merchant = lines[0]
	}
	fields.Note = strings.Join(lines[:min(len(lines), MaxNoteLines)], NoteSeparator)

	return fields
}

// Lines splits text into trimmed, non-empty lines.
func Lines(text string) []string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func findDate(text string) (time.Time, bool) {
	for _, p := range DatePatterns {
		groups := p.Pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		if date, ok := p.Resolve(groups); ok {
			return date, true
		}
	}
	return time.Time{}, false
}

func resolveNumeric(groups []string) (time.Time, bool) {
	match := strings.ReplaceAll(groups[0], ".", "/")
	match = whitespace.ReplaceAllString(match, " ")
	return ParseDate(match)
}

// resolveDayMonth rebuilds "7 May 2023" from the day, month and year groups.
func resolveDayMonth(groups []string) (time.Time, bool) {
	return ParseGeneric(groups[1] + " " + groups[2] + " " + groups[3])
}

// resolveMonthDay rebuilds "May 7 2023" from the month, day and year groups.
func resolveMonthDay(groups []string) (time.Time, bool) {
	return ParseGeneric(groups[1] + " " + groups[2] + " " + groups[3])
}
