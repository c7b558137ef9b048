package extract

import (
	"regexp"

	"github.com/shopspring/decimal"
)

// TierMode selects how an AmountTier picks among its matches.
type TierMode int

const (
	// FirstMatch takes the first positive match of the first pattern that has one.
	FirstMatch TierMode = iota
	// Largest takes the largest positive match across all patterns.
	Largest
)

// AmountTier is one ranked amount extraction strategy.
type AmountTier struct {
	Name     string
	Mode     TierMode
	Patterns []*regexp.Regexp
}

const number = `([0-9]+(?:\.[0-9]{1,2})?)`

func keyword(label string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)` + label + `\s*[:\-]?\s*` + number)
}

// AmountTiers are evaluated in order; the first tier yielding a positive amount wins.
var AmountTiers = []AmountTier{
	{
		Name: "keyword",
		Mode: FirstMatch,
		Patterns: []*regexp.Regexp{
			keyword(`Total\s*Entry\s*Fee`),
			keyword(`Entry\s*Fee`),
			keyword(`Total\s*Tariff`),
			keyword(`Tariff`),
			keyword(`Charges`),
		},
	},
	{
		Name: "labelled",
		Mode: Largest,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`₹\s?` + number),
			regexp.MustCompile(`(?i)INR\s?` + number),
			keyword(`Total`),
			keyword(`Amount`),
			regexp.MustCompile(`(?i)Paid\s*[:\-]?\s*₹?\s*` + number),
		},
	},
	{
		Name: "fallback",
		Mode: Largest,
		Patterns: []*regexp.Regexp{
			regexp.MustCompile(`([0-9]+\.[0-9]{1,2})`),
		},
	},
}

// Find returns the amount this tier selects from text.
func (t AmountTier) Find(text string) (decimal.Decimal, bool) {
	var (
		best  decimal.Decimal
		found bool
	)
	for _, pattern := range t.Patterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			value, err := decimal.NewFromString(m[1])
			if err != nil || !value.IsPositive() {
				continue
			}
			if t.Mode == FirstMatch {
				return value, true
			}
			if !found || value.GreaterThan(best) {
				best, found = value, true
			}
		}
	}
	return best, found
}

// findAmount runs the tiers in order and reports which one matched.
func findAmount(text string) (decimal.Decimal, string, bool) {
	for _, tier := range AmountTiers {
		if amount, ok := tier.Find(text); ok {
			return amount, tier.Name, true
		}
	}
	return decimal.Decimal{}, "", false
}
