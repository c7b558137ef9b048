// Package category assigns a spending category to receipt text by keyword.
package category

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is a closed set of spending categories.
type Category string

const (
	Food      Category = "food"
	Transport Category = "transport"
	Shopping  Category = "shopping"
	Salary    Category = "salary"
	Health    Category = "health"
	Other     Category = "other"
)

// All lists every category, Other last.
var All = []Category{Food, Transport, Shopping, Salary, Health, Other}

// Parse returns the Category named s.
func Parse(s string) (Category, error) {
	for _, c := range All {
		if string(c) == strings.ToLower(strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// Rule maps lowercase keywords to a category.
type Rule struct {
	Category Category
	Keywords []string
}

// Categorizer checks rules in order; the first rule with a keyword contained
// in the text wins.
type Categorizer struct {
	rules []Rule
}

// DefaultRules returns the built-in rules in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{Category: Food, Keywords: []string{"food", "restaurant", "cafe", "dine", "zomato", "swiggy"}},
		{Category: Transport, Keywords: []string{"uber", "ola", "taxi", "bus", "metro", "petrol"}},
		{Category: Shopping, Keywords: []string{"amazon", "flipkart", "myntra", "store", "shop"}},
		{Category: Salary, Keywords: []string{"salary", "payroll"}},
		{Category: Health, Keywords: []string{"pharm", "health", "clinic"}},
	}
}

// New creates a Categorizer from rules
func New(rules []Rule) *Categorizer {
	return &Categorizer{rules: rules}
}

// DefaultCategorizer is the Categorizer with the built-in rules.
var DefaultCategorizer = New(DefaultRules())

// Categorize categorizes text with the built-in rules.
func Categorize(text string) Category {
	return DefaultCategorizer.Categorize(text)
}

// Categorize returns the category of text, or Other when nothing matches.
func (c *Categorizer) Categorize(text string) Category {
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return Other
	}

	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return rule.Category
			}
		}
	}
	return Other
}

// Rules returns a copy of the categorizer's rules.
func (c *Categorizer) Rules() []Rule {
	rules := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		rules[i] = Rule{Category: r.Category, Keywords: append([]string(nil), r.Keywords...)}
	}
	return rules
}

// keywordFile is the YAML layout read by LoadRules:
//
//	keywords:
//	  food: [biryani, bakery]
//	  health: [apollo]
type keywordFile struct {
	Keywords map[string][]string `yaml:"keywords"`
}

// LoadRules reads extra keywords from a YAML file and appends them to the
// built-in rules. Category priority is unchanged and unknown categories are rejected.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading category rules: %w", err)
	}

	var file keywordFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing category rules: %w", err)
	}

	extra := make(map[Category][]string, len(file.Keywords))
	for name, keywords := range file.Keywords {
		c, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("parsing category rules: %w", err)
		}
		if c == Other {
			return nil, fmt.Errorf("parsing category rules: %q has no keywords", Other)
		}
		for _, kw := range keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				extra[c] = append(extra[c], kw)
			}
		}
	}

	rules := DefaultRules()
	count := 0
	for i := range rules {
		rules[i].Keywords = append(rules[i].Keywords, extra[rules[i].Category]...)
		count += len(extra[rules[i].Category])
	}

	slog.Info("Loaded category keywords", "path", path, "extra_keywords", count)
	return rules, nil
}
