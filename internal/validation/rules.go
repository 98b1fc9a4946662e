// Package validation checks mapped catalog rows before they reach the
// catalog. Errors block a row; warnings are informational and never change
// how a row is classified.
package validation

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Rules tune the row checks. The zero value is not useful; start from
// DefaultRules.
type Rules struct {
	MinMarginPercent  float64
	MaxStock          int
	SKUMaxLength      int
	MinNameLength     int
	MaxDimensionRatio float64
	PlaceholderWords  []string
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		MinMarginPercent:  10,
		MaxStock:          100000,
		SKUMaxLength:      64,
		MinNameLength:     3,
		MaxDimensionRatio: 20,
		PlaceholderWords:  []string{"test", "lorem", "ipsum", "dummy", "placeholder", "sample", "tbd", "xxx"},
	}
}

// Rule override keys accepted by ParseRules.
const (
	RuleMinMarginPercent  = "min_margin_percent"
	RuleMaxStock          = "max_stock"
	RuleSKUMaxLength      = "sku_max_length"
	RuleMinNameLength     = "min_name_length"
	RuleMaxDimensionRatio = "max_dimension_ratio"
	RulePlaceholderWords  = "placeholder_words"
)

// ParseRules applies free-form overrides on top of DefaultRules.
// Unknown keys and malformed values are errors.
func ParseRules(overrides map[string]string) (Rules, error) {
	r := DefaultRules()
	var problems []string

	for key, raw := range overrides {
		v := strings.TrimSpace(raw)
		switch key {
		case RuleMinMarginPercent:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 0 || f >= 100 {
				problems = append(problems, fmt.Sprintf("%s must be a number between 0 and 100", key))
				continue
			}
			r.MinMarginPercent = f
		case RuleMaxStock:
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				problems = append(problems, fmt.Sprintf("%s must be a positive integer", key))
				continue
			}
			r.MaxStock = n
		case RuleSKUMaxLength:
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 255 {
				problems = append(problems, fmt.Sprintf("%s must be between 1 and 255", key))
				continue
			}
			r.SKUMaxLength = n
		case RuleMinNameLength:
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				problems = append(problems, fmt.Sprintf("%s must be a non-negative integer", key))
				continue
			}
			r.MinNameLength = n
		case RuleMaxDimensionRatio:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < 1 {
				problems = append(problems, fmt.Sprintf("%s must be at least 1", key))
				continue
			}
			r.MaxDimensionRatio = f
		case RulePlaceholderWords:
			r.PlaceholderWords = nil
			for _, w := range strings.Split(v, ",") {
				if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
					r.PlaceholderWords = append(r.PlaceholderWords, w)
				}
			}
		default:
			problems = append(problems, fmt.Sprintf("unknown validation rule %q", key))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return DefaultRules(), fmt.Errorf("invalid validation rules: %s", strings.Join(problems, "; "))
	}
	return r, nil
}
