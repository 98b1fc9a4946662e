package validation

// convert.go turns messy spreadsheet cells into typed values.
//
// These functions handle the reality of supplier catalogs:
//   - Currency symbols and thousands separators in numbers
//   - Decimal commas ("10,50") next to decimal points ("1,050.00")
//   - Accounting negatives ("(12.00)")
//   - Various boolean representations (yes/no, true/false, 1/0)
//   - Excel formula prefixes (="value")
//
// All Parse* functions report ok=false for empty or invalid input.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// CleanValue removes common spreadsheet artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanValue(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// ParseNumber converts a cell to a float64.
// Handles currency symbols, thousands separators, decimal commas and
// accounting format (parentheses for negative).
func ParseNumber(s string) (float64, bool) {
	s = CleanValue(s)
	if s == "" {
		return 0, false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	// Remove common currency symbols and codes
	for _, sym := range []string{"$", "€", "£", "zł", "PLN", "EUR", "USD", "GBP"} {
		s = strings.ReplaceAll(s, sym, "")
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "\u00a0", "")
	s = strings.ReplaceAll(s, "'", "")

	s = normalizeSeparators(s)

	if isNegative {
		s = "-" + s
	}

	if !numericRegex.MatchString(s) {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// normalizeSeparators rewrites s so '.' is the only decimal separator and
// thousands separators are gone. When both ',' and '.' appear the later one
// is the decimal separator. A lone ',' followed by one or two digits is a
// decimal comma; otherwise commas are thousands separators.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma < 0:
		return s
	case lastDot >= 0 && lastDot > lastComma:
		return strings.ReplaceAll(s, ",", "")
	case lastDot >= 0:
		s = strings.ReplaceAll(s, ".", "")
		return strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ",") == 1 && len(s)-lastComma-1 <= 2:
		return strings.Replace(s, ",", ".", 1)
	default:
		return strings.ReplaceAll(s, ",", "")
	}
}

// ParseInt converts a cell to a whole number. Values with a fractional part
// are rejected.
func ParseInt(s string) (int, bool) {
	f, ok := ParseNumber(s)
	if !ok || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// ParseBool accepts various representations: true/false, yes/no, t/f, y/n, 1/0.
func ParseBool(s string) (value bool, ok bool) {
	s = strings.ToLower(CleanValue(s))
	switch s {
	case "true", "t", "yes", "y", "1", "x":
		return true, true
	case "false", "f", "no", "n", "0", "":
		return false, s != ""
	default:
		return false, false
	}
}
