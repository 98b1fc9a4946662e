// Package skupattern infers how a catalog encodes parent/variant structure in
// its SKUs. Every SKU is tested against every known pattern; the pattern with
// the most matches wins and its base weight scales the confidence.
package skupattern

import (
	"regexp"
	"strings"
)

// Pattern is one structural SKU convention.
type Pattern struct {
	Name        string
	Description string
	Weight      float64
	match       func(sku string) (parent, variant string, ok bool)
}

// Extract splits sku into its parent and variant keys.
func (p *Pattern) Extract(sku string) (parent, variant string, ok bool) {
	return p.match(strings.TrimSpace(sku))
}

// Matches reports whether sku follows the pattern.
func (p *Pattern) Matches(sku string) bool {
	_, _, ok := p.Extract(sku)
	return ok
}

const (
	FixedDigitPair     = "fixed_digit_pair"
	StructuredSegments = "structured_segments"
	Hierarchical       = "hierarchical"
	SizeColorEmbedded  = "size_color_embedded"
	SimpleIncremental  = "simple_incremental"
	None               = "none"
)

var (
	fixedDigitRe = regexp.MustCompile(`^(\d{3,6})[-_/](\d{2,4})$`)
	structuredRe = regexp.MustCompile(`(?i)^([A-Z]{2,5})[-_](\d{2,6})[-_]([A-Z0-9]{1,6})$`)
	segmentSepRe = regexp.MustCompile(`[-_./]`)
	segmentRe    = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	incrementRe  = regexp.MustCompile(`^([A-Za-z]+)[-_]?(\d+)$`)

	sizeTokens  = `XXS|XS|S|M|L|XL|XXL|XXXL|[2-5]XL|\d{1,2}`
	colorTokens = `BLK|BLACK|WHT|WHITE|RED|BLU|BLUE|GRN|GREEN|GRY|GREY|GRAY|NVY|NAVY|BRN|BROWN|BEIGE|PINK|YEL|YELLOW|ORG|ORANGE|PUR|PURPLE|OAK|WALNUT|NAT|NATURAL`

	sizeFirstRe  = regexp.MustCompile(`(?i)^(.+?)[-_](` + sizeTokens + `)(?:[-_](` + colorTokens + `))?$`)
	colorFirstRe = regexp.MustCompile(`(?i)^(.+?)[-_](` + colorTokens + `)(?:[-_](` + sizeTokens + `))?$`)
)

// patterns are ordered strict to loose. Ties on match count go to the
// earlier pattern.
var patterns = []*Pattern{
	{
		Name:        FixedDigitPair,
		Description: "numeric parent and variant codes, e.g. 001-002",
		Weight:      0.95,
		match: func(sku string) (string, string, bool) {
			m := fixedDigitRe.FindStringSubmatch(sku)
			if m == nil {
				return "", "", false
			}
			return m[1], m[2], true
		},
	},
	{
		Name:        StructuredSegments,
		Description: "prefix, model number and variant code, e.g. SOF-1200-GRY",
		Weight:      0.9,
		match: func(sku string) (string, string, bool) {
			m := structuredRe.FindStringSubmatch(sku)
			if m == nil {
				return "", "", false
			}
			return strings.ToUpper(m[1]) + "-" + m[2], strings.ToUpper(m[3]), true
		},
	},
	{
		Name:        Hierarchical,
		Description: "three or more separated segments; the last one is the variant, e.g. FUR-CHR-OAK-01",
		Weight:      0.8,
		match: func(sku string) (string, string, bool) {
			parts := segmentSepRe.Split(sku, -1)
			if len(parts) < 3 {
				return "", "", false
			}
			for _, p := range parts {
				if !segmentRe.MatchString(p) {
					return "", "", false
				}
			}
			last := len(sku) - len(parts[len(parts)-1]) - 1
			return sku[:last], parts[len(parts)-1], true
		},
	},
	{
		Name:        SizeColorEmbedded,
		Description: "base code followed by a size and/or colour token, e.g. TEE100-M-BLK",
		Weight:      0.75,
		match: func(sku string) (string, string, bool) {
			for _, re := range []*regexp.Regexp{sizeFirstRe, colorFirstRe} {
				m := re.FindStringSubmatch(sku)
				if m == nil {
					continue
				}
				variant := strings.ToUpper(m[2])
				if m[3] != "" {
					variant += "-" + strings.ToUpper(m[3])
				}
				return m[1], variant, true
			}
			return "", "", false
		},
	},
	{
		Name:        SimpleIncremental,
		Description: "letter prefix and a running number, e.g. WID-001",
		Weight:      0.6,
		match: func(sku string) (string, string, bool) {
			m := incrementRe.FindStringSubmatch(sku)
			if m == nil {
				return "", "", false
			}
			return strings.ToUpper(m[1]), m[2], true
		},
	},
}

// Patterns returns the known patterns in evaluation order.
func Patterns() []*Pattern {
	out := make([]*Pattern, len(patterns))
	copy(out, patterns)
	return out
}

// Lookup returns the pattern with the given name.
func Lookup(name string) (*Pattern, bool) {
	for _, p := range patterns {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}
