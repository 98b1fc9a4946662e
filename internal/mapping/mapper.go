package mapping

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// slotTemplates recognize repeatable fields such as "Feature 2" or "Image URL 3".
var slotTemplates = []struct {
	re    *regexp.Regexp
	field string
}{
	{regexp.MustCompile(`^(?:product )?(?:features?|bullet(?: points?)?|highlights?) ?#? ?(\d+)$`), "product_features"},
	{regexp.MustCompile(`^(?:product )?(?:details?|specs?|specifications?) ?#? ?(\d+)$`), "product_details"},
	{regexp.MustCompile(`^(?:image|picture|photo)(?: url| link)? ?#? ?(\d+)$`), "image_url"},
}

var marketplaceRe = regexp.MustCompile(`\b(ebay|amazon|shopify|mirakl|etsy|allegro)\b`)

// marketplaceFields are checked in order against headers naming a marketplace.
var marketplaceFields = []struct {
	re    *regexp.Regexp
	field string
}{
	{regexp.MustCompile(`\bprice\b`), "price"},
	{regexp.MustCompile(`\b(title|name)\b`), "title"},
	{regexp.MustCompile(`\b(sku|item id|listing id)\b`), "sku"},
	{regexp.MustCompile(`\b(qty|quantity|stock)\b`), "quantity"},
	{regexp.MustCompile(`\bcategory\b`), "category"},
	{regexp.MustCompile(`\bdescription\b`), "description"},
}

// attributeTemplates are checked in order after the dictionary and the
// slot and marketplace templates.
var attributeTemplates = []struct {
	re    *regexp.Regexp
	field string
}{
	{regexp.MustCompile(`\bmade to (measure|order)\b|\bcustom (size|made)\b`), FieldMadeToMeasure},
	{regexp.MustCompile(`\bpackage\b.*\bwidth\b`), FieldPackageWidth},
	{regexp.MustCompile(`\bpackage\b.*\bheight\b`), FieldPackageHeight},
	{regexp.MustCompile(`\bpackage\b.*\b(depth|length)\b`), FieldPackageDepth},
	{regexp.MustCompile(`\b(package|shipping|gross)\b.*\bweight\b`), FieldPackageWeight},
	{regexp.MustCompile(`\bwidth\b.*\b(mm|millimet\w*)\b`), FieldWidth},
	{regexp.MustCompile(`\bwidth\b.*\b(cm|centimet\w*)\b`), "width_cm"},
	{regexp.MustCompile(`\bwidth\b.*\b(in|inch\w*)\b`), "width_in"},
	{regexp.MustCompile(`\bheight\b.*\b(mm|millimet\w*)\b`), FieldHeight},
	{regexp.MustCompile(`\bheight\b.*\b(cm|centimet\w*)\b`), "height_cm"},
	{regexp.MustCompile(`\bheight\b.*\b(in|inch\w*)\b`), "height_in"},
	{regexp.MustCompile(`\b(depth|length)\b.*\b(mm|millimet\w*)\b`), FieldDepth},
	{regexp.MustCompile(`\b(depth|length)\b.*\b(cm|centimet\w*)\b`), "depth_cm"},
	{regexp.MustCompile(`\b(depth|length)\b.*\b(in|inch\w*)\b`), "depth_in"},
	{regexp.MustCompile(`\bweight\b.*\b(g|grams?)\b`), "weight_g"},
	{regexp.MustCompile(`\bweight\b.*\b(lbs?|pounds?)\b`), "weight_lb"},
	{regexp.MustCompile(`\bweight\b.*\b(kg|kilo\w*)\b`), FieldWeight},
	{regexp.MustCompile(`\b(materials?|fabric|upholstery)\b`), FieldMaterial},
	{regexp.MustCompile(`\bfire\b.*\b(rating|retardan\w*|safety|class)\b|\bflammab\w*`), FieldFireRating},
	{regexp.MustCompile(`\bcolou?rs?\b`), FieldColor},
	{regexp.MustCompile(`\bsizes?\b`), FieldSize},
	{regexp.MustCompile(`\bfinish(es)?\b`), FieldFinish},
	{regexp.MustCompile(`\bwarranty\b|\bguarantee\b`), FieldWarranty},
	{regexp.MustCompile(`\bcountry\b.*\borigin\b|\bmade in\b`), FieldCountryOfOrigin},
	{regexp.MustCompile(`\bassembly\b`), FieldAssembly},
}

// exactOnly keys are too generic to match inside a longer header.
var exactOnly = map[string]bool{
	"product": true,
	"name":    true,
	"title":   true,
	"type":    true,
	"option":  true,
	"variant": true,
	"origin":  true,
}

// fallbackKeys are dictionary keys ordered longest first, then alphabetically,
// so containment matching is deterministic and prefers the most specific key.
var fallbackKeys = func() []string {
	keys := make([]string, 0, len(synonyms))
	for k := range synonyms {
		if !exactOnly[k] {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var (
	separatorRe = regexp.MustCompile(`[_\-./]+`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Normalize lowercases a header, strips spreadsheet artifacts and required
// markers, and collapses separators to single spaces.
func Normalize(header string) string {
	s := strings.TrimSpace(header)
	if strings.HasPrefix(s, `="`) && strings.HasSuffix(s, `"`) {
		s = s[2 : len(s)-1]
	} else {
		s = strings.TrimPrefix(s, "=")
	}
	s = strings.Trim(s, `"' `)
	s = strings.TrimRight(s, "*: ")
	s = strings.ToLower(s)
	s = separatorRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Guess returns the canonical field for a single header, or "" when no rule
// recognizes it.
func Guess(header string) string {
	h := Normalize(header)
	if h == "" {
		return ""
	}

	if field, ok := synonyms[h]; ok {
		return field
	}

	if field, ok := guessSlot(h); ok {
		return field
	}

	if field := guessMarketplace(h); field != "" {
		return field
	}

	for _, t := range attributeTemplates {
		if t.re.MatchString(h) {
			return t.field
		}
	}

	for _, k := range fallbackKeys {
		if containsWord(h, k) {
			return synonyms[k]
		}
	}
	return ""
}

// guessSlot reports ok when a slot template matched. Slots above MaxSlot
// match but stay unmapped.
func guessSlot(h string) (string, bool) {
	for _, t := range slotTemplates {
		m := t.re.FindStringSubmatch(h)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > MaxSlot {
			return "", true
		}
		return fmt.Sprintf("%s_%d", t.field, n), true
	}
	return "", false
}

func guessMarketplace(h string) string {
	m := marketplaceRe.FindString(h)
	if m == "" {
		return ""
	}
	for _, f := range marketplaceFields {
		if f.re.MatchString(h) {
			return m + "_" + f.field
		}
	}
	return ""
}

func containsWord(h, word string) bool {
	for i := 0; ; {
		j := strings.Index(h[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if (start == 0 || h[start-1] == ' ' || h[start-1] == '(') &&
			(end == len(h) || h[end] == ' ' || h[end] == ')') {
			return true
		}
		i = start + 1
	}
}

// Map guesses a canonical field for every header. The result has one entry
// per header; unmapped headers are "".
func Map(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = Guess(h)
	}
	return out
}

var dynamicFieldRe = regexp.MustCompile(`^(?:(?:product_features|product_details|image_url)_[1-9]\d*|(?:ebay|amazon|shopify|mirakl|etsy|allegro)_(?:price|title|sku|quantity|category|description))$`)

// IsKnownField reports whether name is a canonical field this package can produce.
func IsKnownField(name string) bool {
	if name == "" {
		return false
	}
	for _, f := range synonyms {
		if f == name {
			return true
		}
	}
	for _, t := range attributeTemplates {
		if t.field == name {
			return true
		}
	}
	return dynamicFieldRe.MatchString(name)
}

// Apply returns the mapped values of one row keyed by canonical field. When a
// field is assigned to several columns the first non-empty column wins.
func Apply(mapping []string, row []string) map[string]string {
	out := make(map[string]string, len(mapping))
	for i, field := range mapping {
		if field == "" || i >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[i])
		if v == "" {
			continue
		}
		if _, ok := out[field]; !ok {
			out[field] = v
		}
	}
	return out
}

// Columns returns the first column index assigned to each field.
func Columns(mapping []string) map[string]int {
	out := make(map[string]int, len(mapping))
	for i, field := range mapping {
		if field == "" {
			continue
		}
		if _, ok := out[field]; !ok {
			out[field] = i
		}
	}
	return out
}
