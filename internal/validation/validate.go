package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/mapping"
)

// Severity of an Issue.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Issue is a single problem found in a row.
type Issue struct {
	Row      int    `json:"row"`
	Field    string `json:"field,omitempty"`
	Value    string `json:"value,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

func (i Issue) Error() string {
	if i.Field != "" {
		return fmt.Sprintf("row %d: %s: %s", i.Row, i.Field, i.Message)
	}
	return fmt.Sprintf("row %d: %s", i.Row, i.Message)
}

// Result is the outcome of validating one row.
type Result struct {
	Row      int     `json:"row"`
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
	IsValid  bool    `json:"is_valid"`
}

// FirstError returns the first blocking issue, or nil.
func (r Result) FirstError() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// priceFields and dimensionFields must be non-negative numbers when present.
var (
	priceFields = []string{mapping.FieldRetailPrice, mapping.FieldCostPrice, mapping.FieldSalePrice}

	dimensionFields = []string{
		mapping.FieldWeight, mapping.FieldWidth, mapping.FieldHeight, mapping.FieldDepth,
		mapping.FieldPackageWidth, mapping.FieldPackageHeight, mapping.FieldPackageDepth,
		mapping.FieldPackageWeight,
	}

	skuCharsRe = regexp.MustCompile(`^[A-Za-z0-9._/\-]+$`)
	digitsRe   = regexp.MustCompile(`^\d+$`)
)

// barcodeLengths are the accepted GTIN digit counts (EAN-8, UPC-A, EAN-13, GTIN-14).
var barcodeLengths = map[int]bool{8: true, 12: true, 13: true, 14: true}

type rowChecker struct {
	row    map[string]string
	rowNum int
	res    Result
}

func (c *rowChecker) fail(field, value, msg string) {
	c.res.Errors = append(c.res.Errors, Issue{Row: c.rowNum, Field: field, Value: value, Message: msg, Severity: SeverityError})
}

func (c *rowChecker) warn(field, value, msg string) {
	c.res.Warnings = append(c.res.Warnings, Issue{Row: c.rowNum, Field: field, Value: value, Message: msg, Severity: SeverityWarning})
}

// number parses field, recording an error when it is present but not numeric
// or negative. ok is false when the field is absent or invalid.
func (c *rowChecker) number(field string) (float64, bool) {
	raw, present := c.row[field]
	if !present || strings.TrimSpace(raw) == "" {
		return 0, false
	}
	f, ok := ParseNumber(raw)
	if !ok {
		c.fail(field, raw, "invalid number format")
		return 0, false
	}
	if f < 0 {
		c.fail(field, raw, "must not be negative")
		return 0, false
	}
	return f, true
}

// ValidateRow checks one mapped row. row holds values keyed by canonical field.
func ValidateRow(row map[string]string, rowNumber int, rules Rules) Result {
	c := &rowChecker{row: row, rowNum: rowNumber, res: Result{Row: rowNumber, Errors: []Issue{}, Warnings: []Issue{}}}

	for _, f := range mapping.RequiredFields {
		if strings.TrimSpace(row[f]) == "" {
			c.fail(f, "", "required field is empty")
		}
	}

	checkSKU(c, rules)
	checkBarcode(c)

	prices := make(map[string]float64, len(priceFields))
	for _, f := range priceFields {
		if v, ok := c.number(f); ok {
			prices[f] = v
		}
	}
	checkPricing(c, prices, rules)

	checkStock(c, rules)

	dims := make(map[string]float64, len(dimensionFields))
	for _, f := range dimensionFields {
		if v, ok := c.number(f); ok {
			dims[f] = v
		}
	}
	checkDimensions(c, dims, rules)

	checkName(c, rules)

	c.res.IsValid = len(c.res.Errors) == 0
	return c.res
}

func checkSKU(c *rowChecker, rules Rules) {
	sku := strings.TrimSpace(c.row[mapping.FieldVariantSKU])
	if sku == "" {
		return
	}
	if rules.SKUMaxLength > 0 && len(sku) > rules.SKUMaxLength {
		c.fail(mapping.FieldVariantSKU, sku, fmt.Sprintf("SKU is longer than %d characters", rules.SKUMaxLength))
	}
	if !skuCharsRe.MatchString(sku) {
		c.fail(mapping.FieldVariantSKU, sku, "SKU may only contain letters, digits and . _ / -")
	}
}

func checkBarcode(c *rowChecker) {
	raw := CleanValue(c.row[mapping.FieldBarcode])
	if raw == "" {
		return
	}
	code := strings.ReplaceAll(raw, " ", "")
	if !digitsRe.MatchString(code) || !barcodeLengths[len(code)] {
		c.fail(mapping.FieldBarcode, raw, "barcode must have 8, 12, 13 or 14 digits")
	}
}

func checkPricing(c *rowChecker, prices map[string]float64, rules Rules) {
	retail, hasRetail := prices[mapping.FieldRetailPrice]
	cost, hasCost := prices[mapping.FieldCostPrice]

	if hasRetail && hasCost {
		if retail <= cost {
			c.warn(mapping.FieldRetailPrice, c.row[mapping.FieldRetailPrice], "retail price should exceed cost price")
		} else if margin := (retail - cost) / retail * 100; margin < rules.MinMarginPercent {
			c.warn(mapping.FieldRetailPrice, c.row[mapping.FieldRetailPrice],
				fmt.Sprintf("profit margin %.1f%% is below %.1f%%", margin, rules.MinMarginPercent))
		}
	}

	if sale, ok := prices[mapping.FieldSalePrice]; ok && hasRetail && sale >= retail {
		c.warn(mapping.FieldSalePrice, c.row[mapping.FieldSalePrice], "sale price is not below retail price")
	}
}

func checkStock(c *rowChecker, rules Rules) {
	raw := strings.TrimSpace(c.row[mapping.FieldStockLevel])
	if raw == "" {
		return
	}
	f, ok := ParseNumber(raw)
	if !ok {
		c.fail(mapping.FieldStockLevel, raw, "invalid number format")
		return
	}
	if f < 0 {
		c.fail(mapping.FieldStockLevel, raw, "must not be negative")
		return
	}
	n, ok := ParseInt(raw)
	if !ok {
		c.fail(mapping.FieldStockLevel, raw, "stock level must be a whole number")
		return
	}
	switch {
	case n == 0:
		c.warn(mapping.FieldStockLevel, raw, "stock level is zero")
	case rules.MaxStock > 0 && n > rules.MaxStock:
		c.warn(mapping.FieldStockLevel, raw, fmt.Sprintf("stock level above %d looks implausible", rules.MaxStock))
	}
}

func checkDimensions(c *rowChecker, dims map[string]float64, rules Rules) {
	pw, okW := dims[mapping.FieldPackageWidth]
	ph, okH := dims[mapping.FieldPackageHeight]
	pd, okD := dims[mapping.FieldPackageDepth]

	if okW && okH && okD && pw > 0 && ph > 0 && pd > 0 && rules.MaxDimensionRatio > 0 {
		lo, hi := pw, pw
		for _, v := range []float64{ph, pd} {
			lo = min(lo, v)
			hi = max(hi, v)
		}
		if hi/lo > rules.MaxDimensionRatio {
			c.warn(mapping.FieldPackageWidth, "", fmt.Sprintf(
				"package dimensions %gx%gx%g have an unusual ratio", pw, ph, pd))
		}
	}

	pairs := [][2]string{
		{mapping.FieldWidth, mapping.FieldPackageWidth},
		{mapping.FieldHeight, mapping.FieldPackageHeight},
		{mapping.FieldDepth, mapping.FieldPackageDepth},
		{mapping.FieldWeight, mapping.FieldPackageWeight},
	}
	for _, p := range pairs {
		item, ok1 := dims[p[0]]
		pkg, ok2 := dims[p[1]]
		if ok1 && ok2 && pkg > 0 && pkg < item {
			c.warn(p[1], c.row[p[1]], fmt.Sprintf("package value is smaller than %s", p[0]))
		}
	}
}

func checkName(c *rowChecker, rules Rules) {
	name := strings.TrimSpace(c.row[mapping.FieldProductName])
	if name == "" {
		return
	}
	if rules.MinNameLength > 0 && len([]rune(name)) < rules.MinNameLength {
		c.warn(mapping.FieldProductName, name, "product name is suspiciously short")
	}

	for _, field := range []string{mapping.FieldProductName, mapping.FieldVariantSKU, mapping.FieldProductDescription} {
		if w := placeholderWord(c.row[field], rules.PlaceholderWords); w != "" {
			c.warn(field, c.row[field], fmt.Sprintf("looks like placeholder text (%q)", w))
		}
	}
}

func placeholderWord(s string, words []string) string {
	if s == "" {
		return ""
	}
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, tok := range tokens {
		for _, w := range words {
			if tok == w {
				return w
			}
		}
	}
	return ""
}
