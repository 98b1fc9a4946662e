package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// ExtractionRules tune attribute extraction.
type ExtractionRules struct {
	MadeToMeasureKeywords []string
	// DimensionUnit is the unit assumed for dimension text without one.
	DimensionUnit string
	// Currency is stored with every attached price.
	Currency string
}

// DefaultExtractionRules returns the standard extraction settings.
func DefaultExtractionRules() ExtractionRules {
	return ExtractionRules{
		MadeToMeasureKeywords: []string{
			"made to measure", "made-to-measure", "custom size", "custom made",
			"bespoke", "cut to size", "na wymiar",
		},
		DimensionUnit: "cm",
	}
}

// Extraction rule override keys.
const (
	RuleMadeToMeasureKeywords = "made_to_measure_keywords"
	RuleDimensionUnit         = "dimension_unit"
	RuleCurrency              = "currency"
)

var unitFactors = map[string]float64{"mm": 1, "cm": 10, "m": 1000, "in": 25.4}

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// ParseExtractionRules applies free-form overrides on top of
// DefaultExtractionRules. Unknown keys and malformed values are errors.
func ParseExtractionRules(overrides map[string]string) (ExtractionRules, error) {
	r := DefaultExtractionRules()
	var problems []string

	for key, raw := range overrides {
		v := strings.TrimSpace(raw)
		switch key {
		case RuleMadeToMeasureKeywords:
			r.MadeToMeasureKeywords = nil
			for _, w := range strings.Split(v, ",") {
				if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
					r.MadeToMeasureKeywords = append(r.MadeToMeasureKeywords, w)
				}
			}
		case RuleDimensionUnit:
			u := strings.ToLower(v)
			if _, ok := unitFactors[u]; !ok {
				problems = append(problems, fmt.Sprintf("%s must be one of mm, cm, m, in", key))
				continue
			}
			r.DimensionUnit = u
		case RuleCurrency:
			c := strings.ToUpper(v)
			if !currencyRe.MatchString(c) {
				problems = append(problems, fmt.Sprintf("%s must be a three-letter ISO code", key))
				continue
			}
			r.Currency = c
		default:
			problems = append(problems, fmt.Sprintf("unknown extraction rule %q", key))
		}
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return DefaultExtractionRules(), fmt.Errorf("invalid extraction rules: %s", strings.Join(problems, "; "))
	}
	return r, nil
}

// normalize cleans values, converts unit columns, validates the row and
// fills the typed fields of the context.
func normalize(_ context.Context, env *Env, rc *Context) error {
	if validation.IsBlankIdentity(rc.Raw) {
		return Skip("blank row")
	}

	for k, v := range rc.Raw {
		rc.Raw[k] = validation.CleanValue(v)
	}
	if err := convertUnits(rc); err != nil {
		return err
	}

	res := validation.ValidateRow(rc.Raw, rc.RowNumber, env.Options.Rules)
	for _, w := range res.Warnings {
		rc.Warn(w.Error())
	}
	if !res.IsValid {
		return res.FirstError()
	}

	raw := rc.Raw
	rc.ProductName = raw[mapping.FieldProductName]
	rc.ProductDescription = raw[mapping.FieldProductDescription]
	rc.Brand = raw[mapping.FieldProductBrand]
	rc.Category = raw[mapping.FieldProductCategory]
	rc.ProductType = raw[mapping.FieldProductType]
	rc.Tags = raw[mapping.FieldProductTags]
	rc.VariantSKU = raw[mapping.FieldVariantSKU]
	rc.VariantName = raw[mapping.FieldVariantName]
	rc.ParentKey = raw[mapping.FieldParentSKU]
	rc.Barcode = raw[mapping.FieldBarcode]

	rc.RetailPrice = numberPtr(raw[mapping.FieldRetailPrice])
	rc.CostPrice = numberPtr(raw[mapping.FieldCostPrice])
	rc.SalePrice = numberPtr(raw[mapping.FieldSalePrice])
	if n, ok := validation.ParseInt(raw[mapping.FieldStockLevel]); ok {
		rc.StockLevel = &n
	}

	rc.WidthMM = numberPtr(raw[mapping.FieldWidth])
	rc.HeightMM = numberPtr(raw[mapping.FieldHeight])
	rc.DepthMM = numberPtr(raw[mapping.FieldDepth])
	rc.WeightKG = numberPtr(raw[mapping.FieldWeight])

	if b, ok := validation.ParseBool(raw[mapping.FieldMadeToMeasure]); ok {
		rc.MadeToMeasure = b
	}
	return nil
}

// convertUnits rewrites unit-suffixed fields (width_cm, weight_lb, ...) into
// their canonical field. A value already present in the canonical column wins.
func convertUnits(rc *Context) error {
	keys := make([]string, 0, len(rc.Raw))
	for k := range rc.Raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, field := range keys {
		target, factor, ok := mapping.UnitConversion(field)
		if !ok {
			continue
		}
		raw := rc.Raw[field]
		delete(rc.Raw, field)
		if raw == "" || rc.Raw[target] != "" {
			continue
		}
		v, ok := validation.ParseNumber(raw)
		if !ok {
			return validation.Issue{
				Row:      rc.RowNumber,
				Field:    field,
				Value:    raw,
				Message:  "invalid number format",
				Severity: validation.SeverityError,
			}
		}
		rc.Raw[target] = strconv.FormatFloat(v*factor, 'f', -1, 64)
	}
	return nil
}

func numberPtr(s string) *float64 {
	if s == "" {
		return nil
	}
	v, ok := validation.ParseNumber(s)
	if !ok {
		return nil
	}
	return &v
}

// extractAttributes copies attribute columns, parses free-text dimensions
// and detects made-to-measure products.
func extractAttributes(_ context.Context, env *Env, rc *Context) error {
	opts := env.Options

	if opts.DetectMadeToMeasure && !rc.MadeToMeasure {
		if kw := madeToMeasureKeyword(rc, opts.Extraction.MadeToMeasureKeywords); kw != "" {
			rc.MadeToMeasure = true
			rc.Extracted["made_to_measure_keyword"] = kw
		}
	}

	if !opts.ExtractAttributes {
		return nil
	}

	for _, f := range mapping.AttributeFields {
		if v := rc.Raw[f]; v != "" {
			rc.Attributes[f] = v
		}
	}

	text := rc.Raw[mapping.FieldDimensions]
	if text == "" || (rc.WidthMM != nil && rc.HeightMM != nil) {
		return nil
	}
	dims, err := ParseDimensions(text, opts.Extraction.DimensionUnit, opts.DimensionDigitsOnly)
	if err != nil {
		return fmt.Errorf("row %d: %w", rc.RowNumber, err)
	}
	targets := []**float64{&rc.WidthMM, &rc.HeightMM, &rc.DepthMM}
	for i, v := range dims {
		if *targets[i] == nil {
			mm := v
			*targets[i] = &mm
		}
	}
	rc.Extracted["dimensions"] = text
	return nil
}

func madeToMeasureKeyword(rc *Context, keywords []string) string {
	text := strings.ToLower(strings.Join([]string{
		rc.ProductName, rc.ProductDescription, rc.VariantName, rc.Raw[mapping.FieldSize],
	}, " "))
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return kw
		}
	}
	return ""
}

var (
	dimSplitRe  = regexp.MustCompile(`\s*[x×*]\s*`)
	dimUnitRe   = regexp.MustCompile(`(?i)\s*(mm|cm|m|in|inch|inches|")\s*$`)
	dimDigitsRe = regexp.MustCompile(`\d+`)
)

// ParseDimensions reads "W x H [x D]" text and returns the values in
// millimetres. A trailing unit overrides defaultUnit. In digits-only mode
// any non-digit text is ignored and the digit runs are read in defaultUnit.
func ParseDimensions(text, defaultUnit string, digitsOnly bool) ([]float64, error) {
	factor, ok := unitFactors[defaultUnit]
	if !ok {
		factor = unitFactors["cm"]
	}

	var parts []string
	if digitsOnly {
		parts = dimDigitsRe.FindAllString(text, 3)
	} else {
		s := strings.ToLower(strings.TrimSpace(text))
		if m := dimUnitRe.FindStringSubmatch(s); m != nil {
			factor = unitFactor(m[1])
			s = strings.TrimSpace(s[:len(s)-len(m[0])])
		}
		parts = dimSplitRe.Split(s, -1)
	}

	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("unrecognized dimensions %q", text)
	}

	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(dimUnitRe.ReplaceAllString(p, ""))
		v, ok := validation.ParseNumber(p)
		if !ok || v <= 0 {
			return nil, fmt.Errorf("unrecognized dimensions %q", text)
		}
		out = append(out, v*factor)
	}
	return out, nil
}

func unitFactor(u string) float64 {
	switch u {
	case "in", "inch", "inches", `"`:
		return unitFactors["in"]
	default:
		return unitFactors[u]
	}
}
