package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/mapping"
)

func validRow() map[string]string {
	return map[string]string{
		mapping.FieldProductName: "Oak Dining Chair",
		mapping.FieldVariantSKU:  "CHR-100-OAK",
		mapping.FieldRetailPrice: "149.00",
		mapping.FieldCostPrice:   "60.00",
		mapping.FieldStockLevel:  "12",
		mapping.FieldBarcode:     "5901234123457",
	}
}

func messages(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Message
	}
	return out
}

func TestValidateRow_Valid(t *testing.T) {
	res := ValidateRow(validRow(), 2, DefaultRules())
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.NoError(t, res.FirstError())
}

func TestValidateRow_RetailBelowCostIsWarning(t *testing.T) {
	row := validRow()
	row[mapping.FieldRetailPrice] = "5.00"
	row[mapping.FieldCostPrice] = "10.00"

	res := ValidateRow(row, 7, DefaultRules())
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "retail price should exceed cost price", res.Warnings[0].Message)
	assert.Equal(t, 7, res.Warnings[0].Row)
}

func TestValidateRow_RequiredFields(t *testing.T) {
	for _, field := range mapping.RequiredFields {
		t.Run(field, func(t *testing.T) {
			row := validRow()
			row[field] = "  "

			res := ValidateRow(row, 3, DefaultRules())
			assert.False(t, res.IsValid)
			require.NotEmpty(t, res.Errors)
			assert.Equal(t, field, res.Errors[0].Field)
			assert.Error(t, res.FirstError())
		})
	}
}

func TestValidateRow_Errors(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
		want  string
	}{
		{"non-numeric price", mapping.FieldRetailPrice, "cheap", "invalid number format"},
		{"negative price", mapping.FieldCostPrice, "-1", "must not be negative"},
		{"accounting negative", mapping.FieldRetailPrice, "(10.00)", "must not be negative"},
		{"negative stock", mapping.FieldStockLevel, "-3", "must not be negative"},
		{"fractional stock", mapping.FieldStockLevel, "2.5", "whole number"},
		{"sku charset", mapping.FieldVariantSKU, "CHR 100", "may only contain"},
		{"sku length", mapping.FieldVariantSKU, strings.Repeat("A", 65), "longer than 64"},
		{"short barcode", mapping.FieldBarcode, "12345", "8, 12, 13 or 14 digits"},
		{"letters in barcode", mapping.FieldBarcode, "59012341234AB", "8, 12, 13 or 14 digits"},
		{"non-numeric width", mapping.FieldWidth, "wide", "invalid number format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			row[tt.field] = tt.value

			res := ValidateRow(row, 1, DefaultRules())
			assert.False(t, res.IsValid)
			require.Len(t, res.Errors, 1, messages(res.Errors))
			assert.Equal(t, tt.field, res.Errors[0].Field)
			assert.Contains(t, res.Errors[0].Message, tt.want)
		})
	}
}

func TestValidateRow_Warnings(t *testing.T) {
	tests := []struct {
		name   string
		change map[string]string
		want   string
	}{
		{"thin margin", map[string]string{mapping.FieldRetailPrice: "100", mapping.FieldCostPrice: "95"}, "profit margin"},
		{"zero stock", map[string]string{mapping.FieldStockLevel: "0"}, "stock level is zero"},
		{"huge stock", map[string]string{mapping.FieldStockLevel: "1,000,000"}, "implausible"},
		{"short name", map[string]string{mapping.FieldProductName: "AB"}, "suspiciously short"},
		{"placeholder", map[string]string{mapping.FieldProductName: "Test chair"}, "placeholder"},
		{"sale above retail", map[string]string{mapping.FieldSalePrice: "200"}, "sale price"},
		{"package smaller", map[string]string{mapping.FieldWidth: "500", mapping.FieldPackageWidth: "400"}, "smaller than width_mm"},
		{"odd package ratio", map[string]string{
			mapping.FieldPackageWidth:  "2000",
			mapping.FieldPackageHeight: "50",
			mapping.FieldPackageDepth:  "50",
		}, "unusual ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			for k, v := range tt.change {
				row[k] = v
			}

			res := ValidateRow(row, 1, DefaultRules())
			assert.True(t, res.IsValid, messages(res.Errors))
			require.Len(t, res.Warnings, 1, messages(res.Warnings))
			assert.Contains(t, res.Warnings[0].Message, tt.want)
		})
	}
}

func TestParseRules(t *testing.T) {
	r, err := ParseRules(map[string]string{
		RuleMinMarginPercent: "25",
		RuleMaxStock:         "50",
		RulePlaceholderWords: "demo, Foo",
	})
	require.NoError(t, err)
	assert.Equal(t, 25.0, r.MinMarginPercent)
	assert.Equal(t, 50, r.MaxStock)
	assert.Equal(t, []string{"demo", "foo"}, r.PlaceholderWords)
	assert.Equal(t, DefaultRules().SKUMaxLength, r.SKUMaxLength)

	_, err = ParseRules(map[string]string{RuleMaxStock: "lots", "colour": "red"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_stock")
	assert.Contains(t, err.Error(), `unknown validation rule "colour"`)

	r, err = ParseRules(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRules(), r)
}

func TestRulesOverrideChangesOutcome(t *testing.T) {
	row := validRow()
	row[mapping.FieldStockLevel] = "80"

	res := ValidateRow(row, 1, DefaultRules())
	assert.Empty(t, res.Warnings)

	rules, err := ParseRules(map[string]string{RuleMaxStock: "50"})
	require.NoError(t, err)
	res = ValidateRow(row, 1, rules)
	require.Len(t, res.Warnings, 1)
}
