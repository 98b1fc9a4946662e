package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

func TestParseDimensions(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		unit       string
		digitsOnly bool
		want       []float64
		wantErr    bool
	}{
		{"default unit", "200 x 90", "cm", false, []float64{2000, 900}, false},
		{"three parts mm", "200x90x75 mm", "cm", false, []float64{200, 90, 75}, false},
		{"unicode times", "1,5 × 2 m", "cm", false, []float64{1500, 2000}, false},
		{"inches", `10 x 20"`, "cm", false, []float64{254, 508}, false},
		{"per-part units", "40cm x 60cm", "mm", false, []float64{400, 600}, false},
		{"digits only ignores noise", "W:120 / H:80 (approx)", "cm", true, []float64{1200, 800}, false},
		{"digits only mm", "120-80-40mm", "mm", true, []float64{120, 80, 40}, false},
		{"single value", "200", "cm", false, nil, true},
		{"words", "large", "cm", false, nil, true},
		{"four parts", "1x2x3x4", "cm", false, nil, true},
		{"zero", "0 x 10", "cm", false, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDimensions(tt.text, tt.unit, tt.digitsOnly)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.InDelta(t, tt.want[i], got[i], 1e-9)
			}
		})
	}
}

func TestParseExtractionRules(t *testing.T) {
	r, err := ParseExtractionRules(map[string]string{
		RuleMadeToMeasureKeywords: "Custom, bespoke ",
		RuleDimensionUnit:         "MM",
		RuleCurrency:              "pln",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"custom", "bespoke"}, r.MadeToMeasureKeywords)
	assert.Equal(t, "mm", r.DimensionUnit)
	assert.Equal(t, "PLN", r.Currency)

	_, err = ParseExtractionRules(map[string]string{RuleDimensionUnit: "yard", "shape": "round"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension_unit")
	assert.Contains(t, err.Error(), `unknown extraction rule "shape"`)

	r, err = ParseExtractionRules(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultExtractionRules(), r)
}

func TestNormalize(t *testing.T) {
	env := &Env{Options: Options{Rules: validation.DefaultRules()}}

	rc := NewContext(Row{Number: 5, Values: map[string]string{
		mapping.FieldProductName:   `="Desk"`,
		mapping.FieldVariantSKU:    "DSK-9",
		mapping.FieldRetailPrice:   "$1,200.00",
		mapping.FieldStockLevel:    "7",
		"weight_g":                 "2500",
		"height_in":                "10",
		mapping.FieldHeight:        "300",
		mapping.FieldMadeToMeasure: "yes",
	}})
	require.NoError(t, normalize(context.Background(), env, rc))

	assert.Equal(t, "Desk", rc.ProductName)
	require.NotNil(t, rc.RetailPrice)
	assert.Equal(t, 1200.0, *rc.RetailPrice)
	require.NotNil(t, rc.StockLevel)
	assert.Equal(t, 7, *rc.StockLevel)
	require.NotNil(t, rc.WeightKG)
	assert.InDelta(t, 2.5, *rc.WeightKG, 1e-9)
	require.NotNil(t, rc.HeightMM)
	assert.Equal(t, 300.0, *rc.HeightMM, "canonical column wins over unit column")
	assert.True(t, rc.MadeToMeasure)
	assert.NotContains(t, rc.Raw, "weight_g")
}

func TestNormalize_Errors(t *testing.T) {
	env := &Env{Options: Options{Rules: validation.DefaultRules()}}

	blank := NewContext(Row{Number: 2, Values: map[string]string{mapping.FieldRetailPrice: "5"}})
	reason, ok := IsSkip(normalize(context.Background(), env, blank))
	assert.True(t, ok)
	assert.Equal(t, "blank row", reason)

	badUnit := NewContext(Row{Number: 3, Values: map[string]string{
		mapping.FieldProductName: "Desk",
		mapping.FieldVariantSKU:  "DSK-1",
		"width_cm":               "wide",
	}})
	err := normalize(context.Background(), env, badUnit)
	require.Error(t, err)
	assert.Equal(t, "row 3: width_cm: invalid number format", err.Error())

	missingSKU := NewContext(Row{Number: 4, Values: map[string]string{mapping.FieldProductName: "Desk"}})
	err = normalize(context.Background(), env, missingSKU)
	require.Error(t, err)
	_, skipped := IsSkip(err)
	assert.False(t, skipped)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{
		StepNormalize, StepExtractAttributes, StepSkuGrouping, StepResolveProduct,
		StepResolveVariant, StepAssignAttributes, StepAttachBarcode, StepAttachPricing,
	}, r.Names())

	assert.Panics(t, func() {
		r.Register(Registration{Step: StepFunc{StepNormalize, normalize}})
	})

	reg, ok := r.Get(StepAttachBarcode)
	require.True(t, ok)
	assert.True(t, reg.Optional)
	_, ok = r.Get("missing")
	assert.False(t, ok)

	minimal := Options{Mode: ModeCreateOnly}
	names := func(regs []Registration) []string {
		out := make([]string, len(regs))
		for i, reg := range regs {
			out[i] = reg.Step.Name()
		}
		return out
	}
	assert.Equal(t, []string{
		StepNormalize, StepResolveProduct, StepResolveVariant, StepAttachBarcode, StepAttachPricing,
	}, names(r.Active(minimal)))

	grouped := Options{SkuGrouping: true, GroupingPattern: "fixed_digit_pair"}
	assert.Contains(t, names(r.Active(grouped)), StepSkuGrouping)
	assert.NotContains(t, names(r.Active(Options{SkuGrouping: true})), StepSkuGrouping)
}
