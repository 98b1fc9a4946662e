package pipeline

import (
	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// Outcome is the terminal state of one row.
type Outcome string

const (
	OutcomePending Outcome = ""
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Row is one mapped data row. Number is the line in the source sheet,
// counting the header as line 1.
type Row struct {
	Number int
	Values map[string]string
}

// Context is the working state of one row as it moves through the steps.
// Well-known fields are typed; Extracted holds ad hoc extractor output.
type Context struct {
	RowNumber int
	Raw       map[string]string

	ProductName        string
	ProductDescription string
	Brand              string
	Category           string
	ProductType        string
	Tags               string

	VariantSKU  string
	VariantName string
	ParentKey   string

	RetailPrice *float64
	CostPrice   *float64
	SalePrice   *float64
	StockLevel  *int
	Barcode     string

	MadeToMeasure bool
	WidthMM       *float64
	HeightMM      *float64
	DepthMM       *float64
	WeightKG      *float64

	Attributes map[string]string
	Extracted  map[string]string

	ProductID      string
	VariantID      string
	ProductCreated bool
	VariantCreated bool

	Outcome  Outcome
	Err      error
	Warnings []string

	product *catalog.Product
	variant *catalog.Variant
}

// NewContext starts a context for a mapped row.
func NewContext(row Row) *Context {
	raw := row.Values
	if raw == nil {
		raw = map[string]string{}
	}
	return &Context{
		RowNumber:  row.Number,
		Raw:        raw,
		Attributes: map[string]string{},
		Extracted:  map[string]string{},
	}
}

// Warn records a non-blocking note for the row.
func (rc *Context) Warn(msg string) {
	rc.Warnings = append(rc.Warnings, msg)
}
