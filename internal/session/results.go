package session

import (
	"time"

	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/report"
	"github.com/JonMunkholm/catalogimport/internal/skupattern"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// Recommendation levels shared by dry-run results.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
	LevelSuccess = "success"
)

// Recommendation is an actionable dry-run finding. Blocking recommendations
// prevent the session from starting processing on its own.
type Recommendation struct {
	Level    string `json:"level"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking,omitempty"`
}

// Prediction estimates what processing would do to the catalog.
type Prediction struct {
	NewProducts      int `json:"new_products"`
	ExistingProducts int `json:"existing_products"`
	NewVariants      int `json:"new_variants"`
	ExistingVariants int `json:"existing_variants"`
	WouldSkip        int `json:"would_skip"`
}

// BarcodeCheck compares the free barcode pool with rows that need one.
type BarcodeCheck struct {
	Available  int64 `json:"available"`
	Needed     int   `json:"needed"`
	Sufficient bool  `json:"sufficient"`
}

// DryRunResults is the prediction and validation summary over a row sample.
type DryRunResults struct {
	Sheet         string             `json:"sheet"`
	SampleSize    int                `json:"sample_size"`
	ValidRows     int                `json:"valid_rows"`
	InvalidRows   int                `json:"invalid_rows"`
	BlankRows     int                `json:"blank_rows"`
	WarningCount  int                `json:"warning_count"`
	QualityScore  float64            `json:"quality_score"`
	Threshold     float64            `json:"threshold"`
	FieldCoverage map[string]float64 `json:"field_coverage"`

	Mapping     mapping.Report    `json:"mapping"`
	SkuPatterns skupattern.Result `json:"sku_patterns"`
	Predicted   Prediction        `json:"predicted"`
	Barcodes    *BarcodeCheck     `json:"barcodes,omitempty"`

	Issues          []validation.Issue `json:"issues"`
	Recommendations []Recommendation   `json:"recommendations"`
	AutoAdvance     bool               `json:"auto_advance"`
	CompletedAt     time.Time          `json:"completed_at"`
}

// HasBlocking reports whether any recommendation blocks automatic processing.
func (d *DryRunResults) HasBlocking() bool {
	for _, r := range d.Recommendations {
		if r.Blocking {
			return true
		}
	}
	return false
}

// FinalResults is the finalize-stage report.
type FinalResults = report.Report
