package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ImportMode controls how existing catalog records are treated.
type ImportMode string

const (
	// ModeCreateOnly never mutates an existing product or variant.
	ModeCreateOnly ImportMode = "create_only"
	// ModeUpdateExisting never creates a product or variant.
	ModeUpdateExisting ImportMode = "update_existing"
	// ModeCreateOrUpdate updates a match or creates a new record.
	ModeCreateOrUpdate ImportMode = "create_or_update"
)

// Chunk size bounds.
const (
	MinChunkSize     = 10
	MaxChunkSize     = 1000
	DefaultChunkSize = 50
)

// Configuration is the immutable snapshot of options chosen at creation.
type Configuration struct {
	ImportMode           ImportMode `json:"import_mode" validate:"required,oneof=create_only update_existing create_or_update"`
	ChunkSize            int        `json:"chunk_size" validate:"gte=10,lte=1000"`
	MaxProcessingMinutes int        `json:"max_processing_minutes" validate:"gte=1,lte=240"`

	ExtractAttributes   bool `json:"extract_attributes"`
	DetectMadeToMeasure bool `json:"detect_made_to_measure"`
	DimensionDigitsOnly bool `json:"dimension_digits_only"`
	SkuGrouping         bool `json:"sku_grouping"`
	AutoAssignBarcodes  bool `json:"auto_assign_barcodes"`
	Background          bool `json:"background"`

	// AutoAdvanceScore overrides the service threshold when set.
	AutoAdvanceScore *float64 `json:"auto_advance_score,omitempty" validate:"omitempty,gte=0,lte=100"`

	// SheetName selects the spreadsheet sheet to import. Empty picks the first usable sheet.
	SheetName string `json:"sheet_name,omitempty" validate:"max=255"`

	// Encoding is the CSV character set label (windows-1250, iso-8859-2, ...).
	// Empty means detect: UTF-8 when valid, otherwise sniffed.
	Encoding string `json:"encoding,omitempty" validate:"max=64"`

	ExtractionRules map[string]string `json:"extraction_rules,omitempty"`
	ValidationRules map[string]string `json:"validation_rules,omitempty"`
}

// DefaultConfiguration returns the options used when a client sends none.
func DefaultConfiguration() Configuration {
	return Configuration{
		ImportMode:           ModeCreateOrUpdate,
		ChunkSize:            DefaultChunkSize,
		MaxProcessingMinutes: 30,
		ExtractAttributes:    true,
		DetectMadeToMeasure:  true,
		SkuGrouping:          true,
		Background:           true,
	}
}

var validate = validator.New()

// Validate checks field bounds and the import mode.
func (c Configuration) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	field := toSnake(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}

// toSnake converts a Go field name to the JSON name used by clients.
func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
