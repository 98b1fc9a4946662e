package validation

import (
	"strings"

	"github.com/JonMunkholm/catalogimport/internal/mapping"
)

// EssentialCoverageThreshold is the non-empty percentage a required field
// needs across a sample to count as covered.
const EssentialCoverageThreshold = 90.0

// QualityScore combines row validity and required-field coverage into a
// 0–100 score: 60% weight on the share of valid rows, 40% on essential
// coverage (itself 0–100).
func QualityScore(valid, total int, essentialCoverage float64) float64 {
	if total <= 0 {
		return 0
	}
	score := 0.6*(float64(valid)/float64(total)*100) + 0.4*essentialCoverage
	if score > 100 {
		score = 100
	}
	return score
}

// EssentialCoverage returns the percentage of required fields whose coverage
// reaches EssentialCoverageThreshold.
func EssentialCoverage(coverage map[string]float64) float64 {
	covered := 0
	for _, f := range mapping.RequiredFields {
		if coverage[f] >= EssentialCoverageThreshold {
			covered++
		}
	}
	return float64(covered) / float64(len(mapping.RequiredFields)) * 100
}

// IsBlankIdentity reports whether a row has neither a product name nor a SKU.
// Such rows are skipped, not validated.
func IsBlankIdentity(row map[string]string) bool {
	return strings.TrimSpace(row[mapping.FieldProductName]) == "" &&
		strings.TrimSpace(row[mapping.FieldVariantSKU]) == ""
}

// Sample accumulates row results for a dry run.
type Sample struct {
	rules      Rules
	fields     []string
	issueLimit int

	Rows     int
	Valid    int
	Invalid  int
	Blank    int
	Warnings int
	Issues   []Issue

	filled map[string]int
}

// NewSample starts a sample over rows mapped to fields. At most issueLimit
// issues are kept; counts are always complete.
func NewSample(rules Rules, fields []string, issueLimit int) *Sample {
	return &Sample{
		rules:      rules,
		fields:     fields,
		issueLimit: issueLimit,
		Issues:     []Issue{},
		filled:     make(map[string]int),
	}
}

// Add validates one row and folds it into the sample. Rows with a blank
// identity are counted as blank and excluded from scoring.
func (s *Sample) Add(rowNumber int, row map[string]string) (Result, bool) {
	if IsBlankIdentity(row) {
		s.Blank++
		return Result{Row: rowNumber, IsValid: false}, false
	}

	res := ValidateRow(row, rowNumber, s.rules)
	s.Rows++
	if res.IsValid {
		s.Valid++
	} else {
		s.Invalid++
	}
	s.Warnings += len(res.Warnings)

	for field, v := range row {
		if strings.TrimSpace(v) != "" {
			s.filled[field]++
		}
	}

	for _, group := range [][]Issue{res.Errors, res.Warnings} {
		for _, is := range group {
			if len(s.Issues) >= s.issueLimit {
				break
			}
			s.Issues = append(s.Issues, is)
		}
	}
	return res, true
}

// Coverage returns the non-empty percentage for every mapped field and for
// the required fields, mapped or not.
func (s *Sample) Coverage() map[string]float64 {
	out := make(map[string]float64, len(s.fields)+len(mapping.RequiredFields))
	keys := append(append([]string{}, s.fields...), mapping.RequiredFields...)
	for _, f := range keys {
		if f == "" {
			continue
		}
		if s.Rows == 0 {
			out[f] = 0
			continue
		}
		out[f] = float64(s.filled[f]) / float64(s.Rows) * 100
	}
	return out
}

// Score is the data quality score of the sample.
func (s *Sample) Score() float64 {
	return QualityScore(s.Valid, s.Rows, EssentialCoverage(s.Coverage()))
}
