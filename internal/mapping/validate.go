package mapping

import (
	"fmt"
	"sort"
	"strings"
)

// Report is the outcome of checking a column mapping.
type Report struct {
	Errors        []string `json:"errors"`
	Warnings      []string `json:"warnings"`
	Coverage      float64  `json:"coverage"` // percent of columns mapped
	MappedColumns int      `json:"mapped_columns"`
	TotalColumns  int      `json:"total_columns"`
	Missing       []string `json:"missing,omitempty"`
	Duplicates    []string `json:"duplicates,omitempty"`
}

// Valid reports whether the mapping has no errors. Warnings do not count.
func (r Report) Valid() bool { return len(r.Errors) == 0 }

// Validate checks that every required field is mapped, flags fields assigned
// to more than one column and warns when coverage is below floor (a ratio;
// zero or less means DefaultCoverageFloor).
func Validate(mapping []string, floor float64) Report {
	if floor <= 0 {
		floor = DefaultCoverageFloor
	}

	r := Report{Errors: []string{}, Warnings: []string{}, TotalColumns: len(mapping)}

	firstCol := make(map[string]int, len(mapping))
	for i, field := range mapping {
		if field == "" {
			continue
		}
		r.MappedColumns++

		if !IsKnownField(field) {
			r.Errors = append(r.Errors, fmt.Sprintf("column %d: unknown field %q", i+1, field))
			continue
		}
		if first, dup := firstCol[field]; dup {
			if !contains(r.Duplicates, field) {
				r.Duplicates = append(r.Duplicates, field)
			}
			r.Warnings = append(r.Warnings, fmt.Sprintf(
				"field %q is mapped to columns %d and %d; column %d is used",
				field, first+1, i+1, first+1))
			continue
		}
		firstCol[field] = i
	}

	for _, req := range RequiredFields {
		if _, ok := firstCol[req]; !ok {
			r.Missing = append(r.Missing, req)
			r.Errors = append(r.Errors, fmt.Sprintf("required field %q is not mapped", req))
		}
	}

	if r.TotalColumns > 0 {
		r.Coverage = float64(r.MappedColumns) / float64(r.TotalColumns) * 100
	}
	if r.Coverage < floor*100 {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"only %.0f%% of columns are mapped (expected at least %.0f%%)", r.Coverage, floor*100))
	}
	return r
}

// Confidence says whether an automatic mapping can be used without review.
type Confidence struct {
	Sufficient       bool     `json:"sufficient"`
	MappedRatio      float64  `json:"mapped_ratio"`
	MissingEssential []string `json:"missing_essential,omitempty"`
	Reason           string   `json:"reason,omitempty"`
}

// Assess reports sufficient confidence when both required fields are mapped
// and the mapped-column ratio reaches floor.
func Assess(mapping []string, floor float64) Confidence {
	if floor <= 0 {
		floor = DefaultCoverageFloor
	}

	cols := Columns(mapping)
	c := Confidence{}
	for _, req := range RequiredFields {
		if _, ok := cols[req]; !ok {
			c.MissingEssential = append(c.MissingEssential, req)
		}
	}

	mapped := 0
	for _, f := range mapping {
		if f != "" {
			mapped++
		}
	}
	if len(mapping) > 0 {
		c.MappedRatio = float64(mapped) / float64(len(mapping))
	}

	switch {
	case len(c.MissingEssential) > 0:
		c.Reason = "essential fields not mapped: " + strings.Join(c.MissingEssential, ", ")
	case c.MappedRatio < floor:
		c.Reason = fmt.Sprintf("only %.0f%% of columns mapped", c.MappedRatio*100)
	default:
		c.Sufficient = true
	}
	return c
}

// Suggestion pairs a header with its guessed field for review screens.
type Suggestion struct {
	Column int    `json:"column"`
	Header string `json:"header"`
	Field  string `json:"field"`
}

// Suggest returns one suggestion per header, ordered by column.
func Suggest(headers []string) []Suggestion {
	out := make([]Suggestion, len(headers))
	for i, h := range headers {
		out[i] = Suggestion{Column: i, Header: h, Field: Guess(h)}
	}
	return out
}

// KnownFields lists the fixed canonical fields, sorted. Numbered slot and
// marketplace fields are not included.
func KnownFields() []string {
	seen := make(map[string]bool)
	for _, f := range synonyms {
		seen[f] = true
	}
	for _, t := range attributeTemplates {
		seen[t.field] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
