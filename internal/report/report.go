// Package report builds the final summary of an import run.
package report

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Recommendation levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
	LevelSuccess = "success"
)

// Thresholds used when ranking recommendations.
const (
	HighErrorRate   = 10.0 // percent
	HighSkipRate    = 20.0 // percent
	LowQualityScore = 70.0
	LowThroughput   = 1.0 // rows per second

	throughputTarget     = 10.0
	minRowsForThroughput = 100
)

// Counts are the row outcomes of a run.
type Counts struct {
	Total      int `json:"total"`
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Catalog are the catalog changes made by a run.
type Catalog struct {
	ProductsCreated  int `json:"products_created"`
	ProductsUpdated  int `json:"products_updated"`
	VariantsCreated  int `json:"variants_created"`
	VariantsUpdated  int `json:"variants_updated"`
	BarcodesAssigned int `json:"barcodes_assigned"`
	PricesAttached   int `json:"prices_attached"`
}

// Add accumulates other into c.
func (c *Catalog) Add(other Catalog) {
	c.ProductsCreated += other.ProductsCreated
	c.ProductsUpdated += other.ProductsUpdated
	c.VariantsCreated += other.VariantsCreated
	c.VariantsUpdated += other.VariantsUpdated
	c.BarcodesAssigned += other.BarcodesAssigned
	c.PricesAttached += other.PricesAttached
}

// Input is everything Build needs.
type Input struct {
	Status       string
	StartedAt    time.Time
	CompletedAt  time.Time
	Counts       Counts
	Catalog      Catalog
	QualityScore float64 // dry-run score, 0 when no dry run ran
	ErrorCount   int
	WarningCount int
	ChunkSize    int
}

// Recommendation is one ranked, actionable finding.
type Recommendation struct {
	Priority int    `json:"priority"`
	Level    string `json:"level"`
	Message  string `json:"message"`
}

// Report is the finalize-stage summary.
type Report struct {
	Status          string           `json:"status"`
	GeneratedAt     time.Time        `json:"generated_at"`
	ElapsedSeconds  float64          `json:"elapsed_seconds"`
	Counts          Counts           `json:"counts"`
	Catalog         Catalog          `json:"catalog"`
	SuccessRate     float64          `json:"success_rate"`
	ErrorRate       float64          `json:"error_rate"`
	SkipRate        float64          `json:"skip_rate"`
	RowsPerSecond   float64          `json:"rows_per_second"`
	QualityScore    float64          `json:"quality_score"`
	EfficiencyScore float64          `json:"efficiency_score"`
	ErrorCount      int              `json:"error_count"`
	WarningCount    int              `json:"warning_count"`
	Partial         bool             `json:"partial"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Build computes rates and scores and ranks recommendations.
// A report for a run that did not complete is marked Partial.
func Build(in Input, now time.Time) Report {
	end := in.CompletedAt
	if end.IsZero() {
		end = now
	}
	elapsed := 0.0
	if !in.StartedAt.IsZero() && end.After(in.StartedAt) {
		elapsed = end.Sub(in.StartedAt).Seconds()
	}

	r := Report{
		Status:         in.Status,
		GeneratedAt:    now,
		ElapsedSeconds: round(elapsed, 2),
		Counts:         in.Counts,
		Catalog:        in.Catalog,
		QualityScore:   round(in.QualityScore, 1),
		ErrorCount:     in.ErrorCount,
		WarningCount:   in.WarningCount,
		Partial:        in.Status != "completed" || in.Counts.Processed < in.Counts.Total,
	}

	if p := in.Counts.Processed; p > 0 {
		r.SuccessRate = round(pct(in.Counts.Successful, p), 1)
		r.ErrorRate = round(pct(in.Counts.Failed, p), 1)
		r.SkipRate = round(pct(in.Counts.Skipped, p), 1)
		if elapsed > 0 {
			r.RowsPerSecond = round(float64(p)/elapsed, 2)
		}
	}

	throughput := math.Min(r.RowsPerSecond/throughputTarget*100, 100)
	if elapsed == 0 && in.Counts.Processed > 0 {
		throughput = 100
	}
	r.EfficiencyScore = round(0.7*r.SuccessRate+0.3*throughput, 1)

	r.Recommendations = recommend(r, in)
	return r
}

func recommend(r Report, in Input) []Recommendation {
	recs := []Recommendation{}
	add := func(priority int, level, format string, args ...any) {
		recs = append(recs, Recommendation{Priority: priority, Level: level, Message: fmt.Sprintf(format, args...)})
	}

	if r.Partial && in.Status != "completed" {
		add(1, LevelError, "Import stopped (%s) after %d of %d rows. Committed rows were kept; retry to process the rest.",
			in.Status, in.Counts.Processed, in.Counts.Total)
	}

	switch {
	case r.ErrorRate > HighErrorRate:
		add(1, LevelError, "Error rate is %.1f%% (above %.0f%%). Clean the source data and re-import the failed rows.",
			r.ErrorRate, HighErrorRate)
	case in.Counts.Failed > 0:
		add(2, LevelWarning, "%d rows failed. Review the error list for recurring problems.", in.Counts.Failed)
	}

	if r.SkipRate > HighSkipRate {
		add(2, LevelWarning, "%.1f%% of rows were skipped. Check the import mode and blank rows in the file.", r.SkipRate)
	}

	if in.QualityScore > 0 && in.QualityScore < LowQualityScore {
		add(2, LevelWarning, "Dry-run data quality was %.0f/100. Fill in missing required fields before the next import.",
			in.QualityScore)
	}

	if in.Counts.Processed >= minRowsForThroughput && r.RowsPerSecond > 0 && r.RowsPerSecond < LowThroughput {
		add(3, LevelInfo, "Throughput was %.2f rows/s with chunks of %d rows. Consider a larger chunk size.",
			r.RowsPerSecond, in.ChunkSize)
	}

	if in.WarningCount > 0 {
		add(3, LevelInfo, "%d warnings were recorded. They did not block any rows.", in.WarningCount)
	}

	if len(recs) == 0 && in.Counts.Processed > 0 {
		add(4, LevelSuccess, "All %d rows were imported without errors.", in.Counts.Processed)
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Priority < recs[j].Priority })
	return recs
}

func pct(n, d int) float64 {
	return float64(n) / float64(d) * 100
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
