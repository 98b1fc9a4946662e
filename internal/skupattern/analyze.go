package skupattern

import (
	"fmt"
	"sort"
	"strings"
)

// Recommendation levels, most severe first.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
	LevelSuccess = "success"
)

const (
	// MaxSampleGroups is the number of groups kept for inspection.
	MaxSampleGroups = 5

	maxSampleVariants = 10
)

// Recommendation is one piece of advice derived from the analysis.
type Recommendation struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Group is a parent key and the SKUs that share it.
type Group struct {
	Parent   string   `json:"parent"`
	Variants []string `json:"variants"`
	Size     int      `json:"size"`
}

// GroupStats summarizes grouping under the dominant pattern.
type GroupStats struct {
	TotalGroups     int     `json:"total_groups"`
	AverageVariants float64 `json:"average_variants"`
	SingletonGroups int     `json:"singleton_groups"`
	Samples         []Group `json:"samples"`
}

// Result is the outcome of analyzing a list of SKUs.
type Result struct {
	Pattern         string           `json:"pattern"`
	Description     string           `json:"description"`
	Confidence      float64          `json:"confidence"`
	Matched         int              `json:"matched"`
	Total           int              `json:"total"`
	MatchCounts     map[string]int   `json:"match_counts"`
	Groups          GroupStats       `json:"groups"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Coverage is the share of SKUs matched by the dominant pattern, in percent.
func (r Result) Coverage() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Matched) / float64(r.Total) * 100
}

// Usable reports whether grouping by the dominant pattern can be trusted at
// the given minimum confidence.
func (r Result) Usable(minConfidence float64) bool {
	return r.Pattern != None && r.Confidence >= minConfidence
}

// Analyze scores every pattern against every SKU and reports the dominant one.
// Blank SKUs are ignored.
func Analyze(skus []string) Result {
	cleaned := make([]string, 0, len(skus))
	for _, s := range skus {
		if s = strings.TrimSpace(s); s != "" {
			cleaned = append(cleaned, s)
		}
	}

	counts := make(map[string]int, len(patterns))
	for _, p := range patterns {
		counts[p.Name] = 0
	}
	for _, sku := range cleaned {
		for _, p := range patterns {
			if p.Matches(sku) {
				counts[p.Name]++
			}
		}
	}

	var best *Pattern
	for _, p := range patterns {
		if counts[p.Name] == 0 {
			continue
		}
		if best == nil || counts[p.Name] > counts[best.Name] {
			best = p
		}
	}

	if best == nil {
		return noneResult(len(cleaned), counts)
	}

	r := Result{
		Pattern:     best.Name,
		Description: best.Description,
		Matched:     counts[best.Name],
		Total:       len(cleaned),
		MatchCounts: counts,
	}
	r.Confidence = float64(r.Matched) / float64(r.Total) * best.Weight
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	r.Groups = groupBy(best, cleaned)
	r.Recommendations = recommend(r)
	return r
}

func noneResult(total int, counts map[string]int) Result {
	return Result{
		Pattern:     None,
		Description: "no recognizable SKU structure",
		Total:       total,
		MatchCounts: counts,
		Groups:      GroupStats{Samples: []Group{}},
		Recommendations: []Recommendation{{
			Level:   LevelWarning,
			Message: "No SKU pattern detected. Group variants by product name instead of SKU.",
		}},
	}
}

func groupBy(p *Pattern, skus []string) GroupStats {
	var order []string
	groups := make(map[string]*Group)
	for _, sku := range skus {
		parent, _, ok := p.Extract(sku)
		if !ok {
			continue
		}
		g, exists := groups[parent]
		if !exists {
			g = &Group{Parent: parent}
			groups[parent] = g
			order = append(order, parent)
		}
		g.Size++
		if len(g.Variants) < maxSampleVariants {
			g.Variants = append(g.Variants, sku)
		}
	}

	stats := GroupStats{TotalGroups: len(order), Samples: []Group{}}
	if len(order) == 0 {
		return stats
	}

	matched := 0
	all := make([]Group, 0, len(order))
	for _, parent := range order {
		g := groups[parent]
		matched += g.Size
		if g.Size == 1 {
			stats.SingletonGroups++
		}
		all = append(all, *g)
	}
	stats.AverageVariants = float64(matched) / float64(len(order))

	// largest groups first; stable keeps file order among equals
	sort.SliceStable(all, func(i, j int) bool { return all[i].Size > all[j].Size })
	if len(all) > MaxSampleGroups {
		all = all[:MaxSampleGroups]
	}
	stats.Samples = all
	return stats
}

var levelRank = map[string]int{LevelError: 0, LevelWarning: 1, LevelInfo: 2, LevelSuccess: 3}

func recommend(r Result) []Recommendation {
	var recs []Recommendation

	switch {
	case r.Confidence < 0.5:
		recs = append(recs, Recommendation{LevelError, fmt.Sprintf(
			"Low SKU pattern confidence (%.0f%%). Review SKUs or disable SKU-based grouping.", r.Confidence*100)})
	case r.Confidence < 0.7:
		recs = append(recs, Recommendation{LevelWarning, fmt.Sprintf(
			"Moderate SKU pattern confidence (%.0f%%). Check the sample groups before importing.", r.Confidence*100)})
	default:
		recs = append(recs, Recommendation{LevelSuccess, fmt.Sprintf(
			"SKUs follow the %s pattern (%.0f%% confidence).", r.Pattern, r.Confidence*100)})
	}

	if r.Groups.TotalGroups > 0 {
		ratio := float64(r.Groups.SingletonGroups) / float64(r.Groups.TotalGroups)
		if ratio > 0.5 {
			recs = append(recs, Recommendation{LevelWarning, fmt.Sprintf(
				"%d of %d groups have a single variant. Consider importing these as standalone products.",
				r.Groups.SingletonGroups, r.Groups.TotalGroups)})
		}
	}

	switch r.Pattern {
	case SimpleIncremental:
		recs = append(recs, Recommendation{LevelWarning,
			"Running-number SKUs share a prefix across unrelated products and may be grouped by accident."})
	case Hierarchical:
		recs = append(recs, Recommendation{LevelInfo,
			"Only the last SKU segment is treated as the variant code."})
	case SizeColorEmbedded:
		recs = append(recs, Recommendation{LevelInfo,
			"Size and colour tokens will be split off the SKU to form the parent code."})
	}

	if unmatched := r.Total - r.Matched; unmatched > 0 {
		recs = append(recs, Recommendation{LevelInfo, fmt.Sprintf(
			"%d SKUs do not follow the dominant pattern and will be imported ungrouped.", unmatched)})
	}

	sort.SliceStable(recs, func(i, j int) bool { return levelRank[recs[i].Level] < levelRank[recs[j].Level] })
	return recs
}
