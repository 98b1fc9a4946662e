// Package pipeline turns mapped rows into catalog records. Each row runs
// through an ordered list of named steps; rows are committed a chunk at a
// time inside one transaction, with a savepoint per row.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/report"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// Mode controls how existing catalog records are treated.
type Mode string

const (
	ModeCreateOnly     Mode = "create_only"
	ModeUpdateExisting Mode = "update_existing"
	ModeCreateOrUpdate Mode = "create_or_update"
)

// ErrAbortChunk makes ProcessChunk roll back the whole chunk.
var ErrAbortChunk = errors.New("chunk aborted")

// SkipError is a soft row failure: the row is skipped and the batch continues.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

// Skip returns a soft failure with the reason.
func Skip(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkip reports whether err is a soft failure and returns its reason.
func IsSkip(err error) (string, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// Options are the per-import settings the steps read.
type Options struct {
	Mode     Mode
	ImportID string

	ExtractAttributes   bool
	DetectMadeToMeasure bool
	DimensionDigitsOnly bool
	SkuGrouping         bool
	AutoAssignBarcodes  bool

	// GroupingPattern is the SKU pattern used to derive parent keys.
	// Empty disables SKU-based grouping.
	GroupingPattern string

	Rules      validation.Rules
	Extraction ExtractionRules
}

// Env is what a step can reach besides the row: the transaction-bound
// repository, the options and the row's catalog change counters.
type Env struct {
	Repo    *catalog.Repository
	Options Options
	Logger  *slog.Logger

	stats *report.Catalog
	seen  *seenSet
}

// countProduct records a product change once per import.
func (e *Env) countProduct(id string, created bool) {
	if e.seen.has("p:" + id) {
		return
	}
	e.seen.add("p:" + id)
	if created {
		e.stats.ProductsCreated++
	} else {
		e.stats.ProductsUpdated++
	}
}

// countVariant records a variant change once per import.
func (e *Env) countVariant(id string, created bool) {
	if e.seen.has("v:" + id) {
		return
	}
	e.seen.add("v:" + id)
	if created {
		e.stats.VariantsCreated++
	} else {
		e.stats.VariantsUpdated++
	}
}

// seenSet records which records an import has already written. Rows and
// chunks get child sets that are merged into their parent only on commit.
type seenSet struct {
	parent *seenSet
	keys   map[string]bool
}

func newSeenSet() *seenSet {
	return &seenSet{keys: map[string]bool{}}
}

func (s *seenSet) child() *seenSet {
	return &seenSet{parent: s, keys: map[string]bool{}}
}

func (s *seenSet) has(key string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.keys[key] {
			return true
		}
	}
	return false
}

func (s *seenSet) add(key string) {
	s.keys[key] = true
}

// commit merges the set into its parent.
func (s *seenSet) commit() {
	if s.parent == nil {
		return
	}
	for k := range s.keys {
		s.parent.keys[k] = true
	}
}

// Step is one named row transformation.
type Step interface {
	Name() string
	Run(ctx context.Context, env *Env, rc *Context) error
}

// StepFunc adapts a function to Step.
type StepFunc struct {
	StepName string
	Fn       func(ctx context.Context, env *Env, rc *Context) error
}

// Name returns the step name.
func (s StepFunc) Name() string { return s.StepName }

// Run calls the function.
func (s StepFunc) Run(ctx context.Context, env *Env, rc *Context) error {
	return s.Fn(ctx, env, rc)
}
