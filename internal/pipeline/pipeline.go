package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/report"
)

// RowResult is the outcome of one row. Message holds the error or skip reason.
type RowResult struct {
	Row      int
	Outcome  Outcome
	Message  string
	Warnings []string
}

// ChunkResult is the outcome of one chunk.
type ChunkResult struct {
	Processed  int
	Successful int
	Failed     int
	Skipped    int

	Catalog report.Catalog
	Rows    []RowResult

	// Aborted is set when the chunk was rolled back as a whole. Every row
	// of an aborted chunk counts as failed.
	Aborted bool
	Err     error
}

func (r *ChunkResult) add(rr RowResult) {
	r.Processed++
	switch rr.Outcome {
	case OutcomeSuccess:
		r.Successful++
	case OutcomeSkipped:
		r.Skipped++
	default:
		r.Failed++
	}
	r.Rows = append(r.Rows, rr)
}

// Pipeline runs rows of one import through the active steps.
type Pipeline struct {
	repo   *catalog.Repository
	steps  []Registration
	opts   Options
	logger *slog.Logger
	seen   *seenSet
}

// New builds a pipeline for one import. A nil registry uses DefaultRegistry.
func New(repo *catalog.Repository, opts Options, registry *Registry, logger *slog.Logger) *Pipeline {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Mode == "" {
		opts.Mode = ModeCreateOrUpdate
	}
	return &Pipeline{
		repo:   repo,
		steps:  registry.Active(opts),
		opts:   opts,
		logger: logger,
		seen:   newSeenSet(),
	}
}

// Steps returns the names of the steps this pipeline runs.
func (p *Pipeline) Steps() []string {
	names := make([]string, len(p.steps))
	for i, reg := range p.steps {
		names[i] = reg.Step.Name()
	}
	return names
}

// ProcessChunk runs rows inside one transaction. Each row gets a savepoint,
// so a failed row rolls back alone. A transaction error or ErrAbortChunk
// rolls back the whole chunk.
func (p *Pipeline) ProcessChunk(ctx context.Context, rows []Row) ChunkResult {
	chunkSeen := p.seen.child()
	var res ChunkResult

	err := p.repo.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res = ChunkResult{}
		chunkSeen = p.seen.child()
		repo := p.repo.WithTx(tx)

		for i, row := range rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			rr, stats, rowSeen, err := p.processRow(ctx, tx, repo, row, i, chunkSeen)
			if err != nil {
				return err
			}
			if rr.Outcome == OutcomeSuccess {
				res.Catalog.Add(stats)
				rowSeen.commit()
			}
			res.add(rr)
		}
		return nil
	})
	if err != nil {
		return p.aborted(rows, err)
	}

	chunkSeen.commit()
	return res
}

func (p *Pipeline) aborted(rows []Row, err error) ChunkResult {
	res := ChunkResult{Aborted: true, Err: err}
	msg := fmt.Sprintf("chunk rolled back: %v", err)
	for _, row := range rows {
		res.add(RowResult{Row: row.Number, Outcome: OutcomeFailed, Message: msg})
	}

	first, last := 0, 0
	if len(rows) > 0 {
		first, last = rows[0].Number, rows[len(rows)-1].Number
	}
	p.logger.Warn("chunk rolled back", "first_row", first, "last_row", last, "error", err)
	return res
}

// processRow runs the steps for one row. A returned error is a
// transaction-level failure that aborts the chunk.
func (p *Pipeline) processRow(ctx context.Context, tx *gorm.DB, repo *catalog.Repository, row Row, idx int, chunkSeen *seenSet) (RowResult, report.Catalog, *seenSet, error) {
	var stats report.Catalog
	rowSeen := chunkSeen.child()

	sp := fmt.Sprintf("row_%d", idx)
	if err := tx.SavePoint(sp).Error; err != nil {
		return RowResult{}, stats, nil, fmt.Errorf("savepoint: %w", err)
	}

	rc := NewContext(row)
	env := &Env{Repo: repo, Options: p.opts, Logger: p.logger, stats: &stats, seen: rowSeen}

	for _, reg := range p.steps {
		err := p.runStep(ctx, tx, env, rc, reg, sp)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrAbortChunk) {
			return RowResult{}, stats, nil, err
		}
		if reason, ok := IsSkip(err); ok {
			rc.Outcome = OutcomeSkipped
			rc.Err = errors.New(reason)
		} else {
			rc.Outcome = OutcomeFailed
			rc.Err = err
			p.logger.Debug("row failed", "row", row.Number, "step", reg.Step.Name(), "error", err)
		}
		break
	}

	if rc.Outcome == OutcomePending {
		rc.Outcome = OutcomeSuccess
	} else if err := tx.RollbackTo(sp).Error; err != nil {
		return RowResult{}, stats, nil, fmt.Errorf("rollback row %d: %w", row.Number, err)
	}

	rr := RowResult{Row: row.Number, Outcome: rc.Outcome, Warnings: rc.Warnings}
	if rc.Err != nil {
		rr.Message = rc.Err.Error()
	}
	return rr, stats, rowSeen, nil
}

// runStep runs one step. Optional steps run under their own savepoint and
// a failure becomes a row warning.
func (p *Pipeline) runStep(ctx context.Context, tx *gorm.DB, env *Env, rc *Context, reg Registration, rowSP string) error {
	if !reg.Optional {
		return reg.Step.Run(ctx, env, rc)
	}

	sp := rowSP + "_" + reg.Step.Name()
	if err := tx.SavePoint(sp).Error; err != nil {
		return fmt.Errorf("%w: savepoint: %v", ErrAbortChunk, err)
	}

	before := *env.stats
	err := reg.Step.Run(ctx, env, rc)
	if err == nil {
		return nil
	}
	if _, ok := IsSkip(err); ok || errors.Is(err, ErrAbortChunk) {
		return err
	}

	if rbErr := tx.RollbackTo(sp).Error; rbErr != nil {
		return fmt.Errorf("%w: rollback %s: %v", ErrAbortChunk, reg.Step.Name(), rbErr)
	}
	*env.stats = before
	rc.Warn(fmt.Sprintf("%s: %v", reg.Step.Name(), err))
	p.logger.Debug("optional step failed", "row", rc.RowNumber, "step", reg.Step.Name(), "error", err)
	return nil
}
