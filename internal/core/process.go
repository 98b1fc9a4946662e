package core

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/JonMunkholm/catalogimport/internal/analyzer"
	"github.com/JonMunkholm/catalogimport/internal/broadcast"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/pipeline"
	"github.com/JonMunkholm/catalogimport/internal/queue"
	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/storage"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// blankRowReason is the skip reason for rows with neither name nor SKU.
// Such skips are not worth a warning each.
const blankRowReason = "blank row"

// errStopped ends the chunk loop when the session left processing.
var errStopped = errors.New("processing stopped")

func (s *Service) pipelineOptions(sess *session.Session) (pipeline.Options, error) {
	cfg := sess.Configuration
	rules, err := validation.ParseRules(cfg.ValidationRules)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	extraction, err := pipeline.ParseExtractionRules(cfg.ExtractionRules)
	if err != nil {
		return pipeline.Options{}, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	opts := pipeline.Options{
		Mode:                pipeline.Mode(cfg.ImportMode),
		ImportID:            sess.ID,
		ExtractAttributes:   cfg.ExtractAttributes,
		DetectMadeToMeasure: cfg.DetectMadeToMeasure,
		DimensionDigitsOnly: cfg.DimensionDigitsOnly,
		SkuGrouping:         cfg.SkuGrouping,
		AutoAssignBarcodes:  cfg.AutoAssignBarcodes,
		Rules:               rules,
		Extraction:          extraction,
	}
	if cfg.SkuGrouping && sess.DryRunResults != nil && sess.DryRunResults.SkuPatterns.Usable(s.cfg.GroupingMinConfidence) {
		opts.GroupingPattern = sess.DryRunResults.SkuPatterns.Pattern
	}
	return opts, nil
}

// process streams the rows through the pipeline chunk by chunk. Each chunk
// commits on its own and its counters are saved right after, so a retried
// task resumes after the last saved chunk.
func (s *Service) process(ctx context.Context, sess *session.Session) error {
	log := logging.ForSession(ctx, sess.ID, StageProcess)
	if sess.Status != session.StatusProcessing {
		log.Debug("not processing, task ignored", "status", sess.Status)
		return nil
	}

	opts, err := s.pipelineOptions(sess)
	if err != nil {
		return err
	}
	sheet, err := primarySheet(sess)
	if err != nil {
		return err
	}

	path, cleanup, err := storage.Localize(ctx, s.artifacts, sess.File.StoragePath, s.cfg.TempDir)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return queue.Transient(fmt.Errorf("fetch upload: %w", err))
	}
	defer cleanup()

	it, err := analyzer.OpenRows(ctx, path, sess.File.Type, sheet.Name,
		analyzer.Options{Encoding: sess.Configuration.Encoding})
	if err != nil {
		return err
	}
	defer it.Close()

	p := pipeline.New(s.repo, opts, nil, log)
	chunkSize := sess.Configuration.ChunkSize
	if chunkSize <= 0 {
		chunkSize = s.cfg.DefaultChunkSize
	}
	total := sess.TotalRows
	resume := sess.Counts.Processed
	if resume > 0 {
		log.Info("resuming processing", "processed", resume, "total", total)
	}

	var (
		rows      []pipeline.Row
		malformed []pipeline.RowResult
		index     int
		chunks    int
	)

	flush := func() error {
		if len(rows) == 0 && len(malformed) == 0 {
			return nil
		}
		current, err := s.store.Get(ctx, sess.ID)
		if err != nil {
			return queue.Transient(err)
		}
		if current.Status != session.StatusProcessing {
			return errStopped
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res := p.ProcessChunk(ctx, rows)
		res.Rows = append(res.Rows, malformed...)
		for range malformed {
			res.Processed++
			res.Failed++
		}
		chunks++

		if res.Aborted && ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := s.recordChunk(ctx, sess.ID, total, res); err != nil {
			return err
		}
		rows = rows[:0]
		malformed = malformed[:0]
		return nil
	}

	for {
		cells, err := it.Next()
		if err == io.EOF {
			break
		}
		var rowErr *analyzer.RowError
		if err != nil && !errors.As(err, &rowErr) {
			return err
		}

		index++
		if index <= resume {
			continue
		}
		number := index + 1

		if rowErr != nil {
			malformed = append(malformed, pipeline.RowResult{
				Row:     number,
				Outcome: pipeline.OutcomeFailed,
				Message: rowErr.Error(),
			})
		} else {
			rows = append(rows, pipeline.Row{Number: number, Values: mapping.Apply(sess.ColumnMapping, cells)})
		}

		if len(rows)+len(malformed) >= chunkSize {
			if err := flush(); err != nil {
				return s.stopProcessing(ctx, sess.ID, err)
			}
		}
	}
	if err := flush(); err != nil {
		return s.stopProcessing(ctx, sess.ID, err)
	}

	sess, err = s.update(ctx, sess.ID, broadcast.TypeStatus, func(ss *session.Session) error {
		if err := ss.Transition(session.StatusFinalizing, s.now()); err != nil {
			return err
		}
		return ss.SetProgress(95, "finalize", "Building report")
	})
	if err != nil {
		return err
	}

	log.Info("rows processed", "chunks", chunks, "processed", sess.Counts.Processed, "total", total)
	return s.enqueue(ctx, sess, StageFinalize)
}

// stopProcessing translates a chunk loop error into the task result.
func (s *Service) stopProcessing(ctx context.Context, id string, err error) error {
	if errors.Is(err, errStopped) || errors.Is(err, session.ErrTerminal) {
		logging.ForSession(ctx, id, StageProcess).Info("processing stopped", "reason", err)
		return nil
	}
	return err
}

// recordChunk saves a chunk's counters, catalog changes and messages in one update.
func (s *Service) recordChunk(ctx context.Context, id string, total int, res pipeline.ChunkResult) (*session.Session, error) {
	delta := session.Counts{
		Processed:  res.Processed,
		Successful: res.Successful,
		Failed:     res.Failed,
		Skipped:    res.Skipped,
	}

	return s.update(ctx, id, broadcast.TypeChunk, func(ss *session.Session) error {
		if err := ss.ApplyCounts(delta); err != nil {
			return err
		}
		ss.Changes.Add(res.Catalog)

		now := s.now()
		for _, rr := range res.Rows {
			switch rr.Outcome {
			case pipeline.OutcomeFailed:
				ss.AddError(session.Message{At: now, Row: rr.Row, Text: rr.Message}, s.cfg.ErrorLogLimit)
			case pipeline.OutcomeSkipped:
				if rr.Message != blankRowReason {
					ss.AddWarning(session.Message{At: now, Row: rr.Row, Text: "skipped: " + rr.Message}, s.cfg.ErrorLogLimit)
				}
			}
			for _, w := range rr.Warnings {
				ss.AddWarning(session.Message{At: now, Row: rr.Row, Text: w}, s.cfg.ErrorLogLimit)
			}
		}

		pct := 90
		if total > 0 {
			pct = 30 + 60*ss.Counts.Processed/total
		}
		return ss.SetProgress(pct, "processing",
			fmt.Sprintf("Processed %d of %d rows", ss.Counts.Processed, total))
	})
}
