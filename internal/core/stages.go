package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/JonMunkholm/catalogimport/internal/analyzer"
	"github.com/JonMunkholm/catalogimport/internal/broadcast"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/notify"
	"github.com/JonMunkholm/catalogimport/internal/queue"
	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/storage"
)

// analyze inspects the uploaded file, fixes the row total and picks the
// column mapping. A confident mapping goes straight to the dry run.
func (s *Service) analyze(ctx context.Context, sess *session.Session) error {
	log := logging.ForSession(ctx, sess.ID, StageAnalyze)

	if sess.Status == session.StatusInitializing {
		next, err := s.update(ctx, sess.ID, broadcast.TypeStatus, func(ss *session.Session) error {
			if err := ss.Transition(session.StatusAnalyzingFile, s.now()); err != nil {
				return err
			}
			return ss.SetProgress(5, "analysis", "Analyzing file structure")
		})
		if err != nil {
			return err
		}
		sess = next
	}
	if sess.Status != session.StatusAnalyzingFile {
		log.Debug("analysis already done", "status", sess.Status)
		return nil
	}

	path, cleanup, err := storage.Localize(ctx, s.artifacts, sess.File.StoragePath, s.cfg.TempDir)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return queue.Transient(fmt.Errorf("fetch upload: %w", err))
	}
	defer cleanup()

	progress := func(done, total int) {
		if total <= 1 {
			return
		}
		pct := 5 + 10*done/total
		_, err := s.update(ctx, sess.ID, broadcast.TypeProgress, func(ss *session.Session) error {
			return ss.SetProgress(pct, "analysis", fmt.Sprintf("Analyzed %d of %d sheets", done, total))
		})
		if err != nil {
			log.Debug("sheet progress not recorded", "error", err)
		}
	}

	analysis, err := analyzer.Analyze(ctx, path, sess.File.Type,
		analyzer.Options{Encoding: sess.Configuration.Encoding}, progress)
	if err != nil {
		return err
	}
	sheet, err := analysis.Primary(sess.Configuration.SheetName)
	if err != nil {
		return err
	}
	if sheet.TotalRows == 0 {
		return fmt.Errorf("%w: sheet %q has a header but no data rows", analyzer.ErrNoData, sheet.Name)
	}

	fields := sess.ColumnMapping
	provided := len(fields) == len(sheet.Headers)
	if !provided {
		if len(fields) > 0 {
			log.Warn("provided mapping ignored", "columns", len(sheet.Headers), "mapping", len(fields))
		}
		fields = mapping.Map(sheet.Headers)
	}

	conf := mapping.Assess(fields, s.cfg.MappingCoverageFloor)
	rep := mapping.Validate(fields, s.cfg.MappingCoverageFloor)
	ready := conf.Sufficient && (!provided || rep.Valid())

	sess, err = s.update(ctx, sess.ID, broadcast.TypeStatus, func(ss *session.Session) error {
		if err := ss.SetTotalRows(sheet.TotalRows); err != nil {
			return err
		}
		ss.FileAnalysis = analysis
		ss.ColumnMapping = fields

		if !ready {
			reason := conf.Reason
			if reason == "" && len(rep.Errors) > 0 {
				reason = rep.Errors[0]
			}
			if err := ss.Transition(session.StatusAwaitingMapping, s.now()); err != nil {
				return err
			}
			return ss.SetProgress(15, "mapping", "Column mapping needs review: "+reason)
		}

		for _, w := range rep.Warnings {
			ss.AddWarning(session.Message{At: s.now(), Text: w}, s.cfg.ErrorLogLimit)
		}
		if err := ss.Transition(session.StatusDryRun, s.now()); err != nil {
			return err
		}
		return ss.SetProgress(20, "dry_run", "Validating sample rows")
	})
	if err != nil {
		return err
	}

	log.Info("file analyzed",
		"sheet", sheet.Name, "rows", sheet.TotalRows, "columns", len(sheet.Headers),
		"mapping_ratio", conf.MappedRatio, "status", sess.Status)

	if sess.Status == session.StatusDryRun {
		return s.enqueue(ctx, sess, StageDryRun)
	}
	return nil
}

// finalize builds the report and completes the session.
func (s *Service) finalize(ctx context.Context, sess *session.Session) error {
	if sess.Status != session.StatusFinalizing {
		logging.ForSession(ctx, sess.ID, StageFinalize).Debug("not finalizing, task ignored", "status", sess.Status)
		return nil
	}

	sess, err := s.update(ctx, sess.ID, broadcast.TypeTerminal, func(ss *session.Session) error {
		if err := ss.SetProgress(100, "finalize", "Completed"); err != nil {
			return err
		}
		if err := ss.Transition(session.StatusCompleted, s.now()); err != nil {
			return err
		}
		rep := s.buildReport(ss, s.now())
		ss.FinalResults = &rep
		return nil
	})
	if err != nil {
		return err
	}

	log := logging.ForSession(ctx, sess.ID, StageFinalize)
	log.Info("import completed",
		"processed", sess.Counts.Processed,
		"successful", sess.Counts.Successful,
		"failed", sess.Counts.Failed,
		"skipped", sess.Counts.Skipped,
		"products_created", sess.Changes.ProductsCreated,
		"variants_created", sess.Changes.VariantsCreated)

	// A completed session cannot be retried, so its upload is released now.
	if err := s.artifacts.Delete(ctx, sess.File.StoragePath); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Warn("could not delete upload", "key", sess.File.StoragePath, "error", err)
	} else if err := s.markPurged(ctx, sess.ID); err != nil {
		log.Warn("could not mark upload purged", "error", err)
	}
	s.notify(ctx, notify.EventCompleted, sess)
	return nil
}
