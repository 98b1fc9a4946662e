package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/analyzer"
	"github.com/JonMunkholm/catalogimport/internal/broadcast"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/queue"
	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/skupattern"
	"github.com/JonMunkholm/catalogimport/internal/storage"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// keyBatchSize bounds the IN lists used for existence lookups.
const keyBatchSize = 1000

// scanResult is what one pass over the file yields for the dry run.
type scanResult struct {
	sample        *validation.Sample
	names         []string
	skus          []string
	malformed     int
	needBarcode   int
	rowsWithIdent int
}

// dryRun validates a sample, predicts catalog changes and decides whether
// processing may start without the user.
func (s *Service) dryRun(ctx context.Context, sess *session.Session) error {
	log := logging.ForSession(ctx, sess.ID, StageDryRun)
	if sess.Status != session.StatusDryRun {
		log.Debug("not in dry run, task ignored", "status", sess.Status)
		return nil
	}
	if sess.DryRunResults != nil {
		log.Debug("dry run already done")
		return nil
	}
	start := time.Now()

	sheet, err := primarySheet(sess)
	if err != nil {
		return err
	}
	rules, err := validation.ParseRules(sess.Configuration.ValidationRules)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}

	scan, err := s.scanForDryRun(ctx, sess, sheet.Name, rules)
	if err != nil {
		return err
	}

	res := &session.DryRunResults{
		Sheet:         sheet.Name,
		SampleSize:    scan.sample.Rows,
		ValidRows:     scan.sample.Valid,
		InvalidRows:   scan.sample.Invalid,
		BlankRows:     scan.sample.Blank,
		WarningCount:  scan.sample.Warnings,
		QualityScore:  scan.sample.Score(),
		Threshold:     s.cfg.AutoAdvanceScore,
		FieldCoverage: scan.sample.Coverage(),
		Mapping:       mapping.Validate(sess.ColumnMapping, s.cfg.MappingCoverageFloor),
		SkuPatterns:   skupattern.Analyze(scan.skus),
		Issues:        scan.sample.Issues,
		CompletedAt:   s.now(),
	}
	if t := sess.Configuration.AutoAdvanceScore; t != nil {
		res.Threshold = *t
	}

	if res.Predicted, err = s.predict(ctx, sess.Configuration.ImportMode, scan); err != nil {
		return queue.Transient(err)
	}
	if sess.Configuration.AutoAssignBarcodes {
		available, err := s.repo.AvailableBarcodes(ctx)
		if err != nil {
			return queue.Transient(err)
		}
		res.Barcodes = &session.BarcodeCheck{
			Available:  available,
			Needed:     scan.needBarcode,
			Sufficient: available >= int64(scan.needBarcode),
		}
	}

	res.Recommendations = recommendDryRun(res, scan)
	res.AutoAdvance = res.QualityScore >= res.Threshold && !res.HasBlocking()

	sess, err = s.update(ctx, sess.ID, broadcast.TypeStatus, func(ss *session.Session) error {
		if ss.Status != session.StatusDryRun {
			return fmt.Errorf("%w: %s", session.ErrTerminal, ss.Status)
		}
		ss.DryRunResults = res
		if !res.AutoAdvance {
			return ss.SetProgress(25, "dry_run", AwaitingManualStart)
		}
		if err := ss.Transition(session.StatusProcessing, s.now()); err != nil {
			return err
		}
		return ss.SetProgress(30, "processing", "Starting import")
	})
	if err != nil {
		return err
	}

	log.Info("dry run finished",
		"sample", res.SampleSize,
		"quality_score", res.QualityScore,
		"threshold", res.Threshold,
		"sku_pattern", res.SkuPatterns.Pattern,
		"auto_advance", res.AutoAdvance,
		"duration_ms", time.Since(start).Milliseconds())

	if sess.Status == session.StatusProcessing {
		return s.enqueue(ctx, sess, StageProcess)
	}
	return nil
}

// scanForDryRun reads the whole sheet once. The first rows feed the
// validation sample; every row contributes identifiers for prediction.
func (s *Service) scanForDryRun(ctx context.Context, sess *session.Session, sheet string, rules validation.Rules) (*scanResult, error) {
	path, cleanup, err := storage.Localize(ctx, s.artifacts, sess.File.StoragePath, s.cfg.TempDir)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, queue.Transient(fmt.Errorf("fetch upload: %w", err))
	}
	defer cleanup()

	it, err := analyzer.OpenRows(ctx, path, sess.File.Type, sheet,
		analyzer.Options{Encoding: sess.Configuration.Encoding})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	fields := sess.ColumnMapping
	out := &scanResult{sample: validation.NewSample(rules, fields, s.cfg.MaxIssues)}
	_, hasBarcode := mapping.Columns(fields)[mapping.FieldBarcode]

	seenNames := make(map[string]bool)
	seenSKUs := make(map[string]bool)

	for i := 0; ; i++ {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		cells, err := it.Next()
		if err == io.EOF {
			break
		}
		var rowErr *analyzer.RowError
		if errors.As(err, &rowErr) {
			out.malformed++
			continue
		}
		if err != nil {
			return nil, err
		}

		values := mapping.Apply(fields, cells)
		if i < s.cfg.DryRunSampleSize {
			out.sample.Add(i+2, values)
		}
		if validation.IsBlankIdentity(values) {
			continue
		}
		out.rowsWithIdent++

		if name := strings.TrimSpace(values[mapping.FieldProductName]); name != "" && !seenNames[name] {
			seenNames[name] = true
			out.names = append(out.names, name)
		}
		sku := strings.TrimSpace(values[mapping.FieldVariantSKU])
		if sku != "" && !seenSKUs[sku] {
			seenSKUs[sku] = true
			out.skus = append(out.skus, sku)
		}
		if !hasBarcode || strings.TrimSpace(values[mapping.FieldBarcode]) == "" {
			out.needBarcode++
		}
	}
	return out, nil
}

// predict estimates catalog changes from the distinct names and SKUs.
func (s *Service) predict(ctx context.Context, mode session.ImportMode, scan *scanResult) (session.Prediction, error) {
	var p session.Prediction

	existingNames, err := s.existingIn(ctx, scan.names, s.repo.ExistingProductNames)
	if err != nil {
		return p, err
	}
	existingSKUs, err := s.existingIn(ctx, scan.skus, s.repo.ExistingSKUs)
	if err != nil {
		return p, err
	}

	p.ExistingProducts = len(existingNames)
	p.NewProducts = len(scan.names) - p.ExistingProducts
	p.ExistingVariants = len(existingSKUs)
	p.NewVariants = len(scan.skus) - p.ExistingVariants

	switch mode {
	case session.ModeCreateOnly:
		p.WouldSkip = p.ExistingVariants
	case session.ModeUpdateExisting:
		p.WouldSkip = p.NewVariants
	}
	return p, nil
}

func (s *Service) existingIn(ctx context.Context, keys []string, lookup func(context.Context, []string) (map[string]bool, error)) (map[string]bool, error) {
	out := make(map[string]bool)
	for start := 0; start < len(keys); start += keyBatchSize {
		end := min(start+keyBatchSize, len(keys))
		found, err := lookup(ctx, keys[start:end])
		if err != nil {
			return nil, err
		}
		for k, ok := range found {
			if ok {
				out[k] = true
			}
		}
	}
	return out, nil
}

// recommendDryRun turns dry-run findings into recommendations. Blocking
// ones keep the session waiting for a manual start.
func recommendDryRun(res *session.DryRunResults, scan *scanResult) []session.Recommendation {
	recs := []session.Recommendation{}
	add := func(level string, blocking bool, format string, args ...any) {
		recs = append(recs, session.Recommendation{
			Level:    level,
			Message:  fmt.Sprintf(format, args...),
			Blocking: blocking,
		})
	}

	if scan.rowsWithIdent == 0 {
		add(session.LevelError, true, "No row has a product name or SKU. Check the column mapping.")
	}
	for _, e := range res.Mapping.Errors {
		add(session.LevelError, true, "Column mapping: %s.", e)
	}
	if b := res.Barcodes; b != nil && !b.Sufficient {
		add(session.LevelError, true, "%d rows need a barcode but only %d are free. Add barcodes to the pool or disable auto-assignment.",
			b.Needed, b.Available)
	}

	if res.InvalidRows > 0 {
		add(session.LevelWarning, false, "%d of %d sampled rows failed validation and will be reported as failed.",
			res.InvalidRows, res.SampleSize)
	}
	if scan.malformed > 0 {
		add(session.LevelWarning, false, "%d rows could not be parsed and will be reported as failed.", scan.malformed)
	}
	if res.SampleSize > 0 && res.QualityScore < res.Threshold {
		add(session.LevelWarning, false, "Data quality score %.0f is below the auto-start threshold of %.0f. Review the issues, then start processing manually.",
			res.QualityScore, res.Threshold)
	}
	for _, w := range res.Mapping.Warnings {
		add(session.LevelWarning, false, "Column mapping: %s.", w)
	}

	for _, r := range res.SkuPatterns.Recommendations {
		add(r.Level, false, "%s", r.Message)
	}

	if res.Predicted.WouldSkip > 0 {
		add(session.LevelInfo, false, "About %d variants will be skipped by the import mode.", res.Predicted.WouldSkip)
	}

	if len(recs) == 0 {
		add(session.LevelSuccess, false, "Sample looks good: %d valid rows, %d new products and %d new variants expected.",
			res.ValidRows, res.Predicted.NewProducts, res.Predicted.NewVariants)
	}
	return recs
}
