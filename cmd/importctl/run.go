package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/report"
	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/storage"
)

type runOptions struct {
	inspectOptions

	catalogDriver string
	catalogDSN    string
	mode          string
	chunkSize     int
	maxMinutes    int
	mapping       string
	threshold     float64
	force         bool

	noAttributes bool
	noGrouping   bool
	noMTM        bool
	barcodes     bool
}

// runOutput is what the run command prints.
type runOutput struct {
	SessionID string                 `json:"session_id"`
	Status    session.Status         `json:"status"`
	Operation string                 `json:"operation,omitempty"`
	DryRun    *session.DryRunResults `json:"dry_run,omitempty"`
	Report    *report.Report         `json:"report,omitempty"`
	Errors    []session.Message      `json:"errors,omitempty"`
	Warnings  []session.Message      `json:"warnings,omitempty"`
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Import a file into the catalog and print the report",
		Long: `Runs every stage of an import in the foreground: analysis, column mapping,
dry run, processing and finalization. The exit code is 3 when the import
stops for mapping review or a manual start, and 1 when it fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args[0], opts)
		},
	}

	opts.bind(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.catalogDriver, "catalog-driver", envOr("CATALOG_DRIVER", catalog.DriverSQLite), "Catalog database: sqlite or postgres")
	f.StringVar(&opts.catalogDSN, "catalog-dsn", envOr("CATALOG_DSN", "catalog.db"), "Catalog DSN or sqlite file")
	f.StringVar(&opts.mode, "mode", string(session.ModeCreateOrUpdate), "Import mode: create_only, update_existing, create_or_update")
	f.IntVar(&opts.chunkSize, "chunk-size", session.DefaultChunkSize, "Rows per transaction (10-1000)")
	f.IntVar(&opts.maxMinutes, "max-minutes", 30, "Time limit per stage in minutes")
	f.StringVar(&opts.mapping, "mapping", "", "Comma separated field per column, overrides detection")
	f.Float64Var(&opts.threshold, "threshold", 0, "Quality score needed to start without --force (default: service setting)")
	f.BoolVar(&opts.force, "force", false, "Start processing even when the dry run asks for a manual start")
	f.BoolVar(&opts.noAttributes, "no-attributes", false, "Do not extract attributes from product names")
	f.BoolVar(&opts.noGrouping, "no-grouping", false, "Do not group variants by SKU pattern")
	f.BoolVar(&opts.noMTM, "no-made-to-measure", false, "Do not detect made-to-measure products")
	f.BoolVar(&opts.barcodes, "assign-barcodes", false, "Assign pool barcodes to variants without one")
	return cmd
}

func runImport(cmd *cobra.Command, path string, opts runOptions) error {
	ctx := cmd.Context()

	svc, cleanup, err := newLocalService(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Open(path)
	if err != nil {
		return withCode(exitUsage, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	cfg := session.DefaultConfiguration()
	cfg.Background = false
	cfg.ImportMode = session.ImportMode(opts.mode)
	cfg.ChunkSize = opts.chunkSize
	cfg.MaxProcessingMinutes = opts.maxMinutes
	cfg.SheetName = opts.sheet
	cfg.Encoding = opts.encoding
	cfg.ExtractAttributes = !opts.noAttributes
	cfg.SkuGrouping = !opts.noGrouping
	cfg.DetectMadeToMeasure = !opts.noMTM
	cfg.AutoAssignBarcodes = opts.barcodes
	if opts.threshold > 0 {
		cfg.AutoAdvanceScore = &opts.threshold
	}

	req := core.CreateRequest{
		UserID:        "importctl",
		FileName:      filepath.Base(path),
		Size:          info.Size(),
		Body:          f,
		Configuration: &cfg,
	}
	if opts.mapping != "" {
		req.ColumnMapping = strings.Split(opts.mapping, ",")
	}

	sess, err := svc.CreateSession(ctx, req)
	if err != nil {
		return err
	}
	if sess.Status == session.StatusDryRun && opts.force {
		slog.Info("starting despite dry run findings", "session_id", sess.ID)
		if sess, err = svc.StartProcessing(ctx, sess.ID); err != nil {
			return err
		}
	}

	out := runOutput{
		SessionID: sess.ID,
		Status:    sess.Status,
		Operation: sess.CurrentOperation,
		DryRun:    sess.DryRunResults,
		Errors:    sess.Errors,
		Warnings:  sess.Warnings,
	}
	if sess.IsTerminal() {
		if out.Report, err = svc.Report(ctx, sess.ID); err != nil {
			return err
		}
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}

	switch sess.Status {
	case session.StatusCompleted:
		return nil
	case session.StatusFailed, session.StatusCancelled:
		return withCode(exitFailure, fmt.Errorf("import %s: %s", sess.Status, sess.FailureReason))
	default:
		return withCode(exitIncomplete, fmt.Errorf("import stopped at %s: %s", sess.Status, sess.CurrentOperation))
	}
}

// newLocalService wires a service with in-memory sessions and a temporary
// upload directory around the given catalog.
func newLocalService(ctx context.Context, opts runOptions) (*core.Service, func(), error) {
	db, err := catalog.Open(ctx, catalog.Options{Driver: opts.catalogDriver, DSN: opts.catalogDSN})
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	if err := catalog.Migrate(ctx, db); err != nil {
		catalog.Close(db)
		return nil, nil, fmt.Errorf("migrate catalog: %w", err)
	}

	dir, err := os.MkdirTemp("", "importctl-*")
	if err != nil {
		catalog.Close(db)
		return nil, nil, err
	}
	cleanup := func() {
		catalog.Close(db)
		os.RemoveAll(dir)
	}

	artifacts, err := storage.NewLocalStore(filepath.Join(dir, "uploads"))
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	svc, err := core.New(core.Deps{
		Store:     session.NewMemoryStore(),
		Catalog:   catalog.NewRepository(db),
		Artifacts: artifacts,
	}, core.Config{TempDir: dir, MaxConcurrent: 1})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
