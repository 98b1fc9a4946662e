package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/analyzer"
	"github.com/JonMunkholm/catalogimport/internal/broadcast"
	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/logging"
	"github.com/JonMunkholm/catalogimport/internal/mapping"
	"github.com/JonMunkholm/catalogimport/internal/notify"
	"github.com/JonMunkholm/catalogimport/internal/pipeline"
	"github.com/JonMunkholm/catalogimport/internal/queue"
	"github.com/JonMunkholm/catalogimport/internal/report"
	"github.com/JonMunkholm/catalogimport/internal/session"
	"github.com/JonMunkholm/catalogimport/internal/storage"
	"github.com/JonMunkholm/catalogimport/internal/validation"
)

// Stage names carried by queue tasks.
const (
	StageAnalyze  = "analyze"
	StageDryRun   = "dry_run"
	StageProcess  = "process"
	StageFinalize = "finalize"
)

// AwaitingManualStart is the operation shown while a dry run waits for StartProcessing.
const AwaitingManualStart = "awaiting manual start"

var (
	// ErrTooManyImports is returned when no upload slot frees up in time.
	ErrTooManyImports = queue.ErrSaturated

	ErrNoFile               = errors.New("no file provided")
	ErrFileTooLarge         = errors.New("file too large")
	ErrEmptyFile            = errors.New("empty file: the upload has no content")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidMapping       = errors.New("invalid column mapping")
	ErrMappingLength        = errors.New("mapping length does not match the file's columns")
	ErrDryRunPending        = errors.New("dry run has not finished")
	ErrStreamingUnavailable = errors.New("live progress is not available")
)

// Config holds service-wide limits and thresholds.
type Config struct {
	DefaultChunkSize      int
	DefaultMaxMinutes     int
	MaxProcessingMinutes  int // cap for a single stage, whatever the session asks for
	DryRunSampleSize      int
	AutoAdvanceScore      float64
	MappingCoverageFloor  float64
	GroupingMinConfidence float64
	ErrorLogLimit         int
	MaxIssues             int

	MaxFileSize       int64
	AllowedExtensions []string
	MaxConcurrent     int
	MaxWaitTime       time.Duration

	TaskRetries       int
	StaleAfter        time.Duration
	ArtifactRetention time.Duration

	// TempDir receives local copies of remote artifacts. Empty means os.TempDir.
	TempDir string
}

// DefaultConfig returns the limits used when a field is zero.
func DefaultConfig() Config {
	return Config{
		DefaultChunkSize:      session.DefaultChunkSize,
		DefaultMaxMinutes:     30,
		MaxProcessingMinutes:  240,
		DryRunSampleSize:      200,
		AutoAdvanceScore:      85,
		MappingCoverageFloor:  mapping.DefaultCoverageFloor,
		GroupingMinConfidence: 0.7,
		ErrorLogLimit:         1000,
		MaxIssues:             50,
		MaxFileSize:           100 << 20,
		AllowedExtensions:     []string{"csv", "xlsx", "xls"},
		MaxConcurrent:         queue.DefaultMaxConcurrent,
		MaxWaitTime:           queue.DefaultMaxWaitTime,
		TaskRetries:           2,
		StaleAfter:            2 * time.Hour,
		ArtifactRetention:     7 * 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultChunkSize <= 0 {
		c.DefaultChunkSize = d.DefaultChunkSize
	}
	if c.DefaultMaxMinutes <= 0 {
		c.DefaultMaxMinutes = d.DefaultMaxMinutes
	}
	if c.MaxProcessingMinutes <= 0 {
		c.MaxProcessingMinutes = d.MaxProcessingMinutes
	}
	if c.DryRunSampleSize <= 0 {
		c.DryRunSampleSize = d.DryRunSampleSize
	}
	if c.AutoAdvanceScore <= 0 {
		c.AutoAdvanceScore = d.AutoAdvanceScore
	}
	if c.MappingCoverageFloor <= 0 {
		c.MappingCoverageFloor = d.MappingCoverageFloor
	}
	if c.GroupingMinConfidence <= 0 {
		c.GroupingMinConfidence = d.GroupingMinConfidence
	}
	if c.ErrorLogLimit <= 0 {
		c.ErrorLogLimit = d.ErrorLogLimit
	}
	if c.MaxIssues <= 0 {
		c.MaxIssues = d.MaxIssues
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = d.AllowedExtensions
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = d.StaleAfter
	}
	if c.ArtifactRetention <= 0 {
		c.ArtifactRetention = d.ArtifactRetention
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	return c
}

// Deps are the collaborators a Service works with.
type Deps struct {
	Store     session.Store
	Catalog   *catalog.Repository
	Artifacts storage.Store

	// Hub serves live subscriptions. Optional.
	Hub *broadcast.Hub
	// Publisher receives progress events in addition to Hub. Optional.
	Publisher broadcast.Publisher
	// Notifier delivers lifecycle events. Optional.
	Notifier *notify.Dispatcher

	Logger *slog.Logger
	Now    func() time.Time
}

// Service coordinates import sessions.
type Service struct {
	store     session.Store
	repo      *catalog.Repository
	artifacts storage.Store
	hub       *broadcast.Hub
	publisher broadcast.Publisher
	notifier  *notify.Dispatcher

	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
	limiter *queue.Limiter

	mu    sync.RWMutex
	queue queue.Queue
}

// New creates a Service.
func New(deps Deps, cfg Config) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("core: session store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("core: catalog repository is required")
	}
	if deps.Artifacts == nil {
		return nil, errors.New("core: artifact store is required")
	}
	cfg = cfg.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	pubs := broadcast.Multi{}
	if deps.Hub != nil {
		pubs = append(pubs, deps.Hub)
	}
	if deps.Publisher != nil {
		pubs = append(pubs, deps.Publisher)
	}

	return &Service{
		store:     deps.Store,
		repo:      deps.Catalog,
		artifacts: deps.Artifacts,
		hub:       deps.Hub,
		publisher: broadcast.Logged(pubs, logger),
		notifier:  deps.Notifier,
		cfg:       cfg,
		logger:    logger,
		now:       now,
		limiter:   queue.NewLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
	}, nil
}

// QueueOptions completes opts so that a queue fails sessions whose task gives up.
func (s *Service) QueueOptions(opts queue.Options) queue.Options {
	opts.OnGiveUp = s.GiveUp
	if opts.Logger == nil {
		opts.Logger = s.logger
	}
	return opts
}

// StartWorkers attaches q for background sessions and starts consuming it.
func (s *Service) StartWorkers(ctx context.Context, q queue.Queue) error {
	s.mu.Lock()
	s.queue = q
	s.mu.Unlock()
	return q.Start(ctx, s.HandleTask)
}

// UploadStatus reports admission slot usage.
func (s *Service) UploadStatus() queue.LimiterStatus {
	return s.limiter.Status()
}

// CreateRequest carries a new upload.
type CreateRequest struct {
	UserID   string
	FileName string
	// Size is the declared size, or zero when unknown. The stored size is
	// checked either way.
	Size int64
	Body io.Reader

	// Configuration nil means session.DefaultConfiguration.
	Configuration *session.Configuration
	// ColumnMapping optionally fixes the mapping up front, one field per column.
	ColumnMapping []string
}

// CreateSession stores the upload and starts the import. For sessions that
// do not run in the background it returns after the import finished or
// paused for input.
func (s *Service) CreateSession(ctx context.Context, req CreateRequest) (*session.Session, error) {
	if req.Body == nil || strings.TrimSpace(req.FileName) == "" {
		return nil, ErrNoFile
	}
	ft, err := analyzer.DetectType(req.FileName, s.cfg.AllowedExtensions)
	if err != nil {
		return nil, err
	}
	if req.Size > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, req.Size, s.cfg.MaxFileSize)
	}
	cfg, err := s.normalizeConfiguration(req.Configuration)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	id := uuid.NewString()
	key := storage.Key(id, req.FileName)
	obj, err := s.artifacts.Save(ctx, key, io.LimitReader(req.Body, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if obj.Size > s.cfg.MaxFileSize {
		s.artifacts.Delete(context.WithoutCancel(ctx), key)
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrFileTooLarge, s.cfg.MaxFileSize)
	}
	if obj.Size == 0 {
		s.artifacts.Delete(context.WithoutCancel(ctx), key)
		return nil, ErrEmptyFile
	}

	file := session.FileInfo{
		Name:        req.FileName,
		StoragePath: obj.Key,
		Type:        ft,
		Size:        obj.Size,
		SHA256:      obj.SHA256,
	}
	sess := session.New(id, req.UserID, file, cfg, s.now())
	if len(req.ColumnMapping) > 0 {
		sess.ColumnMapping = normalizeMapping(req.ColumnMapping)
	}
	if err := s.store.Create(ctx, sess); err != nil {
		s.artifacts.Delete(context.WithoutCancel(ctx), key)
		return nil, fmt.Errorf("create session: %w", err)
	}

	logging.ForSession(ctx, id, "upload").Info("import session created",
		"file", file.Name, "type", file.Type, "size", file.Size, "background", cfg.Background)
	s.notify(ctx, notify.EventCreated, sess)
	s.publish(ctx, broadcast.TypeStatus, sess)

	return s.startStage(ctx, sess, StageAnalyze)
}

func (s *Service) normalizeConfiguration(in *session.Configuration) (session.Configuration, error) {
	cfg := session.DefaultConfiguration()
	if in != nil {
		cfg = *in
	}
	if cfg.ImportMode == "" {
		cfg.ImportMode = session.ModeCreateOrUpdate
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = s.cfg.DefaultChunkSize
	}
	if cfg.MaxProcessingMinutes == 0 {
		cfg.MaxProcessingMinutes = s.cfg.DefaultMaxMinutes
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if _, err := validation.ParseRules(cfg.ValidationRules); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	if _, err := pipeline.ParseExtractionRules(cfg.ExtractionRules); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return cfg, nil
}

// Status returns the polling view of a session.
func (s *Service) Status(ctx context.Context, id string) (session.View, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return session.View{}, err
	}
	return sess.Snapshot(s.now()), nil
}

// List returns sessions matching f, newest first.
func (s *Service) List(ctx context.Context, f session.Filter) ([]*session.Session, error) {
	return s.store.List(ctx, f)
}

// MappingSuggestion is what a mapping review screen needs.
type MappingSuggestion struct {
	Sheet       string               `json:"sheet"`
	Headers     []string             `json:"headers"`
	SampleRows  [][]string           `json:"sample_rows"`
	Suggestions []mapping.Suggestion `json:"suggestions"`
	Current     []string             `json:"current"`
	Report      mapping.Report       `json:"report"`
	Confidence  mapping.Confidence   `json:"confidence"`
	Fields      []string             `json:"fields"`
}

// SuggestMapping returns the guessed mapping and its assessment.
func (s *Service) SuggestMapping(ctx context.Context, id string) (*MappingSuggestion, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sheet, err := primarySheet(sess)
	if err != nil {
		return nil, err
	}

	current := sess.ColumnMapping
	if len(current) != len(sheet.Headers) {
		current = mapping.Map(sheet.Headers)
	}
	return &MappingSuggestion{
		Sheet:       sheet.Name,
		Headers:     sheet.Headers,
		SampleRows:  sheet.SampleRows,
		Suggestions: mapping.Suggest(sheet.Headers),
		Current:     current,
		Report:      mapping.Validate(current, s.cfg.MappingCoverageFloor),
		Confidence:  mapping.Assess(current, s.cfg.MappingCoverageFloor),
		Fields:      mapping.KnownFields(),
	}, nil
}

// SubmitMapping stores a reviewed mapping and resumes the import at the dry run.
func (s *Service) SubmitMapping(ctx context.Context, id string, fields []string) (*session.Session, error) {
	fields = normalizeMapping(fields)

	sess, err := s.store.Update(ctx, id, func(ss *session.Session) error {
		if ss.Status != session.StatusAwaitingMapping {
			return fmt.Errorf("%w: mapping can only be submitted while awaiting mapping (status %s)",
				session.ErrInvalidTransition, ss.Status)
		}
		sheet, err := primarySheet(ss)
		if err != nil {
			return err
		}
		if len(fields) != len(sheet.Headers) {
			return fmt.Errorf("%w: got %d, want %d", ErrMappingLength, len(fields), len(sheet.Headers))
		}
		rep := mapping.Validate(fields, s.cfg.MappingCoverageFloor)
		if !rep.Valid() {
			return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(rep.Errors, "; "))
		}
		for _, w := range rep.Warnings {
			ss.AddWarning(session.Message{At: s.now(), Text: w}, s.cfg.ErrorLogLimit)
		}

		ss.ColumnMapping = fields
		if err := ss.Transition(session.StatusDryRun, s.now()); err != nil {
			return err
		}
		return ss.SetProgress(20, "dry_run", "Mapping confirmed, validating sample")
	})
	if err != nil {
		return nil, err
	}

	logging.ForSession(ctx, id, "mapping").Info("column mapping submitted")
	s.publish(ctx, broadcast.TypeStatus, sess)
	return s.startStage(ctx, sess, StageDryRun)
}

// StartProcessing starts processing a session that is waiting after its dry run.
func (s *Service) StartProcessing(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.Update(ctx, id, func(ss *session.Session) error {
		if ss.Status != session.StatusDryRun {
			return fmt.Errorf("%w: processing can only start after the dry run (status %s)",
				session.ErrInvalidTransition, ss.Status)
		}
		if ss.DryRunResults == nil {
			return ErrDryRunPending
		}
		if err := ss.Transition(session.StatusProcessing, s.now()); err != nil {
			return err
		}
		return ss.SetProgress(30, "processing", "Starting import")
	})
	if err != nil {
		return nil, err
	}

	logging.ForSession(ctx, id, "processing").Info("processing started manually")
	s.publish(ctx, broadcast.TypeStatus, sess)
	return s.startStage(ctx, sess, StageProcess)
}

// Cancel stops a running import. Chunks already committed stay in the catalog.
func (s *Service) Cancel(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.store.Update(ctx, id, func(ss *session.Session) error {
		return ss.Cancel(s.now())
	})
	if err != nil {
		return nil, err
	}

	logging.ForSession(ctx, id, sess.CurrentStage).Info("import cancelled")
	s.publish(ctx, broadcast.TypeStatus, sess)
	s.notify(ctx, notify.EventCancelled, sess)
	return sess, nil
}

// Retry starts a new session with the file and configuration of a failed
// or cancelled one. The original session is not changed.
func (s *Service) Retry(ctx context.Context, id string) (*session.Session, error) {
	orig, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	retry, err := orig.NewRetry(uuid.NewString(), s.now())
	if err != nil {
		return nil, err
	}

	if err := s.copyArtifact(ctx, orig, retry); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, retry); err != nil {
		s.artifacts.Delete(context.WithoutCancel(ctx), retry.File.StoragePath)
		return nil, fmt.Errorf("create session: %w", err)
	}

	logging.ForSession(ctx, retry.ID, "upload").Info("import retried", "retry_of", orig.ID)
	s.notify(ctx, notify.EventCreated, retry)
	s.publish(ctx, broadcast.TypeStatus, retry)
	return s.startStage(ctx, retry, StageAnalyze)
}

func (s *Service) copyArtifact(ctx context.Context, orig, retry *session.Session) error {
	if orig.ArtifactPurgedAt != nil {
		return fmt.Errorf("retry %s: %w", orig.ID, storage.ErrNotFound)
	}
	rc, err := s.artifacts.Open(ctx, orig.File.StoragePath)
	if err != nil {
		return fmt.Errorf("retry %s: %w", orig.ID, err)
	}
	defer rc.Close()

	obj, err := s.artifacts.Save(ctx, storage.Key(retry.ID, orig.File.Name), rc)
	if err != nil {
		return fmt.Errorf("copy upload: %w", err)
	}
	retry.File.StoragePath = obj.Key
	return nil
}

// Report returns the final report, or a partial one for sessions that did
// not complete.
func (s *Service) Report(ctx context.Context, id string) (*report.Report, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.FinalResults != nil {
		return sess.FinalResults, nil
	}
	rep := s.buildReport(sess, s.now())
	return &rep, nil
}

// Subscribe follows a session's progress. The current state is delivered first.
func (s *Service) Subscribe(ctx context.Context, id string) (*broadcast.Subscription, error) {
	if s.hub == nil {
		return nil, ErrStreamingUnavailable
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	current := broadcast.FromSession(broadcast.TypeStatus, sess, s.now())
	sub := s.hub.Subscribe(id, &current)
	if current.Terminal() {
		return sub, nil
	}

	// The terminal event may have been published between the read and the
	// registration. Re-read so the subscriber never waits on a finished session.
	latest, err := s.store.Get(ctx, id)
	if err != nil {
		sub.Close()
		return nil, err
	}
	if !latest.IsTerminal() {
		return sub, nil
	}
	sub.Close()
	final := broadcast.FromSession(broadcast.TypeTerminal, latest, s.now())
	return s.hub.Subscribe(id, &final), nil
}

// HandleTask runs one stage. It is the queue handler.
func (s *Service) HandleTask(ctx context.Context, t queue.Task) error {
	log := logging.ForSession(ctx, t.SessionID, t.Stage)

	sess, err := s.store.Get(ctx, t.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		log.Warn("task for unknown session dropped")
		return nil
	}
	if err != nil {
		return queue.Transient(fmt.Errorf("load session: %w", err))
	}
	if sess.IsTerminal() {
		log.Debug("session already finished, task ignored", "status", sess.Status)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.stageTimeout(sess))
	defer cancel()

	start := time.Now()
	log.Info("stage started", "attempt", t.Attempt)

	switch t.Stage {
	case StageAnalyze:
		err = s.analyze(ctx, sess)
	case StageDryRun:
		err = s.dryRun(ctx, sess)
	case StageProcess:
		err = s.process(ctx, sess)
	case StageFinalize:
		err = s.finalize(ctx, sess)
	default:
		err = fmt.Errorf("unknown stage %q", t.Stage)
	}

	if errors.Is(err, session.ErrTerminal) {
		log.Info("session finished while the stage ran", "error", err)
		return nil
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !queue.IsTransient(err) {
			err = fmt.Errorf("%s stage exceeded the time limit of %s: %w", t.Stage, s.stageTimeout(sess), err)
		}
		return err
	}
	log.Info("stage finished", "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// GiveUp fails the session of a task that will not run again.
func (s *Service) GiveUp(ctx context.Context, t queue.Task, err error) {
	diag := fmt.Sprintf("stage %s, attempt %d: %s", t.Stage, t.Attempt+1, FormatUserError(err))
	if ferr := s.fail(ctx, t.SessionID, err.Error(), diag); ferr != nil {
		logging.ForSession(ctx, t.SessionID, t.Stage).Error("could not mark session failed", "error", ferr, "cause", err)
	}
}

func (s *Service) fail(ctx context.Context, id, reason, diag string) error {
	sess, err := s.store.Update(ctx, id, func(ss *session.Session) error {
		return ss.Fail(reason, diag, s.now())
	})
	if errors.Is(err, session.ErrTerminal) || errors.Is(err, session.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	logging.ForSession(ctx, id, sess.CurrentStage).Error("import failed", "reason", reason)
	s.publish(ctx, broadcast.TypeStatus, sess)
	s.notify(ctx, notify.EventFailed, sess)
	return nil
}

func (s *Service) stageTimeout(sess *session.Session) time.Duration {
	minutes := sess.Configuration.MaxProcessingMinutes
	if minutes <= 0 {
		minutes = s.cfg.DefaultMaxMinutes
	}
	if minutes > s.cfg.MaxProcessingMinutes {
		minutes = s.cfg.MaxProcessingMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// startStage enqueues the first stage of a user action and returns the
// session as it stands afterwards.
func (s *Service) startStage(ctx context.Context, sess *session.Session, stage string) (*session.Session, error) {
	if err := s.enqueue(ctx, sess, stage); err != nil {
		return nil, fmt.Errorf("schedule %s: %w", stage, err)
	}
	latest, err := s.store.Get(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// enqueue schedules stage for sess. Background sessions go to the attached
// queue; everything else drains inline.
func (s *Service) enqueue(ctx context.Context, sess *session.Session, stage string) error {
	t := queue.NewTask(sess.ID, stage)

	if q := inlineFromContext(ctx); q != nil {
		return q.Enqueue(ctx, t)
	}

	s.mu.RLock()
	q := s.queue
	s.mu.RUnlock()
	if sess.Configuration.Background && q != nil {
		return q.Enqueue(ctx, t)
	}

	inline := queue.NewInline(s.QueueOptions(queue.Options{MaxRetries: s.cfg.TaskRetries}))
	runCtx := withInline(ctx, inline)
	if err := inline.Start(runCtx, s.HandleTask); err != nil {
		return err
	}
	return inline.Enqueue(runCtx, t)
}

// update applies fn and publishes the resulting state.
func (s *Service) update(ctx context.Context, id, eventType string, fn session.UpdateFunc) (*session.Session, error) {
	sess, err := s.store.Update(ctx, id, fn)
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			return nil, queue.Transient(err)
		}
		return nil, err
	}
	s.publish(ctx, eventType, sess)
	return sess, nil
}

func (s *Service) publish(ctx context.Context, eventType string, sess *session.Session) {
	s.publisher.Publish(ctx, broadcast.FromSession(eventType, sess, s.now()))
}

func (s *Service) notify(ctx context.Context, eventType string, sess *session.Session) {
	if s.notifier == nil {
		return
	}
	e := notify.NewEvent(eventType, sess.ID, s.now())
	e.UserID = sess.UserID
	e.FileName = sess.File.Name
	e.Status = string(sess.Status)
	e.TotalRows = sess.TotalRows
	e.Processed = sess.Counts.Processed
	e.Successful = sess.Counts.Successful
	e.Failed = sess.Counts.Failed
	e.Skipped = sess.Counts.Skipped
	e.Reason = sess.FailureReason
	if eventType == notify.EventCompleted {
		changes := sess.Changes
		e.Catalog = &changes
	}
	s.notifier.Dispatch(ctx, e)
}

func (s *Service) buildReport(sess *session.Session, now time.Time) report.Report {
	in := report.Input{
		Status: string(sess.Status),
		Counts: report.Counts{
			Total:      sess.TotalRows,
			Processed:  sess.Counts.Processed,
			Successful: sess.Counts.Successful,
			Failed:     sess.Counts.Failed,
			Skipped:    sess.Counts.Skipped,
		},
		Catalog:      sess.Changes,
		ErrorCount:   len(sess.Errors),
		WarningCount: len(sess.Warnings),
		ChunkSize:    sess.Configuration.ChunkSize,
	}
	switch {
	case sess.ProcessingStartedAt != nil:
		in.StartedAt = *sess.ProcessingStartedAt
	case sess.StartedAt != nil:
		in.StartedAt = *sess.StartedAt
	}
	if sess.CompletedAt != nil {
		in.CompletedAt = *sess.CompletedAt
	}
	if sess.DryRunResults != nil {
		in.QualityScore = sess.DryRunResults.QualityScore
	}
	return report.Build(in, now)
}

// primarySheet returns the sheet the session imports.
func primarySheet(sess *session.Session) (analyzer.Sheet, error) {
	if sess.FileAnalysis == nil {
		return analyzer.Sheet{}, fmt.Errorf("%w: file has not been analyzed yet", session.ErrInvalidTransition)
	}
	return sess.FileAnalysis.Primary(sess.Configuration.SheetName)
}

func normalizeMapping(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = strings.ToLower(strings.TrimSpace(f))
	}
	return out
}
