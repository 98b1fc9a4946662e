// Package session holds the import session aggregate: configuration, progress
// counters, stage results and the state machine that guards every mutation.
//
// A Session is plain data. All writes go through Store.Update, which applies a
// mutation function and saves it with a version compare-and-swap, so two
// workers can never silently overwrite each other's progress.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/analyzer"
	"github.com/JonMunkholm/catalogimport/internal/report"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusInitializing    Status = "initializing"
	StatusAnalyzingFile   Status = "analyzing_file"
	StatusAwaitingMapping Status = "awaiting_mapping"
	StatusDryRun          Status = "dry_run"
	StatusProcessing      Status = "processing"
	StatusFinalizing      Status = "finalizing"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// CancelReason is recorded when a user cancels an import.
const CancelReason = "cancelled by user"

var (
	// ErrTerminal is returned when mutating a completed, failed or cancelled session.
	ErrTerminal = errors.New("session is in a terminal state")

	// ErrInvalidTransition is returned for a status change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid session status transition")

	// ErrRowOverflow is returned when counters would exceed the total row count.
	ErrRowOverflow = errors.New("processed rows would exceed total rows")

	// ErrNotRetryable is returned when retrying a session that did not fail or get cancelled.
	ErrNotRetryable = errors.New("only failed or cancelled imports can be retried")
)

// forward lists the non-terminal successors of each state.
// failed and cancelled are reachable from every non-terminal state.
var forward = map[Status][]Status{
	StatusInitializing:    {StatusAnalyzingFile},
	StatusAnalyzingFile:   {StatusAwaitingMapping, StatusDryRun},
	StatusAwaitingMapping: {StatusDryRun},
	StatusDryRun:          {StatusProcessing},
	StatusProcessing:      {StatusFinalizing},
	StatusFinalizing:      {StatusCompleted},
}

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to Status) bool {
	if from.IsTerminal() {
		return false
	}
	if to == StatusFailed || to == StatusCancelled {
		return true
	}
	for _, next := range forward[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FileInfo describes the uploaded artifact.
type FileInfo struct {
	Name        string            `json:"name"`
	StoragePath string            `json:"storage_path"`
	Type        analyzer.FileType `json:"type"`
	Size        int64             `json:"size"`
	SHA256      string            `json:"sha256"`
}

// Counts holds row outcome counters. It doubles as a delta for ApplyCounts.
type Counts struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

// Add returns the sum of two counters.
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Processed:  c.Processed + o.Processed,
		Successful: c.Successful + o.Successful,
		Failed:     c.Failed + o.Failed,
		Skipped:    c.Skipped + o.Skipped,
	}
}

// Balanced reports whether every processed row has exactly one outcome.
func (c Counts) Balanced() bool {
	return c.Successful+c.Failed+c.Skipped == c.Processed
}

// Message is a timestamped error or warning. Row is 0 for session-level messages.
type Message struct {
	At   time.Time `json:"at"`
	Row  int       `json:"row,omitempty"`
	Text string    `json:"text"`
}

// Session is the persistent record of one import run.
type Session struct {
	ID      string   `json:"id"`
	UserID  string   `json:"user_id"`
	File    FileInfo `json:"file"`
	RetryOf string   `json:"retry_of,omitempty"`

	Status             Status `json:"status"`
	CurrentStage       string `json:"current_stage"`
	CurrentOperation   string `json:"current_operation"`
	ProgressPercentage int    `json:"progress_percentage"`

	TotalRows int            `json:"total_rows"`
	Counts    Counts         `json:"counts"`
	Changes   report.Catalog `json:"changes"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`

	Configuration Configuration      `json:"configuration"`
	ColumnMapping []string           `json:"column_mapping,omitempty"`
	FileAnalysis  *analyzer.Analysis `json:"file_analysis,omitempty"`
	DryRunResults *DryRunResults     `json:"dry_run_results,omitempty"`
	FinalResults  *FinalResults      `json:"final_results,omitempty"`

	Errors          []Message `json:"errors"`
	Warnings        []Message `json:"warnings"`
	DroppedMessages int       `json:"dropped_messages,omitempty"`

	FailureReason string `json:"failure_reason,omitempty"`
	Diagnostic    string `json:"diagnostic,omitempty"`

	ArtifactPurgedAt *time.Time `json:"artifact_purged_at,omitempty"`

	Version int64 `json:"version"`
}

// New creates a session in the initializing state.
func New(id, userID string, file FileInfo, cfg Configuration, now time.Time) *Session {
	return &Session{
		ID:               id,
		UserID:           userID,
		File:             file,
		Status:           StatusInitializing,
		CurrentStage:     "upload",
		CurrentOperation: "Waiting for analysis",
		CreatedAt:        now,
		UpdatedAt:        now,
		Configuration:    cfg,
		Errors:           []Message{},
		Warnings:         []Message{},
	}
}

// IsTerminal reports whether the session can no longer change.
func (s *Session) IsTerminal() bool {
	return s.Status.IsTerminal()
}

// AwaitingUser reports whether the session is parked on a decision: mapping
// review, or a dry run that did not auto-advance.
func (s *Session) AwaitingUser() bool {
	switch s.Status {
	case StatusAwaitingMapping:
		return true
	case StatusDryRun:
		return s.DryRunResults != nil
	}
	return false
}

// Transition moves the session to a new status if the state machine allows it.
func (s *Session) Transition(to Status, now time.Time) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.Status)
	}
	if !CanTransition(s.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, to)
	}

	switch to {
	case StatusAnalyzingFile:
		s.StartedAt = timePtr(now)
	case StatusProcessing:
		s.ProcessingStartedAt = timePtr(now)
	case StatusCompleted, StatusFailed, StatusCancelled:
		s.CompletedAt = timePtr(now)
	}
	if to == StatusCompleted {
		s.ProgressPercentage = 100
	}

	s.Status = to
	return nil
}

// SetProgress records the current stage description and percentage.
func (s *Session) SetProgress(pct int, stage, operation string) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.Status)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	s.ProgressPercentage = pct
	if stage != "" {
		s.CurrentStage = stage
	}
	s.CurrentOperation = operation
	return nil
}

// SetTotalRows fixes the row total. Only allowed before processing starts.
func (s *Session) SetTotalRows(total int) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.Status)
	}
	if s.Counts.Processed > 0 {
		return fmt.Errorf("%w: total rows cannot change after processing started", ErrInvalidTransition)
	}
	if total < 0 {
		total = 0
	}
	s.TotalRows = total
	return nil
}

// ApplyCounts adds a chunk's row outcomes to the session counters.
func (s *Session) ApplyCounts(delta Counts) error {
	if s.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, s.Status)
	}
	if !delta.Balanced() {
		return fmt.Errorf("unbalanced counters: %+v", delta)
	}
	next := s.Counts.Add(delta)
	if next.Processed > s.TotalRows {
		return fmt.Errorf("%w: %d > %d", ErrRowOverflow, next.Processed, s.TotalRows)
	}
	s.Counts = next
	return nil
}

// AddError appends an error message, dropping it once limit messages are stored.
// A limit <= 0 means unlimited.
func (s *Session) AddError(msg Message, limit int) {
	if limit > 0 && len(s.Errors) >= limit {
		s.DroppedMessages++
		return
	}
	s.Errors = append(s.Errors, msg)
}

// AddWarning appends a warning message with the same limit policy as AddError.
func (s *Session) AddWarning(msg Message, limit int) {
	if limit > 0 && len(s.Warnings) >= limit {
		s.DroppedMessages++
		return
	}
	s.Warnings = append(s.Warnings, msg)
}

// Fail moves the session to failed. Counters are kept as they are.
func (s *Session) Fail(reason, diagnostic string, now time.Time) error {
	if err := s.Transition(StatusFailed, now); err != nil {
		return err
	}
	s.FailureReason = reason
	s.Diagnostic = diagnostic
	s.CurrentOperation = "Failed"
	s.Errors = append(s.Errors, Message{At: now, Text: reason})
	return nil
}

// Cancel moves the session to cancelled. Already committed chunks stay committed.
func (s *Session) Cancel(now time.Time) error {
	if err := s.Transition(StatusCancelled, now); err != nil {
		return err
	}
	s.FailureReason = CancelReason
	s.CurrentOperation = "Cancelled"
	return nil
}

// NewRetry clones the configuration and file of a failed or cancelled session
// into a brand new session. The original is left untouched.
func (s *Session) NewRetry(id string, now time.Time) (*Session, error) {
	if s.Status != StatusFailed && s.Status != StatusCancelled {
		return nil, fmt.Errorf("%w: status is %s", ErrNotRetryable, s.Status)
	}
	retry := New(id, s.UserID, s.File, s.Configuration, now)
	retry.RetryOf = s.ID
	return retry, nil
}

// ProcessingTime is the elapsed time since processing started, up to completion.
func (s *Session) ProcessingTime(now time.Time) time.Duration {
	start := s.ProcessingStartedAt
	if start == nil {
		start = s.StartedAt
	}
	if start == nil {
		return 0
	}
	end := now
	if s.CompletedAt != nil {
		end = *s.CompletedAt
	}
	if end.Before(*start) {
		return 0
	}
	return end.Sub(*start)
}

// RowsPerSecond is processed rows divided by processing time.
func (s *Session) RowsPerSecond(now time.Time) float64 {
	if s.ProcessingStartedAt == nil {
		return 0
	}
	elapsed := s.ProcessingTime(now).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.Counts.Processed) / elapsed
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() (*Session, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("clone session: %w", err)
	}
	var out Session
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone session: %w", err)
	}
	return &out, nil
}

// View is the status query response: the session plus derived throughput.
type View struct {
	*Session
	ProcessingSeconds float64 `json:"processing_seconds"`
	RowsPerSecond     float64 `json:"rows_per_second"`
}

// Snapshot returns the polling view of the session at now.
func (s *Session) Snapshot(now time.Time) View {
	return View{
		Session:           s,
		ProcessingSeconds: s.ProcessingTime(now).Seconds(),
		RowsPerSecond:     s.RowsPerSecond(now),
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
