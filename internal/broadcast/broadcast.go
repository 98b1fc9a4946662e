// Package broadcast delivers session progress events to live subscribers.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/session"
)

// Event types.
const (
	TypeStatus   = "status"
	TypeProgress = "progress"
	TypeChunk    = "chunk"
	TypeTerminal = "terminal"
)

// Event is one progress update for a session.
type Event struct {
	Type       string         `json:"type"`
	SessionID  string         `json:"session_id"`
	Status     session.Status `json:"status"`
	Stage      string         `json:"stage"`
	Operation  string         `json:"operation"`
	Percentage int            `json:"percentage"`
	TotalRows  int            `json:"total_rows"`
	Counts     session.Counts `json:"counts"`
	Message    string         `json:"message,omitempty"`
	At         time.Time      `json:"at"`
}

// Terminal reports whether no further events follow for the session.
func (e Event) Terminal() bool {
	return e.Status.IsTerminal()
}

// FromSession builds an event describing the current state of s.
func FromSession(typ string, s *session.Session, now time.Time) Event {
	if s.IsTerminal() {
		typ = TypeTerminal
	}
	msg := ""
	if s.Status == session.StatusFailed || s.Status == session.StatusCancelled {
		msg = s.FailureReason
	}
	return Event{
		Type:       typ,
		SessionID:  s.ID,
		Status:     s.Status,
		Stage:      s.CurrentStage,
		Operation:  s.CurrentOperation,
		Percentage: s.ProgressPercentage,
		TotalRows:  s.TotalRows,
		Counts:     s.Counts,
		Message:    msg,
		At:         now,
	}
}

// Publisher sends events somewhere. Publish must not block on slow readers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logged wraps p so failures are logged instead of returned. Progress events
// are best effort and never fail a stage.
func Logged(p Publisher, logger *slog.Logger) Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &logged{next: p, logger: logger}
}

type logged struct {
	next   Publisher
	logger *slog.Logger
}

func (l *logged) Publish(ctx context.Context, e Event) error {
	if err := l.next.Publish(ctx, e); err != nil {
		l.logger.Warn("progress event not delivered", "session_id", e.SessionID, "type", e.Type, "error", err)
	}
	return nil
}
