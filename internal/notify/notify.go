// Package notify sends import lifecycle events to downstream systems and
// asks the search index to refresh after a completed import. Delivery is
// fire-and-forget: failures are logged and never affect the import.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/report"
)

// Lifecycle event types.
const (
	EventCreated   = "import.created"
	EventCompleted = "import.completed"
	EventFailed    = "import.failed"
	EventCancelled = "import.cancelled"
)

// Event describes a lifecycle change of one import session.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	SessionID  string          `json:"session_id"`
	UserID     string          `json:"user_id,omitempty"`
	FileName   string          `json:"file_name,omitempty"`
	Status     string          `json:"status"`
	TotalRows  int             `json:"total_rows"`
	Processed  int             `json:"processed"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Catalog    *report.Catalog `json:"catalog,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(typ, sessionID string, now time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		SessionID:  sessionID,
		OccurredAt: now,
	}
}

// Notifier delivers lifecycle events.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// Indexer refreshes the search index for an import's products.
type Indexer interface {
	Refresh(ctx context.Context, e Event) error
}

// Dispatcher fans events out to notifiers in the background.
type Dispatcher struct {
	notifiers []Notifier
	indexer   Indexer
	timeout   time.Duration
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. indexer may be nil.
func NewDispatcher(notifiers []Notifier, indexer Indexer, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		notifiers: notifiers,
		indexer:   indexer,
		timeout:   timeout,
		logger:    logger,
	}
}

// Dispatch sends e without waiting. Completed imports also trigger a search
// index refresh.
func (d *Dispatcher) Dispatch(ctx context.Context, e Event) {
	if d == nil {
		return
	}
	base := context.WithoutCancel(ctx)

	for _, n := range d.notifiers {
		d.run(base, e, "notify", n.Notify)
	}
	if e.Type == EventCompleted && d.indexer != nil {
		d.run(base, e, "search refresh", d.indexer.Refresh)
	}
}

func (d *Dispatcher) run(base context.Context, e Event, what string, fn func(context.Context, Event) error) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		if err := fn(ctx, e); err != nil {
			d.logger.Warn(what+" failed", "event", e.Type, "session_id", e.SessionID, "error", err)
		}
	}()
}

// Wait blocks until all in-flight deliveries finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	if d == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close waits for deliveries and closes notifiers that hold connections.
func (d *Dispatcher) Close(ctx context.Context) error {
	if d == nil {
		return nil
	}
	errs := []error{d.Wait(ctx)}
	for _, n := range d.notifiers {
		if c, ok := n.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
