package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no session has the given ID.
	ErrNotFound = errors.New("import session not found")

	// ErrConflict is returned when an update keeps losing the version race.
	ErrConflict = errors.New("import session was modified concurrently")
)

// MaxUpdateAttempts bounds compare-and-swap retries in Update.
const MaxUpdateAttempts = 5

// UpdateFunc mutates a session loaded by Store.Update. Returning an error
// aborts the update and nothing is saved.
type UpdateFunc func(s *Session) error

// Filter selects sessions for List. Zero values match everything.
type Filter struct {
	UserID        string
	Statuses      []Status
	UpdatedBefore time.Time
	Limit         int
}

// Store persists sessions.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)

	// Update loads the session, applies fn and saves it only if the version
	// has not changed since the load. On conflict it reloads and reapplies fn.
	Update(ctx context.Context, id string, fn UpdateFunc) (*Session, error)

	List(ctx context.Context, f Filter) ([]*Session, error)
}

// MemoryStore keeps sessions as serialized documents so callers never share
// memory with the stored copy.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	versions map[string]int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		versions: make(map[string]int64),
		now:      time.Now,
	}
}

// WithClock replaces the clock used for UpdatedAt.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// Create stores a new session.
func (m *MemoryStore) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[s.ID]; exists {
		return fmt.Errorf("create session %s: already exists", s.ID)
	}

	s.Version = 1
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = m.now()
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	m.sessions[s.ID] = data
	m.versions[s.ID] = s.Version
	return nil
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	data, ok := m.sessions[id]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decode(data)
}

// Update applies fn with optimistic concurrency. fn runs without holding the lock.
func (m *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Session, error) {
	for attempt := 0; attempt < MaxUpdateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		loaded := s.Version

		if err := fn(s); err != nil {
			return nil, err
		}

		m.mu.Lock()
		if m.versions[id] != loaded {
			m.mu.Unlock()
			continue
		}
		s.Version = loaded + 1
		s.UpdatedAt = m.now()
		data, err := json.Marshal(s)
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("encode session: %w", err)
		}
		m.sessions[id] = data
		m.versions[id] = s.Version
		m.mu.Unlock()
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, id)
}

// List returns matching sessions, newest first.
func (m *MemoryStore) List(_ context.Context, f Filter) ([]*Session, error) {
	m.mu.RLock()
	docs := make([][]byte, 0, len(m.sessions))
	for _, data := range m.sessions {
		docs = append(docs, data)
	}
	m.mu.RUnlock()

	var out []*Session
	for _, data := range docs {
		s, err := decode(data)
		if err != nil {
			return nil, err
		}
		if f.matches(s) {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (f Filter) matches(s *Session) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if !f.UpdatedBefore.IsZero() && !s.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if s.Status == st {
			return true
		}
	}
	return false
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}

// NonTerminal lists every status a session can still leave.
func NonTerminal() []Status {
	return []Status{
		StatusInitializing,
		StatusAnalyzingFile,
		StatusAwaitingMapping,
		StatusDryRun,
		StatusProcessing,
		StatusFinalizing,
	}
}

// WorkerOwned lists the statuses in which a queued stage is expected to move
// the session forward. A parked dry run is still StatusDryRun; see AwaitingUser.
func WorkerOwned() []Status {
	return []Status{
		StatusInitializing,
		StatusAnalyzingFile,
		StatusDryRun,
		StatusProcessing,
		StatusFinalizing,
	}
}

// Terminal lists the statuses a session never leaves.
func Terminal() []Status {
	return []Status{StatusCompleted, StatusFailed, StatusCancelled}
}
