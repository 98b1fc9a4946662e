package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS import_sessions (
	id          UUID PRIMARY KEY,
	user_id     TEXT NOT NULL,
	status      TEXT NOT NULL,
	version     BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	document    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS import_sessions_status_updated_idx ON import_sessions (status, updated_at);
CREATE INDEX IF NOT EXISTS import_sessions_user_idx ON import_sessions (user_id, created_at DESC);
`

// PostgresStore persists sessions as JSONB documents with indexed status,
// owner and timestamps. The version column implements compare-and-swap.
type PostgresStore struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresStore wraps a pool or transaction.
func NewPostgresStore(db DBTX) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// Migrate creates the sessions table if it does not exist.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate import_sessions: %w", err)
	}
	return nil
}

// Create inserts a new session at version 1.
func (p *PostgresStore) Create(ctx context.Context, s *Session) error {
	s.Version = 1
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = p.now()
	}
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	_, err = p.db.Exec(ctx, `
		INSERT INTO import_sessions (id, user_id, status, version, created_at, updated_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, string(s.Status), s.Version, s.CreatedAt, s.UpdatedAt, doc,
	)
	if err != nil {
		return fmt.Errorf("insert session %s: %w", s.ID, err)
	}
	return nil
}

// Get loads one session.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	var doc []byte
	var version int64
	err := p.db.QueryRow(ctx,
		`SELECT document, version FROM import_sessions WHERE id = $1`, id,
	).Scan(&doc, &version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	s, err := decode(doc)
	if err != nil {
		return nil, err
	}
	s.Version = version
	return s, nil
}

// Update applies fn and writes the result only if the stored version is unchanged.
func (p *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Session, error) {
	for attempt := 0; attempt < MaxUpdateAttempts; attempt++ {
		s, err := p.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		loaded := s.Version

		if err := fn(s); err != nil {
			return nil, err
		}

		s.Version = loaded + 1
		s.UpdatedAt = p.now()
		doc, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("encode session: %w", err)
		}

		tag, err := p.db.Exec(ctx, `
			UPDATE import_sessions
			SET status = $3, version = $4, updated_at = $5, document = $6
			WHERE id = $1 AND version = $2`,
			id, loaded, string(s.Status), s.Version, s.UpdatedAt, doc,
		)
		if err != nil {
			return nil, fmt.Errorf("update session %s: %w", id, err)
		}
		if tag.RowsAffected() == 1 {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrConflict, id)
}

// List returns matching sessions, newest first.
func (p *PostgresStore) List(ctx context.Context, f Filter) ([]*Session, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if !f.UpdatedBefore.IsZero() {
		args = append(args, f.UpdatedBefore)
		where = append(where, fmt.Sprintf("updated_at < $%d", len(args)))
	}

	query := "SELECT document, version FROM import_sessions"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		var doc []byte
		var version int64
		if err := rows.Scan(&doc, &version); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s, err := decode(doc)
		if err != nil {
			return nil, err
		}
		s.Version = version
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}
