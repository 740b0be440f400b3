// Package calllog provides the PostgreSQL-backed call archive for voxdesk.
//
// Every finished voice session is persisted as one call row plus its ordered
// transcript entries. The archive is write-mostly: the edge server inserts a
// record when a session ends and the receptionist dashboard reads it back
// later.
package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/voxdesk/voxdesk/internal/session"
)

// Compile-time interface check.
var _ session.Archiver = (*Store)(nil)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    session_id          TEXT         PRIMARY KEY,
    started_at          TIMESTAMPTZ  NOT NULL,
    ended_at            TIMESTAMPTZ  NOT NULL,
    latency_ms          BIGINT       NOT NULL DEFAULT 0,
    reconnect_attempts  BIGINT       NOT NULL DEFAULT 0,
    interruptions       BIGINT       NOT NULL DEFAULT 0,
    archived_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_calls_started_at
    ON calls (started_at);

CREATE TABLE IF NOT EXISTS call_transcripts (
    session_id  TEXT    NOT NULL REFERENCES calls (session_id) ON DELETE CASCADE,
    seq         INT     NOT NULL,
    entry_id    INT     NOT NULL,
    speaker     TEXT    NOT NULL,
    text        TEXT    NOT NULL,
    PRIMARY KEY (session_id, seq)
);
`

// Store is the PostgreSQL-backed call archive. It holds a single
// [pgxpool.Pool]; all operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the PostgreSQL database at dsn and runs [Migrate] to
// ensure the archive tables exist.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("calllog: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("calllog: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate creates the archive tables if they do not exist. Idempotent and
// safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlCalls); err != nil {
		return fmt.Errorf("calllog migrate: %w", err)
	}
	return nil
}

// Archive implements [session.Archiver]. The call row and its transcript
// entries are written in a single transaction; re-archiving the same session
// replaces the earlier record.
func (s *Store) Archive(ctx context.Context, rec session.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("calllog: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertCall = `
		INSERT INTO calls
		    (session_id, started_at, ended_at, latency_ms, reconnect_attempts, interruptions)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id) DO UPDATE SET
		    started_at         = EXCLUDED.started_at,
		    ended_at           = EXCLUDED.ended_at,
		    latency_ms         = EXCLUDED.latency_ms,
		    reconnect_attempts = EXCLUDED.reconnect_attempts,
		    interruptions      = EXCLUDED.interruptions,
		    archived_at        = now()`

	_, err = tx.Exec(ctx, insertCall,
		rec.SessionID,
		rec.StartedAt,
		rec.EndedAt,
		rec.Diagnostics.LatencyMs,
		rec.Diagnostics.ReconnectAttempts,
		rec.Diagnostics.Interruptions,
	)
	if err != nil {
		return fmt.Errorf("calllog: insert call: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM call_transcripts WHERE session_id = $1`, rec.SessionID); err != nil {
		return fmt.Errorf("calllog: clear transcript: %w", err)
	}

	const insertEntry = `
		INSERT INTO call_transcripts (session_id, seq, entry_id, speaker, text)
		VALUES ($1, $2, $3, $4, $5)`
	for i, e := range rec.Transcript {
		if _, err := tx.Exec(ctx, insertEntry, rec.SessionID, i, e.ID, e.Speaker, e.Text); err != nil {
			return fmt.Errorf("calllog: insert transcript entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("calllog: commit: %w", err)
	}
	return nil
}

// Call is one archived call as read back from the store.
type Call struct {
	SessionID         string
	StartedAt         time.Time
	EndedAt           time.Time
	LatencyMs         int64
	ReconnectAttempts int
	Interruptions     int
	Transcript        []session.TranscriptEntry
}

// Get returns the archived call for sessionID, including its transcript in
// order. Returns [pgx.ErrNoRows] when the session was never archived.
func (s *Store) Get(ctx context.Context, sessionID string) (Call, error) {
	const q = `
		SELECT session_id, started_at, ended_at, latency_ms, reconnect_attempts, interruptions
		FROM   calls
		WHERE  session_id = $1`

	var c Call
	err := s.pool.QueryRow(ctx, q, sessionID).Scan(
		&c.SessionID, &c.StartedAt, &c.EndedAt,
		&c.LatencyMs, &c.ReconnectAttempts, &c.Interruptions,
	)
	if err != nil {
		return Call{}, fmt.Errorf("calllog: get call: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT entry_id, speaker, text
		FROM   call_transcripts
		WHERE  session_id = $1
		ORDER  BY seq`, sessionID)
	if err != nil {
		return Call{}, fmt.Errorf("calllog: get transcript: %w", err)
	}
	c.Transcript, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (session.TranscriptEntry, error) {
		var e session.TranscriptEntry
		err := row.Scan(&e.ID, &e.Speaker, &e.Text)
		return e, err
	})
	if err != nil {
		return Call{}, fmt.Errorf("calllog: scan transcript: %w", err)
	}
	return c, nil
}

// Recent returns up to limit archived calls ordered newest first, without
// transcripts.
func (s *Store) Recent(ctx context.Context, limit int) ([]Call, error) {
	const q = `
		SELECT session_id, started_at, ended_at, latency_ms, reconnect_attempts, interruptions
		FROM   calls
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("calllog: recent: %w", err)
	}
	calls, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Call, error) {
		var c Call
		err := row.Scan(&c.SessionID, &c.StartedAt, &c.EndedAt,
			&c.LatencyMs, &c.ReconnectAttempts, &c.Interruptions)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("calllog: scan calls: %w", err)
	}
	if calls == nil {
		calls = []Call{}
	}
	return calls, nil
}

// Ping reports whether the database is reachable. Used by the readiness
// probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() {
	s.pool.Close()
}
