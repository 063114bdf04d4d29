// Package history persists finished playback runs to PostgreSQL.
//
// [Store] owns the schema and queries. [Recorder] sits between the playback
// control goroutine and the store: it accepts finish events without
// blocking, and a background goroutine writes them through a circuit breaker.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/framecast/pkg/anim"
)

// Schema creates the animation_runs table. [Store.Migrate] applies it.
const Schema = `
CREATE TABLE IF NOT EXISTS animation_runs (
    id          UUID PRIMARY KEY,
    session     TEXT NOT NULL,
    animation   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    channel     TEXT NOT NULL,
    outcome     TEXT NOT NULL,
    witnesses   JSONB NOT NULL DEFAULT '[]',
    started_at  TIMESTAMPTZ NOT NULL,
    finished_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_animation_runs_finished ON animation_runs(finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_animation_runs_animation ON animation_runs(animation);
`

// Run is one finished session.
type Run struct {
	ID         string           `json:"id"`
	Session    string           `json:"session"`
	Animation  string           `json:"animation"`
	Kind       anim.Kind        `json:"kind"`
	Channel    anim.Channel     `json:"channel"`
	Outcome    string           `json:"outcome"`
	Witnesses  []anim.Recipient `json:"witnesses"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
}

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store reads and writes runs.
type Store struct {
	db   DB
	pool *pgxpool.Pool
}

// Open connects to dsn, verifies the connection and applies [Schema].
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}
	s := &Store{db: pool, pool: pool}
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection or pool. The caller runs Migrate.
func NewStore(db DB) *Store {
	s := &Store{db: db}
	if p, ok := db.(*pgxpool.Pool); ok {
		s.pool = p
	}
	return s
}

// Migrate applies [Schema].
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Insert writes run.
func (s *Store) Insert(ctx context.Context, run Run) error {
	witnesses := run.Witnesses
	if witnesses == nil {
		witnesses = []anim.Recipient{}
	}
	raw, err := json.Marshal(witnesses)
	if err != nil {
		return fmt.Errorf("history: marshal witnesses: %w", err)
	}
	const query = `
		INSERT INTO animation_runs (id, session, animation, kind, channel, outcome, witnesses, started_at, finished_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = s.db.Exec(ctx, query,
		run.ID, run.Session, run.Animation, string(run.Kind), string(run.Channel), run.Outcome,
		raw, run.StartedAt, run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert run %s: %w", run.ID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, session, animation, kind, channel, outcome, witnesses, started_at, finished_at
		FROM animation_runs
		ORDER BY finished_at DESC
		LIMIT $1`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run        Run
			kind, ch   string
			witnessRaw []byte
		)
		if err := rows.Scan(&run.ID, &run.Session, &run.Animation, &kind, &ch, &run.Outcome,
			&witnessRaw, &run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		run.Kind, run.Channel = anim.Kind(kind), anim.Channel(ch)
		if err := json.Unmarshal(witnessRaw, &run.Witnesses); err != nil {
			return nil, fmt.Errorf("history: unmarshal witnesses of %s: %w", run.ID, err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	return out, nil
}

// Check pings the pool, if there is one.
func (s *Store) Check(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("history: ping: %w", err)
	}
	return nil
}

// Close releases the pool opened by [Open].
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}
