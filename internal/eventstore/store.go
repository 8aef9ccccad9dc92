// Package eventstore journals orchestration runs and their state transitions
// in SQLite. In ephemeral mode nothing is written.
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-s2s/internal/config"
	"github.com/loqalabs/loqa-s2s/internal/pipeline"
	_ "modernc.org/sqlite"
)

// Run is the latest known state of one request.
type Run struct {
	RequestID string
	State     string
	ErrorKind string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event is one recorded transition.
type Event struct {
	ID        int64
	RequestID string
	From      string
	To        string
	ErrorKind string
	Error     string
	CreatedAt time.Time
}

// Store wraps a SQLite-backed run journal.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "eventstore"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("event store vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("event store prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    request_id TEXT PRIMARY KEY,
    state TEXT NOT NULL,
    error_kind TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    error_kind TEXT,
    error TEXT,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(request_id) REFERENCES runs(request_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_run_created ON events(request_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether transitions are persisted.
func (s *Store) Enabled() bool { return s.db != nil }

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record stores one transition and updates the run it belongs to.
func (s *Store) Record(ctx context.Context, evt Event) (err error) {
	if s.db == nil {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock()
	}
	at := evt.CreatedAt.UTC().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs(request_id, state, error_kind, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET state=excluded.state, error_kind=excluded.error_kind, updated_at=excluded.updated_at`,
		evt.RequestID, evt.To, evt.ErrorKind, at, at)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO events(request_id, from_state, to_state, error_kind, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?)`,
		evt.RequestID, evt.From, evt.To, evt.ErrorKind, evt.Error, at)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Observer journals every transition of the runs it is attached to. Write
// failures are logged and never fail the run.
func (s *Store) Observer(ctx context.Context) pipeline.Observer {
	return pipeline.ObserverFunc(func(t pipeline.Transition) {
		if s.db == nil {
			return
		}
		evt := Event{
			RequestID: t.RequestID,
			From:      t.From.String(),
			To:        t.To.String(),
			CreatedAt: t.At,
		}
		if t.Err != nil {
			evt.Error = t.Err.Error()
			evt.ErrorKind = pipeline.KindName(t.Err)
		}
		if err := s.Record(ctx, evt); err != nil {
			s.log.Warn("failed to journal transition", slog.String("request_id", t.RequestID), slog.String("error", err.Error()))
		}
	})
}

// ListRunEvents retrieves up to limit events for a run ordered by time.
func (s *Store) ListRunEvents(ctx context.Context, requestID string, limit int) ([]Event, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, from_state, to_state, COALESCE(error_kind, ''), COALESCE(error, ''), created_at
		 FROM events WHERE request_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var created int64
		if err := rows.Scan(&e.ID, &e.RequestID, &e.From, &e.To, &e.ErrorKind, &e.Error, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListRuns returns the most recently updated runs first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT request_id, state, COALESCE(error_kind, ''), created_at, updated_at
		 FROM runs ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var created, updated int64
		if err := rows.Scan(&r.RequestID, &r.State, &r.ErrorKind, &created, &updated); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(0, created).UTC()
		r.UpdatedAt = time.Unix(0, updated).UTC()
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour).UTC().UnixNano()
		if _, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE updated_at < ?`, cutoff); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM runs WHERE request_id IN (
			SELECT request_id FROM runs ORDER BY updated_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}
