// Package history keeps an append-only SQLite log of temperature samples and
// supervisor transitions. It exists for after-the-fact inspection only and is
// strictly best-effort: the daemon logs and ignores write failures.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Sample is one recorded temperature reading.
type Sample struct {
	ID          int64
	Temperature float64
	RecordedAt  time.Time
}

// Transition is one recorded supervisor state change.
type Transition struct {
	ID         int64
	FromState  string
	ToState    string
	Reason     string
	RecordedAt time.Time
}

// Store is a SQLite-backed history log.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the history database at dbPath.
// Use ":memory:" for an in-memory database.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature REAL NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_recorded_at ON samples(recorded_at);
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		reason TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transitions_recorded_at ON transitions(recorded_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordSample appends a temperature reading.
func (s *Store) RecordSample(ctx context.Context, temperature float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO samples (temperature, recorded_at) VALUES (?, ?)",
		temperature, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// RecordTransition appends a state change.
func (s *Store) RecordTransition(ctx context.Context, from, to, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO transitions (from_state, to_state, reason, recorded_at) VALUES (?, ?, ?, ?)",
		from, to, reason, at.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	return nil
}

// SamplesSince returns samples recorded at or after the given time, oldest first.
func (s *Store) SamplesSince(ctx context.Context, since time.Time) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, temperature, recorded_at FROM samples WHERE recorded_at >= ? ORDER BY id",
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var sm Sample
		var ts int64
		if err := rows.Scan(&sm.ID, &sm.Temperature, &ts); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		sm.RecordedAt = time.Unix(ts, 0)
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return samples, nil
}

// TransitionsSince returns transitions recorded at or after the given time, oldest first.
func (s *Store) TransitionsSince(ctx context.Context, since time.Time) ([]Transition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, from_state, to_state, reason, recorded_at FROM transitions WHERE recorded_at >= ? ORDER BY id",
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var tr Transition
		var ts int64
		if err := rows.Scan(&tr.ID, &tr.FromState, &tr.ToState, &tr.Reason, &ts); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.RecordedAt = time.Unix(ts, 0)
		transitions = append(transitions, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return transitions, nil
}

// Ping checks database connectivity for health reporting.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
