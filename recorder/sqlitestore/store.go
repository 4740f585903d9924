// Package sqlitestore persists captured events in a SQLite database.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/glimte/hookmate/contracts"
	"github.com/glimte/hookmate/serialization"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
)

//go:embed schema.sql
var schemaSQL string

const insertSQL = `INSERT OR IGNORE INTO events
    (id, type, recorded_at, operation, target, method, duration_ns, error, payload)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Store is a contracts.Sink backed by SQLite. Writes are idempotent per event
// id, so a retried batch does not duplicate rows.
type Store struct {
	db         *sql.DB
	path       string
	serializer *serialization.JSONSerializer
}

// DefaultPath returns a fresh database file name in the working directory
func DefaultPath() string {
	return "hookmate_events_" + xid.New().String() + ".sqlite3"
}

// Open creates or opens the database at path. An empty path uses DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath()
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{db: db, path: path, serializer: serialization.NewJSONSerializer()}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Path returns the database file
func (s *Store) Path() string {
	return s.path
}

// Write implements contracts.Sink. The batch is stored in one transaction.
func (s *Store) Write(ctx context.Context, events []contracts.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, event := range events {
		payload, err := s.serializer.Payload(event)
		if err != nil {
			return err
		}

		span := spanOf(event)
		_, err = stmt.ExecContext(ctx,
			event.GetID(),
			event.GetType(),
			event.GetTimestamp().UnixNano(),
			span.Operation,
			span.Target,
			span.Method,
			int64(span.Duration),
			span.Error,
			string(payload),
		)
		if err != nil {
			return fmt.Errorf("failed to insert event %s: %w", event.GetID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	return nil
}

func spanOf(event contracts.Event) contracts.SpanEvent {
	switch e := event.(type) {
	case *contracts.SpanEvent:
		return *e
	case *contracts.DatabaseEvent:
		return e.SpanEvent
	default:
		return contracts.SpanEvent{}
	}
}

// Query selects stored events
type Query struct {
	Target string
	Method string
	// Failed restricts the result to events that recorded an error
	Failed bool
	Limit  int
}

// Events returns stored events in recording order
func (s *Store) Events(ctx context.Context, q Query) ([]contracts.Event, error) {
	query := "SELECT type, payload FROM events WHERE 1=1"
	var args []any

	if q.Target != "" {
		query += " AND target = ?"
		args = append(args, q.Target)
	}
	if q.Method != "" {
		query += " AND method = ?"
		args = append(args, q.Method)
	}
	if q.Failed {
		query += " AND error != ''"
	}
	query += " ORDER BY recorded_at, rowid"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []contracts.Event
	for rows.Next() {
		var typeName, payload string
		if err := rows.Scan(&typeName, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event, err := s.serializer.Decode(typeName, []byte(payload))
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// Count returns the number of stored events
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// Close implements contracts.Sink
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
