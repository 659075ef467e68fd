// Package store provides the snapshot store backing filtered catch-up
// reads and raw event persistence. Records are kept in SQLite with the
// payload as a JSON document. Topic scoping and ordering run in SQL;
// filter predicates are applied row by row with the same evaluator the
// live phase uses, so the two phases can never disagree on a record.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/thinkerajay/event-streamer-service/errors"
	"github.com/thinkerajay/event-streamer-service/event"
	"github.com/thinkerajay/event-streamer-service/filter"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	topic       TEXT    NOT NULL,
	type        TEXT    NOT NULL,
	client_name TEXT    NOT NULL,
	created_at  INTEGER NOT NULL,
	payload     TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic);
`

// Store persists event records in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the store at path and applies the schema.
// Use ":memory:" for an ephemeral store in tests.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Store", "Open", "open database")
	}

	// A single writer keeps SQLite happy under concurrent inserts.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.WrapFatal(err, "Store", "Open", "apply schema")
	}

	logger.Debug("Snapshot store opened", "component", "store", "path", path)

	return &Store{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert persists one record. The payload is flattened to a JSON document
// alongside topic, type and createdAt columns.
func (s *Store) Insert(ctx context.Context, rec event.Record) error {
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return errors.WrapInvalid(err, "Store", "Insert", "marshal payload")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO events (topic, type, client_name, created_at, payload) VALUES (?, ?, ?, ?, ?)`,
		rec.Topic, rec.Type, rec.ClientName, rec.CreatedAt, string(payload))
	if err != nil {
		return errors.WrapTransient(
			fmt.Errorf("%w: %v", errors.ErrStoreWrite, err),
			"Store", "Insert", "write record")
	}
	return nil
}

// Query runs a catch-up read: every stored record on the given topics
// matched by the filter spec, in insertion order. The returned cursor must
// be closed by the caller.
func (s *Store) Query(ctx context.Context, topics []string, spec filter.Spec) (*Cursor, error) {
	query, args := buildQuery(topics)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Query", "execute catch-up query")
	}

	return &Cursor{rows: rows, spec: spec}, nil
}

// Replay streams every matching stored record through fn, in insertion
// order. fn returning an error stops the replay and surfaces that error.
func (s *Store) Replay(ctx context.Context, topics []string, spec filter.Spec, fn func(event.Record) error) error {
	cur, err := s.Query(ctx, topics, spec)
	if err != nil {
		return err
	}
	defer cur.Close()

	for cur.Next() {
		if err := fn(cur.Record()); err != nil {
			return err
		}
	}
	return cur.Err()
}

// buildQuery renders the topic-scoped catch-up read in insertion order.
func buildQuery(topics []string) (string, []any) {
	var sb strings.Builder
	var args []any

	sb.WriteString(`SELECT topic, type, client_name, created_at, payload FROM events`)

	if len(topics) > 0 {
		placeholders := strings.Repeat("?,", len(topics))
		sb.WriteString(fmt.Sprintf(" WHERE topic IN (%s)", placeholders[:len(placeholders)-1]))
		for _, t := range topics {
			args = append(args, t)
		}
	}
	sb.WriteString(" ORDER BY id")

	return sb.String(), args
}

// Cursor iterates records returned by Query in store order, skipping rows
// the filter spec does not match.
type Cursor struct {
	rows *sql.Rows
	spec filter.Spec
	rec  event.Record
	err  error
}

// Next advances to the next matching record, returning false when
// exhausted or on error. Check Err after iteration.
func (c *Cursor) Next() bool {
	for c.rows.Next() {
		var payload string
		var rec event.Record
		if err := c.rows.Scan(&rec.Topic, &rec.Type, &rec.ClientName, &rec.CreatedAt, &payload); err != nil {
			c.err = err
			return false
		}
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			c.err = err
			return false
		}
		if !c.spec.Matches(rec.Payload) {
			continue
		}

		c.rec = rec
		return true
	}
	return false
}

// Record returns the record at the current cursor position.
func (c *Cursor) Record() event.Record {
	return c.rec
}

// Err returns the first error encountered during iteration.
func (c *Cursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.rows.Err()
}

// Close releases the cursor.
func (c *Cursor) Close() error {
	return c.rows.Close()
}
