// Package eventlog persists the append-only stream of observed session
// events. Readers poll by id; ids are assigned by the database and are
// strictly increasing in append order.
package eventlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one appended record. Payload is stored verbatim as JSON.
type Event struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Adapter   string          `json:"adapter"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Log is the append-only event store. Safe for concurrent use within one
// process; WAL mode plus busy timeout keeps cross-process readers safe too.
type Log struct {
	db *sql.DB
}

// Open creates or opens the event database at path.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("eventlog: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventlog: busy timeout: %w", err)
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			type       TEXT NOT NULL,
			adapter    TEXT NOT NULL DEFAULT '',
			payload    TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);
	`)
	if err != nil {
		return fmt.Errorf("eventlog: migrate: %w", err)
	}
	return nil
}

// Close checkpoints WAL and closes the database.
func (l *Log) Close() error {
	_, _ = l.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return l.db.Close()
}

// Append stores one event. payload may be any JSON-marshalable value; nil
// stores an empty object. The returned event carries its assigned id.
func (l *Log) Append(eventType, adapter string, payload any) (Event, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("eventlog: marshal payload: %w", err)
		}
		raw = data
	}

	now := time.Now().UTC()
	res, err := l.db.Exec(
		`INSERT INTO events (type, adapter, payload, created_at) VALUES (?, ?, ?, ?)`,
		eventType, adapter, string(raw), now,
	)
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: append: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("eventlog: append id: %w", err)
	}
	return Event{ID: id, Type: eventType, Adapter: adapter, Payload: raw, CreatedAt: now}, nil
}

// Poll returns up to limit events with id greater than sinceID, in id order.
// limit <= 0 means no limit.
func (l *Log) Poll(sinceID int64, limit int) ([]Event, error) {
	q := `SELECT id, type, adapter, payload, created_at FROM events WHERE id > ? ORDER BY id`
	args := []any{sinceID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog: poll: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var payload string
		if err := rows.Scan(&e.ID, &e.Type, &e.Adapter, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("eventlog: scan: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastID returns the highest assigned event id, 0 when empty.
func (l *Log) LastID() (int64, error) {
	var id sql.NullInt64
	if err := l.db.QueryRow(`SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, fmt.Errorf("eventlog: last id: %w", err)
	}
	return id.Int64, nil
}

// Prune deletes events created before the cutoff and returns how many went.
func (l *Log) Prune(olderThan time.Time) (int64, error) {
	res, err := l.db.Exec(`DELETE FROM events WHERE created_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("eventlog: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
