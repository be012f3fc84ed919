package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Event is one entry of the token history. Events never hold credentials.
type Event struct {
	ID        int64
	Kind      string
	Detail    string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// EventLog records session transitions in the token_events table.
type EventLog struct {
	db *sql.DB
}

func NewEventLog(db *sql.DB) *EventLog {
	return &EventLog{db: db}
}

// Append writes an event. A zero expiresAt is stored as NULL.
func (l *EventLog) Append(kind, detail string, expiresAt time.Time) error {
	var expiry any
	if !expiresAt.IsZero() {
		expiry = expiresAt.UTC()
	}

	_, err := l.db.Exec(
		"INSERT INTO token_events (kind, detail, expires_at, created_at) VALUES (?, ?, ?, ?)",
		kind, detail, expiry, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append token event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *EventLog) Recent(limit int) ([]Event, error) {
	rows, err := l.db.Query(
		"SELECT id, kind, detail, expires_at, created_at FROM token_events ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query token events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			expires sql.NullTime
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Detail, &expires, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token event: %w", err)
		}
		if expires.Valid {
			t := expires.Time
			e.ExpiresAt = &t
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Prune deletes events older than age and reports how many were removed.
func (l *EventLog) Prune(age time.Duration) (int64, error) {
	res, err := l.db.Exec("DELETE FROM token_events WHERE created_at < ?", time.Now().Add(-age).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune token events: %w", err)
	}
	return res.RowsAffected()
}
