package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Event is one stored audit record.
type Event struct {
	ID         int64
	Source     string
	RequestID  uint32
	Kind       string
	Op         string
	Path       string
	Line       string
	RecordedAt time.Time
}

// EventFilter narrows ListEvents. Zero fields match everything.
type EventFilter struct {
	Source string
	Kind   string
	Op     string
	Path   string
	Limit  int
}

var eventMigrations = []Migration{
	{
		Version:     1,
		Description: "create events table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE events (
					id          INTEGER PRIMARY KEY AUTOINCREMENT,
					source      TEXT     NOT NULL DEFAULT '',
					request_id  INTEGER  NOT NULL,
					kind        TEXT     NOT NULL,
					op          TEXT     NOT NULL,
					path        TEXT     NOT NULL DEFAULT '',
					line        TEXT     NOT NULL,
					recorded_at DATETIME NOT NULL
				)
			`)
			return err
		},
	},
	{
		Version:     2,
		Description: "index events by op and path",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE INDEX idx_events_op ON events(op);
				CREATE INDEX idx_events_path ON events(path);
			`)
			return err
		},
	},
}

// MigrateEvents creates or upgrades the events schema.
func (s *SQLiteStore) MigrateEvents(ctx context.Context) error {
	return s.Migrate(ctx, "events", eventMigrations)
}

// InsertEvent stores e and sets its ID. A zero RecordedAt is set to now.
func (s *SQLiteStore) InsertEvent(ctx context.Context, e *Event) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (source, request_id, kind, op, path, line, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Source, e.RequestID, e.Kind, e.Op, e.Path, e.Line, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert event id: %w", err)
	}
	e.ID = id
	return nil
}

// ListEvents returns matching events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, f EventFilter) ([]Event, error) {
	where, args := f.clause()
	query := `SELECT id, source, request_id, kind, op, path, line, recorded_at FROM events` +
		where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.Source, &e.RequestID, &e.Kind, &e.Op, &e.Path, &e.Line, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// CountEvents returns the number of matching events. Limit is ignored.
func (s *SQLiteStore) CountEvents(ctx context.Context, f EventFilter) (int, error) {
	where, args := f.clause()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (f EventFilter) clause() (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col, v string) {
		if v != "" {
			conds = append(conds, col+" = ?")
			args = append(args, v)
		}
	}
	add("source", f.Source)
	add("kind", f.Kind)
	add("op", f.Op)
	add("path", f.Path)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
