package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/HerbHall/sftphook/internal/record"
	"github.com/HerbHall/sftphook/internal/store"
)

// SQLite parses records and stores them in the audit events table.
type SQLite struct {
	ctx    context.Context
	db     *store.SQLiteStore
	owned  bool
	source string

	// Now stamps each stored event. Defaults to time.Now.
	Now func() time.Time
}

// OpenSQLite opens (or creates) the audit database at path.
func OpenSQLite(ctx context.Context, path, source string) (*SQLite, error) {
	db, err := store.New(path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}
	s, err := NewSQLite(ctx, db, source)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLite writes into an already open store, which Close leaves open.
func NewSQLite(ctx context.Context, db *store.SQLiteStore, source string) (*SQLite, error) {
	if err := db.MigrateEvents(ctx); err != nil {
		return nil, fmt.Errorf("migrate audit store: %w", err)
	}
	return &SQLite{ctx: ctx, db: db, source: source, Now: time.Now}, nil
}

func (s *SQLite) Write(line []byte) error {
	if s.db == nil {
		return ErrClosed
	}
	rec, err := record.Parse(string(line))
	if err != nil {
		return err
	}
	return s.db.InsertEvent(s.ctx, &store.Event{
		Source:     s.source,
		RequestID:  rec.ID,
		Kind:       string(rec.Kind),
		Op:         rec.Op,
		Path:       rec.Path(),
		Line:       rec.String(),
		RecordedAt: s.Now().UTC(),
	})
}

func (s *SQLite) Close() error {
	db := s.db
	s.db = nil
	if db == nil || !s.owned {
		return nil
	}
	return db.Close()
}
