package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HerbHall/sftphook/internal/store"
)

func newAuditDB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "audit.db")
	db, err := store.New(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := db.MigrateEvents(ctx); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertEvent(ctx, &store.Event{RequestID: 1, Kind: "rqst", Op: "remove", Path: "/a", Line: "id=1 rqst=remove path='/a'"}); err != nil {
		t.Fatal(err)
	}
	db.Close()
	return path
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dbPath := newAuditDB(t, src)
	conf := filepath.Join(src, "sftp_plugin_conf")
	if err := os.WriteFile(conf, []byte("audit BEFORE\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := Backup(ctx, dbPath, []string{conf, filepath.Join(src, "missing.yaml"), ""}, archive); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dst := t.TempDir()
	names, err := Restore(ctx, archive, dst, false)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if len(names) != 2 || names[0] != "audit.db" || names[1] != "sftp_plugin_conf" {
		t.Errorf("restored = %v", names)
	}

	got, err := os.ReadFile(filepath.Join(dst, "sftp_plugin_conf"))
	if err != nil || string(got) != "audit BEFORE\n" {
		t.Errorf("restored conf = %q, %v", got, err)
	}

	db, err := store.New(filepath.Join(dst, "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	n, err := db.CountEvents(ctx, store.EventFilter{})
	if err != nil || n != 1 {
		t.Errorf("restored events = %d, %v, want 1", n, err)
	}
}

func TestRestoreRefusesOverwrite(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	dbPath := newAuditDB(t, src)
	archive := filepath.Join(t.TempDir(), "backup.tar.gz")
	if err := Backup(ctx, dbPath, nil, archive); err != nil {
		t.Fatal(err)
	}

	if _, err := Restore(ctx, archive, src, false); !errors.Is(err, ErrExists) {
		t.Errorf("Restore() error = %v, want ErrExists", err)
	}
	if _, err := Restore(ctx, archive, src, true); err != nil {
		t.Errorf("Restore(force) error = %v", err)
	}
}

func TestBackupMissingDatabase(t *testing.T) {
	err := Backup(context.Background(), filepath.Join(t.TempDir(), "none.db"), nil, filepath.Join(t.TempDir(), "out.tar.gz"))
	if err == nil {
		t.Error("Backup() error = nil, want missing database")
	}
}
