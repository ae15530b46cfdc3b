// Package backup archives the sftphook audit database together with the
// plugin and settings files into a tar.gz, and restores such archives.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver
)

// ErrExists is returned by Restore when a target file exists and force is
// not set.
var ErrExists = errors.New("backup: file exists")

// maxEntrySize bounds a single restored file.
const maxEntrySize = 4 << 30

// Backup writes an archive holding dbPath and every existing file in
// extra. Missing extra files are skipped. The database WAL is checkpointed
// first so the copy is consistent.
func Backup(ctx context.Context, dbPath string, extra []string, outputPath string) (err error) {
	if _, err := os.Stat(dbPath); err != nil {
		return fmt.Errorf("database file not found: %w", err)
	}
	if err := checkpointWAL(ctx, dbPath); err != nil {
		return fmt.Errorf("WAL checkpoint failed: %w", err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
	}()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	names := map[string]bool{}
	add := func(path string) error {
		name := filepath.Base(path)
		if names[name] {
			return fmt.Errorf("duplicate archive name %s", name)
		}
		names[name] = true
		return addFileToTar(tw, path, name)
	}

	if err := add(dbPath); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}
	for _, path := range extra {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := add(path); err != nil {
			return fmt.Errorf("adding %s to archive: %w", path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	return gw.Close()
}

// Restore extracts inputPath into dir and returns the restored file names.
func Restore(_ context.Context, inputPath, dir string, force bool) ([]string, error) {
	f, err := os.Open(inputPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	defer gr.Close()

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	var restored []string
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return restored, nil
		}
		if err != nil {
			return restored, fmt.Errorf("reading archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(hdr.Name)
		if name != hdr.Name || strings.HasPrefix(name, ".") {
			return restored, fmt.Errorf("refusing archive entry %q", hdr.Name)
		}
		if err := extract(tr, hdr, filepath.Join(dir, name), force); err != nil {
			return restored, err
		}
		restored = append(restored, name)
	}
}

func extract(r io.Reader, hdr *tar.Header, target string, force bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	out, err := os.OpenFile(target, flags, hdr.FileInfo().Mode().Perm())
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", ErrExists, target)
		}
		return err
	}
	if _, err := io.Copy(out, io.LimitReader(r, maxEntrySize)); err != nil {
		out.Close()
		return fmt.Errorf("restoring %s: %w", target, err)
	}
	return out.Close()
}

// checkpointWAL runs a TRUNCATE checkpoint to flush the WAL into the main
// database file.
func checkpointWAL(ctx context.Context, dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	_, err = db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
