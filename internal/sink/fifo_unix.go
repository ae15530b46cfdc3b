//go:build darwin || freebsd || linux

package sink

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FIFO writes records to a named pipe without blocking. When no reader is
// attached the open is retried on the next Write.
//
// Pipe writes are atomic only up to PIPE_BUF. When a longer record is cut
// short the unwritten tail is kept and written ahead of the next record, so
// the reader never sees two records glued together. While a tail is
// pending, new records are refused with ErrFull.
type FIFO struct {
	path    string
	fd      int
	closed  bool
	pending []byte
}

// OpenFIFO opens path for non-blocking writes. A missing reader is not an
// error; a missing or non-FIFO path is.
func OpenFIFO(path string) (*FIFO, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open event FIFO: %w", err)
	}
	if fi.Mode()&os.ModeNamedPipe == 0 {
		return nil, fmt.Errorf("open event FIFO: %s is not a named pipe", path)
	}
	f := &FIFO{path: path, fd: -1}
	if err := f.open(); err != nil && !errors.Is(err, ErrNoReader) {
		return nil, err
	}
	return f, nil
}

// Path returns the FIFO location.
func (f *FIFO) Path() string { return f.path }

// Connected reports whether the write end is currently open.
func (f *FIFO) Connected() bool { return f.fd >= 0 }

func (f *FIFO) open() error {
	fd, err := unix.Open(f.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("%w: %s", ErrNoReader, f.path)
		}
		return &os.PathError{Op: "open", Path: f.path, Err: err}
	}
	f.fd = fd
	return nil
}

func (f *FIFO) Write(record []byte) error {
	if f.closed {
		return ErrClosed
	}
	if f.fd < 0 {
		if err := f.open(); err != nil {
			return err
		}
	}

	if len(f.pending) > 0 {
		n, err := f.write(f.pending)
		if err != nil {
			return err
		}
		if f.pending = f.pending[n:]; len(f.pending) > 0 {
			return fmt.Errorf("%w: %d bytes of the previous record pending", ErrFull, len(f.pending))
		}
		f.pending = nil
	}

	n, err := f.write(record)
	if err != nil {
		return err
	}
	if n < len(record) {
		f.pending = append([]byte(nil), record[n:]...)
	}
	return nil
}

// Pending returns the number of bytes of a cut-short record still to be
// written.
func (f *FIFO) Pending() int { return len(f.pending) }

func (f *FIFO) write(b []byte) (int, error) {
	n, err := unix.Write(f.fd, b)
	switch {
	case errors.Is(err, unix.EAGAIN):
		return 0, ErrFull
	case errors.Is(err, unix.EPIPE):
		f.disconnect()
		return 0, fmt.Errorf("%w: %s", ErrNoReader, f.path)
	case err != nil:
		return 0, &os.PathError{Op: "write", Path: f.path, Err: err}
	}
	return n, nil
}

// disconnect closes the write end. A pending tail is discarded: the pipe
// buffer goes with the last reader, so a new reader starts on a record
// boundary.
func (f *FIFO) disconnect() {
	f.pending = nil
	if f.fd >= 0 {
		_ = unix.Close(f.fd)
		f.fd = -1
	}
}

func (f *FIFO) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	f.pending = nil
	if f.fd < 0 {
		return nil
	}
	err := unix.Close(f.fd)
	f.fd = -1
	return err
}

// Mkfifo creates a named pipe at path. An existing named pipe is accepted.
func Mkfifo(path string, mode os.FileMode) error {
	err := unix.Mkfifo(path, uint32(mode.Perm()))
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EEXIST) {
		fi, serr := os.Stat(path)
		if serr == nil && fi.Mode()&os.ModeNamedPipe != 0 {
			return nil
		}
		return fmt.Errorf("mkfifo %s: exists and is not a named pipe", path)
	}
	return &os.PathError{Op: "mkfifo", Path: path, Err: err}
}
