// Package sink delivers encoded event records to whatever consumes them: a
// named pipe read by a collector, an append-only file, or the SQLite audit
// store.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultFIFOPath is where the event FIFO lives unless configured otherwise.
const DefaultFIFOPath = "/tmp/sftp_evts"

// Sink errors.
var (
	// ErrFull indicates the consumer is not keeping up and the record was
	// not written.
	ErrFull = errors.New("sink: full")

	// ErrNoReader indicates nothing has the FIFO open for reading.
	ErrNoReader = errors.New("sink: no reader")

	// ErrClosed indicates a write after Close.
	ErrClosed = errors.New("sink: closed")

	// ErrUnknownKind indicates an unsupported Config.Kind.
	ErrUnknownKind = errors.New("sink: unknown kind")
)

// Sink accepts one encoded record per Write. Implementations never block on
// a slow consumer and must not retain record after Write returns.
type Sink interface {
	Write(record []byte) error
	Close() error
}

// Kind names a sink implementation.
type Kind string

const (
	KindFIFO    Kind = "fifo"
	KindFile    Kind = "file"
	KindSQLite  Kind = "sqlite"
	KindDiscard Kind = "discard"
)

// Config selects and locates a sink.
type Config struct {
	Kind Kind
	Path string
	// Source tags rows written by the sqlite sink.
	Source string
}

// Open builds the sink described by cfg, wrapped so it is safe for
// concurrent sessions. An empty Kind means fifo.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kind := Kind(strings.ToLower(string(cfg.Kind)))
	if kind == "" {
		kind = KindFIFO
	}

	var (
		s   Sink
		err error
	)
	switch kind {
	case KindFIFO:
		path := cfg.Path
		if path == "" {
			path = DefaultFIFOPath
		}
		var f *FIFO
		f, err = OpenFIFO(path)
		if err == nil && !f.Connected() {
			logger.Warn("event FIFO has no reader yet", zap.String("path", path))
		}
		s = f
	case KindFile:
		s, err = OpenFile(cfg.Path)
	case KindSQLite:
		s, err = OpenSQLite(ctx, cfg.Path, cfg.Source)
	case KindDiscard:
		s = Discard{}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	logger.Info("event sink opened", zap.String("kind", string(kind)), zap.String("path", cfg.Path))
	return Synchronized(s), nil
}

type synchronized struct {
	mu sync.Mutex
	s  Sink
}

// Synchronized serializes Write and Close on s.
func Synchronized(s Sink) Sink {
	if _, ok := s.(*synchronized); ok {
		return s
	}
	return &synchronized{s: s}
}

func (s *synchronized) Write(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.Write(record)
}

func (s *synchronized) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.s.Close()
}

// Discard drops every record.
type Discard struct{}

func (Discard) Write([]byte) error { return nil }
func (Discard) Close() error       { return nil }

// Memory keeps records in memory. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	records []string
	closed  bool
	err     error
}

// NewMemory returns an empty Memory sink.
func NewMemory() *Memory { return &Memory{} }

// Fail makes every following Write return err. A nil err clears it.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Memory) Write(record []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, string(record))
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Records returns a copy of everything written.
func (m *Memory) Records() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.records))
	copy(out, m.records)
	return out
}
