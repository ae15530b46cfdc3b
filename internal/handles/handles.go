// Package handles maps the opaque handle tokens the server hands to clients
// back to the paths they were opened for.
package handles

import (
	"encoding/binary"
	"errors"
	"sync"
)

// Kind restricts a lookup to file or directory handles.
type Kind int

const (
	KindAny Kind = iota
	KindFile
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "dir"
	default:
		return "any"
	}
}

// ErrLimit is returned by Open once the table is full.
var ErrLimit = errors.New("handle table full")

// Resolver resolves a handle token to the path it refers to.
type Resolver interface {
	Resolve(token []byte, kind Kind) (path string, ok bool)
}

// TokenLength is the size of a token issued by Table.
const TokenLength = 4

type entry struct {
	path string
	kind Kind
}

// Table is an in-memory handle table issuing 4-byte big-endian tokens.
// It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries map[uint32]entry
	next    uint32
	limit   int
}

// NewTable returns a table holding at most limit handles; zero means no limit.
func NewTable(limit int) *Table {
	return &Table{entries: make(map[uint32]entry), limit: limit}
}

// Open registers path and returns its token.
func (t *Table) Open(path string, kind Kind) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.limit > 0 && len(t.entries) >= t.limit {
		return nil, ErrLimit
	}
	for {
		t.next++
		if _, used := t.entries[t.next]; !used {
			break
		}
	}
	t.entries[t.next] = entry{path: path, kind: kind}
	return binary.BigEndian.AppendUint32(nil, t.next), nil
}

// Close forgets token. It reports whether the token was open.
func (t *Table) Close(token []byte) bool {
	id, ok := decode(token)
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, open := t.entries[id]; !open {
		return false
	}
	delete(t.entries, id)
	return true
}

// Resolve implements Resolver. KindAny matches every handle; any other kind
// must match the kind the handle was opened with.
func (t *Table) Resolve(token []byte, kind Kind) (string, bool) {
	id, ok := decode(token)
	if !ok {
		return "", false
	}
	t.mu.RLock()
	e, open := t.entries[id]
	t.mu.RUnlock()
	if !open || (kind != KindAny && e.kind != kind) {
		return "", false
	}
	return e.path, true
}

// Len returns the number of open handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func decode(token []byte) (uint32, bool) {
	if len(token) != TokenLength {
		return 0, false
	}
	return binary.BigEndian.Uint32(token), true
}
