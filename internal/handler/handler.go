// Package handler holds the per-opcode handler chains an SFTP server
// dispatches requests through, and splices observer entries into them.
package handler

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/HerbHall/sftphook/internal/wire"
)

// Handler errors.
var (
	// ErrNoHandler indicates no chain is registered for an opcode.
	ErrNoHandler = errors.New("handler: no handler for request type")

	// ErrReadOnly indicates a chain that modifies data was refused.
	ErrReadOnly = errors.New("handler: request refused in read-only mode")

	// ErrFrozen indicates the table no longer accepts changes.
	ErrFrozen = errors.New("handler: table is frozen")

	// ErrNilHandler indicates an entry without a handler function.
	ErrNilHandler = errors.New("handler: entry has no handler")
)

// Request is what a handler sees: the request id and the payload after it.
// For the response flush pseudo opcode Response holds the outbound packet.
type Request struct {
	Type     uint8
	ID       uint32
	Payload  *wire.Buffer
	Response []byte
}

// Func processes one request. Observers must not consume Payload.
type Func func(r *Request)

// Entry describes one handler.
type Entry struct {
	// Name is the user-visible name used for fine-grained permissions.
	Name string
	// ExtName is the extended request name, empty for plain opcodes.
	ExtName    string
	Type       uint8
	Handler    Func
	WritesData bool
}

// Policy chooses where a spliced entry lands in an existing chain.
type Policy int

const (
	// PolicyPrepend runs the override before the native handlers.
	PolicyPrepend Policy = iota
	// PolicyAppend runs the override after them.
	PolicyAppend
)

func (p Policy) String() string {
	if p == PolicyAppend {
		return "append"
	}
	return "prepend"
}

// ParsePolicy maps a settings value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "prepend":
		return PolicyPrepend, nil
	case "append":
		return PolicyAppend, nil
	}
	return PolicyPrepend, fmt.Errorf("unknown splice policy %q", s)
}

// Table maps an opcode to its ordered handler chain. Chains are replaced,
// never edited in place, so a chain read by Dispatch stays valid while a
// splice runs.
type Table struct {
	mu     sync.RWMutex
	chains map[uint8][]*Entry
	frozen bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{chains: make(map[uint8][]*Entry)}
}

// Register appends a native entry to the chain for e.Type.
func (t *Table) Register(e *Entry) error {
	if e == nil || e.Handler == nil {
		return ErrNilHandler
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ErrFrozen
	}
	t.chains[e.Type] = appendChain(t.chains[e.Type], e)
	return nil
}

// Splice adds every override that has a handler to the chain for its
// opcode. Opcodes without an existing chain are skipped. It returns the
// number of entries spliced.
func (t *Table) Splice(overrides []*Entry, policy Policy) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return 0, ErrFrozen
	}

	spliced := 0
	for _, o := range overrides {
		if o == nil || o.Handler == nil {
			continue
		}
		old := t.chains[o.Type]
		if len(old) == 0 {
			continue
		}
		if policy == PolicyAppend {
			t.chains[o.Type] = appendChain(old, o)
		} else {
			t.chains[o.Type] = prependChain(old, o)
		}
		spliced++
	}
	return spliced, nil
}

// SpliceResponse installs e ahead of whatever is registered for the
// sentinel opcode, creating the chain if needed.
func (t *Table) SpliceResponse(e *Entry, sentinel uint8) error {
	if e == nil || e.Handler == nil {
		return ErrNilHandler
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen {
		return ErrFrozen
	}
	t.chains[sentinel] = prependChain(t.chains[sentinel], e)
	return nil
}

// Freeze makes the table read-only.
func (t *Table) Freeze() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frozen = true
}

// Frozen reports whether Freeze was called.
func (t *Table) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

// Chain returns a copy of the chain for typ.
func (t *Table) Chain(typ uint8) []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	chain := t.chains[typ]
	out := make([]*Entry, len(chain))
	copy(out, chain)
	return out
}

// Types returns the opcodes that have a chain, ascending.
func (t *Table) Types() []uint8 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	types := make([]uint8, 0, len(t.chains))
	for typ := range t.chains {
		types = append(types, typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Dispatch runs the chain for r.Type in order. In read-only mode a chain
// containing an entry that writes data is refused before anything runs.
func (t *Table) Dispatch(r *Request, readOnly bool) error {
	t.mu.RLock()
	chain := t.chains[r.Type]
	t.mu.RUnlock()

	if len(chain) == 0 {
		return fmt.Errorf("%w %s", ErrNoHandler, wire.TypeString(r.Type))
	}
	if readOnly {
		for _, e := range chain {
			if e.WritesData {
				return fmt.Errorf("%w: %s", ErrReadOnly, e.Name)
			}
		}
	}
	for _, e := range chain {
		e.Handler(r)
	}
	return nil
}

func appendChain(old []*Entry, e *Entry) []*Entry {
	chain := make([]*Entry, 0, len(old)+1)
	chain = append(chain, old...)
	return append(chain, e)
}

func prependChain(old []*Entry, e *Entry) []*Entry {
	chain := make([]*Entry, 0, len(old)+1)
	chain = append(chain, e)
	return append(chain, old...)
}
