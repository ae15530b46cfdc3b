package testutil

import (
	"fmt"
	"sync"

	"github.com/HerbHall/sftphook/internal/binder"
	"github.com/HerbHall/sftphook/pkg/plugin"
)

// Compile-time interface checks.
var (
	_ binder.Library = (*Library)(nil)
	_ binder.Opener  = (*Opener)(nil)
)

// Library is an in-memory plugin library. Symbols are Go values shaped the
// way a Go plugin exports them.
type Library struct {
	path    string
	symbols map[plugin.Op]any
	version string

	mu     sync.Mutex
	closes int
}

// NewLibrary returns a Library with no exports.
// Override individual exports with the With* options.
func NewLibrary(path string, opts ...func(*Library)) *Library {
	l := &Library{path: path, symbols: make(map[plugin.Op]any)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithSymbol exports sym for op.
func WithSymbol(op plugin.Op, sym any) func(*Library) {
	return func(l *Library) { l.symbols[op] = sym }
}

// WithVersion declares the library's contract version.
func WithVersion(v string) func(*Library) {
	return func(l *Library) { l.version = v }
}

func (l *Library) Path() string { return l.path }

func (l *Library) Symbol(op plugin.Op) (any, bool) {
	sym, ok := l.symbols[op]
	return sym, ok
}

func (l *Library) APIVersion() (string, bool) {
	return l.version, l.version != ""
}

func (l *Library) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	if l.closes > 1 {
		return fmt.Errorf("library %s closed %d times", l.path, l.closes)
	}
	return nil
}

// Closes returns how many times Close was called.
func (l *Library) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// Opener serves registered Libraries by artifact name. Each Open of a
// name returns a fresh copy so repeated loads can be told apart.
type Opener struct {
	mu     sync.Mutex
	libs   map[string][]func(*Library)
	opened []*Library
}

// NewOpener returns an empty Opener.
func NewOpener() *Opener {
	return &Opener{libs: make(map[string][]func(*Library))}
}

// Add registers the plugin called name.
func (o *Opener) Add(name string, opts ...func(*Library)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.libs[o.Artifact(name)] = opts
}

func (o *Opener) Name() string { return "fake" }

func (o *Opener) Artifact(name string) string { return "lib" + name + ".so" }

func (o *Opener) Open(path string) (binder.Library, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	opts, ok := o.libs[path]
	if !ok {
		return nil, fmt.Errorf("%s: cannot open shared object file", path)
	}
	lib := NewLibrary(path, opts...)
	o.opened = append(o.opened, lib)
	return lib, nil
}

// Opened returns every Library handed out so far, in order.
func (o *Opener) Opened() []*Library {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*Library, len(o.opened))
	copy(out, o.opened)
	return out
}

// Calls records callback invocations in order. It is safe for concurrent use.
type Calls struct {
	mu  sync.Mutex
	ids []string
}

// Record appends tag.
func (c *Calls) Record(tag string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, tag)
}

// All returns a copy of the recorded tags.
func (c *Calls) All() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.ids))
	copy(out, c.ids)
	return out
}
