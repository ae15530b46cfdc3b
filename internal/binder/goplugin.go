package binder

import (
	"fmt"
	goplugin "plugin"
	"sync"

	"github.com/HerbHall/sftphook/pkg/plugin"
)

// GoOpener loads Go plugins built with -buildmode=plugin.
type GoOpener struct{}

func (GoOpener) Name() string { return "go" }

func (GoOpener) Artifact(name string) string { return name + ".so" }

func (GoOpener) Open(path string) (Library, error) {
	mod, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	return &goLibrary{path: path, mod: mod}, nil
}

type goLibrary struct {
	path string

	mu  sync.Mutex
	mod *goplugin.Plugin
}

func (l *goLibrary) Path() string { return l.path }

func (l *goLibrary) lookup(name string) (goplugin.Symbol, bool) {
	l.mu.Lock()
	mod := l.mod
	l.mu.Unlock()
	if mod == nil {
		return nil, false
	}
	sym, err := mod.Lookup(name)
	if err != nil {
		return nil, false
	}
	return sym, true
}

func (l *goLibrary) Symbol(op plugin.Op) (any, bool) {
	sym, ok := l.lookup(op.GoSymbol())
	if !ok {
		return nil, false
	}
	return sym, true
}

func (l *goLibrary) APIVersion() (string, bool) {
	sym, ok := l.lookup(plugin.APIVersionGoSymbol)
	if !ok {
		return "", false
	}
	switch v := sym.(type) {
	case *string:
		return *v, true
	case string:
		return v, true
	case func() string:
		return v(), true
	}
	return fmt.Sprintf("%v", sym), true
}

// Close drops the reference to the module. The Go runtime cannot unmap a
// plugin, so the code stays resident until the process exits.
func (l *goLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.mod == nil {
		return fmt.Errorf("plugin %s already closed", l.path)
	}
	l.mod = nil
	return nil
}
