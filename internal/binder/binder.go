// Package binder opens plugin libraries and binds their exported symbols to
// a typed callback table.
package binder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/HerbHall/sftphook/pkg/plugin"
)

var (
	ErrOpen                = errors.New("open plugin library")
	ErrSignature           = errors.New("incompatible callback signature")
	ErrIncompatible        = errors.New("incompatible plugin API version")
	ErrUnsupportedPlatform = errors.New("plugin backend not supported on this platform")
	ErrUnknownBackend      = errors.New("unknown plugin backend")
)

// Library is an opened plugin artifact.
type Library interface {
	// Path is the artifact the library was opened from.
	Path() string
	// Symbol returns the raw export backing op, or false when the library
	// does not provide it.
	Symbol(op plugin.Op) (any, bool)
	// APIVersion returns the contract version the library declares, if any.
	APIVersion() (string, bool)
	// Close releases the library. It is called exactly once.
	Close() error
}

// Opener is a loader backend.
type Opener interface {
	Name() string
	// Artifact maps a configured plugin name to the file name to look for.
	Artifact(name string) string
	Open(path string) (Library, error)
}

// NewOpener returns the backend registered under name: "native" or "go".
func NewOpener(name string) (Opener, error) {
	switch name {
	case "", "native":
		return NativeOpener{}, nil
	case "go":
		return GoOpener{}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownBackend, name)
}

// Bound is a library together with its callback table.
type Bound struct {
	Library   Library
	Callbacks *plugin.Callbacks
}

// Loader resolves plugin names to artifacts and binds them.
type Loader struct {
	opener     Opener
	searchPath []string
	logger     *zap.Logger
}

// NewLoader creates a loader using opener. Directories in searchPath are
// probed in order before the bare artifact name is handed to the backend.
func NewLoader(opener Opener, searchPath []string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		opener:     opener,
		searchPath: searchPath,
		logger:     logger,
	}
}

// Backend returns the backend name.
func (l *Loader) Backend() string { return l.opener.Name() }

// Resolve returns the path Load would open for name.
func (l *Loader) Resolve(name string) string {
	artifact := l.opener.Artifact(name)
	for _, dir := range l.searchPath {
		candidate := filepath.Join(dir, artifact)
		if fi, err := os.Stat(candidate); err == nil && !fi.IsDir() {
			return candidate
		}
	}
	return artifact
}

// Load opens and binds the plugin called name. On error nothing stays open.
func (l *Loader) Load(name string) (*Bound, error) {
	path := l.Resolve(name)
	lib, err := l.opener.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrOpen, path, err)
	}

	if err := CheckVersion(lib); err != nil {
		lib.Close()
		return nil, err
	}

	cb, err := Bind(lib)
	if err != nil {
		lib.Close()
		return nil, err
	}

	l.logger.Debug("plugin library bound",
		zap.String("name", name),
		zap.String("path", lib.Path()),
		zap.String("backend", l.opener.Name()),
		zap.Int("callbacks", len(cb.Ops())),
	)
	return &Bound{Library: lib, Callbacks: cb}, nil
}

// CheckVersion rejects libraries declaring a contract with a different major
// version. Libraries without a declaration are accepted.
func CheckVersion(lib Library) error {
	v, ok := lib.APIVersion()
	if !ok {
		return nil
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("%w: %s declares %q", ErrIncompatible, lib.Path(), v)
	}
	if semver.Major(v) != semver.Major(plugin.APIVersion) {
		return fmt.Errorf("%w: %s built for %s, host speaks %s",
			ErrIncompatible, lib.Path(), v, plugin.APIVersion)
	}
	return nil
}

// Bind resolves every well-known operation in lib. Missing symbols leave
// the slot nil; a symbol of the wrong type fails the whole bind.
func Bind(lib Library) (*plugin.Callbacks, error) {
	cb := &plugin.Callbacks{}
	for op := range plugin.OpCount {
		sym, ok := lib.Symbol(op)
		if !ok || sym == nil {
			continue
		}
		if err := assign(cb, op, sym); err != nil {
			return nil, fmt.Errorf("%s: %s: %w", lib.Path(), op.Symbol(), err)
		}
	}
	return cb, nil
}

// callback converts a looked-up symbol to F. Go plugins hand out functions
// as F and package variables holding a function as *F.
func callback[F any](sym any) (F, error) {
	switch fn := sym.(type) {
	case F:
		return fn, nil
	case *F:
		if fn != nil {
			return *fn, nil
		}
	}
	var zero F
	return zero, fmt.Errorf("%w: have %T", ErrSignature, sym)
}

func assign(cb *plugin.Callbacks, op plugin.Op, sym any) (err error) {
	switch op {
	case plugin.OpOpenFile:
		cb.OpenFile, err = callback[plugin.OpenFileFunc](sym)
	case plugin.OpOpenDir:
		cb.OpenDir, err = callback[plugin.OpenDirFunc](sym)
	case plugin.OpClose:
		cb.Close, err = callback[plugin.CloseFunc](sym)
	case plugin.OpRead:
		cb.Read, err = callback[plugin.ReadFunc](sym)
	case plugin.OpReadDir:
		cb.ReadDir, err = callback[plugin.ReadDirFunc](sym)
	case plugin.OpWrite:
		cb.Write, err = callback[plugin.WriteFunc](sym)
	case plugin.OpRemove:
		cb.Remove, err = callback[plugin.RemoveFunc](sym)
	case plugin.OpRename:
		cb.Rename, err = callback[plugin.RenameFunc](sym)
	case plugin.OpMkdir:
		cb.Mkdir, err = callback[plugin.MkdirFunc](sym)
	case plugin.OpRmdir:
		cb.Rmdir, err = callback[plugin.RmdirFunc](sym)
	case plugin.OpStat:
		cb.Stat, err = callback[plugin.StatFunc](sym)
	case plugin.OpLstat:
		cb.Lstat, err = callback[plugin.LstatFunc](sym)
	case plugin.OpFstat:
		cb.Fstat, err = callback[plugin.FstatFunc](sym)
	case plugin.OpSetstat:
		cb.Setstat, err = callback[plugin.SetstatFunc](sym)
	case plugin.OpFsetstat:
		cb.Fsetstat, err = callback[plugin.FsetstatFunc](sym)
	case plugin.OpReadLink:
		cb.ReadLink, err = callback[plugin.ReadLinkFunc](sym)
	case plugin.OpLink:
		cb.Link, err = callback[plugin.LinkFunc](sym)
	case plugin.OpLock:
		cb.Lock, err = callback[plugin.LockFunc](sym)
	case plugin.OpUnlock:
		cb.Unlock, err = callback[plugin.UnlockFunc](sym)
	case plugin.OpRealpath:
		cb.Realpath, err = callback[plugin.RealpathFunc](sym)
	case plugin.OpStatus:
		cb.Status, err = callback[plugin.StatusFunc](sym)
	case plugin.OpHandle:
		cb.Handle, err = callback[plugin.HandleFunc](sym)
	case plugin.OpData:
		cb.Data, err = callback[plugin.DataFunc](sym)
	case plugin.OpName:
		cb.Name, err = callback[plugin.NameFunc](sym)
	case plugin.OpAttrs:
		cb.Attrs, err = callback[plugin.AttrsFunc](sym)
	default:
		err = fmt.Errorf("unknown operation %d", op)
	}
	return err
}
