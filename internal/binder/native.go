//go:build darwin || freebsd || linux

package binder

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/HerbHall/sftphook/pkg/plugin"
)

// NativeOpener loads C-ABI shared objects with dlopen(RTLD_NOW).
type NativeOpener struct{}

func (NativeOpener) Name() string { return "native" }

// Artifact returns lib<name>.so, or lib<name>.dylib on darwin.
func (NativeOpener) Artifact(name string) string {
	if runtime.GOOS == "darwin" {
		return "lib" + name + ".dylib"
	}
	return "lib" + name + ".so"
}

func (NativeOpener) Open(path string) (Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, err
	}
	return &nativeLibrary{path: path, handle: h}, nil
}

type nativeLibrary struct {
	path string

	mu     sync.Mutex
	handle uintptr
}

func (l *nativeLibrary) Path() string { return l.path }

func (l *nativeLibrary) sym(name string) (uintptr, bool) {
	l.mu.Lock()
	h := l.handle
	l.mu.Unlock()
	if h == 0 {
		return 0, false
	}
	addr, err := purego.Dlsym(h, name)
	if err != nil || addr == 0 {
		return 0, false
	}
	return addr, true
}

func (l *nativeLibrary) Symbol(op plugin.Op) (any, bool) {
	addr, ok := l.sym(op.Symbol())
	if !ok {
		return nil, false
	}
	return wrapNative(op, addr), true
}

func (l *nativeLibrary) APIVersion() (string, bool) {
	addr, ok := l.sym(plugin.APIVersionSymbol)
	if !ok {
		return "", false
	}
	var version func() string
	purego.RegisterFunc(&version, addr)
	return version(), true
}

func (l *nativeLibrary) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handle == 0 {
		return fmt.Errorf("library %s already closed", l.path)
	}
	err := purego.Dlclose(l.handle)
	l.handle = 0
	return err
}

// bytesPtr returns the address of the first element of p, or nil.
func bytesPtr(p []byte) unsafe.Pointer {
	if len(p) == 0 {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(p))
}

func cbool(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// wrapNative builds the Go callback for the C function at addr. Strings are
// passed NUL terminated, byte slices as pointer plus length.
func wrapNative(op plugin.Op, addr uintptr) any {
	switch op {
	case plugin.OpOpenFile:
		var c func(uint32, string, uint32, uint32, *plugin.Attrs, *int32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.OpenFileFunc(func(id uint32, path string, access, flags uint32, attrs *plugin.Attrs, fd *int32) plugin.Result {
			return plugin.Result(c(id, path, access, flags, attrs, fd))
		})
	case plugin.OpOpenDir:
		return pathFunc(addr)
	case plugin.OpClose:
		var c func(uint32, string, int32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.CloseFunc(func(id uint32, handle string, fd int32) plugin.Result {
			return plugin.Result(c(id, handle, fd))
		})
	case plugin.OpRead:
		var c func(uint32, string, uint64, uint32, unsafe.Pointer, *int32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.ReadFunc(func(id uint32, handle string, off uint64, length uint32, data []byte, dlen *int32) plugin.Result {
			if uint32(len(data)) < length {
				length = uint32(len(data))
			}
			r := c(id, handle, off, length, bytesPtr(data), dlen)
			runtime.KeepAlive(data)
			return plugin.Result(r)
		})
	case plugin.OpReadDir:
		return pathFunc(addr)
	case plugin.OpWrite:
		var c func(uint32, string, uint64, unsafe.Pointer, uint32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.WriteFunc(func(id uint32, handle string, off uint64, data []byte) plugin.Result {
			r := c(id, handle, off, bytesPtr(data), uint32(len(data)))
			runtime.KeepAlive(data)
			return plugin.Result(r)
		})
	case plugin.OpRemove, plugin.OpMkdir, plugin.OpRmdir, plugin.OpReadLink:
		return pathFunc(addr)
	case plugin.OpRename:
		var c func(uint32, string, string, uint32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.RenameFunc(func(id uint32, oldpath, newpath string, flags uint32) plugin.Result {
			return plugin.Result(c(id, oldpath, newpath, flags))
		})
	case plugin.OpStat, plugin.OpLstat, plugin.OpFstat:
		var c func(uint32, string, uint32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.StatFunc(func(id uint32, path string, flags uint32) plugin.Result {
			return plugin.Result(c(id, path, flags))
		})
	case plugin.OpSetstat, plugin.OpFsetstat:
		var c func(uint32, string, *plugin.Attrs) int32
		purego.RegisterFunc(&c, addr)
		return plugin.SetstatFunc(func(id uint32, path string, attrs *plugin.Attrs) plugin.Result {
			return plugin.Result(c(id, path, attrs))
		})
	case plugin.OpLink:
		var c func(uint32, string, string, int32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.LinkFunc(func(id uint32, newlink, curlink string, symlink bool) plugin.Result {
			return plugin.Result(c(id, newlink, curlink, cbool(symlink)))
		})
	case plugin.OpLock:
		var c func(uint32, string, uint64, uint64, uint32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.LockFunc(func(id uint32, handle string, off, length uint64, mask uint32) plugin.Result {
			return plugin.Result(c(id, handle, off, length, mask))
		})
	case plugin.OpUnlock:
		var c func(uint32, string, uint64, uint64) int32
		purego.RegisterFunc(&c, addr)
		return plugin.UnlockFunc(func(id uint32, handle string, off, length uint64) plugin.Result {
			return plugin.Result(c(id, handle, off, length))
		})
	case plugin.OpRealpath:
		var c func(uint32, string, uint8, string) int32
		purego.RegisterFunc(&c, addr)
		return plugin.RealpathFunc(func(id uint32, origpath string, control uint8, path string) plugin.Result {
			return plugin.Result(c(id, origpath, control, path))
		})
	case plugin.OpStatus:
		var c func(uint32, uint32, string, string) int32
		purego.RegisterFunc(&c, addr)
		return plugin.StatusFunc(func(id, code uint32, msg, lang string) plugin.Result {
			return plugin.Result(c(id, code, msg, lang))
		})
	case plugin.OpHandle:
		return pathFunc(addr)
	case plugin.OpData:
		var c func(uint32, unsafe.Pointer, uint32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.DataFunc(func(id uint32, data []byte) plugin.Result {
			r := c(id, bytesPtr(data), uint32(len(data)))
			runtime.KeepAlive(data)
			return plugin.Result(r)
		})
	case plugin.OpName:
		var c func(uint32, uint32, string, int32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.NameFunc(func(id, count uint32, name string, eof bool) plugin.Result {
			return plugin.Result(c(id, count, name, cbool(eof)))
		})
	case plugin.OpAttrs:
		var c func(uint32, uint32, uint32) int32
		purego.RegisterFunc(&c, addr)
		return plugin.AttrsFunc(func(id, flags, perm uint32) plugin.Result {
			return plugin.Result(c(id, flags, perm))
		})
	}
	return nil
}

// pathFunc wraps the int fn(uint32_t id, const char *s) shape shared by
// several operations.
func pathFunc(addr uintptr) func(uint32, string) plugin.Result {
	var c func(uint32, string) int32
	purego.RegisterFunc(&c, addr)
	return func(id uint32, s string) plugin.Result {
		return plugin.Result(c(id, s))
	}
}
