//go:build !(darwin || freebsd || linux)

package binder

// NativeOpener is unavailable on this platform.
type NativeOpener struct{}

func (NativeOpener) Name() string { return "native" }

func (NativeOpener) Artifact(name string) string { return "lib" + name + ".so" }

func (NativeOpener) Open(string) (Library, error) { return nil, ErrUnsupportedPlatform }
