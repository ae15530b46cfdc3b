//go:build !(darwin || freebsd || linux)

package sink

import (
	"errors"
	"os"
)

var errNoFIFO = errors.New("sink: named pipes are not supported on this platform")

// FIFO is unavailable on this platform.
type FIFO struct{}

func OpenFIFO(string) (*FIFO, error)  { return nil, errNoFIFO }
func (*FIFO) Path() string            { return "" }
func (*FIFO) Connected() bool         { return false }
func (*FIFO) Write([]byte) error      { return errNoFIFO }
func (*FIFO) Close() error            { return nil }
func Mkfifo(string, os.FileMode) error { return errNoFIFO }
