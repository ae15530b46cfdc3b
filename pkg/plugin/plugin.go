// Package plugin defines the contract between the SFTP server and the shared
// libraries that hook into its request processing.
//
// A plugin library exports any subset of the well-known callback symbols
// listed by Op. C libraries export the C names (Op.Symbol, e.g.
// "sftp_cf_read") with the signatures documented on each function type; Go
// plugins built with -buildmode=plugin export Go names (Op.GoSymbol, e.g.
// "OnRead") whose type is the matching alias below, either as a function or
// as a variable holding one.
package plugin

import "fmt"

// APIVersion is the semantic version of the callback contract. A library that
// exports its own version must share the major component.
const APIVersion = "v1.2.0"

// APIVersionSymbol is the optional symbol a C library exports to declare the
// contract version it was built against (const char *sftp_cf_api_version(void)).
// Go plugins export a string variable named APIVersionGoSymbol instead.
const (
	APIVersionSymbol   = "sftp_cf_api_version"
	APIVersionGoSymbol = "APIVersion"
)

// Sequence is the phase in which a plugin runs relative to the server's
// native handling of an operation.
type Sequence int

const (
	SequenceUnknown Sequence = iota
	SequenceBefore
	SequenceInstead
	SequenceAfter
)

var sequenceNames = [...]string{
	SequenceUnknown: "UNKNOWN",
	SequenceBefore:  "BEFORE",
	SequenceInstead: "INSTEAD",
	SequenceAfter:   "AFTER",
}

// String returns the configuration keyword for s.
func (s Sequence) String() string {
	if s < SequenceUnknown || s > SequenceAfter {
		return sequenceNames[SequenceUnknown]
	}
	return sequenceNames[s]
}

// Valid reports whether s is one of BEFORE, INSTEAD or AFTER.
func (s Sequence) Valid() bool {
	return s >= SequenceBefore && s <= SequenceAfter
}

// ParseSequence maps a configuration keyword to a Sequence. Matching is case
// sensitive; anything else yields SequenceUnknown.
func ParseSequence(keyword string) Sequence {
	for s := SequenceBefore; s <= SequenceAfter; s++ {
		if keyword == sequenceNames[s] {
			return s
		}
	}
	return SequenceUnknown
}

// MarshalText implements encoding.TextMarshaler.
func (s Sequence) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sequence) UnmarshalText(text []byte) error {
	seq := ParseSequence(string(text))
	if !seq.Valid() {
		return fmt.Errorf("unknown plugin sequence %q", text)
	}
	*s = seq
	return nil
}

// Result is the status code a callback returns. Anything other than
// ResultSuccess is recorded as a failure by the dispatcher.
type Result int32

const (
	ResultSuccess Result = 0
	ResultFailure Result = 1

	// ResultPanic is recorded when a Go callback panics.
	ResultPanic Result = -1
)

// Attrs mirrors the SFTP file attributes handed to open and setstat
// callbacks. The field order matches struct sftp_cbk_attrs in C.
type Attrs struct {
	Flags uint32
	UID   uint32
	GID   uint32
	Perm  uint32
	Size  uint64
	Atime uint32
	Mtime uint32
}
