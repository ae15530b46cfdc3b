package plugconf

import (
	"errors"
	"fmt"

	"github.com/HerbHall/sftphook/pkg/plugin"
)

// Scan errors, wrapped in a ParseError.
var (
	// ErrInvalidName reports a byte outside [A-Za-z0-9_] in a name.
	ErrInvalidName = errors.New("invalid character in plugin name")
	// ErrInvalidSequence reports a keyword with bytes outside [A-Za-z0-9_].
	ErrInvalidSequence = errors.New("invalid character in plugin sequence")
	// ErrUnknownSequence reports a keyword other than BEFORE, INSTEAD or AFTER.
	ErrUnknownSequence = errors.New("unknown plugin sequence")
	// ErrMissingSequence reports a line without keyword in strict mode.
	ErrMissingSequence = errors.New("plugin sequence not specified")
	// ErrTrailingData reports text after the keyword.
	ErrTrailingData = errors.New("unexpected data after plugin sequence")
)

// ParseError reports the line of the normalized buffer that failed to scan.
type ParseError struct {
	Line  int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("plugin config line %d: %v: %q", e.Line, e.Err, e.Token)
	}
	return fmt.Sprintf("plugin config line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Entry is one configured plugin.
type Entry struct {
	Name     string
	Sequence plugin.Sequence
	// Defaulted is set when the line carried no sequence keyword.
	Defaulted bool
	Line      int
}

// ParseOptions controls how lines without a sequence keyword are treated.
// A DefaultSequence of SequenceUnknown makes the keyword mandatory.
type ParseOptions struct {
	DefaultSequence plugin.Sequence
}

// DefaultParseOptions assigns BEFORE to lines without a sequence.
func DefaultParseOptions() ParseOptions {
	return ParseOptions{DefaultSequence: plugin.SequenceBefore}
}

// Parse scans a buffer produced by Load. Either every line yields an Entry
// or Parse returns a *ParseError and no entries. buf is never modified.
func Parse(buf []byte, opts ParseOptions) ([]Entry, error) {
	s := scanner{buf: buf, opts: opts, line: 1}
	var entries []Entry
	for s.pos < len(s.buf) {
		e, err := s.next()
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		s.line++
	}
	return entries, nil
}

// ReadFile loads and parses the configuration at path.
func ReadFile(path string, max int, opts ParseOptions) ([]Entry, error) {
	buf, err := Load(path, max)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(buf, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return entries, nil
}

type scanner struct {
	buf  []byte
	pos  int
	line int
	opts ParseOptions
}

// skip advances past bytes matching fn and returns the skipped span start.
func (s *scanner) skip(fn func(byte) bool) int {
	start := s.pos
	for s.pos < len(s.buf) && fn(s.buf[s.pos]) {
		s.pos++
	}
	return start
}

// delim consumes the byte after a token. A missing byte at the end of the
// buffer counts as a newline.
func (s *scanner) delim() (byte, bool) {
	if s.pos >= len(s.buf) {
		return '\n', true
	}
	c := s.buf[s.pos]
	if !isSpace(c) {
		return c, false
	}
	s.pos++
	return c, true
}

func (s *scanner) atLineEnd() bool {
	if s.pos >= len(s.buf) {
		return true
	}
	switch s.buf[s.pos] {
	case '\n':
		s.pos++
		return true
	case '\r':
		if s.pos+1 >= len(s.buf) || s.buf[s.pos+1] == '\n' {
			s.pos += 2
			return true
		}
	}
	return false
}

func (s *scanner) fail(err error, token string) error {
	return &ParseError{Line: s.line, Token: token, Err: err}
}

func (s *scanner) next() (Entry, error) {
	start := s.skip(isNameChar)
	name := string(s.buf[start:s.pos])

	c, ok := s.delim()
	if !ok || name == "" {
		return Entry{}, s.fail(ErrInvalidName, s.tokenAt(start))
	}
	e := Entry{Name: name, Line: s.line}

	if c != '\n' {
		s.skip(isBlank)
		if !s.atLineEnd() {
			return s.sequence(e)
		}
	}
	return s.defaulted(e)
}

func (s *scanner) sequence(e Entry) (Entry, error) {
	start := s.skip(isNameChar)
	keyword := string(s.buf[start:s.pos])

	c, ok := s.delim()
	if !ok {
		return Entry{}, s.fail(ErrInvalidSequence, s.tokenAt(start))
	}
	e.Sequence = plugin.ParseSequence(keyword)
	if !e.Sequence.Valid() {
		return Entry{}, s.fail(ErrUnknownSequence, keyword)
	}

	if c != '\n' {
		s.skip(isBlank)
		if !s.atLineEnd() {
			return Entry{}, s.fail(ErrTrailingData, s.tokenAt(s.pos))
		}
	}
	return e, nil
}

func (s *scanner) defaulted(e Entry) (Entry, error) {
	if !s.opts.DefaultSequence.Valid() {
		return Entry{}, s.fail(ErrMissingSequence, e.Name)
	}
	e.Sequence = s.opts.DefaultSequence
	e.Defaulted = true
	return e, nil
}

// tokenAt returns the rest of the current line from off, for diagnostics.
func (s *scanner) tokenAt(off int) string {
	end := off
	for end < len(s.buf) && s.buf[end] != '\n' {
		end++
	}
	return string(s.buf[off:end])
}
