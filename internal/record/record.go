// Package record encodes and decodes the one-line event records observers
// write to the event sink:
//
//	id=7          rqst=read       path='/srv/a' off=0 max=32768
//	id=7          resp=data       len=32768
package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/HerbHall/sftphook/internal/wire"
)

// MaxLength bounds an encoded record, newline included.
const MaxLength = wire.MaxMessageLength

var (
	ErrTooLong   = errors.New("record exceeds maximum length")
	ErrMalformed = errors.New("malformed record")
)

// Kind tells requests from responses.
type Kind string

const (
	KindRequest  Kind = "rqst"
	KindResponse Kind = "resp"
)

// Field is one key=value pair after the operation name.
type Field struct {
	Key    string
	Value  string
	Quoted bool
}

// Quoted returns a field rendered as key='value'.
func Quoted(key, value string) Field { return Field{Key: key, Value: value, Quoted: true} }

// Uint returns a field rendered as key=value.
func Uint(key string, value uint64) Field {
	return Field{Key: key, Value: strconv.FormatUint(value, 10)}
}

// Record is one event.
type Record struct {
	ID     uint32
	Kind   Kind
	Op     string
	Fields []Field
}

// Request builds a request record.
func Request(id uint32, op string, fields ...Field) *Record {
	return &Record{ID: id, Kind: KindRequest, Op: op, Fields: fields}
}

// Response builds a response record.
func Response(id uint32, op string, fields ...Field) *Record {
	return &Record{ID: id, Kind: KindResponse, Op: op, Fields: fields}
}

// Get returns the value of the first field named key.
func (r *Record) Get(key string) (string, bool) {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Path returns the path field, if any.
func (r *Record) Path() string {
	v, _ := r.Get("path")
	return v
}

// AppendTo appends the encoded record and its newline to dst.
func (r *Record) AppendTo(dst []byte) []byte {
	dst = fmt.Appendf(dst, "id=%-10d %s=%-10s", r.ID, r.Kind, r.Op)
	for _, f := range r.Fields {
		dst = append(dst, ' ')
		dst = append(dst, f.Key...)
		dst = append(dst, '=')
		if f.Quoted {
			dst = appendQuoted(dst, f.Value)
		} else {
			dst = append(dst, f.Value...)
		}
	}
	return append(dst, '\n')
}

// Encode appends the record to dst, failing when it would exceed MaxLength.
func (r *Record) Encode(dst []byte) ([]byte, error) {
	start := len(dst)
	dst = r.AppendTo(dst)
	if n := len(dst) - start; n > MaxLength {
		return dst[:start], fmt.Errorf("%w: %d bytes", ErrTooLong, n)
	}
	return dst, nil
}

func (r *Record) String() string {
	return strings.TrimSuffix(string(r.AppendTo(nil)), "\n")
}

// Parse decodes one line produced by AppendTo. The trailing newline is
// optional. Quoted values must be escaped as AppendTo escapes them; a raw
// control character or an unescaped quote inside a value is malformed.
func Parse(line string) (*Record, error) {
	line = strings.TrimRight(line, "\r\n")
	s := line

	id, rest, ok := cutField(s, "id=")
	if !ok {
		return nil, fmt.Errorf("%w: missing id: %q", ErrMalformed, line)
	}
	n, err := strconv.ParseUint(id, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: bad id %q", ErrMalformed, id)
	}
	r := &Record{ID: uint32(n)}

	s = strings.TrimLeft(rest, " ")
	switch {
	case strings.HasPrefix(s, "rqst="):
		r.Kind = KindRequest
	case strings.HasPrefix(s, "resp="):
		r.Kind = KindResponse
	default:
		return nil, fmt.Errorf("%w: missing rqst/resp: %q", ErrMalformed, line)
	}
	r.Op, s, _ = cutField(s, s[:5])
	if r.Op == "" {
		return nil, fmt.Errorf("%w: empty operation: %q", ErrMalformed, line)
	}

	for s = strings.TrimLeft(s, " "); s != ""; s = strings.TrimLeft(s, " ") {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 || !isKey(s[:eq]) {
			return nil, fmt.Errorf("%w: bad field at %q", ErrMalformed, s)
		}
		f := Field{Key: s[:eq]}
		s = s[eq+1:]
		if strings.HasPrefix(s, "'") {
			v, end, err := unquote(s)
			if err != nil {
				return nil, fmt.Errorf("%w: value for %s: %v", ErrMalformed, f.Key, err)
			}
			if end < len(s) && s[end] != ' ' {
				return nil, fmt.Errorf("%w: text after value for %s", ErrMalformed, f.Key)
			}
			f.Value, f.Quoted = v, true
			s = s[end:]
		} else {
			sp := strings.IndexByte(s, ' ')
			if sp < 0 {
				sp = len(s)
			}
			f.Value, s = s[:sp], s[sp:]
		}
		r.Fields = append(r.Fields, f)
	}
	return r, nil
}

// cutField strips prefix and returns the space-delimited token after it.
func cutField(s, prefix string) (string, string, bool) {
	if !strings.HasPrefix(s, prefix) {
		return "", s, false
	}
	s = s[len(prefix):]
	sp := strings.IndexByte(s, ' ')
	if sp < 0 {
		return s, "", true
	}
	return s[:sp], s[sp:], true
}

const hexDigits = "0123456789abcdef"

// appendQuoted appends value in single quotes. Backslash and quote are
// backslash-escaped, tab, CR and LF become \t, \r and \n, other control
// bytes become \xHH. Everything else is copied as is.
func appendQuoted(dst []byte, value string) []byte {
	dst = append(dst, '\'')
	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case c == '\\' || c == '\'':
			dst = append(dst, '\\', c)
		case c == '\n':
			dst = append(dst, '\\', 'n')
		case c == '\r':
			dst = append(dst, '\\', 'r')
		case c == '\t':
			dst = append(dst, '\\', 't')
		case c < 0x20 || c == 0x7f:
			dst = append(dst, '\\', 'x', hexDigits[c>>4], hexDigits[c&0xf])
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '\'')
}

// unquote decodes the quoted value opening at s[0] and returns it with the
// index just past the closing quote.
func unquote(s string) (string, int, error) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\'':
			return b.String(), i + 1, nil
		case c == '\\':
			if i+1 >= len(s) {
				return "", 0, errors.New("dangling escape")
			}
			i++
			switch s[i] {
			case '\\', '\'':
				b.WriteByte(s[i])
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'x':
				if i+2 >= len(s) {
					return "", 0, errors.New("short hex escape")
				}
				v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
				if err != nil {
					return "", 0, fmt.Errorf("bad hex escape %q", s[i+1:i+3])
				}
				b.WriteByte(byte(v))
				i += 2
			default:
				return "", 0, fmt.Errorf("unknown escape \\%c", s[i])
			}
		case c < 0x20 || c == 0x7f:
			return "", 0, fmt.Errorf("raw control byte 0x%02x", c)
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated")
}

func isKey(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
