package wire

import (
	"encoding/binary"
	"fmt"
)

// Buffer is a read cursor over a request payload with a write side used
// to build payloads. Peek and *At methods never move the cursor, so an
// observer can inspect a request the native handler will consume next.
type Buffer struct {
	buf []byte
	off int
}

// NewBuffer returns a Buffer reading b. b is not copied.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the unread portion.
func (b *Buffer) Bytes() []byte { return b.buf[b.off:] }

// Len returns the number of unread bytes.
func (b *Buffer) Len() int { return len(b.buf) - b.off }

// Reset discards the contents.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
	b.off = 0
}

// PeekString returns the string at the cursor without consuming it.
func (b *Buffer) PeekString() ([]byte, error) {
	s, _, err := b.StringAt(0)
	return s, err
}

// StringAt returns the length-prefixed string starting off bytes past the
// cursor and the offset just past it.
func (b *Buffer) StringAt(off int) ([]byte, int, error) {
	n, err := b.Uint32At(off)
	if err != nil {
		return nil, off, err
	}
	start := off + 4
	if uint64(n) > uint64(b.Len()-start) {
		return nil, off, fmt.Errorf("%w: string of %d bytes at %d", ErrShortBuffer, n, off)
	}
	end := start + int(n)
	return b.Bytes()[start:end], end, nil
}

// Uint32At returns the big-endian uint32 off bytes past the cursor.
func (b *Buffer) Uint32At(off int) (uint32, error) {
	if off < 0 || b.Len()-off < 4 {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint32(b.Bytes()[off:]), nil
}

// Uint64At returns the big-endian uint64 off bytes past the cursor.
func (b *Buffer) Uint64At(off int) (uint64, error) {
	if off < 0 || b.Len()-off < 8 {
		return 0, ErrShortBuffer
	}
	return binary.BigEndian.Uint64(b.Bytes()[off:]), nil
}

// GetUint32 consumes a uint32.
func (b *Buffer) GetUint32() (uint32, error) {
	v, err := b.Uint32At(0)
	if err == nil {
		b.off += 4
	}
	return v, err
}

// GetUint64 consumes a uint64.
func (b *Buffer) GetUint64() (uint64, error) {
	v, err := b.Uint64At(0)
	if err == nil {
		b.off += 8
	}
	return v, err
}

// GetString consumes a length-prefixed string.
func (b *Buffer) GetString() ([]byte, error) {
	s, next, err := b.StringAt(0)
	if err == nil {
		b.off += next
	}
	return s, err
}

// PutUint32 appends v.
func (b *Buffer) PutUint32(v uint32) {
	b.buf = binary.BigEndian.AppendUint32(b.buf, v)
}

// PutUint64 appends v.
func (b *Buffer) PutUint64(v uint64) {
	b.buf = binary.BigEndian.AppendUint64(b.buf, v)
}

// PutString appends s with its length prefix.
func (b *Buffer) PutString(s string) {
	b.PutUint32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// PutBytes appends p with its length prefix.
func (b *Buffer) PutBytes(p []byte) {
	b.PutUint32(uint32(len(p)))
	b.buf = append(b.buf, p...)
}

// PutUint8 appends v.
func (b *Buffer) PutUint8(v uint8) {
	b.buf = append(b.buf, v)
}
