// Package wire provides the minimal SFTP (draft-ietf-secsh-filexfer-02)
// framing used by the observers: packet headers, big-endian integers and
// length-prefixed strings.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Request packet types.
const (
	TypeInit     uint8 = 1
	TypeVersion  uint8 = 2
	TypeOpen     uint8 = 3
	TypeClose    uint8 = 4
	TypeRead     uint8 = 5
	TypeWrite    uint8 = 6
	TypeLstat    uint8 = 7
	TypeFstat    uint8 = 8
	TypeSetstat  uint8 = 9
	TypeFsetstat uint8 = 10
	TypeOpendir  uint8 = 11
	TypeReaddir  uint8 = 12
	TypeRemove   uint8 = 13
	TypeMkdir    uint8 = 14
	TypeRmdir    uint8 = 15
	TypeRealpath uint8 = 16
	TypeStat     uint8 = 17
	TypeRename   uint8 = 18
	TypeReadlink uint8 = 19
	TypeSymlink  uint8 = 20
)

// Response packet types.
const (
	TypeStatus        uint8 = 101
	TypeHandle        uint8 = 102
	TypeData          uint8 = 103
	TypeName          uint8 = 104
	TypeAttrs         uint8 = 105
	TypeExtended      uint8 = 200
	TypeExtendedReply uint8 = 201
)

// TypeResponseFlush is the pseudo opcode a host dispatches while it flushes
// its output queue. It never appears on the wire.
const TypeResponseFlush uint8 = 0

// MaxMessageLength is the largest SFTP message the server accepts.
const MaxMessageLength = 256 * 1024

// StatusOK is the SSH_FX_OK status code.
const StatusOK uint32 = 0

// HeaderLength is the size of length, type and request id ahead of a
// response payload.
const HeaderLength = 4 + 1 + 4

var (
	ErrShortBuffer = errors.New("wire: buffer too short")
	ErrTooLong     = errors.New("wire: message too long")
	ErrEmpty       = errors.New("wire: empty message")
)

var typeNames = map[uint8]string{
	TypeInit:          "init",
	TypeVersion:       "version",
	TypeOpen:          "open",
	TypeClose:         "close",
	TypeRead:          "read",
	TypeWrite:         "write",
	TypeLstat:         "lstat",
	TypeFstat:         "fstat",
	TypeSetstat:       "setstat",
	TypeFsetstat:      "fsetstat",
	TypeOpendir:       "opendir",
	TypeReaddir:       "readdir",
	TypeRemove:        "remove",
	TypeMkdir:         "mkdir",
	TypeRmdir:         "rmdir",
	TypeRealpath:      "realpath",
	TypeStat:          "stat",
	TypeRename:        "rename",
	TypeReadlink:      "readlink",
	TypeSymlink:       "symlink",
	TypeStatus:        "status",
	TypeHandle:        "handle",
	TypeData:          "data",
	TypeName:          "name",
	TypeAttrs:         "attrs",
	TypeExtended:      "extended",
	TypeExtendedReply: "extended_reply",
}

// TypeString returns the lower-case name of a packet type.
func TypeString(t uint8) string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type%d", t)
}

// Packet is one decoded SFTP message.
type Packet struct {
	Type    uint8
	ID      uint32
	Payload []byte
}

// ReadPacket decodes a response packet from the head of b. The payload
// aliases b.
func ReadPacket(b []byte) (Packet, error) {
	if len(b) < 4 {
		return Packet{}, ErrShortBuffer
	}
	n := binary.BigEndian.Uint32(b)
	if n == 0 {
		return Packet{}, ErrEmpty
	}
	if n > MaxMessageLength {
		return Packet{}, fmt.Errorf("%w: %d bytes", ErrTooLong, n)
	}
	if n < 5 || len(b)-4 < int(n) {
		return Packet{}, ErrShortBuffer
	}
	body := b[4 : 4+n]
	return Packet{
		Type:    body[0],
		ID:      binary.BigEndian.Uint32(body[1:5]),
		Payload: body[5:],
	}, nil
}

// AppendPacket appends the framed encoding of p to dst.
func AppendPacket(dst []byte, p Packet) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(1+4+len(p.Payload)))
	dst = append(dst, p.Type)
	dst = binary.BigEndian.AppendUint32(dst, p.ID)
	return append(dst, p.Payload...)
}
