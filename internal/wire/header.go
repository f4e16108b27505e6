package wire

import (
	"encoding/binary"
	"fmt"
	"log/slog"
)

const (
	prefixByte       = 0x03
	estimationHeader = 0x80
	reservedByte     = 0x00
	headerSize       = 8
)

// Header is the decoded 8-byte frame preamble: prefix, identifier, info,
// reserved, and the little-endian size of the body that follows.
type Header struct {
	Identifier Identifier
	Size       uint32
}

func (h Header) String() string {
	return fmt.Sprintf("Header(identifier: %s, size: %d)", h.Identifier, h.Size)
}

// ReadHeader reads one 8-byte header message from the socket. If the header
// is an estimation header (info == 0x80), it is skipped transparently and
// the next header is read in its place; callers never observe estimation
// headers. Unknown prefixes, reserved bytes, or identifiers are reported as
// ErrProtocolViolation.
func (c *Codec) ReadHeader() (Header, error) {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return Header{}, fmt.Errorf("wire: read header: %w", err)
	}
	if len(b) < headerSize {
		return Header{}, fmt.Errorf("%w: header too short (%d bytes)", ErrProtocolViolation, len(b))
	}

	prefix := b[0]
	rawIdentifier := b[1]
	info := b[2]
	reserved := b[3]
	size := binary.LittleEndian.Uint32(b[4:8])

	if prefix != prefixByte {
		return Header{}, fmt.Errorf("%w: bad prefix byte 0x%02x", ErrProtocolViolation, prefix)
	}

	if info == estimationHeader {
		slog.Debug("wire: estimation header, skipping to next header", "announcedSize", size)
		return c.ReadHeader()
	}

	if reserved != reservedByte {
		return Header{}, fmt.Errorf("%w: reserved byte must be zero, got 0x%02x", ErrProtocolViolation, reserved)
	}

	id, ok := parseIdentifier(rawIdentifier)
	if !ok {
		return Header{}, fmt.Errorf("%w: unknown identifier %d", ErrProtocolViolation, rawIdentifier)
	}

	return Header{Identifier: id, Size: size}, nil
}
