// Package loxcc decodes the Miniserver's proprietary compressed
// configuration container: a zip archive holding a single "sps0.LoxCC"
// entry, itself a custom LZ-style compressed stream (§4.3).
package loxcc

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	entryName  = "sps0.LoxCC"
	magicWord  = 0xaabbccee
	headerSize = 16 // magic + compressedLen + uncompressedLen + crc32, all u32 LE
)

// ErrBadMagic, ErrSizeMismatch, and ErrChecksumMismatch are the codec
// failures named in §7 — surfaced to the caller, never torn down a running
// connection (the decompressor is only used on the offline backup path).
var (
	ErrBadMagic         = errors.New("loxcc: bad magic word")
	ErrSizeMismatch     = errors.New("loxcc: uncompressed size mismatch")
	ErrChecksumMismatch = errors.New("loxcc: crc32 checksum mismatch")
)

// Decompress reads a zip archive from r, opens its "sps0.LoxCC" entry, and
// returns the decoded configuration payload. Any framing, length, or
// checksum violation is returned as an error — never a panic.
func Decompress(r io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("loxcc: open zip: %w", err)
	}

	f, err := zr.Open(entryName)
	if err != nil {
		return nil, fmt.Errorf("loxcc: open %s: %w", entryName, err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("loxcc: read %s: %w", entryName, err)
	}

	return decodeEntry(raw)
}

// decodeEntry parses the 16-byte entry header and decompresses the packet
// stream that follows it.
func decodeEntry(raw []byte) ([]byte, error) {
	if len(raw) < headerSize {
		return nil, fmt.Errorf("loxcc: entry too short (%d bytes)", len(raw))
	}

	magic := binary.LittleEndian.Uint32(raw[0:4])
	if magic != magicWord {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrBadMagic, magic)
	}

	compressedLen := binary.LittleEndian.Uint32(raw[4:8])
	uncompressedLen := binary.LittleEndian.Uint32(raw[8:12])
	checksum := binary.LittleEndian.Uint32(raw[12:16])

	body := raw[headerSize:]
	if uint32(len(body)) < compressedLen {
		return nil, fmt.Errorf("loxcc: compressed body shorter than declared length")
	}
	body = body[:compressedLen]

	out, err := decompressPackets(body)
	if err != nil {
		return nil, err
	}

	if uint32(len(out)) != uncompressedLen {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrSizeMismatch, len(out), uncompressedLen)
	}

	if got := crc32.ChecksumIEEE(out); got != checksum {
		return nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrChecksumMismatch, got, checksum)
	}

	return out, nil
}

// decompressPackets runs the packet loop described in §4.3: a token byte
// splits into literal-length and match-length nibbles, each extensible via a
// run of 0xFF continuation bytes; literals copy straight from input, matches
// copy byte-by-byte from output so that offset==1 degenerates into
// run-length expansion.
func decompressPackets(data []byte) ([]byte, error) {
	return decodePacketsInto(nil, data)
}

// decodePacketsInto is decompressPackets parameterized over a starting
// output buffer, so individual packet semantics (notably the offset==1
// run-length case) can be exercised in isolation from a known prior state.
func decodePacketsInto(out []byte, data []byte) ([]byte, error) {
	index := 0

	readExtension := func(base int) (int, error) {
		total := base
		for {
			if index >= len(data) {
				return 0, fmt.Errorf("loxcc: truncated length extension")
			}
			b := data[index]
			index++
			total += int(b)
			if b != 0xff {
				break
			}
		}
		return total, nil
	}

	for index < len(data) {
		token := data[index]
		index++

		lit := int(token >> 4)
		mat := int(token & 0x0f)

		if lit == 15 {
			var err error
			lit, err = readExtension(lit)
			if err != nil {
				return nil, err
			}
		}

		if lit > 0 {
			if index+lit > len(data) {
				return nil, fmt.Errorf("loxcc: literal run exceeds input")
			}
			out = append(out, data[index:index+lit]...)
			index += lit
		}

		if index >= len(data) {
			break
		}

		if index+2 > len(data) {
			return nil, fmt.Errorf("loxcc: truncated match offset")
		}
		offset := int(binary.LittleEndian.Uint16(data[index : index+2]))
		index += 2

		mlen := 4 + mat
		if mat == 15 {
			var err error
			mlen, err = readExtension(mlen)
			if err != nil {
				return nil, err
			}
		}

		if offset <= 0 || offset > len(out) {
			return nil, fmt.Errorf("loxcc: match offset %d out of range (output so far %d bytes)", offset, len(out))
		}

		for i := 0; i < mlen; i++ {
			out = append(out, out[len(out)-offset])
		}
	}

	return out, nil
}
