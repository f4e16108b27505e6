package wire_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/loxone-go/miniserverd/internal/wire"
)

// fakeConn replays a fixed sequence of messages, one per ReadMessage call,
// and records every WriteMessage call.
type fakeConn struct {
	reads   [][]byte
	readPos int
	writes  [][]byte
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	if f.readPos >= len(f.reads) {
		return 0, nil, errors.New("fakeConn: exhausted")
	}
	b := f.reads[f.readPos]
	f.readPos++
	return 2, b, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.writes = append(f.writes, append([]byte(nil), data...))
	return nil
}

func header(prefix, id, info, reserved byte, size uint32) []byte {
	b := make([]byte, 8)
	b[0], b[1], b[2], b[3] = prefix, id, info, reserved
	binary.LittleEndian.PutUint32(b[4:], size)
	return b
}

func TestReadHeader_Basic(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{header(0x03, 2, 0x00, 0x00, 48)}}
	c := wire.New(conn)

	h, err := c.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Identifier != wire.ValueStates || h.Size != 48 {
		t.Fatalf("got %+v", h)
	}
}

func TestReadHeader_SkipsEstimationHeader(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{
		header(0x03, 2, 0x80, 0x00, 1000), // estimation header, skipped
		header(0x03, 2, 0x00, 0x00, 48),   // the real header
	}}
	c := wire.New(conn)

	h, err := c.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if h.Size != 48 {
		t.Fatalf("expected the real header to be returned, got %+v", h)
	}
}

func TestReadHeader_BadPrefix(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{header(0x04, 2, 0x00, 0x00, 0)}}
	c := wire.New(conn)

	_, err := c.ReadHeader()
	if !errors.Is(err, wire.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestReadHeader_BadReserved(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{header(0x03, 2, 0x00, 0x01, 0)}}
	c := wire.New(conn)

	_, err := c.ReadHeader()
	if !errors.Is(err, wire.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestReadHeader_UnknownIdentifier(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{header(0x03, 99, 0x00, 0x00, 0)}}
	c := wire.New(conn)

	_, err := c.ReadHeader()
	if !errors.Is(err, wire.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestExpect_Mismatch(t *testing.T) {
	h := wire.Header{Identifier: wire.Text}
	if err := wire.Expect(h, wire.File); !errors.Is(err, wire.ErrProtocolViolation) {
		t.Fatalf("expected mismatch error, got %v", err)
	}
	if err := wire.Expect(h, wire.Text); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestReadJSON(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{[]byte(`{"LL":{"control":"x","Code":"200","value":"1"}}`)}}
	c := wire.New(conn)

	var env struct {
		LL struct {
			Control string `json:"control"`
			Code    string `json:"Code"`
			Value   string `json:"value"`
		} `json:"LL"`
	}
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if env.LL.Code != "200" {
		t.Fatalf("got %+v", env)
	}
}

func TestReadValueStates_UUIDRendering(t *testing.T) {
	record := []byte{
		0x01, 0x00, 0x00, 0x00, // time_low
		0x02, 0x00, // time_mid
		0x03, 0x00, // time_hi
		0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, // node
		0, 0, 0, 0, 0, 0, 0, 0, // value (zero, not under test here)
	}

	conn := &fakeConn{reads: [][]byte{record}}
	c := wire.New(conn)

	updates, err := c.ReadValueStates(wire.Header{Identifier: wire.ValueStates, Size: 24})
	if err != nil {
		t.Fatalf("ReadValueStates: %v", err)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(updates))
	}
	want := "00000001-0002-0003-0405060708090a0b"
	if updates[0].ID != want {
		t.Fatalf("got id %q, want %q", updates[0].ID, want)
	}
}

func TestReadValueStates_ValueDecoding(t *testing.T) {
	record := make([]byte, 24)
	binary.LittleEndian.PutUint64(record[16:24], math.Float64bits(21.5))

	conn := &fakeConn{reads: [][]byte{record}}
	c := wire.New(conn)

	updates, err := c.ReadValueStates(wire.Header{Identifier: wire.ValueStates, Size: 24})
	if err != nil {
		t.Fatalf("ReadValueStates: %v", err)
	}
	if updates[0].Value != 21.5 {
		t.Fatalf("got value %v, want 21.5", updates[0].Value)
	}
}

func TestReadValueStates_BadSize(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{make([]byte, 23)}}
	c := wire.New(conn)

	_, err := c.ReadValueStates(wire.Header{Identifier: wire.ValueStates, Size: 23})
	if !errors.Is(err, wire.ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestSendKeepAlive(t *testing.T) {
	conn := &fakeConn{}
	c := wire.New(conn)

	if err := c.SendKeepAlive(); err != nil {
		t.Fatalf("SendKeepAlive: %v", err)
	}
	if len(conn.writes) != 1 || string(conn.writes[0]) != "keepalive" {
		t.Fatalf("got writes %v", conn.writes)
	}
}
