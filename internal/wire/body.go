package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/gorilla/websocket"
)

// ValueUpdate is one decoded entry from a VALUE_STATES body: an identifier
// rendered in the Miniserver's own (non-RFC-4122) canonical form, paired with
// the float64 it now carries.
type ValueUpdate struct {
	ID    string
	Value float64
}

// Expect asserts that h carries the wanted identifier, surfacing a mismatch
// as ErrProtocolViolation. Handshake steps use this to enforce "expected FILE
// not TEXT" contracts (§4.1).
func Expect(h Header, want Identifier) error {
	if h.Identifier != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrProtocolViolation, want, h.Identifier)
	}
	return nil
}

// ReadText reads one socket message and decodes it as UTF-8 text. Caller is
// responsible for having already confirmed h.Identifier == Text via Expect.
func (c *Codec) ReadText() (string, error) {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("wire: read text body: %w", err)
	}
	return string(b), nil
}

// ReadFile is identical to ReadText but is named separately so callers can
// require the FILE identifier (§4.1) rather than TEXT at the call site.
func (c *Codec) ReadFile() (string, error) {
	return c.ReadText()
}

// ReadJSON reads one socket message and unmarshals it into v.
func (c *Codec) ReadJSON(v any) error {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("wire: read json body: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("wire: decode json body: %w", err)
	}
	return nil
}

// valueStateRecordSize is the fixed width, in bytes, of one value-state
// entry: a 16-byte UUID-shaped identifier followed by an 8-byte float64.
const valueStateRecordSize = 24

// ReadValueStates reads one socket message of h.Size bytes and decodes it as
// a sequence of 24-byte value-state records. A size that is not a multiple
// of 24 is a protocol violation.
func (c *Codec) ReadValueStates(h Header) ([]ValueUpdate, error) {
	_, b, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("wire: read value-states body: %w", err)
	}
	if len(b)%valueStateRecordSize != 0 {
		return nil, fmt.Errorf("%w: value-states size %d is not a multiple of %d", ErrProtocolViolation, len(b), valueStateRecordSize)
	}

	updates := make([]ValueUpdate, 0, len(b)/valueStateRecordSize)
	for i := 0; i < len(b); i += valueStateRecordSize {
		updates = append(updates, decodeValueState(b[i:i+valueStateRecordSize]))
	}
	return updates, nil
}

// decodeValueState renders the 24-byte record's UUID-shaped identifier as
// "xxxxxxxx-xxxx-xxxx-xxxxxxxxxxxxxxxx" — note the final group is 16 hex
// characters, not the RFC-4122 8+12 split. This matches the Miniserver's own
// convention (see §3, §9) and MUST NOT be "corrected" to standard UUID form.
func decodeValueState(r []byte) ValueUpdate {
	timeLow := binary.LittleEndian.Uint32(r[0:4])
	timeMid := binary.LittleEndian.Uint16(r[4:6])
	timeHi := binary.LittleEndian.Uint16(r[6:8])
	node := r[8:16]

	id := fmt.Sprintf(
		"%08x-%04x-%04x-%02x%02x%02x%02x%02x%02x%02x%02x",
		timeLow, timeMid, timeHi,
		node[0], node[1], node[2], node[3], node[4], node[5], node[6], node[7],
	)

	bits := binary.LittleEndian.Uint64(r[16:24])
	value := math.Float64frombits(bits)

	return ValueUpdate{ID: id, Value: value}
}

// Send transmits a plain UTF-8 text frame (an outbound command).
func (c *Codec) Send(message string) error {
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(message)); err != nil {
		return fmt.Errorf("wire: send: %w", err)
	}
	return nil
}

// SendKeepAlive sends the literal "keepalive" text message.
func (c *Codec) SendKeepAlive() error {
	return c.Send("keepalive")
}
