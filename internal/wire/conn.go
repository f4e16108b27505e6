package wire

import "github.com/gorilla/websocket"

// MessageConn is the subset of *websocket.Conn the codec needs. Defined as an
// interface so tests can drive the codec over an in-memory fake instead of a
// real socket.
type MessageConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

var _ MessageConn = (*websocket.Conn)(nil)

// Codec reads and writes framed messages on one MessageConn. It is not safe
// for concurrent use by multiple readers (the protocol is inherently
// request/response ordered per §4.1), but Send and SendKeepAlive may be
// called from a different goroutine than the one reading headers/bodies, as
// long as the underlying transport allows concurrent send/recv.
type Codec struct {
	conn MessageConn
}

// New wraps conn in a Codec.
func New(conn MessageConn) *Codec {
	return &Codec{conn: conn}
}
