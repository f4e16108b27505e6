package handshake_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/loxone-go/miniserverd/internal/handshake"
	"github.com/loxone-go/miniserverd/internal/wire"
)

// fakeConn replays a fixed sequence of messages, one per ReadMessage call,
// and records every WriteMessage call — mirroring internal/wire's test
// double since handshake drives the same MessageConn interface.
type fakeConn struct {
	reads   [][]byte
	readPos int
	writes  []string
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	if f.readPos >= len(f.reads) {
		return 0, nil, errors.New("fakeConn: exhausted")
	}
	b := f.reads[f.readPos]
	f.readPos++
	return 1, b, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.writes = append(f.writes, string(data))
	return nil
}

func header(id byte, size uint32) []byte {
	b := make([]byte, 8)
	b[0], b[1], b[2], b[3] = 0x03, id, 0x00, 0x00
	binary.LittleEndian.PutUint32(b[4:], size)
	return b
}

func testCertPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	block := &pem.Block{Type: "CERTIFICATE", Bytes: der}
	return string(pem.EncodeToMemory(block))
}

func TestRun_HappyPath(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{
		header(0, 2), []byte(`{}`), // H1 ack
		header(0, 2), []byte(`{"LL":{"control":"jdev/sys/getkey2/loxone","code":"200","value":{"hashAlg":"SHA1","key":"ab","salt":"cd"}}}`), // H2
		header(0, 2), []byte(`{}`),                                 // H3 ack
		header(1, 2), []byte(`{"rooms":{},"controls":{}}`),         // H4 structure
		header(0, 2), []byte(`{"LL":{"control":"jdev/sps/enablebinstatusupdate","code":"200","value":"1"}}`), // H5
	}}

	codec := wire.New(conn)
	result, err := handshake.Run(context.Background(), codec, testCertPEM(t), "loxone", "loxone")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(result.Structure) != `{"rooms":{},"controls":{}}` {
		t.Fatalf("structure: got %q", result.Structure)
	}

	if len(conn.writes) != 5 {
		t.Fatalf("writes: got %d, want 5", len(conn.writes))
	}
	if want := "jdev/sys/getkey2/loxone"; conn.writes[1] != want {
		t.Fatalf("H2 command: got %q, want %q", conn.writes[1], want)
	}
	if want := "jdev/sps/enablebinstatusupdate"; conn.writes[4] != want {
		t.Fatalf("H5 command: got %q, want %q", conn.writes[4], want)
	}
}

func TestRun_RejectsUnknownHashAlg(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{
		header(0, 2), []byte(`{}`),
		header(0, 2), []byte(`{"LL":{"control":"jdev/sys/getkey2/loxone","code":"200","value":{"hashAlg":"MD5","key":"ab","salt":"cd"}}}`),
	}}

	codec := wire.New(conn)
	_, err := handshake.Run(context.Background(), codec, testCertPEM(t), "loxone", "loxone")
	if err == nil {
		t.Fatal("expected an error for an unsupported hash algorithm")
	}
}

func TestRun_RejectsBadCode(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{
		header(0, 2), []byte(`{}`),
		header(0, 2), []byte(`{"LL":{"control":"jdev/sys/getkey2/loxone","code":"401","value":{"hashAlg":"SHA1","key":"ab","salt":"cd"}}}`),
	}}

	codec := wire.New(conn)
	_, err := handshake.Run(context.Background(), codec, testCertPEM(t), "loxone", "loxone")
	if err == nil {
		t.Fatal("expected an error for a non-200 code")
	}
}

func TestRun_RejectsBadH5Code(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{
		header(0, 2), []byte(`{}`),
		header(0, 2), []byte(`{"LL":{"control":"jdev/sys/getkey2/loxone","code":"200","value":{"hashAlg":"SHA1","key":"ab","salt":"cd"}}}`),
		header(0, 2), []byte(`{}`),
		header(1, 2), []byte(`{"rooms":{},"controls":{}}`),
		header(0, 2), []byte(`{"LL":{"control":"jdev/sps/enablebinstatusupdate","code":"500","value":"0"}}`),
	}}

	codec := wire.New(conn)
	_, err := handshake.Run(context.Background(), codec, testCertPEM(t), "loxone", "loxone")
	if err == nil {
		t.Fatal("expected an error for a non-200 H5 code")
	}
}

func TestRun_RejectsBadH5Value(t *testing.T) {
	conn := &fakeConn{reads: [][]byte{
		header(0, 2), []byte(`{}`),
		header(0, 2), []byte(`{"LL":{"control":"jdev/sys/getkey2/loxone","code":"200","value":{"hashAlg":"SHA1","key":"ab","salt":"cd"}}}`),
		header(0, 2), []byte(`{}`),
		header(1, 2), []byte(`{"rooms":{},"controls":{}}`),
		header(0, 2), []byte(`{"LL":{"control":"jdev/sps/enablebinstatusupdate","code":"200","value":"0"}}`),
	}}

	codec := wire.New(conn)
	_, err := handshake.Run(context.Background(), codec, testCertPEM(t), "loxone", "loxone")
	if err == nil {
		t.Fatal("expected an error for an unexpected H5 value")
	}
}
