package supervisor

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loxone-go/miniserverd/internal/config"
	"github.com/loxone-go/miniserverd/internal/model"
	"github.com/loxone-go/miniserverd/internal/snapshot"
	"github.com/loxone-go/miniserverd/internal/wire"
)

func TestIsCleanClose(t *testing.T) {
	clean := &websocket.CloseError{Code: websocket.CloseNormalClosure}
	if !isCleanClose(clean) {
		t.Fatal("expected a normal-closure CloseError to be reported clean")
	}

	abnormal := &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	if isCleanClose(abnormal) {
		t.Fatal("expected an abnormal-closure CloseError to not be reported clean")
	}

	if isCleanClose(errors.New("boom")) {
		t.Fatal("expected a plain error to not be reported clean")
	}
}

type fakeConn struct {
	reads   [][]byte
	readPos int
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	if f.readPos >= len(f.reads) {
		return 0, nil, errors.New("fakeConn: exhausted")
	}
	b := f.reads[f.readPos]
	f.readPos++
	return 1, b, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error { return nil }

func header(id byte, size uint32) []byte {
	b := make([]byte, 8)
	b[0], b[1], b[2], b[3] = 0x03, id, 0x00, 0x00
	binary.LittleEndian.PutUint32(b[4:], size)
	return b
}

func TestRunIngest_RoutesValueStatesAndStopsOnReadError(t *testing.T) {
	record := make([]byte, 24)
	conn := &fakeConn{reads: [][]byte{
		header(byte(wire.ValueStates), 24), record,
		header(byte(wire.Keepalive), 0),
	}}
	codec := wire.New(conn)

	doc := model.StructureDocument{Rooms: map[string]model.RoomDoc{}, Controls: map[string]model.ControlDoc{}}
	building, err := model.NewBuilding(doc)
	if err != nil {
		t.Fatalf("NewBuilding: %v", err)
	}

	var mu sync.Mutex
	sched := snapshot.New(noopWriter{}, &mu, building)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = runIngest(ctx, codec, &mu, building, sched)
	if err == nil {
		t.Fatal("expected runIngest to return once the fake connection is exhausted or ctx is done")
	}
}

func TestSupervisor_StatsStartsEmpty(t *testing.T) {
	sup := New(config.Miniserver{Hostname: "miniserver.local"}, noopWriter{})
	if got := sup.Stats(); got == "" {
		t.Fatal("expected Stats to return a non-empty summary even with no samples")
	}
}

type noopWriter struct{}

func (noopWriter) WriteSnapshot(ctx context.Context, at time.Time, rooms []*model.Room) error {
	return nil
}

func (noopWriter) Close() error { return nil }
