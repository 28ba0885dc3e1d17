package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patrik-fredon/ZipChat-sub000/internal/models"
)

type fakeConn struct {
	mu          sync.Mutex
	closeCount  int
	written     [][]byte
	pings       int
	pongHandler func(string) error
	inbound     chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	raw, ok := <-f.inbound
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, raw, nil
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pings++
	return nil
}

func (f *fakeConn) SetReadLimit(limit int64)           {}
func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) SetPongHandler(h func(appData string) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pongHandler = h
}

func (f *fakeConn) pong() bool {
	f.mu.Lock()
	h := f.pongHandler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h("")
	return true
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCount++
	return nil
}

func (f *fakeConn) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func testHub() *Hub {
	return NewHub(slog.Default(), nil)
}

func drain(t *testing.T, c *Client) models.Event {
	t.Helper()
	select {
	case raw := <-c.send:
		var ev models.Event
		require.NoError(t, json.Unmarshal(raw, &ev))
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event queued")
		return models.Event{}
	}
}

func TestHub_AtMostOneConnectionPerUser(t *testing.T) {
	hub := testHub()

	first := newFakeConn()
	second := newFakeConn()

	clientA := NewClient("alice", first, hub, slog.Default())
	clientB := NewClient("alice", second, hub, slog.Default())

	hub.Register(clientA)
	hub.Register(clientB)

	assert.Equal(t, 1, hub.Len())
	assert.Equal(t, 1, first.closes(), "superseded transport closed exactly once")
	assert.Equal(t, 0, second.closes())

	// The superseded client going away must not evict its successor.
	hub.Unregister(clientA)
	assert.Equal(t, 1, hub.Len())

	ok := hub.Send("alice", models.Event{Event: models.EventNewMessage})
	assert.True(t, ok)
	drain(t, clientB)
}

func TestHub_SendToOfflineUserIsDropped(t *testing.T) {
	hub := testHub()

	ok := hub.Send("nobody", models.Event{Event: models.EventNewMessage})
	assert.False(t, ok)
}

func TestHub_SendPreservesOrder(t *testing.T) {
	hub := testHub()
	conn := newFakeConn()
	client := NewClient("bob", conn, hub, slog.Default())
	hub.Register(client)

	for i := 0; i < 5; i++ {
		require.True(t, hub.Send("bob", models.Event{Event: models.EventTyping, Data: i}))
	}

	for i := 0; i < 5; i++ {
		ev := drain(t, client)
		assert.Equal(t, float64(i), ev.Data)
	}
}

func TestHub_SendEvictsStalledClient(t *testing.T) {
	hub := testHub()
	conn := newFakeConn()
	client := NewClient("carol", conn, hub, slog.Default())
	hub.Register(client)

	// No writePump draining: fill the buffer, then one more.
	for i := 0; i < sendBufferSize; i++ {
		require.True(t, hub.Send("carol", models.Event{Event: models.EventTyping}))
	}

	ok := hub.Send("carol", models.Event{Event: models.EventTyping})
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Len())
	assert.Equal(t, 1, conn.closes())
}

func TestHub_BroadcastExcludesUser(t *testing.T) {
	hub := testHub()

	alice := NewClient("alice", newFakeConn(), hub, slog.Default())
	bob := NewClient("bob", newFakeConn(), hub, slog.Default())
	carol := NewClient("carol", newFakeConn(), hub, slog.Default())
	hub.Register(alice)
	hub.Register(bob)
	hub.Register(carol)

	hub.Broadcast(models.Event{Event: models.EventMessageStatus}, "bob")

	drain(t, alice)
	drain(t, carol)
	select {
	case <-bob.send:
		t.Fatal("excluded user received broadcast")
	default:
	}
}

type recordingHandler struct {
	mu     sync.Mutex
	frames [][]byte
	reply  *models.Event
}

func (h *recordingHandler) HandleFrame(ctx context.Context, userID string, raw []byte) *models.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.frames = append(h.frames, raw)
	return h.reply
}

func TestClient_ReadPumpDispatchesAndUnregisters(t *testing.T) {
	hub := testHub()
	conn := newFakeConn()
	client := NewClient("dave", conn, hub, slog.Default())
	hub.Register(client)

	handler := &recordingHandler{reply: &models.Event{Event: models.EventError, Data: "bad frame"}}

	done := make(chan struct{})
	go func() {
		client.ReadPump(context.Background(), handler)
		close(done)
	}()

	conn.inbound <- []byte(`{"event":"garbage"}`)
	close(conn.inbound)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("read pump did not exit on closed transport")
	}

	handler.mu.Lock()
	assert.Len(t, handler.frames, 1)
	handler.mu.Unlock()

	// Handler reply was queued back to the same connection.
	ev := drain(t, client)
	assert.Equal(t, models.EventError, ev.Event)

	assert.Equal(t, 0, hub.Len(), "read pump exit deregisters the client")
}

func TestClient_PongRestoresAliveness(t *testing.T) {
	hub := testHub()
	conn := newFakeConn()
	client := NewClient("erin", conn, hub, slog.Default())

	go client.ReadPump(context.Background(), &recordingHandler{})
	defer close(conn.inbound)

	client.ResetAlive()
	assert.False(t, client.Alive())

	require.Eventually(t, func() bool { return conn.pong() }, time.Second, 5*time.Millisecond)
	assert.True(t, client.Alive())
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	hub := testHub()
	conn := newFakeConn()
	client := NewClient("frank", conn, hub, slog.Default())

	client.Close()
	client.Close()
	assert.Equal(t, 1, conn.closes())

	assert.False(t, client.enqueue([]byte("x")), "closed client accepts no writes")
}
