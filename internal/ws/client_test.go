package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/roomchat/internal/transport"
)

// fakeBroker is a minimal STOMP server: it answers CONNECT and records every
// frame the client sends.
type fakeBroker struct {
	srv    *httptest.Server
	reject string
	frames chan *Frame
	conns  chan net.Conn
}

func newFakeBroker(t *testing.T, reject string) *fakeBroker {
	t.Helper()
	b := &fakeBroker{
		reject: reject,
		frames: make(chan *Frame, 64),
		conns:  make(chan net.Conn, 4),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			return
		}
		go b.serve(conn)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws/websocket"
}

func (b *fakeBroker) serve(conn net.Conn) {
	defer conn.Close()
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		f, err := ParseFrame(data)
		if err != nil || f == nil {
			continue
		}
		b.frames <- f
		if f.Command == CmdConnect {
			if b.reject != "" {
				_ = wsutil.WriteServerText(conn, NewFrame(CmdError, nil, "message", b.reject).Encode())
				return
			}
			_ = wsutil.WriteServerText(conn, NewFrame(CmdConnected, nil, "version", "1.2", "heart-beat", "0,0").Encode())
			b.conns <- conn
		}
	}
}

func (b *fakeBroker) next(t *testing.T) *Frame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a client frame")
		return nil
	}
}

func (b *fakeBroker) conn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case c := <-b.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a connection")
		return nil
	}
}

func testClient(url string) *Client {
	cfg := DefaultClientConfig()
	cfg.URL = url
	cfg.ConnectTimeout = 2 * time.Second
	cfg.Heartbeat = HeartbeatConfig{}
	return NewClient(cfg)
}

// ---------------------------------------------------------------------------
// Test: Full connect / subscribe / deliver / send / close cycle
// ---------------------------------------------------------------------------

func TestClient_Lifecycle(t *testing.T) {
	b := newFakeBroker(t, "")
	c := testClient(b.url())

	if err := c.Connect(context.Background(), transport.Credentials{Token: "tok", Username: "bob"}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	connect := b.next(t)
	if connect.Command != CmdConnect {
		t.Fatalf("expected CONNECT, got %s", connect.Command)
	}
	if connect.Get("Authorization") != "Bearer tok" {
		t.Errorf("expected bearer token header, got %q", connect.Get("Authorization"))
	}
	if connect.Get("accept-version") != "1.2" {
		t.Errorf("expected accept-version 1.2, got %q", connect.Get("accept-version"))
	}
	server := b.conn(t)

	if err := c.Connect(context.Background(), transport.Credentials{}, nil); !errors.Is(err, transport.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}

	got := make(chan []byte, 1)
	id, err := c.Subscribe("/topic/rooms/7", func(p []byte) { got <- p })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sub := b.next(t)
	if sub.Command != CmdSubscribe || sub.Get("destination") != "/topic/rooms/7" || sub.Get("id") != string(id) {
		t.Fatalf("unexpected SUBSCRIBE frame: %+v", sub)
	}

	msg := NewFrame(CmdMessage, []byte(`{"text":"hi"}`), "subscription", string(id), "destination", "/topic/rooms/7")
	if err := wsutil.WriteServerText(server, msg.Encode()); err != nil {
		t.Fatalf("server write: %v", err)
	}
	select {
	case p := <-got:
		if string(p) != `{"text":"hi"}` {
			t.Errorf("unexpected payload %q", p)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message was not delivered")
	}

	if err := c.Send("/app/rooms/7/send", []byte(`{"text":"yo"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	send := b.next(t)
	if send.Command != CmdSend || send.Get("destination") != "/app/rooms/7/send" || string(send.Body) != `{"text":"yo"}` {
		t.Fatalf("unexpected SEND frame: %+v", send)
	}

	if err := c.Unsubscribe(id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unsub := b.next(t); unsub.Command != CmdUnsubscribe || unsub.Get("id") != string(id) {
		t.Fatalf("unexpected UNSUBSCRIBE frame: %+v", unsub)
	}
	if err := c.Unsubscribe(id); !errors.Is(err, transport.ErrUnknownSubscription) {
		t.Errorf("expected ErrUnknownSubscription, got %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if f := b.next(t); f.Command != CmdDisconnect {
		t.Errorf("expected DISCONNECT, got %s", f.Command)
	}
	if err := c.Send("/app/rooms/7/send", nil); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected after close, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Test: Connect rejected by an ERROR frame
// ---------------------------------------------------------------------------

func TestClient_ConnectRejected(t *testing.T) {
	b := newFakeBroker(t, "invalid token")
	c := testClient(b.url())

	err := c.Connect(context.Background(), transport.Credentials{Token: "bad"}, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("expected server message in error, got %v", err)
	}
	if _, err := c.Subscribe("/topic/rooms/1", func([]byte) {}); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestClient_DialFailure(t *testing.T) {
	c := testClient("ws://127.0.0.1:1/ws/websocket")
	if err := c.Connect(context.Background(), transport.Credentials{}, nil); err == nil {
		t.Fatal("expected dial error, got nil")
	}
}

// ---------------------------------------------------------------------------
// Test: Server-side close is reported once through onDrop
// ---------------------------------------------------------------------------

func TestClient_DropReported(t *testing.T) {
	b := newFakeBroker(t, "")
	c := testClient(b.url())

	dropped := make(chan error, 2)
	if err := c.Connect(context.Background(), transport.Credentials{}, func(err error) { dropped <- err }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.next(t)
	server := b.conn(t)

	if _, err := c.Subscribe("/user/queue/errors", func([]byte) {}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b.next(t)

	server.Close()

	select {
	case err := <-dropped:
		if err == nil {
			t.Error("expected a non-nil drop error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("drop was not reported")
	}

	if n := c.Subscriptions(); n != 0 {
		t.Errorf("expected subscriptions to be cleared, got %d", n)
	}
	if err := c.Send("/app/user/status", nil); !errors.Is(err, transport.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}

	// A second connect after the drop succeeds.
	if err := c.Connect(context.Background(), transport.Credentials{}, nil); err != nil {
		t.Fatalf("reconnect failed: %v", err)
	}
	c.Close()

	select {
	case err := <-dropped:
		t.Errorf("unexpected second drop report: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
