package ws

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Test: Frame encoding and decoding
// ---------------------------------------------------------------------------

func TestFrame_EncodeParse(t *testing.T) {
	f := NewFrame(CmdSend, []byte(`{"text":"hi"}`),
		"destination", "/app/rooms/7/send",
		"content-type", "application/json",
	)

	got, err := ParseFrame(f.Encode())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Command != CmdSend {
		t.Errorf("expected command %q, got %q", CmdSend, got.Command)
	}
	if got.Get("destination") != "/app/rooms/7/send" {
		t.Errorf("unexpected destination %q", got.Get("destination"))
	}
	if got.Get("content-length") != "13" {
		t.Errorf("expected content-length 13, got %q", got.Get("content-length"))
	}
	if !bytes.Equal(got.Body, f.Body) {
		t.Errorf("expected body %q, got %q", f.Body, got.Body)
	}
}

func TestFrame_HeaderEscaping(t *testing.T) {
	value := "a:b\nc\\d\re"
	f := NewFrame(CmdMessage, nil, "x-note", value)

	encoded := string(f.Encode())
	if !strings.Contains(encoded, `x-note:a\cb\nc\\d\re`) {
		t.Fatalf("header not escaped: %q", encoded)
	}

	got, err := ParseFrame([]byte(encoded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Get("x-note") != value {
		t.Errorf("expected %q, got %q", value, got.Get("x-note"))
	}
}

func TestFrame_ConnectNotEscaped(t *testing.T) {
	f := NewFrame(CmdConnect, nil, "host", "chat:8080")
	if !strings.Contains(string(f.Encode()), "host:chat:8080\n") {
		t.Errorf("CONNECT headers must not be escaped: %q", f.Encode())
	}
}

func TestParseFrame_Heartbeat(t *testing.T) {
	for _, in := range []string{"\n", "\r\n", "\n\n"} {
		f, err := ParseFrame([]byte(in))
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", in, err)
		}
		if f != nil {
			t.Errorf("expected nil frame for heart-beat %q, got %+v", in, f)
		}
	}
}

func TestParseFrame_CRLFAndRepeatedHeaders(t *testing.T) {
	raw := "MESSAGE\r\nsubscription:a\r\nsubscription:b\r\n\r\nbody\x00"
	f, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Get("subscription") != "a" {
		t.Errorf("expected first header to win, got %q", f.Get("subscription"))
	}
	if string(f.Body) != "body" {
		t.Errorf("expected body %q, got %q", "body", f.Body)
	}
}

func TestParseFrame_ContentLengthWithNUL(t *testing.T) {
	raw := "MESSAGE\ncontent-length:3\n\na\x00b\x00"
	f, err := ParseFrame([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(f.Body) != "a\x00b" {
		t.Errorf("unexpected body %q", f.Body)
	}
}

func TestParseFrame_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no newline", "MESSAGE"},
		{"no header terminator", "MESSAGE\nsubscription:a\n"},
		{"header without colon", "MESSAGE\nbroken\n\n\x00"},
		{"missing NUL", "MESSAGE\n\nbody"},
		{"short content-length", "MESSAGE\ncontent-length:10\n\nab\x00"},
		{"bad content-length", "MESSAGE\ncontent-length:x\n\n\x00"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseFrame([]byte(tc.raw)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Test: Heart-beat negotiation
// ---------------------------------------------------------------------------

func TestNegotiate(t *testing.T) {
	offer := HeartbeatConfig{Interval: 10 * time.Second}

	tests := []struct {
		name     string
		server   string
		wantSend time.Duration
		wantRecv time.Duration
	}{
		{"server disabled", "0,0", 0, 0},
		{"server slower", "20000,30000", 30 * time.Second, 20 * time.Second},
		{"server faster", "1000,1000", 10 * time.Second, 10 * time.Second},
		{"server only receives", "0,5000", 10 * time.Second, 0},
		{"missing header", "", 0, 0},
		{"garbage", "a,b", 0, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			send, recv := negotiate(offer, tc.server)
			if send != tc.wantSend || recv != tc.wantRecv {
				t.Errorf("expected send=%s recv=%s, got send=%s recv=%s",
					tc.wantSend, tc.wantRecv, send, recv)
			}
		})
	}

	if send, recv := negotiate(HeartbeatConfig{}, "1000,1000"); send != 0 || recv != 0 {
		t.Errorf("expected disabled heart-beat without a client offer, got %s/%s", send, recv)
	}
}
