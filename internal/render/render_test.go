package render

import (
	"strings"
	"testing"
	"time"

	"github.com/whisper/roomchat/internal/protocol"
)

func newTestRenderer() *Renderer {
	return New("me", time.UTC)
}

// 2024-01-01 09:05:00 UTC
const nineOhFive = int64(1704099900000)

func TestText_StripsMarkup(t *testing.T) {
	r := newTestRenderer()

	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"<b>bold</b>", "bold"},
		{`<script>alert("x")</script>hi`, "hi"},
		{"a < b && c > d", "a < b && c > d"},
		{"line\nbreak", "line break"},
		{"bell\x07", "bell"},
	}
	for _, tt := range tests {
		if got := r.Text(tt.in); got != tt.want {
			t.Errorf("Text(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestInitials(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Ann Lee", "AL"},
		{"bob", "B"},
		{"  élodie   marie ", "ÉM"},
		{"", "?"},
	}
	for _, tt := range tests {
		if got := Initials(tt.in); got != tt.want {
			t.Errorf("Initials(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestMessage(t *testing.T) {
	r := newTestRenderer()

	other := protocol.ChatMessage{Sender: protocol.UserRef{Username: "ann", DisplayName: "Ann Lee"}, Text: "<i>hi</i>", Timestamp: nineOhFive}
	if got, want := r.Message(other), "  09:05 [AL] Ann Lee: hi"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	own := protocol.ChatMessage{Sender: protocol.UserRef{Username: "me"}, Text: "yo", Timestamp: nineOhFive}
	if !r.IsOwn(own) {
		t.Fatal("expected own message")
	}
	if got := r.Message(own); !strings.HasPrefix(got, "> ") {
		t.Errorf("expected own marker, got %q", got)
	}
}

func TestEvent(t *testing.T) {
	r := newTestRenderer()

	tests := []struct {
		name string
		ev   protocol.RoomEvent
		want string
	}{
		{
			"server message wins",
			protocol.RoomEvent{Type: protocol.TypeUserJoined, Message: "Ann joined", Timestamp: nineOhFive},
			"-- Ann joined (09:05)",
		},
		{
			"joined fallback",
			protocol.RoomEvent{Type: protocol.TypeUserJoined, User: protocol.UserRef{Username: "ann"}, Timestamp: nineOhFive},
			"-- ann joined the room (09:05)",
		},
		{
			"renamed fallback",
			protocol.RoomEvent{Type: protocol.TypeRoomRenamed, Name: "<b>lounge</b>"},
			"-- Room renamed to lounge (--:--)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Event(tt.ev); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestTyping(t *testing.T) {
	r := newTestRenderer()
	ann := protocol.UserRef{Username: "ann", DisplayName: "Ann"}
	bob := protocol.UserRef{Username: "bob"}
	cat := protocol.UserRef{Username: "cat"}
	dan := protocol.UserRef{Username: "dan"}

	tests := []struct {
		users []protocol.UserRef
		want  string
	}{
		{nil, ""},
		{[]protocol.UserRef{ann}, "Ann is typing..."},
		{[]protocol.UserRef{ann, bob}, "Ann and bob are typing..."},
		{[]protocol.UserRef{ann, bob, cat, dan}, "Ann, bob and 2 others are typing..."},
	}
	for _, tt := range tests {
		if got := r.Typing(tt.users); got != tt.want {
			t.Errorf("expected %q, got %q", tt.want, got)
		}
	}
}

func TestMemberAndRoomRows(t *testing.T) {
	r := newTestRenderer()

	m := protocol.Member{Username: "ann", DisplayName: "Ann Lee", Status: protocol.StatusAway, Role: "ADMIN"}
	if got, want := r.Member(m), "[AL] Ann Lee  away  admin"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	room := protocol.Room{ID: "7", Name: "general", Description: "talk", IsPrivate: true}
	if got, want := r.Room(room), "#7 general (private) - talk"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	if MemberCount(1) != "1 member" || MemberCount(3) != "3 members" {
		t.Error("unexpected member count wording")
	}
	if got := r.Presence("ann", protocol.StatusOffline); got != "-- ann is now offline" {
		t.Errorf("unexpected presence line %q", got)
	}
}
