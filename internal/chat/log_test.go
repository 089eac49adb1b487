package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/whisper/roomchat/internal/protocol"
)

func msg(text string, ts int64) protocol.ChatMessage {
	return protocol.ChatMessage{
		Type:      protocol.TypeMessage,
		RoomID:    "7",
		Sender:    protocol.UserRef{Username: "bob"},
		Text:      text,
		Timestamp: ts,
	}
}

func texts(msgs []protocol.ChatMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func TestAppendAndMessages(t *testing.T) {
	l := NewMessageLog(0)

	l.Append("7", msg("hello", 1))
	l.Append("7", msg("hi", 2))
	l.Append("7", msg("how are you?", 3))

	msgs := l.Messages("7")
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	want := []string{"hello", "hi", "how are you?"}
	for i, text := range texts(msgs) {
		if text != want[i] {
			t.Errorf("message[%d]: expected %q, got %q", i, want[i], text)
		}
	}
}

func TestAppendKeepsArrivalOrder(t *testing.T) {
	l := NewMessageLog(0)

	// Timestamps out of order: the log never reorders.
	l.Append("7", msg("second", 20))
	l.Append("7", msg("first", 10))

	got := texts(l.Messages("7"))
	if got[0] != "second" || got[1] != "first" {
		t.Errorf("expected arrival order, got %v", got)
	}
}

func TestRingBufferWraparound(t *testing.T) {
	l := NewMessageLog(5)

	// Add 7 messages; the log holds only 5.
	for i := 1; i <= 7; i++ {
		l.Append("7", msg(fmt.Sprintf("msg-%d", i), int64(i)))
	}

	msgs := l.Messages("7")
	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}

	// Should contain messages 3 through 7 in order.
	for i, m := range msgs {
		expected := fmt.Sprintf("msg-%d", i+3)
		if m.Text != expected {
			t.Errorf("message[%d]: expected %q, got %q", i, expected, m.Text)
		}
	}
	if l.Len("7") != 5 {
		t.Errorf("expected Len 5, got %d", l.Len("7"))
	}
}

func TestMessagesUnknownRoom(t *testing.T) {
	l := NewMessageLog(0)

	msgs := l.Messages("nope")
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", msgs)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	l := NewMessageLog(0)

	l.Append("1", msg("one", 1))
	l.Append("2", msg("two", 1))
	l.Remove("1")

	if l.Len("1") != 0 {
		t.Errorf("expected room 1 to be removed")
	}
	if l.Len("2") != 1 {
		t.Errorf("expected room 2 to be untouched")
	}
}

// ---------------------------------------------------------------------------
// Test: History merge
// ---------------------------------------------------------------------------

func TestLoadHistory(t *testing.T) {
	tests := []struct {
		name      string
		live      []protocol.ChatMessage
		history   []protocol.ChatMessage
		want      []string
		wantFresh []string
	}{
		{
			name:      "history only",
			history:   []protocol.ChatMessage{msg("a", 1), msg("b", 2)},
			want:      []string{"a", "b"},
			wantFresh: []string{"a", "b"},
		},
		{
			name:      "live message newer than history is kept",
			live:      []protocol.ChatMessage{msg("c", 3)},
			history:   []protocol.ChatMessage{msg("a", 1), msg("b", 2)},
			want:      []string{"a", "b", "c"},
			wantFresh: []string{"a", "b"},
		},
		{
			name:      "live message covered by history is dropped",
			live:      []protocol.ChatMessage{msg("b", 2), msg("c", 3)},
			history:   []protocol.ChatMessage{msg("a", 1), msg("b", 2)},
			want:      []string{"a", "b", "c"},
			wantFresh: []string{"a"},
		},
		{
			name:      "broadcast stamped after the stored copy is merged",
			live:      []protocol.ChatMessage{msg("hi", 1001)},
			history:   []protocol.ChatMessage{msg("hi", 1000)},
			want:      []string{"hi"},
			wantFresh: []string{},
		},
		{
			name:      "each stored copy absorbs one live message",
			live:      []protocol.ChatMessage{msg("hi", 1000)},
			history:   []protocol.ChatMessage{msg("hi", 990), msg("hi", 1000)},
			want:      []string{"hi", "hi"},
			wantFresh: []string{"hi"},
		},
		{
			name:      "entries older than the history window stay in front",
			live:      []protocol.ChatMessage{msg("z", 1)},
			history:   []protocol.ChatMessage{msg("a", 100000)},
			want:      []string{"z", "a"},
			wantFresh: []string{"a"},
		},
		{
			name:      "empty history keeps live messages",
			live:      []protocol.ChatMessage{msg("x", 9)},
			want:      []string{"x"},
			wantFresh: []string{},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := NewMessageLog(0)
			for _, m := range tc.live {
				l.Append("7", m)
			}
			merged, fresh := l.LoadHistory("7", tc.history)
			if got := texts(merged); fmt.Sprint(got) != fmt.Sprint(tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
			if got := texts(fresh); fmt.Sprint(got) != fmt.Sprint(tc.wantFresh) {
				t.Errorf("expected fresh %v, got %v", tc.wantFresh, got)
			}
			if fmt.Sprint(texts(l.Messages("7"))) != fmt.Sprint(tc.want) {
				t.Errorf("stored log differs from returned log")
			}
		})
	}
}

func TestLoadHistory_StoredCopyReplacesBroadcast(t *testing.T) {
	l := NewMessageLog(0)
	l.Append("7", msg("hi", 1001))

	stored := msg("hi", 1000)
	stored.ID = "5"
	merged, fresh := l.LoadHistory("7", []protocol.ChatMessage{stored})
	if len(fresh) != 0 {
		t.Errorf("expected no fresh messages, got %v", texts(fresh))
	}
	if len(merged) != 1 || merged[0].ID != "5" || merged[0].Timestamp != 1000 {
		t.Fatalf("expected only the stored copy, got %+v", merged)
	}
}

func TestSameMessage(t *testing.T) {
	withID := func(m protocol.ChatMessage, id protocol.ID) protocol.ChatMessage {
		m.ID = id
		return m
	}
	other := msg("hi", 1000)
	other.Sender = protocol.UserRef{Username: "ann"}

	tests := []struct {
		name string
		a, b protocol.ChatMessage
		want bool
	}{
		{"same id", withID(msg("a", 1), "1"), withID(msg("b", 99999), "1"), true},
		{"different ids", withID(msg("hi", 1000), "1"), withID(msg("hi", 1000), "2"), false},
		{"content within window", msg("hi", 1000), withID(msg("hi", 5999), "3"), true},
		{"content outside window", msg("hi", 1000), msg("hi", 6001), false},
		{"different text", msg("hi", 1000), msg("ho", 1000), false},
		{"different sender", msg("hi", 1000), other, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := SameMessage(tc.a, tc.b); got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
			if got := SameMessage(tc.b, tc.a); got != tc.want {
				t.Errorf("expected symmetric result %v, got %v", tc.want, got)
			}
		})
	}
}

func TestLoadHistoryRespectsCapacity(t *testing.T) {
	l := NewMessageLog(3)

	var history []protocol.ChatMessage
	for i := 1; i <= 5; i++ {
		history = append(history, msg(fmt.Sprintf("h%d", i), int64(i)))
	}
	merged, _ := l.LoadHistory("7", history)
	if got := texts(merged); fmt.Sprint(got) != "[h3 h4 h5]" {
		t.Errorf("expected newest three, got %v", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	l := NewMessageLog(0)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			l.Append("7", msg(fmt.Sprintf("m%d", n), int64(n)))
		}(i)
		go func() {
			defer wg.Done()
			_ = l.Messages("7")
		}()
	}
	wg.Wait()

	if l.Len("7") != 50 {
		t.Errorf("expected 50 messages, got %d", l.Len("7"))
	}
}
