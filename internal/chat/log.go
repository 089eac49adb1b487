package chat

import (
	"sync"
	"time"

	"github.com/whisper/roomchat/internal/protocol"
)

// DefaultLogCapacity is the number of messages retained per room.
const DefaultLogCapacity = 1000

// MessageLog stores the ordered message log of each room in memory. Entries
// are kept in arrival order; once a room's log is full the oldest entry is
// overwritten. It is goroutine-safe and uses a ring buffer per room.
type MessageLog struct {
	mu       sync.RWMutex
	capacity int
	rooms    map[string]*ringBuffer // roomID -> ring buffer
}

// ringBuffer is a fixed-size circular buffer of chat messages.
type ringBuffer struct {
	items []protocol.ChatMessage
	pos   int
	count int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{items: make([]protocol.ChatMessage, capacity)}
}

func (rb *ringBuffer) add(msg protocol.ChatMessage) {
	n := len(rb.items)
	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % n
	if rb.count < n {
		rb.count++
	}
}

// slice returns the contents oldest first.
func (rb *ringBuffer) slice() []protocol.ChatMessage {
	n := len(rb.items)
	result := make([]protocol.ChatMessage, rb.count)
	start := (rb.pos - rb.count + n) % n
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%n]
	}
	return result
}

// NewMessageLog creates an empty log. A non-positive capacity selects
// DefaultLogCapacity.
func NewMessageLog(capacity int) *MessageLog {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &MessageLog{
		capacity: capacity,
		rooms:    make(map[string]*ringBuffer),
	}
}

// Append adds a message to the end of the room's log.
func (l *MessageLog) Append(roomID string, msg protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rb, ok := l.rooms[roomID]
	if !ok {
		rb = newRingBuffer(l.capacity)
		l.rooms[roomID] = rb
	}
	rb.add(msg)
}

// Messages returns the room's log oldest first. Returns an empty slice if the
// room has no log.
func (l *MessageLog) Messages(roomID string) []protocol.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rb, ok := l.rooms[roomID]
	if !ok {
		return []protocol.ChatMessage{}
	}
	return rb.slice()
}

// Len returns the number of messages held for a room.
func (l *MessageLog) Len(roomID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if rb, ok := l.rooms[roomID]; ok {
		return rb.count
	}
	return 0
}

// SameMessageWindow bounds how far apart the timestamps of a live broadcast
// and its stored copy may be. The server stamps the stored copy on save and
// the broadcast after it, so the two never agree exactly.
const SameMessageWindow = 5 * time.Second

// SameMessage reports whether a and b are the same server message. Messages
// that both carry an id are compared by id. Otherwise they match when sender
// and text agree and the timestamps are within SameMessageWindow.
func SameMessage(a, b protocol.ChatMessage) bool {
	if a.ID != "" && b.ID != "" {
		return a.ID == b.ID
	}
	if a.Sender.Username != b.Sender.Username || a.Text != b.Text {
		return false
	}
	d := a.Timestamp - b.Timestamp
	if d < 0 {
		d = -d
	}
	return d <= SameMessageWindow.Milliseconds()
}

// LoadHistory replaces the room's log with fetched history (oldest first)
// merged with the entries already in the log. Each history entry absorbs at
// most one existing entry that is the same message. Unmatched entries older
// than the history window stay in front of it; the rest follow it in arrival
// order.
//
// It returns the merged log and the history entries that matched nothing,
// which are the messages the caller has not seen yet.
func (l *MessageLog) LoadHistory(roomID string, history []protocol.ChatMessage) (merged, fresh []protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var prev []protocol.ChatMessage
	if rb, ok := l.rooms[roomID]; ok {
		prev = rb.slice()
	}

	matched := make([]bool, len(prev))
	fresh = []protocol.ChatMessage{}
	for _, h := range history {
		found := false
		for i, p := range prev {
			if !matched[i] && SameMessage(p, h) {
				matched[i] = true
				found = true
				break
			}
		}
		if !found {
			fresh = append(fresh, h)
		}
	}

	var oldest int64
	for i, m := range history {
		if i == 0 || m.Timestamp < oldest {
			oldest = m.Timestamp
		}
	}

	rb := newRingBuffer(l.capacity)
	if len(history) > 0 {
		for i, m := range prev {
			if !matched[i] && m.Timestamp < oldest {
				rb.add(m)
			}
		}
	}
	for _, m := range history {
		rb.add(m)
	}
	for i, m := range prev {
		if !matched[i] && (len(history) == 0 || m.Timestamp >= oldest) {
			rb.add(m)
		}
	}
	l.rooms[roomID] = rb
	return rb.slice(), fresh
}

// Remove deletes the log for a room.
func (l *MessageLog) Remove(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.rooms, roomID)
}
