package room

import (
	"time"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/protocol"
)

// State represents the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRetrying // disconnected with a reconnect scheduled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// Config holds the client timing parameters.
type Config struct {
	RetryInterval  time.Duration // flat delay between reconnect attempts (default: 5s)
	TypingDebounce time.Duration // silence before a typing-stop is sent (default: 1s)
	TypingExpiry   time.Duration // peer typing indication lifetime (default: 3s)
	FetchTimeout   time.Duration // bound on background member refreshes (default: 10s)
	LogCapacity    int           // messages retained for the active room (default: 1000)
}

// DefaultConfig returns the standard client timings.
func DefaultConfig() Config {
	return Config{
		RetryInterval:  5 * time.Second,
		TypingDebounce: time.Second,
		TypingExpiry:   3 * time.Second,
		FetchTimeout:   10 * time.Second,
		LogCapacity:    chat.DefaultLogCapacity,
	}
}

// Handlers are the view callbacks. Every callback is invoked after the
// client's lock is released, so a callback may call back into the client.
// Nil callbacks are skipped. OnRoomLoaded is handed only history that was not
// already delivered through OnMessage.
type Handlers struct {
	OnStateChange func(state State)
	OnRoomLoaded  func(roomID string, members []protocol.Member, messages []protocol.ChatMessage)
	OnMessage     func(msg protocol.ChatMessage)
	OnRoomEvent   func(ev protocol.RoomEvent)
	OnMembers     func(roomID string, members []protocol.Member)
	OnTyping      func(roomID string, typing []protocol.UserRef)
	OnPresence    func(username string, status protocol.Status)
	OnError       func(err error)
}

// Snapshot is a copy of the client's view state.
type Snapshot struct {
	State    State
	Session  protocol.Session
	RoomID   string
	Members  []protocol.Member
	Messages []protocol.ChatMessage
	Typing   []protocol.UserRef
	Presence map[string]protocol.Status
}

// callbacks collects view notifications while the lock is held.
type callbacks []func()

func (cb *callbacks) add(f func()) {
	*cb = append(*cb, f)
}

func (cb callbacks) fire() {
	for _, f := range cb {
		f()
	}
}
