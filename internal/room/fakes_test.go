package room

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
)

// ---------------------------------------------------------------------------
// Fake transport
// ---------------------------------------------------------------------------

type fakeSub struct {
	channel string
	handler transport.Handler
}

type fakeTransport struct {
	mu          sync.Mutex
	connectErrs []error // consumed one per Connect; nil entry or empty queue succeeds
	connects    int
	connected   bool
	closed      int
	creds       transport.Credentials
	onDrop      func(error)
	nextID      int
	subs        map[transport.SubscriptionID]fakeSub
	released    []string
	sends       []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subs: make(map[transport.SubscriptionID]fakeSub)}
}

func (f *fakeTransport) Connect(_ context.Context, creds transport.Credentials, onDrop func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.connects++
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	f.connected = true
	f.creds = creds
	f.onDrop = onDrop
	return nil
}

func (f *fakeTransport) Subscribe(channel string, h transport.Handler) (transport.SubscriptionID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return "", transport.ErrNotConnected
	}
	f.nextID++
	id := transport.SubscriptionID("sub-" + strconv.Itoa(f.nextID))
	f.subs[id] = fakeSub{channel: channel, handler: h}
	return id, nil
}

func (f *fakeTransport) Unsubscribe(id transport.SubscriptionID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	sub, ok := f.subs[id]
	if !ok {
		return transport.ErrUnknownSubscription
	}
	delete(f.subs, id)
	f.released = append(f.released, sub.channel)
	return nil
}

func (f *fakeTransport) Send(destination string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.connected {
		return transport.ErrNotConnected
	}
	f.sends = append(f.sends, destination+" "+string(payload))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed++
	f.connected = false
	f.subs = make(map[transport.SubscriptionID]fakeSub)
	return nil
}

// drop simulates the server going away.
func (f *fakeTransport) drop(err error) {
	f.mu.Lock()
	f.connected = false
	f.subs = make(map[transport.SubscriptionID]fakeSub)
	cb := f.onDrop
	f.onDrop = nil
	f.mu.Unlock()

	if cb != nil {
		cb(err)
	}
}

// deliver invokes every handler subscribed to channel and returns how many
// there were.
func (f *fakeTransport) deliver(channel, payload string) int {
	f.mu.Lock()
	var handlers []transport.Handler
	for _, s := range f.subs {
		if s.channel == channel {
			handlers = append(handlers, s.handler)
		}
	}
	f.mu.Unlock()

	for _, h := range handlers {
		h([]byte(payload))
	}
	return len(handlers)
}

// handlerFor returns the handler currently subscribed to channel.
func (f *fakeTransport) handlerFor(t *testing.T, channel string) transport.Handler {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subs {
		if s.channel == channel {
			return s.handler
		}
	}
	t.Fatalf("no subscription for %s", channel)
	return nil
}

// channels returns the subscribed channel names, sorted, duplicates kept.
func (f *fakeTransport) channels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for _, s := range f.subs {
		out = append(out, s.channel)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sends...)
}

func (f *fakeTransport) resetSends() {
	f.mu.Lock()
	f.sends = nil
	f.mu.Unlock()
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) releasedChannels() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

// ---------------------------------------------------------------------------
// Fake directory
// ---------------------------------------------------------------------------

type fakeDirectory struct {
	mu          sync.Mutex
	members     map[string][]protocol.Member
	history     map[string][]protocol.ChatMessage
	err         error
	block       map[string]chan struct{} // Members for a room waits on the channel
	started     chan string
	memberCalls int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		members: make(map[string][]protocol.Member),
		history: make(map[string][]protocol.ChatMessage),
		block:   make(map[string]chan struct{}),
		started: make(chan string, 16),
	}
}

func (d *fakeDirectory) Members(ctx context.Context, roomID string) ([]protocol.Member, error) {
	d.mu.Lock()
	d.memberCalls++
	gate := d.block[roomID]
	members, err := d.members[roomID], d.err
	d.mu.Unlock()

	if gate != nil {
		d.started <- roomID
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return members, err
}

func (d *fakeDirectory) RecentMessages(_ context.Context, roomID string) ([]protocol.ChatMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.history[roomID], d.err
}

func (d *fakeDirectory) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.memberCalls
}

// ---------------------------------------------------------------------------
// View recorder
// ---------------------------------------------------------------------------

type recorder struct {
	mu       sync.Mutex
	states   []State
	loaded   []string
	history  []protocol.ChatMessage // history handed over by OnRoomLoaded
	members  map[string][]protocol.Member
	messages []protocol.ChatMessage
	events   []protocol.RoomEvent
	typing   []protocol.UserRef
	presence map[string]protocol.Status
	errs     []error
}

func newRecorder() *recorder {
	return &recorder{
		members:  make(map[string][]protocol.Member),
		presence: make(map[string]protocol.Status),
	}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnStateChange: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnRoomLoaded: func(roomID string, members []protocol.Member, history []protocol.ChatMessage) {
			r.mu.Lock()
			r.loaded = append(r.loaded, roomID)
			r.history = append(r.history, history...)
			r.members[roomID] = members
			r.mu.Unlock()
		},
		OnMessage: func(m protocol.ChatMessage) {
			r.mu.Lock()
			r.messages = append(r.messages, m)
			r.mu.Unlock()
		},
		OnRoomEvent: func(ev protocol.RoomEvent) {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		},
		OnMembers: func(roomID string, members []protocol.Member) {
			r.mu.Lock()
			r.members[roomID] = members
			r.mu.Unlock()
		},
		OnTyping: func(_ string, users []protocol.UserRef) {
			r.mu.Lock()
			r.typing = users
			r.mu.Unlock()
		},
		OnPresence: func(username string, st protocol.Status) {
			r.mu.Lock()
			r.presence[username] = st
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) typingNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.typing))
	for i, u := range r.typing {
		names[i] = u.Username
	}
	return names
}

// shown returns every message the view was handed, live or from history.
func (r *recorder) shown() []protocol.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]protocol.ChatMessage(nil), r.history...)
	return append(out, r.messages...)
}

func (r *recorder) loadedRooms() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.loaded...)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var errBoom = errors.New("boom")

// waitFor polls cond until it holds or the deadline passes. Mock clock
// timers fire on their own goroutine, so effects are observed by polling.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testSession() protocol.Session {
	return protocol.Session{
		UserID:      "1",
		Username:    "me",
		DisplayName: "Me",
		Status:      protocol.StatusOnline,
		Token:       "tok",
	}
}
