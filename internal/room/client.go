// Package room implements the room channel client: it owns the real-time
// connection, the single active room subscription and the typing state, and
// keeps a local view consistent with the stream of inbound events.
//
// All client state is guarded by one mutex. Public methods and transport or
// timer callbacks run their state transitions under it, so transitions never
// interleave. Network dials and REST calls run outside the lock; their
// results re-enter it and are applied only if the room they were made for is
// still current.
package room

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
)

var errDroppedDuringConnect = errors.New("connection dropped during handshake")

// Directory is the REST collaborator used to load room state.
type Directory interface {
	Members(ctx context.Context, roomID string) ([]protocol.Member, error)
	RecentMessages(ctx context.Context, roomID string) ([]protocol.ChatMessage, error)
}

// Option customises a Client.
type Option func(*Client)

// WithClock replaces the wall clock used for retry and typing timers.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.config = cfg }
}

// WithHandlers registers the view callbacks.
func WithHandlers(h Handlers) Option {
	return func(c *Client) { c.handlers = h }
}

// Client is the room channel client.
type Client struct {
	transport transport.Transport
	directory Directory
	clock     clock.Clock
	config    Config
	handlers  Handlers

	mu         sync.Mutex
	state      State
	session    protocol.Session
	closed     bool
	connGen    uint64 // bumped per dial and on Disconnect
	droppedGen uint64 // dial generation that dropped before Connect returned
	retry      *clock.Timer

	room       string
	announced  bool   // join notification sent for room
	switchSeq  uint64 // bumped per SelectRoom and CloseRoom
	memberSeq  uint64 // bumped per member list fetch
	roomSubGen uint64 // bumped whenever room subscriptions change
	roomSubs   []transport.SubscriptionID
	userSubs   []transport.SubscriptionID

	members  []protocol.Member
	presence map[string]protocol.Status
	log      *chat.MessageLog

	typing      bool
	typingRoom  string
	typingSeq   uint64
	typingTimer *clock.Timer
	peers       map[string]*peerTyping
	peerSeq     uint64
}

// New creates a disconnected client.
func New(t transport.Transport, dir Directory, opts ...Option) *Client {
	c := &Client{
		transport: t,
		directory: dir,
		clock:     clock.New(),
		config:    DefaultConfig(),
		presence:  make(map[string]protocol.Status),
		peers:     make(map[string]*peerTyping),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = chat.NewMessageLog(c.config.LogCapacity)
	metrics.SetConnectionState(c.state.String())
	return c
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

// Connect authenticates with the session token and dials once. On failure the
// client moves to StateRetrying, schedules a reconnect after the retry
// interval and returns a *TransportError; reconnects continue until
// Disconnect.
func (c *Client) Connect(ctx context.Context, session protocol.Session) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.session = session
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	var out callbacks

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.connGen++
	gen := c.connGen
	c.setState(StateConnecting, &out)
	creds := transport.Credentials{Token: c.session.Token, Username: c.session.Username}
	c.mu.Unlock()
	out.fire()
	out = nil

	err := c.transport.Connect(ctx, creds, func(err error) {
		c.handleDrop(gen, err)
	})

	c.mu.Lock()
	if c.closed || gen != c.connGen {
		c.mu.Unlock()
		if err == nil {
			_ = c.transport.Close()
		}
		return ErrClosed
	}
	if err == nil && c.droppedGen == gen {
		err = errDroppedDuringConnect
	}
	if err != nil {
		log.Warn().Err(err).Msgf("[room] connect failed, retrying in %s", c.config.RetryInterval)
		c.scheduleRetry(gen, &out)
		c.mu.Unlock()
		out.fire()
		return &TransportError{Op: "connect", Err: err}
	}

	c.setState(StateConnected, &out)
	c.subscribeUser(gen)
	roomID := c.room
	var seq, mseq uint64
	if roomID != "" {
		c.subscribeRoom(roomID)
		c.announceJoin()
		seq, mseq = c.beginLoad()
	}
	log.Info().Msgf("[room] connected as %s", c.session.Username)
	c.mu.Unlock()
	out.fire()

	if roomID != "" {
		// Deliveries missed while offline are only recoverable over REST.
		go c.resync(roomID, seq, mseq)
	}
	return nil
}

// resync reloads members and history of the active room after a connect.
func (c *Client) resync(roomID string, seq, mseq uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.FetchTimeout)
	defer cancel()
	if err := c.load(ctx, roomID, seq, mseq); err != nil {
		log.Warn().Err(err).Msgf("[room] resync of room=%s failed", roomID)
	}
}

// handleDrop is the transport's drop callback for connection gen.
func (c *Client) handleDrop(gen uint64, err error) {
	var out callbacks

	c.mu.Lock()
	if c.closed || gen != c.connGen {
		c.mu.Unlock()
		return
	}
	if c.state == StateConnecting {
		c.droppedGen = gen
		c.mu.Unlock()
		return
	}
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}

	log.Warn().Err(err).Msgf("[room] connection lost, retrying in %s", c.config.RetryInterval)

	// The transport has already discarded every subscription.
	metrics.ActiveSubscriptions.Sub(float64(len(c.userSubs) + len(c.roomSubs)))
	c.userSubs = nil
	c.roomSubs = nil
	c.roomSubGen++
	c.cancelTyping()
	c.clearPeers(&out)

	c.scheduleRetry(gen, &out)
	c.mu.Unlock()
	out.fire()
}

// scheduleRetry arms the reconnect timer. Must hold c.mu.
func (c *Client) scheduleRetry(gen uint64, out *callbacks) {
	if c.retry != nil {
		c.retry.Stop()
	}
	c.retry = c.clock.AfterFunc(c.config.RetryInterval, func() {
		c.retryConnect(gen)
	})
	c.setState(StateRetrying, out)
}

func (c *Client) retryConnect(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.connGen || c.state != StateRetrying {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.mu.Unlock()

	metrics.ReconnectAttempts.Inc()
	if err := c.dial(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		log.Debug().Err(err).Msg("[room] reconnect attempt failed")
	}
}

// Disconnect is terminal: it cancels pending timers, releases every
// subscription best-effort and closes the transport. No reconnect follows.
func (c *Client) Disconnect() {
	var out callbacks

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.connGen++

	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	c.cancelTyping()
	c.clearPeers(&out)

	c.releaseRoomSubs()
	for _, id := range c.userSubs {
		_ = c.transport.Unsubscribe(id)
	}
	metrics.ActiveSubscriptions.Sub(float64(len(c.userSubs)))
	c.userSubs = nil
	if err := c.transport.Close(); err != nil {
		log.Debug().Err(err).Msg("[room] transport close")
	}

	if c.room != "" {
		c.log.Remove(c.room)
	}
	c.room = ""
	c.switchSeq++
	c.members = nil
	c.setState(StateDisconnected, &out)
	log.Info().Msg("[room] disconnected")
	c.mu.Unlock()
	out.fire()
}

// setState records a transition and queues the state callback. Must hold c.mu.
func (c *Client) setState(s State, out *callbacks) {
	if c.state == s {
		return
	}
	c.state = s
	metrics.SetConnectionState(s.String())
	if h := c.handlers.OnStateChange; h != nil {
		out.add(func() { h(s) })
	}
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// subscribeUser subscribes the user-scoped status and error channels for
// connection gen. Must hold c.mu.
func (c *Client) subscribeUser(gen uint64) {
	for _, ch := range protocol.UserChannels(c.session.Username) {
		id, err := c.transport.Subscribe(ch.Name, c.userHandler(gen, ch.Kind))
		if err != nil {
			log.Warn().Err(err).Msgf("[room] subscribe %s", ch.Name)
			continue
		}
		c.userSubs = append(c.userSubs, id)
		metrics.ActiveSubscriptions.Inc()
	}
}

// subscribeRoom subscribes the three channels of roomID. Must hold c.mu.
func (c *Client) subscribeRoom(roomID string) {
	c.roomSubGen++
	gen := c.roomSubGen
	for _, ch := range protocol.RoomChannels(roomID) {
		id, err := c.transport.Subscribe(ch.Name, c.roomHandler(roomID, gen, ch.Kind))
		if err != nil {
			log.Warn().Err(err).Msgf("[room] subscribe %s", ch.Name)
			continue
		}
		c.roomSubs = append(c.roomSubs, id)
		metrics.ActiveSubscriptions.Inc()
	}
}

// releaseRoomSubs unsubscribes the active room's channels, swallowing
// failures. Must hold c.mu.
func (c *Client) releaseRoomSubs() {
	for _, id := range c.roomSubs {
		if err := c.transport.Unsubscribe(id); err != nil {
			log.Debug().Err(err).Msgf("[room] unsubscribe %s", id)
		}
	}
	metrics.ActiveSubscriptions.Sub(float64(len(c.roomSubs)))
	c.roomSubs = nil
	c.roomSubGen++
}

// send performs a fire-and-forget send. Failures are logged and counted,
// never returned. Must hold c.mu.
func (c *Client) send(action, destination string, payload interface{}) {
	data, err := protocol.Encode(payload)
	if err == nil {
		err = c.transport.Send(destination, data)
	}
	if err != nil {
		metrics.OutboundSends.WithLabelValues(action, "error").Inc()
		log.Warn().Err(&TransportError{Op: "send " + action, Err: err}).Msgf("[room] send to %s dropped", destination)
		return
	}
	metrics.OutboundSends.WithLabelValues(action, "ok").Inc()
}

// ---------------------------------------------------------------------------
// Read-only views
// ---------------------------------------------------------------------------

// State returns the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentRoom returns the selected room id, or "" if none.
func (c *Client) CurrentRoom() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room
}

// Session returns the cached session.
func (c *Client) Session() protocol.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Snapshot returns a copy of the view state.
func (c *Client) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:    c.state,
		Session:  c.session,
		RoomID:   c.room,
		Members:  append([]protocol.Member(nil), c.members...),
		Typing:   c.typingUsers(),
		Presence: make(map[string]protocol.Status, len(c.presence)),
	}
	if c.room != "" {
		s.Messages = c.log.Messages(c.room)
	}
	for k, v := range c.presence {
		s.Presence[k] = v
	}
	return s
}

// typingUsers lists peers currently typing, ordered by username. Must hold c.mu.
func (c *Client) typingUsers() []protocol.UserRef {
	users := make([]protocol.UserRef, 0, len(c.peers))
	for _, p := range c.peers {
		users = append(users, p.user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}
