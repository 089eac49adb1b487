// Package messaging implements transport.Transport over NATS subjects, for
// deployments where the chat server bridges its broker channels onto NATS.
// Channel names map onto subjects one path segment per token, and user
// scoped channels are qualified with the session username.
package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roomchat/internal/transport"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string        // nats://localhost:4222
	Name           string        // client name for identification
	ConnectTimeout time.Duration // dial timeout when ctx carries no deadline
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            "nats://localhost:4222",
		Name:           "roomchat",
		ConnectTimeout: 5 * time.Second,
	}
}

// NATSClient is a NATS-backed transport. NATS-side reconnection is disabled so
// the room client's own retry policy decides when to reconnect.
type NATSClient struct {
	config NATSConfig

	mu      sync.Mutex
	conn    *nats.Conn
	creds   transport.Credentials
	onDrop  func(error)
	subs    map[transport.SubscriptionID]*nats.Subscription
	closing bool
}

var _ transport.Transport = (*NATSClient)(nil)

// NewNATSClient creates an unconnected client.
func NewNATSClient(config NATSConfig) *NATSClient {
	return &NATSClient{
		config: config,
		subs:   make(map[transport.SubscriptionID]*nats.Subscription),
	}
}

// Connect dials NATS. The bearer token doubles as the NATS auth token.
func (c *NATSClient) Connect(ctx context.Context, creds transport.Credentials, onDrop func(error)) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	c.mu.Unlock()

	timeout := c.config.ConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.handleDisconnect(nc, err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Debug().Msg("[nats] connection closed")
		}),
	}
	if timeout > 0 {
		opts = append(opts, nats.Timeout(timeout))
	}
	if creds.Token != "" {
		opts = append(opts, nats.Token(creds.Token))
	}

	nc, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}

	c.mu.Lock()
	// A disconnect reported before nc was stored was ignored by
	// handleDisconnect, so a connection that is already gone fails here.
	if nc.IsClosed() {
		c.mu.Unlock()
		return fmt.Errorf("nats connect: %w", nats.ErrConnectionClosed)
	}
	c.conn = nc
	c.creds = creds
	c.onDrop = onDrop
	c.closing = false
	c.mu.Unlock()

	log.Info().Msgf("[nats] connected to %s", nc.ConnectedUrl())
	return nil
}

// Subscribe maps the channel to a subject and subscribes to it.
func (c *NATSClient) Subscribe(channel string, handler transport.Handler) (transport.SubscriptionID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return "", transport.ErrNotConnected
	}

	subject := Subject(channel, c.creds.Username)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return "", fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	id := transport.SubscriptionID(uuid.NewString())
	c.subs[id] = sub
	return id, nil
}

// Unsubscribe removes and unsubscribes a subscription.
func (c *NATSClient) Unsubscribe(id transport.SubscriptionID) error {
	c.mu.Lock()
	sub, ok := c.subs[id]
	if !ok {
		c.mu.Unlock()
		return transport.ErrUnknownSubscription
	}
	delete(c.subs, id)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", sub.Subject, err)
	}
	return nil
}

// Send publishes the payload with an Authorization header carrying the
// session token.
func (c *NATSClient) Send(destination string, payload []byte) error {
	c.mu.Lock()
	nc, creds := c.conn, c.creds
	c.mu.Unlock()

	if nc == nil {
		return transport.ErrNotConnected
	}

	msg := nats.NewMsg(Subject(destination, creds.Username))
	msg.Data = payload
	msg.Header.Set("Content-Type", "application/json")
	if creds.Token != "" {
		msg.Header.Set("Authorization", "Bearer "+creds.Token)
	}
	if err := nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
	}
	return nil
}

// Close drains all active subscriptions and closes the NATS connection.
// onDrop is not called.
func (c *NATSClient) Close() error {
	c.mu.Lock()
	nc := c.conn
	subs := c.subs
	c.conn = nil
	c.onDrop = nil
	c.closing = true
	c.subs = make(map[transport.SubscriptionID]*nats.Subscription)
	c.mu.Unlock()

	if nc == nil {
		return nil
	}
	for id, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msgf("[nats] unsubscribe %s", id)
		}
	}
	nc.Close()
	log.Info().Msg("[nats] client closed")
	return nil
}

func (c *NATSClient) handleDisconnect(nc *nats.Conn, err error) {
	c.mu.Lock()
	if c.conn != nc || c.closing {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	onDrop := c.onDrop
	c.onDrop = nil
	c.subs = make(map[transport.SubscriptionID]*nats.Subscription)
	c.mu.Unlock()

	if err == nil {
		err = nats.ErrConnectionClosed
	}
	log.Warn().Err(err).Msg("[nats] disconnected")
	nc.Close()
	if onDrop != nil {
		onDrop(err)
	}
}

// Subject maps a broker channel or destination onto a NATS subject:
// "/topic/rooms/7/typing" becomes "topic.rooms.7.typing" and user scoped
// "/user/queue/errors" becomes "user.<username>.queue.errors". Characters that
// are not valid in a subject token are replaced with '_'.
func Subject(channel, username string) string {
	parts := strings.Split(strings.Trim(channel, "/"), "/")
	tokens := make([]string, 0, len(parts)+1)
	for i, p := range parts {
		if p == "" {
			continue
		}
		tokens = append(tokens, sanitizeToken(p))
		if i == 0 && p == "user" {
			tokens = append(tokens, sanitizeToken(username))
		}
	}
	return strings.Join(tokens, ".")
}

func sanitizeToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>' || r <= ' ' || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, s)
}
