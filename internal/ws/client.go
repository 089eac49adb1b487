// Package ws implements transport.Transport as STOMP 1.2 frames carried over
// a WebSocket, the wire format of the chat server's broker endpoint.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roomchat/internal/transport"
)

// ClientConfig holds the STOMP endpoint settings.
type ClientConfig struct {
	URL            string          // ws:// or wss:// endpoint, e.g. ws://localhost:8080/ws/websocket
	ConnectTimeout time.Duration   // bound on dial plus CONNECT/CONNECTED exchange
	Heartbeat      HeartbeatConfig // heart-beat offer
}

// DefaultClientConfig returns settings for a local development server.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		URL:            "ws://localhost:8080/ws/websocket",
		ConnectTimeout: 10 * time.Second,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Client is a STOMP-over-WebSocket transport. One Client holds at most one
// live connection; after a drop it may be connected again.
type Client struct {
	config ClientConfig
	subs   *subscriptionTable

	mu     sync.Mutex
	conn   *Connection
	onDrop func(error)
}

var _ transport.Transport = (*Client)(nil)

// NewClient creates an unconnected client.
func NewClient(config ClientConfig) *Client {
	return &Client{config: config, subs: newSubscriptionTable()}
}

// Connect dials the endpoint, sends CONNECT with the bearer token and waits
// for CONNECTED. An ERROR reply fails the attempt with the server's message.
func (c *Client) Connect(ctx context.Context, creds transport.Credentials, onDrop func(error)) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return transport.ErrAlreadyConnected
	}
	c.mu.Unlock()

	u, err := url.Parse(c.config.URL)
	if err != nil {
		return fmt.Errorf("ws: invalid url %q: %w", c.config.URL, err)
	}

	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}

	netConn, _, _, err := ws.Dial(ctx, c.config.URL)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}
	conn := newConnection(netConn)

	if deadline, ok := ctx.Deadline(); ok {
		_ = netConn.SetDeadline(deadline)
	}

	connect := NewFrame(CmdConnect, nil,
		"accept-version", "1.2",
		"host", u.Hostname(),
		"heart-beat", c.config.Heartbeat.header(),
	)
	if creds.Token != "" {
		connect.Headers = append(connect.Headers, Header{Name: "Authorization", Value: "Bearer " + creds.Token})
	}
	if err := conn.WriteFrame(connect); err != nil {
		conn.Close()
		return fmt.Errorf("ws: send CONNECT: %w", err)
	}

	reply, err := conn.ReadFrame()
	if err != nil {
		conn.Close()
		return fmt.Errorf("ws: await CONNECTED: %w", err)
	}
	switch reply.Command {
	case CmdConnected:
	case CmdError:
		conn.Close()
		return fmt.Errorf("ws: connect rejected: %s", errorText(reply))
	default:
		conn.Close()
		return fmt.Errorf("ws: unexpected %s frame during connect", reply.Command)
	}
	_ = netConn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.onDrop = onDrop
	c.mu.Unlock()

	go c.readLoop(conn)

	send, recv := negotiate(c.config.Heartbeat, reply.Get("heart-beat"))
	startHeartbeat(conn, send, recv, c.config.Heartbeat.Timeout, func(err error) {
		c.drop(conn, err)
	})

	log.Info().Msgf("[ws] connected to %s version=%s heart-beat send=%s recv=%s",
		u.Host, reply.Get("version"), send, recv)
	return nil
}

// Subscribe sends SUBSCRIBE for the channel under a fresh id.
func (c *Client) Subscribe(channel string, handler transport.Handler) (transport.SubscriptionID, error) {
	conn := c.current()
	if conn == nil {
		return "", transport.ErrNotConnected
	}

	id := transport.SubscriptionID(uuid.NewString())
	c.subs.add(id, channel, handler)

	f := NewFrame(CmdSubscribe, nil, "id", string(id), "destination", channel, "ack", "auto")
	if err := conn.WriteFrame(f); err != nil {
		c.subs.remove(id)
		return "", fmt.Errorf("ws: subscribe %s: %w", channel, err)
	}
	return id, nil
}

// Unsubscribe releases a subscription. The UNSUBSCRIBE frame is skipped when
// the connection is already gone.
func (c *Client) Unsubscribe(id transport.SubscriptionID) error {
	if !c.subs.remove(id) {
		return transport.ErrUnknownSubscription
	}
	conn := c.current()
	if conn == nil {
		return nil
	}
	if err := conn.WriteFrame(NewFrame(CmdUnsubscribe, nil, "id", string(id))); err != nil {
		return fmt.Errorf("ws: unsubscribe %s: %w", id, err)
	}
	return nil
}

// Send publishes a JSON payload to a destination.
func (c *Client) Send(destination string, payload []byte) error {
	conn := c.current()
	if conn == nil {
		return transport.ErrNotConnected
	}
	f := NewFrame(CmdSend, payload, "destination", destination, "content-type", "application/json")
	if err := conn.WriteFrame(f); err != nil {
		return fmt.Errorf("ws: send %s: %w", destination, err)
	}
	return nil
}

// Close sends DISCONNECT and closes the connection. onDrop is not called.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.onDrop = nil
	c.mu.Unlock()

	c.subs.reset()
	if conn == nil {
		return nil
	}
	_ = conn.WriteFrame(NewFrame(CmdDisconnect, nil))
	return conn.Close()
}

// Subscriptions returns the number of live subscriptions.
func (c *Client) Subscriptions() int {
	return c.subs.len()
}

func (c *Client) current() *Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// drop tears down conn if it is still the live connection and reports err
// to the registered callback.
func (c *Client) drop(conn *Connection, err error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	onDrop := c.onDrop
	c.onDrop = nil
	c.mu.Unlock()

	c.subs.reset()
	conn.Close()
	log.Warn().Err(err).Msg("[ws] connection dropped")
	if onDrop != nil {
		onDrop(err)
	}
}

// readLoop reads frames until the connection fails or is closed, routing
// MESSAGE frames to their subscription.
func (c *Client) readLoop(conn *Connection) {
	for {
		f, err := conn.ReadFrame()
		if err != nil {
			if conn.Closed() {
				return
			}
			c.drop(conn, fmt.Errorf("ws: read: %w", err))
			return
		}

		switch f.Command {
		case CmdMessage:
			c.subs.dispatch(f)
		case CmdError:
			c.drop(conn, errors.New("ws: server error: "+errorText(f)))
			return
		case CmdReceipt:
		default:
			log.Debug().Msgf("[ws] ignoring %s frame", f.Command)
		}
	}
}

func errorText(f *Frame) string {
	if msg := f.Get("message"); msg != "" {
		return msg
	}
	if len(f.Body) > 0 {
		return string(f.Body)
	}
	return "unknown error"
}
