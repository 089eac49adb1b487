// Package transport declares the real-time connection boundary used by the
// room client. Implementations live in internal/ws (STOMP over WebSocket) and
// internal/messaging (NATS).
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned by Subscribe and Send when no connection is
	// established.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected is returned by Connect while a connection is live.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrUnknownSubscription is returned by Unsubscribe for an id that is not
	// (or no longer) registered.
	ErrUnknownSubscription = errors.New("transport: unknown subscription")
)

// SubscriptionID identifies one channel subscription.
type SubscriptionID string

// Handler receives the raw payload of a message delivered on a subscribed
// channel. Handlers run on a transport goroutine and may run concurrently
// across subscriptions.
type Handler func(payload []byte)

// Credentials authenticate a connection.
type Credentials struct {
	Token    string
	Username string
}

// Transport is a publish/subscribe connection to the chat server.
//
// Sends are fire-and-forget: a nil error means the payload was handed to the
// connection, not that the server received it. After a drop reported through
// onDrop every subscription is gone and Connect may be called again.
type Transport interface {
	Connect(ctx context.Context, creds Credentials, onDrop func(error)) error
	Subscribe(channel string, handler Handler) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	Send(destination string, payload []byte) error
	Close() error
}
