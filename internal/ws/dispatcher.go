package ws

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/whisper/roomchat/internal/transport"
)

type subscription struct {
	destination string
	handler     transport.Handler
}

// subscriptionTable routes MESSAGE frames to the handler registered under
// their subscription header.
type subscriptionTable struct {
	mu   sync.RWMutex
	subs map[transport.SubscriptionID]subscription
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{subs: make(map[transport.SubscriptionID]subscription)}
}

func (t *subscriptionTable) add(id transport.SubscriptionID, destination string, h transport.Handler) {
	t.mu.Lock()
	t.subs[id] = subscription{destination: destination, handler: h}
	t.mu.Unlock()
}

func (t *subscriptionTable) remove(id transport.SubscriptionID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs[id]; !ok {
		return false
	}
	delete(t.subs, id)
	return true
}

func (t *subscriptionTable) reset() {
	t.mu.Lock()
	t.subs = make(map[transport.SubscriptionID]subscription)
	t.mu.Unlock()
}

func (t *subscriptionTable) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

// dispatch delivers a MESSAGE frame. The handler runs without the table lock
// held so it may call back into the transport.
func (t *subscriptionTable) dispatch(f *Frame) {
	id := transport.SubscriptionID(f.Get("subscription"))

	t.mu.RLock()
	sub, ok := t.subs[id]
	t.mu.RUnlock()

	if !ok {
		log.Debug().Msgf("[ws] message for unknown subscription=%s destination=%s", id, f.Get("destination"))
		return
	}
	sub.handler(f.Body)
}
