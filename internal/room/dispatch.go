package room

import (
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
	"github.com/whisper/roomchat/internal/transport"
)

// peerTyping is one peer's typing indication in the active room.
type peerTyping struct {
	user  protocol.UserRef
	seq   uint64
	timer *clock.Timer
}

// roomHandler decodes payloads of one room channel. Deliveries that arrive
// after the subscription generation changed are dropped.
func (c *Client) roomHandler(roomID string, gen uint64, kind protocol.ChannelKind) transport.Handler {
	return func(payload []byte) {
		ev, err := protocol.ParseEvent(kind, payload)
		if err != nil {
			metrics.DroppedPayloads.WithLabelValues("decode").Inc()
			log.Warn().Err(err).Msgf("[room] dropping %s payload for room=%s", kind, roomID)
			return
		}

		var out callbacks

		c.mu.Lock()
		if c.closed || c.room != roomID || c.roomSubGen != gen {
			c.mu.Unlock()
			metrics.DroppedPayloads.WithLabelValues("stale_room").Inc()
			return
		}
		metrics.InboundEvents.WithLabelValues(kind.String()).Inc()
		c.dispatchRoom(roomID, ev, &out)
		c.mu.Unlock()
		out.fire()
	}
}

// userHandler decodes payloads of a user-scoped channel of connection gen.
func (c *Client) userHandler(gen uint64, kind protocol.ChannelKind) transport.Handler {
	return func(payload []byte) {
		ev, err := protocol.ParseEvent(kind, payload)
		if err != nil {
			metrics.DroppedPayloads.WithLabelValues("decode").Inc()
			log.Warn().Err(err).Msgf("[room] dropping %s payload", kind)
			return
		}

		var out callbacks

		c.mu.Lock()
		if c.closed || c.connGen != gen {
			c.mu.Unlock()
			return
		}
		metrics.InboundEvents.WithLabelValues(kind.String()).Inc()

		switch e := ev.(type) {
		case protocol.StatusUpdate:
			c.applyStatus(e, &out)
		case protocol.ErrorNotice:
			log.Warn().Msgf("[room] server error: %s", e.Message)
			if h := c.handlers.OnError; h != nil {
				err := &ServerError{Message: e.Message}
				out.add(func() { h(err) })
			}
		}
		c.mu.Unlock()
		out.fire()
	}
}

// dispatchRoom applies an event from the active room's channels. Must hold c.mu.
func (c *Client) dispatchRoom(roomID string, ev protocol.Event, out *callbacks) {
	switch e := ev.(type) {
	case protocol.ChatMessage:
		if e.RoomID != "" && string(e.RoomID) != roomID {
			metrics.DroppedPayloads.WithLabelValues("stale_room").Inc()
			return
		}
		e.RoomID = protocol.RoomID(roomID)
		c.log.Append(roomID, e)
		if h := c.handlers.OnMessage; h != nil {
			out.add(func() { h(e) })
		}

	case protocol.RoomEvent:
		e.RoomID = protocol.RoomID(roomID)
		if h := c.handlers.OnRoomEvent; h != nil {
			out.add(func() { h(e) })
		}
		if e.AffectsMembership() {
			out.add(c.refreshMembersAsync)
		}

	case protocol.StatusUpdate:
		c.applyStatus(e, out)

	case protocol.TypingSignal:
		c.applyTyping(roomID, e, out)
	}
}

// applyStatus caches a presence change. Must hold c.mu.
func (c *Client) applyStatus(e protocol.StatusUpdate, out *callbacks) {
	st := e.Presence()
	if st == "" {
		return
	}
	if e.User.Username == c.session.Username {
		c.session.Status = st
	}
	c.setPresence(e.User.Username, st, out)
}

// setPresence records a user's status in the presence cache and the member
// list. Must hold c.mu.
func (c *Client) setPresence(username string, st protocol.Status, out *callbacks) {
	c.presence[username] = st
	for i := range c.members {
		if c.members[i].Username == username {
			c.members[i].Status = st
		}
	}
	if h := c.handlers.OnPresence; h != nil {
		out.add(func() { h(username, st) })
	}
}

// ---------------------------------------------------------------------------
// Inbound typing
// ---------------------------------------------------------------------------

// applyTyping updates the peer typing set. Self-originated signals are
// ignored; a start signal (re)arms the expiry timer so a lost stop signal
// clears the indication after TypingExpiry. Must hold c.mu.
func (c *Client) applyTyping(roomID string, e protocol.TypingSignal, out *callbacks) {
	username := e.User.Username
	if username == c.session.Username {
		metrics.DroppedPayloads.WithLabelValues("self").Inc()
		return
	}

	p, exists := c.peers[username]
	if exists {
		p.timer.Stop()
	}

	if !e.IsTyping {
		if !exists {
			return
		}
		delete(c.peers, username)
		c.notifyTyping(roomID, out)
		return
	}

	c.peerSeq++
	seq := c.peerSeq
	timer := c.clock.AfterFunc(c.config.TypingExpiry, func() {
		c.expirePeer(roomID, username, seq)
	})
	c.peers[username] = &peerTyping{user: e.User, seq: seq, timer: timer}
	if !exists {
		c.notifyTyping(roomID, out)
	}
}

func (c *Client) expirePeer(roomID, username string, seq uint64) {
	var out callbacks

	c.mu.Lock()
	p, ok := c.peers[username]
	if c.room != roomID || !ok || p.seq != seq {
		c.mu.Unlock()
		return
	}
	delete(c.peers, username)
	c.notifyTyping(roomID, &out)
	c.mu.Unlock()
	out.fire()
}

// clearPeers drops every peer typing indication. Must hold c.mu.
func (c *Client) clearPeers(out *callbacks) {
	if len(c.peers) == 0 {
		return
	}
	for _, p := range c.peers {
		p.timer.Stop()
	}
	c.peers = make(map[string]*peerTyping)
	if c.room != "" {
		c.notifyTyping(c.room, out)
	}
}

// notifyTyping queues the typing callback with the current peer set. Must
// hold c.mu.
func (c *Client) notifyTyping(roomID string, out *callbacks) {
	if h := c.handlers.OnTyping; h != nil {
		users := c.typingUsers()
		out.add(func() { h(roomID, users) })
	}
}
