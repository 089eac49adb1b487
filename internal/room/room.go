package room

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
)

// SelectRoom makes roomID the active room. The previous room is announced as
// left and its channels are released before the new room's channels are
// subscribed and the join is announced. Members and recent history are then
// fetched concurrently and delivered through OnRoomLoaded once both resolve.
// OnRoomLoaded receives only history entries that were not already delivered
// through OnMessage; the full merged log is in Snapshot.
//
// The last caller wins: if another SelectRoom or CloseRoom happens while the
// fetch is in flight, its result is discarded and SelectRoom returns nil.
// A failed fetch for a still-current room returns a *RestError. Selecting the
// active room again refreshes members and history only.
func (c *Client) SelectRoom(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return &chat.ValidationError{Field: "roomID", Reason: "is required"}
	}

	var out callbacks

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.room != roomID {
		c.leaveRoom(&out)
		c.room = roomID
		c.announced = false
		if c.state == StateConnected {
			c.subscribeRoom(roomID)
			c.announceJoin()
		}
		log.Info().Msgf("[room] selected room=%s", roomID)
	}
	seq, mseq := c.beginLoad()
	c.mu.Unlock()
	out.fire()

	return c.load(ctx, roomID, seq, mseq)
}

// CloseRoom leaves the active room without selecting another one.
func (c *Client) CloseRoom() {
	var out callbacks

	c.mu.Lock()
	if c.room == "" {
		c.mu.Unlock()
		return
	}
	c.leaveRoom(&out)
	c.room = ""
	c.switchSeq++
	c.mu.Unlock()
	out.fire()
}

// leaveRoom flushes typing, announces the leave and releases the active
// room's channels. Must hold c.mu.
func (c *Client) leaveRoom(out *callbacks) {
	old := c.room
	if old == "" {
		return
	}
	c.stopTyping()
	if c.state == StateConnected {
		c.send("leave", protocol.LeaveDestination(old), protocol.NotificationPayload{})
	}
	c.releaseRoomSubs()
	c.clearPeers(out)
	c.members = nil
	c.memberSeq++
	c.log.Remove(old)
	log.Info().Msgf("[room] left room=%s", old)
}

// announceJoin sends the join notification for the active room once per
// selection. Must hold c.mu.
func (c *Client) announceJoin() {
	if c.announced {
		return
	}
	c.send("join", protocol.JoinDestination(c.room), protocol.NotificationPayload{})
	c.announced = true
}

// isCurrent reports whether a fetch started at switch seq for roomID may
// still be applied. Must hold c.mu.
func (c *Client) isCurrent(roomID string, seq uint64) bool {
	return !c.closed && c.room == roomID && c.switchSeq == seq
}

// beginLoad starts a new switch for the active room and returns its switch
// and member sequence numbers. Must hold c.mu.
func (c *Client) beginLoad() (seq, mseq uint64) {
	c.switchSeq++
	c.memberSeq++
	return c.switchSeq, c.memberSeq
}

// load fetches members and history for roomID. The member list is applied
// only if no newer member fetch started after mseq.
func (c *Client) load(ctx context.Context, roomID string, seq, mseq uint64) error {
	start := c.clock.Now()

	var (
		members []protocol.Member
		history []protocol.ChatMessage
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := c.directory.Members(gctx, roomID)
		members = m
		return err
	})
	g.Go(func() error {
		h, err := c.directory.RecentMessages(gctx, roomID)
		history = h
		return err
	})
	err := g.Wait()
	metrics.RoomLoadLatency.Observe(c.clock.Since(start).Seconds())

	var out callbacks

	c.mu.Lock()
	if !c.isCurrent(roomID, seq) {
		c.mu.Unlock()
		metrics.StaleResponses.WithLabelValues("room").Inc()
		log.Debug().Msgf("[room] discarding stale load for room=%s", roomID)
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		return &RestError{Op: "load room " + roomID, Err: err}
	}

	if c.memberSeq == mseq {
		c.members = append([]protocol.Member(nil), members...)
		c.memberSeq++
		for _, m := range members {
			if m.Status != "" {
				c.presence[m.Username] = m.Status
			}
		}
	} else {
		metrics.StaleResponses.WithLabelValues("members").Inc()
	}
	_, fresh := c.log.LoadHistory(roomID, history)
	if h := c.handlers.OnRoomLoaded; h != nil {
		ms := append([]protocol.Member(nil), c.members...)
		out.add(func() { h(roomID, ms, fresh) })
	}
	c.mu.Unlock()
	out.fire()
	return nil
}

// RefreshMembers refetches the active room's member list. The result is
// dropped if the room changed or a newer member fetch started meanwhile.
func (c *Client) RefreshMembers(ctx context.Context) error {
	c.mu.Lock()
	roomID := c.room
	if roomID == "" {
		c.mu.Unlock()
		return ErrNoRoom
	}
	c.memberSeq++
	mseq, seq := c.memberSeq, c.switchSeq
	c.mu.Unlock()

	members, err := c.directory.Members(ctx, roomID)

	var out callbacks

	c.mu.Lock()
	if !c.isCurrent(roomID, seq) || c.memberSeq != mseq {
		c.mu.Unlock()
		metrics.StaleResponses.WithLabelValues("members").Inc()
		return nil
	}
	if err != nil {
		c.mu.Unlock()
		return &RestError{Op: "refresh members of room " + roomID, Err: err}
	}
	c.members = append([]protocol.Member(nil), members...)
	if h := c.handlers.OnMembers; h != nil {
		ms := append([]protocol.Member(nil), members...)
		out.add(func() { h(roomID, ms) })
	}
	c.mu.Unlock()
	out.fire()
	return nil
}

// refreshMembersAsync runs a background member refresh after a membership
// event. Failures are advisory and only logged.
func (c *Client) refreshMembersAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.FetchTimeout)
		defer cancel()
		if err := c.RefreshMembers(ctx); err != nil {
			log.Warn().Err(err).Msg("[room] member refresh failed")
		}
	}()
}
