package room

import (
	"strings"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/protocol"
)

// SendMessage sends text to the active room. Nothing is sent when the text is
// empty or whitespace-only (a *chat.ValidationError), when no room is
// selected (ErrNoRoom) or when the client is not connected
// (ErrNotConnected). A pending typing-stop is emitted before the message.
//
// Delivery is at-most-once: a transport failure is logged and the message is
// lost. The sender's own message is rendered only when the server broadcasts
// it back.
func (c *Client) SendMessage(text string) error {
	text = strings.TrimSpace(text)
	if err := chat.ValidateMessage(text); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == "" {
		return ErrNoRoom
	}
	if c.state != StateConnected {
		return ErrNotConnected
	}
	c.stopTyping()
	c.send("message", protocol.SendDestination(c.room), protocol.MessagePayload{Text: text})
	return nil
}

// SetStatus publishes the user's presence and updates the cached session.
func (c *Client) SetStatus(status string) error {
	st, err := protocol.ParseStatus(status)
	if err != nil {
		return &chat.ValidationError{Field: "status", Reason: err.Error()}
	}

	var out callbacks

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.send("status", protocol.StatusDestination, protocol.StatusPayload{Status: st})
	c.session.Status = st
	c.setPresence(c.session.Username, st, &out)
	c.mu.Unlock()
	out.fire()
	return nil
}

// ---------------------------------------------------------------------------
// Outbound typing
// ---------------------------------------------------------------------------

// NotifyTyping records keystroke activity in the active room. The first call
// of a burst sends a typing-start; each call pushes the debounce deadline
// out, and once it passes without another call a single typing-stop is sent.
// It is a no-op without a room or a connection.
func (c *Client) NotifyTyping() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.room == "" || c.state != StateConnected {
		return
	}
	if !c.typing {
		c.typing = true
		c.typingRoom = c.room
		c.send("typing_start", protocol.TypingDestination(c.room), protocol.TypingPayload{IsTyping: true})
	}

	if c.typingTimer != nil {
		c.typingTimer.Stop()
	}
	c.typingSeq++
	seq := c.typingSeq
	c.typingTimer = c.clock.AfterFunc(c.config.TypingDebounce, func() {
		c.typingIdle(seq)
	})
}

func (c *Client) typingIdle(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.typingSeq {
		return
	}
	c.stopTyping()
}

// stopTyping cancels the debounce timer and sends a typing-stop if a
// typing-start is outstanding. Must hold c.mu.
func (c *Client) stopTyping() {
	wasTyping, room := c.typing, c.typingRoom
	c.cancelTyping()
	if wasTyping && room != "" && c.state == StateConnected {
		c.send("typing_stop", protocol.TypingDestination(room), protocol.TypingPayload{IsTyping: false})
	}
}

// cancelTyping clears outbound typing state without sending. Must hold c.mu.
func (c *Client) cancelTyping() {
	if c.typingTimer != nil {
		c.typingTimer.Stop()
		c.typingTimer = nil
	}
	c.typingSeq++
	c.typing = false
	c.typingRoom = ""
}
