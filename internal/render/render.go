// Package render turns room state into terminal lines. All user-supplied
// text passes through a strict sanitiser first, so markup sent by other
// clients is shown as plain text and never interpreted.
package render

import (
	"fmt"
	"html"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/whisper/roomchat/internal/protocol"
)

// Renderer formats lines for one signed-in user.
type Renderer struct {
	self   string
	loc    *time.Location
	policy *bluemonday.Policy
}

// New creates a Renderer. Messages sent by self are marked as own.
func New(self string, loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.Local
	}
	return &Renderer{
		self:   self,
		loc:    loc,
		policy: bluemonday.StrictPolicy(),
	}
}

// Text strips markup and control characters from user-supplied text.
func (r *Renderer) Text(s string) string {
	s = html.UnescapeString(r.policy.Sanitize(s))
	return strings.Map(func(c rune) rune {
		if c == '\n' || c == '\t' {
			return ' '
		}
		if unicode.IsControl(c) {
			return -1
		}
		return c
	}, s)
}

// Clock formats a unix millisecond timestamp as HH:MM.
func (r *Renderer) Clock(ms int64) string {
	if ms <= 0 {
		return "--:--"
	}
	return time.UnixMilli(ms).In(r.loc).Format("15:04")
}

// Initials returns the upper-cased first letter of each word of name.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		c, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(c))
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}

// IsOwn reports whether m was sent by the signed-in user.
func (r *Renderer) IsOwn(m protocol.ChatMessage) bool {
	return m.Sender.Username == r.self
}

// Message renders a chat message. Own messages carry a leading marker.
func (r *Renderer) Message(m protocol.ChatMessage) string {
	marker := " "
	if r.IsOwn(m) {
		marker = ">"
	}
	name := r.Text(m.Sender.Name())
	if name == "" {
		name = "Unknown User"
	}
	text := r.Text(m.Text)
	if text == "" {
		text = "..."
	}
	return fmt.Sprintf("%s %s [%s] %s: %s", marker, r.Clock(m.Timestamp), Initials(name), name, text)
}

// Event renders a system line for a room event.
func (r *Renderer) Event(ev protocol.RoomEvent) string {
	msg := r.Text(ev.Message)
	if msg == "" {
		who := r.Text(ev.User.Name())
		switch ev.Type {
		case protocol.TypeUserJoined:
			msg = who + " joined the room"
		case protocol.TypeUserLeft:
			msg = who + " left the room"
		case protocol.TypeRoomRenamed:
			msg = "Room renamed to " + r.Text(ev.Name)
		default:
			msg = strings.ToLower(ev.Type)
		}
	}
	return fmt.Sprintf("-- %s (%s)", msg, r.Clock(ev.Timestamp))
}

// Typing renders the typing indicator line, or "" when nobody is typing.
func (r *Renderer) Typing(users []protocol.UserRef) string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, r.Text(u.Name()))
	}
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing..."
	case 2:
		return names[0] + " and " + names[1] + " are typing..."
	default:
		return fmt.Sprintf("%s, %s and %d others are typing...", names[0], names[1], len(names)-2)
	}
}

// Member renders one member-list row.
func (r *Renderer) Member(m protocol.Member) string {
	name := r.Text(m.DisplayName)
	if name == "" {
		name = r.Text(m.Username)
	}
	return fmt.Sprintf("[%s] %s  %s  %s", Initials(name), name,
		strings.ToLower(string(m.Status)), strings.ToLower(m.Role))
}

// MemberCount renders "1 member" or "N members".
func MemberCount(n int) string {
	if n == 1 {
		return "1 member"
	}
	return fmt.Sprintf("%d members", n)
}

// Room renders one room-list row.
func (r *Renderer) Room(room protocol.Room) string {
	line := fmt.Sprintf("#%s %s", room.ID, r.Text(room.Name))
	if room.IsPrivate {
		line += " (private)"
	}
	if d := r.Text(room.Description); d != "" {
		line += " - " + d
	}
	return line
}

// Presence renders a status change line.
func (r *Renderer) Presence(username string, st protocol.Status) string {
	return fmt.Sprintf("-- %s is now %s", r.Text(username), strings.ToLower(string(st)))
}
