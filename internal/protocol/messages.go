// Package protocol defines the real-time wire contract between the chat client
// and the server: channel and destination names, outbound action payloads,
// and the tagged inbound event variants. Inbound payloads are JSON objects
// carrying a "type" discriminator and are decoded into a concrete variant at
// the channel boundary, before anything is dispatched to the room client.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Server -> Client event types.
const (
	TypeMessage      = "MESSAGE"
	TypeUserJoined   = "USER_JOINED"
	TypeUserLeft     = "USER_LEFT"
	TypeRoomRenamed  = "ROOM_RENAMED"
	TypeStatusUpdate = "STATUS_UPDATE"
	TypeTyping       = "TYPING"
	TypeError        = "ERROR"
)

// Status is a user's presence.
type Status string

const (
	StatusOnline  Status = "ONLINE"
	StatusAway    Status = "AWAY"
	StatusOffline Status = "OFFLINE"
)

// ParseStatus accepts a presence name in any letter case.
func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusOnline, StatusAway, StatusOffline:
		return st, nil
	default:
		return "", fmt.Errorf("protocol: invalid status %q", s)
	}
}

// RoomID identifies a room. The server emits room ids as JSON numbers on
// some channels and as strings on others; both decode to the same RoomID.
type RoomID string

// UnmarshalJSON implements the json.Unmarshaler interface.
func (id *RoomID) UnmarshalJSON(data []byte) error {
	s, err := decodeID("room id", data)
	if err != nil {
		return err
	}
	*id = RoomID(s)
	return nil
}

// ID identifies a user or a message. Like RoomID it may arrive as a JSON
// number or a string.
type ID string

// UnmarshalJSON implements the json.Unmarshaler interface.
func (id *ID) UnmarshalJSON(data []byte) error {
	s, err := decodeID("id", data)
	if err != nil {
		return err
	}
	*id = ID(s)
	return nil
}

func decodeID(what string, data []byte) (string, error) {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return "", nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", fmt.Errorf("protocol: %s: %w", what, err)
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return "", fmt.Errorf("protocol: %s: %w", what, err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", fmt.Errorf("protocol: %s %s is not an integer", what, n)
	}
	return n.String(), nil
}

// ---------------------------------------------------------------------------
// Shared models
// ---------------------------------------------------------------------------

// UserRef is the user summary embedded in server events.
type UserRef struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status,omitempty"`
}

// Name returns the display name, falling back to the username.
func (u UserRef) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Session is the authenticated user's state. It is created on login or
// registration and destroyed on logout.
type Session struct {
	UserID      ID     `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email,omitempty"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
	Status      Status `json:"status"`
	Token       string `json:"-"`
}

// Ref returns the session user as it appears in server events.
func (s Session) Ref() UserRef {
	return UserRef{Username: s.Username, DisplayName: s.DisplayName, Status: s.Status}
}

// Member is one row of a room's member list.
type Member struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Status      Status `json:"status"`
	Role        string `json:"role"`
	JoinedAt    string `json:"joinedAt,omitempty"`
}

// Room is a chat room summary.
type Room struct {
	ID          RoomID `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	RoomType    string `json:"roomType,omitempty"`
	IsPrivate   bool   `json:"isPrivate,omitempty"`
	MemberCount int    `json:"memberCount,omitempty"`
}

// Membership is a room the session user belongs to.
type Membership struct {
	Room     Room   `json:"room"`
	Role     string `json:"role"`
	JoinedAt string `json:"joinedAt,omitempty"`
}

// ---------------------------------------------------------------------------
// Inbound event variants
// ---------------------------------------------------------------------------

// Event is implemented by every inbound event variant.
type Event interface {
	EventType() string
}

// ChatMessage is a message broadcast on a room's message channel. History
// entries fetched over REST are normalised into the same shape.
type ChatMessage struct {
	Type      string  `json:"type,omitempty"`
	ID        ID      `json:"id,omitempty"`
	RoomID    RoomID  `json:"roomId"`
	Sender    UserRef `json:"sender"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"` // unix millis
}

// EventType implements Event.
func (ChatMessage) EventType() string { return TypeMessage }

// SentAt returns the message timestamp.
func (m ChatMessage) SentAt() time.Time { return time.UnixMilli(m.Timestamp) }

// RoomEvent is a structural change notification: a member joined or left,
// or the room was renamed.
type RoomEvent struct {
	Type      string  `json:"type"`
	RoomID    RoomID  `json:"roomId"`
	User      UserRef `json:"user"`
	Message   string  `json:"message,omitempty"`
	Name      string  `json:"name,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// EventType implements Event.
func (e RoomEvent) EventType() string { return e.Type }

// AffectsMembership reports whether the event changes the member list.
func (e RoomEvent) AffectsMembership() bool {
	return e.Type == TypeUserJoined || e.Type == TypeUserLeft
}

// TypingSignal reports that a user started or stopped composing in a room.
type TypingSignal struct {
	Type      string  `json:"type,omitempty"`
	RoomID    RoomID  `json:"roomId"`
	User      UserRef `json:"user"`
	IsTyping  bool    `json:"isTyping"`
	Timestamp int64   `json:"timestamp"`
}

// EventType implements Event.
func (TypingSignal) EventType() string { return TypeTyping }

// StatusUpdate reports a user's presence change. It arrives on the user
// status channel and, for room members, on the room events channel.
type StatusUpdate struct {
	Type      string  `json:"type,omitempty"`
	RoomID    RoomID  `json:"roomId,omitempty"`
	User      UserRef `json:"user"`
	Status    Status  `json:"status,omitempty"`
	Timestamp int64   `json:"timestamp"`
}

// EventType implements Event.
func (StatusUpdate) EventType() string { return TypeStatusUpdate }

// Presence returns the reported status.
func (u StatusUpdate) Presence() Status {
	if u.Status != "" {
		return u.Status
	}
	return u.User.Status
}

// ErrorNotice is a server-side failure addressed to this user. It is never
// fatal to the connection.
type ErrorNotice struct {
	Type      string `json:"type,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// EventType implements Event.
func (ErrorNotice) EventType() string { return TypeError }

// ---------------------------------------------------------------------------
// Client -> Server payloads
// ---------------------------------------------------------------------------

// MessagePayload is sent to a room's send destination.
type MessagePayload struct {
	Text string `json:"text"`
}

// TypingPayload is sent to a room's typing destination.
type TypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// StatusPayload is sent to the status destination.
type StatusPayload struct {
	Status Status `json:"status"`
}

// NotificationPayload is the empty body of join and leave notifications.
type NotificationPayload struct{}

// Encode marshals an outbound payload.
func Encode(payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// Envelope and parsing
// ---------------------------------------------------------------------------

// Envelope holds the event type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field. A missing type is not an
// error here; the channel kind decides whether one is required.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	e.Type = strings.ToUpper(partial.Type)
	return nil
}

// ParseEvent decodes a payload delivered on a channel of the given kind into
// its event variant. Payloads whose type does not belong on the channel, or
// that lack the fields needed to route them, are rejected.
func ParseEvent(kind ChannelKind, data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("protocol: failed to parse %s payload: %w", kind, err)
	}

	switch kind {
	case KindMessages:
		if env.Type != "" && env.Type != TypeMessage {
			return nil, unexpectedType(kind, env.Type)
		}
		var m ChatMessage
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		if m.Sender.Username == "" {
			return nil, fmt.Errorf("protocol: message without sender")
		}
		m.Type = TypeMessage
		return m, nil

	case KindEvents:
		switch env.Type {
		case TypeUserJoined, TypeUserLeft, TypeRoomRenamed:
			var e RoomEvent
			if err := decode(env, &e); err != nil {
				return nil, err
			}
			e.Type = env.Type
			if e.AffectsMembership() && e.User.Username == "" {
				return nil, fmt.Errorf("protocol: %s event without user", e.Type)
			}
			return e, nil
		case TypeStatusUpdate:
			return parseStatus(env)
		default:
			return nil, unexpectedType(kind, env.Type)
		}

	case KindTyping:
		if env.Type != "" && env.Type != TypeTyping {
			return nil, unexpectedType(kind, env.Type)
		}
		var ts TypingSignal
		if err := decode(env, &ts); err != nil {
			return nil, err
		}
		if ts.User.Username == "" {
			return nil, fmt.Errorf("protocol: typing signal without user")
		}
		ts.Type = TypeTyping
		return ts, nil

	case KindStatus:
		if env.Type != "" && env.Type != TypeStatusUpdate {
			return nil, unexpectedType(kind, env.Type)
		}
		return parseStatus(env)

	case KindErrors:
		var n ErrorNotice
		if err := decode(env, &n); err != nil {
			return nil, err
		}
		if n.Message == "" {
			n.Message = "unknown server error"
		}
		n.Type = TypeError
		return n, nil
	}

	return nil, fmt.Errorf("protocol: unknown channel kind %d", kind)
}

func parseStatus(env Envelope) (Event, error) {
	var u StatusUpdate
	if err := decode(env, &u); err != nil {
		return nil, err
	}
	if u.User.Username == "" {
		return nil, fmt.Errorf("protocol: status update without user")
	}
	if u.Presence() != "" {
		st, err := ParseStatus(string(u.Presence()))
		if err != nil {
			return nil, err
		}
		u.Status = st
	}
	u.Type = TypeStatusUpdate
	return u, nil
}

func decode(env Envelope, v interface{}) error {
	if err := json.Unmarshal(env.Raw, v); err != nil {
		return fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return nil
}

func unexpectedType(kind ChannelKind, typ string) error {
	return fmt.Errorf("protocol: unexpected event type %q on %s channel", typ, kind)
}
