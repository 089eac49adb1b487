package protocol

// ChannelKind tells the dispatcher how to decode a channel's payloads.
type ChannelKind int

const (
	KindMessages ChannelKind = iota
	KindEvents
	KindTyping
	KindStatus
	KindErrors
)

func (k ChannelKind) String() string {
	switch k {
	case KindMessages:
		return "messages"
	case KindEvents:
		return "events"
	case KindTyping:
		return "typing"
	case KindStatus:
		return "status"
	case KindErrors:
		return "errors"
	default:
		return "unknown"
	}
}

// Channel and destination prefixes.
const (
	roomTopicPrefix  = "/topic/rooms/"
	roomAppPrefix    = "/app/rooms/"
	userStatusPrefix = "/user/topic/user-status/"

	// UserErrorsChannel receives ErrorNotice payloads for the session user.
	UserErrorsChannel = "/user/queue/errors"

	// StatusDestination accepts StatusPayload.
	StatusDestination = "/app/user/status"
)

// RoomChannel carries ChatMessage payloads for a room.
func RoomChannel(roomID string) string { return roomTopicPrefix + roomID }

// RoomEventsChannel carries RoomEvent and StatusUpdate payloads for a room.
func RoomEventsChannel(roomID string) string { return roomTopicPrefix + roomID + "/events" }

// RoomTypingChannel carries TypingSignal payloads for a room.
func RoomTypingChannel(roomID string) string { return roomTopicPrefix + roomID + "/typing" }

// UserStatusChannel carries StatusUpdate payloads for a user.
func UserStatusChannel(username string) string { return userStatusPrefix + username }

// SendDestination accepts MessagePayload for a room.
func SendDestination(roomID string) string { return roomAppPrefix + roomID + "/send" }

// TypingDestination accepts TypingPayload for a room.
func TypingDestination(roomID string) string { return roomAppPrefix + roomID + "/typing" }

// JoinDestination accepts the join notification for a room.
func JoinDestination(roomID string) string { return roomAppPrefix + roomID + "/join-notification" }

// LeaveDestination accepts the leave notification for a room.
func LeaveDestination(roomID string) string { return roomAppPrefix + roomID + "/leave-notification" }

// ChannelSpec pairs a channel name with its payload kind.
type ChannelSpec struct {
	Name string
	Kind ChannelKind
}

// RoomChannels lists the three channels a room subscription consists of.
func RoomChannels(roomID string) []ChannelSpec {
	return []ChannelSpec{
		{Name: RoomChannel(roomID), Kind: KindMessages},
		{Name: RoomEventsChannel(roomID), Kind: KindEvents},
		{Name: RoomTypingChannel(roomID), Kind: KindTyping},
	}
}

// UserChannels lists the user-scoped channels held for the whole connection.
func UserChannels(username string) []ChannelSpec {
	return []ChannelSpec{
		{Name: UserStatusChannel(username), Kind: KindStatus},
		{Name: UserErrorsChannel, Kind: KindErrors},
	}
}
