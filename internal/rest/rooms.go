package rest

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/protocol"
)

// Room types accepted by CreateRoom.
const (
	RoomTypeGroup  = "GROUP_CHAT"
	RoomTypeDirect = "DIRECT_MESSAGE"
)

// CreateRoomRequest is the room creation form.
type CreateRoomRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	RoomType    string `json:"roomType,omitempty"`
	IsPrivate   bool   `json:"isPrivate"`
}

// Validate checks the form locally.
func (r CreateRoomRequest) Validate() error {
	if err := chat.ValidateRoomName(r.Name); err != nil {
		return err
	}
	return chat.ValidateDescription(r.Description)
}

func roomPath(roomID, suffix string) string {
	return "/api/rooms/" + url.PathEscape(roomID) + suffix
}

// MyRooms lists the rooms the caller is a member of.
func (c *Client) MyRooms(ctx context.Context) ([]protocol.Membership, error) {
	var out []protocol.Membership
	if err := c.do(ctx, http.MethodGet, "/api/rooms/my-rooms", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AvailableRooms lists public rooms.
func (c *Client) AvailableRooms(ctx context.Context) ([]protocol.Room, error) {
	var out []protocol.Room
	if err := c.do(ctx, http.MethodGet, "/api/rooms/available", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Members lists a room's members with their presence.
func (c *Client) Members(ctx context.Context, roomID string) ([]protocol.Member, error) {
	var out []protocol.Member
	if err := c.do(ctx, http.MethodGet, roomPath(roomID, "/members"), nil, &out); err != nil {
		return nil, err
	}
	for i := range out {
		if st, err := protocol.ParseStatus(string(out[i].Status)); err == nil {
			out[i].Status = st
		}
	}
	return out, nil
}

// CreateRoom creates a room. The room type defaults to a group chat.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (protocol.Room, error) {
	if err := req.Validate(); err != nil {
		return protocol.Room{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Description = strings.TrimSpace(req.Description)
	if req.RoomType == "" {
		req.RoomType = RoomTypeGroup
	}

	var room protocol.Room
	if err := c.do(ctx, http.MethodPost, "/api/rooms", req, &room); err != nil {
		return protocol.Room{}, err
	}
	return room, nil
}

// JoinRoom adds the caller to a room's membership.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/join"), nil, nil)
}

// LeaveRoom removes the caller from a room's membership.
func (c *Client) LeaveRoom(ctx context.Context, roomID string) error {
	return c.do(ctx, http.MethodPost, roomPath(roomID, "/leave"), nil, nil)
}

// RenameRoom renames a room and returns its id and new name.
func (c *Client) RenameRoom(ctx context.Context, roomID, name string) (protocol.Room, error) {
	if err := chat.ValidateRoomName(name); err != nil {
		return protocol.Room{}, err
	}
	body := map[string]string{"name": strings.TrimSpace(name)}

	var room protocol.Room
	if err := c.do(ctx, http.MethodPut, roomPath(roomID, "/rename"), body, &room); err != nil {
		return protocol.Room{}, err
	}
	return room, nil
}
