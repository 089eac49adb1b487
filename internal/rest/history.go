package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/whisper/roomchat/internal/protocol"
)

// DefaultHistorySize is the page size used by RecentMessages.
const DefaultHistorySize = 50

// historyEntry is one stored message. Stored messages carry a createdAt
// instant rather than the live event's millisecond timestamp.
type historyEntry struct {
	ID        protocol.ID      `json:"id"`
	RoomID    protocol.RoomID  `json:"roomId"`
	Sender    protocol.UserRef `json:"sender"`
	Text      string           `json:"text"`
	CreatedAt json.RawMessage  `json:"createdAt"`
	Timestamp int64            `json:"timestamp"`
}

func (e historyEntry) message(roomID string) (protocol.ChatMessage, error) {
	ts := e.Timestamp
	if len(e.CreatedAt) > 0 {
		t, err := parseInstant(e.CreatedAt)
		if err != nil {
			return protocol.ChatMessage{}, err
		}
		if !t.IsZero() {
			ts = t.UnixMilli()
		}
	}
	return protocol.ChatMessage{
		Type:      protocol.TypeMessage,
		ID:        e.ID,
		RoomID:    protocol.RoomID(roomID),
		Sender:    e.Sender,
		Text:      e.Text,
		Timestamp: ts,
	}, nil
}

// parseInstant accepts an RFC 3339 string or a number of epoch seconds with
// an optional fractional part.
func parseInstant(raw json.RawMessage) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("rest: createdAt: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("rest: createdAt: %w", err)
		}
		return t, nil
	}
	secs, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("rest: createdAt: %w", err)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)), nil
}

// History fetches one page of a room's messages, oldest first. The server
// pages newest first, so page 0 holds the most recent messages; its content
// is reversed here. A bare array response is taken in the order given.
func (c *Client) History(ctx context.Context, roomID string, page, size int) ([]protocol.ChatMessage, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = DefaultHistorySize
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	path := "/api/messages/rooms/" + url.PathEscape(roomID) + "?" + q.Encode()

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	entries, paged, err := decodeHistory(raw)
	if err != nil {
		return nil, err
	}
	out := make([]protocol.ChatMessage, 0, len(entries))
	for _, e := range entries {
		m, err := e.message(roomID)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if paged {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func decodeHistory(raw json.RawMessage) (entries []historyEntry, paged bool, err error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, false, nil
	}
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, false, fmt.Errorf("rest: history: %w", err)
		}
		return entries, false, nil
	}
	var page struct {
		Content []historyEntry `json:"content"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, false, fmt.Errorf("rest: history: %w", err)
	}
	return page.Content, true, nil
}

// RecentMessages fetches the most recent page of history.
func (c *Client) RecentMessages(ctx context.Context, roomID string) ([]protocol.ChatMessage, error) {
	return c.History(ctx, roomID, 0, DefaultHistorySize)
}
