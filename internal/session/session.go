// Package session persists the authenticated session between runs: the
// bearer token and the user profile, stored as a pair under the keys
// chatToken and chatUser. A store holding only one of the two is treated as
// empty.
package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/whisper/roomchat/internal/protocol"
)

// Keys of the persisted pair.
const (
	TokenKey = "chatToken"
	UserKey  = "chatUser"
)

// Store persists one session.
type Store interface {
	// Save replaces the stored session.
	Save(ctx context.Context, s protocol.Session) error
	// Load returns the stored session, or nil if none is stored.
	Load(ctx context.Context) (*protocol.Session, error)
	// Clear removes the stored session.
	Clear(ctx context.Context) error
	Close() error
}

func encodeUser(s protocol.Session) ([]byte, error) {
	if s.Token == "" {
		return nil, fmt.Errorf("session: refusing to save a session without token")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("session: marshal user: %w", err)
	}
	return data, nil
}

func decodeSession(token string, user []byte) (*protocol.Session, error) {
	if token == "" || len(user) == 0 {
		return nil, nil
	}
	var s protocol.Session
	if err := json.Unmarshal(user, &s); err != nil {
		return nil, fmt.Errorf("session: decode user: %w", err)
	}
	s.Token = token
	return &s, nil
}
