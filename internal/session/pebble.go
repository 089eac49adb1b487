package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"

	"github.com/whisper/roomchat/internal/protocol"
)

// PebbleStore keeps the session in a local Pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// OpenPebbleStore opens (creating if needed) the database in dir. A nil fs
// selects the OS filesystem.
func OpenPebbleStore(dir string, fs vfs.FS) (*PebbleStore, error) {
	if fs == nil {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("session: create %s: %w", dir, err)
		}
		fs = vfs.Default
	}
	db, err := pebble.Open(filepath.Clean(dir), &pebble.Options{FS: fs})
	if err != nil {
		return nil, fmt.Errorf("session: open pebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// Save writes both keys in one synced batch.
func (s *PebbleStore) Save(_ context.Context, sess protocol.Session) error {
	user, err := encodeUser(sess)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(TokenKey), []byte(sess.Token), nil); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	if err := b.Set([]byte(UserKey), user, nil); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}
	return nil
}

// Load returns the stored session, or nil if either key is missing.
func (s *PebbleStore) Load(_ context.Context) (*protocol.Session, error) {
	token, err := s.get(TokenKey)
	if err != nil || token == nil {
		return nil, err
	}
	user, err := s.get(UserKey)
	if err != nil || user == nil {
		return nil, err
	}
	return decodeSession(string(token), user)
}

func (s *PebbleStore) get(key string) ([]byte, error) {
	data, closer, err := s.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: get %s: %w", key, err)
	}
	defer closer.Close()
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Clear deletes both keys.
func (s *PebbleStore) Clear(_ context.Context) error {
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(TokenKey), nil); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	if err := b.Delete([]byte(UserKey), nil); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
