// Package transcript provides PostgreSQL-backed storage for room transcripts.
// Every message observed on a followed room is archived once; messages that
// carry a server id are deduplicated per room.
package transcript

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/whisper/roomchat/internal/chat"
	"github.com/whisper/roomchat/internal/metrics"
	"github.com/whisper/roomchat/internal/protocol"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store manages archived room messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by the given database handle. The schema
// must already be migrated.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn (a postgres:// URL), applies pending migrations and
// returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("transcript: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("transcript: ping: %w", err)
	}
	return NewStore(db), nil
}

// Migrate applies the embedded schema migrations to dsn.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("transcript: migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("transcript: migrate: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			log.Warn().AnErr("source", srcErr).AnErr("database", dbErr).Msg("[transcript] closing migrator")
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("transcript: migrate up: %w", err)
	}
	version, dirty, err := m.Version()
	if err == nil {
		log.Info().Uint("version", version).Bool("dirty", dirty).Msg("[transcript] schema ready")
	}
	return nil
}

// Append archives one message. A message whose server id was already
// archived for the room is skipped. A message with an id that matches an
// archived id-less broadcast (same sender and text, sent within
// chat.SameMessageWindow) gives that row its id instead of adding one.
// Append reports whether a row was written.
func (s *Store) Append(ctx context.Context, m protocol.ChatMessage) (bool, error) {
	if m.RoomID == "" || m.Sender.Username == "" {
		metrics.ArchivedMessages.WithLabelValues("error").Inc()
		return false, fmt.Errorf("transcript: message without room or sender")
	}
	sentAt := time.Now()
	if m.Timestamp > 0 {
		sentAt = m.SentAt()
	}

	if m.ID != "" {
		adopted, err := s.adopt(ctx, m, sentAt)
		if err != nil {
			metrics.ArchivedMessages.WithLabelValues("error").Inc()
			return false, err
		}
		if adopted {
			metrics.ArchivedMessages.WithLabelValues("adopted").Inc()
			return false, nil
		}
	}

	const query = `
		INSERT INTO room_messages (room_id, message_id, sender, sender_name, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (room_id, message_id) WHERE message_id <> '' DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		string(m.RoomID),
		string(m.ID),
		m.Sender.Username,
		m.Sender.DisplayName,
		m.Text,
		sentAt.UTC(),
	)
	if err != nil {
		metrics.ArchivedMessages.WithLabelValues("error").Inc()
		return false, fmt.Errorf("transcript: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transcript: rows affected: %w", err)
	}
	if n == 0 {
		metrics.ArchivedMessages.WithLabelValues("duplicate").Inc()
		return false, nil
	}
	metrics.ArchivedMessages.WithLabelValues("inserted").Inc()
	return true, nil
}

// adopt stamps m's id on the closest archived id-less copy of m, unless the
// id is already archived for the room.
func (s *Store) adopt(ctx context.Context, m protocol.ChatMessage, sentAt time.Time) (bool, error) {
	const query = `
		UPDATE room_messages SET message_id = $2
		WHERE id = (
			SELECT id FROM room_messages
			WHERE room_id = $1 AND message_id = '' AND sender = $3 AND body = $4
			  AND sent_at BETWEEN $5::timestamptz - make_interval(secs => $6::float8)
			                  AND $5::timestamptz + make_interval(secs => $6::float8)
			ORDER BY abs(extract(epoch FROM sent_at - $5::timestamptz)), id
			LIMIT 1
		)
		AND NOT EXISTS (
			SELECT 1 FROM room_messages WHERE room_id = $1 AND message_id = $2
		)`

	res, err := s.db.ExecContext(ctx, query,
		string(m.RoomID),
		string(m.ID),
		m.Sender.Username,
		m.Text,
		sentAt.UTC(),
		chat.SameMessageWindow.Seconds(),
	)
	if err != nil {
		return false, fmt.Errorf("transcript: adopt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transcript: rows affected: %w", err)
	}
	return n > 0, nil
}

// Recent returns up to limit of the newest archived messages of a room,
// oldest first.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]protocol.ChatMessage, error) {
	if limit <= 0 {
		limit = 50
	}

	const query = `
		SELECT message_id, sender, sender_name, body, sent_at
		FROM (
			SELECT id, message_id, sender, sender_name, body, sent_at
			FROM room_messages
			WHERE room_id = $1
			ORDER BY sent_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY sent_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("transcript: recent: %w", err)
	}
	defer rows.Close()

	var out []protocol.ChatMessage
	for rows.Next() {
		var (
			m      protocol.ChatMessage
			id     string
			sentAt time.Time
		)
		if err := rows.Scan(&id, &m.Sender.Username, &m.Sender.DisplayName, &m.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("transcript: scan: %w", err)
		}
		m.Type = protocol.TypeMessage
		m.ID = protocol.ID(id)
		m.RoomID = protocol.RoomID(roomID)
		m.Timestamp = sentAt.UnixMilli()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transcript: recent: %w", err)
	}
	return out, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
