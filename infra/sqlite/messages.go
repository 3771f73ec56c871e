package sqlite

import (
	"context"
	"fmt"

	"meshnode"
)

// SaveMessage stores msg. A message already stored is left untouched.
func (s *Store) SaveMessage(ctx context.Context, msg meshnode.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, source_hash, destination_hash, title, content, hops, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		msg.ID, msg.SourceHash, msg.DestinationHash, msg.Title, msg.Content, msg.Hops, formatTime(msg.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("save message %s: %w", msg.ID, err)
	}
	if err := s.touchPeer(ctx, msg.SourceHash, msg.ReceivedAt); err != nil {
		return err
	}
	return nil
}

// Messages returns up to limit messages, newest first.
func (s *Store) Messages(ctx context.Context, limit int) ([]meshnode.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_hash, destination_hash, title, content, hops, received_at
		 FROM messages ORDER BY received_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	out := make([]meshnode.Message, 0)
	for rows.Next() {
		var (
			m        meshnode.Message
			received string
		)
		if err := rows.Scan(&m.ID, &m.SourceHash, &m.DestinationHash, &m.Title, &m.Content, &m.Hops, &received); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.ReceivedAt = parseTime(received)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
