package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const keyRelay = "propagation.relay"

// Get returns the value for key and whether it exists.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("query %s: %w", key, err)
	}
	return v, true, nil
}

// Set stores value under key. An empty value deletes the key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if value == "" {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
			return fmt.Errorf("delete %s: %w", key, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Relay returns the selected propagation relay, or "".
func (s *Store) Relay(ctx context.Context) (string, error) {
	v, _, err := s.Get(ctx, keyRelay)
	return v, err
}

// SetRelay persists the selected propagation relay.
func (s *Store) SetRelay(ctx context.Context, destinationHash string) error {
	return s.Set(ctx, keyRelay, destinationHash)
}

func (s *Store) touchPeer(ctx context.Context, hash string, seen time.Time) error {
	if hash == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peers (hash, last_seen) VALUES (?, ?)
		 ON CONFLICT(hash) DO UPDATE SET last_seen = MAX(peers.last_seen, excluded.last_seen)`,
		hash, formatTime(seen),
	)
	if err != nil {
		return fmt.Errorf("touch peer %s: %w", hash, err)
	}
	return nil
}
