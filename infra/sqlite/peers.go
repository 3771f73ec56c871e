package sqlite

import (
	"context"
	"fmt"

	"meshnode"
)

// PeerIdentities returns every conversation peer, most recently seen first.
func (s *Store) PeerIdentities(ctx context.Context) ([]meshnode.PeerIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, display_name, public_key, last_seen FROM peers ORDER BY last_seen DESC, hash`)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	out := make([]meshnode.PeerIdentity, 0)
	for rows.Next() {
		var (
			p        meshnode.PeerIdentity
			lastSeen string
		)
		if err := rows.Scan(&p.Hash, &p.DisplayName, &p.PublicKey, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan peer row: %w", err)
		}
		p.LastSeen = parseTime(lastSeen)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer rows: %w", err)
	}
	return out, nil
}

// SavePeer upserts a peer. A known public key is never replaced by an
// empty one.
func (s *Store) SavePeer(ctx context.Context, p meshnode.PeerIdentity) error {
	var pub any
	if len(p.PublicKey) > 0 {
		pub = p.PublicKey
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO peers (hash, display_name, public_key, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET
		 display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE peers.display_name END,
		 public_key = COALESCE(excluded.public_key, peers.public_key),
		 last_seen = excluded.last_seen`,
		p.Hash, p.DisplayName, pub, formatTime(p.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("save peer %s: %w", p.Hash, err)
	}
	return nil
}
