package sqlite

import (
	"context"
	"fmt"

	"meshnode"
)

// Announces returns every stored announce, newest first.
func (s *Store) Announces(ctx context.Context) ([]meshnode.Announce, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT destination_hash, identity_hash, public_key, aspect, app_data, hops, interface, received_at
		 FROM announces ORDER BY received_at DESC, destination_hash`)
	if err != nil {
		return nil, fmt.Errorf("list announces: %w", err)
	}
	defer rows.Close()

	out := make([]meshnode.Announce, 0)
	for rows.Next() {
		var (
			a        meshnode.Announce
			received string
		)
		if err := rows.Scan(&a.DestinationHash, &a.IdentityHash, &a.PublicKey, &a.Aspect, &a.AppData, &a.Hops, &a.Interface, &received); err != nil {
			return nil, fmt.Errorf("scan announce row: %w", err)
		}
		a.ReceivedAt = parseTime(received)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announce rows: %w", err)
	}
	return out, nil
}

// SaveAnnounce upserts a by destination and fills in the public key of a
// conversation peer with the same identity hash.
func (s *Store) SaveAnnounce(ctx context.Context, a meshnode.Announce) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save announce: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO announces (destination_hash, identity_hash, public_key, aspect, app_data, hops, interface, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(destination_hash) DO UPDATE SET
		 identity_hash = excluded.identity_hash,
		 public_key = excluded.public_key,
		 aspect = excluded.aspect,
		 app_data = excluded.app_data,
		 hops = excluded.hops,
		 interface = excluded.interface,
		 received_at = excluded.received_at`,
		a.DestinationHash, a.IdentityHash, a.PublicKey, a.Aspect, a.AppData, a.Hops, a.Interface, formatTime(a.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("save announce %s: %w", a.DestinationHash, err)
	}

	if len(a.PublicKey) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE peers SET public_key = ? WHERE hash IN (?, ?) AND public_key IS NULL`,
			a.PublicKey, a.IdentityHash, a.DestinationHash,
		)
		if err != nil {
			return fmt.Errorf("resolve peer from announce %s: %w", a.DestinationHash, err)
		}
	}
	return tx.Commit()
}
