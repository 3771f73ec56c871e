package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"

	"meshnode"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// ActiveIdentity returns the active identity, or nil when there is none.
func (s *Store) ActiveIdentity(ctx context.Context) (*meshnode.Identity, error) {
	var hash, name, encKey, seed, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, display_name, encryption_key, signing_seed, created_at
		 FROM identities WHERE active = 1 LIMIT 1`,
	).Scan(&hash, &name, &encKey, &seed, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query active identity: %w", err)
	}

	key, err := wgtypes.ParseKey(encKey)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key of %s: %w", hash, err)
	}
	seedBytes, err := hex.DecodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("parse signing seed of %s: %w", hash, err)
	}
	return &meshnode.Identity{
		Hash:          hash,
		DisplayName:   name,
		EncryptionKey: key,
		SigningSeed:   seedBytes,
		CreatedAt:     parseTime(created),
	}, nil
}

// SaveIdentity stores id and, when active, makes it the only active one.
func (s *Store) SaveIdentity(ctx context.Context, id meshnode.Identity, active bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save identity: %w", err)
	}
	defer tx.Rollback()

	if active {
		if _, err := tx.ExecContext(ctx, `UPDATE identities SET active = 0 WHERE active = 1`); err != nil {
			return fmt.Errorf("deactivate identities: %w", err)
		}
	}
	activeInt := 0
	if active {
		activeInt = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO identities (hash, display_name, encryption_key, signing_seed, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO UPDATE SET
		 display_name = excluded.display_name,
		 active = excluded.active`,
		id.Hash,
		id.DisplayName,
		id.EncryptionKey.String(),
		hex.EncodeToString(id.SigningSeed),
		activeInt,
		formatTime(id.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("save identity %s: %w", id.Hash, err)
	}
	return tx.Commit()
}

// LoadOrCreateIdentity returns the active identity, generating and storing
// a new one on first run.
func (s *Store) LoadOrCreateIdentity(ctx context.Context, displayName string) (meshnode.Identity, error) {
	existing, err := s.ActiveIdentity(ctx)
	if err != nil {
		return meshnode.Identity{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	id, err := meshnode.NewIdentity(displayName)
	if err != nil {
		return meshnode.Identity{}, err
	}
	if err := s.SaveIdentity(ctx, id, true); err != nil {
		return meshnode.Identity{}, err
	}
	return id, nil
}
