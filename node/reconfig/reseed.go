package reconfig

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"meshnode"
)

// gatherReseed reads the active identity, known peers and stored announces.
// A failed read counts as empty; the returned error only reports what failed.
func (m *Manager) gatherReseed(ctx context.Context) (meshnode.ReseedState, error) {
	var (
		state meshnode.ReseedState
		errs  []error
	)

	if m.identities != nil {
		id, err := m.identities.ActiveIdentity(ctx)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("read active identity: %w", err))
		case id != nil:
			cp := *id
			cp.SigningSeed = slices.Clone(id.SigningSeed)
			state.Identity = &cp
		}
	}

	if m.peers != nil {
		peers, err := m.peers.PeerIdentities(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("read peer identities: %w", err))
		} else {
			state.Peers = slices.Clone(peers)
		}
	}

	if m.announces != nil {
		announces, err := m.announces.Announces(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("read announces: %w", err))
		} else {
			state.Announces = slices.Clone(announces)
		}
	}

	return state, errors.Join(errs...)
}
