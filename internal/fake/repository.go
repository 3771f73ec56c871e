package fake

import (
	"context"
	"slices"
	"sync"

	"meshnode"
)

// Repository serves interfaces, settings, identities, peers and announces
// from memory. Reads return copies.
type Repository struct {
	CallRecorder
	Faults

	mu         sync.Mutex
	interfaces meshnode.InterfaceSet
	settings   meshnode.Settings
	identity   *meshnode.Identity
	peers      []meshnode.PeerIdentity
	announces  []meshnode.Announce
}

func (r *Repository) SetInterfaces(set meshnode.InterfaceSet) {
	r.mu.Lock()
	r.interfaces = set.Clone()
	r.mu.Unlock()
}

func (r *Repository) SetSettings(s meshnode.Settings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

func (r *Repository) SetIdentity(id *meshnode.Identity) {
	r.mu.Lock()
	r.identity = id
	r.mu.Unlock()
}

func (r *Repository) SetPeers(peers []meshnode.PeerIdentity) {
	r.mu.Lock()
	r.peers = slices.Clone(peers)
	r.mu.Unlock()
}

func (r *Repository) SetAnnounces(announces []meshnode.Announce) {
	r.mu.Lock()
	r.announces = slices.Clone(announces)
	r.mu.Unlock()
}

func (r *Repository) EnabledInterfaces(ctx context.Context) (meshnode.InterfaceSet, error) {
	r.record("EnabledInterfaces")
	if err := r.eval("EnabledInterfaces"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interfaces.Enabled(), nil
}

func (r *Repository) Settings(ctx context.Context) (meshnode.Settings, error) {
	r.record("Settings")
	if err := r.eval("Settings"); err != nil {
		return meshnode.Settings{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings, nil
}

func (r *Repository) ActiveIdentity(ctx context.Context) (*meshnode.Identity, error) {
	r.record("ActiveIdentity")
	if err := r.eval("ActiveIdentity"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identity == nil {
		return nil, nil
	}
	cp := *r.identity
	return &cp, nil
}

func (r *Repository) PeerIdentities(ctx context.Context) ([]meshnode.PeerIdentity, error) {
	r.record("PeerIdentities")
	if err := r.eval("PeerIdentities"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.peers), nil
}

func (r *Repository) Announces(ctx context.Context) ([]meshnode.Announce, error) {
	r.record("Announces")
	if err := r.eval("Announces"); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.announces), nil
}

// Reseeder records the state handed to it.
type Reseeder struct {
	CallRecorder
	Faults

	mu   sync.Mutex
	last meshnode.ReseedState
}

func (r *Reseeder) Reseed(ctx context.Context, state meshnode.ReseedState) error {
	r.record("Reseed", state)
	if err := r.eval("Reseed"); err != nil {
		return err
	}
	r.mu.Lock()
	r.last = state
	r.mu.Unlock()
	return nil
}

// Last returns the state from the last successful Reseed.
func (r *Reseeder) Last() meshnode.ReseedState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
