package meshnode

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// IdentityHashLen is the truncated hash length in bytes.
const IdentityHashLen = 16

// Identity is the local node identity: an X25519 encryption key and an
// Ed25519 signing key. The hash is derived from both public halves.
type Identity struct {
	Hash          string
	DisplayName   string
	EncryptionKey wgtypes.Key
	SigningSeed   []byte
	CreatedAt     time.Time
}

// NewIdentity generates a fresh identity.
func NewIdentity(displayName string) (Identity, error) {
	encKey, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("generate encryption key: %w", err)
	}
	_, signKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return Identity{}, fmt.Errorf("generate signing key: %w", err)
	}

	id := Identity{
		DisplayName:   displayName,
		EncryptionKey: encKey,
		SigningSeed:   signKey.Seed(),
		CreatedAt:     time.Now().UTC(),
	}
	id.Hash = HashPublicKey(id.PublicKey())
	return id, nil
}

// PublicKey returns the 64-byte public key: X25519 then Ed25519.
func (id Identity) PublicKey() []byte {
	encPub := id.EncryptionKey.PublicKey()
	signPub := ed25519.NewKeyFromSeed(id.SigningSeed).Public().(ed25519.PublicKey)

	out := make([]byte, 0, len(encPub)+len(signPub))
	out = append(out, encPub[:]...)
	out = append(out, signPub...)
	return out
}

// HashPublicKey returns the hex identity hash for a 64-byte public key.
func HashPublicKey(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:IdentityHashLen])
}

// PeerIdentity is a remote identity known from a conversation. PublicKey is
// nil until the identity has been resolved.
type PeerIdentity struct {
	Hash        string
	DisplayName string
	PublicKey   []byte
	LastSeen    time.Time
}

// Resolved reports whether the peer's public key is known.
func (p PeerIdentity) Resolved() bool {
	return len(p.PublicKey) > 0
}

// Aspects the node cares about.
const (
	AspectDelivery    = "lxmf.delivery"
	AspectPropagation = "lxmf.propagation"
)

// Announce is a received destination announcement.
type Announce struct {
	DestinationHash string
	IdentityHash    string
	PublicKey       []byte
	Aspect          string
	AppData         []byte
	Hops            int
	Interface       string
	ReceivedAt      time.Time
}

// ReseedState is the identity and peer knowledge gathered before a runtime
// restart so it can be handed to the new instance.
type ReseedState struct {
	Identity  *Identity
	Peers     []PeerIdentity
	Announces []Announce
}

// Empty reports whether there is nothing to reseed.
func (s ReseedState) Empty() bool {
	return s.Identity == nil && len(s.Peers) == 0 && len(s.Announces) == 0
}
