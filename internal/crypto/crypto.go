// Package crypto implements the payload sealing scheme Remote Lookup uses
// on the wire (spec §4.E: "each request/response payload is sealed with a
// hybrid-encryption scheme keyed by a Key Fetcher Manager"). It has no
// counterpart in torua, which has no cross-node authentication at all;
// the construction and the choice of golang.org/x/crypto are grounded in
// vanadium-core's use of the same package throughout its security layer.
package crypto

import (
	"context"
	"crypto/rand"

	"golang.org/x/crypto/nacl/box"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// KeyPair is one node's asymmetric identity: a public half advertised to
// the fleet under KeyID, and the private half used to open envelopes
// addressed to it.
type KeyPair struct {
	KeyID      string
	PublicKey  [32]byte
	PrivateKey [32]byte
}

// KeyFetcherManager is the external collaborator that supplies key
// material (spec §4.E "Key Fetcher Manager (external collaborator
// providing public/private key pairs identified by key_id)").
type KeyFetcherManager interface {
	// LocalKeyPair returns the identity this node decrypts inbound
	// envelopes with.
	LocalKeyPair(ctx context.Context) (KeyPair, error)
	// PublicKeyFor resolves a peer's public key by key_id, for sealing an
	// envelope addressed to it.
	PublicKeyFor(ctx context.Context, keyID string) ([32]byte, error)
}

// Envelope is the wire shape of a sealed Remote Lookup payload (spec §4.E:
// "{key_id, encapsulated_ciphertext}").
type Envelope struct {
	KeyID      string `json:"key_id"`
	Ciphertext []byte `json:"encapsulated_ciphertext"`
}

// Seal encrypts plaintext to recipientKeyID's public key using an
// anonymous sealed box (X25519 key agreement against an ephemeral sender
// key, XSalsa20-Poly1305 for the payload) — a sender needs no key pair of
// its own, matching a lookup client that has never registered an identity.
// Replay is not protected, matching spec §4.E's explicit "Replay is not
// protected; keys rotate out of band."
func Seal(ctx context.Context, plaintext []byte, recipientKeyID string, keys KeyFetcherManager) (Envelope, error) {
	pub, err := keys.PublicKeyFor(ctx, recipientKeyID)
	if err != nil {
		return Envelope{}, errkind.Wrap(errkind.Unavailable, err, "resolve recipient public key")
	}
	ciphertext, err := box.SealAnonymous(nil, plaintext, &pub, rand.Reader)
	if err != nil {
		return Envelope{}, errkind.Wrap(errkind.Internal, err, "seal envelope")
	}
	return Envelope{KeyID: recipientKeyID, Ciphertext: ciphertext}, nil
}

// Open decrypts an envelope addressed to this node's local key pair.
func Open(ctx context.Context, env Envelope, keys KeyFetcherManager) ([]byte, error) {
	kp, err := keys.LocalKeyPair(ctx)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unavailable, err, "resolve local key pair")
	}
	plaintext, ok := box.OpenAnonymous(nil, env.Ciphertext, &kp.PublicKey, &kp.PrivateKey)
	if !ok {
		return nil, errkind.Internalf("crypto: failed to open sealed envelope for key_id %q", env.KeyID)
	}
	return plaintext, nil
}
