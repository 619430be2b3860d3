package crypto

import (
	"context"
	"crypto/rand"

	"golang.org/x/crypto/nacl/box"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// FakeKeyFetcherManager is an in-memory KeyFetcherManager for tests: every
// node sharing one instance can resolve every other node's public key.
type FakeKeyFetcherManager struct {
	local KeyPair
	peers map[string][32]byte
}

// NewFakeKeyFetcherManager generates a fresh key pair for localKeyID and
// registers it under peers so other fakes sharing the same peers map can
// resolve it. Pass a shared map to simulate a fleet of nodes that all know
// each other's public keys.
func NewFakeKeyFetcherManager(localKeyID string, peers map[string][32]byte) (*FakeKeyFetcherManager, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "generate fake key pair")
	}
	if peers == nil {
		peers = make(map[string][32]byte)
	}
	peers[localKeyID] = *pub
	return &FakeKeyFetcherManager{
		local: KeyPair{KeyID: localKeyID, PublicKey: *pub, PrivateKey: *priv},
		peers: peers,
	}, nil
}

func (f *FakeKeyFetcherManager) LocalKeyPair(ctx context.Context) (KeyPair, error) {
	return f.local, nil
}

func (f *FakeKeyFetcherManager) PublicKeyFor(ctx context.Context, keyID string) ([32]byte, error) {
	pub, ok := f.peers[keyID]
	if !ok {
		return [32]byte{}, errkind.NotFoundf("crypto: no known public key for key_id %q", keyID)
	}
	return pub, nil
}
