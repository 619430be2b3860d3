package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/dreamware/kvfabric/internal/errkind"
)

// responseKeyInfo labels the HKDF expansion so a response key can never be
// confused with a key derived for another purpose from the same shared
// secret.
const responseKeyInfo = "kvfabric-ohttp-response"

// ObliviousEnvelope is the wire shape of v2.ObliviousGetValues (spec §6:
// "Oblivious-HTTP-encapsulated Binary-HTTP payload; uses key id from the
// Key Fetcher Manager"). Unlike Envelope's anonymous sealed box, the
// sender's ephemeral public key is carried explicitly so both sides can
// independently derive a shared secret and, from it, a symmetric key for
// encrypting the response back to a sender that has no persistent identity
// of its own.
type ObliviousEnvelope struct {
	KeyID           string `json:"key_id"`
	EphemeralPublic []byte `json:"ephemeral_public_key"`
	Nonce           []byte `json:"nonce"`
	Ciphertext      []byte `json:"ciphertext"`
}

// SealRequest encrypts plaintext to recipientKeyID's public key and
// returns both the envelope to send and the symmetric key the sender must
// keep to open the eventual response, mirroring how a real Oblivious HTTP
// client derives a bidirectional AEAD context from one HPKE encapsulation.
// Here the encapsulation is a NaCl box key agreement instead of HPKE,
// grounded in the same golang.org/x/crypto/nacl/box construction Seal/Open
// already use for Remote Lookup's envelopes.
func SealRequest(ctx context.Context, plaintext []byte, recipientKeyID string, keys KeyFetcherManager) (ObliviousEnvelope, [32]byte, error) {
	recipientPub, err := keys.PublicKeyFor(ctx, recipientKeyID)
	if err != nil {
		return ObliviousEnvelope{}, [32]byte{}, errkind.Wrap(errkind.Unavailable, err, "resolve recipient public key")
	}

	ephPub, ephPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return ObliviousEnvelope{}, [32]byte{}, errkind.Wrap(errkind.Internal, err, "generate ephemeral key pair")
	}

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return ObliviousEnvelope{}, [32]byte{}, errkind.Wrap(errkind.Internal, err, "generate nonce")
	}

	ciphertext := box.Seal(nil, plaintext, &nonce, &recipientPub, ephPriv)

	var shared [32]byte
	box.Precompute(&shared, &recipientPub, ephPriv)
	responseKey, err := deriveResponseKey(shared)
	if err != nil {
		return ObliviousEnvelope{}, [32]byte{}, err
	}

	env := ObliviousEnvelope{
		KeyID:           recipientKeyID,
		EphemeralPublic: ephPub[:],
		Nonce:           nonce[:],
		Ciphertext:      ciphertext,
	}
	return env, responseKey, nil
}

// OpenRequest decrypts an ObliviousEnvelope addressed to this node's local
// key pair, returning the plaintext plus the same symmetric key SealRequest
// derived, ready for SealResponse.
func OpenRequest(ctx context.Context, env ObliviousEnvelope, keys KeyFetcherManager) ([]byte, [32]byte, error) {
	if len(env.EphemeralPublic) != 32 || len(env.Nonce) != 24 {
		return nil, [32]byte{}, errkind.InvalidArgumentf("crypto: malformed oblivious envelope for key_id %q", env.KeyID)
	}

	kp, err := keys.LocalKeyPair(ctx)
	if err != nil {
		return nil, [32]byte{}, errkind.Wrap(errkind.Unavailable, err, "resolve local key pair")
	}

	var ephPub [32]byte
	copy(ephPub[:], env.EphemeralPublic)
	var nonce [24]byte
	copy(nonce[:], env.Nonce)

	plaintext, ok := box.Open(nil, env.Ciphertext, &nonce, &ephPub, &kp.PrivateKey)
	if !ok {
		return nil, [32]byte{}, errkind.Internalf("crypto: failed to open oblivious envelope for key_id %q", env.KeyID)
	}

	var shared [32]byte
	box.Precompute(&shared, &ephPub, &kp.PrivateKey)
	responseKey, err := deriveResponseKey(shared)
	if err != nil {
		return nil, [32]byte{}, err
	}
	return plaintext, responseKey, nil
}

// SealResponse encrypts a response payload symmetrically under a key
// previously derived by SealRequest/OpenRequest.
func SealResponse(responseKey [32]byte, plaintext []byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, errkind.Wrap(errkind.Internal, err, "generate response nonce")
	}
	sealed := secretbox.Seal(nonce[:], plaintext, &nonce, &responseKey)
	return sealed, nil
}

// OpenResponse decrypts a response payload sealed by SealResponse. The
// leading 24 bytes of sealed are the nonce SealResponse prefixed.
func OpenResponse(responseKey [32]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, errkind.InvalidArgumentf("crypto: oblivious response too short (%d bytes)", len(sealed))
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])
	plaintext, ok := secretbox.Open(nil, sealed[24:], &nonce, &responseKey)
	if !ok {
		return nil, errkind.Internalf("crypto: failed to open oblivious response")
	}
	return plaintext, nil
}

func deriveResponseKey(shared [32]byte) ([32]byte, error) {
	var out [32]byte
	kdf := hkdf.New(sha256.New, shared[:], nil, []byte(responseKeyInfo))
	if _, err := io.ReadFull(kdf, out[:]); err != nil {
		return [32]byte{}, errkind.Wrap(errkind.Internal, err, "derive response key")
	}
	return out, nil
}
