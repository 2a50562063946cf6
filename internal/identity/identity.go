// ABOUTME: Agent identity creation and Ed25519 sign/verify primitives.
// ABOUTME: DIDs are derived from the SHA-256 fingerprint of the agent's SSH-wire public key.

package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/ssh"
)

// ErrNoSigningCapability is returned when Sign is called on an identity
// that holds no private key (e.g. a peer identity obtained from discovery).
var ErrNoSigningCapability = errors.New("identity: no signing capability")

// Identity is an agent's cryptographic identity. PublicKey is always
// present; Signer is only present on the side that owns the private key
// and is never serialized across a process boundary.
type Identity struct {
	DID       string
	PublicKey ssh.PublicKey
	Signer    ssh.Signer
	Verified  bool
}

// CreateKeyBased generates a fresh Ed25519 keypair and wraps it as an
// Identity with Verified set to true, matching the contract that a
// freshly minted identity is immediately usable for signing.
func CreateKeyBased() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generating keypair: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, fmt.Errorf("identity: wrapping signer: %w", err)
	}

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("identity: wrapping public key: %w", err)
	}

	return &Identity{
		DID:       DidFromPublicKey(sshPub),
		PublicKey: sshPub,
		Signer:    signer,
		Verified:  true,
	}, nil
}

// DidFromPublicKey derives a stable did:fabric:<fingerprint> identifier
// from the SSH wire-format encoding of a public key.
func DidFromPublicKey(pk ssh.PublicKey) string {
	sum := sha256.Sum256(pk.Marshal())
	return "did:fabric:" + hex.EncodeToString(sum[:])
}

// Sign produces a signature over payload using identity's private key.
// The signature is the marshaled ssh.Signature wire form so it travels
// unambiguously as opaque bytes (e.g. base64 in the JSON envelope).
func Sign(id *Identity, payload []byte) ([]byte, error) {
	if id == nil || id.Signer == nil {
		return nil, ErrNoSigningCapability
	}
	sig, err := id.Signer.Sign(rand.Reader, payload)
	if err != nil {
		return nil, fmt.Errorf("identity: signing: %w", err)
	}
	return ssh.Marshal(sig), nil
}

// Verify checks a signature produced by Sign against payload using the
// identity's public key. A malformed signature is treated as a failed
// verification, never an error — the contract requires Verify to be a
// boolean predicate.
func Verify(id *Identity, payload, sig []byte) bool {
	if id == nil || id.PublicKey == nil {
		return false
	}
	var parsed ssh.Signature
	if err := ssh.Unmarshal(sig, &parsed); err != nil {
		return false
	}
	return id.PublicKey.Verify(payload, &parsed) == nil
}
