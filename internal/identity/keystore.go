// ABOUTME: KeyStore is the dependency-injection seam for persisting agent key material.
// ABOUTME: Optional and unused by default — the core never introspects what it stores.

package identity

// KeyStore persists an agent's private key material outside the process,
// so a restarted agent process can recover its identity instead of
// re-registering under a fresh DID. The fabric never calls this itself;
// it is a seam for a calling application to wire up, the same way
// ReasoningEngine and EmbeddingIndex are optional collaborators supplied
// by the caller rather than implemented by the core.
//
// identityMaterial is opaque to both sides of this interface — the core
// never introspects it, and a KeyStore implementation only needs to
// store and return the bytes it's given (e.g. an encrypted private key
// blob, a reference into an external secrets manager, or a raw
// marshaled ssh.Signer).
type KeyStore interface {
	Save(agentID string, identityMaterial []byte) error
	Load(agentID string) ([]byte, error)
	Delete(agentID string) error
}
