// Package cryptosuite isolates every cryptographic primitive the session
// layer depends on behind one interface, so state machines can be tested
// against deterministic fakes without touching real key material.
package cryptosuite

// PrivateKey and PublicKey are opaque long-term identity key material.
// The concrete Ed25519Suite uses raw crypto/ed25519 keys underneath.
type PrivateKey []byte
type PublicKey []byte

// EphemeralPrivate and EphemeralPublic are per-epoch key material. They
// double as both a signature-verification key (the roster cross-checks
// an Agree/Register's declared ephemeral_pubkey) and Diffie-Hellman
// input for any round wanting a forward-secret channel.
type EphemeralPrivate []byte
type EphemeralPublic []byte

// Suite is every cryptographic operation the session layer needs from a
// long-term/ephemeral key pair. Named distinctly from stdlib "crypto" to
// avoid an import collision in callers.
type Suite interface {
	// Sign produces a signature over message under priv.
	Sign(priv PrivateKey, message []byte) ([]byte, error)
	// Verify reports whether signature is valid over message under pub.
	Verify(pub PublicKey, message, signature []byte) error
	// Hash returns SHA-256 of the concatenation of parts, matching
	// the HASH(concat(...)) convention used for RoundId derivation.
	Hash(parts ...[]byte) []byte
	// RandomBytes returns n cryptographically random bytes.
	RandomBytes(n int) ([]byte, error)
	// GenerateLongTerm creates a new long-term identity key pair.
	GenerateLongTerm() (PrivateKey, PublicKey, error)
	// GenerateEphemeral creates a new per-epoch key pair.
	GenerateEphemeral() (EphemeralPrivate, EphemeralPublic, error)
	// DeriveShared computes a shared secret from one side's ephemeral
	// private key and the peer's declared ephemeral public key.
	DeriveShared(priv EphemeralPrivate, peerPub EphemeralPublic) ([]byte, error)
}
