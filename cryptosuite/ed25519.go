package cryptosuite

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/hkdf"
)

// hkdfInfo labels the shared-secret derivation so it cannot be confused
// with any other HKDF use in the codebase.
var hkdfInfo = []byte("dissent-session-ecdh-v1")

// Ed25519Suite implements Suite with Ed25519 long-term and ephemeral
// keys. Ephemeral public keys are convertible to X25519 Montgomery
// points for DeriveShared, so a single ephemeral_pubkey field can serve
// both as a verification key and as DH material.
type Ed25519Suite struct{}

// New returns the default Ed25519-based Suite.
func New() Suite {
	return Ed25519Suite{}
}

func (Ed25519Suite) Sign(priv PrivateKey, message []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("cryptosuite: bad private key length %d", len(priv))
	}
	return ed25519.Sign(ed25519.PrivateKey(priv), message), nil
}

func (Ed25519Suite) Verify(pub PublicKey, message, signature []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("cryptosuite: bad public key length %d", len(pub))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), message, signature) {
		return fmt.Errorf("cryptosuite: signature verification failed")
	}
	return nil
}

func (Ed25519Suite) Hash(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func (Ed25519Suite) RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("cryptosuite: random bytes: %w", err)
	}
	return b, nil
}

func (Ed25519Suite) GenerateLongTerm() (PrivateKey, PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptosuite: generate long-term key: %w", err)
	}
	return PrivateKey(priv), PublicKey(pub), nil
}

func (Ed25519Suite) GenerateEphemeral() (EphemeralPrivate, EphemeralPublic, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("cryptosuite: generate ephemeral key: %w", err)
	}
	return EphemeralPrivate(priv), EphemeralPublic(pub), nil
}

// DeriveShared converts both sides' Ed25519 ephemeral keys to X25519,
// runs ECDH, and stretches the raw shared point through HKDF-SHA256 to
// produce a uniform 32-byte secret.
func (Ed25519Suite) DeriveShared(priv EphemeralPrivate, peerPub EphemeralPublic) ([]byte, error) {
	xPriv, err := convertEd25519PrivToX25519(ed25519.PrivateKey(priv))
	if err != nil {
		return nil, err
	}
	xPeerPub, err := convertEd25519PubToX25519(ed25519.PublicKey(peerPub))
	if err != nil {
		return nil, err
	}

	curve := ecdh.X25519()
	privKey, err := curve.NewPrivateKey(xPriv)
	if err != nil {
		return nil, fmt.Errorf("cryptosuite: x25519 private key: %w", err)
	}
	peerKey, err := curve.NewPublicKey(xPeerPub)
	if err != nil {
		return nil, fmt.Errorf("cryptosuite: x25519 peer key: %w", err)
	}

	raw, err := privKey.ECDH(peerKey)
	if err != nil {
		return nil, fmt.Errorf("cryptosuite: ecdh: %w", err)
	}
	var zero [32]byte
	if subtle.ConstantTimeCompare(raw, zero[:]) == 1 {
		return nil, fmt.Errorf("cryptosuite: low-order or identity point")
	}

	h := hkdf.New(sha256.New, raw, nil, hkdfInfo)
	out := make([]byte, 32)
	if _, err := io.ReadFull(h, out); err != nil {
		return nil, fmt.Errorf("cryptosuite: hkdf: %w", err)
	}
	return out, nil
}

// convertEd25519PrivToX25519 turns an Ed25519 private key into the
// corresponding X25519 scalar, per RFC 8032 §5.1.5.
func convertEd25519PrivToX25519(priv ed25519.PrivateKey) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("cryptosuite: bad ed25519 private key length %d", len(priv))
	}
	seed := priv.Seed()
	h := sha512.Sum512(seed)
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64

	out := make([]byte, 32)
	copy(out, h[:32])
	return out, nil
}

// convertEd25519PubToX25519 turns an Ed25519 public key into its X25519
// Montgomery form by decompressing the Edwards point.
func convertEd25519PubToX25519(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("cryptosuite: bad ed25519 public key length %d", len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, fmt.Errorf("cryptosuite: invalid ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}
