package cryptosuite

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	s := New()
	priv, pub, err := s.GenerateLongTerm()
	require.NoError(t, err)

	msg := []byte("hello session")
	sig, err := s.Sign(priv, msg)
	require.NoError(t, err)
	require.NoError(t, s.Verify(pub, msg, sig))

	require.Error(t, s.Verify(pub, []byte("tampered"), sig))
}

func TestHashIsDeterministicOverConcatenation(t *testing.T) {
	s := New()
	h1 := s.Hash([]byte("a"), []byte("b"))
	h2 := s.Hash([]byte("ab"))
	require.Equal(t, h1, h2)

	h3 := s.Hash([]byte("a"), []byte("c"))
	require.NotEqual(t, h1, h3)
}

func TestRandomBytesLengthAndVariance(t *testing.T) {
	s := New()
	b1, err := s.RandomBytes(16)
	require.NoError(t, err)
	require.Len(t, b1, 16)

	b2, err := s.RandomBytes(16)
	require.NoError(t, err)
	require.NotEqual(t, b1, b2)
}

func TestDeriveSharedIsSymmetric(t *testing.T) {
	s := New()
	aPriv, aPub, err := s.GenerateEphemeral()
	require.NoError(t, err)
	bPriv, bPub, err := s.GenerateEphemeral()
	require.NoError(t, err)

	secretA, err := s.DeriveShared(aPriv, bPub)
	require.NoError(t, err)
	secretB, err := s.DeriveShared(bPriv, aPub)
	require.NoError(t, err)

	require.Equal(t, secretA, secretB)
	require.Len(t, secretA, 32)
}
