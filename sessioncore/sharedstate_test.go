package sessioncore

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/overlay"
	"github.com/dissent-net/dissent/wire"
)

func mkId(b byte) identity.Id {
	var id identity.Id
	id[0] = b
	return id
}

func newTestState(t *testing.T) *SharedState {
	t.Helper()
	suite := cryptosuite.New()
	priv, pub, err := suite.GenerateLongTerm()
	require.NoError(t, err)
	net := overlay.NewNetwork()
	ov := net.NewOverlay(mkId(1))
	return NewSharedState(ov, suite, mkId(1), priv, pub)
}

func TestResetEpochClearsEpochScopedFieldsOnly(t *testing.T) {
	s := newTestState(t)
	s.SendQueue.Add([]byte("survives"))

	require.NoError(t, s.GenerateEphemeral())
	s.RoundId = wire.RoundId{1, 2, 3}
	s.ServerList = []wire.ServerAgree{{}}
	s.ClientList = []wire.RegisterEntry{{}}

	s.ResetEpoch()

	require.Nil(t, s.EphemeralPrivate)
	require.Nil(t, s.EphemeralPublic)
	require.True(t, s.RoundId.IsZero())
	require.Nil(t, s.ServerList)
	require.Nil(t, s.ClientList)
	require.Nil(t, s.Round)

	require.Equal(t, 1, s.SendQueue.Len())
	require.NotEmpty(t, s.LongTermPrivate)
	require.NotEmpty(t, s.LongTermPublic)
}

func TestKeyDirectoryLookup(t *testing.T) {
	s := newTestState(t)
	_, ok := s.LookupKey(mkId(2))
	require.False(t, ok)

	s.AddKnownKey(mkId(2), cryptosuite.PublicKey("pub2"))
	pub, ok := s.LookupKey(mkId(2))
	require.True(t, ok)
	require.Equal(t, cryptosuite.PublicKey("pub2"), pub)
}
