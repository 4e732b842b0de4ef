package server

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/overlay"
	"github.com/dissent-net/dissent/sessioncore"
	"github.com/dissent-net/dissent/sessiontime"
)

type harnessServer struct {
	id      identity.Id
	shared  *sessioncore.SharedState
	session *Session
}

func newHarness(t *testing.T, n int) ([]*harnessServer, *sessiontime.Virtual) {
	t.Helper()
	suite := cryptosuite.New()
	net := overlay.NewNetwork()
	virtual := sessiontime.NewVirtual()

	servers := make([]*harnessServer, n)
	var entries []identity.Entry
	for i := 0; i < n; i++ {
		priv, pub, err := suite.GenerateLongTerm()
		require.NoError(t, err)
		id := identity.FromPublicKey(pub)
		servers[i] = &harnessServer{id: id}
		entries = append(entries, identity.Entry{Id: id, LongTermKey: pub})
		servers[i].shared = sessioncore.NewSharedState(nil, suite, id, priv, pub)
	}

	roster, err := identity.NewRoster(entries)
	require.NoError(t, err)

	for _, hs := range servers {
		ov := net.NewOverlay(hs.id)
		hs.shared.Overlay = ov
		hs.session = NewSession(hs.shared, roster, virtual, NewNullRoundFactory(nil), logger.Nop{})
	}

	for _, hs := range servers {
		net.Rejoin(hs.id)
	}

	for _, hs := range servers {
		require.NoError(t, hs.session.Start())
	}

	return servers, virtual
}

func TestServersNegotiateSameRoundIdWithNoClients(t *testing.T) {
	servers, virtual := newHarness(t, 3)

	for _, hs := range servers {
		require.Equal(t, StateRegistering, hs.session.Current(), "server %s", hs.id)
	}

	virtual.Advance(DefaultAdmissionWindow)

	want := servers[0].shared.RoundId
	require.False(t, want.IsZero())
	for _, hs := range servers {
		require.Equal(t, StateCommunicating, hs.session.Current(), "server %s", hs.id)
		require.Equal(t, want, hs.shared.RoundId)
		require.True(t, hs.shared.ServerList != nil && len(hs.shared.ServerList) == 3)
	}
}

func TestProposerIsSmallestId(t *testing.T) {
	servers, _ := newHarness(t, 3)

	var smallest identity.Id
	for i, hs := range servers {
		if i == 0 || hs.id.Less(smallest) {
			smallest = hs.id
		}
	}
	for _, hs := range servers {
		require.True(t, hs.session.initPayload.Present)
		require.Equal(t, smallest, hs.session.initPayload.Init.SenderId)
	}
}
