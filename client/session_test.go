package client

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/overlay"
	"github.com/dissent-net/dissent/server"
	"github.com/dissent-net/dissent/sessioncore"
	"github.com/dissent-net/dissent/sessiontime"
)

type harnessServer struct {
	id      identity.Id
	shared  *sessioncore.SharedState
	session *server.Session
}

type harnessClient struct {
	id      identity.Id
	shared  *sessioncore.SharedState
	session *Session
}

func newHarness(t *testing.T, numServers, numClients int) ([]*harnessServer, []*harnessClient, *sessiontime.Virtual) {
	t.Helper()
	suite := cryptosuite.New()
	net := overlay.NewNetwork()
	virtual := sessiontime.NewVirtual()

	servers := make([]*harnessServer, numServers)
	var serverEntries []identity.Entry
	for i := 0; i < numServers; i++ {
		priv, pub, err := suite.GenerateLongTerm()
		require.NoError(t, err)
		id := identity.FromPublicKey(pub)
		servers[i] = &harnessServer{id: id}
		serverEntries = append(serverEntries, identity.Entry{Id: id, LongTermKey: pub})
		servers[i].shared = sessioncore.NewSharedState(nil, suite, id, priv, pub)
	}
	serverRoster, err := identity.NewRoster(serverEntries)
	require.NoError(t, err)

	for _, hs := range servers {
		ov := net.NewOverlay(hs.id)
		hs.shared.Overlay = ov
		hs.session = server.NewSession(hs.shared, serverRoster, virtual, server.NewNullRoundFactory(nil), logger.Nop{})
	}

	clients := make([]*harnessClient, numClients)
	for i := 0; i < numClients; i++ {
		priv, pub, err := suite.GenerateLongTerm()
		require.NoError(t, err)
		id := identity.FromPublicKey(pub)
		clients[i] = &harnessClient{id: id}
		clients[i].shared = sessioncore.NewSharedState(nil, suite, id, priv, pub)
		ov := net.NewOverlay(id)
		clients[i].shared.Overlay = ov
		clients[i].session = NewSession(clients[i].shared, serverRoster, virtual, NewNullRoundFactory(nil), logger.Nop{})
	}

	for _, hs := range servers {
		net.Rejoin(hs.id)
	}
	for _, hc := range clients {
		net.Rejoin(hc.id)
	}

	for _, hs := range servers {
		require.NoError(t, hs.session.Start())
	}
	for _, hc := range clients {
		require.NoError(t, hc.session.Start())
	}

	return servers, clients, virtual
}

func TestClientReachesCommunicatingWithMatchingRoster(t *testing.T) {
	servers, clients, virtual := newHarness(t, 3, 2)

	virtual.Advance(server.DefaultAdmissionWindow)

	for _, hs := range servers {
		require.Equal(t, server.StateCommunicating, hs.session.Current(), "server %s", hs.id)
	}

	wantRound := servers[0].shared.RoundId
	require.False(t, wantRound.IsZero())

	for _, hc := range clients {
		require.Equal(t, StateCommunicating, hc.session.Current(), "client %s", hc.id)
		require.Equal(t, wantRound, hc.shared.RoundId)
		require.Len(t, hc.shared.ClientList, 2)
		require.Len(t, hc.shared.ServerList, 3)
	}

	require.Equal(t, servers[0].shared.ClientList, clients[0].shared.ClientList)
}

func TestClientPicksLowestIdConnectedServer(t *testing.T) {
	servers, clients, _ := newHarness(t, 2, 1)

	var lowest identity.Id
	for i, hs := range servers {
		if i == 0 || hs.id.Less(lowest) {
			lowest = hs.id
		}
	}
	require.Equal(t, lowest, clients[0].session.target)
}
