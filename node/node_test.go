package node

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dissent-net/dissent/client"
	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/server"
)

func freeAddr(t *testing.T, port int) string {
	t.Helper()
	return fmt.Sprintf("127.0.0.1:%d", port)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestServerAndClientNodeReachCommunicating(t *testing.T) {
	suite := cryptosuite.New()
	basePort := 19200

	numServers := 2
	serverAddrs := make([]string, numServers)
	serverIds := make([]identity.Id, numServers)
	serverPrivs := make([]cryptosuite.PrivateKey, numServers)
	serverPubs := make([]cryptosuite.PublicKey, numServers)
	var entries []identity.Entry
	for i := 0; i < numServers; i++ {
		priv, pub, err := suite.GenerateLongTerm()
		require.NoError(t, err)
		id := identity.FromPublicKey(pub)
		serverIds[i], serverPrivs[i], serverPubs[i] = id, priv, pub
		serverAddrs[i] = freeAddr(t, basePort+i)
		entries = append(entries, identity.Entry{Id: id, LongTermKey: pub})
	}
	roster, err := identity.NewRoster(entries)
	require.NoError(t, err)

	clientPort := basePort + numServers
	clientAddr := freeAddr(t, clientPort)
	clientPriv, clientPub, err := suite.GenerateLongTerm()
	require.NoError(t, err)
	clientId := identity.FromPublicKey(clientPub)

	// Every server must know the client's dial address up front: the
	// WebSocket overlay has no discovery, only the static peer map each
	// node is built with.
	peerAddrsFor := func(self int) map[identity.Id]string {
		m := make(map[identity.Id]string)
		for i := 0; i < numServers; i++ {
			if i != self {
				m[serverIds[i]] = serverAddrs[i]
			}
		}
		m[clientId] = clientAddr
		return m
	}

	var serverNodes []*ServerNode
	for i := 0; i < numServers; i++ {
		cfg := Config{
			LocalId:         serverIds[i],
			LongTermPrivate: serverPrivs[i],
			LongTermPublic:  serverPubs[i],
			ServerRoster:    roster,
			ListenAddr:      serverAddrs[i],
			PeerAddrs:       peerAddrsFor(i),
			Log:             logger.Nop{},
		}
		n, err := NewServerNode(cfg, server.NewNullRoundFactory(nil))
		require.NoError(t, err)
		n.Session.AdmissionWindow = 200 * time.Millisecond
		serverNodes = append(serverNodes, n)
		defer n.Close()
	}

	clientPeerAddrs := make(map[identity.Id]string)
	for i := 0; i < numServers; i++ {
		clientPeerAddrs[serverIds[i]] = serverAddrs[i]
	}

	cfg := Config{
		LocalId:         clientId,
		LongTermPrivate: clientPriv,
		LongTermPublic:  clientPub,
		ServerRoster:    roster,
		ListenAddr:      clientAddr,
		PeerAddrs:       clientPeerAddrs,
		Log:             logger.Nop{},
	}
	clientNode, err := NewClientNode(cfg, client.NewNullRoundFactory(nil))
	require.NoError(t, err)
	defer clientNode.Close()

	for _, n := range serverNodes {
		require.NoError(t, n.Start())
	}
	require.NoError(t, clientNode.Start())

	waitFor(t, 5*time.Second, func() bool {
		return clientNode.Session.Current() == client.StateCommunicating
	})
	for _, n := range serverNodes {
		waitFor(t, 5*time.Second, func() bool {
			return n.Session.Current() == server.StateCommunicating
		})
	}
}
