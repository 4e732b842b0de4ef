// Package node is the composition root binding an Overlay transport to
// a server or client Session: it owns the socket, the shared crypto
// and roster state, and the session's lifecycle, so a caller only has
// to supply identity, keys, and peer addresses.
package node

import (
	"fmt"

	"github.com/dissent-net/dissent/client"
	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/overlay"
	"github.com/dissent-net/dissent/server"
	"github.com/dissent-net/dissent/sessioncore"
	"github.com/dissent-net/dissent/sessiontime"
)

// Config carries everything a node needs to join the overlay and start
// negotiating: this participant's identity and long-term key, the
// known server roster, where to listen, and how to reach every peer.
type Config struct {
	LocalId         identity.Id
	LongTermPrivate cryptosuite.PrivateKey
	LongTermPublic  cryptosuite.PublicKey
	ServerRoster    *identity.Roster
	ListenAddr      string
	PeerAddrs       map[identity.Id]string
	Log             logger.Logger
}

func (c Config) buildOverlay() (*overlay.WebSocket, error) {
	ov, err := overlay.NewWebSocket(c.LocalId, c.ListenAddr, c.PeerAddrs)
	if err != nil {
		return nil, fmt.Errorf("node: build overlay: %w", err)
	}
	return ov, nil
}

func (c Config) buildSharedState(ov overlay.Overlay) *sessioncore.SharedState {
	suite := cryptosuite.New()
	shared := sessioncore.NewSharedState(ov, suite, c.LocalId, c.LongTermPrivate, c.LongTermPublic)
	for _, e := range c.ServerRoster.Entries() {
		shared.AddKnownKey(e.Id, e.LongTermKey)
	}
	return shared
}

// ServerNode runs one server's participation in the protocol: it owns
// the overlay socket and wraps a server.Session.
type ServerNode struct {
	Shared  *sessioncore.SharedState
	Session *server.Session

	overlay *overlay.WebSocket
}

// NewServerNode builds and wires a ServerNode but does not start it;
// call Start to join the overlay and begin the first epoch.
func NewServerNode(cfg Config, newRound server.RoundFactory) (*ServerNode, error) {
	ov, err := cfg.buildOverlay()
	if err != nil {
		return nil, err
	}
	shared := cfg.buildSharedState(ov)
	sess := server.NewSession(shared, cfg.ServerRoster, sessiontime.NewReal(), newRound, cfg.Log)
	return &ServerNode{Shared: shared, Session: sess, overlay: ov}, nil
}

// Start begins the node's first epoch.
func (n *ServerNode) Start() error {
	return n.Session.Start()
}

// Close tears down the node's overlay connections.
func (n *ServerNode) Close() error {
	return n.overlay.Close()
}

// ClientNode runs one client's participation in the protocol: it owns
// the overlay socket and wraps a client.Session.
type ClientNode struct {
	Shared  *sessioncore.SharedState
	Session *client.Session

	overlay *overlay.WebSocket
}

// NewClientNode builds and wires a ClientNode but does not start it;
// call Start to join the overlay and begin waiting for a server.
func NewClientNode(cfg Config, newRound client.RoundFactory) (*ClientNode, error) {
	ov, err := cfg.buildOverlay()
	if err != nil {
		return nil, err
	}
	shared := cfg.buildSharedState(ov)
	sess := client.NewSession(shared, cfg.ServerRoster, sessiontime.NewReal(), newRound, cfg.Log)
	return &ClientNode{Shared: shared, Session: sess, overlay: ov}, nil
}

// Start begins the client's negotiation with its chosen server.
func (n *ClientNode) Start() error {
	return n.Session.Start()
}

// Close tears down the node's overlay connections.
func (n *ClientNode) Close() error {
	return n.overlay.Close()
}
