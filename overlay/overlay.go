// Package overlay abstracts the transport every session sends and
// receives typed, enveloped packets over. The session layer never
// touches a socket directly; it only ever talks to an Overlay.
package overlay

import (
	"context"

	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/wire"
)

// Handler processes one inbound packet of the type it was registered
// for. sender is the peer's identity; payload is the envelope's raw
// encoded bytes (still unverified).
type Handler func(sender identity.Id, payload []byte)

// Overlay is the session's only window onto the network. Two
// implementations are provided: Memory, an in-process registry for
// tests, and WebSocket, a gorilla/websocket-backed transport for the
// demo CLI.
type Overlay interface {
	// RegisterHandler installs the handler invoked for every inbound
	// packet of msgType. Registering again for the same type replaces
	// the previous handler.
	RegisterHandler(msgType wire.MessageType, fn Handler)
	// Send delivers payload to exactly one peer.
	Send(ctx context.Context, to identity.Id, msgType wire.MessageType, payload []byte) error
	// Broadcast delivers payload to every peer in to.
	Broadcast(ctx context.Context, to []identity.Id, msgType wire.MessageType, payload []byte) error
	// OnConnect registers a callback fired when a peer becomes reachable.
	OnConnect(fn func(peer identity.Id))
	// OnDisconnect registers a callback fired when a peer becomes
	// unreachable.
	OnDisconnect(fn func(peer identity.Id))
	// Close releases every resource the overlay holds.
	Close() error
}
