package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/wire"
)

type pairKey struct {
	a, b identity.Id
}

func makePairKey(a, b identity.Id) pairKey {
	if b.Less(a) {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// Network is the shared hub a set of Memory overlays register with. It
// models the delivery fabric: who is reachable from whom, so tests can
// script a soft disconnect between two peers (Sever/Reconnect) or a
// hard crash-and-restart of one peer (Leave/Rejoin), matching the
// literal end-to-end scenarios.
type Network struct {
	mu       sync.Mutex
	nodes    map[identity.Id]*Memory
	severed  map[pairKey]bool
	departed map[identity.Id]bool
}

// NewNetwork returns an empty, fully-connected network.
func NewNetwork() *Network {
	return &Network{
		nodes:    make(map[identity.Id]*Memory),
		severed:  make(map[pairKey]bool),
		departed: make(map[identity.Id]bool),
	}
}

// NewOverlay registers a new participant and returns its Overlay
// handle. The same id must not be registered twice without an
// intervening Leave.
func (n *Network) NewOverlay(id identity.Id) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()

	m := &Memory{
		self:     id,
		network:  n,
		handlers: make(map[wire.MessageType]Handler),
	}
	n.nodes[id] = m
	delete(n.departed, id)
	return m
}

// Sever marks a and b as mutually unreachable without affecting either
// one's reachability to anyone else, modeling a soft disconnect.
func (n *Network) Sever(a, b identity.Id) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.severed[makePairKey(a, b)] = true
}

// Reconnect undoes a prior Sever.
func (n *Network) Reconnect(a, b identity.Id) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.severed, makePairKey(a, b))
}

// Leave removes id from the network entirely, modeling a hard crash.
// Every other node's OnDisconnect callback for id fires.
func (n *Network) Leave(id identity.Id) {
	n.mu.Lock()
	n.departed[id] = true
	peers := n.otherNodesLocked(id)
	n.mu.Unlock()

	for _, peer := range peers {
		peer.fireDisconnect(id)
	}
}

// Rejoin restores a node previously removed with Leave, modeling a
// process restart. Every other node's OnConnect callback for id fires.
func (n *Network) Rejoin(id identity.Id) {
	n.mu.Lock()
	delete(n.departed, id)
	peers := n.otherNodesLocked(id)
	n.mu.Unlock()

	for _, peer := range peers {
		peer.fireConnect(id)
	}
}

func (n *Network) otherNodesLocked(exclude identity.Id) []*Memory {
	out := make([]*Memory, 0, len(n.nodes))
	for id, m := range n.nodes {
		if id != exclude {
			out = append(out, m)
		}
	}
	return out
}

func (n *Network) reachable(from, to identity.Id) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.departed[from] || n.departed[to] {
		return false
	}
	return !n.severed[makePairKey(from, to)]
}

// Memory is an in-process Overlay bound to one participant in a
// Network. Delivery is synchronous: Send/Broadcast invoke the
// destination's registered handler directly on the caller's
// goroutine, which is sufficient because server.Session and
// client.Session queue any packet that arrives while they are already
// dispatching one and drain that queue in arrival order.
type Memory struct {
	self    identity.Id
	network *Network

	mu           sync.Mutex
	handlers     map[wire.MessageType]Handler
	onConnect    []func(identity.Id)
	onDisconnect []func(identity.Id)
	closed       bool
}

func (m *Memory) RegisterHandler(msgType wire.MessageType, fn Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[msgType] = fn
}

func (m *Memory) OnConnect(fn func(peer identity.Id)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

func (m *Memory) OnDisconnect(fn func(peer identity.Id)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

func (m *Memory) Send(ctx context.Context, to identity.Id, msgType wire.MessageType, payload []byte) error {
	if m.isClosed() {
		return fmt.Errorf("overlay: send from closed node %s", m.self)
	}
	if !m.network.reachable(m.self, to) {
		return fmt.Errorf("overlay: %s unreachable from %s", to, m.self)
	}

	m.network.mu.Lock()
	dest, ok := m.network.nodes[to]
	m.network.mu.Unlock()
	if !ok {
		return fmt.Errorf("overlay: unknown peer %s", to)
	}

	dest.deliver(m.self, msgType, payload)
	return nil
}

func (m *Memory) Broadcast(ctx context.Context, to []identity.Id, msgType wire.MessageType, payload []byte) error {
	var firstErr error
	for _, id := range to {
		if id == m.self {
			continue
		}
		if err := m.Send(ctx, id, msgType, payload); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Memory) deliver(from identity.Id, msgType wire.MessageType, payload []byte) {
	m.mu.Lock()
	fn, ok := m.handlers[msgType]
	closed := m.closed
	m.mu.Unlock()
	if closed || !ok {
		return
	}
	fn(from, payload)
}

func (m *Memory) fireConnect(peer identity.Id) {
	m.mu.Lock()
	fns := append([]func(identity.Id){}, m.onConnect...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(peer)
	}
}

func (m *Memory) fireDisconnect(peer identity.Id) {
	m.mu.Lock()
	fns := append([]func(identity.Id){}, m.onDisconnect...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn(peer)
	}
}
