package overlay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/wire"
)

func mkId(b byte) identity.Id {
	var id identity.Id
	id[0] = b
	return id
}

func TestMemorySendDeliversToRegisteredHandler(t *testing.T) {
	net := NewNetwork()
	a := net.NewOverlay(mkId(1))
	b := net.NewOverlay(mkId(2))

	var gotFrom identity.Id
	var gotPayload []byte
	b.RegisterHandler(wire.TypeServerInit, func(sender identity.Id, payload []byte) {
		gotFrom = sender
		gotPayload = payload
	})

	require.NoError(t, a.Send(context.Background(), mkId(2), wire.TypeServerInit, []byte("hello")))
	require.Equal(t, mkId(1), gotFrom)
	require.Equal(t, []byte("hello"), gotPayload)
}

func TestMemoryBroadcastSkipsSelf(t *testing.T) {
	net := NewNetwork()
	a := net.NewOverlay(mkId(1))
	b := net.NewOverlay(mkId(2))
	c := net.NewOverlay(mkId(3))

	var bGot, cGot bool
	b.RegisterHandler(wire.TypeServerStop, func(identity.Id, []byte) { bGot = true })
	c.RegisterHandler(wire.TypeServerStop, func(identity.Id, []byte) { cGot = true })

	err := a.Broadcast(context.Background(), []identity.Id{mkId(1), mkId(2), mkId(3)}, wire.TypeServerStop, nil)
	require.NoError(t, err)
	require.True(t, bGot)
	require.True(t, cGot)
}

func TestMemorySeverBlocksDelivery(t *testing.T) {
	net := NewNetwork()
	a := net.NewOverlay(mkId(1))
	b := net.NewOverlay(mkId(2))

	var delivered bool
	b.RegisterHandler(wire.TypeServerInit, func(identity.Id, []byte) { delivered = true })

	net.Sever(mkId(1), mkId(2))
	err := a.Send(context.Background(), mkId(2), wire.TypeServerInit, nil)
	require.Error(t, err)
	require.False(t, delivered)

	net.Reconnect(mkId(1), mkId(2))
	require.NoError(t, a.Send(context.Background(), mkId(2), wire.TypeServerInit, nil))
	require.True(t, delivered)
}

func TestMemoryLeaveAndRejoinFireCallbacks(t *testing.T) {
	net := NewNetwork()
	a := net.NewOverlay(mkId(1))
	_ = net.NewOverlay(mkId(2))

	var disconnected, connected identity.Id
	a.OnDisconnect(func(peer identity.Id) { disconnected = peer })
	a.OnConnect(func(peer identity.Id) { connected = peer })

	net.Leave(mkId(2))
	require.Equal(t, mkId(2), disconnected)

	err := a.Send(context.Background(), mkId(2), wire.TypeServerInit, nil)
	require.Error(t, err)

	net.Rejoin(mkId(2))
	require.Equal(t, mkId(2), connected)
}

func TestMemoryCloseStopsDelivery(t *testing.T) {
	net := NewNetwork()
	a := net.NewOverlay(mkId(1))
	b := net.NewOverlay(mkId(2))

	var delivered bool
	b.RegisterHandler(wire.TypeServerInit, func(identity.Id, []byte) { delivered = true })
	require.NoError(t, b.Close())

	require.NoError(t, a.Send(context.Background(), mkId(2), wire.TypeServerInit, nil))
	require.False(t, delivered)
}
