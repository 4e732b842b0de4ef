package round

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dissent-net/dissent/identity"
)

func mkId(b byte) identity.Id {
	var id identity.Id
	id[0] = b
	return id
}

type captureBroadcaster struct {
	sent [][]byte
}

func (c *captureBroadcaster) Broadcast(payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func rosterOf(ids ...identity.Id) *identity.Roster {
	entries := make([]identity.Entry, len(ids))
	for i, id := range ids {
		entries[i] = identity.Entry{Id: id}
	}
	r, _ := identity.NewRoster(entries)
	return r
}

func TestNullRoundFinishesOnceEveryoneHeardFrom(t *testing.T) {
	servers := rosterOf(mkId(1), mkId(2))
	clients := rosterOf(mkId(3))
	b := &captureBroadcaster{}
	r := NewNullRound(servers, clients, mkId(1), []byte("round-nonce"), b, func(int) ([]byte, bool) { return []byte("hi"), false }, nil)

	var finishedSuccessful bool
	var finishedCalled bool
	r.OnFinished(func(successful bool, reason string) {
		finishedCalled = true
		finishedSuccessful = successful
	})

	require.NoError(t, r.Start())
	require.Len(t, b.sent, 1)

	var received []identity.Id
	r.OnData(func(sender identity.Id, data []byte) {
		received = append(received, sender)
	})

	require.NoError(t, r.ProcessPacket(mkId(1), r.encode([]byte("a"))))
	require.False(t, finishedCalled)
	require.NoError(t, r.ProcessPacket(mkId(2), r.encode([]byte("b"))))
	require.False(t, finishedCalled)
	require.NoError(t, r.ProcessPacket(mkId(3), r.encode([]byte("c"))))

	require.True(t, finishedCalled)
	require.True(t, finishedSuccessful)
	require.True(t, r.Successful())
	require.ElementsMatch(t, []identity.Id{mkId(1), mkId(2), mkId(3)}, received)
}

func TestNullRoundDropsSecondMessageFromSameSender(t *testing.T) {
	servers := rosterOf(mkId(1), mkId(2))
	clients := rosterOf(mkId(3))
	b := &captureBroadcaster{}
	r := NewNullRound(servers, clients, mkId(1), []byte("n"), b, func(int) ([]byte, bool) { return nil, false }, nil)

	var warnings int
	r.warn = func(format string, args ...any) { warnings++ }

	var receivedCount int
	r.OnData(func(sender identity.Id, data []byte) { receivedCount++ })

	require.NoError(t, r.ProcessPacket(mkId(1), r.encode([]byte("x"))))
	require.NoError(t, r.ProcessPacket(mkId(1), r.encode([]byte("x-again"))))

	require.Equal(t, 1, receivedCount)
	require.Equal(t, 1, warnings)
	require.False(t, r.Successful())
}

func TestNullRoundStopMarksUnsuccessful(t *testing.T) {
	servers := rosterOf(mkId(1))
	clients := rosterOf()
	b := &captureBroadcaster{}
	r := NewNullRound(servers, clients, mkId(1), []byte("n"), b, func(int) ([]byte, bool) { return nil, false }, nil)

	var finishedSuccessful bool
	r.OnFinished(func(successful bool, reason string) { finishedSuccessful = successful })

	r.Stop("external stop")
	require.False(t, finishedSuccessful)
	require.False(t, r.Successful())
}
