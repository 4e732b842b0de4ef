package server

import (
	"context"

	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/round"
	"github.com/dissent-net/dissent/sessioncore"
	"github.com/dissent-net/dissent/wire"
)

type broadcastFunc func(payload []byte) error

func (f broadcastFunc) Broadcast(payload []byte) error { return f(payload) }

// NewNullRoundFactory returns a RoundFactory building round.NullRound
// over an epoch's finalized rosters, broadcasting SessionData to every
// other server and every admitted client. Used where no real
// anonymization round is wired in.
func NewNullRoundFactory(warn round.Warner) RoundFactory {
	return func(shared *sessioncore.SharedState) round.Round {
		servers, _ := rosterFromServerList(shared.ServerList)
		clients, _ := rosterFromClientList(shared.ClientList)

		var targets []identity.Id
		for _, id := range servers.Ids() {
			if id != shared.LocalId {
				targets = append(targets, id)
			}
		}
		targets = append(targets, clients.Ids()...)

		bc := broadcastFunc(func(payload []byte) error {
			return shared.Overlay.Broadcast(context.Background(), targets, wire.TypeSessionData, payload)
		})
		dataSource := func(maxBytes int) ([]byte, bool) {
			return shared.SendQueue.Get(maxBytes, nil)
		}

		return round.NewNullRound(servers, clients, shared.LocalId, shared.RoundId.Bytes(), bc, dataSource, warn)
	}
}

func rosterFromServerList(list []wire.ServerAgree) (*identity.Roster, error) {
	entries := make([]identity.Entry, 0, len(list))
	for _, a := range list {
		entries = append(entries, identity.Entry{Id: a.SenderId, EphemeralKey: a.EphemeralPubKey, OptionalMaterial: a.OptionalMaterial})
	}
	return identity.NewRoster(entries)
}

func rosterFromClientList(list []wire.RegisterEntry) (*identity.Roster, error) {
	entries := make([]identity.Entry, 0, len(list))
	for _, e := range list {
		entries = append(entries, identity.Entry{Id: e.Register.SenderId, EphemeralKey: e.Register.EphemeralPubKey, OptionalMaterial: e.Register.OptionalMaterial})
	}
	return identity.NewRoster(entries)
}
