package sessioncore

import (
	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/overlay"
	"github.com/dissent-net/dissent/round"
	"github.com/dissent-net/dissent/wire"
)

// SharedState is the state a session's states read and write in
// common. Fields below the marker are epoch-scoped: ResetEpoch clears
// them on every restart back to the session's initial state, while the
// session identity, key material, and send queue survive.
type SharedState struct {
	Overlay overlay.Overlay
	Suite   cryptosuite.Suite
	LocalId identity.Id

	LongTermPrivate cryptosuite.PrivateKey
	LongTermPublic  cryptosuite.PublicKey
	KeyDirectory    map[identity.Id]cryptosuite.PublicKey

	SendQueue *SendQueue

	// --- epoch-scoped below ---

	EphemeralPrivate cryptosuite.EphemeralPrivate
	EphemeralPublic  cryptosuite.EphemeralPublic
	OptionalPrivate  []byte
	OptionalPublic   []byte

	RoundId    wire.RoundId
	ServerList []wire.ServerAgree
	ClientList []wire.RegisterEntry
	Round      round.Round
}

// NewSharedState constructs the persistent portion of a session's
// shared state. Epoch-scoped fields start zero-valued; call ResetEpoch
// before entering the session's initial state to establish that
// invariant explicitly.
func NewSharedState(ov overlay.Overlay, suite cryptosuite.Suite, localId identity.Id, priv cryptosuite.PrivateKey, pub cryptosuite.PublicKey) *SharedState {
	return &SharedState{
		Overlay:         ov,
		Suite:           suite,
		LocalId:         localId,
		LongTermPrivate: priv,
		LongTermPublic:  pub,
		KeyDirectory:    make(map[identity.Id]cryptosuite.PublicKey),
		SendQueue:       NewSendQueue(),
	}
}

// AddKnownKey records id's long-term public key, e.g. learned from a
// roster entry or configuration.
func (s *SharedState) AddKnownKey(id identity.Id, pub cryptosuite.PublicKey) {
	s.KeyDirectory[id] = pub
}

// LookupKey returns id's known long-term public key.
func (s *SharedState) LookupKey(id identity.Id) (cryptosuite.PublicKey, bool) {
	pub, ok := s.KeyDirectory[id]
	return pub, ok
}

// ResetEpoch clears every epoch-scoped field, as required whenever the
// driver returns to the session's initial state: a fresh epoch starts
// with no ephemeral key, no round id, no rosters, and no round handle.
// The send queue and long-term identity survive untouched.
func (s *SharedState) ResetEpoch() {
	if s.Round != nil {
		s.Round.Stop("epoch reset")
	}
	s.EphemeralPrivate = nil
	s.EphemeralPublic = nil
	s.OptionalPrivate = nil
	s.OptionalPublic = nil
	s.RoundId = wire.RoundId{}
	s.ServerList = nil
	s.ClientList = nil
	s.Round = nil
}

// GenerateEphemeral creates and records this epoch's ephemeral key
// pair.
func (s *SharedState) GenerateEphemeral() error {
	priv, pub, err := s.Suite.GenerateEphemeral()
	if err != nil {
		return err
	}
	s.EphemeralPrivate = priv
	s.EphemeralPublic = pub
	return nil
}
