// Package client implements the client-side session negotiation
// protocol: server discovery, round-id adoption, signed registration,
// and final-roster verification, driven by a statemachine.Driver over
// five named states.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/metrics"
	"github.com/dissent-net/dissent/round"
	"github.com/dissent-net/dissent/sessioncore"
	"github.com/dissent-net/dissent/sessiontime"
	"github.com/dissent-net/dissent/statemachine"
	"github.com/dissent-net/dissent/wire"
)

// State ids for the client session driver, in protocol order.
const (
	StateOffline uint8 = iota
	StateWaitingForServer
	StateQueuing
	StateRegistering
	StateCommunicating
)

// Synthetic, non-wire message types the driver also dispatches.
const (
	msgStart uint8 = iota + 100
	msgPeerConnected
	msgPeerDisconnected
	msgQueueRetry
	msgRoundFinished
)

// RoundFactory builds the anonymity round collaborator once an epoch's
// server and client rosters are final.
type RoundFactory func(shared *sessioncore.SharedState) round.Round

// DefaultQueueRetry is how long Queuing waits for a ServerQueued reply
// before resending ClientQueue to the chosen server.
const DefaultQueueRetry = 5 * time.Second

// Session is one client's participation in the protocol.
type Session struct {
	Shared       *sessioncore.SharedState
	ServerRoster *identity.Roster // every server this client is willing to register with

	Timer      sessiontime.Timer
	QueueRetry time.Duration
	NewRound   RoundFactory
	Log        logger.Logger

	driver    *statemachine.Driver
	connected map[identity.Id]bool

	target    identity.Id
	hasTarget bool

	// inbox serializes every call into driver.Dispatch, for the same
	// reentrancy reason server.Session does: a synchronous
	// overlay.Memory broadcast can loop back into this session before
	// the outer Dispatch call returns.
	inbox   []pendingDispatch
	pumping bool

	// epoch-scoped negotiation bookkeeping, cleared by resetEpoch.
	clientNonce     [wire.NonceSize]byte
	queueRetryTimer sessiontime.TimerHandle

	roundFinishReason string
	epochStarted      time.Time
}

type pendingDispatch struct {
	sender  string
	msgType uint8
	payload []byte
}

// NewSession wires a fresh client Session and registers every state
// with the underlying driver. Call Start to begin the first epoch.
func NewSession(shared *sessioncore.SharedState, servers *identity.Roster, timer sessiontime.Timer, newRound RoundFactory, log logger.Logger) *Session {
	if log == nil {
		log = logger.Nop{}
	}
	s := &Session{
		Shared:       shared,
		ServerRoster: servers,
		Timer:        timer,
		QueueRetry:   DefaultQueueRetry,
		NewRound:     newRound,
		Log:          log,
		connected:    make(map[identity.Id]bool),
	}
	s.resetEpoch()
	s.driver = s.buildDriver()

	shared.Overlay.RegisterHandler(wire.TypeServerQueued, s.onPacket(wire.TypeServerQueued))
	shared.Overlay.RegisterHandler(wire.TypeServerStart, s.onPacket(wire.TypeServerStart))
	shared.Overlay.RegisterHandler(wire.TypeServerStop, s.onPacket(wire.TypeServerStop))
	shared.Overlay.RegisterHandler(wire.TypeSessionData, s.onPacket(wire.TypeSessionData))
	shared.Overlay.OnConnect(func(peer identity.Id) {
		if !s.ServerRoster.Has(peer) {
			return
		}
		s.connected[peer] = true
		s.dispatch(peer.String(), msgPeerConnected, nil)
	})
	shared.Overlay.OnDisconnect(func(peer identity.Id) {
		delete(s.connected, peer)
		if s.hasTarget && peer == s.target {
			s.dispatch(peer.String(), msgPeerDisconnected, nil)
		}
	})

	return s
}

// onPacket returns the overlay.Handler for want. ServerQueued,
// ServerStart, and SessionData travel as bare payload bytes (trust
// derives from fields the states verify themselves); ServerStop is
// enveloped and is rejected here if its signature does not check out
// against a known server's long-term key.
func (s *Session) onPacket(want wire.MessageType) func(identity.Id, []byte) {
	return func(sender identity.Id, raw []byte) {
		if err := s.verifyInbound(want, sender, raw); err != nil {
			s.Log.Warn("client: reject inbound packet", logger.String("sender", sender.String()), logger.String("msg_type", want.String()), logger.Error(err))
			metrics.MessagesProcessed.WithLabelValues(want.String(), "rejected").Inc()
			return
		}
		metrics.MessagesProcessed.WithLabelValues(want.String(), "accepted").Inc()
		s.dispatch(sender.String(), uint8(want), raw)
	}
}

func (s *Session) dispatch(sender string, msgType uint8, payload []byte) {
	s.inbox = append(s.inbox, pendingDispatch{sender: sender, msgType: msgType, payload: payload})
	if s.pumping {
		return
	}
	s.pumping = true
	defer func() { s.pumping = false }()
	for len(s.inbox) > 0 {
		p := s.inbox[0]
		s.inbox = s.inbox[1:]
		if err := s.driver.Dispatch(p.sender, p.msgType, p.payload); err != nil {
			s.Log.Warn("client: dispatch failed", logger.Int("msg_type", int(p.msgType)), logger.String("sender", p.sender), logger.Error(err))
			metrics.MessagesProcessed.WithLabelValues(wire.MessageType(p.msgType).String(), "error").Inc()
		}
	}
}

func (s *Session) verifyInbound(want wire.MessageType, sender identity.Id, raw []byte) error {
	switch want {
	case wire.TypeServerQueued, wire.TypeServerStart, wire.TypeSessionData:
		return nil
	default:
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			return err
		}
		if env.Type != want {
			return fmt.Errorf("envelope type mismatch: got %s, want %s", env.Type, want)
		}
		return s.verifyFrom(sender, env.Payload, env.Signature)
	}
}

// Start begins the session's first epoch.
func (s *Session) Start() error {
	local := s.Shared.LocalId.String()
	s.dispatch(local, msgStart, nil)
	s.dispatch(local, msgPeerConnected, nil)
	return nil
}

// Current returns the driver's current state id, for tests and logging.
func (s *Session) Current() uint8 {
	return s.driver.Current().Id()
}

func (s *Session) buildDriver() *statemachine.Driver {
	d := statemachine.NewDriver()
	d.OnTransition = func(from, to uint8) {
		s.Log.Debug("client: state transition", logger.String("client", s.Shared.LocalId.String()), logger.Int("from", int(from)), logger.Int("to", int(to)))
		switch to {
		case StateWaitingForServer:
			s.epochStarted = time.Now()
		case StateCommunicating:
			if !s.epochStarted.IsZero() {
				metrics.EpochDuration.Observe(time.Since(s.epochStarted).Seconds())
			}
			s.startRound()
		}
	}

	d.AddState(StateOffline, func() statemachine.State { return &offlineState{base{s}} })
	d.AddState(StateWaitingForServer, func() statemachine.State { return &waitingForServerState{base{s}} })
	d.AddState(StateQueuing, func() statemachine.State { return &queuingState{base{s}} })
	d.AddState(StateRegistering, func() statemachine.State { return &registeringState{base{s}} })
	d.AddState(StateCommunicating, func() statemachine.State { return &communicatingState{base{s}} })

	d.AddTransition(StateOffline, StateWaitingForServer)
	d.AddTransition(StateWaitingForServer, StateQueuing)
	d.AddTransition(StateQueuing, StateRegistering)
	d.AddTransition(StateRegistering, StateCommunicating)

	d.SetInitial(StateOffline)
	return d
}

// resetEpoch clears every field scoped to a single negotiation round.
func (s *Session) resetEpoch() {
	s.Shared.ResetEpoch()
	s.hasTarget = false
	s.target = identity.Id{}
	s.clientNonce = [wire.NonceSize]byte{}
	if s.queueRetryTimer != nil {
		s.queueRetryTimer.Stop()
		s.queueRetryTimer = nil
	}
}

// restart aborts the current epoch and re-enters negotiation, the same
// way server.Session.restart does.
func (s *Session) restart(reason string) {
	s.Log.Info("client: restarting epoch", logger.String("client", s.Shared.LocalId.String()), logger.String("reason", reason))
	metrics.EpochsRestarted.WithLabelValues(reason).Inc()
	if !s.epochStarted.IsZero() {
		metrics.EpochDuration.Observe(time.Since(s.epochStarted).Seconds())
	}
	s.resetEpoch()
	local := s.Shared.LocalId.String()
	s.dispatch(local, msgStart, nil)
	s.dispatch(local, msgPeerConnected, nil)
}

func (s *Session) verifyFrom(senderId identity.Id, message, signature []byte) error {
	entry, ok := s.ServerRoster.Get(senderId)
	if !ok {
		return fmt.Errorf("client: unknown sender %s", senderId)
	}
	return s.Shared.Suite.Verify(cryptosuite.PublicKey(entry.LongTermKey), message, signature)
}

// chooseTarget picks the lowest-id connected server from ServerRoster,
// so every client presented with the same connectivity picks the same
// server deterministically.
func (s *Session) chooseTarget() (identity.Id, bool) {
	var best identity.Id
	found := false
	for _, id := range s.ServerRoster.Ids() {
		if !s.connected[id] {
			continue
		}
		if !found || id.Less(best) {
			best = id
			found = true
		}
	}
	return best, found
}

// sendClientQueue sends (or resends) the fixed-for-this-epoch
// ClientQueue to the current target, and (re)arms the retry timer.
func (s *Session) sendClientQueue() error {
	queue := wire.ClientQueue{ClientNonce: s.clientNonce}
	if err := s.Shared.Overlay.Send(context.Background(), s.target, wire.TypeClientQueue, queue.Encode()); err != nil {
		return err
	}
	if s.queueRetryTimer != nil {
		s.queueRetryTimer.Stop()
	}
	s.queueRetryTimer = s.Timer.After(s.QueueRetry, func() {
		s.dispatch(s.Shared.LocalId.String(), msgQueueRetry, nil)
	})
	return nil
}

// adoptServerQueued validates queued against the chosen target's
// identity and the nonce this client sent, adopts the round id every
// ServerAgree entry agrees on, and records the server list. Real trust
// establishment happens later, at ServerStart: ServerQueued is an
// unsigned bootstrap reply, so this only checks internal consistency
// (every entry names a known, distinct server and shares one round id),
// not an individual signature.
func (s *Session) adoptServerQueued(queued wire.ServerQueued) error {
	if queued.ClientNonce != s.clientNonce {
		return fmt.Errorf("client: ServerQueued nonce mismatch")
	}
	if len(queued.AgreeList) == 0 {
		return fmt.Errorf("client: ServerQueued carries an empty agree list")
	}
	seen := make(map[identity.Id]bool, len(queued.AgreeList))
	roundId := queued.AgreeList[0].RoundId
	for _, a := range queued.AgreeList {
		if !s.ServerRoster.Has(a.SenderId) {
			return fmt.Errorf("client: ServerQueued names unknown server %s", a.SenderId)
		}
		if seen[a.SenderId] {
			return fmt.Errorf("client: ServerQueued lists server %s twice", a.SenderId)
		}
		seen[a.SenderId] = true
		if a.RoundId != roundId {
			return fmt.Errorf("client: ServerQueued agree list disagrees on round id")
		}
	}
	s.Shared.RoundId = roundId
	s.Shared.ServerList = queued.AgreeList
	return nil
}

// registerSelf generates this epoch's ephemeral key and sends a
// ClientRegister self-signed by that ephemeral key, not the long-term
// key: the server verifies the envelope against
// ClientRegister.EphemeralPubKey, the same way server.Session accepts
// it. This is what lets a client register without any server knowing
// its long-term identity in advance.
func (s *Session) registerSelf() error {
	if err := s.Shared.GenerateEphemeral(); err != nil {
		return err
	}
	reg := wire.ClientRegister{
		SenderId:        s.Shared.LocalId,
		RoundId:         s.Shared.RoundId,
		EphemeralPubKey: s.Shared.EphemeralPublic,
	}
	payload := reg.EncodePayload()
	sig, err := s.Shared.Suite.Sign(cryptosuite.PrivateKey(s.Shared.EphemeralPrivate), payload)
	if err != nil {
		return err
	}
	env := wire.Envelope{Type: wire.TypeClientRegister, Payload: payload, Signature: sig}
	return s.Shared.Overlay.Send(context.Background(), s.target, wire.TypeClientRegister, env.Encode())
}

// adoptServerStart validates every signature in start against the
// known server roster before accepting its registration list as this
// epoch's final client roster.
func (s *Session) adoptServerStart(start wire.ServerStart) error {
	if len(start.Signatures) != s.ServerRoster.Len() {
		return fmt.Errorf("client: ServerStart has %d signatures, want %d", len(start.Signatures), s.ServerRoster.Len())
	}
	hash := s.Shared.Suite.Hash(wire.EncodeRegisterList(start.Registrations))
	var wantHash [32]byte
	copy(wantHash[:], hash)

	seen := make(map[identity.Id]bool, len(start.Signatures))
	for _, sig := range start.Signatures {
		if !s.ServerRoster.Has(sig.SenderId) {
			return fmt.Errorf("client: ServerStart signature from unknown server %s", sig.SenderId)
		}
		if seen[sig.SenderId] {
			return fmt.Errorf("client: ServerStart signature from %s twice", sig.SenderId)
		}
		seen[sig.SenderId] = true
		if sig.ListHash != wantHash {
			return fmt.Errorf("client: ServerStart signature from %s over the wrong list hash", sig.SenderId)
		}
		if err := s.verifyFrom(sig.SenderId, sig.SignedBytes(), sig.Signature); err != nil {
			return fmt.Errorf("client: ServerStart signature from %s: %w", sig.SenderId, err)
		}
	}

	self := false
	for _, e := range start.Registrations {
		if e.Register.SenderId == s.Shared.LocalId {
			self = true
			break
		}
	}
	if !self {
		return fmt.Errorf("client: ServerStart does not include this client's own registration")
	}

	s.Shared.ClientList = start.Registrations
	return nil
}

// startRound constructs and starts this epoch's anonymity round, wiring
// its completion back into the send queue's commit/unget protocol and
// the next epoch's restart, identically to server.Session.startRound.
func (s *Session) startRound() {
	if s.NewRound == nil {
		return
	}
	r := s.NewRound(s.Shared)
	s.Shared.Round = r
	r.OnFinished(func(successful bool, reason string) {
		if successful {
			s.Shared.SendQueue.Commit()
			metrics.RoundsFinished.WithLabelValues("completed").Inc()
		} else {
			s.Shared.SendQueue.Unget()
			metrics.RoundsFinished.WithLabelValues("stopped").Inc()
		}
		s.roundFinishReason = reason
		s.dispatch(s.Shared.LocalId.String(), msgRoundFinished, nil)
	})
	if err := r.Start(); err != nil {
		s.Log.Warn("client: round Start failed", logger.String("client", s.Shared.LocalId.String()), logger.Error(err))
		metrics.RoundsFinished.WithLabelValues("error").Inc()
		return
	}
	metrics.RoundsStarted.Inc()
}
