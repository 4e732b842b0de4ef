// Package server implements the server-side session negotiation
// protocol: proposer election, round-id agreement,
// client admission, and roster verification, driven by a
// statemachine.Driver over ten named states.
package server

import (
	"context"
	"fmt"
	"sort"
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

// State ids for the server session driver, in protocol order.
const (
	StateOffline uint8 = iota
	StateWaitingForServersAndInit
	StateWaitingForInit
	StateWaitingForServers
	StateEnlisting
	StateAgreeing
	StateRegistering
	StateRostering
	StateVerifying
	StateCommunicating
)

// Synthetic, non-wire message types the driver also dispatches:
// locally-generated events that drive transitions the same way an
// inbound packet would.
const (
	msgStart uint8 = iota + 100
	msgPeerConnected
	msgAdmissionTimeout
	msgRoundFinished
)

// RoundFactory builds the anonymity round collaborator once an epoch's
// server and client rosters are final.
type RoundFactory func(shared *sessioncore.SharedState) round.Round

// DefaultAdmissionWindow is the default client registration window,
// timed from the moment the server enters Registering.
const DefaultAdmissionWindow = 30 * time.Second

// Session is one server's participation in the protocol.
type Session struct {
	Shared       *sessioncore.SharedState
	ServerRoster *identity.Roster // every server's long-term id+key, known in advance

	Timer           sessiontime.Timer
	AdmissionWindow time.Duration
	NewRound        RoundFactory
	Log             logger.Logger

	driver    *statemachine.Driver
	connected map[identity.Id]bool

	// inbox serializes every call into driver.Dispatch. overlay.Memory
	// delivers broadcasts synchronously, so a packet processed here can
	// itself trigger a broadcast that loops back into this same session
	// before the outer Dispatch call returns; queuing instead of
	// reentering keeps the driver's single-call-at-a-time contract.
	inbox   []pendingDispatch
	pumping bool

	// epoch-scoped negotiation bookkeeping, cleared by resetEpoch.
	initEnvelope   wire.Envelope
	initPayload    ServerInitRecord
	enlistedSelf   bool
	enlists        map[identity.Id]wire.ServerEnlist
	enlistOrder    []identity.Id
	agrees         map[identity.Id]wire.ServerAgree
	admissionTimer sessiontime.TimerHandle
	registrations  map[identity.Id]wire.RegisterEntry
	peerLists      map[identity.Id][]wire.RegisterEntry
	mergedList     []wire.RegisterEntry
	verifySigs     map[identity.Id]wire.ServerVerifyList

	roundFinishReason string
	epochStarted      time.Time
}

type pendingDispatch struct {
	sender  string
	msgType uint8
	payload []byte
}

// ServerInitRecord is the locally-parsed form of the current epoch's
// ServerInit, kept alongside the raw envelope every Enlist must embed.
type ServerInitRecord struct {
	Init    wire.ServerInit
	Present bool
}

// NewSession wires a fresh server Session and registers every state
// with the underlying driver. Call Start to begin the first epoch.
func NewSession(shared *sessioncore.SharedState, servers *identity.Roster, timer sessiontime.Timer, newRound RoundFactory, log logger.Logger) *Session {
	if log == nil {
		log = logger.Nop{}
	}
	s := &Session{
		Shared:          shared,
		ServerRoster:    servers,
		Timer:           timer,
		AdmissionWindow: DefaultAdmissionWindow,
		NewRound:        newRound,
		Log:             log,
		connected:       make(map[identity.Id]bool),
	}
	s.resetEpoch()
	s.driver = s.buildDriver()

	shared.Overlay.RegisterHandler(wire.TypeServerInit, s.onPacket(wire.TypeServerInit))
	shared.Overlay.RegisterHandler(wire.TypeServerEnlist, s.onPacket(wire.TypeServerEnlist))
	shared.Overlay.RegisterHandler(wire.TypeServerAgree, s.onPacket(wire.TypeServerAgree))
	shared.Overlay.RegisterHandler(wire.TypeClientQueue, s.onPacket(wire.TypeClientQueue))
	shared.Overlay.RegisterHandler(wire.TypeClientRegister, s.onPacket(wire.TypeClientRegister))
	shared.Overlay.RegisterHandler(wire.TypeServerList, s.onPacket(wire.TypeServerList))
	shared.Overlay.RegisterHandler(wire.TypeServerVerifyList, s.onPacket(wire.TypeServerVerifyList))
	shared.Overlay.RegisterHandler(wire.TypeServerStop, s.onPacket(wire.TypeServerStop))
	shared.Overlay.RegisterHandler(wire.TypeSessionData, s.onPacket(wire.TypeSessionData))
	shared.Overlay.OnConnect(func(peer identity.Id) {
		s.connected[peer] = true
		s.dispatch(peer.String(), msgPeerConnected, nil)
	})
	shared.Overlay.OnDisconnect(func(peer identity.Id) {
		delete(s.connected, peer)
	})

	return s
}

// onPacket returns the overlay.Handler for want. It rejects packets
// that fail signature verification before they ever reach the driver;
// the raw (still-enveloped, for signed types) bytes are forwarded
// unchanged so states can re-derive both the parsed fields and the
// original envelope bytes they need to relay onward.
func (s *Session) onPacket(want wire.MessageType) func(identity.Id, []byte) {
	return func(sender identity.Id, raw []byte) {
		if err := s.verifyInbound(want, sender, raw); err != nil {
			s.Log.Warn("server: reject inbound packet", logger.String("sender", sender.String()), logger.String("msg_type", want.String()), logger.Error(err))
			metrics.MessagesProcessed.WithLabelValues(want.String(), "rejected").Inc()
			return
		}
		metrics.MessagesProcessed.WithLabelValues(want.String(), "accepted").Inc()
		s.dispatch(sender.String(), uint8(want), raw)
	}
}

// dispatch enqueues a packet for the driver and, if no call further up
// the stack is already draining the queue, drains it itself. This is a
// trampoline: a Dispatch that is still on the call stack when a nested
// dispatch arrives (via a synchronous broadcast loopback) only enqueues,
// leaving the outermost call to process it once the current one unwinds.
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
			s.Log.Warn("server: dispatch failed", logger.Int("msg_type", int(p.msgType)), logger.String("sender", p.sender), logger.Error(err))
			metrics.MessagesProcessed.WithLabelValues(wire.MessageType(p.msgType).String(), "error").Inc()
		}
	}
}

// verifyInbound checks the signature on a just-arrived packet, without
// transforming it. ClientQueue is unsigned and SessionData is left to
// the round, so both pass through unchecked; ServerVerifyList and
// ServerStart carry their own embedded signature and are checked by the
// state that handles them instead, once its own validation context
// (e.g. the expected list hash) is available.
func (s *Session) verifyInbound(want wire.MessageType, sender identity.Id, raw []byte) error {
	switch want {
	case wire.TypeClientQueue, wire.TypeServerVerifyList, wire.TypeServerStart, wire.TypeSessionData:
		return nil
	case wire.TypeClientRegister:
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			return err
		}
		reg, err := wire.DecodeClientRegister(env.Payload)
		if err != nil {
			return err
		}
		return s.Shared.Suite.Verify(cryptosuite.PublicKey(reg.EphemeralPubKey), env.Payload, env.Signature)
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


// Start begins the session's first epoch. A connectivity nudge follows
// immediately after, so peers that connected before Start was called
// (their OnConnect fired while still Offline, and was ignored) are
// re-checked against the now-current WaitingForServersAndInit state.
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
		s.Log.Debug("server: state transition", logger.String("server", s.Shared.LocalId.String()), logger.Int("from", int(from)), logger.Int("to", int(to)))
		switch to {
		case StateWaitingForServersAndInit:
			s.epochStarted = time.Now()
		case StateEnlisting:
			role := "follower"
			if s.isProposer() {
				role = "proposer"
			}
			metrics.EpochsStarted.WithLabelValues(role).Inc()
		case StateCommunicating:
			if !s.epochStarted.IsZero() {
				metrics.EpochDuration.Observe(time.Since(s.epochStarted).Seconds())
			}
			s.startRound()
		}
	}

	d.AddState(StateOffline, func() statemachine.State { return &offlineState{base{s}} })
	d.AddState(StateWaitingForServersAndInit, func() statemachine.State { return &waitingForServersAndInitState{base: base{s}} })
	d.AddState(StateWaitingForInit, func() statemachine.State { return &waitingForInitState{base{s}} })
	d.AddState(StateWaitingForServers, func() statemachine.State { return &waitingForServersState{base{s}} })
	d.AddState(StateEnlisting, func() statemachine.State { return &enlistingState{base{s}} })
	d.AddState(StateAgreeing, func() statemachine.State { return &agreeingState{base{s}} })
	d.AddState(StateRegistering, func() statemachine.State { return &registeringState{base{s}} })
	d.AddState(StateRostering, func() statemachine.State { return &rosteringState{base{s}} })
	d.AddState(StateVerifying, func() statemachine.State { return &verifyingState{base{s}} })
	d.AddState(StateCommunicating, func() statemachine.State { return &communicatingState{base{s}} })

	d.AddTransition(StateOffline, StateWaitingForServersAndInit)
	d.AddTransition(StateWaitingForInit, StateEnlisting)
	d.AddTransition(StateWaitingForServers, StateEnlisting)
	d.AddTransition(StateEnlisting, StateAgreeing)
	d.AddTransition(StateAgreeing, StateRegistering)
	d.AddTransition(StateRegistering, StateRostering)
	d.AddTransition(StateRostering, StateVerifying)
	d.AddTransition(StateVerifying, StateCommunicating)

	d.SetInitial(StateOffline)
	return d
}

// resetEpoch clears every field scoped to a single negotiation round,
// mirroring sessioncore.SharedState.ResetEpoch for server-local state.
func (s *Session) resetEpoch() {
	s.Shared.ResetEpoch()
	s.initEnvelope = wire.Envelope{}
	s.initPayload = ServerInitRecord{}
	s.enlistedSelf = false
	s.enlists = make(map[identity.Id]wire.ServerEnlist)
	s.enlistOrder = nil
	s.agrees = make(map[identity.Id]wire.ServerAgree)
	if s.admissionTimer != nil {
		s.admissionTimer.Stop()
		s.admissionTimer = nil
	}
	s.registrations = make(map[identity.Id]wire.RegisterEntry)
	s.peerLists = make(map[identity.Id][]wire.RegisterEntry)
	s.mergedList = nil
	s.verifySigs = make(map[identity.Id]wire.ServerVerifyList)
}

// restart aborts the current epoch. The driver itself returns to
// Offline once the in-flight ProcessPacket call that triggered this
// returns ResultRestart; the queued msgStart here re-enters the
// negotiation once that happens, so a restarted session begins its
// next epoch on its own instead of waiting in Offline indefinitely.
func (s *Session) restart(reason string) {
	s.Log.Info("server: restarting epoch", logger.String("server", s.Shared.LocalId.String()), logger.String("reason", reason))
	metrics.EpochsRestarted.WithLabelValues(reason).Inc()
	if !s.epochStarted.IsZero() {
		metrics.EpochDuration.Observe(time.Since(s.epochStarted).Seconds())
	}
	s.resetEpoch()
	local := s.Shared.LocalId.String()
	s.dispatch(local, msgStart, nil)
	s.dispatch(local, msgPeerConnected, nil)
}

func (s *Session) isProposer() bool {
	proposer, ok := s.ServerRoster.Proposer()
	return ok && proposer == s.Shared.LocalId
}

func (s *Session) allServersConnected() bool {
	for _, id := range s.ServerRoster.Ids() {
		if id == s.Shared.LocalId {
			continue
		}
		if !s.connected[id] {
			return false
		}
	}
	return true
}

func (s *Session) sign(payload []byte) ([]byte, error) {
	return s.Shared.Suite.Sign(s.Shared.LongTermPrivate, payload)
}

func (s *Session) verifyFrom(senderId identity.Id, message, signature []byte) error {
	entry, ok := s.ServerRoster.Get(senderId)
	if !ok {
		return fmt.Errorf("server: unknown sender %s", senderId)
	}
	return s.Shared.Suite.Verify(cryptosuite.PublicKey(entry.LongTermKey), message, signature)
}

func (s *Session) broadcastServers(ctx context.Context, msgType wire.MessageType, payload []byte) error {
	var peers []identity.Id
	for _, id := range s.ServerRoster.Ids() {
		if id != s.Shared.LocalId {
			peers = append(peers, id)
		}
	}
	return s.Shared.Overlay.Broadcast(ctx, peers, msgType, payload)
}

// emitInit builds, signs, broadcasts, and locally records a fresh
// ServerInit for a new epoch. Only ever called by the proposer.
func (s *Session) emitInit() error {
	nonce, err := s.Shared.Suite.RandomBytes(wire.NonceSize)
	if err != nil {
		return err
	}
	init := wire.ServerInit{SenderId: s.Shared.LocalId, Timestamp: time.Now().UnixMilli()}
	copy(init.Nonce[:], nonce)

	payload := init.EncodePayload()
	sig, err := s.sign(payload)
	if err != nil {
		return err
	}
	env := wire.Envelope{Type: wire.TypeServerInit, Payload: payload, Signature: sig}

	s.initEnvelope = env
	s.initPayload = ServerInitRecord{Init: init, Present: true}

	return s.broadcastServers(context.Background(), wire.TypeServerInit, env.Encode())
}

// enlistSelf builds this server's own ServerEnlist once an Init is
// adopted, signs and broadcasts it, and records it locally as if it had
// arrived over the wire.
func (s *Session) enlistSelf() error {
	if err := s.Shared.GenerateEphemeral(); err != nil {
		return err
	}
	enlist := wire.ServerEnlist{
		SenderId:        s.Shared.LocalId,
		InitPacket:      s.initEnvelope.Encode(),
		EphemeralPubKey: s.Shared.EphemeralPublic,
	}
	payload := enlist.EncodePayload()
	sig, err := s.sign(payload)
	if err != nil {
		return err
	}
	env := wire.Envelope{Type: wire.TypeServerEnlist, Payload: payload, Signature: sig}

	s.recordEnlist(enlist)
	return s.broadcastServers(context.Background(), wire.TypeServerEnlist, env.Encode())
}

func (s *Session) recordEnlist(e wire.ServerEnlist) {
	if _, exists := s.enlists[e.SenderId]; !exists {
		s.enlistOrder = append(s.enlistOrder, e.SenderId)
	}
	s.enlists[e.SenderId] = e
}

// haveAllEnlists reports whether every server in the roster has an
// Enlist recorded for the current epoch.
func (s *Session) haveAllEnlists() bool {
	for _, id := range s.ServerRoster.Ids() {
		if _, ok := s.enlists[id]; !ok {
			return false
		}
	}
	return true
}

// deriveRoundId computes the RoundId: HASH over every server's
// Enlist payload, concatenated in server-roster order (not arrival
// order), so every honest server derives an identical id.
func (s *Session) deriveRoundId() wire.RoundId {
	var parts [][]byte
	for _, id := range s.ServerRoster.Ids() {
		e := s.enlists[id]
		parts = append(parts, e.EncodePayload())
	}
	sum := s.Shared.Suite.Hash(parts...)
	var rid wire.RoundId
	copy(rid[:], sum)
	return rid
}

func (s *Session) agreeSelf() error {
	agree := wire.ServerAgree{
		SenderId:        s.Shared.LocalId,
		RoundId:         s.Shared.RoundId,
		EphemeralPubKey: s.Shared.EphemeralPublic,
	}
	payload := agree.EncodePayload()
	sig, err := s.sign(payload)
	if err != nil {
		return err
	}
	env := wire.Envelope{Type: wire.TypeServerAgree, Payload: payload, Signature: sig}

	s.agrees[s.Shared.LocalId] = agree
	return s.broadcastServers(context.Background(), wire.TypeServerAgree, env.Encode())
}

func (s *Session) haveAllAgrees() bool {
	for _, id := range s.ServerRoster.Ids() {
		if _, ok := s.agrees[id]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) sortedAgreeList() []wire.ServerAgree {
	ids := s.ServerRoster.Ids()
	out := make([]wire.ServerAgree, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.agrees[id])
	}
	return out
}

// admitClient records a validated registration keyed by client id; a
// later registration from the same client id replaces the earlier one.
func (s *Session) admitClient(entry wire.RegisterEntry) {
	s.registrations[entry.Register.SenderId] = entry
	metrics.ClientsRegistered.Inc()
}

func (s *Session) localRegisterList() []wire.RegisterEntry {
	ids := make([]identity.Id, 0, len(s.registrations))
	for id := range s.registrations {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	out := make([]wire.RegisterEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.registrations[id])
	}
	return out
}

// mergeLists combines every server's reported list (including this
// server's own) into one stably-ordered, duplicate-free list. Lists are
// visited in ascending server id order, so when two servers both
// admitted the same client id, the copy reported by the smaller server
// id wins; the merged entries are then sorted by client id.
func (s *Session) mergeLists() []wire.RegisterEntry {
	byId := make(map[identity.Id]wire.RegisterEntry)
	serverIds := s.ServerRoster.Ids()
	sort.Slice(serverIds, func(i, j int) bool { return serverIds[i].Less(serverIds[j]) })
	for _, sid := range serverIds {
		list := s.peerLists[sid]
		if sid == s.Shared.LocalId {
			list = s.localRegisterList()
		}
		for _, e := range list {
			if _, exists := byId[e.Register.SenderId]; !exists {
				byId[e.Register.SenderId] = e
			}
		}
	}
	ids := make([]identity.Id, 0, len(byId))
	for id := range byId {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
	out := make([]wire.RegisterEntry, 0, len(ids))
	for _, id := range ids {
		out = append(out, byId[id])
	}
	return out
}

func (s *Session) listHash(list []wire.RegisterEntry) [32]byte {
	sum := s.Shared.Suite.Hash(wire.EncodeRegisterList(list))
	var h [32]byte
	copy(h[:], sum)
	return h
}

func (s *Session) haveAllPeerLists() bool {
	for _, id := range s.ServerRoster.Ids() {
		if id == s.Shared.LocalId {
			continue
		}
		if _, ok := s.peerLists[id]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) haveAllVerifySigs() bool {
	for _, id := range s.ServerRoster.Ids() {
		if _, ok := s.verifySigs[id]; !ok {
			return false
		}
	}
	return true
}

func (s *Session) sortedVerifySigs() []wire.ServerVerifyList {
	ids := s.ServerRoster.Ids()
	out := make([]wire.ServerVerifyList, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.verifySigs[id])
	}
	return out
}

// enterEnlisting sends this server's own ServerEnlist exactly once per
// epoch, however Enlisting was reached (proposer's immediate path, or
// either WaitingForInit/WaitingForServers catching up).
func (s *Session) enterEnlisting() error {
	if s.enlistedSelf {
		return nil
	}
	s.enlistedSelf = true
	return s.enlistSelf()
}

// startAdmissionTimer begins the default 30s client
// registration window. Its expiry is delivered as a synthetic message
// so it flows through the same Dispatch path as every other event.
func (s *Session) startAdmissionTimer() {
	s.admissionTimer = s.Timer.After(s.AdmissionWindow, func() {
		s.dispatch(s.Shared.LocalId.String(), msgAdmissionTimeout, nil)
	})
}

// broadcastLocalList ships this server's own admitted registrations to
// every peer server once the admission window closes.
func (s *Session) broadcastLocalList() error {
	list := wire.ServerList{Registrations: s.localRegisterList()}
	payload := list.EncodePayload()
	sig, err := s.sign(payload)
	if err != nil {
		return err
	}
	env := wire.Envelope{Type: wire.TypeServerList, Payload: payload, Signature: sig}
	return s.broadcastServers(context.Background(), wire.TypeServerList, env.Encode())
}

// replyToClient sends payload directly to the client that dispatched
// senderHex (the hex Id string the driver keys deferred storage by).
func (s *Session) replyToClient(senderHex string, msgType wire.MessageType, payload []byte) error {
	id, err := identity.ParseHex(senderHex)
	if err != nil {
		return err
	}
	return s.Shared.Overlay.Send(context.Background(), id, msgType, payload)
}

// verifySelf signs the hash of the merged client list and broadcasts
// it as the bare ServerVerifyList payload (no outer envelope; trust
// derives from the embedded signature).
func (s *Session) verifySelf() error {
	sig := wire.ServerVerifyList{SenderId: s.Shared.LocalId, ListHash: s.listHash(s.mergedList)}
	signature, err := s.sign(sig.SignedBytes())
	if err != nil {
		return err
	}
	sig.Signature = signature
	s.verifySigs[s.Shared.LocalId] = sig
	return s.broadcastServers(context.Background(), wire.TypeServerVerifyList, sig.Encode())
}

// sendStartToClients delivers the final merged list plus the full
// N-signature bundle to every admitted client, ending the negotiation.
func (s *Session) sendStartToClients() error {
	start := wire.ServerStart{Registrations: s.mergedList, Signatures: s.sortedVerifySigs()}
	payload := start.Encode()

	clientIds := make([]identity.Id, 0, len(s.mergedList))
	for _, e := range s.mergedList {
		clientIds = append(clientIds, e.Register.SenderId)
	}
	return s.Shared.Overlay.Broadcast(context.Background(), clientIds, wire.TypeServerStart, payload)
}

// startRound constructs and starts this epoch's anonymity round, wiring
// its completion back into the send queue's commit/unget protocol and
// the next epoch's restart.
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
		s.Log.Warn("server: round Start failed", logger.String("server", s.Shared.LocalId.String()), logger.Error(err))
		metrics.RoundsFinished.WithLabelValues("error").Inc()
		return
	}
	metrics.RoundsStarted.Inc()
}
