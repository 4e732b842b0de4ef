package server

import (
	"github.com/dissent-net/dissent/cryptosuite"
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/statemachine"
	"github.com/dissent-net/dissent/wire"
)

// base is embedded by every server state. It supplies the handling
// common to all of them: a signed ServerStop always aborts the epoch,
// and a signed ServerInit with a strictly newer timestamp than the one
// already adopted also aborts it. Both arrive as raw envelope bytes,
// already signature-checked by Session.verifyInbound.
type base struct {
	s *Session
}

func (b base) commonAccepts(msgType uint8) bool {
	if msgType == uint8(wire.TypeServerStop) {
		return true
	}
	if msgType == uint8(wire.TypeServerInit) && b.s.initPayload.Present {
		return true
	}
	return false
}

// commonProcess handles a message commonAccepts claimed. ok is false if
// the caller should fall through to its own handling.
func (b base) commonProcess(msgType uint8, raw []byte) (ok bool, result statemachine.ProcessResult, err error) {
	switch wire.MessageType(msgType) {
	case wire.TypeServerStop:
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			return true, statemachine.ResultIgnore, nil
		}
		if _, err := wire.DecodeServerStop(env.Payload); err != nil {
			return true, statemachine.ResultIgnore, nil
		}
		b.s.restart("received ServerStop")
		return true, statemachine.ResultRestart, nil

	case wire.TypeServerInit:
		env, err := wire.DecodeEnvelope(raw)
		if err != nil {
			return true, statemachine.ResultIgnore, nil
		}
		init, err := wire.DecodeServerInit(env.Payload)
		if err != nil {
			return true, statemachine.ResultIgnore, nil
		}
		if init.Timestamp <= b.s.initPayload.Init.Timestamp {
			return true, statemachine.ResultIgnore, nil
		}
		proposer, ok := b.s.ServerRoster.Proposer()
		if !ok || init.SenderId != proposer {
			return true, statemachine.ResultIgnore, nil
		}
		b.s.restart("received newer ServerInit")
		return true, statemachine.ResultRestart, nil
	}
	return false, statemachine.ResultIgnore, nil
}

// ---- Offline ----

type offlineState struct{ base }

func (st offlineState) Id() uint8            { return StateOffline }
func (st offlineState) Accepts(t uint8) bool { return t == msgStart }

// StorePacket buffers a peer's negotiation messages that raced ahead of
// this node's own Start call, so they replay once WaitingForServersAndInit
// is current instead of being lost.
func (st offlineState) StorePacket(t uint8) bool {
	switch wire.MessageType(t) {
	case wire.TypeServerInit, wire.TypeServerEnlist, wire.TypeServerAgree:
		return true
	}
	return false
}
func (st offlineState) RestartPacket(uint8) bool { return false }
func (st offlineState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	return statemachine.ResultNextState, nil
}

// ---- WaitingForServersAndInit ----

// waitingForServersAndInitState forks to WaitingForInit (still missing
// the proposer's Init) or WaitingForServers (still missing a
// connection) depending on which condition clears first; its successor
// is therefore decided at runtime via NextStateId.
type waitingForServersAndInitState struct {
	base
	next uint8
}

func (st *waitingForServersAndInitState) Id() uint8 { return StateWaitingForServersAndInit }
func (st *waitingForServersAndInitState) Accepts(t uint8) bool {
	return t == msgPeerConnected || t == uint8(wire.TypeServerInit)
}
func (st *waitingForServersAndInitState) StorePacket(t uint8) bool {
	return t == uint8(wire.TypeServerEnlist) || t == uint8(wire.TypeServerAgree)
}
func (st *waitingForServersAndInitState) RestartPacket(uint8) bool { return false }
func (st *waitingForServersAndInitState) NextStateId() uint8       { return st.next }

func (st *waitingForServersAndInitState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	switch t {
	case msgPeerConnected:
		if !s.allServersConnected() {
			return statemachine.ResultNoChange, nil
		}
		if s.isProposer() {
			if err := s.emitInit(); err != nil {
				return statemachine.ResultNoChange, err
			}
			if err := s.enterEnlisting(); err != nil {
				return statemachine.ResultNoChange, err
			}
			st.next = StateEnlisting
			return statemachine.ResultNextState, nil
		}
		st.next = StateWaitingForInit
		return statemachine.ResultNextState, nil

	case uint8(wire.TypeServerInit):
		env, err := wire.DecodeEnvelope(payload)
		if err != nil {
			return statemachine.ResultIgnore, nil
		}
		init, err := wire.DecodeServerInit(env.Payload)
		if err != nil {
			return statemachine.ResultIgnore, nil
		}
		proposer, ok := s.ServerRoster.Proposer()
		if !ok || init.SenderId != proposer {
			return statemachine.ResultIgnore, nil
		}
		s.initEnvelope = env
		s.initPayload = ServerInitRecord{Init: init, Present: true}

		if s.allServersConnected() {
			if err := s.enterEnlisting(); err != nil {
				return statemachine.ResultNoChange, err
			}
			st.next = StateEnlisting
			return statemachine.ResultNextState, nil
		}
		st.next = StateWaitingForServers
		return statemachine.ResultNextState, nil
	}
	return statemachine.ResultIgnore, nil
}

// ---- WaitingForInit ----

type waitingForInitState struct{ base }

func (st waitingForInitState) Id() uint8            { return StateWaitingForInit }
func (st waitingForInitState) Accepts(t uint8) bool { return t == uint8(wire.TypeServerInit) }
func (st waitingForInitState) StorePacket(t uint8) bool {
	return t == uint8(wire.TypeServerEnlist) || t == uint8(wire.TypeServerAgree)
}
func (st waitingForInitState) RestartPacket(uint8) bool { return false }
func (st waitingForInitState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	init, err := wire.DecodeServerInit(env.Payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	proposer, ok := s.ServerRoster.Proposer()
	if !ok || init.SenderId != proposer {
		return statemachine.ResultIgnore, nil
	}
	s.initEnvelope = env
	s.initPayload = ServerInitRecord{Init: init, Present: true}
	if err := s.enterEnlisting(); err != nil {
		return statemachine.ResultNoChange, err
	}
	return statemachine.ResultNextState, nil
}

// ---- WaitingForServers ----

type waitingForServersState struct{ base }

func (st waitingForServersState) Id() uint8            { return StateWaitingForServers }
func (st waitingForServersState) Accepts(t uint8) bool { return t == msgPeerConnected }
func (st waitingForServersState) StorePacket(t uint8) bool {
	return t == uint8(wire.TypeServerEnlist) || t == uint8(wire.TypeServerAgree)
}
func (st waitingForServersState) RestartPacket(uint8) bool { return false }
func (st waitingForServersState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if !s.allServersConnected() {
		return statemachine.ResultNoChange, nil
	}
	if err := s.enterEnlisting(); err != nil {
		return statemachine.ResultNoChange, err
	}
	return statemachine.ResultNextState, nil
}

// ---- Enlisting ----

type enlistingState struct{ base }

func (st enlistingState) Id() uint8 { return StateEnlisting }
func (st enlistingState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeServerEnlist) || st.commonAccepts(t)
}
func (st enlistingState) StorePacket(t uint8) bool { return t == uint8(wire.TypeServerAgree) }
func (st enlistingState) RestartPacket(uint8) bool { return false }
func (st enlistingState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		return result, err
	}

	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	enlist, err := wire.DecodeServerEnlist(env.Payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	if !s.ServerRoster.Has(enlist.SenderId) {
		return statemachine.ResultIgnore, nil
	}
	// The enlisted Init must be exactly the one this epoch adopted.
	initEnv, err := wire.DecodeEnvelope(enlist.InitPacket)
	if err != nil || initEnv.Type != wire.TypeServerInit {
		return statemachine.ResultIgnore, nil
	}
	init, err := wire.DecodeServerInit(initEnv.Payload)
	if err != nil || init.Timestamp != s.initPayload.Init.Timestamp || init.SenderId != s.initPayload.Init.SenderId {
		return statemachine.ResultIgnore, nil
	}

	s.recordEnlist(enlist)
	if !s.haveAllEnlists() {
		return statemachine.ResultNoChange, nil
	}

	s.Shared.RoundId = s.deriveRoundId()
	if err := s.agreeSelf(); err != nil {
		return statemachine.ResultNoChange, err
	}
	return statemachine.ResultNextState, nil
}

// ---- Agreeing ----

type agreeingState struct{ base }

func (st agreeingState) Id() uint8 { return StateAgreeing }
func (st agreeingState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeServerAgree) || st.commonAccepts(t)
}
func (st agreeingState) StorePacket(t uint8) bool {
	return t == uint8(wire.TypeClientQueue) || t == uint8(wire.TypeClientRegister)
}
func (st agreeingState) RestartPacket(uint8) bool { return false }
func (st agreeingState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		return result, err
	}

	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	agree, err := wire.DecodeServerAgree(env.Payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	if !s.ServerRoster.Has(agree.SenderId) {
		return statemachine.ResultIgnore, nil
	}
	if agree.RoundId != s.Shared.RoundId {
		return statemachine.ResultIgnore, nil
	}
	enlist, ok := s.enlists[agree.SenderId]
	if !ok || string(enlist.EphemeralPubKey) != string(agree.EphemeralPubKey) {
		return statemachine.ResultIgnore, nil
	}

	s.agrees[agree.SenderId] = agree
	if !s.haveAllAgrees() {
		return statemachine.ResultNoChange, nil
	}

	s.Shared.ServerList = s.sortedAgreeList()
	s.startAdmissionTimer()
	return statemachine.ResultNextState, nil
}

// ---- Registering ----

type registeringState struct{ base }

func (st registeringState) Id() uint8 { return StateRegistering }
func (st registeringState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeClientQueue) || t == uint8(wire.TypeClientRegister) || t == msgAdmissionTimeout || st.commonAccepts(t)
}
func (st registeringState) StorePacket(t uint8) bool {
	return t == uint8(wire.TypeServerList) || t == uint8(wire.TypeServerVerifyList)
}
func (st registeringState) RestartPacket(uint8) bool { return false }
func (st registeringState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		return result, err
	}

	switch t {
	case msgAdmissionTimeout:
		if err := s.broadcastLocalList(); err != nil {
			return statemachine.ResultNoChange, err
		}
		return statemachine.ResultNextState, nil

	case uint8(wire.TypeClientQueue):
		queue, err := wire.DecodeClientQueue(payload)
		if err != nil {
			return statemachine.ResultIgnore, nil
		}
		queued := wire.ServerQueued{
			AgreeList:   s.Shared.ServerList,
			ClientNonce: queue.ClientNonce,
		}
		queued.AgreeListBytes = wire.EncodeAgreeList(queued.AgreeList)
		// ServerQueued travels unsigned, and the embedded ServerAgree
		// list carries no signatures: the client checks only the list's
		// internal consistency before adopting it.
		return statemachine.ResultNoChange, s.replyToClient(sender, wire.TypeServerQueued, queued.Encode())

	case uint8(wire.TypeClientRegister):
		env, err := wire.DecodeEnvelope(payload)
		if err != nil {
			return statemachine.ResultIgnore, nil
		}
		reg, err := wire.DecodeClientRegister(env.Payload)
		if err != nil {
			return statemachine.ResultIgnore, nil
		}
		if reg.RoundId != s.Shared.RoundId {
			return statemachine.ResultIgnore, nil
		}
		s.Shared.AddKnownKey(reg.SenderId, cryptosuite.PublicKey(reg.EphemeralPubKey))
		s.admitClient(wire.RegisterEntry{Register: reg, Envelope: payload})
		return statemachine.ResultNoChange, nil
	}
	return statemachine.ResultIgnore, nil
}

// ---- Rostering ----

type rosteringState struct{ base }

func (st rosteringState) Id() uint8 { return StateRostering }
func (st rosteringState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeServerList) || st.commonAccepts(t)
}
func (st rosteringState) StorePacket(t uint8) bool { return t == uint8(wire.TypeServerVerifyList) }
func (st rosteringState) RestartPacket(uint8) bool { return false }
func (st rosteringState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		return result, err
	}

	env, err := wire.DecodeEnvelope(payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	list, err := wire.DecodeServerList(env.Payload, wire.SplitEnvelope)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	senderId, err := identity.ParseHex(sender)
	if err != nil || !s.ServerRoster.Has(senderId) {
		return statemachine.ResultIgnore, nil
	}
	s.peerLists[senderId] = list.Registrations
	if !s.haveAllPeerLists() {
		return statemachine.ResultNoChange, nil
	}

	s.mergedList = s.mergeLists()
	s.Shared.ClientList = s.mergedList
	if err := s.verifySelf(); err != nil {
		return statemachine.ResultNoChange, err
	}
	return statemachine.ResultNextState, nil
}

// ---- Verifying ----

type verifyingState struct{ base }

func (st verifyingState) Id() uint8 { return StateVerifying }
func (st verifyingState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeServerVerifyList) || st.commonAccepts(t)
}
func (st verifyingState) StorePacket(uint8) bool   { return false }
func (st verifyingState) RestartPacket(uint8) bool { return false }
func (st verifyingState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		return result, err
	}

	sig, err := wire.DecodeServerVerifyList(payload)
	if err != nil {
		return statemachine.ResultIgnore, nil
	}
	if !s.ServerRoster.Has(sig.SenderId) {
		return statemachine.ResultIgnore, nil
	}
	if sig.ListHash != s.listHash(s.mergedList) {
		return statemachine.ResultIgnore, nil
	}
	if err := s.verifyFrom(sig.SenderId, sig.SignedBytes(), sig.Signature); err != nil {
		return statemachine.ResultIgnore, nil
	}

	s.verifySigs[sig.SenderId] = sig
	if !s.haveAllVerifySigs() {
		return statemachine.ResultNoChange, nil
	}

	if err := s.sendStartToClients(); err != nil {
		return statemachine.ResultNoChange, err
	}
	return statemachine.ResultNextState, nil
}

// ---- Communicating ----

type communicatingState struct {
	base
}

func (st *communicatingState) Id() uint8 { return StateCommunicating }
func (st *communicatingState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeSessionData) || t == msgRoundFinished || st.commonAccepts(t)
}
func (st *communicatingState) StorePacket(uint8) bool   { return false }
func (st *communicatingState) RestartPacket(uint8) bool { return false }
func (st *communicatingState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		if result == statemachine.ResultRestart && s.Shared.Round != nil {
			s.Shared.Round.Stop("epoch aborted")
		}
		return result, err
	}

	if t == msgRoundFinished {
		s.restart("round finished: " + s.roundFinishReason)
		return statemachine.ResultRestart, nil
	}

	senderId, err := identity.ParseHex(sender)
	if err != nil {
		return statemachine.ResultNoChange, nil
	}
	if s.Shared.Round != nil {
		if err := s.Shared.Round.ProcessPacket(senderId, payload); err != nil {
			s.Log.Warn("server: round ProcessPacket failed", logger.String("server", s.Shared.LocalId.String()), logger.Error(err))
		}
	}
	return statemachine.ResultNoChange, nil
}
