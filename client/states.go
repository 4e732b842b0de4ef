package client

import (
	"github.com/dissent-net/dissent/identity"
	"github.com/dissent-net/dissent/logger"
	"github.com/dissent-net/dissent/statemachine"
	"github.com/dissent-net/dissent/wire"
)

// base is embedded by every client state. It supplies the handling
// common to all of them: a signed ServerStop from a known server always
// aborts the epoch.
type base struct {
	s *Session
}

func (b base) commonAccepts(msgType uint8) bool {
	return msgType == uint8(wire.TypeServerStop)
}

func (b base) commonProcess(msgType uint8, raw []byte) (ok bool, result statemachine.ProcessResult, err error) {
	if wire.MessageType(msgType) != wire.TypeServerStop {
		return false, statemachine.ResultIgnore, nil
	}
	env, err := wire.DecodeEnvelope(raw)
	if err != nil {
		return true, statemachine.ResultIgnore, nil
	}
	if _, err := wire.DecodeServerStop(env.Payload); err != nil {
		return true, statemachine.ResultIgnore, nil
	}
	b.s.restart("received ServerStop")
	return true, statemachine.ResultRestart, nil
}

// ---- Offline ----

type offlineState struct{ base }

func (st offlineState) Id() uint8            { return StateOffline }
func (st offlineState) Accepts(t uint8) bool { return t == msgStart }
func (st offlineState) StorePacket(uint8) bool   { return false }
func (st offlineState) RestartPacket(uint8) bool { return false }
func (st offlineState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	return statemachine.ResultNextState, nil
}

// ---- WaitingForServer ----

type waitingForServerState struct{ base }

func (st waitingForServerState) Id() uint8            { return StateWaitingForServer }
func (st waitingForServerState) Accepts(t uint8) bool { return t == msgPeerConnected }
func (st waitingForServerState) StorePacket(uint8) bool   { return false }
func (st waitingForServerState) RestartPacket(uint8) bool { return false }
func (st waitingForServerState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	target, ok := s.chooseTarget()
	if !ok {
		return statemachine.ResultNoChange, nil
	}
	s.target = target
	s.hasTarget = true

	nonce, err := s.Shared.Suite.RandomBytes(wire.NonceSize)
	if err != nil {
		return statemachine.ResultNoChange, err
	}
	copy(s.clientNonce[:], nonce)

	if err := s.sendClientQueue(); err != nil {
		return statemachine.ResultNoChange, err
	}
	return statemachine.ResultNextState, nil
}

// ---- Queuing ----

type queuingState struct{ base }

func (st queuingState) Id() uint8 { return StateQueuing }
func (st queuingState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeServerQueued) || t == msgQueueRetry || t == msgPeerDisconnected || st.commonAccepts(t)
}
func (st queuingState) StorePacket(uint8) bool   { return false }
func (st queuingState) RestartPacket(uint8) bool { return false }
func (st queuingState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		return result, err
	}

	switch t {
	case msgPeerDisconnected:
		s.restart("lost connection to target server before registering")
		return statemachine.ResultRestart, nil

	case msgQueueRetry:
		if err := s.sendClientQueue(); err != nil {
			return statemachine.ResultNoChange, err
		}
		return statemachine.ResultNoChange, nil

	case uint8(wire.TypeServerQueued):
		if sender != s.target.String() {
			return statemachine.ResultIgnore, nil
		}
		queued, err := wire.DecodeServerQueued(payload)
		if err != nil {
			return statemachine.ResultIgnore, nil
		}
		if err := s.adoptServerQueued(queued); err != nil {
			return statemachine.ResultIgnore, nil
		}
		if s.queueRetryTimer != nil {
			s.queueRetryTimer.Stop()
			s.queueRetryTimer = nil
		}
		if err := s.registerSelf(); err != nil {
			return statemachine.ResultNoChange, err
		}
		return statemachine.ResultNextState, nil
	}
	return statemachine.ResultIgnore, nil
}

// ---- Registering ----

type registeringState struct{ base }

func (st registeringState) Id() uint8 { return StateRegistering }
func (st registeringState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeServerStart) || t == msgPeerDisconnected || st.commonAccepts(t)
}
func (st registeringState) StorePacket(uint8) bool   { return false }
func (st registeringState) RestartPacket(uint8) bool { return false }
func (st registeringState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
	s := st.s
	if handled, result, err := st.commonProcess(t, payload); handled {
		return result, err
	}

	switch t {
	case msgPeerDisconnected:
		s.restart("lost connection to target server before registering")
		return statemachine.ResultRestart, nil

	case uint8(wire.TypeServerStart):
		if sender != s.target.String() {
			return statemachine.ResultIgnore, nil
		}
		start, err := wire.DecodeServerStart(payload, wire.SplitEnvelope)
		if err != nil {
			return statemachine.ResultIgnore, nil
		}
		if err := s.adoptServerStart(start); err != nil {
			return statemachine.ResultIgnore, nil
		}
		return statemachine.ResultNextState, nil
	}
	return statemachine.ResultIgnore, nil
}

// ---- Communicating ----

type communicatingState struct{ base }

func (st communicatingState) Id() uint8 { return StateCommunicating }
func (st communicatingState) Accepts(t uint8) bool {
	return t == uint8(wire.TypeSessionData) || t == msgRoundFinished || st.commonAccepts(t)
}
func (st communicatingState) StorePacket(uint8) bool   { return false }
func (st communicatingState) RestartPacket(uint8) bool { return false }
func (st communicatingState) ProcessPacket(sender string, t uint8, payload []byte) (statemachine.ProcessResult, error) {
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
			s.Log.Warn("client: round ProcessPacket failed", logger.String("client", s.Shared.LocalId.String()), logger.Error(err))
		}
	}
	return statemachine.ResultNoChange, nil
}
