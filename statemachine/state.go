// Package statemachine is a small, generic port of the session FSM used
// throughout the protocol: a fixed set of named states, a transition
// table between them, and a deferred-message buffer for packets that
// arrive before the state that wants them is current.
package statemachine

// Classification is what a Driver does with an inbound packet before
// handing it to the current state's ProcessPacket.
type Classification int

const (
	// ClassifyProcess means the packet matches the current state's
	// expected message type and should be processed immediately.
	ClassifyProcess Classification = iota
	// ClassifyStore means the packet is for a later state; it is
	// buffered and replayed once the driver transitions.
	ClassifyStore
	// ClassifyRestart means the packet indicates the current epoch
	// must be abandoned and the driver reset to its initial state.
	ClassifyRestart
	// ClassifyIgnore means the packet is irrelevant in the current
	// state and is silently dropped.
	ClassifyIgnore
)

// ProcessResult is what ProcessPacket reports happened.
type ProcessResult int

const (
	// ResultNoChange means the state consumed the packet without
	// completing; the driver stays put.
	ResultNoChange ProcessResult = iota
	// ResultNextState means the state is complete; the driver should
	// transition per the transition table and replay stored packets.
	ResultNextState
	// ResultRestart means the state detected a condition requiring a
	// full reset to the initial state, discarding stored packets.
	ResultRestart
	// ResultIgnore means, in hindsight, the packet should be dropped.
	ResultIgnore
)

// State is one node in the driver's transition graph. Id is fixed for
// the lifetime of the state (a fresh State value is constructed on
// every transition, never reused).
type State interface {
	// Id returns this state's unique identifier within the driver.
	Id() uint8
	// Accepts reports whether this state is prepared to ProcessPacket
	// a message of msgType right now. Most states accept exactly one
	// type; a few (e.g. Registering, which answers both ClientQueue
	// and ClientRegister) accept more than one.
	Accepts(msgType uint8) bool
	// StorePacket reports whether a packet of msgType, not accepted
	// right now, should be buffered for a later state rather than
	// ignored or treated as a restart signal.
	StorePacket(msgType uint8) bool
	// RestartPacket reports whether a packet of msgType should abort
	// the current epoch and restart the driver from its initial state.
	RestartPacket(msgType uint8) bool
	// ProcessPacket handles a packet already classified as
	// ClassifyProcess. sender identifies the peer the packet arrived
	// from; payload is the packet's undecoded body.
	ProcessPacket(sender string, msgType uint8, payload []byte) (ProcessResult, error)
}

// Factory constructs a fresh State value when the driver enters it.
type Factory func() State

// DynamicState is implemented by states whose successor is decided at
// runtime rather than by a single static transition-table entry (e.g.
// WaitingForServersAndInit, which forks to WaitingForInit or
// WaitingForServers depending on which condition is still outstanding).
// NextStateId is only consulted immediately after ProcessPacket returns
// ResultNextState.
type DynamicState interface {
	State
	NextStateId() uint8
}

// Classify applies the driver's default CheckPacket logic: an exact
// message-type match processes immediately, otherwise the state is
// asked whether to store or restart, and anything left over is ignored.
func Classify(s State, msgType uint8) Classification {
	switch {
	case s.Accepts(msgType):
		return ClassifyProcess
	case s.StorePacket(msgType):
		return ClassifyStore
	case s.RestartPacket(msgType):
		return ClassifyRestart
	default:
		return ClassifyIgnore
	}
}
