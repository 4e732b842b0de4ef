// Package round defines the pluggable anonymity-round collaborator the
// session hands application data to once a roster is final, plus the
// trivial NullRound used when no real anonymization layer is wired in.
package round

import "github.com/dissent-net/dissent/identity"

// FinishedFunc is invoked exactly once, when a round concludes. If
// successful is false, the session rewinds its send-queue cursor so
// whatever the round did not deliver rides the next epoch.
type FinishedFunc func(successful bool, reason string)

// Round is the session's anonymization-layer collaborator. The session
// calls Start exactly once per epoch, forwards every inbound
// session-data packet to ProcessPacket, and observes Finished.
type Round interface {
	// Start begins transmission. Must be called only after the server
	// and client rosters for this epoch are final.
	Start() error
	// ProcessPacket delivers one inbound SessionData payload from sender.
	ProcessPacket(sender identity.Id, payload []byte) error
	// Stop externally terminates the round before it finishes on its own.
	Stop(reason string)
	// OnFinished registers the callback invoked when the round
	// concludes, successfully or not. Only one callback is kept; a
	// later call replaces an earlier one.
	OnFinished(fn FinishedFunc)
	// Successful reports the round's outcome. Meaningful only once
	// OnFinished's callback has fired.
	Successful() bool
}
