// Package sessiontime abstracts wall-clock delay behind a Timer
// collaborator, so tests can advance a virtual clock instead of
// sleeping real seconds to exercise the Registering state's admission
// window or a scenario's crash-and-restart delay.
package sessiontime

import "time"

// Timer schedules a single callback to fire after a delay.
type Timer interface {
	// After schedules fn to run once, d after the call, and returns a
	// handle that can cancel it before it fires.
	After(d time.Duration, fn func()) TimerHandle
}

// TimerHandle cancels a scheduled callback.
type TimerHandle interface {
	// Stop prevents the callback from firing if it has not already.
	// It returns false if the callback already fired or was already
	// stopped.
	Stop() bool
}
