package sessiontime

import "time"

// Real is a Timer backed by time.AfterFunc, for production use.
type Real struct{}

// NewReal returns a Real timer.
func NewReal() Real {
	return Real{}
}

func (Real) After(d time.Duration, fn func()) TimerHandle {
	return time.AfterFunc(d, fn)
}
