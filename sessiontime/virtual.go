package sessiontime

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a manually-advanced Timer for deterministic tests.
// Advance(d) fires, in deadline order, every scheduled callback whose
// deadline has now passed.
type Virtual struct {
	mu      sync.Mutex
	now     time.Duration
	pending []*virtualHandle
	seq     int
}

// NewVirtual returns a Virtual clock starting at time zero.
func NewVirtual() *Virtual {
	return &Virtual{}
}

type virtualHandle struct {
	deadline time.Duration
	seq      int
	fn       func()
	fired    bool
	stopped  bool
}

func (h *virtualHandle) Stop() bool {
	if h.fired || h.stopped {
		return false
	}
	h.stopped = true
	return true
}

func (v *Virtual) After(d time.Duration, fn func()) TimerHandle {
	v.mu.Lock()
	defer v.mu.Unlock()

	h := &virtualHandle{deadline: v.now + d, seq: v.seq, fn: fn}
	v.seq++
	v.pending = append(v.pending, h)
	return h
}

// Now returns the virtual clock's current time, as an offset from
// whenever the clock was created.
func (v *Virtual) Now() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// Advance moves the clock forward by d and fires, in deadline order
// (ties broken by scheduling order), every callback whose deadline is
// now at or before the new time. A callback that schedules another
// callback during Advance will have that new callback considered too,
// since real timer chains (e.g. a retry loop) must behave the same way
// under virtual and real time: each callback runs with the clock set to
// its own deadline, so a follow-up it schedules is timed from there.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	cur := v.now
	target := v.now + d
	v.mu.Unlock()

	for {
		v.mu.Lock()
		v.now = target
		due := v.dueLocked()
		if due == nil {
			v.mu.Unlock()
			return
		}
		due.fired = true
		v.removeLocked(due)
		if due.deadline > cur {
			cur = due.deadline
		}
		v.now = cur
		v.mu.Unlock()

		due.fn()
	}
}

func (v *Virtual) dueLocked() *virtualHandle {
	sort.SliceStable(v.pending, func(i, j int) bool {
		if v.pending[i].deadline != v.pending[j].deadline {
			return v.pending[i].deadline < v.pending[j].deadline
		}
		return v.pending[i].seq < v.pending[j].seq
	})
	for _, h := range v.pending {
		if h.stopped {
			continue
		}
		if h.deadline <= v.now {
			return h
		}
		break
	}
	return nil
}

func (v *Virtual) removeLocked(target *virtualHandle) {
	out := v.pending[:0]
	for _, h := range v.pending {
		if h != target {
			out = append(out, h)
		}
	}
	v.pending = out
}
