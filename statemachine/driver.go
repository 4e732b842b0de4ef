package statemachine

import "fmt"

type deferredPacket struct {
	sender  string
	msgType uint8
	payload []byte
}

// Driver owns the registered states, the transition table between
// them, and the current state. It is not safe for concurrent use; every
// session (server or client) funnels packets through its own Driver on
// a single goroutine, per the session façade's event loop.
type Driver struct {
	states      map[uint8]Factory
	transitions map[uint8]uint8
	current     State
	initial     uint8
	hasInitial  bool
	storage     []deferredPacket

	// OnTransition, if set, is invoked after every successful state
	// change with the previous and new state ids. Used by the session
	// façade to emit logs and metrics without the driver importing
	// either.
	OnTransition func(from, to uint8)
}

// NewDriver returns an empty Driver. Register states and transitions,
// then call SetInitial before dispatching any packets.
func NewDriver() *Driver {
	return &Driver{
		states:      make(map[uint8]Factory),
		transitions: make(map[uint8]uint8),
	}
}

// AddState registers the factory for state id.
func (d *Driver) AddState(id uint8, f Factory) {
	d.states[id] = f
}

// AddTransition records that completing state `from` moves the driver
// to state `to`.
func (d *Driver) AddTransition(from, to uint8) {
	d.transitions[from] = to
}

// SetInitial sets the state the driver starts in, and the state a
// Restart returns to. It panics if id was never registered with
// AddState, since that is always a wiring bug caught at startup.
func (d *Driver) SetInitial(id uint8) {
	f, ok := d.states[id]
	if !ok {
		panic(fmt.Sprintf("statemachine: SetInitial: state %d not registered", id))
	}
	d.initial = id
	d.hasInitial = true
	d.current = f()
	d.storage = nil
}

// Current returns the driver's current state. It is nil until
// SetInitial has been called.
func (d *Driver) Current() State {
	return d.current
}

// Dispatch classifies and, if appropriate, processes one inbound
// packet. It returns an error only for wiring problems (Dispatch before
// SetInitial, or no transition registered from the completed state) or
// an error surfaced by ProcessPacket; a packet that is stored or
// ignored is not an error. A transition to an unregistered state panics.
func (d *Driver) Dispatch(sender string, msgType uint8, payload []byte) error {
	if !d.hasInitial {
		return fmt.Errorf("statemachine: Dispatch called before SetInitial")
	}

	switch Classify(d.current, msgType) {
	case ClassifyIgnore:
		return nil
	case ClassifyStore:
		d.storage = append(d.storage, deferredPacket{sender: sender, msgType: msgType, payload: payload})
		return nil
	case ClassifyRestart:
		d.restart()
		return nil
	}

	result, err := d.current.ProcessPacket(sender, msgType, payload)
	if err != nil {
		return err
	}

	switch result {
	case ResultNoChange, ResultIgnore:
		return nil
	case ResultRestart:
		d.restart()
		return nil
	case ResultNextState:
		return d.advance()
	default:
		return fmt.Errorf("statemachine: unknown ProcessResult %d", result)
	}
}

// advance transitions from the current state's id to its registered
// target and replays every deferred packet, in arrival order, against
// the new state.
func (d *Driver) advance() error {
	from := d.current.Id()

	var to uint8
	if ds, ok := d.current.(DynamicState); ok {
		to = ds.NextStateId()
	} else {
		t, ok := d.transitions[from]
		if !ok {
			return fmt.Errorf("statemachine: no transition registered from state %d", from)
		}
		to = t
	}
	f, ok := d.states[to]
	if !ok {
		panic(fmt.Sprintf("statemachine: transition target state %d not registered", to))
	}

	d.current = f()
	if d.OnTransition != nil {
		d.OnTransition(from, to)
	}

	pending := d.storage
	d.storage = nil
	for _, p := range pending {
		if err := d.Dispatch(p.sender, p.msgType, p.payload); err != nil {
			return err
		}
	}
	return nil
}

// restart discards every deferred packet and returns to the initial
// state, mirroring the epoch-abandonment behavior required when
// a stale or contradictory message arrives.
func (d *Driver) restart() {
	from := d.current.Id()
	d.storage = nil
	d.current = d.states[d.initial]()
	if d.OnTransition != nil {
		d.OnTransition(from, d.initial)
	}
}
