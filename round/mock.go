package round

import (
	"sync"

	"github.com/dissent-net/dissent/identity"
)

// Mock is a scriptable Round for session-level tests that want to
// control exactly when and how a round finishes, without depending on
// NullRound's roster-completeness logic.
type Mock struct {
	// StartFunc, if set, is called by Start. If nil, Start succeeds
	// and does nothing.
	StartFunc func() error
	// ProcessFunc, if set, is called by ProcessPacket. If nil,
	// incoming packets are captured and otherwise ignored.
	ProcessFunc func(sender identity.Id, payload []byte) error

	mu             sync.Mutex
	started        bool
	stopped        bool
	stopReason     string
	processed      []mockPacket
	onFinished     FinishedFunc
	successful     bool
}

type mockPacket struct {
	sender  identity.Id
	payload []byte
}

func (m *Mock) Start() error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()
	if m.StartFunc != nil {
		return m.StartFunc()
	}
	return nil
}

func (m *Mock) ProcessPacket(sender identity.Id, payload []byte) error {
	m.mu.Lock()
	m.processed = append(m.processed, mockPacket{sender: sender, payload: payload})
	m.mu.Unlock()
	if m.ProcessFunc != nil {
		return m.ProcessFunc(sender, payload)
	}
	return nil
}

func (m *Mock) Stop(reason string) {
	m.mu.Lock()
	m.stopped = true
	m.stopReason = reason
	m.mu.Unlock()
}

func (m *Mock) OnFinished(fn FinishedFunc) {
	m.mu.Lock()
	m.onFinished = fn
	m.mu.Unlock()
}

func (m *Mock) Successful() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.successful
}

// Finish lets a test drive the round to completion, invoking whatever
// callback OnFinished registered.
func (m *Mock) Finish(successful bool, reason string) {
	m.mu.Lock()
	m.successful = successful
	fn := m.onFinished
	m.mu.Unlock()
	if fn != nil {
		fn(successful, reason)
	}
}

// Started reports whether Start has been called.
func (m *Mock) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Stopped reports whether Stop has been called, and with what reason.
func (m *Mock) Stopped() (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped, m.stopReason
}

// Processed returns every (sender, payload) ProcessPacket has received.
func (m *Mock) Processed() []struct {
	Sender  identity.Id
	Payload []byte
} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]struct {
		Sender  identity.Id
		Payload []byte
	}, len(m.processed))
	for i, p := range m.processed {
		out[i] = struct {
			Sender  identity.Id
			Payload []byte
		}{Sender: p.sender, Payload: p.payload}
	}
	return out
}
