package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	stateA uint8 = iota
	stateB
	stateC
)

const (
	msgToB uint8 = iota + 1
	msgToC
	msgRestart
)

type recordingState struct {
	id        uint8
	wants     uint8
	processed *[]string
	name      string
}

func (s recordingState) Id() uint8 { return s.id }
func (s recordingState) Accepts(t uint8) bool {
	return t == s.wants
}
func (s recordingState) StorePacket(t uint8) bool {
	return s.id == stateA && t == msgToC
}
func (s recordingState) RestartPacket(t uint8) bool {
	return t == msgRestart
}
func (s recordingState) ProcessPacket(sender string, t uint8, payload []byte) (ProcessResult, error) {
	*s.processed = append(*s.processed, s.name)
	return ResultNextState, nil
}

func newDriver(processed *[]string) *Driver {
	d := NewDriver()
	d.AddState(stateA, func() State { return recordingState{id: stateA, wants: msgToB, processed: processed, name: "A"} })
	d.AddState(stateB, func() State { return recordingState{id: stateB, wants: msgToC, processed: processed, name: "B"} })
	d.AddState(stateC, func() State { return recordingState{id: stateC, wants: 255, processed: processed, name: "C"} })
	d.AddTransition(stateA, stateB)
	d.AddTransition(stateB, stateC)
	d.SetInitial(stateA)
	return d
}

func TestDispatchProcessesMatchingType(t *testing.T) {
	var processed []string
	d := newDriver(&processed)

	require.NoError(t, d.Dispatch("peer1", msgToB, nil))
	require.Equal(t, []string{"A"}, processed)
	require.Equal(t, stateB, d.Current().Id())
}

func TestDispatchStoresAndReplaysOnTransition(t *testing.T) {
	var processed []string
	d := newDriver(&processed)

	require.NoError(t, d.Dispatch("peer1", msgToC, []byte("early")))
	require.Empty(t, processed)
	require.Equal(t, stateA, d.Current().Id())

	require.NoError(t, d.Dispatch("peer1", msgToB, nil))
	require.Equal(t, []string{"A", "B"}, processed)
	require.Equal(t, stateC, d.Current().Id())
}

func TestDispatchIgnoresUnrelatedType(t *testing.T) {
	var processed []string
	d := newDriver(&processed)

	require.NoError(t, d.Dispatch("peer1", 99, nil))
	require.Empty(t, processed)
	require.Equal(t, stateA, d.Current().Id())
}

func TestDispatchRestartReturnsToInitialAndDropsStorage(t *testing.T) {
	var processed []string
	d := newDriver(&processed)

	require.NoError(t, d.Dispatch("peer1", msgToC, []byte("stored")))
	require.NoError(t, d.Dispatch("peer1", msgRestart, nil))
	require.Equal(t, stateA, d.Current().Id())

	require.NoError(t, d.Dispatch("peer1", msgToB, nil))
	require.Equal(t, []string{"A"}, processed)
}

func TestSetInitialPanicsOnUnregisteredState(t *testing.T) {
	d := NewDriver()
	require.Panics(t, func() { d.SetInitial(stateA) })
}

func TestAdvanceErrorsOnMissingTransition(t *testing.T) {
	var processed []string
	d := NewDriver()
	d.AddState(stateA, func() State { return recordingState{id: stateA, wants: msgToB, processed: &processed, name: "A"} })
	d.SetInitial(stateA)

	err := d.Dispatch("peer1", msgToB, nil)
	require.Error(t, err)
}
