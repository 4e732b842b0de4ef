package sessiontime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVirtualFiresDueCallbacksInOrder(t *testing.T) {
	v := NewVirtual()
	var order []string

	v.After(10*time.Second, func() { order = append(order, "first") })
	v.After(5*time.Second, func() { order = append(order, "second") })

	v.Advance(4 * time.Second)
	require.Empty(t, order)

	v.Advance(1 * time.Second) // now at 5s
	require.Equal(t, []string{"second"}, order)

	v.Advance(10 * time.Second) // now at 15s
	require.Equal(t, []string{"second", "first"}, order)
}

func TestVirtualStopPreventsFiring(t *testing.T) {
	v := NewVirtual()
	var fired bool
	h := v.After(1*time.Second, func() { fired = true })

	require.True(t, h.Stop())
	v.Advance(2 * time.Second)
	require.False(t, fired)

	require.False(t, h.Stop())
}

func TestVirtualChainedSchedulingFiresWithinSameAdvance(t *testing.T) {
	v := NewVirtual()
	var fired []string
	v.After(1*time.Second, func() {
		fired = append(fired, "a")
		v.After(1*time.Second, func() { fired = append(fired, "b") })
	})

	v.Advance(5 * time.Second)
	require.Equal(t, []string{"a", "b"}, fired)
}
