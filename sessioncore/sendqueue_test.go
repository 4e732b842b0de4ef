package sessioncore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSendQueueGetRespectsMaxBytesAndSkipsOversized(t *testing.T) {
	q := NewSendQueue()
	q.Add([]byte("aaaa"))
	q.Add([]byte("bbbbbbbbbb")) // 10 bytes, oversized for a 6-byte budget
	q.Add([]byte("cc"))

	var warned []int
	out, more := q.Get(6, func(itemSize, maxBytes int) {
		warned = append(warned, itemSize)
	})

	require.Equal(t, []byte("aaaacc"), out)
	require.False(t, more)
	require.Equal(t, []int{10}, warned)
}

func TestSendQueueUngetReissuesSameBytes(t *testing.T) {
	q := NewSendQueue()
	q.Add([]byte("a"))
	q.Add([]byte("b"))
	q.Add([]byte("c"))

	out1, _ := q.Get(2, nil)
	q.Unget()
	out2, _ := q.Get(2, nil)

	require.Equal(t, out1, out2)
	require.Equal(t, []byte("ab"), out1)
}

func TestSendQueueCommitDropsDeliveredPrefixOnly(t *testing.T) {
	q := NewSendQueue()
	q.Add([]byte("a"))
	q.Add([]byte("b"))
	q.Add([]byte("c"))

	q.Get(2, nil) // delivers "a","b"
	q.Commit()
	require.Equal(t, 1, q.Len())

	out, more := q.Get(10, nil)
	require.Equal(t, []byte("c"), out)
	require.False(t, more)
}

func TestSendQueuePrefixLawAcrossGetUngetGet(t *testing.T) {
	q := NewSendQueue()
	items := [][]byte{[]byte("1"), []byte("22"), []byte("333"), []byte("4444")}
	for _, it := range items {
		q.Add(it)
	}

	first, _ := q.Get(3, nil)
	q.Unget()
	second, _ := q.Get(3, nil)
	require.Equal(t, first, second)

	q.Commit()
	rest, more := q.Get(100, nil)
	require.False(t, more)

	all := append(append([]byte{}, second...), rest...)
	var want []byte
	for _, it := range items {
		want = append(want, it...)
	}
	require.Equal(t, want, all)
}

func TestSendQueueUngetWithoutGetIsNoop(t *testing.T) {
	q := NewSendQueue()
	q.Add([]byte("a"))
	q.Unget()
	out, _ := q.Get(10, nil)
	require.Equal(t, []byte("a"), out)
}
