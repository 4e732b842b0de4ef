package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mkId(b byte) Id {
	var id Id
	id[0] = b
	return id
}

func TestRosterAddAndLookup(t *testing.T) {
	r := &Roster{}
	require.NoError(t, r.Add(Entry{Id: mkId(2), LongTermKey: []byte("k2")}))
	require.NoError(t, r.Add(Entry{Id: mkId(1), LongTermKey: []byte("k1")}))

	require.Equal(t, 2, r.Len())
	e, ok := r.Get(mkId(1))
	require.True(t, ok)
	require.Equal(t, []byte("k1"), e.LongTermKey)

	require.Equal(t, 0, r.IndexOf(mkId(2)))
	require.Equal(t, 1, r.IndexOf(mkId(1)))
	require.Equal(t, -1, r.IndexOf(mkId(9)))
}

func TestRosterRejectsDuplicateId(t *testing.T) {
	r := &Roster{}
	require.NoError(t, r.Add(Entry{Id: mkId(1)}))
	err := r.Add(Entry{Id: mkId(1)})
	require.Error(t, err)
}

func TestRosterProposerIsSmallestId(t *testing.T) {
	r, err := NewRoster([]Entry{
		{Id: mkId(5)},
		{Id: mkId(1)},
		{Id: mkId(9)},
	})
	require.NoError(t, err)

	p, ok := r.Proposer()
	require.True(t, ok)
	require.Equal(t, mkId(1), p)
}

func TestRosterEqualIgnoresInstanceIdentity(t *testing.T) {
	a, err := NewRoster([]Entry{{Id: mkId(1), LongTermKey: []byte("x")}})
	require.NoError(t, err)
	b, err := NewRoster([]Entry{{Id: mkId(1), LongTermKey: []byte("x")}})
	require.NoError(t, err)
	require.True(t, a.Equal(b))

	c, err := NewRoster([]Entry{{Id: mkId(1), LongTermKey: []byte("y")}})
	require.NoError(t, err)
	require.False(t, a.Equal(c))
}

func TestIdCompareAndLess(t *testing.T) {
	a, b := mkId(1), mkId(2)
	require.True(t, a.Less(b))
	require.False(t, b.Less(a))
	require.Equal(t, 0, a.Compare(a))
}

func TestFromPublicKeyIsDeterministic(t *testing.T) {
	pub := []byte("some-long-term-public-key")
	id1 := FromPublicKey(pub)
	id2 := FromPublicKey(pub)
	require.Equal(t, id1, id2)
}

func TestParseIdRejectsWrongLength(t *testing.T) {
	_, err := ParseId([]byte{1, 2, 3})
	require.Error(t, err)

	full := make([]byte, Size)
	id, err := ParseId(full)
	require.NoError(t, err)
	require.True(t, id.IsZero())
}
