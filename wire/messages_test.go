package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dissent-net/dissent/identity"
)

func mkId(b byte) identity.Id {
	var id identity.Id
	id[0] = b
	return id
}

func TestServerInitRoundTrip(t *testing.T) {
	m := ServerInit{
		SenderId:  mkId(7),
		Timestamp: 1234567890123,
	}
	copy(m.Nonce[:], []byte("0123456789abcdef"))
	copy(m.GroupId[:], []byte("groupidgroupid12"))

	got, err := DecodeServerInit(m.EncodePayload())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestServerEnlistRoundTrip(t *testing.T) {
	m := ServerEnlist{
		SenderId:         mkId(3),
		InitPacket:       []byte("init-envelope-bytes"),
		EphemeralPubKey:  []byte("eph-pub"),
		OptionalMaterial: nil,
	}
	got, err := DecodeServerEnlist(m.EncodePayload())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestServerAgreeRoundTrip(t *testing.T) {
	m := ServerAgree{
		SenderId:         mkId(9),
		EphemeralPubKey:  []byte("eph-pub-2"),
		OptionalMaterial: []byte("opt"),
	}
	copy(m.RoundId[:], []byte("roundidroundidroundidroundid123"))
	got, err := DecodeServerAgree(m.EncodePayload())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestClientQueueRoundTrip(t *testing.T) {
	m := ClientQueue{}
	copy(m.ClientNonce[:], []byte("clientnonce12345"))
	got, err := DecodeClientQueue(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestServerQueuedRoundTrip(t *testing.T) {
	a1 := ServerAgree{SenderId: mkId(1), EphemeralPubKey: []byte("k1")}
	a2 := ServerAgree{SenderId: mkId(2), EphemeralPubKey: []byte("k2")}
	m := ServerQueued{
		AgreeList:      []ServerAgree{a1, a2},
		AgreeListBytes: EncodeAgreeList([]ServerAgree{a1, a2}),
	}
	copy(m.ClientNonce[:], []byte("clientnonce67890"))

	got, err := DecodeServerQueued(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m.ClientNonce, got.ClientNonce)
	require.Equal(t, m.AgreeListBytes, got.AgreeListBytes)
	require.Equal(t, m.AgreeList, got.AgreeList)
}

func TestClientRegisterRoundTrip(t *testing.T) {
	m := ClientRegister{
		SenderId:         mkId(4),
		EphemeralPubKey:  []byte("client-eph"),
		OptionalMaterial: []byte("mat"),
	}
	copy(m.RoundId[:], []byte("roundidroundidroundidroundid456"))
	got, err := DecodeClientRegister(m.EncodePayload())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func signedRegisterEnvelope(t *testing.T, reg ClientRegister) RegisterEntry {
	t.Helper()
	env, err := Sign(TypeClientRegister, reg.EncodePayload(), func(msg []byte) ([]byte, error) {
		return []byte("sig-for-" + string(msg[:4])), nil
	})
	require.NoError(t, err)
	return RegisterEntry{Register: reg, Envelope: env.Encode()}
}

func TestServerListRoundTrip(t *testing.T) {
	r1 := ClientRegister{SenderId: mkId(1), EphemeralPubKey: []byte("a")}
	r2 := ClientRegister{SenderId: mkId(2), EphemeralPubKey: []byte("b")}
	m := ServerList{Registrations: []RegisterEntry{
		signedRegisterEnvelope(t, r1),
		signedRegisterEnvelope(t, r2),
	}}

	got, err := DecodeServerList(m.EncodePayload(), SplitEnvelope)
	require.NoError(t, err)
	require.Len(t, got.Registrations, 2)
	require.Equal(t, r1, got.Registrations[0].Register)
	require.Equal(t, r2, got.Registrations[1].Register)
}

func TestServerVerifyListRoundTrip(t *testing.T) {
	m := ServerVerifyList{SenderId: mkId(5), Signature: []byte("sig")}
	copy(m.ListHash[:], []byte("listhashlisthashlisthashlisthas"))
	got, err := DecodeServerVerifyList(m.Encode())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestServerStartRoundTrip(t *testing.T) {
	r1 := ClientRegister{SenderId: mkId(1), EphemeralPubKey: []byte("a")}
	vl := ServerVerifyList{SenderId: mkId(9), Signature: []byte("s1")}
	copy(vl.ListHash[:], []byte("listhashlisthashlisthashlisthas"))

	m := ServerStart{
		Registrations: []RegisterEntry{signedRegisterEnvelope(t, r1)},
		Signatures:    []ServerVerifyList{vl},
	}
	got, err := DecodeServerStart(m.Encode(), SplitEnvelope)
	require.NoError(t, err)
	require.Len(t, got.Registrations, 1)
	require.Equal(t, r1, got.Registrations[0].Register)
	require.Equal(t, []ServerVerifyList{vl}, got.Signatures)
}

func TestServerStopRoundTrip(t *testing.T) {
	m := ServerStop{Immediate: true, Reason: "proposer requested restart"}
	copy(m.RoundId[:], []byte("roundidroundidroundidroundid789"))
	got, err := DecodeServerStop(m.EncodePayload())
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	e, err := Sign(TypeServerStop, []byte("payload-bytes"), func(msg []byte) ([]byte, error) {
		return []byte("signature-bytes"), nil
	})
	require.NoError(t, err)

	got, err := DecodeEnvelope(e.Encode())
	require.NoError(t, err)
	require.Equal(t, e, got)

	require.NoError(t, got.Verify(func(msg, sig []byte) error {
		require.Equal(t, []byte("payload-bytes"), msg)
		require.Equal(t, []byte("signature-bytes"), sig)
		return nil
	}))
}

func TestMessageTypeString(t *testing.T) {
	require.Equal(t, "ServerInit", TypeServerInit.String())
	require.Equal(t, "SessionData", TypeSessionData.String())
	require.Contains(t, MessageType(250).String(), "Unknown")
}
