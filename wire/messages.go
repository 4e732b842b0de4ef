package wire

import (
	"fmt"

	"github.com/dissent-net/dissent/identity"
)

// MessageType tags one of the eleven protocol messages: the ten
// negotiation messages plus SessionData.
type MessageType uint8

const (
	TypeServerInit MessageType = iota + 1
	TypeServerEnlist
	TypeServerAgree
	TypeServerQueued
	TypeClientQueue
	TypeClientRegister
	TypeServerList
	TypeServerVerifyList
	TypeServerStart
	TypeServerStop
	TypeSessionData
)

// NonceSize is the fixed length of the Init/Queue nonce.
const NonceSize = 16

// GroupIdSize is the fixed length of ServerInit's group identifier.
const GroupIdSize = 16

// RoundId is the deterministic per-epoch identifier derived by hashing
// the concatenation of all ServerEnlist payloads in server-roster order.
type RoundId [32]byte

// Bytes returns a copy of the round id's bytes.
func (r RoundId) Bytes() []byte {
	out := make([]byte, len(r))
	copy(out, r[:])
	return out
}

// IsZero reports whether r is the unset round id.
func (r RoundId) IsZero() bool {
	return r == RoundId{}
}

func (t MessageType) String() string {
	switch t {
	case TypeServerInit:
		return "ServerInit"
	case TypeServerEnlist:
		return "ServerEnlist"
	case TypeServerAgree:
		return "ServerAgree"
	case TypeServerQueued:
		return "ServerQueued"
	case TypeClientQueue:
		return "ClientQueue"
	case TypeClientRegister:
		return "ClientRegister"
	case TypeServerList:
		return "ServerList"
	case TypeServerVerifyList:
		return "ServerVerifyList"
	case TypeServerStart:
		return "ServerStart"
	case TypeServerStop:
		return "ServerStop"
	case TypeSessionData:
		return "SessionData"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// ---- ServerInit ----

// ServerInit is the proposer's announcement that a new epoch is starting.
type ServerInit struct {
	SenderId  identity.Id
	Nonce     [NonceSize]byte
	Timestamp int64
	GroupId   [GroupIdSize]byte
}

func (m ServerInit) EncodePayload() []byte {
	w := NewWriter()
	w.Fixed(m.SenderId[:])
	w.Fixed(m.Nonce[:])
	w.Int64(m.Timestamp)
	w.Fixed(m.GroupId[:])
	return w.Out()
}

func DecodeServerInit(payload []byte) (ServerInit, error) {
	r := NewReader(payload)
	var m ServerInit
	copy(m.SenderId[:], r.Fixed(identity.Size))
	copy(m.Nonce[:], r.Fixed(NonceSize))
	m.Timestamp = r.Int64()
	copy(m.GroupId[:], r.Fixed(GroupIdSize))
	if err := r.Err(); err != nil {
		return ServerInit{}, err
	}
	if !r.AtEnd() {
		return ServerInit{}, fmt.Errorf("wire: ServerInit has trailing bytes")
	}
	return m, nil
}

// ---- ServerEnlist ----

// ServerEnlist carries the Init it is based on plus the sender's
// per-epoch ephemeral key material.
type ServerEnlist struct {
	SenderId         identity.Id
	InitPacket       []byte // the full encoded (payload||signature) Init envelope
	EphemeralPubKey  []byte
	OptionalMaterial []byte
}

func (m ServerEnlist) EncodePayload() []byte {
	w := NewWriter()
	w.Fixed(m.SenderId[:])
	w.Bytes(m.InitPacket)
	w.Bytes(m.EphemeralPubKey)
	w.Bytes(m.OptionalMaterial)
	return w.Out()
}

func DecodeServerEnlist(payload []byte) (ServerEnlist, error) {
	r := NewReader(payload)
	var m ServerEnlist
	copy(m.SenderId[:], r.Fixed(identity.Size))
	m.InitPacket = r.Bytes()
	m.EphemeralPubKey = r.Bytes()
	m.OptionalMaterial = r.Bytes()
	if err := r.Err(); err != nil {
		return ServerEnlist{}, err
	}
	if !r.AtEnd() {
		return ServerEnlist{}, fmt.Errorf("wire: ServerEnlist has trailing bytes")
	}
	return m, nil
}

// ---- ServerAgree ----

// ServerAgree is a server's signed commitment to the derived round id and
// its own ephemeral/round material.
type ServerAgree struct {
	SenderId         identity.Id
	RoundId          RoundId
	EphemeralPubKey  []byte
	OptionalMaterial []byte
}

func (m ServerAgree) EncodePayload() []byte {
	w := NewWriter()
	w.Fixed(m.SenderId[:])
	w.Fixed(m.RoundId[:])
	w.Bytes(m.EphemeralPubKey)
	w.Bytes(m.OptionalMaterial)
	return w.Out()
}

func DecodeServerAgree(payload []byte) (ServerAgree, error) {
	r := NewReader(payload)
	var m ServerAgree
	copy(m.SenderId[:], r.Fixed(identity.Size))
	copy(m.RoundId[:], r.Fixed(32))
	m.EphemeralPubKey = r.Bytes()
	m.OptionalMaterial = r.Bytes()
	if err := r.Err(); err != nil {
		return ServerAgree{}, err
	}
	if !r.AtEnd() {
		return ServerAgree{}, fmt.Errorf("wire: ServerAgree has trailing bytes")
	}
	return m, nil
}

// ---- ClientQueue ----

// ClientQueue is a nonce-only probe a client sends to discover the
// current server roster. It is never signed.
type ClientQueue struct {
	ClientNonce [NonceSize]byte
}

func (m ClientQueue) Encode() []byte {
	w := NewWriter()
	w.Fixed(m.ClientNonce[:])
	return w.Out()
}

func DecodeClientQueue(payload []byte) (ClientQueue, error) {
	r := NewReader(payload)
	var m ClientQueue
	copy(m.ClientNonce[:], r.Fixed(NonceSize))
	if err := r.Err(); err != nil {
		return ClientQueue{}, err
	}
	if !r.AtEnd() {
		return ClientQueue{}, fmt.Errorf("wire: ClientQueue has trailing bytes")
	}
	return m, nil
}

// ---- ServerQueued ----

// ServerQueued answers a ClientQueue with the full current ServerAgree
// list so the client can adopt the round id and validate every server.
type ServerQueued struct {
	AgreeList       []ServerAgree
	ClientNonce     [NonceSize]byte
	AgreeListBytes  []byte // precomputed serialization of AgreeList; ServerQueued is sent unsigned
}

func (m ServerQueued) Encode() []byte {
	w := NewWriter()
	w.Bytes(EncodeAgreeList(m.AgreeList))
	w.Fixed(m.ClientNonce[:])
	w.Bytes(m.AgreeListBytes)
	return w.Out()
}

func DecodeServerQueued(payload []byte) (ServerQueued, error) {
	r := NewReader(payload)
	var m ServerQueued
	listBytes := r.Bytes()
	copy(m.ClientNonce[:], r.Fixed(NonceSize))
	m.AgreeListBytes = r.Bytes()
	if err := r.Err(); err != nil {
		return ServerQueued{}, err
	}
	if !r.AtEnd() {
		return ServerQueued{}, fmt.Errorf("wire: ServerQueued has trailing bytes")
	}
	list, err := DecodeAgreeList(listBytes)
	if err != nil {
		return ServerQueued{}, err
	}
	m.AgreeList = list
	return m, nil
}

// EncodeAgreeList serializes a []ServerAgree deterministically (by the
// order given — callers that need a canonical order must sort first).
func EncodeAgreeList(list []ServerAgree) []byte {
	w := NewWriter()
	w.Uint32(uint32(len(list)))
	for _, a := range list {
		w.Bytes(a.EncodePayload())
	}
	return w.Out()
}

// DecodeAgreeList parses the output of EncodeAgreeList.
func DecodeAgreeList(b []byte) ([]ServerAgree, error) {
	r := NewReader(b)
	n := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	out := make([]ServerAgree, 0, n)
	for i := uint32(0); i < n; i++ {
		payload := r.Bytes()
		if err := r.Err(); err != nil {
			return nil, err
		}
		a, err := DecodeServerAgree(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("wire: agree list has trailing bytes")
	}
	return out, nil
}

// ---- ClientRegister ----

// ClientRegister is a client's signed admission request for the current
// epoch.
type ClientRegister struct {
	SenderId         identity.Id
	RoundId          RoundId
	EphemeralPubKey  []byte
	OptionalMaterial []byte
}

func (m ClientRegister) EncodePayload() []byte {
	w := NewWriter()
	w.Fixed(m.SenderId[:])
	w.Fixed(m.RoundId[:])
	w.Bytes(m.EphemeralPubKey)
	w.Bytes(m.OptionalMaterial)
	return w.Out()
}

func DecodeClientRegister(payload []byte) (ClientRegister, error) {
	r := NewReader(payload)
	var m ClientRegister
	copy(m.SenderId[:], r.Fixed(identity.Size))
	copy(m.RoundId[:], r.Fixed(32))
	m.EphemeralPubKey = r.Bytes()
	m.OptionalMaterial = r.Bytes()
	if err := r.Err(); err != nil {
		return ClientRegister{}, err
	}
	if !r.AtEnd() {
		return ClientRegister{}, fmt.Errorf("wire: ClientRegister has trailing bytes")
	}
	return m, nil
}

// RegisterEntry pairs a validated ClientRegister with the signature and
// raw bytes it arrived with, since ServerList/ServerStart both carry the
// signed envelope, not just the parsed fields.
type RegisterEntry struct {
	Register  ClientRegister
	Envelope  []byte // full (payload||signature) ClientRegister envelope
}

// EncodeRegisterList serializes a stably-ordered register list (callers
// sort by Id first to keep dedupe deterministic).
func EncodeRegisterList(list []RegisterEntry) []byte {
	w := NewWriter()
	w.Uint32(uint32(len(list)))
	for _, e := range list {
		w.Bytes(e.Envelope)
	}
	return w.Out()
}

// DecodeRegisterList parses the output of EncodeRegisterList, re-deriving
// Register from each envelope's payload.
func DecodeRegisterList(b []byte, splitEnvelope func([]byte) (payload, sig []byte, err error)) ([]RegisterEntry, error) {
	r := NewReader(b)
	n := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	out := make([]RegisterEntry, 0, n)
	for i := uint32(0); i < n; i++ {
		env := r.Bytes()
		if err := r.Err(); err != nil {
			return nil, err
		}
		payload, _, err := splitEnvelope(env)
		if err != nil {
			return nil, err
		}
		reg, err := DecodeClientRegister(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, RegisterEntry{Register: reg, Envelope: env})
	}
	if !r.AtEnd() {
		return nil, fmt.Errorf("wire: register list has trailing bytes")
	}
	return out, nil
}

// ---- ServerList ----

// ServerList ships one server's locally-admitted registrations to its
// peers for merge-dedupe.
type ServerList struct {
	Registrations []RegisterEntry
}

func (m ServerList) EncodePayload() []byte {
	w := NewWriter()
	w.Bytes(EncodeRegisterList(m.Registrations))
	return w.Out()
}

func DecodeServerList(payload []byte, splitEnvelope func([]byte) (p, s []byte, err error)) (ServerList, error) {
	r := NewReader(payload)
	listBytes := r.Bytes()
	if err := r.Err(); err != nil {
		return ServerList{}, err
	}
	if !r.AtEnd() {
		return ServerList{}, fmt.Errorf("wire: ServerList has trailing bytes")
	}
	regs, err := DecodeRegisterList(listBytes, splitEnvelope)
	if err != nil {
		return ServerList{}, err
	}
	return ServerList{Registrations: regs}, nil
}

// ---- ServerVerifyList ----

// ServerVerifyList is a server's signature over the hash of the merged,
// stably-ordered register list. It is transported as payload bytes
// directly; trust derives from the embedded signature, not an envelope.
type ServerVerifyList struct {
	SenderId  identity.Id
	ListHash  [32]byte
	Signature []byte
}

func (m ServerVerifyList) Encode() []byte {
	w := NewWriter()
	w.Fixed(m.SenderId[:])
	w.Fixed(m.ListHash[:])
	w.Bytes(m.Signature)
	return w.Out()
}

// SignedBytes returns the bytes the signature commits to.
func (m ServerVerifyList) SignedBytes() []byte {
	w := NewWriter()
	w.Fixed(m.SenderId[:])
	w.Fixed(m.ListHash[:])
	return w.Out()
}

func DecodeServerVerifyList(payload []byte) (ServerVerifyList, error) {
	r := NewReader(payload)
	var m ServerVerifyList
	copy(m.SenderId[:], r.Fixed(identity.Size))
	copy(m.ListHash[:], r.Fixed(32))
	m.Signature = r.Bytes()
	if err := r.Err(); err != nil {
		return ServerVerifyList{}, err
	}
	if !r.AtEnd() {
		return ServerVerifyList{}, fmt.Errorf("wire: ServerVerifyList has trailing bytes")
	}
	return m, nil
}

// ---- ServerStart ----

// ServerStart delivers the final merged register list plus the full
// N-signature bundle to admitted clients. Transported as payload bytes
// directly; trust derives from the embedded per-server signatures.
type ServerStart struct {
	Registrations []RegisterEntry
	Signatures    []ServerVerifyList
}

func (m ServerStart) Encode() []byte {
	w := NewWriter()
	w.Bytes(EncodeRegisterList(m.Registrations))
	w.Uint32(uint32(len(m.Signatures)))
	for _, s := range m.Signatures {
		w.Bytes(s.Encode())
	}
	return w.Out()
}

func DecodeServerStart(payload []byte, splitEnvelope func([]byte) (p, s []byte, err error)) (ServerStart, error) {
	r := NewReader(payload)
	listBytes := r.Bytes()
	n := r.Uint32()
	if err := r.Err(); err != nil {
		return ServerStart{}, err
	}
	sigs := make([]ServerVerifyList, 0, n)
	for i := uint32(0); i < n; i++ {
		b := r.Bytes()
		if err := r.Err(); err != nil {
			return ServerStart{}, err
		}
		sig, err := DecodeServerVerifyList(b)
		if err != nil {
			return ServerStart{}, err
		}
		sigs = append(sigs, sig)
	}
	if !r.AtEnd() {
		return ServerStart{}, fmt.Errorf("wire: ServerStart has trailing bytes")
	}
	regs, err := DecodeRegisterList(listBytes, splitEnvelope)
	if err != nil {
		return ServerStart{}, err
	}
	return ServerStart{Registrations: regs, Signatures: sigs}, nil
}

// ---- ServerStop ----

// ServerStop is an authoritative epoch/round termination signal.
type ServerStop struct {
	RoundId   RoundId
	Immediate bool
	Reason    string
}

func (m ServerStop) EncodePayload() []byte {
	w := NewWriter()
	w.Fixed(m.RoundId[:])
	w.Bool(m.Immediate)
	w.String(m.Reason)
	return w.Out()
}

func DecodeServerStop(payload []byte) (ServerStop, error) {
	r := NewReader(payload)
	var m ServerStop
	copy(m.RoundId[:], r.Fixed(32))
	m.Immediate = r.Bool()
	m.Reason = r.String()
	if err := r.Err(); err != nil {
		return ServerStop{}, err
	}
	if !r.AtEnd() {
		return ServerStop{}, fmt.Errorf("wire: ServerStop has trailing bytes")
	}
	return m, nil
}
