// Package identity defines participant identifiers and per-epoch rosters.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the fixed length of an Id in bytes.
const Size = 32

// Id is an opaque, fixed-size participant identifier. It is comparable
// and hashable so it can be used directly as a map key, and has a
// lexicographic order used for proposer election.
type Id [Size]byte

// Zero is the all-zero Id, never a valid participant identifier.
var Zero Id

// FromPublicKey derives an Id from a long-term public key: sha256 of
// the key bytes.
func FromPublicKey(pub []byte) Id {
	sum := sha256.Sum256(pub)
	var id Id
	copy(id[:], sum[:])
	return id
}

// Compare returns -1, 0, or 1 as id is lexicographically less than, equal
// to, or greater than other. Used for proposer election (the server with
// the smallest id is the proposer).
func (id Id) Compare(other Id) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether id sorts before other.
func (id Id) Less(other Id) bool {
	return id.Compare(other) < 0
}

// IsZero reports whether id is the zero value.
func (id Id) IsZero() bool {
	return id == Zero
}

// String renders the id as its full 64-character hex string for logs.
func (id Id) String() string {
	return hex.EncodeToString(id[:])
}

// Bytes returns a fresh copy of the id's bytes.
func (id Id) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// ParseId parses a fixed-size byte slice into an Id.
func ParseId(b []byte) (Id, error) {
	var id Id
	if len(b) != Size {
		return id, fmt.Errorf("identity: bad id length %d, want %d", len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

// ParseHex parses the hex string produced by Id.String back into an Id.
// Session drivers key their deferred-packet storage by this string, so
// states that need the original Id back (e.g. to reply to a client)
// round-trip through this function.
func ParseHex(s string) (Id, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, fmt.Errorf("identity: parse hex id: %w", err)
	}
	return ParseId(b)
}
