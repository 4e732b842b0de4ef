package identity

import "fmt"

// Entry is one participant's roster record: a long-term identity, the
// ephemeral key bound for the current epoch, and whatever opaque round
// material (e.g. BlogDrop commitments) the round layer wants carried
// alongside it.
type Entry struct {
	Id            Id
	LongTermKey   []byte
	EphemeralKey  []byte
	OptionalMaterial []byte
}

// Roster is an ordered, duplicate-free sequence of Entry, indexable both
// by position (order matters for per-entry round indexing) and by Id
// (order does not matter for lookup or for equality).
type Roster struct {
	entries []Entry
	byId    map[Id]int
}

// NewRoster builds a Roster from entries in the given order. It returns
// an error if any Id is duplicated.
func NewRoster(entries []Entry) (*Roster, error) {
	r := &Roster{
		entries: make([]Entry, 0, len(entries)),
		byId:    make(map[Id]int, len(entries)),
	}
	for _, e := range entries {
		if err := r.Add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add appends e to the roster. It is an error to add a duplicate Id.
func (r *Roster) Add(e Entry) error {
	if r.byId == nil {
		r.byId = make(map[Id]int)
	}
	if _, exists := r.byId[e.Id]; exists {
		return fmt.Errorf("identity: duplicate id %s in roster", e.Id)
	}
	r.byId[e.Id] = len(r.entries)
	r.entries = append(r.entries, e)
	return nil
}

// Len returns the number of entries.
func (r *Roster) Len() int {
	if r == nil {
		return 0
	}
	return len(r.entries)
}

// At returns the entry at position i.
func (r *Roster) At(i int) (Entry, bool) {
	if r == nil || i < 0 || i >= len(r.entries) {
		return Entry{}, false
	}
	return r.entries[i], true
}

// IndexOf returns the position of id in the roster, or -1 if absent.
func (r *Roster) IndexOf(id Id) int {
	if r == nil {
		return -1
	}
	idx, ok := r.byId[id]
	if !ok {
		return -1
	}
	return idx
}

// Get returns the entry for id.
func (r *Roster) Get(id Id) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}
	idx, ok := r.byId[id]
	if !ok {
		return Entry{}, false
	}
	return r.entries[idx], true
}

// Has reports whether id is present.
func (r *Roster) Has(id Id) bool {
	if r == nil {
		return false
	}
	_, ok := r.byId[id]
	return ok
}

// Ids returns the roster's ids in roster order.
func (r *Roster) Ids() []Id {
	if r == nil {
		return nil
	}
	out := make([]Id, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Id
	}
	return out
}

// Entries returns a defensive copy of the roster's entries in order.
func (r *Roster) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Proposer returns the Id with the smallest lexicographic value: the
// server uniquely responsible for emitting Init.
func (r *Roster) Proposer() (Id, bool) {
	if r.Len() == 0 {
		return Id{}, false
	}
	best := r.entries[0].Id
	for _, e := range r.entries[1:] {
		if e.Id.Less(best) {
			best = e.Id
		}
	}
	return best, true
}

// Equal reports whether two rosters contain the same entries, matched by
// Id; the order of the entries does not matter.
func (r *Roster) Equal(other *Roster) bool {
	if r.Len() != other.Len() {
		return false
	}
	for _, a := range r.entries {
		b, ok := other.Get(a.Id)
		if !ok {
			return false
		}
		if string(a.LongTermKey) != string(b.LongTermKey) {
			return false
		}
		if string(a.EphemeralKey) != string(b.EphemeralKey) {
			return false
		}
		if string(a.OptionalMaterial) != string(b.OptionalMaterial) {
			return false
		}
	}
	return true
}
