package crdt

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"
)

// ErrBadState indicates a serialized state or update blob that cannot be decoded.
var ErrBadState = errors.New("malformed replicated state")

// Element is a single replicated unit of document content. Elements carry a
// Lamport stamp and origin node so that concurrent writes to the same element
// resolve deterministically last-write-wins.
type Element struct {
	ID      string  `json:"id"`
	Pos     float64 `json:"pos"`
	Text    string  `json:"text"`
	Deleted bool    `json:"deleted"`
	Stamp   int64   `json:"stamp"`
	Node    string  `json:"node"`
}

// NewerThan reports whether e wins over other under last-write-wins.
// Equal stamps fall back to node ID comparison for determinism.
func (e Element) NewerThan(other Element) bool {
	if e.Stamp != other.Stamp {
		return e.Stamp > other.Stamp
	}
	return e.Node > other.Node
}

// State is the replicated document state: a set of elements keyed by element
// ID. Merging is commutative, associative and idempotent, so any two replicas
// that have seen the same updates converge to the same state.
type State map[string]Element

// NewState returns an empty replicated state.
func NewState() State {
	return State{}
}

// Decode parses a serialized state or update blob. An empty blob decodes to
// an empty state.
func Decode(b []byte) (State, error) {
	if len(b) == 0 {
		return NewState(), nil
	}
	var s State
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, ErrBadState
	}
	if s == nil {
		s = NewState()
	}
	return s, nil
}

// Encode serializes the state. Map keys are emitted in sorted order, so two
// converged states encode to identical bytes.
func (s State) Encode() []byte {
	b, _ := json.Marshal(s)
	return b
}

// Merge folds every element of other into s, keeping the LWW winner per
// element ID. It reports whether s changed; merging an already-seen update
// is a no-op.
func (s State) Merge(other State) bool {
	changed := false
	for id, in := range other {
		cur, ok := s[id]
		if !ok {
			s[id] = in
			changed = true
			continue
		}
		if cur == in {
			continue
		}
		if in.NewerThan(cur) {
			s[id] = in
			changed = true
		}
	}
	return changed
}

// Apply decodes an update blob and merges it into s.
func (s State) Apply(update []byte) (bool, error) {
	in, err := Decode(update)
	if err != nil {
		return false, err
	}
	return s.Merge(in), nil
}

// Text renders the cached content projection: live elements ordered by
// position, element ID breaking ties. The projection is always derived from
// the state, never edited directly.
func (s State) Text() string {
	live := make([]Element, 0, len(s))
	for _, e := range s {
		if !e.Deleted {
			live = append(live, e)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		if live[i].Pos != live[j].Pos {
			return live[i].Pos < live[j].Pos
		}
		return live[i].ID < live[j].ID
	})
	var sb strings.Builder
	for _, e := range live {
		sb.WriteString(e.Text)
	}
	return sb.String()
}

// InsertUpdate builds an update blob carrying a single new element. Callers
// supply the Lamport stamp and origin node of the writing replica.
func InsertUpdate(id string, pos float64, text string, stamp int64, node string) []byte {
	u := State{id: {ID: id, Pos: pos, Text: text, Stamp: stamp, Node: node}}
	return u.Encode()
}

// DeleteUpdate builds an update blob tombstoning one element.
func DeleteUpdate(id string, stamp int64, node string) []byte {
	u := State{id: {ID: id, Deleted: true, Stamp: stamp, Node: node}}
	return u.Encode()
}
