// Package attacker holds the monotone attacker-knowledge set: an ordered
// list of known values, a hash-bucketed index for
// expected-O(1) membership, a skeleton-hash cache that dedupes primitive
// injection attempts, and a parallel list of mutation records used to
// reconstruct attack traces.
//
// Concurrency note (documented simplification, see DESIGN.md): a
// refcounted-snapshot design would give readers an O(1) handle they can
// scan without holding any lock, relying on copy-on-write promotion of
// the shared lists. Go maps have no such structural-sharing primitive,
// and mutating a live map concurrently with a reader is a data race
// regardless of how "logically immutable" the old entries are. This
// package keeps the double-checked-lock shape but has every read —
// including reads made through a Snapshot — take the RWMutex's read lock
// for its duration; a Snapshot is cheap to obtain (an int and a pointer)
// but not lock-free to use. Given Go's RWMutex allows unlimited concurrent
// readers, this preserves the intended parallelism for the common case
// (many goroutines reading, occasional writer) without risking a data race.
package attacker

import (
	"sync"

	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// SlotDiff is one entry of a MutationRecord: the value a constant resolved
// to in the principal state present at the moment a piece of knowledge was
// learned, versus its pristine protocol-trace form.
type SlotDiff struct {
	ConstantID uint32
	ConstantName string
	Assigned   value.Value
	Mutated    bool
}

// MutationRecord captures enough of a PrincipalState at the moment a value
// was added to attacker knowledge to later reconstruct a human-readable
// attack trace (which slots differ from the untampered protocol trace).
type MutationRecord struct {
	Diffs []SlotDiff
}

// State is the RWMutex-guarded attacker knowledge set for the current
// phase.
type State struct {
	mu sync.RWMutex

	currentPhase int
	exhausted    bool

	known    []value.Value
	knownMap map[uint64][]int

	skeletonHashes map[uint64]bool
	records        []MutationRecord
}

// New returns a freshly reset State.
func New() *State {
	s := &State{}
	s.resetLocked()
	return s
}

func (s *State) resetLocked() {
	s.currentPhase = 0
	s.exhausted = false
	s.known = nil
	s.knownMap = map[uint64][]int{}
	s.skeletonHashes = map[uint64]bool{}
	s.records = nil
	// The attacker always holds the reserved identities: nil is its
	// canonical contribution, g the public generator.
	for _, v := range []value.Value{value.Nil(), value.G()} {
		idx := len(s.known)
		s.known = append(s.known, v)
		s.knownMap[value.Hash(v)] = append(s.knownMap[value.Hash(v)], idx)
		s.records = append(s.records, MutationRecord{})
	}
}

// Reset clears all knowledge, as happens at the start of each phase.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

// Snapshot is a cheap handle for querying the attacker state. It delegates
// every query back through State's RWMutex rather than detaching a
// lock-free copy — see the package doc comment.
type Snapshot struct {
	state        *State
	CurrentPhase int
}

// Snapshot takes the current phase and returns a handle for querying
// knowledge; see the package doc comment for its locking behavior.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{state: s, CurrentPhase: s.currentPhase}
}

// Knows reports whether v is equivalent to something already known.
func (sn Snapshot) Knows(v value.Value) bool {
	return sn.state.knows(v)
}

// Known returns a copy of the current knowledge list.
func (sn Snapshot) Known() []value.Value {
	sn.state.mu.RLock()
	defer sn.state.mu.RUnlock()
	out := make([]value.Value, len(sn.state.known))
	copy(out, sn.state.known)
	return out
}

// HasSkeleton reports whether a primitive with this skeleton hash has
// already been injected into knowledge.
func (sn Snapshot) HasSkeleton(h uint64) bool {
	sn.state.mu.RLock()
	defer sn.state.mu.RUnlock()
	return sn.state.skeletonHashes[h]
}

// WitnessFor returns the MutationRecord captured when v (or something
// equivalent to it) was first learned, for attack-trace reconstruction
// in the failure reports.
func (sn Snapshot) WitnessFor(v value.Value) (MutationRecord, bool) {
	sn.state.mu.RLock()
	defer sn.state.mu.RUnlock()
	h := value.Hash(v)
	for _, idx := range sn.state.knownMap[h] {
		if idx < len(sn.state.known) && value.Equivalent(sn.state.known[idx], v, true) {
			return sn.state.records[idx], true
		}
	}
	return MutationRecord{}, false
}

func (s *State) knows(v value.Value) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.knowsLocked(v)
}

func (s *State) knowsLocked(v value.Value) bool {
	h := value.Hash(v)
	for _, idx := range s.knownMap[h] {
		if idx < len(s.known) && value.Equivalent(s.known[idx], v, true) {
			return true
		}
	}
	return false
}

// Put inserts v if it is not already known, attaching a MutationRecord
// diffed against ps. Returns true iff v was new (this is the "progress"
// signal the deduction fixed-point and active search both key off of).
func (s *State) Put(v value.Value, ps *trace.PrincipalState) bool {
	if s.knows(v) {
		return false
	}
	record := diffAgainstTrace(ps)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.knowsLocked(v) {
		return false
	}
	idx := len(s.known)
	s.known = append(s.known, v)
	h := value.Hash(v)
	s.knownMap[h] = append(s.knownMap[h], idx)
	if p, ok := value.IsPrimitive(v); ok {
		s.skeletonHashes[value.SkeletonHashOf(p)] = true
	}
	s.records = append(s.records, record)
	return true
}

// KnownCount returns the number of distinct values known, used by the
// active search's per-stage "did we learn anything new" check.
func (s *State) KnownCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.known)
}

// IsExhausted reports whether the active search has declared this phase's
// attacker knowledge closed (no more worthwhile mutations found).
func (s *State) IsExhausted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exhausted
}

// SetExhausted marks the attacker as exhausted for the remainder of the
// current phase.
func (s *State) SetExhausted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted = true
}

// diffAgainstTrace records, for every slot this principal state currently
// holds a mutated or attacker-created value for, enough information to
// describe the deviation from the untampered protocol trace.
func diffAgainstTrace(ps *trace.PrincipalState) MutationRecord {
	if ps == nil {
		return MutationRecord{}
	}
	var diffs []SlotDiff
	for i, sv := range ps.Values {
		if !sv.Mutated {
			continue
		}
		diffs = append(diffs, SlotDiff{
			ConstantID:   ps.Meta[i].Constant.ID,
			ConstantName: ps.Meta[i].Constant.Name,
			Assigned:     sv.Assigned,
			Mutated:      true,
		})
	}
	return MutationRecord{Diffs: diffs}
}
