// Package trace holds the static protocol model (ProtocolTrace) and the
// per-principal, per-phase working state (PrincipalState) that the
// equational theory, attacker deduction, and active search all operate
// over. It also implements the resolver: following constant chains to a
// principal's current view of a value, with a clone-on-write discipline
// that keeps the mutation search within a realistic memory budget.
package trace

import (
	"github.com/opal-lang/verifpal-go/internal/invariant"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// TraceSlot is one declared constant's protocol-wide bookkeeping: who
// created it, who has learned it and from whom, when it was declared, and
// in which phases it crosses the wire or is leaked.
type TraceSlot struct {
	Constant   value.Constant
	Initial    value.Value
	Creator    uint8
	KnownBy    []map[uint8]uint8 // one map per transmission: recipient -> sender
	DeclaredAt int
	Phases     map[int]bool
}

// ProtocolTrace is the immutable, once-built static model of a protocol.
type ProtocolTrace struct {
	Principals    []string
	PrincipalIDs  []uint8
	Slots         []TraceSlot
	ConstantIndex map[uint32]int // constant id -> index into Slots
	MaxDeclaredAt int
	MaxPhase      int
	// UsedBy records, per constant id, the set of principals whose local
	// computations reference it (directly or as a sub-argument).
	UsedBy map[uint32]map[uint8]bool
}

// SlotIndex returns the slot index for a constant id, or -1.
func (t *ProtocolTrace) SlotIndex(id uint32) int {
	if i, ok := t.ConstantIndex[id]; ok {
		return i
	}
	return -1
}

// UsedByAny reports whether any principal uses the constant with id cid.
func (t *ProtocolTrace) UsedByAny(cid uint32) bool {
	m, ok := t.UsedBy[cid]
	if !ok {
		return false
	}
	for _, used := range m {
		if used {
			return true
		}
	}
	return false
}

// SlotMeta is the protocol-structural half of a principal's per-slot state:
// shared by pointer across every clone of a PrincipalState, since it never
// changes once the trace is built.
type SlotMeta struct {
	Constant    value.Constant
	Guard       bool
	Known       bool
	Wire        []uint8 // principals this slot was sent to
	KnownBy     []map[uint8]uint8
	DeclaredAt  int
	MutatableTo []uint8 // principals who could tamper with it in transit
	Phase       map[int]bool
}

func containsPrincipal(xs []uint8, id uint8) bool {
	for _, x := range xs {
		if x == id {
			return true
		}
	}
	return false
}

// ReceivedOverWire reports whether principal pid received this slot as a
// message (appears as a recipient in one of the transmission edges).
func (m *SlotMeta) ReceivedOverWire(pid uint8) bool {
	for _, edge := range m.KnownBy {
		if _, ok := edge[pid]; ok {
			return true
		}
	}
	return false
}

// SlotValues is the mutable, deep-copied-per-clone half of a principal's
// per-slot state.
type SlotValues struct {
	Assigned      value.Value
	BeforeRewrite value.Value
	BeforeMutate  value.Value
	Mutated       bool
	Rewritten     bool
	Creator       uint8
	Sender        uint8
}

// OverrideAll sets Assigned, BeforeRewrite, and BeforeMutate to v in one
// shot — used by the active search's guard-bypass injection, which must
// propagate an attacker-controlled replacement through every view a
// principal's own later computations might resolve against.
func (sv *SlotValues) OverrideAll(v value.Value) {
	sv.Assigned = v
	sv.BeforeRewrite = v
	sv.BeforeMutate = v
}

// PrincipalState is one principal's working view of the protocol at a
// point in the verification process. Meta is shared by reference across
// clones (cheap — just a slice header copy over an already-immutable
// backing array); Values is deep-copied per clone.
type PrincipalState struct {
	Name          string
	ID            uint8
	Meta          []*SlotMeta
	Values        []SlotValues
	MaxDeclaredAt int

	constantIndex map[uint32]int
}

// NewPrincipalState builds an empty state for the named principal, ready
// for slots to be appended by the trace builder.
func NewPrincipalState(name string, id uint8) *PrincipalState {
	return &PrincipalState{
		Name:          name,
		ID:            id,
		constantIndex: map[uint32]int{},
	}
}

// AddSlot appends one slot's meta/value pair and indexes it by constant id.
func (ps *PrincipalState) AddSlot(meta *SlotMeta, values SlotValues) {
	invariant.Precondition(meta != nil, "slot meta for principal %s must not be nil", ps.Name)
	idx := len(ps.Meta)
	ps.Meta = append(ps.Meta, meta)
	ps.Values = append(ps.Values, values)
	ps.constantIndex[meta.Constant.ID] = idx
	if meta.DeclaredAt > ps.MaxDeclaredAt {
		ps.MaxDeclaredAt = meta.DeclaredAt
	}
}

// IndexOf returns the slot index for constant id cid within this
// principal's state, or -1 if this principal has no knowledge of it.
func (ps *PrincipalState) IndexOf(cid uint32) int {
	if i, ok := ps.constantIndex[cid]; ok && i < len(ps.Meta) {
		return i
	}
	return -1
}

// Clone copies the PrincipalState. Meta is shared by reference (the GC
// keeps the backing array alive as long as any clone references it).
// Values is always deep-copied since it is mutated independently per
// clone; the boolean parameter is kept for call-site symmetry and is
// currently always true (Values must always be independent).
func (ps *PrincipalState) Clone(_ bool) *PrincipalState {
	out := &PrincipalState{
		Name:          ps.Name,
		ID:            ps.ID,
		Meta:          ps.Meta, // shared
		Values:        make([]SlotValues, len(ps.Values)),
		MaxDeclaredAt: ps.MaxDeclaredAt,
		constantIndex: ps.constantIndex, // shared: structural, keyed by slot position
	}
	copy(out.Values, ps.Values)
	return out
}

// Truncate drops all slots at or after index f, modelling a principal
// aborting the session after a failed guarded rewrite.
func (ps *PrincipalState) Truncate(f int) {
	invariant.Precondition(f >= 0, "truncation boundary must be non-negative, got %d", f)
	if f < len(ps.Meta) {
		ps.Meta = ps.Meta[:f]
	}
	if f < len(ps.Values) {
		ps.Values = ps.Values[:f]
	}
}
