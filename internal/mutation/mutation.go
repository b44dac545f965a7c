// Package mutation builds, per principal per search stage, the set of
// attacker-controlled substitutions the active search tries in place of
// each mutatable constant, and the bounded primitive-argument
// injector that manufactures novel forged primitive instances from
// currently-known values.
package mutation

import (
	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/theory"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// MaxInjectionsPerPrimitive caps the Cartesian product size of any single
// primitive's injected-argument combinations.
const MaxInjectionsPerPrimitive = 500

// StageMutationExpansion is the last stage at which constant and equation
// slots get only their canonical placeholder (Nil, G, or a same-shaped
// g^nil form); from the stage after it, the search widens them to every
// attacker-known alternative.
const StageMutationExpansion = 3

// StageRecursiveInjection is the stage at which the injector starts
// recursing into known primitives' own arguments to manufacture deeper
// forged values, bounded so recursion depth tracks how many stages past
// this threshold the search has reached.
const StageRecursiveInjection = 5

// Map is one principal's mutation map for a search stage: parallel slices
// of (constant, candidate replacement values), plus odometer state used by
// Next to enumerate the Cartesian product of all combinations.
type Map struct {
	Constants  []value.Constant
	Mutations  [][]value.Value
	combo      []value.Value
	depthIndex []int
	exhausted  bool

	OutOfMutations bool
}

// Build constructs the mutation map for ps at the given stage: every
// attacker-known constant that resolves to a slot this principal could
// plausibly receive a tampered value for contributes a row of candidate
// replacement values. A slot qualifies when this principal received it
// over the wire in the current phase and uses it, and, if guarded, its
// sender is in MutatableTo, or, if unguarded, this principal did not
// create it.
func Build(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, t *trace.ProtocolTrace, ps *trace.PrincipalState, stage int) *Map {
	mm := &Map{}
	for _, v := range snap.Known() {
		c, ok := value.IsConstant(v)
		if !ok {
			continue
		}
		idx := ps.IndexOf(c.ID)
		if skip(idx, snap.CurrentPhase, t, ps) {
			continue
		}
		resolved, _ := ps.ResolveConstant(c, true)
		candidates := replacementsFor(reg, state, snap, resolved, idx, ps, stage)
		if len(candidates) == 0 {
			continue
		}
		mm.Constants = append(mm.Constants, c)
		mm.Mutations = append(mm.Mutations, candidates)
	}
	mm.combo = make([]value.Value, len(mm.Constants))
	mm.depthIndex = make([]int, len(mm.Constants))
	return mm
}

func skip(idx, currentPhase int, t *trace.ProtocolTrace, ps *trace.PrincipalState) bool {
	if idx < 0 {
		return true
	}
	meta := ps.Meta[idx]
	sv := ps.Values[idx]
	if meta.Guard {
		if !containsPrincipal(meta.MutatableTo, sv.Sender) {
			return true
		}
	} else if sv.Creator == ps.ID {
		return true
	}
	// Only values this principal actually received over the wire can have
	// been tampered with in transit to it.
	if !containsPrincipal(meta.Wire, ps.ID) {
		return true
	}
	if !meta.Phase[currentPhase] {
		return true
	}
	if used, ok := t.UsedBy[meta.Constant.ID]; !ok || !used[ps.ID] {
		return true
	}
	return false
}

func containsPrincipal(xs []uint8, id uint8) bool {
	for _, x := range xs {
		if x == id {
			return true
		}
	}
	return false
}

func replacementsFor(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, a value.Value, rootIdx int, ps *trace.PrincipalState, stage int) []value.Value {
	switch av := a.(type) {
	case value.Constant:
		return replaceConstant(av, snap, ps, stage)
	case *value.Primitive:
		return replacePrimitive(reg, state, snap, av, ps, stage)
	case *value.Equation:
		return replaceEquation(av, snap, stage)
	default:
		return nil
	}
}

func replaceConstant(a value.Constant, snap attacker.Snapshot, ps *trace.PrincipalState, stage int) []value.Value {
	if isGOrNil(a) {
		return nil
	}
	out := []value.Value{value.Nil()}
	if stage <= StageMutationExpansion {
		return out
	}
	for _, v := range snap.Known() {
		vc, ok := value.IsConstant(v)
		if !ok || isGOrNil(vc) {
			continue
		}
		resolved, _ := ps.ResolveConstant(vc, true)
		c, ok := value.IsConstant(resolved)
		if !ok {
			continue
		}
		if value.EquivalentInList(c, out) < 0 {
			out = append(out, c)
		}
	}
	return out
}

func replacePrimitive(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, a *value.Primitive, ps *trace.PrincipalState, stage int) []value.Value {
	var out []value.Value
	for _, v := range snap.Known() {
		switch vv := v.(type) {
		case value.Constant:
			if isGOrNil(vv) {
				continue
			}
			resolved, _ := ps.ResolveConstant(vv, true)
			c, ok := value.IsConstant(resolved)
			if !ok {
				continue
			}
			if value.EquivalentInList(c, out) < 0 {
				out = append(out, c)
			}
		case *value.Primitive:
			if !value.SkeletonEquivalent(vv, a) {
				continue
			}
			if value.EquivalentInList(vv, out) < 0 {
				out = append(out, vv)
			}
		}
	}
	for _, inj := range Inject(reg, state, snap, a, 0, ps, stage) {
		if value.EquivalentInList(inj, out) < 0 {
			out = append(out, inj)
		}
	}
	return out
}

func replaceEquation(e *value.Equation, snap attacker.Snapshot, stage int) []value.Value {
	var out []value.Value
	switch len(e.Values) {
	case 1:
		out = append(out, value.G())
	case 2:
		out = append(out, value.GNil())
	case 3:
		out = append(out, value.GNilNil())
	}
	if stage <= StageMutationExpansion {
		return out
	}
	for _, v := range snap.Known() {
		ve, ok := value.IsEquation(v)
		if !ok || len(ve.Values) != len(e.Values) {
			continue
		}
		if value.EquivalentInList(ve, out) < 0 {
			out = append(out, ve)
		}
	}
	return out
}

func isGOrNil(c value.Constant) bool {
	return c.ID == value.G().ID || c.ID == value.Nil().ID
}

// Subset builds a mutation map restricted to the given constant indices,
// as the weighted subset scan in package search does.
func Subset(full *Map, indices []int) *Map {
	out := &Map{
		Constants: make([]value.Constant, len(indices)),
		Mutations: make([][]value.Value, len(indices)),
	}
	for j, i := range indices {
		out.Constants[j] = full.Constants[i]
		out.Mutations[j] = full.Mutations[i]
	}
	out.combo = make([]value.Value, len(indices))
	out.depthIndex = make([]int, len(indices))
	return out
}

// SubsetCapped is Subset but additionally truncates each dimension so the
// total Cartesian product never exceeds maxProduct, by taking the integer
// n-th root of maxProduct as a per-dimension cap.
func SubsetCapped(full *Map, indices []int, maxProduct int) *Map {
	sub := Subset(full, indices)
	n := len(indices)
	if n == 0 {
		return sub
	}
	product := 1
	overflow := false
	for _, m := range sub.Mutations {
		if len(m) > 0 && product > maxProduct/len(m) {
			overflow = true
			break
		}
		product *= len(m)
	}
	if !overflow && product <= maxProduct {
		return sub
	}
	perDim := nthRoot(maxProduct, n)
	if perDim < 1 {
		perDim = 1
	}
	for i, m := range sub.Mutations {
		if len(m) > perDim {
			sub.Mutations[i] = m[:perDim]
		}
	}
	return sub
}

func nthRoot(x, n int) int {
	if n <= 0 {
		return 0
	}
	if x <= 1 {
		return x
	}
	lo, hi := 1, x
	for lo < hi {
		mid := (lo + hi + 1) / 2
		p := 1
		overflow := false
		for i := 0; i < n; i++ {
			p *= mid
			if p > x {
				overflow = true
				break
			}
		}
		if overflow {
			hi = mid - 1
		} else {
			lo = mid
		}
	}
	return lo
}

// Next loads the odometer's current combination (read via Combination) and advances
// by one position, setting OutOfMutations on the call after the final
// combination was produced — so the usual Next-then-check loop sees every
// combination exactly once.
func Next(mm *Map) *Map {
	if len(mm.combo) == 0 || mm.exhausted {
		mm.OutOfMutations = true
		return mm
	}
	for i := range mm.combo {
		if len(mm.Mutations[i]) == 0 {
			mm.OutOfMutations = true
			return mm
		}
		mm.combo[i] = mm.Mutations[i][mm.depthIndex[i]]
	}
	i := len(mm.combo) - 1
	for i >= 0 {
		mm.depthIndex[i]++
		if mm.depthIndex[i] < len(mm.Mutations[i]) {
			break
		}
		mm.depthIndex[i] = 0
		i--
	}
	if i < 0 {
		mm.exhausted = true
	}
	return mm
}

// Combination returns the current odometer position produced by the last
// Next call.
func (mm *Map) Combination() []value.Value {
	return mm.combo
}
