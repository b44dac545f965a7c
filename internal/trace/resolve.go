package trace

import "github.com/opal-lang/verifpal-go/internal/value"

// maxResolveDepth bounds recursion when following constant chains and
// recursing into compound values, guarding against malformed cyclic
// models.
const maxResolveDepth = 64

// ShouldUseBeforeMutate decides, for the slot at index i, whether this
// principal's own reasoning about that slot should use the pristine
// (BeforeMutate) or attacker-visible (Assigned) form: true iff the
// principal created the slot, doesn't know it, never received it over a
// wire, or it was never mutated.
func (ps *PrincipalState) ShouldUseBeforeMutate(i int) bool {
	m := ps.Meta[i]
	v := ps.Values[i]
	if v.Creator == ps.ID {
		return true
	}
	if !m.Known {
		return true
	}
	if !m.ReceivedOverWire(ps.ID) {
		return true
	}
	if !v.Mutated {
		return true
	}
	return false
}

// ResolveAll resolves every slot's Assigned value in place, following
// constant chains and recursing into compounds per the root/nested
// policy. pure treats all mutations as if they never happened (used, on a
// clone, for each principal's pristine view when a phase's attacker
// knowledge is seeded).
func (ps *PrincipalState) ResolveAll(pure bool) {
	for i := range ps.Values {
		creator := ps.Values[i].Creator
		ps.Values[i].Assigned = ps.resolveValue(ps.Values[i].Assigned, creator, true, pure, 0)
	}
}

// ResolveConstant resolves a single constant reference against this
// principal's state, returning the resolved value and the slot index (or
// -1 if this principal has no knowledge of the constant).
func (ps *PrincipalState) ResolveConstant(c value.Constant, pure bool) (value.Value, int) {
	idx := ps.IndexOf(c.ID)
	if idx < 0 {
		return c, -1
	}
	return ps.resolveValue(c, ps.Values[idx].Creator, true, pure, 0), idx
}

func (ps *PrincipalState) resolveValue(v value.Value, rootCreator uint8, isRoot, pure bool, depth int) value.Value {
	if depth >= maxResolveDepth {
		return v
	}
	switch vv := v.(type) {
	case value.Constant:
		idx := ps.IndexOf(vv.ID)
		if idx < 0 {
			return v
		}
		var chosen value.Value
		if isRoot {
			if pure || ps.ShouldUseBeforeMutate(idx) {
				chosen = ps.Values[idx].BeforeMutate
			} else {
				chosen = ps.Values[idx].Assigned
			}
		} else {
			// Nested constant: the enclosing root is a compound the
			// principal is reasoning about. Force the pristine form unless
			// the attacker could have tampered with this nested value in
			// transit to the root's creator.
			if !pure && containsPrincipal(ps.Meta[idx].MutatableTo, rootCreator) {
				chosen = ps.Values[idx].Assigned
			} else {
				chosen = ps.Values[idx].BeforeMutate
			}
		}
		if chosen == nil {
			return v
		}
		// Descending into the referenced slot's stored value enters a
		// compound computed by that slot's creator, so the nested policy
		// above must judge tamperability relative to it from here on — a
		// key nested inside a message Bob computed stays pristine for
		// Alice unless the attacker could have tampered with it in
		// transit to Bob.
		return ps.resolveValue(chosen, ps.Values[idx].Creator, false, pure, depth+1)
	case *value.Primitive:
		return ps.resolvePrimitive(vv, rootCreator, pure, depth)
	case *value.Equation:
		return ps.resolveEquation(vv, rootCreator, pure, depth)
	default:
		return v
	}
}

func (ps *PrincipalState) resolvePrimitive(p *value.Primitive, rootCreator uint8, pure bool, depth int) value.Value {
	var newArgs []value.Value
	changed := false
	for i, a := range p.Arguments {
		ra := ps.resolveValue(a, rootCreator, false, pure, depth+1)
		if !changed && !sameValue(ra, a) {
			changed = true
			newArgs = make([]value.Value, len(p.Arguments))
			copy(newArgs, p.Arguments[:i])
		}
		if changed {
			newArgs[i] = ra
		}
	}
	if !changed {
		return p
	}
	return p.WithArguments(newArgs)
}

func (ps *PrincipalState) resolveEquation(e *value.Equation, rootCreator uint8, pure bool, depth int) value.Value {
	var newVals []value.Value
	changed := false
	for i, v := range e.Values {
		rv := ps.resolveValue(v, rootCreator, false, pure, depth+1)
		if !changed && !sameValue(rv, v) {
			changed = true
			newVals = make([]value.Value, len(e.Values))
			copy(newVals, e.Values[:i])
		}
		if changed {
			newVals[i] = rv
		}
	}
	if !changed {
		return value.Flatten(e)
	}
	return value.Flatten(&value.Equation{Values: newVals})
}

// sameValue is a cheap identity/structural check used by the resolver's
// clone-on-write recursion to decide whether a child actually changed
// (avoiding reallocating unchanged containers).
func sameValue(a, b value.Value) bool {
	ac, aok := value.IsConstant(a)
	bc, bok := value.IsConstant(b)
	if aok && bok {
		return ac.ID == bc.ID
	}
	if ap, ok := value.IsPrimitive(a); ok {
		if bp, ok2 := value.IsPrimitive(b); ok2 {
			return ap == bp
		}
		return false
	}
	if ae, ok := value.IsEquation(a); ok {
		if be, ok2 := value.IsEquation(b); ok2 {
			return ae == be
		}
		return false
	}
	return false
}
