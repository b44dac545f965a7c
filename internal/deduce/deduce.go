// Package deduce computes the attacker's knowledge closure: the least
// fixed point of the monotone deduction rules in package theory,
// organized into three priority groups. Cheaper
// derivations (decomposition) are tried before more expensive ones
// (reconstruction, equivalization), and any successful rule restarts the
// outer loop from group one.
package deduce

import (
	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/theory"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// Logger receives one line per successful deduction, for the --verbose
// narrative stream (package narrative). A nil Logger silences output.
type Logger func(line string)

// Closure runs the deduction rule engine to completion against state,
// mutating attacker knowledge in place. It is a pure fixed-point
// computation: it never checks queries or exits early once the closure is
// reached, per Knaster-Tarski — the iteration converges because the
// attacker's knowledge set only grows and the universe of derivable values
// is bounded by the protocol model.
func Closure(reg theory.Registry, state *attacker.State, t *trace.ProtocolTrace, ps *trace.PrincipalState, log Logger) {
	for {
		snap := state.Snapshot()
		if !step(reg, state, snap, t, ps, log) {
			return
		}
	}
}

func step(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, t *trace.ProtocolTrace, ps *trace.PrincipalState, log Logger) bool {
	// Group 1: decompose / passive-decompose over attacker-known values.
	for _, known := range snap.Known() {
		if ruleDecompose(reg, state, snap, known, ps, log) {
			return true
		}
		if rulePassiveDecompose(reg, state, known, ps, log) {
			return true
		}
	}
	// Group 2: reconstruct / recompose over principal-assigned values.
	for _, sv := range ps.Values {
		if ruleReconstruct(reg, state, snap, sv.Assigned, ps, log) {
			return true
		}
		if ruleRecompose(reg, state, snap, sv.Assigned, ps, log) {
			return true
		}
	}
	// Group 3: equivalize / password-extract / concat-extract over
	// attacker-known values.
	for _, known := range snap.Known() {
		if ruleEquivalize(state, known, ps, log) {
			return true
		}
		if rulePasswordExtract(reg, state, known, log) {
			return true
		}
		if ruleConcatExtract(reg, state, known, ps, log) {
			return true
		}
	}
	return false
}

func ruleDecompose(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, v value.Value, ps *trace.PrincipalState, log Logger) bool {
	p, ok := value.IsPrimitive(v)
	if !ok {
		return false
	}
	result, ok := theory.CanDecompose(reg, p, ps, snap, 0)
	if !ok {
		return false
	}
	if state.Put(result.Revealed, ps) {
		if log != nil {
			log(result.Revealed.String() + " obtained by decomposing " + v.String() + ".")
		}
		return true
	}
	return false
}

func rulePassiveDecompose(reg theory.Registry, state *attacker.State, v value.Value, ps *trace.PrincipalState, log Logger) bool {
	p, ok := value.IsPrimitive(v)
	if !ok {
		return false
	}
	found := false
	for _, revealed := range theory.PassivelyDecompose(reg, p) {
		if state.Put(revealed, ps) {
			if log != nil {
				log(revealed.String() + " obtained as associated data from " + v.String() + ".")
			}
			found = true
		}
	}
	return found
}

func ruleReconstruct(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, v value.Value, ps *trace.PrincipalState, log Logger) bool {
	return reconstructRecursive(reg, state, snap, v, ps, log)
}

func reconstructRecursive(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, v value.Value, ps *trace.PrincipalState, log Logger) bool {
	found := false
	var ok bool
	switch vv := v.(type) {
	case *value.Primitive:
		_, ok = theory.CanReconstructPrimitive(reg, vv, ps, snap, 0)
		for _, arg := range vv.Arguments {
			if reconstructRecursive(reg, state, snap, arg, ps, log) {
				found = true
			}
		}
	case *value.Equation:
		ok = theory.CanReconstructEquation(reg, vv, ps, snap, 0)
	default:
		return found
	}
	if ok && state.Put(v, ps) {
		if log != nil {
			log(v.String() + " obtained by reconstruction.")
		}
		found = true
	}
	return found
}

func ruleRecompose(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, v value.Value, ps *trace.PrincipalState, log Logger) bool {
	p, ok := value.IsPrimitive(v)
	if !ok {
		return false
	}
	revealed, ok := theory.CanRecompose(reg, p.ID, snap)
	if !ok {
		return false
	}
	if state.Put(revealed, ps) {
		if log != nil {
			log(revealed.String() + " obtained by recomposing " + v.String() + ".")
		}
		return true
	}
	return false
}

// ruleEquivalize re-resolves every constant in ps purely (ignoring
// mutation) and adds any principal-assigned value equivalent to v — this
// is how knowledge of one representation of a value (e.g. a constant
// handle) propagates to every equivalent representation (e.g. the
// primitive it was assigned from).
func ruleEquivalize(state *attacker.State, v value.Value, ps *trace.PrincipalState, log Logger) bool {
	resolved := v
	if c, ok := value.IsConstant(v); ok {
		resolved, _ = ps.ResolveConstant(c, true)
	}
	found := false
	for _, sv := range ps.Values {
		if value.Equivalent(resolved, sv.Assigned, true) && state.Put(sv.Assigned, ps) {
			if log != nil {
				log(sv.Assigned.String() + " obtained by equivalizing with " + v.String() + ".")
			}
			found = true
		}
	}
	return found
}

// rulePasswordExtract flags password-qualified constants used as a direct
// argument to a primitive outside the positions its Spec.PasswordHashing
// allow-list names as safe (e.g. passed straight into CONCAT rather than
// through PW_HASH) — an offline dictionary attack surface.
func rulePasswordExtract(reg theory.Registry, state *attacker.State, v value.Value, log Logger) bool {
	p, ok := value.IsPrimitive(v)
	if !ok {
		return false
	}
	spec, ok := lookupSpec(reg, p.ID)
	if !ok {
		return false
	}
	found := false
	for i, arg := range p.Arguments {
		c, ok := value.IsConstant(arg)
		if !ok || c.Qualifier != value.QualPassword {
			continue
		}
		if containsInt(spec.PasswordHashing, i) {
			continue
		}
		if state.Put(c, nil) {
			if log != nil {
				log(c.String() + " obtained as a password unsafely used within " + v.String() + ".")
			}
			found = true
		}
	}
	return found
}

func ruleConcatExtract(reg theory.Registry, state *attacker.State, v value.Value, ps *trace.PrincipalState, log Logger) bool {
	p, ok := value.IsPrimitive(v)
	if !ok {
		return false
	}
	spec, ok := lookupSpec(reg, p.ID)
	if !ok || !spec.RevealsArgs {
		return false
	}
	found := false
	for _, arg := range p.Arguments {
		if state.Put(arg, ps) {
			if log != nil {
				log(arg.String() + " obtained as a fragment of " + v.String() + ".")
			}
			found = true
		}
	}
	return found
}

func lookupSpec(reg theory.Registry, id value.PrimitiveID) (primitive.Spec, bool) {
	return reg.Lookup(id)
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
