// Package rewriter performs the whole-state rewrite pass: reducing
// every principal-local computation through the equational theory's
// Rewrite/Rebuild rules until nothing further reduces, writing the
// rewritten form back into the originating slot and collecting every
// primitive that has a rewrite rule but did not reduce, whether or not it
// carries an instance check (callers filter on InstanceCheck) — those
// failures feed the sanity check, truncation and the guard-bypass search.
package rewriter

import (
	"github.com/opal-lang/verifpal-go/internal/theory"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// Result is the outcome of rewriting one value: the reduced form, whether
// anything changed, and any primitive with a rewrite rule whose rewrite
// did not reduce at all.
type Result struct {
	Value          value.Value
	Rewritten      bool
	FailedRewrites []*value.Primitive
}

// Failure pairs a guarded primitive whose rewrite failed to reduce with
// the index of the slot it was found in — the active search's guard-
// bypass and truncation logic need to know which of the scanning
// principal's own slots a failure originated from, not just the failing
// value itself.
type Failure struct {
	Primitive *value.Primitive
	SlotIndex int
}

// PerformAll rewrites every slot in ps in place, returning every primitive
// with a rewrite rule whose rewrite failed to reduce, guarded or not —
// callers use this to decide
// whether a model is well-formed (standard run) or whether the active
// search should attempt a guard bypass.
func PerformAll(reg theory.Registry, ps *trace.PrincipalState) []*value.Primitive {
	indexed := PerformAllIndexed(reg, ps)
	out := make([]*value.Primitive, len(indexed))
	for i, f := range indexed {
		out[i] = f.Primitive
	}
	return out
}

// PerformAllIndexed is PerformAll but additionally reports, for each
// failure, the top-level slot index it was rewritten from.
func PerformAllIndexed(reg theory.Registry, ps *trace.PrincipalState) []Failure {
	var failures []Failure
	for i := range ps.Values {
		v := ps.Values[i].Assigned
		ps.Values[i].BeforeRewrite = v
		switch vv := v.(type) {
		case *value.Primitive:
			r := RewritePrimitive(reg, vv, i, ps)
			for _, p := range r.FailedRewrites {
				failures = append(failures, Failure{Primitive: p, SlotIndex: i})
			}
		case *value.Equation:
			r := RewriteEquation(reg, vv, i, ps)
			for _, p := range r.FailedRewrites {
				failures = append(failures, Failure{Primitive: p, SlotIndex: i})
			}
		}
	}
	return failures
}

// RewritePrimitive rewrites p (optionally writing the reduced result back
// into ps.Values[slotIndex], when slotIndex >= 0), first rewriting its
// arguments bottom-up, then trying Rebuild, then Rewrite.
func RewritePrimitive(reg theory.Registry, p *value.Primitive, slotIndex int, ps *trace.PrincipalState) Result {
	r := rewriteArguments(reg, p, ps)
	if r.Rewritten && ps != nil && slotIndex >= 0 && slotIndex < len(ps.Values) {
		// An argument reduced even if the enclosing primitive may not;
		// the slot keeps the most-reduced form seen so far. The slot's
		// Rewritten flag is reserved for the enclosing primitive's own
		// reduction, which guard checks key off.
		ps.Values[slotIndex].Assigned = r.Value
	}
	rewriteP, ok := value.IsPrimitive(r.Value)
	if !ok {
		return r
	}
	if rebuilt, ok := theory.Rebuild(reg, rewriteP); ok {
		setAssigned(ps, slotIndex, rebuilt)
		r.Value = rebuilt
		r.Rewritten = true
		if _, isPrim := value.IsPrimitive(rebuilt); !isPrim {
			return r
		}
		rewriteP, _ = value.IsPrimitive(rebuilt)
	}
	rewritten, ok := theory.Rewrite(reg, rewriteP)
	if !ok {
		// Only primitives that declare a Rewrite rule (i.e. that invert
		// some other primitive, like DEC/ENC or SIGNVERIF/SIGN) are
		// candidates for "failed to reduce" bookkeeping. A primitive with
		// no Rewrite rule at all (HASH, SIGN, MAC, ...) is not expected to
		// reduce and must not be reported as a failure.
		if spec, ok := reg.Lookup(rewriteP.ID); ok && (spec.Rewrite != nil || (spec.Core && spec.CoreRewrite != nil)) {
			r.FailedRewrites = append(r.FailedRewrites, rewriteP)
		}
		return r
	}
	setAssigned(ps, slotIndex, rewritten)
	r.Value = rewritten
	r.Rewritten = true
	return r
}

func setAssigned(ps *trace.PrincipalState, slotIndex int, v value.Value) {
	if ps == nil || slotIndex < 0 || slotIndex >= len(ps.Values) {
		return
	}
	ps.Values[slotIndex].Assigned = v
	ps.Values[slotIndex].Rewritten = true
}

func rewriteArguments(reg theory.Registry, p *value.Primitive, ps *trace.PrincipalState) Result {
	var failures []*value.Primitive
	rewritten := false
	var newArgs []value.Value
	for i, a := range p.Arguments {
		switch av := a.(type) {
		case value.Constant:
		case *value.Primitive:
			r := RewritePrimitive(reg, av, -1, ps)
			if r.Rewritten {
				rewritten = true
				if newArgs == nil {
					newArgs = append([]value.Value(nil), p.Arguments...)
				}
				newArgs[i] = r.Value
			} else {
				failures = append(failures, r.FailedRewrites...)
			}
		case *value.Equation:
			r := RewriteEquation(reg, av, -1, ps)
			if r.Rewritten {
				rewritten = true
				if newArgs == nil {
					newArgs = append([]value.Value(nil), p.Arguments...)
				}
				newArgs[i] = r.Value
			} else {
				failures = append(failures, r.FailedRewrites...)
			}
		}
	}
	out := p
	if newArgs != nil {
		out = p.WithArguments(newArgs)
	}
	return Result{Value: out, Rewritten: rewritten, FailedRewrites: failures}
}

// RewriteEquation rewrites every primitive term of e, splicing any term
// that reduces to an equation into the parent sequence.
func RewriteEquation(reg theory.Registry, e *value.Equation, slotIndex int, ps *trace.PrincipalState) Result {
	var out []value.Value
	var failures []*value.Primitive
	rewritten := false
	for _, a := range e.Values {
		switch av := a.(type) {
		case value.Constant:
			out = append(out, av)
		case *value.Primitive:
			r := RewritePrimitive(reg, av, -1, ps)
			if !r.Rewritten {
				out = append(out, a)
				failures = append(failures, r.FailedRewrites...)
				continue
			}
			rewritten = true
			switch rv := r.Value.(type) {
			case *value.Equation:
				out = append(out, rv.Values...)
			default:
				out = append(out, r.Value)
			}
		case *value.Equation:
			r := RewriteEquation(reg, av, -1, ps)
			if !r.Rewritten {
				out = append(out, a)
				failures = append(failures, r.FailedRewrites...)
				continue
			}
			rewritten = true
			out = append(out, r.Value)
		}
	}
	result := value.Value(&value.Equation{Values: out})
	if rewritten {
		setAssigned(ps, slotIndex, result)
	}
	return Result{Value: result, Rewritten: rewritten, FailedRewrites: failures}
}
