package mutation

import (
	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/theory"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// Resolved reports whether the search should stop manufacturing further
// injectants because every query has already resolved. Set by package
// search before calling Inject; nil means "never stop early".
var Resolved func() bool

func allResolved() bool {
	return Resolved != nil && Resolved()
}

// Inject manufactures forged instances of p by substituting, at every
// argument position, attacker-known values of a compatible shape — this
// is how the search invents novel ciphertexts, signatures, and MACs that
// were never actually produced by any principal, bounded by
// MaxInjectionsPerPrimitive and, at deep stages, recursing into known
// primitives' own arguments (StageRecursiveInjection).
func Inject(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, p *value.Primitive, depth int, ps *trace.PrincipalState, stage int) []value.Value {
	if allResolved() {
		return nil
	}
	return injectPrimitive(reg, state, snap, p, ps, depth, stage)
}

func injectPrimitive(reg theory.Registry, state *attacker.State, snap attacker.Snapshot, p *value.Primitive, ps *trace.PrincipalState, depth, stage int) []value.Value {
	if stageRestricted(reg, p, stage) {
		return nil
	}
	n := len(p.Arguments)
	if n == 0 {
		return nil
	}
	kinjectants := make([][]value.Value, n)
	for arg := 0; arg < n; arg++ {
		if allResolved() {
			return nil
		}
		for _, k := range snap.Known() {
			resolved := k
			if c, ok := value.IsConstant(k); ok {
				resolved, _ = ps.ResolveConstant(c, true)
			}
			if !valueRules(reg, resolved, arg, p, stage) {
				continue
			}
			if value.EquivalentInList(resolved, kinjectants[arg]) < 0 {
				kinjectants[arg] = append(kinjectants[arg], resolved)
			}
			if kp, ok := value.IsPrimitive(resolved); ok {
				if stage >= StageRecursiveInjection && depth <= stage-StageRecursiveInjection {
					for _, kkp := range Inject(reg, state, snap, kp, depth+1, ps, stage) {
						if value.EquivalentInList(kkp, kinjectants[arg]) < 0 {
							kinjectants[arg] = append(kinjectants[arg], kkp)
						}
					}
				}
			}
		}
	}
	return injectLoopN(p, kinjectants)
}

func valueRules(reg theory.Registry, k value.Value, arg int, p *value.Primitive, stage int) bool {
	switch kv := k.(type) {
	case value.Constant:
		if _, ok := value.IsConstant(p.Arguments[arg]); !ok {
			return false
		}
		return kv.ID != value.G().ID
	case *value.Primitive:
		if _, ok := value.IsPrimitive(p.Arguments[arg]); !ok {
			return false
		}
		if stageRestricted(reg, kv, stage) {
			return false
		}
		refP, ok := value.IsPrimitive(p.Arguments[arg])
		if !ok {
			return false
		}
		return value.SkeletonEquivalent(kv, refP)
	case *value.Equation:
		pe, ok := value.IsEquation(p.Arguments[arg])
		return ok && len(kv.Values) == len(pe.Values)
	default:
		return false
	}
}

// stageRestricted gates the injector by search stage: the small
// stages admit only constant-style replacements (no manufactured
// primitives at all), the mid stages defer the explosive primitives
// (variadic hashes and the like, whose injection sets blow up the
// Cartesian product), and the late stages admit everything.
func stageRestricted(reg theory.Registry, p *value.Primitive, stage int) bool {
	switch {
	case stage <= 1:
		return true
	case stage == 2:
		spec, ok := reg.Lookup(p.ID)
		return ok && spec.Explosive
	default:
		return false
	}
}

func injectLoopN(p *value.Primitive, kinjectants [][]value.Value) []value.Value {
	if allResolved() {
		return nil
	}
	n := len(kinjectants)
	if n == 0 {
		return nil
	}
	for _, k := range kinjectants {
		if len(k) == 0 {
			return nil
		}
	}
	totalSize := 1
	for _, k := range kinjectants {
		if totalSize > MaxInjectionsPerPrimitive/len(k) {
			totalSize = MaxInjectionsPerPrimitive
			break
		}
		totalSize *= len(k)
	}
	if totalSize > MaxInjectionsPerPrimitive {
		totalSize = MaxInjectionsPerPrimitive
	}
	out := make([]value.Value, 0, totalSize)
	indices := make([]int, n)
	for {
		if allResolved() {
			return out
		}
		args := make([]value.Value, n)
		for j := 0; j < n; j++ {
			args[j] = kinjectants[j][indices[j]]
		}
		out = append(out, &value.Primitive{ID: p.ID, Arguments: args, Output: p.Output, InstanceCheck: p.InstanceCheck})
		if len(out) >= MaxInjectionsPerPrimitive {
			break
		}
		carry := true
		for j := n - 1; j >= 0 && carry; j-- {
			indices[j]++
			if indices[j] < len(kinjectants[j]) {
				carry = false
			} else {
				indices[j] = 0
			}
		}
		if carry {
			break
		}
	}
	return out
}

// MissingSkeletons recursively ensures the attacker knows a skeleton
// placeholder for p and every nested primitive argument, so the deduction
// closure can later specialize it rather than needing injection to
// rediscover the same shape from scratch every stage.
func MissingSkeletons(state *attacker.State, snap attacker.Snapshot, p *value.Primitive, ps *trace.PrincipalState) {
	skeleton := value.Skeleton(p)
	h := value.SkeletonHashOf(p)
	if !snap.HasSkeleton(h) {
		state.Put(skeleton, ps)
	}
	for _, a := range p.Arguments {
		if ap, ok := value.IsPrimitive(a); ok {
			MissingSkeletons(state, snap, ap, ps)
		}
	}
}
