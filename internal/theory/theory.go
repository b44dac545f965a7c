// Package theory centralizes the equational theory: the six
// derivation operations by which the attacker grows its knowledge set and
// by which the rewriter reduces a principal's local computations. Every
// operation is driven by the declarative internal/primitive catalogue —
// adding a primitive never requires touching this package.
package theory

import (
	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// MaxDepth bounds recursion for every derivation operation below, guarding
// against runaway mutual recursion between Decompose/Reconstruct.
const MaxDepth = 16

// Registry is the catalogue view every derivation function reads from;
// passed explicitly rather than read from primitive.Default so tests can
// supply a restricted catalogue.
type Registry interface {
	Lookup(id value.PrimitiveID) (primitive.Spec, bool)
	IsCore(id value.PrimitiveID) bool
}

// PassivelyDecompose extracts arguments a primitive always reveals without
// any key knowledge (e.g. AEAD associated data, CONCAT's members).
func PassivelyDecompose(reg Registry, p *value.Primitive) []value.Value {
	if reg.IsCore(p.ID) {
		return nil
	}
	spec, ok := reg.Lookup(p.ID)
	if !ok || spec.Decompose == nil {
		return nil
	}
	var out []value.Value
	for _, i := range spec.Decompose.PassiveReveal {
		if i < len(p.Arguments) {
			out = append(out, p.Arguments[i])
		}
	}
	return out
}

// DecomposeResult is the outcome of a successful active decomposition: the
// revealed value plus the "given" values the attacker needed to know (used
// by callers that need to record why a decomposition succeeded).
type DecomposeResult struct {
	Revealed value.Value
	Given    []value.Value
}

// CanDecompose attempts to actively decompose p: if every "given" argument
// (after its Filter, if any) is known or derivable, the hidden argument is
// revealed. Given arguments may be known directly or obtained indirectly by
// reconstruction or further decomposition (mutual recursion with
// CanReconstructPrimitive, depth-bounded).
func CanDecompose(reg Registry, p *value.Primitive, ps *trace.PrincipalState, snap attacker.Snapshot, depth int) (DecomposeResult, bool) {
	if depth > MaxDepth || reg.IsCore(p.ID) {
		return DecomposeResult{}, false
	}
	spec, ok := reg.Lookup(p.ID)
	if !ok || spec.Decompose == nil {
		return DecomposeResult{}, false
	}
	rule := spec.Decompose
	var given []value.Value
	for _, idx := range rule.Given {
		if idx >= len(p.Arguments) {
			continue
		}
		arg := p.Arguments[idx]
		filtered := arg
		if rule.Filter != nil {
			f, valid := rule.Filter(arg)
			if !valid {
				return DecomposeResult{}, false
			}
			filtered = f
		}
		if snap.Knows(filtered) {
			given = append(given, filtered)
			continue
		}
		if inner, ok := value.IsPrimitive(filtered); ok {
			if _, ok := CanReconstructPrimitive(reg, inner, ps, snap, depth+1); ok {
				given = append(given, filtered)
				continue
			}
		}
		return DecomposeResult{}, false
	}
	if rule.Reveal >= len(p.Arguments) {
		return DecomposeResult{}, false
	}
	return DecomposeResult{Revealed: p.Arguments[rule.Reveal], Given: given}, true
}

// CanRecompose attempts threshold recomposition (e.g. 2-of-3 Shamir
// shares): if the attacker knows enough output shares from any one of the
// rule's ShareSets of a primitive with id Inner, the original input is
// recovered.
func CanRecompose(reg Registry, target value.PrimitiveID, snap attacker.Snapshot) (value.Value, bool) {
	spec, ok := reg.Lookup(target)
	if !ok || spec.Recompose == nil {
		return nil, false
	}
	rule := spec.Recompose
	known := snap.Known()
	for _, shareSet := range rule.ShareSets {
		matches := make([]*value.Primitive, 0, len(shareSet))
		for _, wantOutput := range shareSet {
			found := findShare(known, rule.Inner, wantOutput)
			if found == nil {
				matches = nil
				break
			}
			matches = append(matches, found)
		}
		if len(matches) != len(shareSet) {
			continue
		}
		if len(matches) == 0 {
			continue
		}
		base := matches[0]
		if rule.Reveal < len(base.Arguments) {
			return base.Arguments[rule.Reveal], true
		}
	}
	return nil, false
}

func findShare(known []value.Value, inner value.PrimitiveID, output int) *value.Primitive {
	for _, v := range known {
		p, ok := value.IsPrimitive(v)
		if !ok || p.ID != inner || p.Output != output {
			continue
		}
		return p
	}
	return nil
}

// CanReconstructPrimitive reports whether every argument of p is known or
// recursively reconstructible/decomposable, meaning the attacker can build
// p itself from components already in or derivable from its knowledge.
func CanReconstructPrimitive(reg Registry, p *value.Primitive, ps *trace.PrincipalState, snap attacker.Snapshot, depth int) (*value.Primitive, bool) {
	if depth > MaxDepth {
		return nil, false
	}
	if snap.Knows(p) {
		return p, true
	}
	for _, a := range p.Arguments {
		if !canReconstructValue(reg, a, ps, snap, depth+1) {
			return nil, false
		}
	}
	return p, true
}

// CanReconstructEquation reports whether the attacker can assemble a DH
// equation: a length-2 equation needs the exponent, a length-3 equation
// needs either both exponents or one exponent plus the opposite partial
// equation (g^a^b is computable from b and g^a, commutativity covering
// the other order).
func CanReconstructEquation(reg Registry, e *value.Equation, ps *trace.PrincipalState, snap attacker.Snapshot, depth int) bool {
	if depth > MaxDepth {
		return false
	}
	if snap.Knows(e) {
		return true
	}
	flat := value.Flatten(e)
	if len(flat.Values) == 3 {
		base, a, b := flat.Values[0], flat.Values[1], flat.Values[2]
		ga := &value.Equation{Values: []value.Value{base, a}}
		gb := &value.Equation{Values: []value.Value{base, b}}
		if canReconstructValue(reg, a, ps, snap, depth+1) && snap.Knows(gb) {
			return true
		}
		if canReconstructValue(reg, b, ps, snap, depth+1) && snap.Knows(ga) {
			return true
		}
	}
	for _, v := range flat.Values {
		if !canReconstructValue(reg, v, ps, snap, depth+1) {
			return false
		}
	}
	return true
}

func canReconstructValue(reg Registry, v value.Value, ps *trace.PrincipalState, snap attacker.Snapshot, depth int) bool {
	if snap.Knows(v) {
		return true
	}
	switch vv := v.(type) {
	case value.Constant:
		return false
	case *value.Primitive:
		if _, ok := CanReconstructPrimitive(reg, vv, ps, snap, depth); ok {
			return true
		}
		_, ok := CanDecompose(reg, vv, ps, snap, depth)
		return ok
	case *value.Equation:
		return CanReconstructEquation(reg, vv, ps, snap, depth)
	default:
		return false
	}
}

// Rewrite attempts the symbolic rewrite rule for p (e.g. SIGNVERIF
// collapsing against a matching SIGN). Every Matching constraint is
// decided by structural equivalence (after the constraint's Filter, if
// any); attacker knowledge plays no part. Returns the rewritten value and
// whether the rule applied.
func Rewrite(reg Registry, p *value.Primitive) (value.Value, bool) {
	spec, ok := reg.Lookup(p.ID)
	if !ok {
		return nil, false
	}
	if spec.Core {
		if spec.CoreRewrite == nil {
			return nil, false
		}
		return spec.CoreRewrite(p)
	}
	if spec.Rewrite == nil {
		return nil, false
	}
	rule := spec.Rewrite
	if rule.From >= len(p.Arguments) {
		return nil, false
	}
	inner, ok := value.IsPrimitive(p.Arguments[rule.From])
	if !ok || inner.ID != rule.Inner {
		return nil, false
	}
	for _, m := range rule.Matching {
		if m.MyArg >= len(p.Arguments) || m.InnerArg >= len(inner.Arguments) {
			return nil, false
		}
		mine := p.Arguments[m.MyArg]
		if m.Filter != nil {
			f, valid := m.Filter(mine)
			if !valid {
				return nil, false
			}
			mine = f
		}
		if !value.Equivalent(mine, inner.Arguments[m.InnerArg], true) {
			return nil, false
		}
	}
	return rule.To(p, inner)
}

// Rebuild eagerly rejoins a primitive whose arguments are matching
// outputs of the same inner primitive instance — e.g.
// SHAMIR_JOIN(SHAMIR_SPLIT(s)[0], SHAMIR_SPLIT(s)[2]) collapses to s the
// moment two distinct-output shares of one split meet, without waiting
// for the attacker-knowledge recompose path. The catalogue's Recompose
// rule doubles as the rebuild description: Inner names the producing
// primitive, ShareSets the sufficient output combinations, and Reveal the
// inner argument recovered.
func Rebuild(reg Registry, p *value.Primitive) (value.Value, bool) {
	spec, ok := reg.Lookup(p.ID)
	if !ok || !spec.Rebuild || spec.Recompose == nil {
		return nil, false
	}
	rule := spec.Recompose
	for i := 0; i < len(p.Arguments); i++ {
		a, ok := value.IsPrimitive(p.Arguments[i])
		if !ok || a.ID != rule.Inner {
			continue
		}
		for j := i + 1; j < len(p.Arguments); j++ {
			b, ok := value.IsPrimitive(p.Arguments[j])
			if !ok || b.ID != rule.Inner {
				continue
			}
			if a.Output == b.Output {
				continue
			}
			if !value.Equivalent(a, b, false) {
				continue
			}
			if shareSetCovered(rule.ShareSets, a.Output, b.Output) && rule.Reveal < len(a.Arguments) {
				return a.Arguments[rule.Reveal], true
			}
		}
	}
	return nil, false
}

func shareSetCovered(shareSets [][]int, x, y int) bool {
	for _, set := range shareSets {
		foundX, foundY := false, false
		for _, s := range set {
			if s == x {
				foundX = true
			}
			if s == y {
				foundY = true
			}
		}
		if foundX && foundY {
			return true
		}
	}
	return false
}
