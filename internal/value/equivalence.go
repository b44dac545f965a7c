package value

// Equivalent decides structural equivalence modulo DH commutativity.
// considerOutput also requires Primitive.Output to match — callers that
// only care about which primitive-shape produced a value (e.g. theory's
// Rebuild, which compares shares that differ in output, and skeleton
// comparison) pass false.
func Equivalent(a, b Value, considerOutput bool) bool {
	switch av := a.(type) {
	case Constant:
		bv, ok := b.(Constant)
		return ok && av.ID == bv.ID
	case *Primitive:
		bv, ok := b.(*Primitive)
		if !ok {
			return false
		}
		return equivalentPrimitives(av, bv, considerOutput)
	case *Equation:
		bv, ok := b.(*Equation)
		if !ok {
			return false
		}
		return equivalentEquations(av, bv)
	default:
		return false
	}
}

func equivalentPrimitives(a, b *Primitive, considerOutput bool) bool {
	if a.ID != b.ID {
		return false
	}
	if considerOutput && a.Output != b.Output {
		return false
	}
	if len(a.Arguments) != len(b.Arguments) {
		return false
	}
	for i := range a.Arguments {
		if !Equivalent(a.Arguments[i], b.Arguments[i], considerOutput) {
			return false
		}
	}
	return true
}

func equivalentEquations(a, b *Equation) bool {
	fa := Flatten(a)
	fb := Flatten(b)
	// An equation with no terms is never equivalent to anything, including
	// itself: empty equations are not valid surface-level values and this
	// keeps malformed inputs from masking themselves as "resolved".
	if len(fa.Values) == 0 || len(fb.Values) == 0 {
		return false
	}
	if len(fa.Values) != len(fb.Values) {
		return false
	}
	switch len(fa.Values) {
	case 1, 2:
		for i := range fa.Values {
			if !Equivalent(fa.Values[i], fb.Values[i], true) {
				return false
			}
		}
		return true
	case 3:
		// g^a^b == g^b^a: base not examined, exponents form a 2-multiset.
		return commutativeMultisetEqual(fa.Values[1:], fb.Values[1:])
	default:
		// length > 3: base must match exactly, exponents are a full
		// commutative multiset checked by bijective permutation matching.
		if !Equivalent(fa.Values[0], fb.Values[0], true) {
			return false
		}
		return commutativeMultisetEqual(fa.Values[1:], fb.Values[1:])
	}
}

// commutativeMultisetEqual checks that xs and ys contain pairwise-equivalent
// elements up to permutation, via a greedy bijective match with a claim
// array (each element of ys may satisfy at most one element of xs).
func commutativeMultisetEqual(xs, ys []Value) bool {
	if len(xs) != len(ys) {
		return false
	}
	claimed := make([]bool, len(ys))
	for _, x := range xs {
		found := false
		for j, y := range ys {
			if claimed[j] {
				continue
			}
			if Equivalent(x, y, true) {
				claimed[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Flatten splices any nested *Equation elements into the parent sequence,
// dropping the nested equation's own generator (its index 0), since the
// generator is shared by the enclosing equation. Flatten is idempotent and
// preserves equivalence.
func Flatten(e *Equation) *Equation {
	out := make([]Value, 0, len(e.Values))
	for _, v := range e.Values {
		if inner, ok := IsEquation(v); ok {
			flatInner := Flatten(inner)
			if len(flatInner.Values) > 1 {
				out = append(out, flatInner.Values[1:]...)
			} else if len(flatInner.Values) == 1 {
				out = append(out, flatInner.Values[0])
			}
			continue
		}
		out = append(out, v)
	}
	return &Equation{Values: out}
}

// EquivalentInList returns the index of the first value in vs equivalent
// to v, or -1 if none match. Used for linear-scan de-duplication where a
// hash-indexed map isn't already at hand.
func EquivalentInList(v Value, vs []Value) int {
	for i, w := range vs {
		if Equivalent(v, w, true) {
			return i
		}
	}
	return -1
}
