package value

import "sort"

// knuthMul is the 32-bit Knuth multiplicative hash constant used to mix
// a Primitive's id into both the value and skeleton hashes (the value
// hash also mixes in its output; the skeleton hash does not).
const knuthMul uint64 = 2654435761

// Hash computes a 64-bit hash compatible with Equivalent: equivalent values
// always hash equal. This is the symbolic value-algebra hash used to index
// attacker knowledge — unrelated to the BLAKE2b-based display-id hashing in
// package diag, which exists purely for human-facing attack-trace ids.
func Hash(v Value) uint64 {
	switch vv := v.(type) {
	case Constant:
		return uint64(vv.ID)
	case *Primitive:
		return hashPrimitive(vv)
	case *Equation:
		return hashEquation(vv)
	default:
		return 0
	}
}

func hashPrimitive(p *Primitive) uint64 {
	h := (uint64(p.ID)+1)*knuthMul + uint64(p.Output)*31
	for _, a := range p.Arguments {
		h = h*31 + Hash(a)
	}
	return h
}

func hashEquation(e *Equation) uint64 {
	fe := Flatten(e)
	n := len(fe.Values)
	switch {
	case n == 0:
		return 0
	case n == 1, n == 2:
		h := uint64(n) * 97
		for _, v := range fe.Values {
			h = h*31 + Hash(v)
		}
		return h
	case n == 3:
		// Commutative combiner: sort the two exponent hashes so g^a^b and
		// g^b^a hash identically, and leave the base out, matching
		// equivalentEquations' treatment of length-3 equations.
		a := Hash(fe.Values[1])
		b := Hash(fe.Values[2])
		if a > b {
			a, b = b, a
		}
		h := uint64(n) * 97
		h = h*31 + a
		h = h*31 + b
		return h
	default:
		exps := make([]uint64, n-1)
		for i, v := range fe.Values[1:] {
			exps[i] = Hash(v)
		}
		sort.Slice(exps, func(i, j int) bool { return exps[i] < exps[j] })
		h := Hash(fe.Values[0])
		for _, e := range exps {
			h = h*31 + e
		}
		return h
	}
}
