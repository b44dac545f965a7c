package value

// Skeleton normalizes a primitive for injection-deduplication purposes:
// every constant argument becomes Nil, nested primitives recurse, and
// equations collapse to length-matching canonical placeholders (G,
// GNil, or GNilNil). This is the active search's primary performance
// lever: primitives with equal skeletons are treated as already explored.
func Skeleton(p *Primitive) *Primitive {
	args := make([]Value, len(p.Arguments))
	for i, a := range p.Arguments {
		switch av := a.(type) {
		case Constant:
			args[i] = Nil()
		case *Primitive:
			args[i] = Skeleton(av)
		case *Equation:
			switch len(av.Values) {
			case 0, 1:
				args[i] = G()
			case 2:
				args[i] = GNil()
			default:
				args[i] = GNilNil()
			}
		default:
			args[i] = a
		}
	}
	return &Primitive{ID: p.ID, Arguments: args, Output: p.Output}
}

// SkeletonDepth returns the depth of nested primitives within p (1 for a
// primitive with no primitive-valued arguments).
func SkeletonDepth(p *Primitive) int {
	max := 0
	for _, a := range p.Arguments {
		if ap, ok := IsPrimitive(a); ok {
			d := SkeletonDepth(ap)
			if d > max {
				max = d
			}
		}
	}
	return max + 1
}

// SkeletonHash hashes p's own shape (assumed already a skeleton): constants
// contribute a constant term, nested primitives recurse, equations
// contribute their length.
func SkeletonHash(p *Primitive) uint64 {
	h := uint64(p.ID)*knuthMul + 1
	for _, a := range p.Arguments {
		switch av := a.(type) {
		case Constant:
			h = h*31 + 1
		case *Primitive:
			h = h*31 + SkeletonHash(av)
		case *Equation:
			h = h*31 + uint64(len(av.Values))*97
		}
	}
	return h
}

// SkeletonHashOf computes the skeleton form of p and hashes it in one step.
func SkeletonHashOf(p *Primitive) uint64 {
	return SkeletonHash(Skeleton(p))
}

// SkeletonEquivalent reports whether p is interchangeable with reference for
// injection purposes: same id, a reference skeleton no deeper than p's,
// equal skeleton hash, and
// (to guard against hash collisions) structurally equivalent skeletons.
func SkeletonEquivalent(p, reference *Primitive) bool {
	if p.ID != reference.ID {
		return false
	}
	if SkeletonDepth(reference) > SkeletonDepth(p) {
		return false
	}
	if SkeletonHash(Skeleton(p)) != SkeletonHash(Skeleton(reference)) {
		return false
	}
	return Equivalent(Skeleton(p), Skeleton(reference), false)
}
