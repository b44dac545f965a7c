// Package value implements the symbolic value algebra: constants,
// primitives, and Diffie-Hellman equations, with equivalence and hashing
// that respect DH commutativity, plus flattening of nested equations.
//
// Compound values (*Primitive, *Equation) are immutable once constructed
// and shared by pointer; the garbage collector makes explicit refcounting
// unnecessary.
package value

import "fmt"

// PrimitiveID identifies a cryptographic operation in the primitive
// catalogue (package primitive). Kept here, not in package primitive, so
// that the value algebra has no dependency on the catalogue — only the
// catalogue depends on the algebra.
type PrimitiveID uint8

// Declaration records how a Constant entered the protocol.
type Declaration uint8

const (
	DeclKnows Declaration = iota
	DeclGenerates
	DeclAssignment
	DeclLeaks
)

// Qualifier records a Constant's trust classification.
type Qualifier uint8

const (
	QualEmpty Qualifier = iota
	QualPrivate
	QualPublic
	QualPassword
)

// Value is the tagged union of the symbolic algebra: Constant,
// *Primitive, or *Equation. Implemented as an interface rather than a
// struct-with-kind-field, since the three variants carry materially
// different data and callers almost always type-switch on kind anyway.
type Value interface {
	isValue()
	String() string
}

// Constant is a reference to a declared name. Immutable once built.
type Constant struct {
	Name        string
	ID          uint32
	Guard       bool
	Fresh       bool
	Leaked      bool
	Declaration Declaration
	Qualifier   Qualifier
}

func (Constant) isValue() {}

func (c Constant) String() string { return c.Name }

// Primitive is a cryptographic operation applied to an ordered argument
// list. Output selects which result component this Value refers to for
// multi-output primitives (e.g. HKDF, SHAMIR_SPLIT). InstanceCheck is the
// surface `?` suffix: "this rewrite must succeed in a well-formed protocol".
type Primitive struct {
	ID            PrimitiveID
	Arguments     []Value
	Output        int
	InstanceCheck bool
}

func (*Primitive) isValue() {}

func (p *Primitive) String() string {
	s := fmt.Sprintf("PRIM%d(", p.ID)
	for i, a := range p.Arguments {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	s += ")"
	if p.InstanceCheck {
		s += "?"
	}
	return s
}

// WithArguments returns a shallow copy of p with new arguments, preserving
// Output and InstanceCheck. Used by the rewriter's clone-on-write recursion:
// a new Primitive is only allocated when a child actually changed.
func (p *Primitive) WithArguments(args []Value) *Primitive {
	return &Primitive{ID: p.ID, Arguments: args, Output: p.Output, InstanceCheck: p.InstanceCheck}
}

// Equation is a sequence of values interpreted as repeated DH exponentiation
// e[0]^e[1]^e[2].... By invariant, any Equation exposed to the protocol has
// e[0] == G at the root, checked once each principal's state is resolved
// (package verify reports a violation as a *diag.SanityError).
type Equation struct {
	Values []Value
}

func (*Equation) isValue() {}

func (e *Equation) String() string {
	s := ""
	for i, v := range e.Values {
		if i > 0 {
			s += "^"
		}
		s += v.String()
	}
	return s
}

// G returns the reserved generator constant.
func G() Constant { return Constant{Name: "g", ID: 1} }

// Nil returns the reserved nil constant, used as a canonical
// attacker-controlled placeholder.
func Nil() Constant { return Constant{Name: "nil", ID: 0} }

// GNil returns g^nil, the attacker's canonical "own public key" placeholder
// used throughout the active search (targeted MitM bypass, equation
// mutation slots).
func GNil() *Equation {
	return &Equation{Values: []Value{G(), Nil()}}
}

// GNilNil returns g^nil^nil, the length-3 equation placeholder.
func GNilNil() *Equation {
	return &Equation{Values: []Value{G(), Nil(), Nil()}}
}

// IsConstant reports whether v is a Constant and returns it.
func IsConstant(v Value) (Constant, bool) {
	c, ok := v.(Constant)
	return c, ok
}

// IsPrimitive reports whether v is a *Primitive and returns it.
func IsPrimitive(v Value) (*Primitive, bool) {
	p, ok := v.(*Primitive)
	return p, ok
}

// IsEquation reports whether v is an *Equation and returns it.
func IsEquation(v Value) (*Equation, bool) {
	e, ok := v.(*Equation)
	return e, ok
}

// ContainsFresh reports whether v, recursively through any primitive
// argument or equation element, references a constant declared with
// `generates` — the freshness queries key off this.
func ContainsFresh(v Value) bool {
	switch vv := v.(type) {
	case Constant:
		return vv.Fresh
	case *Primitive:
		for _, a := range vv.Arguments {
			if ContainsFresh(a) {
				return true
			}
		}
		return false
	case *Equation:
		for _, e := range vv.Values {
			if ContainsFresh(e) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
