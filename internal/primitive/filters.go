package primitive

import "github.com/opal-lang/verifpal-go/internal/value"

// FilterIdentity passes the value through unchanged. The default filter for
// rules that need no argument preprocessing.
func FilterIdentity(v value.Value) (value.Value, bool) { return v, true }

// FilterExtractDHExponent extracts the last exponent of a DH equation,
// e.g. turning a public key g^sk into its private exponent sk. Used by
// SIGNVERIF/RINGSIGNVERIF's rewrite matching (the verification key's
// matching inner SIGN must have been produced with the same exponent) and
// by PKE_ENC's decompose rule. SIGNVERIF's BypassLastExponent key is
// extracted the same way, by package search rather than through this
// filter.
func FilterExtractDHExponent(v value.Value) (value.Value, bool) {
	e, ok := value.IsEquation(v)
	if !ok || len(e.Values) < 2 {
		return nil, false
	}
	return e.Values[len(e.Values)-1], true
}

// FilterPKEDecRewrite extracts the matching public key from a private-key
// argument by wrapping it in g^sk, so it can be compared against the
// PKE_ENC's recipient-key argument (which is stored as g^sk already).
func FilterPKEDecRewrite(v value.Value) (value.Value, bool) {
	return &value.Equation{Values: []value.Value{value.G(), v}}, true
}

// FilterAEADDecRewrite passes the key argument through unchanged; present
// as a named hook so a future catalogue change has an obvious place to
// add key-derivation preprocessing without touching the rewrite rule
// shape.
func FilterAEADDecRewrite(v value.Value) (value.Value, bool) { return v, true }

// FilterDecRewrite mirrors FilterAEADDecRewrite for plain symmetric ENC/DEC.
func FilterDecRewrite(v value.Value) (value.Value, bool) { return v, true }

