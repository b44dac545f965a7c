package primitive

import "github.com/opal-lang/verifpal-go/internal/value"

// Build returns the concrete minimum-viable catalogue: authenticated and
// unauthenticated symmetric encryption, public-key encryption, signatures
// and verification, MAC, hash and password-hash, HKDF, concatenation and
// split, threshold secret-sharing, ring signatures, and blind/unblind.
// Ids are fixed so golden-scenario results codes stay reproducible.
func Build() []Spec {
	return []Spec{
		{
			ID: ASSERT, Name: "ASSERT", Arities: []int{2}, Outputs: 1,
			Core: true, DefinitionCheck: true,
			CoreRewrite: coreRewriteAssert,
		},
		{
			ID: CONCAT, Name: "CONCAT", Arities: nil, Outputs: 1,
			Core: true, RevealsArgs: true, Explosive: true,
		},
		{
			ID: SPLIT, Name: "SPLIT", Arities: []int{1}, Outputs: 1,
			Core: true,
			CoreRewrite: coreRewriteSplit,
		},
		{
			ID: PWHASH, Name: "PWHASH", Arities: []int{1, 2, 3, 4, 5}, Outputs: 1,
			PasswordHashing: []int{0, 1, 2, 3, 4},
			Explosive:       true,
		},
		{
			ID: HASH, Name: "HASH", Arities: nil, Outputs: 1,
			Explosive: true,
		},
		{
			ID: HKDF, Name: "HKDF", Arities: []int{3}, Outputs: 3,
			Explosive: true,
		},
		{
			ID: AEAD_ENC, Name: "AEAD_ENC", Arities: []int{3}, Outputs: 1,
			Decompose: &DecomposeRule{
				Given: []int{0}, Reveal: 1, Filter: FilterIdentity,
				PassiveReveal: []int{2},
			},
			PasswordHashing: []int{1},
		},
		{
			ID: AEAD_DEC, Name: "AEAD_DEC", Arities: []int{3}, Outputs: 1,
			DefinitionCheck: true,
			BypassKey:       &BypassKeySpec{Kind: BypassDirect, Arg: 0},
			Rewrite: &RewriteRule{
				From: 1, Inner: AEAD_ENC,
				Matching: []MatchConstraint{
					{MyArg: 0, InnerArg: 0, Filter: FilterAEADDecRewrite},
					{MyArg: 2, InnerArg: 2},
				},
				To: func(_, inner *value.Primitive) (value.Value, bool) {
					return inner.Arguments[1], true
				},
			},
		},
		{
			ID: ENC, Name: "ENC", Arities: []int{2}, Outputs: 1,
			Decompose:       &DecomposeRule{Given: []int{0}, Reveal: 1, Filter: FilterIdentity},
			PasswordHashing: []int{1},
		},
		{
			ID: DEC, Name: "DEC", Arities: []int{2}, Outputs: 1,
			DefinitionCheck: true,
			BypassKey:       &BypassKeySpec{Kind: BypassDirect, Arg: 0},
			Rewrite: &RewriteRule{
				From: 1, Inner: ENC,
				Matching: []MatchConstraint{{MyArg: 0, InnerArg: 0, Filter: FilterDecRewrite}},
				To: func(_, inner *value.Primitive) (value.Value, bool) {
					return inner.Arguments[1], true
				},
			},
		},
		{
			ID: MAC, Name: "MAC", Arities: []int{2}, Outputs: 1,
			Decompose:       &DecomposeRule{Given: []int{0}, Reveal: 1, Filter: FilterIdentity},
			PasswordHashing: []int{1},
		},
		{
			ID: SIGN, Name: "SIGN", Arities: []int{2}, Outputs: 1,
			PasswordHashing: []int{1},
		},
		{
			ID: SIGNVERIF, Name: "SIGNVERIF", Arities: []int{3}, Outputs: 1,
			DefinitionCheck: true,
			BypassKey:       &BypassKeySpec{Kind: BypassLastExponent, Arg: 0},
			Rewrite: &RewriteRule{
				From: 2, Inner: SIGN,
				Matching: []MatchConstraint{
					{MyArg: 0, InnerArg: 0, Filter: FilterExtractDHExponent},
					{MyArg: 1, InnerArg: 1},
				},
				To: func(outer, _ *value.Primitive) (value.Value, bool) {
					return outer.Arguments[1], true
				},
			},
		},
		{
			// Decompose given[0] filters the recipient public key g^sk down
			// to its private exponent sk: the attacker opens PKE_ENC(g^sk, m)
			// exactly when it holds sk, including the degenerate g^nil case
			// the targeted MitM bypass manufactures.
			ID: PKE_ENC, Name: "PKE_ENC", Arities: []int{2}, Outputs: 1,
			Decompose:       &DecomposeRule{Given: []int{0}, Reveal: 1, Filter: FilterExtractDHExponent},
			PasswordHashing: []int{1},
		},
		{
			ID: PKE_DEC, Name: "PKE_DEC", Arities: []int{2}, Outputs: 1,
			DefinitionCheck: true,
			Decompose:       &DecomposeRule{Given: []int{0}, Reveal: 1, Filter: FilterIdentity},
			BypassKey:       &BypassKeySpec{Kind: BypassDirect, Arg: 0},
			Rewrite: &RewriteRule{
				From: 1, Inner: PKE_ENC,
				Matching: []MatchConstraint{{MyArg: 0, InnerArg: 0, Filter: FilterPKEDecRewrite}},
				To: func(_, inner *value.Primitive) (value.Value, bool) {
					return inner.Arguments[1], true
				},
			},
		},
		{
			ID: SHAMIR_SPLIT, Name: "SHAMIR_SPLIT", Arities: []int{1}, Outputs: 3,
		},
		{
			ID: SHAMIR_JOIN, Name: "SHAMIR_JOIN", Arities: []int{2}, Outputs: 1,
			Rebuild: true,
			Recompose: &RecomposeRule{
				Inner:     SHAMIR_SPLIT,
				ShareSets: [][]int{{0, 1}, {0, 2}, {1, 2}},
				Reveal:    0,
			},
		},
		{
			ID: RINGSIGN, Name: "RINGSIGN", Arities: []int{4}, Outputs: 1,
			PasswordHashing: []int{3},
		},
		{
			// RINGSIGNVERIF(pk1, pk2, pk3, m, sig): three ring member keys,
			// the message, and the candidate ring signature.
			ID: RINGSIGNVERIF, Name: "RINGSIGNVERIF", Arities: []int{5}, Outputs: 1,
			DefinitionCheck: true,
			Rewrite: &RewriteRule{
				From: 4, Inner: RINGSIGN,
				To: ringSignVerifRewrite,
			},
		},
		{
			ID: BLIND, Name: "BLIND", Arities: []int{2}, Outputs: 1,
			Decompose:       &DecomposeRule{Given: []int{0}, Reveal: 1, Filter: FilterIdentity},
			PasswordHashing: []int{1},
		},
		{
			// UNBLIND(k, m, SIGN(ltk, BLIND(k, m))) strips the blinding
			// factor off a blind signature, yielding SIGN(ltk, m) — a plain
			// signature over the unblinded message.
			ID: UNBLIND, Name: "UNBLIND", Arities: []int{3}, Outputs: 1,
			DefinitionCheck: true,
			Rewrite: &RewriteRule{
				From: 2, Inner: SIGN,
				To: unblindRewrite,
			},
		},
	}
}

func coreRewriteAssert(p *value.Primitive) (value.Value, bool) {
	if len(p.Arguments) != 2 {
		return nil, false
	}
	if !value.Equivalent(p.Arguments[0], p.Arguments[1], false) {
		return nil, false
	}
	return p.Arguments[0], true
}

func coreRewriteSplit(p *value.Primitive) (value.Value, bool) {
	if len(p.Arguments) != 1 {
		return nil, false
	}
	inner, ok := value.IsPrimitive(p.Arguments[0])
	if !ok || inner.ID != CONCAT {
		return nil, false
	}
	if p.Output < 0 || p.Output >= len(inner.Arguments) {
		return nil, false
	}
	return inner.Arguments[p.Output], true
}

// ringSignVerifRewrite checks that the signed message matches and that the
// inner RINGSIGN's signer key equals the private exponent of one of the
// outer ring's three member public keys, then reveals the outer message.
// The ring-membership OR can't be expressed as a flat Matching list (which
// is an implicit AND), so it is implemented directly here.
func ringSignVerifRewrite(outer, inner *value.Primitive) (value.Value, bool) {
	if len(outer.Arguments) != 5 || len(inner.Arguments) != 4 {
		return nil, false
	}
	if !value.Equivalent(outer.Arguments[3], inner.Arguments[3], true) {
		return nil, false
	}
	signerKey := inner.Arguments[0]
	for _, ringArg := range []value.Value{outer.Arguments[0], outer.Arguments[1], outer.Arguments[2]} {
		pkExp, ok := FilterExtractDHExponent(ringArg)
		if ok && value.Equivalent(pkExp, signerKey, true) {
			return outer.Arguments[3], true
		}
	}
	return nil, false
}

// unblindRewrite strips the blinding factor off a blind signature: the
// matched inner SIGN's payload must be BLIND(k, m) over the outer's own
// blinding factor k and message m, and the result is the signer's plain
// signature over m. Like the ring check above, the nested-payload match
// doesn't fit the flat Matching list, so it lives here.
func unblindRewrite(outer, inner *value.Primitive) (value.Value, bool) {
	if len(outer.Arguments) != 3 || len(inner.Arguments) != 2 {
		return nil, false
	}
	blinded, ok := value.IsPrimitive(inner.Arguments[1])
	if !ok || blinded.ID != BLIND || len(blinded.Arguments) != 2 {
		return nil, false
	}
	if !value.Equivalent(blinded.Arguments[0], outer.Arguments[0], true) {
		return nil, false
	}
	if !value.Equivalent(blinded.Arguments[1], outer.Arguments[1], true) {
		return nil, false
	}
	return &value.Primitive{ID: SIGN, Arguments: []value.Value{inner.Arguments[0], outer.Arguments[1]}}, true
}
