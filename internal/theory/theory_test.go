package theory_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/theory"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

func c(name string, id uint32) value.Constant {
	return value.Constant{Name: name, ID: id}
}

func prim(id value.PrimitiveID, args ...value.Value) *value.Primitive {
	return &value.Primitive{ID: id, Arguments: args}
}

func emptyState(t *testing.T) (*attacker.State, *trace.PrincipalState) {
	t.Helper()
	return attacker.New(), trace.NewPrincipalState("A", 0)
}

func TestRewriteRoundTripSymmetric(t *testing.T) {
	k, m := c("k", 10), c("m", 11)
	dec := prim(primitive.DEC, k, prim(primitive.ENC, k, m))
	out, ok := theory.Rewrite(primitive.Default, dec)
	require.True(t, ok)
	require.True(t, value.Equivalent(out, m, true), "DEC(k, ENC(k, m)) must reduce to m")
}

func TestRewriteFailsOnKeyMismatch(t *testing.T) {
	k, k2, m := c("k", 10), c("k2", 12), c("m", 11)
	dec := prim(primitive.DEC, k2, prim(primitive.ENC, k, m))
	_, ok := theory.Rewrite(primitive.Default, dec)
	require.False(t, ok)
}

func TestRewriteSignatureVerification(t *testing.T) {
	sk, m := c("sk", 10), c("m", 11)
	pk := &value.Equation{Values: []value.Value{value.G(), sk}}
	verif := prim(primitive.SIGNVERIF, pk, m, prim(primitive.SIGN, sk, m))
	out, ok := theory.Rewrite(primitive.Default, verif)
	require.True(t, ok)
	require.True(t, value.Equivalent(out, m, true))

	wrongKey := &value.Equation{Values: []value.Value{value.G(), c("other", 12)}}
	badVerif := prim(primitive.SIGNVERIF, wrongKey, m, prim(primitive.SIGN, sk, m))
	_, ok = theory.Rewrite(primitive.Default, badVerif)
	require.False(t, ok)
}

func TestRewritePKE(t *testing.T) {
	sk, m := c("sk", 10), c("m", 11)
	pk := &value.Equation{Values: []value.Value{value.G(), sk}}
	dec := prim(primitive.PKE_DEC, sk, prim(primitive.PKE_ENC, pk, m))
	out, ok := theory.Rewrite(primitive.Default, dec)
	require.True(t, ok)
	require.True(t, value.Equivalent(out, m, true))
}

func TestRewriteRingSignatureVerification(t *testing.T) {
	ka, kb, kc, m := c("ka", 10), c("kb", 11), c("kc", 12), c("m", 13)
	pk := func(sk value.Constant) *value.Equation {
		return &value.Equation{Values: []value.Value{value.G(), sk}}
	}
	sig := prim(primitive.RINGSIGN, kb, pk(ka), pk(kc), m)
	verif := prim(primitive.RINGSIGNVERIF, pk(ka), pk(kb), pk(kc), m, sig)
	out, ok := theory.Rewrite(primitive.Default, verif)
	require.True(t, ok, "a signer anywhere in the three-member ring verifies")
	require.True(t, value.Equivalent(out, m, true))

	outsider := prim(primitive.RINGSIGN, c("kz", 14), pk(ka), pk(kc), m)
	badVerif := prim(primitive.RINGSIGNVERIF, pk(ka), pk(kb), pk(kc), m, outsider)
	_, ok = theory.Rewrite(primitive.Default, badVerif)
	require.False(t, ok, "a signer outside the ring must not verify")
}

func TestRewriteUnblind(t *testing.T) {
	k, m, ltk := c("k", 10), c("m", 11), c("ltk", 12)
	blindSig := prim(primitive.SIGN, ltk, prim(primitive.BLIND, k, m))
	unblinded, ok := theory.Rewrite(primitive.Default, prim(primitive.UNBLIND, k, m, blindSig))
	require.True(t, ok)
	require.True(t, value.Equivalent(unblinded, prim(primitive.SIGN, ltk, m), true),
		"stripping the blinding factor yields the signer's plain signature over m")

	otherFactor := prim(primitive.SIGN, ltk, prim(primitive.BLIND, c("k2", 13), m))
	_, ok = theory.Rewrite(primitive.Default, prim(primitive.UNBLIND, k, m, otherFactor))
	require.False(t, ok, "a signature over someone else's blinding does not unblind")
}

func TestDecomposeBlindAndPKEDecGivenKey(t *testing.T) {
	state, ps := emptyState(t)
	k, m := c("k", 10), c("m", 11)

	blind := prim(primitive.BLIND, k, m)
	_, ok := theory.CanDecompose(primitive.Default, blind, ps, state.Snapshot(), 0)
	require.False(t, ok)
	state.Put(k, nil)
	res, ok := theory.CanDecompose(primitive.Default, blind, ps, state.Snapshot(), 0)
	require.True(t, ok, "knowing the blinding factor unwraps the blinded message")
	require.True(t, value.Equivalent(res.Revealed, m, true))

	dec := prim(primitive.PKE_DEC, c("sk", 12), c("ct", 13))
	_, ok = theory.CanDecompose(primitive.Default, dec, ps, state.Snapshot(), 0)
	require.False(t, ok)
	state.Put(c("sk", 12), nil)
	res, ok = theory.CanDecompose(primitive.Default, dec, ps, state.Snapshot(), 0)
	require.True(t, ok)
	require.True(t, value.Equivalent(res.Revealed, c("ct", 13), true))
}

func TestCoreRewrites(t *testing.T) {
	a, b := c("a", 10), c("b", 11)
	split := &value.Primitive{ID: primitive.SPLIT, Arguments: []value.Value{prim(primitive.CONCAT, a, b)}, Output: 1}
	out, ok := theory.Rewrite(primitive.Default, split)
	require.True(t, ok)
	require.True(t, value.Equivalent(out, b, true))

	assertSame := prim(primitive.ASSERT, a, c("a2", 10))
	_, ok = theory.Rewrite(primitive.Default, assertSame)
	require.True(t, ok)
	assertDiff := prim(primitive.ASSERT, a, b)
	_, ok = theory.Rewrite(primitive.Default, assertDiff)
	require.False(t, ok)
}

func TestDecomposeNeedsTheKey(t *testing.T) {
	state, ps := emptyState(t)
	k, m := c("k", 10), c("m", 11)
	enc := prim(primitive.ENC, k, m)

	_, ok := theory.CanDecompose(primitive.Default, enc, ps, state.Snapshot(), 0)
	require.False(t, ok, "without k the ciphertext stays opaque")

	state.Put(k, nil)
	res, ok := theory.CanDecompose(primitive.Default, enc, ps, state.Snapshot(), 0)
	require.True(t, ok)
	require.True(t, value.Equivalent(res.Revealed, m, true))
}

func TestDecomposePKEFiltersExponent(t *testing.T) {
	state, ps := emptyState(t)
	sk, m := c("sk", 10), c("m", 11)
	pk := &value.Equation{Values: []value.Value{value.G(), sk}}
	enc := prim(primitive.PKE_ENC, pk, m)

	_, ok := theory.CanDecompose(primitive.Default, enc, ps, state.Snapshot(), 0)
	require.False(t, ok)

	state.Put(sk, nil)
	res, ok := theory.CanDecompose(primitive.Default, enc, ps, state.Snapshot(), 0)
	require.True(t, ok, "knowing the private exponent opens PKE_ENC(g^sk, m)")
	require.True(t, value.Equivalent(res.Revealed, m, true))
}

func TestDecomposeGNilEncryption(t *testing.T) {
	// The targeted MitM forgery: a message encrypted to g^nil is open to
	// the attacker, whose knowledge always includes nil.
	state, ps := emptyState(t)
	m := c("m", 11)
	enc := prim(primitive.PKE_ENC, value.GNil(), m)
	res, ok := theory.CanDecompose(primitive.Default, enc, ps, state.Snapshot(), 0)
	require.True(t, ok)
	require.True(t, value.Equivalent(res.Revealed, m, true))
}

func TestPassiveDecomposeRevealsAssociatedData(t *testing.T) {
	k, m, ad := c("k", 10), c("m", 11), c("ad", 12)
	aead := prim(primitive.AEAD_ENC, k, m, ad)
	revealed := theory.PassivelyDecompose(primitive.Default, aead)
	require.Len(t, revealed, 1)
	require.True(t, value.Equivalent(revealed[0], ad, true))
}

func TestThresholdRecomposition(t *testing.T) {
	state, _ := emptyState(t)
	s := c("s", 10)
	share := func(i int) *value.Primitive {
		return &value.Primitive{ID: primitive.SHAMIR_SPLIT, Arguments: []value.Value{s}, Output: i}
	}

	state.Put(share(0), nil)
	_, ok := theory.CanRecompose(primitive.Default, primitive.SHAMIR_JOIN, state.Snapshot())
	require.False(t, ok, "one share must never recompose")

	state.Put(share(2), nil)
	out, ok := theory.CanRecompose(primitive.Default, primitive.SHAMIR_JOIN, state.Snapshot())
	require.True(t, ok, "any two distinct shares suffice")
	require.True(t, value.Equivalent(out, s, true))
}

func TestRebuildJoinsMatchingShares(t *testing.T) {
	s := c("s", 10)
	share := func(i int) *value.Primitive {
		return &value.Primitive{ID: primitive.SHAMIR_SPLIT, Arguments: []value.Value{s}, Output: i}
	}
	join := prim(primitive.SHAMIR_JOIN, share(0), share(2))
	out, ok := theory.Rebuild(primitive.Default, join)
	require.True(t, ok)
	require.True(t, value.Equivalent(out, s, true))

	sameShare := prim(primitive.SHAMIR_JOIN, share(1), share(1))
	_, ok = theory.Rebuild(primitive.Default, sameShare)
	require.False(t, ok, "two copies of one share are not a quorum")

	otherSecret := &value.Primitive{ID: primitive.SHAMIR_SPLIT, Arguments: []value.Value{c("t", 12)}, Output: 1}
	mixed := prim(primitive.SHAMIR_JOIN, share(0), otherSecret)
	_, ok = theory.Rebuild(primitive.Default, mixed)
	require.False(t, ok, "shares of different secrets must not join")
}

func TestReconstructPrimitiveFromParts(t *testing.T) {
	state, ps := emptyState(t)
	k, m := c("k", 10), c("m", 11)
	enc := prim(primitive.ENC, k, m)

	_, ok := theory.CanReconstructPrimitive(primitive.Default, enc, ps, state.Snapshot(), 0)
	require.False(t, ok)

	state.Put(k, nil)
	state.Put(m, nil)
	_, ok = theory.CanReconstructPrimitive(primitive.Default, enc, ps, state.Snapshot(), 0)
	require.True(t, ok)
}

func TestReconstructEquation(t *testing.T) {
	state, ps := emptyState(t)
	g, a, b := value.G(), c("a", 10), c("b", 11)
	ga := &value.Equation{Values: []value.Value{g, a}}
	gab := &value.Equation{Values: []value.Value{g, a, b}}

	require.False(t, theory.CanReconstructEquation(primitive.Default, gab, ps, state.Snapshot(), 0))

	// One exponent plus the opposite partial equation, the normal DH
	// completion an eavesdropping attacker performs with its own key.
	state.Put(b, nil)
	state.Put(ga, nil)
	require.True(t, theory.CanReconstructEquation(primitive.Default, gab, ps, state.Snapshot(), 0))
}

func TestReconstructEquationBothExponents(t *testing.T) {
	state, ps := emptyState(t)
	g, a, b := value.G(), c("a", 10), c("b", 11)
	gab := &value.Equation{Values: []value.Value{g, a, b}}
	state.Put(a, nil)
	state.Put(b, nil)
	require.True(t, theory.CanReconstructEquation(primitive.Default, gab, ps, state.Snapshot(), 0))
}
