package deduce_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/deduce"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

func c(name string, id uint32) value.Constant {
	return value.Constant{Name: name, ID: id}
}

func prim(id value.PrimitiveID, args ...value.Value) *value.Primitive {
	return &value.Primitive{ID: id, Arguments: args}
}

func emptyTrace() *trace.ProtocolTrace {
	return &trace.ProtocolTrace{ConstantIndex: map[uint32]int{}, UsedBy: map[uint32]map[uint8]bool{}}
}

func TestClosureDecomposesKnownCiphertext(t *testing.T) {
	state := attacker.New()
	ps := trace.NewPrincipalState("A", 0)
	k, m := c("k", 10), c("m", 11)
	state.Put(k, nil)
	state.Put(prim(primitive.ENC, k, m), nil)

	deduce.Closure(primitive.Default, state, emptyTrace(), ps, nil)
	require.True(t, state.Snapshot().Knows(m), "knowing the key and the ciphertext yields the plaintext")
}

func TestClosureRevealsConcatFragments(t *testing.T) {
	state := attacker.New()
	ps := trace.NewPrincipalState("A", 0)
	a, b := c("a", 10), c("b", 11)
	state.Put(prim(primitive.CONCAT, a, b), nil)

	deduce.Closure(primitive.Default, state, emptyTrace(), ps, nil)
	snap := state.Snapshot()
	require.True(t, snap.Knows(a))
	require.True(t, snap.Knows(b))
}

func TestClosureExtractsUnprotectedPasswords(t *testing.T) {
	state := attacker.New()
	ps := trace.NewPrincipalState("A", 0)
	pw := value.Constant{Name: "pw", ID: 10, Qualifier: value.QualPassword}
	state.Put(prim(primitive.HASH, pw), nil)

	deduce.Closure(primitive.Default, state, emptyTrace(), ps, nil)
	require.True(t, state.Snapshot().Knows(pw),
		"a password fed to a plain hash is open to offline guessing")
}

func TestClosureRespectsPasswordHashing(t *testing.T) {
	state := attacker.New()
	ps := trace.NewPrincipalState("A", 0)
	pw := value.Constant{Name: "pw", ID: 10, Qualifier: value.QualPassword}
	state.Put(prim(primitive.PWHASH, pw), nil)

	deduce.Closure(primitive.Default, state, emptyTrace(), ps, nil)
	require.False(t, state.Snapshot().Knows(pw),
		"a password behind PWHASH stays protected")
}

func TestClosureIsMonotoneAndConverges(t *testing.T) {
	state := attacker.New()
	ps := trace.NewPrincipalState("A", 0)
	k, m, ad := c("k", 10), c("m", 11), c("ad", 12)
	state.Put(k, nil)
	state.Put(prim(primitive.AEAD_ENC, k, m, ad), nil)

	before := state.KnownCount()
	deduce.Closure(primitive.Default, state, emptyTrace(), ps, nil)
	mid := state.KnownCount()
	require.GreaterOrEqual(t, mid, before, "knowledge only grows")

	// Re-running against the same inputs is a no-op: the closure reached
	// its fixed point.
	deduce.Closure(primitive.Default, state, emptyTrace(), ps, nil)
	require.Equal(t, mid, state.KnownCount())

	snap := state.Snapshot()
	require.True(t, snap.Knows(m))
	require.True(t, snap.Knows(ad))
}

func TestClosureReconstructsPrincipalValues(t *testing.T) {
	state := attacker.New()
	ps := trace.NewPrincipalState("A", 0)
	k, m := c("k", 10), c("m", 11)
	enc := prim(primitive.ENC, k, m)
	ps.AddSlot(&trace.SlotMeta{Constant: c("e", 12), Known: true}, trace.SlotValues{Assigned: enc, BeforeMutate: enc, Creator: 0})

	state.Put(k, nil)
	state.Put(m, nil)
	deduce.Closure(primitive.Default, state, emptyTrace(), ps, nil)
	require.True(t, state.Snapshot().Knows(enc),
		"the attacker can rebuild a principal's ciphertext from its parts")
}
