package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/value"
)

func c(name string, id uint32) value.Constant {
	return value.Constant{Name: name, ID: id}
}

func eq(vs ...value.Value) *value.Equation {
	return &value.Equation{Values: vs}
}

func TestConstantEquivalenceByID(t *testing.T) {
	require.True(t, value.Equivalent(c("a", 7), c("renamed", 7), true))
	require.False(t, value.Equivalent(c("a", 7), c("a", 8), true))
}

func TestPrimitiveEquivalenceConsidersOutputOnRequest(t *testing.T) {
	share0 := &value.Primitive{ID: 16, Arguments: []value.Value{c("s", 5)}, Output: 0}
	share1 := &value.Primitive{ID: 16, Arguments: []value.Value{c("s", 5)}, Output: 1}
	require.False(t, value.Equivalent(share0, share1, true))
	require.True(t, value.Equivalent(share0, share1, false))
}

func TestDHCommutativityLengthThree(t *testing.T) {
	g, a, b := value.G(), c("a", 10), c("b", 11)
	gab := eq(g, a, b)
	gba := eq(g, b, a)
	require.True(t, value.Equivalent(gab, gba, true), "g^a^b must equal g^b^a")
	require.Equal(t, value.Hash(gab), value.Hash(gba), "equivalent equations must hash equal")
}

func TestDHCommutativityLongerEquations(t *testing.T) {
	g := value.G()
	a, b, d := c("a", 10), c("b", 11), c("d", 12)
	abc := eq(g, a, b, d)
	perm := eq(g, d, a, b)
	require.True(t, value.Equivalent(abc, perm, true))
	require.Equal(t, value.Hash(abc), value.Hash(perm))

	otherBase := eq(c("h", 13), a, b, d)
	require.False(t, value.Equivalent(abc, otherBase, true), "bases of long equations must match exactly")
}

func TestExponentMultisetIsBijective(t *testing.T) {
	g, a, b := value.G(), c("a", 10), c("b", 11)
	require.False(t, value.Equivalent(eq(g, a, a, b), eq(g, a, b, b), true),
		"each exponent may satisfy at most one counterpart")
	require.True(t, value.Equivalent(eq(g, a, a, b), eq(g, b, a, a), true))
}

func TestEmptyEquationNeverEquivalent(t *testing.T) {
	empty := eq()
	require.False(t, value.Equivalent(empty, empty, true))
	require.False(t, value.Equivalent(empty, eq(value.G()), true))
}

func TestFlattenSplicesNestedEquations(t *testing.T) {
	g, a, b := value.G(), c("a", 10), c("b", 11)
	gb := eq(g, b)
	nested := eq(g, gb, a) // g^(g^b)^a, as written after substituting gb
	flat := value.Flatten(nested)
	require.Len(t, flat.Values, 3)
	require.True(t, value.Equivalent(flat, eq(g, b, a), true))
}

func TestFlattenIdempotence(t *testing.T) {
	g, a, b := value.G(), c("a", 10), c("b", 11)
	nested := eq(g, eq(g, b), a)
	once := value.Flatten(nested)
	twice := value.Flatten(once)
	require.True(t, value.Equivalent(once, twice, true))
	require.Equal(t, value.Hash(once), value.Hash(twice))
}

func TestFlattenPreservesEquivalence(t *testing.T) {
	g, a, b := value.G(), c("a", 10), c("b", 11)
	nested := eq(g, eq(g, b), a)
	require.True(t, value.Equivalent(nested, value.Flatten(nested), true))
	require.Equal(t, value.Hash(nested), value.Hash(value.Flatten(nested)))
}

// Every equivalent pair across a mixed value set must hash equal; the
// attacker-knowledge index relies on this.
func TestHashCompatibleWithEquivalence(t *testing.T) {
	g, a, b := value.G(), c("a", 10), c("b", 11)
	vals := []value.Value{
		a, b, c("a2", 10),
		eq(g, a, b), eq(g, b, a), eq(g, a), eq(g, b),
		&value.Primitive{ID: 5, Arguments: []value.Value{a, b}},
		&value.Primitive{ID: 5, Arguments: []value.Value{c("a2", 10), b}},
		&value.Primitive{ID: 5, Arguments: []value.Value{b, a}},
	}
	for i, v := range vals {
		for j, w := range vals {
			if value.Equivalent(v, w, true) {
				require.Equal(t, value.Hash(v), value.Hash(w),
					"values %d and %d are equivalent but hash differently", i, j)
			}
		}
	}
}

func TestEquivalentInList(t *testing.T) {
	a, b := c("a", 10), c("b", 11)
	list := []value.Value{a, b}
	require.Equal(t, 1, value.EquivalentInList(c("b2", 11), list))
	require.Equal(t, -1, value.EquivalentInList(c("x", 99), list))
}

func TestContainsFresh(t *testing.T) {
	fresh := value.Constant{Name: "n", ID: 20, Fresh: true}
	stale := c("k", 21)
	require.True(t, value.ContainsFresh(&value.Primitive{ID: 9, Arguments: []value.Value{stale, fresh}}))
	require.False(t, value.ContainsFresh(&value.Primitive{ID: 9, Arguments: []value.Value{stale, stale}}))
	require.True(t, value.ContainsFresh(eq(value.G(), fresh)))
}
