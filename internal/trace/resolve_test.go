package trace_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

func c(name string, id uint32) value.Constant {
	return value.Constant{Name: name, ID: id}
}

// bobState builds a two-slot state for a principal (id 1) that received k
// over the wire from principal 0 and locally derives d = ENC(k, m).
func bobState(t *testing.T) *trace.PrincipalState {
	t.Helper()
	ps := trace.NewPrincipalState("Bob", 1)
	k := c("k", 10)
	ps.AddSlot(&trace.SlotMeta{
		Constant: k, Known: true,
		Wire:    []uint8{1},
		KnownBy: []map[uint8]uint8{{1: 0}},
	}, trace.SlotValues{Assigned: k, BeforeMutate: k, Creator: 0, Sender: 0})

	d := c("d", 11)
	rhs := &value.Primitive{ID: 9, Arguments: []value.Value{k, c("m", 12)}}
	ps.AddSlot(&trace.SlotMeta{Constant: d, Known: true},
		trace.SlotValues{Assigned: rhs, BeforeMutate: rhs, Creator: 1, Sender: 1})
	return ps
}

func TestShouldUseBeforeMutate(t *testing.T) {
	ps := bobState(t)
	require.True(t, ps.ShouldUseBeforeMutate(0), "an unmutated slot always shows its pristine view")

	ps.Values[0].Assigned = value.Nil()
	ps.Values[0].Mutated = true
	require.False(t, ps.ShouldUseBeforeMutate(0), "a mutated wire-received slot shows the attacker value")
	require.True(t, ps.ShouldUseBeforeMutate(1), "a self-created slot always trusts its own computation")
}

func TestResolveConstantFollowsMutation(t *testing.T) {
	ps := bobState(t)
	ps.Values[0].Assigned = value.Nil()
	ps.Values[0].Mutated = true

	got, idx := ps.ResolveConstant(c("k", 10), false)
	require.Equal(t, 0, idx)
	require.True(t, value.Equivalent(got, value.Nil(), true))

	pristine, _ := ps.ResolveConstant(c("k", 10), true)
	require.True(t, value.Equivalent(pristine, c("k", 10), true), "pure resolution ignores mutation")
}

func TestResolveNestedForcesPristineUnlessMutatableToRoot(t *testing.T) {
	ps := bobState(t)
	ps.Values[0].Assigned = value.Nil()
	ps.Values[0].Mutated = true

	// d is Bob's own computation; its nested view of k uses the pristine
	// form because nothing marks k as tamperable toward Bob.
	ps.ResolveAll(false)
	d, _ := value.IsPrimitive(ps.Values[1].Assigned)
	require.NotNil(t, d)
	require.True(t, value.Equivalent(d.Arguments[0], c("k", 10), true))
}

func TestResolveNestedUsesAssignedWhenTamperable(t *testing.T) {
	ps := bobState(t)
	ps.Meta[0].MutatableTo = []uint8{1}
	ps.Values[0].Assigned = value.Nil()
	ps.Values[0].Mutated = true

	ps.ResolveAll(false)
	d, _ := value.IsPrimitive(ps.Values[1].Assigned)
	require.NotNil(t, d)
	require.True(t, value.Equivalent(d.Arguments[0], value.Nil(), true),
		"a nested constant tamperable toward the root's creator resolves to the attacker value")
}

func TestCloneSharesMetaCopiesValues(t *testing.T) {
	ps := bobState(t)
	clone := ps.Clone(true)

	clone.Values[0].Assigned = value.Nil()
	clone.Values[0].Mutated = true
	require.False(t, ps.Values[0].Mutated, "clones own their values")
	require.Same(t, ps.Meta[0], clone.Meta[0], "meta stays shared")
}

func TestTruncateDropsTrailingSlots(t *testing.T) {
	ps := bobState(t)
	ps.Truncate(1)
	require.Len(t, ps.Values, 1)
	require.Len(t, ps.Meta, 1)
	require.Equal(t, -1, ps.IndexOf(11), "truncated slots are unreachable")
}
