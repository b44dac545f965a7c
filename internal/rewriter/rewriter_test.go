package rewriter_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/rewriter"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

func c(name string, id uint32) value.Constant {
	return value.Constant{Name: name, ID: id}
}

func slot(t *testing.T, ps *trace.PrincipalState, name string, id uint32, v value.Value) {
	t.Helper()
	ps.AddSlot(&trace.SlotMeta{Constant: c(name, id), Known: true},
		trace.SlotValues{Assigned: v, BeforeMutate: v, Creator: ps.ID})
}

func TestPerformAllReducesDecryption(t *testing.T) {
	ps := trace.NewPrincipalState("Bob", 0)
	k, m := c("k", 10), c("m", 11)
	dec := &value.Primitive{ID: primitive.DEC, Arguments: []value.Value{
		k, &value.Primitive{ID: primitive.ENC, Arguments: []value.Value{k, m}},
	}}
	slot(t, ps, "d", 12, dec)

	failures := rewriter.PerformAll(primitive.Default, ps)
	require.Empty(t, failures)
	require.True(t, value.Equivalent(ps.Values[0].Assigned, m, true))
	require.True(t, ps.Values[0].Rewritten)
	require.True(t, value.Equivalent(ps.Values[0].BeforeRewrite, dec, true),
		"the pre-rewrite snapshot keeps the original form")
}

func TestPerformAllReportsFailedGuards(t *testing.T) {
	ps := trace.NewPrincipalState("Bob", 0)
	k, k2, m := c("k", 10), c("k2", 13), c("m", 11)
	dec := &value.Primitive{ID: primitive.DEC, InstanceCheck: true, Arguments: []value.Value{
		k2, &value.Primitive{ID: primitive.ENC, Arguments: []value.Value{k, m}},
	}}
	slot(t, ps, "d", 12, dec)

	failures := rewriter.PerformAllIndexed(primitive.Default, ps)
	require.Len(t, failures, 1)
	require.Equal(t, 0, failures[0].SlotIndex)
	require.Equal(t, primitive.DEC, failures[0].Primitive.ID)
	require.False(t, ps.Values[0].Rewritten)
}

func TestPerformAllIgnoresIrreduciblePrimitives(t *testing.T) {
	ps := trace.NewPrincipalState("Bob", 0)
	h := &value.Primitive{ID: primitive.HASH, Arguments: []value.Value{c("x", 10)}}
	slot(t, ps, "d", 12, h)

	failures := rewriter.PerformAll(primitive.Default, ps)
	require.Empty(t, failures, "a primitive with no rewrite rule is not a failure")
	require.True(t, value.Equivalent(ps.Values[0].Assigned, h, true))
}

func TestRewriteSplitSelectsOutput(t *testing.T) {
	ps := trace.NewPrincipalState("Bob", 0)
	a, b := c("a", 10), c("b", 11)
	split := &value.Primitive{ID: primitive.SPLIT, Output: 1, Arguments: []value.Value{
		&value.Primitive{ID: primitive.CONCAT, Arguments: []value.Value{a, b}},
	}}
	slot(t, ps, "d", 12, split)

	rewriter.PerformAll(primitive.Default, ps)
	require.True(t, value.Equivalent(ps.Values[0].Assigned, b, true))
}

func TestRewriteReducesNestedArgumentsFirst(t *testing.T) {
	ps := trace.NewPrincipalState("Bob", 0)
	k, m := c("k", 10), c("m", 11)
	inner := &value.Primitive{ID: primitive.DEC, Arguments: []value.Value{
		k, &value.Primitive{ID: primitive.ENC, Arguments: []value.Value{k, m}},
	}}
	outer := &value.Primitive{ID: primitive.HASH, Arguments: []value.Value{inner}}
	slot(t, ps, "d", 12, outer)

	rewriter.PerformAll(primitive.Default, ps)
	got, ok := value.IsPrimitive(ps.Values[0].Assigned)
	require.True(t, ok)
	require.Equal(t, primitive.HASH, got.ID)
	require.True(t, value.Equivalent(got.Arguments[0], m, true),
		"arguments reduce bottom-up before the enclosing primitive is considered")
}

func TestRewriteEquationFlattensRewrittenTerms(t *testing.T) {
	ps := trace.NewPrincipalState("Bob", 0)
	k, a := c("k", 10), c("a", 11)
	term := &value.Primitive{ID: primitive.DEC, Arguments: []value.Value{
		k, &value.Primitive{ID: primitive.ENC, Arguments: []value.Value{k, a}},
	}}
	eqn := &value.Equation{Values: []value.Value{value.G(), term}}
	slot(t, ps, "d", 12, eqn)

	rewriter.PerformAll(primitive.Default, ps)
	got, ok := value.IsEquation(ps.Values[0].Assigned)
	require.True(t, ok)
	require.True(t, value.Equivalent(got, &value.Equation{Values: []value.Value{value.G(), a}}, true))
}
