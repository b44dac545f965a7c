package search

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/mutation"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

func bypassDirectSpec() primitive.BypassKeySpec {
	return primitive.BypassKeySpec{Kind: primitive.BypassDirect, Arg: 0}
}

func bypassExponentSpec() primitive.BypassKeySpec {
	return primitive.BypassKeySpec{Kind: primitive.BypassLastExponent, Arg: 0}
}

func TestChooseSubsetsLexicographic(t *testing.T) {
	got := chooseSubsets(4, 2, 100)
	want := [][]int{{0, 1}, {0, 2}, {0, 3}, {1, 2}, {1, 3}, {2, 3}}
	require.Empty(t, cmp.Diff(want, got))
}

func TestChooseSubsetsHonorsCap(t *testing.T) {
	got := chooseSubsets(10, 3, 5)
	require.Len(t, got, 5)
}

func TestChooseSubsetsDegenerateWeights(t *testing.T) {
	require.Empty(t, chooseSubsets(3, 0, 10))
	require.Empty(t, chooseSubsets(3, 4, 10))
	require.Len(t, chooseSubsets(3, 3, 10), 1)
}

func TestFullProductSaturates(t *testing.T) {
	small := &mutation.Map{Mutations: [][]value.Value{
		{value.Nil(), value.G()},
		{value.Nil(), value.G(), value.GNil()},
	}}
	require.Equal(t, 6, fullProduct(small))

	big := &mutation.Map{Mutations: make([][]value.Value, 40)}
	row := make([]value.Value, 10)
	for i := range row {
		row[i] = value.Nil()
	}
	for i := range big.Mutations {
		big.Mutations[i] = row
	}
	require.Equal(t, 1<<31, fullProduct(big), "10^40 saturates instead of overflowing")
}

func TestWorthwhileDetectsStructuralChange(t *testing.T) {
	k := value.Constant{Name: "k", ID: 10}
	base := trace.NewPrincipalState("Bob", 1)
	base.AddSlot(&trace.SlotMeta{Constant: k, Known: true},
		trace.SlotValues{Assigned: k, BeforeMutate: k, Creator: 0})

	trial := base.Clone(true)
	require.False(t, worthwhile(trial, base, []int{0}), "an identical replacement teaches nothing")

	trial.Values[0].Assigned = value.Nil()
	require.True(t, worthwhile(trial, base, []int{0}))
}

func TestMutateSlotMarksAttackerProvenance(t *testing.T) {
	k := value.Constant{Name: "k", ID: 10}
	sv := trace.SlotValues{Assigned: k, BeforeMutate: k, Creator: 0, Sender: 0}
	mutateSlot(&sv, value.Nil())
	require.True(t, sv.Mutated)
	require.True(t, value.Equivalent(sv.Assigned, value.Nil(), true))
	require.True(t, value.Equivalent(sv.BeforeMutate, k, true),
		"the pristine view survives for the resolver's self-reasoning path")
}

func TestExtractBypassKeyForms(t *testing.T) {
	sk := value.Constant{Name: "sk", ID: 10}
	pk := &value.Equation{Values: []value.Value{value.G(), sk}}

	direct := extractBypassKey(bypassDirectSpec(), &value.Primitive{ID: 10, Arguments: []value.Value{sk, value.Nil()}})
	require.True(t, value.Equivalent(direct, sk, true))

	exp := extractBypassKey(bypassExponentSpec(), &value.Primitive{ID: 13, Arguments: []value.Value{pk, value.Nil(), value.Nil()}})
	require.True(t, value.Equivalent(exp, sk, true))

	notAnEquation := extractBypassKey(bypassExponentSpec(), &value.Primitive{ID: 13, Arguments: []value.Value{sk, value.Nil(), value.Nil()}})
	require.Nil(t, notAnEquation)
}
