package value_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/value"
)

func TestSkeletonNormalizesConstants(t *testing.T) {
	enc := &value.Primitive{ID: 9, Arguments: []value.Value{c("k", 10), c("m", 11)}}
	enc2 := &value.Primitive{ID: 9, Arguments: []value.Value{c("k2", 12), c("m2", 13)}}
	require.True(t, value.Equivalent(value.Skeleton(enc), value.Skeleton(enc2), false))
	require.Equal(t, value.SkeletonHashOf(enc), value.SkeletonHashOf(enc2))
}

func TestSkeletonCollapsesEquationsByLength(t *testing.T) {
	g, a, b := value.G(), c("a", 10), c("b", 11)
	sign2 := &value.Primitive{ID: 13, Arguments: []value.Value{eq(g, a)}}
	sign2b := &value.Primitive{ID: 13, Arguments: []value.Value{eq(g, b)}}
	sign3 := &value.Primitive{ID: 13, Arguments: []value.Value{eq(g, a, b)}}
	require.Equal(t, value.SkeletonHashOf(sign2), value.SkeletonHashOf(sign2b))
	require.NotEqual(t, value.SkeletonHashOf(sign2), value.SkeletonHashOf(sign3),
		"g^x and g^x^y placeholders must stay distinct")
}

func TestSkeletonDepth(t *testing.T) {
	inner := &value.Primitive{ID: 5, Arguments: []value.Value{c("a", 10)}}
	outer := &value.Primitive{ID: 9, Arguments: []value.Value{c("k", 11), inner}}
	require.Equal(t, 1, value.SkeletonDepth(inner))
	require.Equal(t, 2, value.SkeletonDepth(outer))
}

func TestSkeletonEquivalentRejectsDeeperReference(t *testing.T) {
	flat := &value.Primitive{ID: 9, Arguments: []value.Value{c("k", 10), c("m", 11)}}
	nested := &value.Primitive{ID: 9, Arguments: []value.Value{c("k", 10), &value.Primitive{ID: 5, Arguments: []value.Value{c("m", 11)}}}}
	require.False(t, value.SkeletonEquivalent(flat, nested),
		"a candidate must be at least as deep as the reference shape")
}
