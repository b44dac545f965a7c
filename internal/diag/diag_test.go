package diag_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/diag"
)

func TestErrorKindsUnwrapToSentinels(t *testing.T) {
	require.True(t, errors.Is(&diag.ParseError{File: "x.vp"}, diag.ErrParse))
	require.True(t, errors.Is(&diag.SanityError{File: "x.vp"}, diag.ErrSanity))
	require.True(t, errors.Is(&diag.ResolutionError{Constant: "c"}, diag.ErrResolution))
	require.True(t, errors.Is(&diag.InternalError{Message: "m"}, diag.ErrInternal))
	require.False(t, errors.Is(&diag.ParseError{}, diag.ErrSanity))
}

func TestParseErrorRendersPositionAndHint(t *testing.T) {
	err := &diag.ParseError{File: "m.vp", Line: 3, Col: 7, Message: "bad token", Hint: "did you mean knows?"}
	require.Contains(t, err.Error(), "m.vp:3:7")
	require.Contains(t, err.Error(), "did you mean knows?")
}

func TestDisplayIDStableAndDistinct(t *testing.T) {
	a := diag.DisplayID([]byte("k=nil;mutated=true|"))
	b := diag.DisplayID([]byte("k=nil;mutated=true|"))
	c := diag.DisplayID([]byte("k=g;mutated=true|"))
	require.Equal(t, a, b, "the same witness chain always earns the same id")
	require.NotEqual(t, a, c)
	require.Contains(t, a, "atk-")
}
