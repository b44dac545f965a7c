package pretty_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/parser"
	"github.com/opal-lang/verifpal-go/internal/pretty"
)

const okModel = `attacker[passive]

principal Alice[
	knows private m1
]

Alice -> Bob: m1

queries[
	confidentiality? m1
]
`

func TestModelRendersRecognizableSource(t *testing.T) {
	m, err := parser.Parse("ok.vp", okModel)
	require.NoError(t, err)

	out := pretty.Model(m)
	require.Contains(t, out, "attacker[passive]")
	require.Contains(t, out, "principal Alice[")
	require.Contains(t, out, "knows private m1")
	require.Contains(t, out, "Alice -> Bob: m1")
	require.Contains(t, out, "confidentiality? m1")

	// The rendering must itself re-parse, proving it's valid .vp source
	// and not just descriptive text.
	_, err = parser.Parse("roundtrip.vp", out)
	require.NoError(t, err)
}

func TestModelRendersEquationsWithCaret(t *testing.T) {
	const dh = `attacker[active]

principal Alice[
	generates a
	ga = g^a
]

queries[
	confidentiality? a
]
`
	m, err := parser.Parse("dh.vp", dh)
	require.NoError(t, err)
	out := pretty.Model(m)
	require.True(t, strings.Contains(out, "G^a") || strings.Contains(out, "g^a"))
}
