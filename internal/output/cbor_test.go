package output_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/output"
	"github.com/opal-lang/verifpal-go/internal/parser"
	"github.com/opal-lang/verifpal-go/internal/verify"
)

// Two encodings of one report must be byte-identical:
// two serial runs of the same model must agree not just on the compact
// results code but on the full canonical rendering (verdicts and
// preconditions), byte for byte.
const dhModel = `attacker[active]

principal Alice[
	generates a
	ga = g^a
]

principal Bob[
	generates b
	gb = g^b
]

Alice -> Bob: ga
Bob -> Alice: gb

principal Alice[
	shared_a = gb^a
]

principal Bob[
	shared_b = ga^b
]

queries[
	confidentiality? a
	equivalence? shared_a, shared_b
]
`

func TestCanonicalFormIsDeterministicAcrossRuns(t *testing.T) {
	m, err := parser.Parse("dh_equiv.vp", dhModel)
	require.NoError(t, err)

	var digests [][32]byte
	var canonical []output.CanonicalDoc
	for i := 0; i < 3; i++ {
		report, err := verify.Run(context.Background(), m, verify.Options{})
		require.NoError(t, err)
		d, err := output.Digest(report)
		require.NoError(t, err)
		digests = append(digests, d)
		canonical = append(canonical, output.ToCanonical(report))
	}

	for i := 1; i < len(digests); i++ {
		require.Equal(t, digests[0], digests[i], "canonical digest must not vary run to run")
		if diff := cmp.Diff(canonical[0], canonical[i]); diff != "" {
			t.Fatalf("canonical report diverged between runs (-first +later):\n%s", diff)
		}
	}
}

func TestEncodeCBORProducesValidOutput(t *testing.T) {
	m, err := parser.Parse("dh_equiv.vp", dhModel)
	require.NoError(t, err)
	report, err := verify.Run(context.Background(), m, verify.Options{})
	require.NoError(t, err)

	b, err := output.EncodeCBOR(report)
	require.NoError(t, err)
	require.NotEmpty(t, b)
}
