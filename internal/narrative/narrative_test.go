package narrative_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/narrative"
	"github.com/opal-lang/verifpal-go/internal/parser"
	"github.com/opal-lang/verifpal-go/internal/verify"
)

const leakyModel = `attacker[active]

principal Alice[
	knows private m1
]

principal Bob[
	knows private z
]

Alice -> Bob: m1

queries[
	confidentiality? m1
]
`

func TestSummarizeNotesAttack(t *testing.T) {
	m, err := parser.Parse("leaky.vp", leakyModel)
	require.NoError(t, err)
	report, err := verify.Run(context.Background(), m, verify.Options{})
	require.NoError(t, err)
	require.True(t, report.Results.Get(0).Attack, "m1 is sent in the clear to an active attacker")

	lines := narrative.Summarize(report)
	require.Len(t, lines, 1)
	require.Contains(t, lines[0], "confidentiality")

	opening := narrative.Opening(report)
	require.NotEmpty(t, opening)
}

const okModel = `attacker[passive]

principal Alice[
	knows private m1
]

principal Bob[
	knows private z
]

Alice -> Bob: m1

queries[
	confidentiality? m1
]
`

func TestSummarizeIsDeterministicAcrossRuns(t *testing.T) {
	m, err := parser.Parse("ok.vp", okModel)
	require.NoError(t, err)

	var all []string
	for i := 0; i < 3; i++ {
		report, err := verify.Run(context.Background(), m, verify.Options{})
		require.NoError(t, err)
		all = append(all, strings.Join(narrative.Summarize(report), "|"))
	}
	require.Equal(t, all[0], all[1])
	require.Equal(t, all[0], all[2])
}
