package output_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/output"
	"github.com/opal-lang/verifpal-go/internal/parser"
	"github.com/opal-lang/verifpal-go/internal/verify"
)

const okModel = `attacker[passive]

principal Alice[
	knows private a
	generates m1
	e1 = ENC(a, m1)
]

principal Bob[
	knows private a
]

Alice -> Bob: e1

principal Bob[
	d1 = DEC(a, e1)
]

queries[
	confidentiality? m1
	authentication? Alice -> Bob: m1
]
`

func TestMarshalValidatesAgainstEmbeddedSchema(t *testing.T) {
	m, err := parser.Parse("ok.vp", okModel)
	require.NoError(t, err)
	report, err := verify.Run(context.Background(), m, verify.Options{})
	require.NoError(t, err)

	doc := output.FromReport(report)
	b, err := output.Marshal(doc)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &decoded))
	require.Equal(t, "ok.vp", decoded["file"])
	require.Equal(t, "passive", decoded["attacker"])
	require.Len(t, decoded["queries"], 2)
}
