package query_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opal-lang/verifpal-go/internal/ast"
	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/construct"
	"github.com/opal-lang/verifpal-go/internal/parser"
	"github.com/opal-lang/verifpal-go/internal/query"
	"github.com/opal-lang/verifpal-go/internal/registry"
)

func buildModel(t *testing.T, src string) (*registry.Registry, *construct.Result, *ast.Model) {
	t.Helper()
	m, err := parser.Parse("q.vp", src)
	require.NoError(t, err)
	reg := registry.New()
	result, err := construct.Build(reg, m)
	require.NoError(t, err)
	for _, name := range result.Trace.Principals {
		result.States[name].ResolveAll(false)
	}
	return reg, result, m
}

func TestConfidentialityFailsOnceKnown(t *testing.T) {
	src := "attacker[passive]\nprincipal A[ generates m ]\nprincipal B[ knows private z ]\nA -> B: m\nqueries[ confidentiality? m ]\n"
	reg, result, m := buildModel(t, src)
	state := attacker.New()

	o := query.Resolve(reg, result.Trace, result.States, state.Snapshot(), m.Queries[0])
	require.False(t, o.Resolved && o.Attack)

	id, _ := reg.LookupConstant("m")
	state.Put(result.States["A"].Values[result.States["A"].IndexOf(id)].Assigned, nil)
	o = query.Resolve(reg, result.Trace, result.States, state.Snapshot(), m.Queries[0])
	require.True(t, o.Resolved)
	require.True(t, o.Attack)
}

func TestFreshnessVerdicts(t *testing.T) {
	src := `attacker[passive]
principal A[
	knows private stale
	generates nonce
	h1 = HASH(stale)
	h2 = HASH(nonce)
]
principal B[ knows private z ]
A -> B: h1, h2
queries[
	freshness? stale
	freshness? nonce
]
`
	reg, result, m := buildModel(t, src)
	state := attacker.New()

	o := query.Resolve(reg, result.Trace, result.States, state.Snapshot(), m.Queries[0])
	require.True(t, o.Resolved)
	require.True(t, o.Attack, "a knows-declared value can be replayed")

	o = query.Resolve(reg, result.Trace, result.States, state.Snapshot(), m.Queries[1])
	require.True(t, o.Resolved)
	require.False(t, o.Attack, "a generated value is fresh")
}

func TestEquivalenceVerdicts(t *testing.T) {
	src := `attacker[passive]
principal A[
	knows private k
	s1 = HASH(k)
	s2 = HASH(k)
	other = HASH(k, k)
]
queries[
	equivalence? s1, s2
	equivalence? s1, other
]
`
	reg, result, m := buildModel(t, src)
	state := attacker.New()

	o := query.Resolve(reg, result.Trace, result.States, state.Snapshot(), m.Queries[0])
	require.True(t, o.Resolved)
	require.False(t, o.Attack)

	o = query.Resolve(reg, result.Trace, result.States, state.Snapshot(), m.Queries[1])
	require.True(t, o.Resolved)
	require.True(t, o.Attack)
}

func TestPreconditionHeldWhenMessageOccurred(t *testing.T) {
	src := `attacker[passive]
principal A[ generates m ]
principal B[ knows private z ]
A -> B: m
queries[
	confidentiality? m
		precondition[A -> B: m]
]
`
	reg, result, m := buildModel(t, src)
	state := attacker.New()
	id, _ := reg.LookupConstant("m")
	state.Put(result.States["A"].Values[result.States["A"].IndexOf(id)].Assigned, nil)

	o := query.Resolve(reg, result.Trace, result.States, state.Snapshot(), m.Queries[0])
	require.True(t, o.Attack)
	require.Len(t, o.Preconditions, 1)
	require.True(t, o.Preconditions[0].Held)
}

func TestResultsWriteOnceAndCode(t *testing.T) {
	queries := []ast.Query{
		{Kind: ast.QueryConfidentiality},
		{Kind: ast.QueryAuthentication},
	}
	r := query.NewResults(2)
	require.False(t, r.AllResolved())

	require.True(t, r.Set(0, query.Outcome{Resolved: true, Attack: true}))
	require.False(t, r.Set(0, query.Outcome{Resolved: true, Attack: false}),
		"first resolution wins")
	require.True(t, r.Get(0).Attack)
	require.Equal(t, int32(1), r.Unresolved())

	require.True(t, r.Set(1, query.Outcome{Resolved: true, Attack: false}))
	require.True(t, r.AllResolved())
	require.Equal(t, "c1a0", query.Code(queries, r))
}

func TestUnresolvedQueryRendersQuestionMark(t *testing.T) {
	queries := []ast.Query{{Kind: ast.QueryFreshness}}
	r := query.NewResults(1)
	require.Equal(t, "f?", query.Code(queries, r))
}
