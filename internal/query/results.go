// Package query resolves each security query declared in a model's
// queries block against the current attacker knowledge and principal
// states.
package query

import (
	"sync"
	"sync/atomic"

	"github.com/opal-lang/verifpal-go/internal/ast"
)

// Outcome is the decided (or still-open) verdict for one query.
type Outcome struct {
	Resolved      bool
	Attack        bool   // true iff an attack was found (query violated)
	Summary       string // short plain-text reason, consumed by package narrative
	WitnessID     string // DisplayID of the attack trace, empty when Attack is false or no witness was recorded
	Preconditions []PreconditionOutcome
}

// PreconditionOutcome is the evaluated result of one `precondition[S -> R:
// c]` option attached to a failed query.
type PreconditionOutcome struct {
	Sender    string
	Recipient string
	Constant  string
	Held      bool // true iff Recipient ever received Constant from Sender
}

// Results is the write-once-per-index verdict array for one model's
// queries block: an RWMutex-guarded slice plus an atomic unresolved
// counter.
type Results struct {
	mu         sync.RWMutex
	outcomes   []Outcome
	unresolved atomic.Int32
}

// NewResults allocates a Results store for n queries, all initially
// unresolved.
func NewResults(n int) *Results {
	r := &Results{outcomes: make([]Outcome, n)}
	r.unresolved.Store(int32(n))
	return r
}

// Set records the outcome for query i, the first time only: once a query
// resolves (attack found, or an explicit "holds" verdict), later calls are
// no-ops — a query is never un-resolved mid-run. Returns true iff this
// call was the one that resolved it.
func (r *Results) Set(i int, o Outcome) bool {
	if !o.Resolved {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes[i].Resolved {
		return false
	}
	r.outcomes[i] = o
	r.unresolved.Add(-1)
	return true
}

// Get returns the current verdict for query i.
func (r *Results) Get(i int) Outcome {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.outcomes[i]
}

// Unresolved returns the number of queries with no verdict yet.
func (r *Results) Unresolved() int32 { return r.unresolved.Load() }

// AllResolved reports whether every query has a verdict — the cheap flag
// the active search and mutation.Resolved hook check between stages to
// stop early once nothing more can be learned.
func (r *Results) AllResolved() bool { return r.Unresolved() == 0 }

// resultChar renders one query's code character: 0 when the query holds
// (no attack found), 1 when it failed — so a model with no failures
// renders as e.g. "c0a0a0".
func resultChar(o Outcome) byte {
	if !o.Resolved {
		return '?'
	}
	if o.Attack {
		return '1'
	}
	return '0'
}

// kindChar renders a query's one-letter kind prefix for the results code.
func kindChar(k ast.QueryKind) byte {
	switch k {
	case ast.QueryConfidentiality:
		return 'c'
	case ast.QueryAuthentication:
		return 'a'
	case ast.QueryFreshness:
		return 'f'
	case ast.QueryUnlinkability:
		return 'u'
	case ast.QueryEquivalence:
		return 'e'
	default:
		return '?'
	}
}

// Code renders the compact results code for queries: one kind-char plus
// one verdict-digit per query, in declaration order.
func Code(queries []ast.Query, r *Results) string {
	buf := make([]byte, 0, len(queries)*2)
	for i, q := range queries {
		buf = append(buf, kindChar(q.Kind), resultChar(r.Get(i)))
	}
	return string(buf)
}
