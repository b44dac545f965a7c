// Package search implements the active-attacker mutation search:
// per-principal, per-stage enumeration of attacker-controlled message
// substitutions, fanned out as an errgroup.Group per stage.
package search

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/deduce"
	"github.com/opal-lang/verifpal-go/internal/mutation"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/query"
	"github.com/opal-lang/verifpal-go/internal/registry"
	"github.com/opal-lang/verifpal-go/internal/rewriter"
	"github.com/opal-lang/verifpal-go/internal/theory"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// maxBypassOverrideRounds bounds the g^nil-override-then-re-resolve loop
// in overrideBypassLoop: each round may unblock one more guarded rewrite
// that depended on the slot just overridden, so a handful of rounds lets
// a short dependency chain of guards open in sequence without looping
// indefinitely.
const maxBypassOverrideRounds = 5

// maxFocusedDecomposeRounds bounds focusedDecompose's narrow fixed-point
// loop over one principal's wire-valued slots.
const maxFocusedDecomposeRounds = 8

// QueryHook re-attempts every still-unresolved query against a trial
// principal state (the scanning principal's mutated clone overlaid on the
// otherwise-pristine state set). Installed by internal/verify, which owns
// the query list and results store; during the search only failure
// verdicts are recorded, since a "holds" can always be overturned by a
// later, deeper mutation.
type QueryHook func(trial *trace.PrincipalState)

// Run drives the active search for one phase: for every principal, widen
// the mutation map stage by stage, scanning weighted subsets of
// attacker-controlled constants until the budget is spent, knowledge
// stops growing for ExhaustionThreshold consecutive stages, or every
// query in queries has resolved.
func Run(ctx context.Context, reg theory.Registry, state *attacker.State, t *trace.ProtocolTrace, principals map[string]*trace.PrincipalState, results *query.Results, budget Budget, resolve QueryHook) error {
	mutation.Resolved = results.AllResolved

	// A one-time pre-scan, before the weighted enumeration even starts:
	// many Diffie-Hellman protocols break the instant the attacker drives
	// an exchange input to g^nil, and that specific forgery is common
	// enough to earn a direct probe rather than waiting for the weighted
	// subset scan to reach it by enumeration.
	targetedEquationBypass(reg, state, t, principals, resolve)

	idle := 0
	for stage := 0; stage <= budget.MaxStage; stage++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if results.AllResolved() {
			return nil
		}
		before := state.KnownCount()

		g, gctx := errgroup.WithContext(ctx)
		for name, ps := range principals {
			name, ps := name, ps
			g.Go(func() error {
				return scanPrincipal(gctx, reg, state, t, ps, name, stage, budget, results, resolve)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		guardBypassPass(reg, state, t, principals, resolve)

		after := state.KnownCount()
		if after == before {
			idle++
		} else {
			idle = 0
		}
		if idle >= budget.ExhaustionThreshold {
			state.SetExhausted()
			return nil
		}
	}
	state.SetExhausted()
	return nil
}

func scanPrincipal(ctx context.Context, reg theory.Registry, state *attacker.State, t *trace.ProtocolTrace, ps *trace.PrincipalState, principalName string, stage int, budget Budget, results *query.Results, resolve QueryHook) error {
	snap := state.Snapshot()
	mm := mutation.Build(reg, state, snap, t, ps, stage)
	if len(mm.Constants) == 0 {
		return nil
	}

	// baseline is the untampered resolution every trial combination is
	// measured against for the worthwhile check below; it is never
	// mutated.
	baseline := ps.Clone(true)
	baseline.ResolveAll(false)

	scanBudget := 0
	scanSubset := func(ctx context.Context, sub *mutation.Map) (bool, error) {
		for {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			mutation.Next(sub)
			if sub.OutOfMutations {
				return true, nil
			}
			scanBudget++
			if scanBudget > budget.MaxScanBudget {
				return false, nil
			}
			trial := ps.Clone(true)
			touched := applyCombo(trial, sub)
			if !worthwhile(trial, baseline, touched) {
				continue
			}
			evaluate(reg, state, t, trial, resolve)
			if results.AllResolved() {
				return false, nil
			}
		}
	}

	for weight := 1; weight <= budget.MaxSubsetWeight && weight <= len(mm.Constants); weight++ {
		// A single mutated position can afford a deeper candidate list than
		// a multi-position combination, whose cost is the whole Cartesian
		// product.
		limit := budget.MaxMutationsPerSubset
		if weight == 1 {
			limit = budget.MaxWeight1Mutations
		}
		subsets := chooseSubsets(len(mm.Constants), weight, budget.MaxSubsetsPerWeight)
		for _, indices := range subsets {
			if results.AllResolved() {
				return nil
			}
			sub := mutation.SubsetCapped(mm, indices, limit)
			more, err := scanSubset(ctx, sub)
			if err != nil {
				return err
			}
			if !more {
				return nil
			}
		}
	}

	// The weighted passes sample the combination space; when the whole
	// space is small enough and budget remains, sweep it outright.
	if scanBudget < budget.MaxScanBudget && fullProduct(mm) <= budget.MaxFullProduct {
		all := make([]int, len(mm.Constants))
		for i := range all {
			all[i] = i
		}
		if _, err := scanSubset(ctx, mutation.Subset(mm, all)); err != nil {
			return err
		}
	}
	return nil
}

// fullProduct returns the total number of combinations across every
// attackable position, saturating at the first overflow-risking step.
func fullProduct(mm *mutation.Map) int {
	product := 1
	for _, m := range mm.Mutations {
		if len(m) == 0 {
			continue
		}
		if product > (1<<31)/len(m) {
			return 1 << 31
		}
		product *= len(m)
	}
	return product
}

// applyCombo writes one trial combination of attacker-controlled
// replacement values into ps's working state: Assigned and BeforeRewrite
// take the forged value, Creator and Sender become the attacker, and the
// slot is marked Mutated. BeforeMutate keeps the pristine view — the
// resolver's policy relies on that split to let a principal reason
// about its own computations with the untampered inputs while the forged
// value flows through everything it received over the wire. It returns
// the indices actually touched, for the worthwhile check.
func applyCombo(ps *trace.PrincipalState, mm *mutation.Map) []int {
	combo := mm.Combination()
	touched := make([]int, 0, len(mm.Constants))
	for i, c := range mm.Constants {
		idx := ps.IndexOf(c.ID)
		if idx < 0 {
			continue
		}
		mutateSlot(&ps.Values[idx], combo[i])
		touched = append(touched, idx)
	}
	return touched
}

func mutateSlot(sv *trace.SlotValues, v value.Value) {
	sv.Assigned = v
	sv.BeforeRewrite = v
	sv.Creator = registry.AttackerPrincipalID
	sv.Sender = registry.AttackerPrincipalID
	sv.Mutated = true
}

// worthwhile reports whether a trial combination could possibly teach the
// attacker anything a baseline (untampered) resolution could not: if
// every slot the combo actually touched still resolves, after mutation,
// to something structurally equivalent to its pristine pre-mutation
// resolution, then evaluating the full trial (re-resolve, re-rewrite,
// deduction closure) would be wasted work.
func worthwhile(trial, baseline *trace.PrincipalState, touched []int) bool {
	for _, idx := range touched {
		if idx >= len(baseline.Values) || idx >= len(trial.Values) {
			return true
		}
		if !value.Equivalent(trial.Values[idx].Assigned, baseline.Values[idx].Assigned, false) {
			return true
		}
	}
	return false
}

// evaluate re-resolves and re-rewrites ps against the trial substitution,
// feeds any newly-rewritten wire values back into attacker knowledge,
// truncates ps if one of its own guarded computations could not reduce,
// runs the deduction closure, and re-attempts the unresolved queries
// against the mutated state — the same resolve/rewrite/deduce/query
// sequence the standard run performs, but over a tampered state.
func evaluate(reg theory.Registry, state *attacker.State, t *trace.ProtocolTrace, ps *trace.PrincipalState, resolve QueryHook) {
	ps.ResolveAll(false)
	failures := rewriter.PerformAllIndexed(reg, ps)
	applyTruncation(reg, ps, failures)
	for i := range ps.Values {
		// Only wire-crossing values reach the network; a principal's
		// local computations stay local unless deduction derives them.
		if len(ps.Meta[i].Wire) > 0 {
			state.Put(ps.Values[i].Assigned, ps)
		}
	}
	deduce.Closure(reg, state, t, ps, nil)
	if resolve != nil {
		resolve(ps)
	}
}

// applyTruncation models a principal aborting the session the first time
// one of its own guarded computations fails to reduce: the
// principal would never reach the code that builds anything declared
// after that point, so every slot declared at or after the next
// declaration boundary following the failing slot is dropped. Only
// failures the scanning principal itself is responsible for (it created
// the failing slot) trigger this — a guard failing in a value merely
// passing through would not by itself abort this principal's session.
func applyTruncation(reg theory.Registry, ps *trace.PrincipalState, failures []rewriter.Failure) {
	for _, f := range failures {
		spec, ok := reg.Lookup(f.Primitive.ID)
		if !ok || !spec.DefinitionCheck || !f.Primitive.InstanceCheck {
			continue
		}
		idx := f.SlotIndex
		if idx < 0 || idx >= len(ps.Values) || idx >= len(ps.Meta) {
			continue
		}
		if ps.Values[idx].Creator != ps.ID {
			continue
		}
		boundary := ps.Meta[idx].DeclaredAt
		cut := len(ps.Meta)
		for i, meta := range ps.Meta {
			if meta.DeclaredAt > boundary {
				cut = i
				break
			}
		}
		ps.Truncate(cut)
		return
	}
}

// guardBypassPass looks for primitives whose instance-checked rewrite
// failed during the standard pass and tries three escalating ways to
// satisfy the guard anyway, modelling an attacker who is not limited to
// replaying values it has directly intercepted: first, forging a fresh
// instance from a reconstructible bypass key (the catalogue's BypassKey
// rule); second,
// forcing the guard's own still-failing slot to g^nil and letting the
// rewrite cascade re-run; third, a narrow decompose pass over this
// principal's wire-valued slots to pick up anything the first two steps
// exposed.
func guardBypassPass(reg theory.Registry, state *attacker.State, t *trace.ProtocolTrace, principals map[string]*trace.PrincipalState, resolve QueryHook) {
	for _, ps := range principals {
		// Work on a clone: the bypass overrides model one hypothetical
		// session, not a permanent change to the principal's protocol
		// state, which later stages and phases keep scanning pristine.
		work := ps.Clone(true)
		bypassKeyedFailures(reg, state, work)
		overrideBypassLoop(reg, state, work)
		focusedDecompose(reg, state, work)
		if resolve != nil {
			resolve(work)
		}
	}
}

// bypassKeyedFailures forges a fresh instance of any guarded primitive
// whose catalogue-declared bypass key the attacker can either already
// name outright or assemble from other known/derivable material
// (CanReconstructPrimitive / CanReconstructEquation) — an attacker who
// has stolen or rebuilt the key crafts their own ciphertext/signature/MAC
// from scratch rather than only ever replaying an intercepted one.
func bypassKeyedFailures(reg theory.Registry, state *attacker.State, ps *trace.PrincipalState) {
	failures := rewriter.PerformAll(reg, ps)
	for _, p := range failures {
		spec, ok := reg.Lookup(p.ID)
		if !ok || spec.BypassKey == nil {
			continue
		}
		key := extractBypassKey(*spec.BypassKey, p)
		if key == nil {
			continue
		}
		snap := state.Snapshot()
		if !keyObtainable(reg, key, ps, snap) {
			continue
		}
		forged := &value.Primitive{ID: p.ID, Arguments: append([]value.Value(nil), p.Arguments...), Output: p.Output}
		state.Put(forged, ps)
	}
}

// keyObtainable reports whether the attacker either already knows key
// outright or could assemble it from already-known or derivable
// components, rather than requiring an exact intercepted match.
func keyObtainable(reg theory.Registry, key value.Value, ps *trace.PrincipalState, snap attacker.Snapshot) bool {
	if snap.Knows(key) {
		return true
	}
	switch kv := key.(type) {
	case *value.Primitive:
		_, ok := theory.CanReconstructPrimitive(reg, kv, ps, snap, 0)
		return ok
	case *value.Equation:
		return theory.CanReconstructEquation(reg, kv, ps, snap, 0)
	default:
		return false
	}
}

// overrideBypassLoop repeatedly forces the slot of every still-failing
// guarded (instance-checked) primitive whose bypass key the attacker can
// obtain to g^nil and re-resolves and re-rewrites the state, modelling an
// attacker who holds the key and drives the guard's slot to the identity
// element to see whether a dependent computation downstream still
// accepts it. Each round may unblock a further guard that depended on the
// slot just overridden, so the loop iterates a bounded number of times
// rather than stopping after one pass.
func overrideBypassLoop(reg theory.Registry, state *attacker.State, ps *trace.PrincipalState) {
	for round := 0; round < maxBypassOverrideRounds; round++ {
		failures := rewriter.PerformAllIndexed(reg, ps)
		if len(failures) == 0 {
			return
		}
		progressed := false
		for _, f := range failures {
			spec, ok := reg.Lookup(f.Primitive.ID)
			if !ok || spec.BypassKey == nil || !f.Primitive.InstanceCheck {
				continue
			}
			key := extractBypassKey(*spec.BypassKey, f.Primitive)
			if key == nil || !keyObtainable(reg, key, ps, state.Snapshot()) {
				continue
			}
			idx := f.SlotIndex
			if idx < 0 || idx >= len(ps.Values) {
				continue
			}
			sv := &ps.Values[idx]
			if sv.Mutated {
				continue
			}
			sv.OverrideAll(value.GNil())
			sv.Mutated = true
			progressed = true
		}
		if !progressed {
			return
		}
		ps.ResolveAll(false)
	}
}

// focusedDecompose runs a bounded number of rounds of passive and active
// decomposition over this principal's wire-valued primitive slots
// only — deliberately narrower than deduce.Closure's full fixed point
// over every value in scope, since guardBypassPass runs once per stage
// across every principal and a full closure pass here would duplicate
// the deduction scanPrincipal's own evaluate step already drives; this
// pass exists only to pick up anything the bypass-key forgery or g^nil
// override immediately above newly exposed.
func focusedDecompose(reg theory.Registry, state *attacker.State, ps *trace.PrincipalState) {
	for round := 0; round < maxFocusedDecomposeRounds; round++ {
		snap := state.Snapshot()
		progressed := false
		for i, sv := range ps.Values {
			if len(ps.Meta[i].Wire) == 0 {
				continue
			}
			p, ok := value.IsPrimitive(sv.Assigned)
			if !ok {
				continue
			}
			for _, v := range theory.PassivelyDecompose(reg, p) {
				if state.Put(v, ps) {
					progressed = true
				}
			}
			if res, ok := theory.CanDecompose(reg, p, ps, snap, 0); ok {
				if state.Put(res.Revealed, ps) {
					progressed = true
				}
			}
		}
		if !progressed {
			return
		}
	}
}

// targetedEquationBypass probes every unguarded wire-received
// equation-valued slot by forcing it, and then every such slot at once,
// to g^nil — the classic nil-exponent forgery that collapses an
// otherwise-unknown Diffie-Hellman value to something the attacker
// already holds outright — rather than waiting for the weighted
// mutation scan to reach the same substitution by enumeration. It probes
// against a scratch clone of each principal's state so a failed probe
// leaves no trace; any knowledge an evaluate() call gains along the way
// is kept (attacker.State is monotone and shared, unlike the per-probe
// clone).
func targetedEquationBypass(reg theory.Registry, state *attacker.State, t *trace.ProtocolTrace, principals map[string]*trace.PrincipalState, resolve QueryHook) {
	for _, ps := range principals {
		var touched []int
		for i, meta := range ps.Meta {
			if meta.Guard {
				continue
			}
			if !meta.ReceivedOverWire(ps.ID) {
				continue
			}
			if _, ok := value.IsEquation(ps.Values[i].Assigned); !ok {
				continue
			}
			touched = append(touched, i)
		}
		if len(touched) == 0 {
			continue
		}
		for _, idx := range touched {
			single := ps.Clone(true)
			mutateSlot(&single.Values[idx], value.GNil())
			evaluate(reg, state, t, single, resolve)
		}
		all := ps.Clone(true)
		for _, idx := range touched {
			mutateSlot(&all.Values[idx], value.GNil())
		}
		evaluate(reg, state, t, all, resolve)
	}
}

func extractBypassKey(spec primitive.BypassKeySpec, p *value.Primitive) value.Value {
	if spec.Arg >= len(p.Arguments) {
		return nil
	}
	arg := p.Arguments[spec.Arg]
	switch spec.Kind {
	case primitive.BypassDirect:
		return arg
	case primitive.BypassLastExponent:
		eq, ok := value.IsEquation(arg)
		if !ok || len(eq.Values) == 0 {
			return nil
		}
		return eq.Values[len(eq.Values)-1]
	default:
		return nil
	}
}

// chooseSubsets enumerates up to cap index-subsets of size weight drawn
// from [0, n), in lexicographic order — a plain combinatorial generator,
// not an agent: the weighted scan's cost control comes entirely from the
// cap and from SubsetCapped's per-dimension truncation.
func chooseSubsets(n, weight, cap int) [][]int {
	var out [][]int
	if weight <= 0 || weight > n {
		return out
	}
	indices := make([]int, weight)
	for i := range indices {
		indices[i] = i
	}
	for {
		if len(out) >= cap {
			return out
		}
		out = append(out, append([]int(nil), indices...))
		i := weight - 1
		for i >= 0 && indices[i] == n-weight+i {
			i--
		}
		if i < 0 {
			return out
		}
		indices[i]++
		for j := i + 1; j < weight; j++ {
			indices[j] = indices[j-1] + 1
		}
	}
}
