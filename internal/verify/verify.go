// Package verify is the top-level verification entrypoint: given a
// parsed model, it builds the static trace, runs the phase loop (seed
// attacker knowledge, passive deduction closure, optional active
// search), and resolves every declared query.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/opal-lang/verifpal-go/internal/ast"
	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/construct"
	"github.com/opal-lang/verifpal-go/internal/deduce"
	"github.com/opal-lang/verifpal-go/internal/diag"
	"github.com/opal-lang/verifpal-go/internal/mutation"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/query"
	"github.com/opal-lang/verifpal-go/internal/registry"
	"github.com/opal-lang/verifpal-go/internal/rewriter"
	"github.com/opal-lang/verifpal-go/internal/search"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// Options configures one verification run. Attacker, when non-nil,
// overrides the model's own declared attacker directive (e.g. a CLI
// --active flag forcing active verification of a model written with
// `attacker[passive]`). A zero Budget is replaced with search.DefaultBudget.
type Options struct {
	Attacker *ast.AttackerModel
	Budget   search.Budget
	Timeout  time.Duration
}

// Report is the result of one verification run: the static trace, the
// queries as declared, their resolved outcomes, and the compact results
// code. Side-output packages (internal/output, internal/pretty,
// internal/narrative) build on this without internal/verify depending on
// any of them.
type Report struct {
	Model   *ast.Model
	Trace   *trace.ProtocolTrace
	States  map[string]*trace.PrincipalState
	Queries []ast.Query
	Results *query.Results
	Code    string
}

// Run verifies model and returns a Report, or a *diag error describing
// why it could not, or ctx's error once ctx is cancelled or the Timeout
// expires. A panic anywhere in the phase loop is recovered and
// converted into a *diag.InternalError rather than propagating.
func Run(ctx context.Context, model *ast.Model, opts Options) (report *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &diag.InternalError{Message: fmt.Sprintf("recovered panic: %v", r)}
			report = nil
		}
	}()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Budget == (search.Budget{}) {
		opts.Budget = search.DefaultBudget()
	}

	reg := registry.New()
	built, err := construct.Build(reg, model)
	if err != nil {
		return nil, err
	}

	attackerModel := model.Attacker
	if opts.Attacker != nil {
		attackerModel = *opts.Attacker
	}

	results := query.NewResults(len(model.Queries))
	preg := primitive.Default

	for phase := 0; phase <= built.Trace.MaxPhase; phase++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if results.AllResolved() {
			break
		}

		state := attacker.New()
		for _, name := range built.Trace.Principals {
			ps := built.States[name]
			pure := ps.Clone(true)
			pure.ResolveAll(true)
			state.BeginPhase(phase, built.Trace, pure)
		}

		for _, name := range built.Trace.Principals {
			ps := built.States[name]
			ps.ResolveAll(false)
			seedKnownPrimitives(state, ps)
			failures := rewriter.PerformAll(preg, ps)
			for _, f := range failures {
				spec, ok := preg.Lookup(f.ID)
				if !ok || !spec.DefinitionCheck || !f.InstanceCheck {
					continue
				}
				if attackerModel == ast.Active {
					continue // a guard bypass is exactly what active search attempts
				}
				return nil, &diag.SanityError{
					File:    model.FileName,
					Message: fmt.Sprintf("%s's use of %s fails its definition check", name, spec.Name),
					Context: fmt.Sprintf("phase %d", phase),
				}
			}
			if err := verifyEquationGenerators(model.FileName, ps); err != nil {
				return nil, err
			}
			deduce.Closure(preg, state, built.Trace, ps, nil)
		}

		// During a phase, only failure verdicts are recorded: a query that
		// looks fine against the current knowledge can still fall to a
		// deeper mutation or a later phase, so "holds" is never concluded
		// until the whole run is over.
		resolveFailures := func(trial *trace.PrincipalState) {
			snap := state.Snapshot()
			states := built.States
			if trial != nil {
				states = make(map[string]*trace.PrincipalState, len(built.States))
				for k, v := range built.States {
					states[k] = v
				}
				states[trial.Name] = trial
			}
			for i, q := range model.Queries {
				if results.Get(i).Resolved {
					continue
				}
				// Equivalence is a property of the honest protocol; a
				// transient trial substitution trivially distinguishes the
				// operands without saying anything about the protocol
				// itself.
				if trial != nil && q.Kind == ast.QueryEquivalence {
					continue
				}
				if o := query.Resolve(reg, built.Trace, states, snap, q); o.Resolved && o.Attack {
					results.Set(i, o)
				}
			}
		}

		if attackerModel == ast.Active {
			if err := search.Run(ctx, preg, state, built.Trace, built.States, results, opts.Budget, resolveFailures); err != nil {
				return nil, err
			}
		}

		resolveFailures(nil)

		if phase == built.Trace.MaxPhase {
			// Final rest point: whatever survived every phase and every
			// mutation now earns its "holds" verdict.
			snap := state.Snapshot()
			for i, q := range model.Queries {
				if results.Get(i).Resolved {
					continue
				}
				if o := query.Resolve(reg, built.Trace, built.States, snap, q); o.Resolved {
					results.Set(i, o)
					continue
				}
				results.Set(i, query.Outcome{Resolved: true, Attack: false, Summary: "no attack found within the search budget"})
			}
		}
	}

	code := query.Code(model.Queries, results)
	return &Report{
		Model: model, Trace: built.Trace, States: built.States,
		Queries: model.Queries, Results: results, Code: code,
	}, nil
}

// verifyEquationGenerators checks, post-resolution, that every
// equation-valued slot flattens to the generator at index 0 and nowhere
// else. The check runs here rather than in the trace builder
// because an equation's base may be declared as another constant (gb^a)
// and only resolution exposes the full chain.
func verifyEquationGenerators(file string, ps *trace.PrincipalState) error {
	for i := range ps.Values {
		e, ok := value.IsEquation(ps.Values[i].Assigned)
		if !ok {
			continue
		}
		fe := value.Flatten(e)
		if len(fe.Values) == 0 {
			return &diag.SanityError{File: file, Message: "equation resolves to no terms", Context: ps.Meta[i].Constant.Name}
		}
		root, isConst := value.IsConstant(fe.Values[0])
		if !isConst || root.ID != registry.GID {
			return &diag.SanityError{
				File:    file,
				Message: fmt.Sprintf("equation assigned to %s does not resolve to a generator-rooted form", ps.Meta[i].Constant.Name),
				Context: ps.Name,
			}
		}
		for _, exp := range fe.Values[1:] {
			if c, isC := value.IsConstant(exp); isC && c.ID == registry.GID {
				return &diag.SanityError{
					File:    file,
					Message: fmt.Sprintf("equation assigned to %s uses the generator in exponent position", ps.Meta[i].Constant.Name),
					Context: ps.Name,
				}
			}
		}
	}
	return nil
}

// seedKnownPrimitives primes attacker knowledge with a skeleton
// placeholder for every primitive-valued slot in this principal's state
// (received as well as locally computed), so
// deduction and (later) active search can specialize an existing shape
// instead of rediscovering it.
func seedKnownPrimitives(state *attacker.State, ps *trace.PrincipalState) {
	snap := state.Snapshot()
	for _, sv := range ps.Values {
		if p, ok := sv.Assigned.(*value.Primitive); ok {
			mutation.MissingSkeletons(state, snap, p, ps)
		}
	}
}
