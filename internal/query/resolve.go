package query

import (
	"fmt"

	"github.com/opal-lang/verifpal-go/internal/ast"
	"github.com/opal-lang/verifpal-go/internal/attacker"
	"github.com/opal-lang/verifpal-go/internal/diag"
	"github.com/opal-lang/verifpal-go/internal/registry"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// Resolve decides the current verdict for q, or returns Outcome{Resolved:
// false} if the current attacker knowledge does not yet settle it. When a
// verdict is a failure, every attached `precondition[...]` option is
// evaluated and included as context in the failure report.
func Resolve(reg *registry.Registry, t *trace.ProtocolTrace, states map[string]*trace.PrincipalState, snap attacker.Snapshot, q ast.Query) Outcome {
	var o Outcome
	switch q.Kind {
	case ast.QueryConfidentiality:
		o = resolveConfidentiality(reg, t, states, snap, q)
	case ast.QueryAuthentication:
		o = resolveAuthentication(reg, t, states, snap, q)
	case ast.QueryFreshness:
		o = resolveFreshness(reg, t, states, snap, q)
	case ast.QueryUnlinkability:
		o = resolveUnlinkability(reg, t, states, snap, q)
	case ast.QueryEquivalence:
		o = resolveEquivalence(reg, t, states, snap, q)
	default:
		return Outcome{}
	}
	if o.Resolved && o.Attack && len(q.Options) > 0 {
		o.Preconditions = resolvePreconditions(reg, t, q.Options)
	}
	return o
}

// resolvePreconditions evaluates each precondition option against the
// static trace's known-by edges: an option holds iff Recipient ever
// received Constant from Sender in some recorded transmission, regardless
// of what the active attacker later did to that transmission.
func resolvePreconditions(reg *registry.Registry, t *trace.ProtocolTrace, opts []ast.QueryOption) []PreconditionOutcome {
	out := make([]PreconditionOutcome, 0, len(opts))
	for _, opt := range opts {
		po := PreconditionOutcome{Sender: opt.Message.Sender, Recipient: opt.Message.Recipient}
		if len(opt.Message.Constants) > 0 {
			po.Constant = opt.Message.Constants[0].Name
		}
		if c, ok := constantOf(reg, po.Constant); ok {
			if idx := t.SlotIndex(c.ID); idx >= 0 {
				sender, ok := reg.LookupPrincipalID(po.Sender)
				recipient, ok2 := reg.LookupPrincipalID(po.Recipient)
				if ok && ok2 {
					for _, edge := range t.Slots[idx].KnownBy {
						if from, present := edge[recipient]; present && from == sender {
							po.Held = true
							break
						}
					}
				}
			}
		}
		out = append(out, po)
	}
	return out
}

func constantOf(reg *registry.Registry, name string) (value.Constant, bool) {
	id, ok := reg.LookupConstant(name)
	if !ok {
		return value.Constant{}, false
	}
	return value.Constant{Name: name, ID: id}, true
}

// firstKnowingView returns the Assigned value held for cid by the first
// principal — in the trace's stable declaration order, never Go's
// randomized map iteration order — that has any knowledge of it. Several
// query kinds need "some principal's view" of a constant that every
// interested principal should in fact resolve identically in a
// well-formed model; iterating `states` (a map keyed by principal name)
// directly would make which principal's view is picked, and therefore the
// resolved verdict whenever two principals' views have genuinely
// diverged (e.g. mid active-search mutation), depend on Go's randomized
// map order and break determinism under serial execution.
// t.Principals is built once at trace-construction time and
// never reordered, so iterating it is deterministic across runs of the
// same model.
func firstKnowingView(t *trace.ProtocolTrace, states map[string]*trace.PrincipalState, cid uint32) (value.Value, bool) {
	for _, name := range t.Principals {
		st, ok := states[name]
		if !ok {
			continue
		}
		if idx := st.IndexOf(cid); idx >= 0 {
			return st.Values[idx].Assigned, true
		}
	}
	return nil, false
}

// resolveConfidentiality resolves each operand to the holding principal's
// current view and tests whether the attacker knows that value (or the
// bare handle itself); it resolves as violated the moment any operand is
// known.
func resolveConfidentiality(reg *registry.Registry, t *trace.ProtocolTrace, states map[string]*trace.PrincipalState, snap attacker.Snapshot, q ast.Query) Outcome {
	for _, name := range q.Constants {
		c, ok := constantOf(reg, name)
		if !ok {
			continue
		}
		probe := value.Value(c)
		if v, found := firstKnowingView(t, states, c.ID); found {
			probe = v
		}
		known := snap.Knows(probe)
		if !known && !value.Equivalent(probe, c, true) {
			known = snap.Knows(c)
		}
		if known {
			o := Outcome{Resolved: true, Attack: true, Summary: fmt.Sprintf("the attacker learns %s", name)}
			if rec, ok := snap.WitnessFor(probe); ok {
				o.WitnessID = diag.DisplayID(witnessBytes(rec))
			}
			return o
		}
	}
	return Outcome{}
}

// witnessBytes renders a MutationRecord's slot diffs into a stable byte
// sequence for diag.DisplayID — a plain textual encoding is sufficient
// since the id only needs to be stable and collision-resistant, not
// round-trippable.
func witnessBytes(rec attacker.MutationRecord) []byte {
	var buf []byte
	for _, d := range rec.Diffs {
		buf = append(buf, fmt.Sprintf("%s=%v;mutated=%v|", d.ConstantName, d.Assigned, d.Mutated)...)
	}
	return buf
}

// resolveAuthentication checks whether Recipient ever *uses* a tampered
// rendition of Constant in a computation that goes through: the slot for
// Constant must have been received over a wire and mutated (or attributed
// to someone other than the queried Sender), and some primitive Recipient
// itself builds must reference Constant and either rewrite successfully
// or carry no instance check — a principal that aborted on a failing
// checked rewrite never acted on the forgery, so there is nothing to
// report. The fast path: when the recorded sender is the attacker
// but the pre-mutation view still equals the assigned view (a pure relay
// with no tampering), that delivery cannot itself be evidence of a break
// and is skipped.
func resolveAuthentication(reg *registry.Registry, t *trace.ProtocolTrace, states map[string]*trace.PrincipalState, snap attacker.Snapshot, q ast.Query) Outcome {
	c, ok := constantOf(reg, q.Message.Constants[0].Name)
	if !ok {
		return Outcome{}
	}
	recipient, ok := states[q.Message.Recipient]
	if !ok {
		return Outcome{}
	}
	senderID, ok := reg.LookupPrincipalID(q.Message.Sender)
	if !ok {
		return Outcome{}
	}

	idx := recipient.IndexOf(c.ID)
	if idx < 0 || idx >= len(recipient.Values) {
		return Outcome{}
	}
	meta := recipient.Meta[idx]
	sv := recipient.Values[idx]
	if !meta.ReceivedOverWire(recipient.ID) {
		return Outcome{}
	}
	if sv.Sender == registry.AttackerPrincipalID && sameValue(sv.BeforeMutate, sv.Assigned) {
		return Outcome{}
	}
	if !sv.Mutated && sv.Sender == senderID {
		return Outcome{}
	}

	for j := range recipient.Values {
		if recipient.Values[j].Creator != recipient.ID {
			continue
		}
		metaJ := recipient.Meta[j]
		tIdx := t.SlotIndex(metaJ.Constant.ID)
		if tIdx < 0 {
			continue
		}
		// The reference scan walks the pristine declared form: resolution
		// substitutes the constant away, so the post-resolution view of
		// DEC(a, e1) no longer mentions e1 at all.
		init := t.Slots[tIdx].Initial
		p, isPrim := value.IsPrimitive(init)
		if !isPrim || !referencesThroughTrace(t, init, c.ID, 0) {
			continue
		}
		if p.InstanceCheck && !recipient.Values[j].Rewritten {
			continue
		}
		if sv.Mutated {
			return Outcome{Resolved: true, Attack: true, Summary: fmt.Sprintf("the attacker tampers with %s in transit and %s uses it anyway", q.Message.Constants[0].Name, q.Message.Recipient)}
		}
		return Outcome{Resolved: true, Attack: true, Summary: fmt.Sprintf("%s accepts %s claiming it came from %s", q.Message.Recipient, q.Message.Constants[0].Name, q.Message.Sender)}
	}
	return Outcome{}
}

// referencesThroughTrace reports whether v mentions the constant with id
// cid, directly or through the declared value of any intermediate
// constant: HASH(d1) references e1 when d1 was declared as DEC(a, e1).
func referencesThroughTrace(t *trace.ProtocolTrace, v value.Value, cid uint32, depth int) bool {
	if depth > 16 {
		return false
	}
	switch vv := v.(type) {
	case value.Constant:
		if vv.ID == cid {
			return true
		}
		if idx := t.SlotIndex(vv.ID); idx >= 0 {
			init := t.Slots[idx].Initial
			if _, isC := value.IsConstant(init); !isC {
				return referencesThroughTrace(t, init, cid, depth+1)
			}
		}
	case *value.Primitive:
		for _, a := range vv.Arguments {
			if referencesThroughTrace(t, a, cid, depth+1) {
				return true
			}
		}
	case *value.Equation:
		for _, e := range vv.Values {
			if referencesThroughTrace(t, e, cid, depth+1) {
				return true
			}
		}
	}
	return false
}

// resolveFreshness fails iff an operand's resolution carries no constant
// marked Fresh (nothing in it was ever produced by a `generates`
// declaration) yet some principal actually uses it in a computation —
// meaning a stale or attacker-replayed value would be accepted exactly as
// a freshly generated one would.
func resolveFreshness(reg *registry.Registry, t *trace.ProtocolTrace, states map[string]*trace.PrincipalState, snap attacker.Snapshot, q ast.Query) Outcome {
	for _, name := range q.Constants {
		c, ok := constantOf(reg, name)
		if !ok {
			continue
		}
		if !t.UsedByAny(c.ID) {
			continue
		}
		resolved := value.Value(c)
		if v, ok := firstKnowingView(t, states, c.ID); ok {
			resolved = v
		}
		if value.ContainsFresh(resolved) {
			continue
		}
		return Outcome{Resolved: true, Attack: true, Summary: fmt.Sprintf("%s carries no fresh material and could be replayed", name)}
	}
	return Outcome{Resolved: true, Attack: false, Summary: "every operand is tied to a freshly generated value"}
}

// resolveUnlinkability holds unless two operands (each standing for one
// session's instance of the same role) resolve to structurally equivalent
// values that the attacker can actually obtain: every operand must first
// carry fresh material to even be a suitable unlinkability candidate (a
// constant value is trivially "linkable" in a way that says nothing about
// the protocol), then any attacker-obtainable pair that collapses to the
// same value breaks the sessions' unlinkability.
func resolveUnlinkability(reg *registry.Registry, t *trace.ProtocolTrace, states map[string]*trace.PrincipalState, snap attacker.Snapshot, q ast.Query) Outcome {
	if len(q.Constants) < 2 {
		return Outcome{}
	}
	resolved := make([]value.Value, 0, len(q.Constants))
	for _, name := range q.Constants {
		c, ok := constantOf(reg, name)
		if !ok {
			return Outcome{}
		}
		v := value.Value(c)
		if rv, ok := firstKnowingView(t, states, c.ID); ok {
			v = rv
		}
		if !value.ContainsFresh(v) {
			return Outcome{Resolved: true, Attack: true, Summary: fmt.Sprintf("%s carries no fresh material and is not a suitable unlinkability candidate", name)}
		}
		resolved = append(resolved, v)
	}
	for i := 0; i < len(resolved); i++ {
		for j := i + 1; j < len(resolved); j++ {
			if !value.Equivalent(resolved[i], resolved[j], false) {
				continue
			}
			if snap.Knows(resolved[i]) {
				return Outcome{Resolved: true, Attack: true, Summary: fmt.Sprintf("the attacker links %s and %s to the same value", q.Constants[i], q.Constants[j])}
			}
		}
	}
	return Outcome{Resolved: true, Attack: false, Summary: "the attacker cannot tell the sessions apart"}
}

// resolveEquivalence holds iff every operand's resolved value (the first
// knowing principal's view) is structurally equivalent to the first
// operand's, and fails as soon as one is not. It does not consult the
// attacker's knowledge; an operand no principal holds leaves the query
// unresolved.
func resolveEquivalence(reg *registry.Registry, t *trace.ProtocolTrace, states map[string]*trace.PrincipalState, snap attacker.Snapshot, q ast.Query) Outcome {
	if len(q.Constants) < 2 {
		return Outcome{}
	}
	var resolved []value.Value
	for _, name := range q.Constants {
		c, ok := constantOf(reg, name)
		if !ok {
			return Outcome{}
		}
		v, found := firstKnowingView(t, states, c.ID)
		if !found {
			return Outcome{}
		}
		resolved = append(resolved, v)
	}
	base := resolved[0]
	for _, r := range resolved[1:] {
		if !value.Equivalent(base, r, true) {
			return Outcome{Resolved: true, Attack: true, Summary: "the operands no longer resolve to structurally equivalent values"}
		}
	}
	return Outcome{Resolved: true, Attack: false, Summary: "every operand resolves to a structurally equivalent value"}
}

func sameValue(a, b value.Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	return value.Equivalent(a, b, true)
}
