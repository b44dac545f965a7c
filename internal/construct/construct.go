// Package construct builds the static ProtocolTrace and initial
// PrincipalState set from a parsed ast.Model, in two passes: first
// interning every name and recording declaration metadata, then walking
// the model again to assemble message edges, phase sets, and used-by
// bookkeeping.
package construct

import (
	"fmt"
	"sort"

	"github.com/opal-lang/verifpal-go/internal/ast"
	"github.com/opal-lang/verifpal-go/internal/diag"
	"github.com/opal-lang/verifpal-go/internal/parser"
	"github.com/opal-lang/verifpal-go/internal/primitive"
	"github.com/opal-lang/verifpal-go/internal/registry"
	"github.com/opal-lang/verifpal-go/internal/trace"
	"github.com/opal-lang/verifpal-go/internal/value"
)

// maxEquationDepth is the maximum nesting of an equation inside another
// equation's exponent position.
const maxEquationDepth = 2

// declInfo is the pass-1 record of how and where a constant entered the
// protocol.
type declInfo struct {
	id          uint32
	name        string
	owner       uint8 // principal that declared it
	declaration value.Declaration
	qualifier   value.Qualifier
	fresh       bool
	leaked      bool
	declaredAt  int // ordinal position among all declarations, model-wide
	value       *ast.Value
}

// builder carries pass state across both walks.
type builder struct {
	reg   *registry.Registry
	model *ast.Model

	principalOrder []string
	decls          map[uint32]*declInfo
	declOrder      []uint32
	ordinal        int

	knownNames map[string]bool // union of every declared/message-carried name, for suggestions
}

// Result is the output of Build: the immutable trace plus one initial
// working state per principal, keyed by principal name.
type Result struct {
	Trace  *trace.ProtocolTrace
	States map[string]*trace.PrincipalState
}

// Build walks m twice and produces the static trace and initial principal
// states, or a *diag.SanityError describing the first violation found.
func Build(reg *registry.Registry, m *ast.Model) (*Result, error) {
	b := &builder{
		reg:        reg,
		model:      m,
		decls:      map[uint32]*declInfo{},
		knownNames: map[string]bool{},
	}
	if err := b.pass1(); err != nil {
		return nil, err
	}
	return b.pass2()
}

func (b *builder) sanityf(ctx, format string, args ...interface{}) error {
	return &diag.SanityError{File: b.model.FileName, Message: fmt.Sprintf(format, args...), Context: ctx}
}

func (b *builder) suggest(name string) string {
	candidates := make([]string, 0, len(b.knownNames))
	for n := range b.knownNames {
		candidates = append(candidates, n)
	}
	sort.Strings(candidates)
	if s := parser.SuggestName(name, candidates); s != "" {
		return "did you mean " + s + "?"
	}
	return ""
}

// pass1 interns principal and constant names, recording declaration
// metadata, and rejects reserved-name collisions, duplicate generates, and
// the principal cap.
func (b *builder) pass1() error {
	generated := map[string]bool{}

	seenPrincipal := map[string]bool{}
	for bi := range b.model.Blocks {
		block := &b.model.Blocks[bi]
		if block.Kind != ast.BlockPrincipal {
			continue
		}
		pr := &block.Principal
		if parser.IsReserved(pr.Name) {
			return b.sanityf(pr.Name, "principal name %q collides with a reserved keyword", pr.Name)
		}
		pid, err := b.reg.InternPrincipal(pr.Name)
		if err != nil {
			return &diag.SanityError{File: b.model.FileName, Message: err.Error(), Context: pr.Name}
		}
		if !seenPrincipal[pr.Name] {
			seenPrincipal[pr.Name] = true
			b.principalOrder = append(b.principalOrder, pr.Name)
		}
		b.knownNames[pr.Name] = true

		for ei := range pr.Expressions {
			expr := &pr.Expressions[ei]
			switch expr.Kind {
			case ast.ExprKnows, ast.ExprGenerates, ast.ExprLeaks:
				for _, name := range expr.Names {
					if parser.IsReserved(name) {
						return b.sanityf(pr.Name, "constant name %q collides with a reserved keyword", name)
					}
					if expr.Kind == ast.ExprGenerates {
						key := pr.Name + "/" + name
						if generated[key] {
							return b.sanityf(pr.Name, "%q is generated more than once by %s", name, pr.Name)
						}
						generated[key] = true
					}
					if expr.Kind == ast.ExprLeaks {
						if _, ok := b.reg.LookupConstant(name); !ok {
							return b.sanityf(pr.Name, "%s leaks undeclared constant %q (%s)", pr.Name, name, b.suggest(name))
						}
					}
					b.declareConstant(name, pid, declKindOf(expr.Kind), expr.Qualifier, expr.Kind == ast.ExprGenerates, expr.Kind == ast.ExprLeaks, nil)
				}
			case ast.ExprAssignment:
				if expr.Assigned == "_" {
					expr.Assigned = b.reg.NextAnonName()
				} else if parser.IsReserved(expr.Assigned) {
					return b.sanityf(pr.Name, "constant name %q collides with a reserved keyword", expr.Assigned)
				}
				val := expr.Value
				b.declareConstant(expr.Assigned, pid, value.DeclAssignment, ast.QualNone, false, false, &val)
			}
		}
	}

	if len(b.principalOrder) == 0 {
		return b.sanityf("", "model declares no principals")
	}
	return nil
}

func declKindOf(k ast.ExprKind) value.Declaration {
	switch k {
	case ast.ExprKnows:
		return value.DeclKnows
	case ast.ExprGenerates:
		return value.DeclGenerates
	case ast.ExprLeaks:
		return value.DeclLeaks
	default:
		return value.DeclAssignment
	}
}

func qualifierOf(q ast.Qualifier) value.Qualifier {
	switch q {
	case ast.QualPublic:
		return value.QualPublic
	case ast.QualPrivate:
		return value.QualPrivate
	case ast.QualPassword:
		return value.QualPassword
	default:
		return value.QualEmpty
	}
}

func (b *builder) declareConstant(name string, owner uint8, decl value.Declaration, qual ast.Qualifier, fresh, leaked bool, val *ast.Value) uint32 {
	b.knownNames[name] = true
	if id, ok := b.reg.LookupConstant(name); ok {
		if leaked {
			b.decls[id].leaked = true
		}
		return id
	}
	id := b.reg.InternConstant(name)
	b.ordinal++
	b.decls[id] = &declInfo{
		id: id, name: name, owner: owner,
		declaration: decl, qualifier: qualifierOf(qual),
		fresh: fresh, leaked: leaked, declaredAt: b.ordinal, value: val,
	}
	b.declOrder = append(b.declOrder, id)
	return id
}

// pass2 builds the ProtocolTrace and per-principal initial states, walking
// blocks in source order to establish known_by edges, phases, used_by, and
// use-before-knowledge checks.
func (b *builder) pass2() (*Result, error) {
	states := map[string]*trace.PrincipalState{}
	for i, name := range b.principalOrder {
		pid := uint8(i)
		states[name] = trace.NewPrincipalState(name, pid)
	}

	known := map[string]map[uint32]bool{} // principal name -> set of known constant ids
	for _, name := range b.principalOrder {
		known[name] = map[uint32]bool{}
	}

	slotByID := map[uint32]*trace.TraceSlot{}
	usedBy := map[uint32]map[uint8]bool{}
	// Canonical declared value per constant: the declaring principal's rhs
	// for an assignment, the bare constant for knows/generates. Message
	// recipients start from this value, so their resolver sees the real
	// computation chain rather than an opaque self-reference.
	initialByID := map[uint32]value.Value{}
	// Wire recipients and in-transit tamperability accumulate across every
	// transmission of a constant; they are protocol-structural, so every
	// principal's SlotMeta for the same constant must end up sharing the
	// full lists. Metas are patched after the block walk.
	wireByID := map[uint32][]uint8{}
	mutatableByID := map[uint32][]uint8{}
	metasByID := map[uint32][]*trace.SlotMeta{}
	currentPhase := 0
	maxPhase := 0

	markUsed := func(cid uint32, pid uint8) {
		if usedBy[cid] == nil {
			usedBy[cid] = map[uint8]bool{}
		}
		usedBy[cid][pid] = true
	}

	var walkValue func(av ast.Value, pid uint8, depth int) (value.Value, error)
	walkValue = func(av ast.Value, pid uint8, depth int) (value.Value, error) {
		switch av.Kind {
		case ast.ValueConstant:
			id, ok := b.reg.LookupConstant(av.Name)
			if !ok {
				return nil, b.sanityf(av.Name, "reference to undeclared constant %q (%s)", av.Name, b.suggest(av.Name))
			}
			markUsed(id, pid)
			info := b.decls[id]
			c := value.Constant{Name: av.Name, ID: id}
			if info != nil {
				c.Fresh, c.Leaked, c.Declaration, c.Qualifier = info.fresh, info.leaked, info.declaration, info.qualifier
			}
			return c, nil
		case ast.ValuePrimitive:
			spec, ok := primitive.Default.LookupByName(av.Primitive)
			if !ok {
				return nil, b.sanityf(av.Primitive, "unknown primitive %q", av.Primitive)
			}
			if len(spec.Arities) > 0 && !containsInt(spec.Arities, len(av.Arguments)) {
				return nil, b.sanityf(spec.Name, "%s expects %v argument(s), got %d", spec.Name, spec.Arities, len(av.Arguments))
			}
			args := make([]value.Value, len(av.Arguments))
			for i, a := range av.Arguments {
				v, err := walkValue(a, pid, depth)
				if err != nil {
					return nil, err
				}
				args[i] = v
			}
			return &value.Primitive{ID: spec.ID, Arguments: args, Output: av.Output, InstanceCheck: av.InstanceCheck}, nil
		case ast.ValueEquation:
			if depth >= maxEquationDepth {
				return nil, b.sanityf("", "equation nesting exceeds depth %d", maxEquationDepth)
			}
			if len(av.Terms) == 0 {
				return nil, b.sanityf("", "equation must have at least one term")
			}
			// The base may be g itself or a constant that resolves to
			// another equation (gb^a flattens to g^b^a once gb is
			// substituted); the generator-at-root invariant is checked
			// post-resolution by the standard run, where the full chain
			// is visible. What can be rejected here is the one shape no
			// substitution can repair: a literal g in exponent position.
			for _, t := range av.Terms[1:] {
				if t.Kind == ast.ValueConstant && t.Name == "g" {
					return nil, b.sanityf("", "generator g may only appear at the root of an equation")
				}
			}
			terms := make([]value.Value, len(av.Terms))
			for i, t := range av.Terms {
				v, err := walkValue(t, pid, depth+1)
				if err != nil {
					return nil, err
				}
				terms[i] = v
			}
			return &value.Equation{Values: terms}, nil
		}
		return nil, b.sanityf("", "unreachable value kind")
	}

	// Phases records transmission and leak windows only; a declaration that
	// never crosses the wire leaves the set empty.
	ensureSlot := func(id uint32, creator uint8) *trace.TraceSlot {
		if s, ok := slotByID[id]; ok {
			return s
		}
		info := b.decls[id]
		s := &trace.TraceSlot{
			Constant:   value.Constant{Name: info.name, ID: id, Fresh: info.fresh, Leaked: info.leaked, Declaration: info.declaration, Qualifier: info.qualifier},
			Creator:    creator,
			DeclaredAt: info.declaredAt,
			Phases:     map[int]bool{},
		}
		s.Initial = s.Constant
		slotByID[id] = s
		return s
	}

	for _, block := range b.model.Blocks {
		switch block.Kind {
		case ast.BlockPhase:
			if block.Phase.Number != currentPhase+1 {
				return nil, b.sanityf("", "phase %d does not follow phase %d in sequence (must increase by exactly 1)", block.Phase.Number, currentPhase)
			}
			currentPhase = block.Phase.Number
			if currentPhase > maxPhase {
				maxPhase = currentPhase
			}

		case ast.BlockPrincipal:
			pr := block.Principal
			pid, _ := b.reg.InternPrincipal(pr.Name)
			st := states[pr.Name]
			for _, expr := range pr.Expressions {
				switch expr.Kind {
				case ast.ExprKnows, ast.ExprGenerates:
					for _, name := range expr.Names {
						id, _ := b.reg.LookupConstant(name)
						known[pr.Name][id] = true
						slot := ensureSlot(id, pid)
						if _, ok := initialByID[id]; !ok {
							initialByID[id] = slot.Constant
						}
						meta := &trace.SlotMeta{
							Constant: slot.Constant, Known: true, DeclaredAt: slot.DeclaredAt,
							Phase: map[int]bool{currentPhase: true},
						}
						metasByID[id] = append(metasByID[id], meta)
						st.AddSlot(meta, trace.SlotValues{Assigned: slot.Constant, BeforeMutate: slot.Constant, Creator: pid, Sender: pid})
					}
				case ast.ExprLeaks:
					for _, name := range expr.Names {
						id, ok := b.reg.LookupConstant(name)
						if !ok || !known[pr.Name][id] {
							return nil, b.sanityf(pr.Name, "%s leaks %q before knowing it", pr.Name, name)
						}
						slot := slotByID[id]
						slot.Phases[currentPhase] = true
					}
				case ast.ExprAssignment:
					id, _ := b.reg.LookupConstant(expr.Assigned)
					rhs, err := walkValue(expr.Value, pid, 0)
					if err != nil {
						return nil, err
					}
					known[pr.Name][id] = true
					slot := ensureSlot(id, pid)
					slot.Initial = rhs
					if _, ok := initialByID[id]; !ok {
						initialByID[id] = rhs
					}
					meta := &trace.SlotMeta{
						Constant: slot.Constant, Known: true, DeclaredAt: slot.DeclaredAt,
						Phase: map[int]bool{currentPhase: true},
					}
					metasByID[id] = append(metasByID[id], meta)
					st.AddSlot(meta, trace.SlotValues{Assigned: rhs, BeforeMutate: rhs, Creator: pid, Sender: pid})
				}
			}

		case ast.BlockMessage:
			msg := block.Message
			senderID, ok := b.reg.LookupPrincipalID(msg.Sender)
			if !ok {
				return nil, b.sanityf(msg.Sender, "message from undeclared principal %q (%s)", msg.Sender, b.suggest(msg.Sender))
			}
			recipientID, ok := b.reg.LookupPrincipalID(msg.Recipient)
			if !ok {
				return nil, b.sanityf(msg.Recipient, "message to undeclared principal %q (%s)", msg.Recipient, b.suggest(msg.Recipient))
			}
			for _, ref := range msg.Constants {
				id, ok := b.reg.LookupConstant(ref.Name)
				if !ok {
					return nil, b.sanityf(msg.Sender, "message references undeclared constant %q (%s)", ref.Name, b.suggest(ref.Name))
				}
				if !known[msg.Sender][id] {
					return nil, b.sanityf(msg.Sender, "%s sends %q before knowing it", msg.Sender, ref.Name)
				}
				slot := ensureSlot(id, senderID)
				slot.Phases[currentPhase] = true
				slot.KnownBy = append(slot.KnownBy, map[uint8]uint8{recipientID: senderID})
				known[msg.Recipient][id] = true
				markUsed(id, recipientID)
				if !containsPrincipal(wireByID[id], recipientID) {
					wireByID[id] = append(wireByID[id], recipientID)
				}
				// A guarded receive is integrity-protected in transit: the
				// recipient does not join the tamperable set, and the
				// active search's guard-bypass machinery is the only way
				// an attacker-controlled value reaches it.
				if !ref.Guarded && !containsPrincipal(mutatableByID[id], recipientID) {
					mutatableByID[id] = append(mutatableByID[id], recipientID)
				}

				recipientState := states[msg.Recipient]
				init := initialByID[id]
				if init == nil {
					init = slot.Constant
				}
				meta := &trace.SlotMeta{
					Constant: slot.Constant, Guard: ref.Guarded, Known: true,
					KnownBy: slot.KnownBy, DeclaredAt: slot.DeclaredAt,
					Phase: map[int]bool{currentPhase: true},
				}
				vals := trace.SlotValues{Assigned: init, BeforeMutate: init, Creator: slot.Creator, Sender: senderID}
				if recipientState.IndexOf(id) == -1 {
					metasByID[id] = append(metasByID[id], meta)
					recipientState.AddSlot(meta, vals)
				}
			}
		}
	}

	// Every principal's SlotMeta for the same constant shares the full
	// transmission picture, regardless of which message block created it.
	for id, metas := range metasByID {
		s := slotByID[id]
		for _, m := range metas {
			m.Wire = wireByID[id]
			m.MutatableTo = mutatableByID[id]
			if s != nil {
				m.KnownBy = s.KnownBy
			}
		}
	}

	slots := make([]trace.TraceSlot, 0, len(b.declOrder))
	constantIndex := map[uint32]int{}
	for _, id := range b.declOrder {
		s, ok := slotByID[id]
		if !ok {
			info := b.decls[id]
			s = &trace.TraceSlot{
				Constant:   value.Constant{Name: info.name, ID: id, Fresh: info.fresh, Leaked: info.leaked, Declaration: info.declaration, Qualifier: info.qualifier},
				Creator:    info.owner,
				DeclaredAt: info.declaredAt,
				Phases:     map[int]bool{},
			}
			s.Initial = s.Constant
		}
		constantIndex[id] = len(slots)
		slots = append(slots, *s)
	}

	principalIDs := make([]uint8, len(b.principalOrder))
	for i := range b.principalOrder {
		principalIDs[i] = uint8(i)
	}

	t := &trace.ProtocolTrace{
		Principals:    b.principalOrder,
		PrincipalIDs:  principalIDs,
		Slots:         slots,
		ConstantIndex: constantIndex,
		MaxDeclaredAt: b.ordinal,
		MaxPhase:      maxPhase,
		UsedBy:        usedBy,
	}

	return &Result{Trace: t, States: states}, nil
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func containsPrincipal(xs []uint8, id uint8) bool {
	for _, x := range xs {
		if x == id {
			return true
		}
	}
	return false
}
