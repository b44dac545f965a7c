// Package pretty renders a parsed model back to canonical `.vp` source
// text, used for diagnostics ("here is what I actually parsed") and for
// round-trip display. It never affects verification semantics —
// internal/verify does not import this package. It renders the parser's
// untyped ast.Value tree, not internal/value's interned algebra, so it
// sees exactly the source the user wrote.
package pretty

import (
	"fmt"
	"strings"

	"github.com/opal-lang/verifpal-go/internal/ast"
)

// Model renders m back to `.vp` source text.
func Model(m *ast.Model) string {
	var b strings.Builder
	fmt.Fprintf(&b, "attacker[%s]\n\n", m.Attacker)
	for _, block := range m.Blocks {
		switch block.Kind {
		case ast.BlockPrincipal:
			b.WriteString(principal(block.Principal))
		case ast.BlockMessage:
			b.WriteString(message(block.Message))
			b.WriteString("\n\n")
		case ast.BlockPhase:
			fmt.Fprintf(&b, "phase[%d]\n\n", block.Phase.Number)
		}
	}
	b.WriteString("queries[\n")
	for _, q := range m.Queries {
		fmt.Fprintf(&b, "\t%s\n", query(q))
	}
	b.WriteString("]\n")
	return b.String()
}

func principal(p ast.Principal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "principal %s[\n", p.Name)
	for _, e := range p.Expressions {
		fmt.Fprintf(&b, "\t%s\n", expression(e))
	}
	b.WriteString("]\n\n")
	return b.String()
}

func message(m ast.Message) string {
	return fmt.Sprintf("%s -> %s: %s", m.Sender, m.Recipient, constantRefs(m.Constants))
}

func constantRefs(refs []ast.ConstantRef) string {
	names := make([]string, len(refs))
	for i, r := range refs {
		if r.Guarded {
			names[i] = "[" + r.Name + "]"
		} else {
			names[i] = r.Name
		}
	}
	return strings.Join(names, ", ")
}

func expression(e ast.Expression) string {
	switch e.Kind {
	case ast.ExprKnows:
		return fmt.Sprintf("knows %s %s", qualifier(e.Qualifier), strings.Join(e.Names, ", "))
	case ast.ExprGenerates:
		return fmt.Sprintf("generates %s", strings.Join(e.Names, ", "))
	case ast.ExprLeaks:
		return fmt.Sprintf("leaks %s", strings.Join(e.Names, ", "))
	case ast.ExprAssignment:
		return fmt.Sprintf("%s = %s", e.Assigned, value(e.Value))
	default:
		return ""
	}
}

func qualifier(q ast.Qualifier) string {
	switch q {
	case ast.QualPublic:
		return "public"
	case ast.QualPassword:
		return "password"
	default:
		return "private"
	}
}

// value renders the parser's untyped expression tree, not
// internal/value's interned algebra — this is what the author actually
// wrote, including the unresolved primitive name and any output selector
// or trailing `?` instance check.
func value(v ast.Value) string {
	switch v.Kind {
	case ast.ValueConstant:
		if v.Name == "g" {
			return "G"
		}
		return v.Name
	case ast.ValuePrimitive:
		args := make([]string, len(v.Arguments))
		for i, a := range v.Arguments {
			args[i] = value(a)
		}
		s := fmt.Sprintf("%s(%s)", v.Primitive, strings.Join(args, ", "))
		if v.Output != 0 {
			s += fmt.Sprintf("[%d]", v.Output)
		}
		if v.InstanceCheck {
			s += "?"
		}
		return s
	case ast.ValueEquation:
		terms := make([]string, len(v.Terms))
		for i, t := range v.Terms {
			terms[i] = value(t)
		}
		return strings.Join(terms, "^")
	default:
		return ""
	}
}

func query(q ast.Query) string {
	switch q.Kind {
	case ast.QueryAuthentication:
		return fmt.Sprintf("authentication? %s -> %s: %s", q.Message.Sender, q.Message.Recipient, constantRefs(q.Message.Constants))
	default:
		return fmt.Sprintf("%s? %s", queryKindName(q.Kind), strings.Join(q.Constants, ", "))
	}
}

func queryKindName(k ast.QueryKind) string {
	switch k {
	case ast.QueryConfidentiality:
		return "confidentiality"
	case ast.QueryFreshness:
		return "freshness"
	case ast.QueryUnlinkability:
		return "unlinkability"
	case ast.QueryEquivalence:
		return "equivalence"
	default:
		return "unknown"
	}
}
