package output

import (
	"github.com/opal-lang/verifpal-go/internal/ast"
	"github.com/opal-lang/verifpal-go/internal/verify"
)

func kindName(k ast.QueryKind) string {
	switch k {
	case ast.QueryConfidentiality:
		return "confidentiality"
	case ast.QueryAuthentication:
		return "authentication"
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

// FromReport converts a finished verification Report into this package's
// JSON document shape. Queries that never resolved (a pathological model
// that exhausts the active-search budget without settling every query)
// are still rendered, with Resolved: false and no Holds/Summary.
func FromReport(r *verify.Report) VerifyReport {
	doc := VerifyReport{
		File:     r.Model.FileName,
		Attacker: r.Model.Attacker.String(),
		Code:     r.Code,
		Version:  ReportFormatVersion,
	}
	for i, q := range r.Queries {
		o := r.Results.Get(i)
		qd := QueryReport{Kind: kindName(q.Kind), Resolved: o.Resolved, Holds: o.Resolved && !o.Attack, Summary: o.Summary, DisplayID: o.WitnessID}
		for _, p := range o.Preconditions {
			qd.Preconditions = append(qd.Preconditions, PreconditionReport(p))
		}
		doc.Queries = append(doc.Queries, qd)
	}
	return doc
}
