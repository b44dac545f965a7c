// Package primitive holds the declarative cryptographic-primitive
// catalogue: one Spec per operation, describing arities, decompose/
// recompose/rewrite/rebuild rules, and the flags the equational theory
// (package theory) and active search (package search) need. The catalogue
// is the only place a new primitive is added; everything else reads
// specs reflectively through the package-level Registry, built once at
// init and read-only thereafter.
package primitive

import "github.com/opal-lang/verifpal-go/internal/value"

// Identity constants. Ids are stable across releases so scenario
// results codes (see internal/verify's golden tests) stay reproducible.
const (
	ASSERT        value.PrimitiveID = 1
	CONCAT        value.PrimitiveID = 2
	SPLIT         value.PrimitiveID = 3
	PWHASH        value.PrimitiveID = 4
	HASH          value.PrimitiveID = 5
	HKDF          value.PrimitiveID = 6
	AEAD_ENC      value.PrimitiveID = 7
	AEAD_DEC      value.PrimitiveID = 8
	ENC           value.PrimitiveID = 9
	DEC           value.PrimitiveID = 10
	MAC           value.PrimitiveID = 11
	SIGN          value.PrimitiveID = 12
	SIGNVERIF     value.PrimitiveID = 13
	PKE_ENC       value.PrimitiveID = 14
	PKE_DEC       value.PrimitiveID = 15
	SHAMIR_SPLIT  value.PrimitiveID = 16
	SHAMIR_JOIN   value.PrimitiveID = 17
	RINGSIGN      value.PrimitiveID = 18
	RINGSIGNVERIF value.PrimitiveID = 19
	BLIND         value.PrimitiveID = 20
	UNBLIND       value.PrimitiveID = 21
)

// BypassKeyKind describes how the active attacker extracts the key needed
// to forge an input that bypasses a failed guarded rewrite.
type BypassKeyKind uint8

const (
	BypassNone BypassKeyKind = iota
	// BypassDirect: the bypass key is Arguments[Arg] directly.
	BypassDirect
	// BypassLastExponent: Arguments[Arg] is a DH equation; the bypass key
	// is its last exponent (e.g. pk = g^sk, bypass key is sk).
	BypassLastExponent
)

// BypassKeySpec names where extractBypassKey (package search) finds the
// key an active attacker needs to know to craft a forged input for a
// failed guarded (instance-checked) rewrite of this primitive.
type BypassKeySpec struct {
	Kind BypassKeyKind
	Arg  int
}

// Filter transforms a matched argument before a decompose/rewrite rule
// compares or extracts it — e.g. pulling the private exponent out of a
// public-key equation. ok is false when the filter does not apply (wrong
// shape of value), which fails the enclosing rule.
type Filter func(value.Value) (value.Value, bool)

// DecomposeRule: given all of Given (after Filter, if set) are obtainable,
// the attacker learns Arguments[Reveal].
type DecomposeRule struct {
	Given         []int
	Reveal        int
	Filter        Filter
	PassiveReveal []int // indices always visible, no key required
}

// MatchConstraint pairs an index into the outer primitive's arguments with
// an index into the matched inner primitive's arguments; a Rewrite rule
// requires these to be equivalent (after Filter, applied to the MyArg side)
// for every constraint. A nil Filter means compare directly.
type MatchConstraint struct {
	MyArg    int
	InnerArg int
	Filter   Filter
}

// RewriteFunc produces the rewritten output once a RewriteRule's From/
// Matching constraints are satisfied against the found inner primitive. It
// may also perform additional custom checks (e.g. ring-signature
// membership) beyond what Matching expresses, returning ok=false to fail
// the rule.
type RewriteFunc func(outer, inner *value.Primitive) (value.Value, bool)

// RewriteRule: this primitive inverts Inner. Arguments[From] must itself be
// a Primitive with ID == Inner; Matching constraints must all hold; on
// success To produces the rewritten value.
type RewriteRule struct {
	From     int
	Inner    value.PrimitiveID
	Matching []MatchConstraint
	To       RewriteFunc
}

// RecomposeRule: any one of ShareSets (sets of output indices of Inner that
// the attacker holds) is sufficient to recover the original input at
// Reveal index.
type RecomposeRule struct {
	Inner     value.PrimitiveID
	ShareSets [][]int
	Reveal    int
}

// Spec is the declarative description of one catalogue entry.
type Spec struct {
	ID   value.PrimitiveID
	Name string

	// Arities lists allowed argument counts; nil means "any".
	Arities []int
	Outputs int

	Decompose *DecomposeRule
	Recompose *RecomposeRule
	Rewrite   *RewriteRule
	Rebuild   bool

	// Core primitives (ASSERT, CONCAT, SPLIT) are handled specially by the
	// rewriter rather than through the generic Rewrite/Decompose rule
	// machinery. CoreRewrite implements that special-case rewrite when
	// Core is true.
	Core        bool
	CoreRewrite func(p *value.Primitive) (value.Value, bool)

	DefinitionCheck bool
	Explosive       bool
	PasswordHashing []int
	BypassKey       *BypassKeySpec
	RevealsArgs     bool
}

func (s Spec) String() string { return s.Name }
