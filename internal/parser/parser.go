// Package parser implements the hand-written recursive-descent parser for
// .vp model source: one function per grammar production, a Parser struct
// holding a token cursor, each production a method returning (node,
// error), errors surfaced as *diag.ParseError.
package parser

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/opal-lang/verifpal-go/internal/ast"
	"github.com/opal-lang/verifpal-go/internal/diag"
	"github.com/opal-lang/verifpal-go/internal/lexer"
)

// MaxFileNameLength is the surface-syntax cap on a model's file name.
const MaxFileNameLength = 64

// Parser holds the token cursor over one source file.
type Parser struct {
	file string
	toks []lexer.Token
	pos  int
}

// Parse tokenizes and parses src (named fileName, for diagnostics) into an
// ast.Model.
func Parse(fileName, src string) (*ast.Model, error) {
	if len(fileName) > MaxFileNameLength {
		return nil, &diag.ParseError{File: fileName, Message: fmt.Sprintf("file name exceeds %d characters", MaxFileNameLength)}
	}
	if !strings.HasSuffix(fileName, ".vp") {
		return nil, &diag.ParseError{File: fileName, Message: "model file name must end in .vp"}
	}
	p := &Parser{file: fileName, toks: lexer.All(src)}
	return p.parseModel()
}

func (p *Parser) peek() lexer.Token  { return p.toks[p.pos] }
func (p *Parser) at(t lexer.TokenType) bool { return p.peek().Type == t }

func (p *Parser) advance() lexer.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *Parser) errf(tok lexer.Token, format string, args ...interface{}) error {
	return &diag.ParseError{File: p.file, Line: tok.Line, Col: tok.Col, Message: fmt.Sprintf(format, args...)}
}

func (p *Parser) expect(t lexer.TokenType) (lexer.Token, error) {
	tok := p.peek()
	if tok.Type != t {
		return tok, p.errf(tok, "expected %s, got %s %q", t, tok.Type, tok.Value)
	}
	return p.advance(), nil
}

// expectKeyword consumes an IDENT token whose value case-insensitively
// matches kw.
func (p *Parser) expectKeyword(kw string) error {
	tok := p.peek()
	if tok.Type != lexer.IDENT || !strings.EqualFold(tok.Value, kw) {
		return p.errf(tok, "expected %q, got %q", kw, tok.Value)
	}
	p.advance()
	return nil
}

func (p *Parser) atKeyword(kw string) bool {
	tok := p.peek()
	return tok.Type == lexer.IDENT && strings.EqualFold(tok.Value, kw)
}

func (p *Parser) pos_() ast.Pos {
	t := p.peek()
	return ast.Pos{Line: t.Line, Col: t.Col}
}

func (p *Parser) parseModel() (*ast.Model, error) {
	m := &ast.Model{FileName: p.file}
	if err := p.expectKeyword("attacker"); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBRACKET); err != nil {
		return nil, err
	}
	switch {
	case p.atKeyword("passive"):
		p.advance()
		m.Attacker = ast.Passive
	case p.atKeyword("active"):
		p.advance()
		m.Attacker = ast.Active
	default:
		return nil, p.errf(p.peek(), "expected \"passive\" or \"active\"")
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return nil, err
	}

	for {
		if p.atKeyword("queries") {
			queries, err := p.parseQueriesBlock()
			if err != nil {
				return nil, err
			}
			m.Queries = queries
			break
		}
		if p.at(lexer.EOF) {
			return nil, p.errf(p.peek(), "unexpected end of file: expected \"queries\" block")
		}
		block, err := p.parseBlock()
		if err != nil {
			return nil, err
		}
		m.Blocks = append(m.Blocks, block)
	}

	if _, err := p.expect(lexer.EOF); err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Parser) parseBlock() (ast.Block, error) {
	switch {
	case p.atKeyword("principal"):
		pr, err := p.parsePrincipalBlock()
		return ast.Block{Kind: ast.BlockPrincipal, Principal: pr, Pos: pr.Pos}, err
	case p.atKeyword("phase"):
		ph, err := p.parsePhaseBlock()
		return ast.Block{Kind: ast.BlockPhase, Phase: ph, Pos: ph.Pos}, err
	case p.at(lexer.IDENT):
		msg, err := p.parseMessageBlock()
		return ast.Block{Kind: ast.BlockMessage, Message: msg, Pos: msg.Pos}, err
	default:
		return ast.Block{}, p.errf(p.peek(), "expected a principal, message, or phase block")
	}
}

func (p *Parser) parsePrincipalBlock() (ast.Principal, error) {
	pos := p.pos_()
	if err := p.expectKeyword("principal"); err != nil {
		return ast.Principal{}, err
	}
	nameTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Principal{}, err
	}
	if _, err := p.expect(lexer.LBRACKET); err != nil {
		return ast.Principal{}, err
	}
	pr := ast.Principal{Name: nameTok.Value, Pos: pos}
	for !p.at(lexer.RBRACKET) {
		expr, err := p.parseExpression()
		if err != nil {
			return ast.Principal{}, err
		}
		pr.Expressions = append(pr.Expressions, expr)
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return ast.Principal{}, err
	}
	return pr, nil
}

func (p *Parser) parseExpression() (ast.Expression, error) {
	pos := p.pos_()
	switch {
	case p.atKeyword("knows"):
		p.advance()
		qual, err := p.parseQualifier()
		if err != nil {
			return ast.Expression{}, err
		}
		names, err := p.parseIdentList()
		if err != nil {
			return ast.Expression{}, err
		}
		return ast.Expression{Kind: ast.ExprKnows, Qualifier: qual, Names: names, Pos: pos}, nil
	case p.atKeyword("generates"):
		p.advance()
		names, err := p.parseIdentList()
		if err != nil {
			return ast.Expression{}, err
		}
		return ast.Expression{Kind: ast.ExprGenerates, Names: names, Pos: pos}, nil
	case p.atKeyword("leaks"):
		p.advance()
		names, err := p.parseIdentList()
		if err != nil {
			return ast.Expression{}, err
		}
		return ast.Expression{Kind: ast.ExprLeaks, Names: names, Pos: pos}, nil
	case p.at(lexer.IDENT):
		lhsTok := p.advance()
		if _, err := p.expect(lexer.EQUALS); err != nil {
			return ast.Expression{}, err
		}
		val, err := p.parseValue()
		if err != nil {
			return ast.Expression{}, err
		}
		return ast.Expression{Kind: ast.ExprAssignment, Assigned: lhsTok.Value, Value: val, Pos: pos}, nil
	default:
		return ast.Expression{}, p.errf(p.peek(), "expected knows/generates/leaks or an assignment")
	}
}

func (p *Parser) parseQualifier() (ast.Qualifier, error) {
	switch {
	case p.atKeyword("public"):
		p.advance()
		return ast.QualPublic, nil
	case p.atKeyword("private"):
		p.advance()
		return ast.QualPrivate, nil
	case p.atKeyword("password"):
		p.advance()
		return ast.QualPassword, nil
	default:
		return ast.QualNone, p.errf(p.peek(), "expected public/private/password qualifier")
	}
}

func (p *Parser) parseIdentList() ([]string, error) {
	var names []string
	tok, err := p.expect(lexer.IDENT)
	if err != nil {
		return nil, err
	}
	names = append(names, tok.Value)
	for p.at(lexer.COMMA) {
		p.advance()
		tok, err := p.expect(lexer.IDENT)
		if err != nil {
			return nil, err
		}
		names = append(names, tok.Value)
	}
	return names, nil
}

// parseValue parses a constant reference, a primitive call, or a DH
// equation.
func (p *Parser) parseValue() (ast.Value, error) {
	pos := p.pos_()
	tok := p.peek()
	if tok.Type != lexer.IDENT {
		return ast.Value{}, p.errf(tok, "expected a value")
	}
	if canon, ok := lookupPrimitive(tok.Value); ok {
		return p.parsePrimitiveCall(canon, pos)
	}
	p.advance()
	base := ast.Value{Kind: ast.ValueConstant, Name: tok.Value, Pos: pos}
	if !p.at(lexer.CARET) {
		return base, nil
	}
	terms := []ast.Value{base}
	for p.at(lexer.CARET) {
		p.advance()
		term, err := p.parseEquationTerm()
		if err != nil {
			return ast.Value{}, err
		}
		terms = append(terms, term)
	}
	return ast.Value{Kind: ast.ValueEquation, Terms: terms, Pos: pos}, nil
}

// parseEquationTerm parses one exponent: a bare identifier (a constant) or
// a parenthesized nested value (supporting the rare doubly-nested
// equation form, max depth 2, checked at sanity time).
func (p *Parser) parseEquationTerm() (ast.Value, error) {
	pos := p.pos_()
	if p.at(lexer.LPAREN) {
		p.advance()
		v, err := p.parseValue()
		if err != nil {
			return ast.Value{}, err
		}
		if _, err := p.expect(lexer.RPAREN); err != nil {
			return ast.Value{}, err
		}
		return v, nil
	}
	tok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Value{}, err
	}
	return ast.Value{Kind: ast.ValueConstant, Name: tok.Value, Pos: pos}, nil
}

func (p *Parser) parsePrimitiveCall(canon string, pos ast.Pos) (ast.Value, error) {
	p.advance() // consume the primitive keyword
	if _, err := p.expect(lexer.LPAREN); err != nil {
		return ast.Value{}, err
	}
	v := ast.Value{Kind: ast.ValuePrimitive, Primitive: canon, Pos: pos}
	if !p.at(lexer.RPAREN) {
		for {
			arg, err := p.parseValue()
			if err != nil {
				return ast.Value{}, err
			}
			v.Arguments = append(v.Arguments, arg)
			if !p.at(lexer.COMMA) {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(lexer.RPAREN); err != nil {
		return ast.Value{}, err
	}
	if p.at(lexer.LBRACKET) {
		p.advance()
		numTok, err := p.expect(lexer.NUMBER)
		if err != nil {
			return ast.Value{}, err
		}
		n, convErr := strconv.Atoi(numTok.Value)
		if convErr != nil {
			return ast.Value{}, p.errf(numTok, "invalid output index %q", numTok.Value)
		}
		v.Output = n
		if _, err := p.expect(lexer.RBRACKET); err != nil {
			return ast.Value{}, err
		}
	}
	if p.at(lexer.QUESTION) {
		p.advance()
		v.InstanceCheck = true
	}
	return v, nil
}

func (p *Parser) parseConstantRef() (ast.ConstantRef, error) {
	pos := p.pos_()
	if p.at(lexer.LBRACKET) {
		p.advance()
		tok, err := p.expect(lexer.IDENT)
		if err != nil {
			return ast.ConstantRef{}, err
		}
		if _, err := p.expect(lexer.RBRACKET); err != nil {
			return ast.ConstantRef{}, err
		}
		return ast.ConstantRef{Name: tok.Value, Guarded: true, Pos: pos}, nil
	}
	tok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.ConstantRef{}, err
	}
	return ast.ConstantRef{Name: tok.Value, Pos: pos}, nil
}

func (p *Parser) parseMessageBlock() (ast.Message, error) {
	pos := p.pos_()
	senderTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Message{}, err
	}
	if _, err := p.expect(lexer.ARROW); err != nil {
		return ast.Message{}, err
	}
	recipientTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.Message{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.Message{}, err
	}
	msg := ast.Message{Sender: senderTok.Value, Recipient: recipientTok.Value, Pos: pos}
	for {
		ref, err := p.parseConstantRef()
		if err != nil {
			return ast.Message{}, err
		}
		msg.Constants = append(msg.Constants, ref)
		if !p.at(lexer.COMMA) {
			break
		}
		p.advance()
	}
	return msg, nil
}

func (p *Parser) parsePhaseBlock() (ast.Phase, error) {
	pos := p.pos_()
	if err := p.expectKeyword("phase"); err != nil {
		return ast.Phase{}, err
	}
	if _, err := p.expect(lexer.LBRACKET); err != nil {
		return ast.Phase{}, err
	}
	numTok, err := p.expect(lexer.NUMBER)
	if err != nil {
		return ast.Phase{}, err
	}
	n, convErr := strconv.Atoi(numTok.Value)
	if convErr != nil {
		return ast.Phase{}, p.errf(numTok, "invalid phase number %q", numTok.Value)
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return ast.Phase{}, err
	}
	return ast.Phase{Number: n, Pos: pos}, nil
}

func (p *Parser) parseQueriesBlock() ([]ast.Query, error) {
	if err := p.expectKeyword("queries"); err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBRACKET); err != nil {
		return nil, err
	}
	var queries []ast.Query
	for !p.at(lexer.RBRACKET) {
		q, err := p.parseQuery()
		if err != nil {
			return nil, err
		}
		queries = append(queries, q)
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return nil, err
	}
	return queries, nil
}

func (p *Parser) parseQuery() (ast.Query, error) {
	pos := p.pos_()
	var q ast.Query
	switch {
	case p.atKeyword("confidentiality"):
		p.advance()
		q.Kind = ast.QueryConfidentiality
		if _, err := p.expect(lexer.QUESTION); err != nil {
			return ast.Query{}, err
		}
		names, err := p.parseIdentList()
		if err != nil {
			return ast.Query{}, err
		}
		q.Constants = names
	case p.atKeyword("authentication"):
		p.advance()
		q.Kind = ast.QueryAuthentication
		if _, err := p.expect(lexer.QUESTION); err != nil {
			return ast.Query{}, err
		}
		senderTok, err := p.expect(lexer.IDENT)
		if err != nil {
			return ast.Query{}, err
		}
		if _, err := p.expect(lexer.ARROW); err != nil {
			return ast.Query{}, err
		}
		recipientTok, err := p.expect(lexer.IDENT)
		if err != nil {
			return ast.Query{}, err
		}
		if _, err := p.expect(lexer.COLON); err != nil {
			return ast.Query{}, err
		}
		cTok, err := p.expect(lexer.IDENT)
		if err != nil {
			return ast.Query{}, err
		}
		q.Message = ast.Message{Sender: senderTok.Value, Recipient: recipientTok.Value, Constants: []ast.ConstantRef{{Name: cTok.Value}}}
	case p.atKeyword("freshness"):
		p.advance()
		q.Kind = ast.QueryFreshness
		if _, err := p.expect(lexer.QUESTION); err != nil {
			return ast.Query{}, err
		}
		names, err := p.parseIdentList()
		if err != nil {
			return ast.Query{}, err
		}
		q.Constants = names
	case p.atKeyword("unlinkability"):
		p.advance()
		q.Kind = ast.QueryUnlinkability
		if _, err := p.expect(lexer.QUESTION); err != nil {
			return ast.Query{}, err
		}
		names, err := p.parseIdentList()
		if err != nil {
			return ast.Query{}, err
		}
		q.Constants = names
	case p.atKeyword("equivalence"):
		p.advance()
		q.Kind = ast.QueryEquivalence
		if _, err := p.expect(lexer.QUESTION); err != nil {
			return ast.Query{}, err
		}
		names, err := p.parseIdentList()
		if err != nil {
			return ast.Query{}, err
		}
		q.Constants = names
	default:
		return ast.Query{}, p.errf(p.peek(), "expected a query kind (confidentiality/authentication/freshness/unlinkability/equivalence)")
	}
	q.Pos = pos
	for p.atKeyword("precondition") {
		opt, err := p.parsePrecondition()
		if err != nil {
			return ast.Query{}, err
		}
		q.Options = append(q.Options, opt)
	}
	return q, nil
}

func (p *Parser) parsePrecondition() (ast.QueryOption, error) {
	pos := p.pos_()
	if err := p.expectKeyword("precondition"); err != nil {
		return ast.QueryOption{}, err
	}
	if _, err := p.expect(lexer.LBRACKET); err != nil {
		return ast.QueryOption{}, err
	}
	senderTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.QueryOption{}, err
	}
	if _, err := p.expect(lexer.ARROW); err != nil {
		return ast.QueryOption{}, err
	}
	recipientTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.QueryOption{}, err
	}
	if _, err := p.expect(lexer.COLON); err != nil {
		return ast.QueryOption{}, err
	}
	cTok, err := p.expect(lexer.IDENT)
	if err != nil {
		return ast.QueryOption{}, err
	}
	if _, err := p.expect(lexer.RBRACKET); err != nil {
		return ast.QueryOption{}, err
	}
	return ast.QueryOption{
		Message: ast.Message{Sender: senderTok.Value, Recipient: recipientTok.Value, Constants: []ast.ConstantRef{{Name: cTok.Value}}},
		Pos:     pos,
	}, nil
}

// SuggestName returns a fuzzysearch "did you mean" suggestion for an
// unknown name against the given candidate pool, or "" if nothing is
// close enough to be useful. Used by package construct when a model
// references an undeclared principal, constant, or misspells a primitive.
// Candidates containing name as a case-insensitive subsequence are ranked
// first; failing that, the candidate with the smallest case-insensitive
// edit distance wins, provided that distance is at most half of name's
// length.
func SuggestName(name string, candidates []string) string {
	best := fuzzy.RankFindFold(name, candidates)
	if len(best) > 0 {
		sort.Sort(best)
		return best[0].Target
	}
	suggestion, bestDist := "", len(name)/2+1
	for _, c := range candidates {
		if d := fuzzy.LevenshteinDistance(strings.ToLower(name), strings.ToLower(c)); d < bestDist {
			suggestion, bestDist = c, d
		}
	}
	return suggestion
}
