package selector

import "github.com/compmake/engine/internal/errs"

// parser implements the grammar from spec section 4.5. Juxtaposition (union)
// binds *tighter* than "in"/"except": "a b in a b c" means "(a b) in (a b
// c)", not an interleaving of union and intersection term-by-term. "not"
// applies to the whole union run that follows it, not just the next atom:
// "not a b c" means "not (a b c)". "except" is the loosest operator, so it
// can chain multiple "in" expressions together.
//
//	expr   := diff
//	diff   := inter ( "except" inter )*
//	inter  := union ( "in"     union )*
//	union  := term  ( WS term )*
//	term   := "not" union | "(" expr ")" | WILDCARD | GLOB
type parser struct {
	toks []token
	pos  int
}

func parse(expr string) (node, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	n, err := p.parseDiff()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, errs.New(errs.KindSyntax, "selector: unexpected trailing input near '"+p.peek().text+"'")
	}
	return n, nil
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) advance() token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) parseDiff() (node, error) {
	left, err := p.parseInter()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokExcept {
		p.advance()
		right, err := p.parseInter()
		if err != nil {
			return nil, err
		}
		left = diffNode{left, right}
	}
	return left, nil
}

func (p *parser) parseInter() (node, error) {
	left, err := p.parseUnion()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIn {
		p.advance()
		right, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		left = interNode{left, right}
	}
	return left, nil
}

// parseUnion folds juxtaposed terms (separated only by whitespace — the
// lexer already dropped it) until it hits a token that can't start another
// term: 'in', 'except', ')' or EOF.
func (p *parser) parseUnion() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.startsTerm() {
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = unionNode{left, right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	t := p.peek()
	switch t.kind {
	case tokNot:
		p.advance()
		inner, err := p.parseUnion()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseDiff()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, errs.New(errs.KindSyntax, "selector: missing closing ')'")
		}
		p.advance()
		return inner, nil
	case tokAtom:
		p.advance()
		return atomNode{t.text}, nil
	default:
		return nil, errs.New(errs.KindSyntax, "selector: expected an expression, got '"+t.text+"'")
	}
}

// startsTerm reports whether the current token can begin another term at
// the union level — anything except a closing paren, 'in'/'except' (which
// belong to an enclosing, looser-binding production) or EOF.
func (p *parser) startsTerm() bool {
	switch p.peek().kind {
	case tokAtom, tokNot, tokLParen:
		return true
	default:
		return false
	}
}
