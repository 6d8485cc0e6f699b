// Package selector implements the job-selection expression language (C6):
// a hand-written recursive-descent parser over the EBNF grammar in spec
// section 4.5, plus an evaluator returning a lazy, first-seen-ordered
// iterator of job ids.
package selector

import (
	"strings"

	"github.com/compmake/engine/internal/errs"
)

type tokenKind int

const (
	tokAtom tokenKind = iota
	tokNot
	tokIn
	tokExcept
	tokLParen
	tokRParen
	tokEOF
)

type token struct {
	kind tokenKind
	text string
}

// lex splits expr into tokens. Only whitespace and parentheses are
// structural; everything else (letters, digits, '_', '-', '*') forms an atom
// token, with the bare words "not", "in" and "except" recognised as
// operators rather than glob atoms.
func lex(expr string) ([]token, error) {
	var toks []token
	i := 0
	n := len(expr)
	for i < n {
		c := expr[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		default:
			start := i
			for i < n && !isBoundary(expr[i]) {
				i++
			}
			if i == start {
				return nil, errs.New(errs.KindSyntax, "selector: unexpected character '"+string(c)+"'")
			}
			word := expr[start:i]
			toks = append(toks, keywordOrAtom(word))
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

func isBoundary(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '(' || c == ')'
}

func keywordOrAtom(word string) token {
	switch strings.ToLower(word) {
	case "not":
		return token{tokNot, word}
	case "in":
		return token{tokIn, word}
	case "except":
		return token{tokExcept, word}
	default:
		return token{tokAtom, word}
	}
}
