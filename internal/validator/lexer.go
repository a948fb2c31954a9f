package validator

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenWord tokenKind = iota // bare keyword or identifier
	tokenNumber
	tokenString      // '...' literal
	tokenQuotedIdent // "..." or `...` or [...]
	tokenPunct
	tokenSemicolon
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lex tokenizes SQL text into a flat token stream. Strings, quoted
// identifiers, and comments are consumed whole, so a later keyword walk sees
// every bare word at any nesting depth without being fooled by quoting.
func lex(sql string) ([]token, error) {
	var tokens []token
	runes := []rune(sql)
	i := 0
	n := len(runes)

	for i < n {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++

		case r == '-' && i+1 < n && runes[i+1] == '-':
			// Line comment runs to end of line.
			for i < n && runes[i] != '\n' {
				i++
			}

		case r == '/' && i+1 < n && runes[i+1] == '*':
			depth := 1
			i += 2
			for i < n && depth > 0 {
				if runes[i] == '*' && i+1 < n && runes[i+1] == '/' {
					depth--
					i += 2
				} else if runes[i] == '/' && i+1 < n && runes[i+1] == '*' {
					depth++
					i += 2
				} else {
					i++
				}
			}
			if depth > 0 {
				return nil, fmt.Errorf("unterminated block comment at offset %d", i)
			}

		case r == '\'':
			start := i
			i++
			for i < n {
				if runes[i] == '\'' {
					if i+1 < n && runes[i+1] == '\'' { // escaped quote
						i += 2
						continue
					}
					break
				}
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated string literal at offset %d", start)
			}
			i++ // closing quote
			tokens = append(tokens, token{kind: tokenString, text: string(runes[start:i]), pos: start})

		case r == '"' || r == '`':
			start := i
			quote := r
			i++
			for i < n && runes[i] != quote {
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated quoted identifier at offset %d", start)
			}
			i++
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: string(runes[start:i]), pos: start})

		case r == '[':
			start := i
			i++
			for i < n && runes[i] != ']' {
				i++
			}
			if i >= n {
				return nil, fmt.Errorf("unterminated bracketed identifier at offset %d", start)
			}
			i++
			tokens = append(tokens, token{kind: tokenQuotedIdent, text: string(runes[start:i]), pos: start})

		case r == ';':
			tokens = append(tokens, token{kind: tokenSemicolon, text: ";", pos: i})
			i++

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < n && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokenWord, text: string(runes[start:i]), pos: start})

		case unicode.IsDigit(r):
			start := i
			for i < n && (unicode.IsDigit(runes[i]) || runes[i] == '.' || runes[i] == 'e' ||
				runes[i] == 'E' || runes[i] == 'x' || runes[i] == 'X' ||
				(runes[i] >= 'a' && runes[i] <= 'f') || (runes[i] >= 'A' && runes[i] <= 'F')) {
				i++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(runes[start:i]), pos: start})

		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r), pos: i})
			i++
		}
	}

	return tokens, nil
}

// stripControl removes control characters except tab, newline, and carriage
// return. Submitted SQL regularly arrives with stray NULs from copy-paste.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// splitStatements partitions a token stream on semicolons. Empty segments
// (a trailing ";") are dropped.
func splitStatements(tokens []token) [][]token {
	var stmts [][]token
	var cur []token
	for _, t := range tokens {
		if t.kind == tokenSemicolon {
			if len(cur) > 0 {
				stmts = append(stmts, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, t)
	}
	if len(cur) > 0 {
		stmts = append(stmts, cur)
	}
	return stmts
}
