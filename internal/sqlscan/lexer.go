// Package sqlscan is a small, dialect-tolerant SQL lexer. It does not parse SQL. It only splits text into tokens with
// byte offsets so callers can locate keywords without being fooled by string literals, comments or quoted identifiers.
package sqlscan

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/stripe/schema-planner/internal/sqlident"
)

type Kind int

const (
	Whitespace Kind = iota
	Comment
	Word
	QuotedIdent
	String
	Punct
)

type Token struct {
	Kind Kind
	// Text is the raw token text, including quotes
	Text  string
	Start int
	End   int
}

// IsKeyword reports whether the token is the bare word kw, compared case-insensitively
func (t Token) IsKeyword(kw string) bool {
	return t.Kind == Word && strings.EqualFold(t.Text, kw)
}

func (t Token) IsPunct(p string) bool {
	return t.Kind == Punct && t.Text == p
}

// IsIdent reports whether the token can name an object: a bare word or a quoted identifier
func (t Token) IsIdent() bool {
	return t.Kind == Word || t.Kind == QuotedIdent
}

// Value is the identifier value of the token, with quoting removed
func (t Token) Value() string {
	if t.Kind == QuotedIdent {
		return sqlident.Unquote(t.Text)
	}
	return t.Text
}

// Tokenize splits sql into tokens. Unterminated strings, quoted identifiers and comments extend to the end of the
// input. Concatenating the text of every token yields the input.
func Tokenize(sql string) []Token {
	var tokens []Token
	for i := 0; i < len(sql); {
		kind, end := scanToken(sql, i)
		tokens = append(tokens, Token{Kind: kind, Text: sql[i:end], Start: i, End: end})
		i = end
	}
	return tokens
}

// Significant drops whitespace and comment tokens
func Significant(tokens []Token) []Token {
	var out []Token
	for _, t := range tokens {
		if t.Kind != Whitespace && t.Kind != Comment {
			out = append(out, t)
		}
	}
	return out
}

func scanToken(sql string, i int) (Kind, int) {
	r, size := utf8.DecodeRuneInString(sql[i:])
	switch {
	case unicode.IsSpace(r):
		j := i + size
		for j < len(sql) {
			r, size := utf8.DecodeRuneInString(sql[j:])
			if !unicode.IsSpace(r) {
				break
			}
			j += size
		}
		return Whitespace, j
	case strings.HasPrefix(sql[i:], "--"):
		if nl := strings.IndexByte(sql[i:], '\n'); nl >= 0 {
			return Comment, i + nl
		}
		return Comment, len(sql)
	case strings.HasPrefix(sql[i:], "/*"):
		return Comment, scanBlockComment(sql, i)
	case r == '\'':
		return String, scanQuoted(sql, i, '\'')
	case r == '"':
		return QuotedIdent, scanQuoted(sql, i, '"')
	case r == '`':
		return QuotedIdent, scanQuoted(sql, i, '`')
	case r == '[':
		return QuotedIdent, scanQuoted(sql, i, ']')
	case r == '$':
		if end, ok := scanDollarQuoted(sql, i); ok {
			return String, end
		}
		return Punct, i + size
	case isWordStart(r):
		j := i + size
		for j < len(sql) {
			r, size := utf8.DecodeRuneInString(sql[j:])
			if !isWordPart(r) {
				break
			}
			j += size
		}
		return Word, j
	default:
		return Punct, i + size
	}
}

// scanQuoted scans a quoted run starting at i, where closing doubled is an escape
func scanQuoted(sql string, i int, closing byte) int {
	j := i + 1
	for j < len(sql) {
		if sql[j] == closing {
			if j+1 < len(sql) && sql[j+1] == closing {
				j += 2
				continue
			}
			return j + 1
		}
		j++
	}
	return len(sql)
}

// scanBlockComment supports nested block comments, which both SQL Server and Postgres allow
func scanBlockComment(sql string, i int) int {
	depth := 0
	j := i
	for j < len(sql) {
		switch {
		case strings.HasPrefix(sql[j:], "/*"):
			depth++
			j += 2
		case strings.HasPrefix(sql[j:], "*/"):
			depth--
			j += 2
			if depth == 0 {
				return j
			}
		default:
			j++
		}
	}
	return len(sql)
}

// scanDollarQuoted scans a Postgres dollar-quoted string, e.g., $body$ ... $body$
func scanDollarQuoted(sql string, i int) (int, bool) {
	j := i + 1
	for j < len(sql) && sql[j] != '$' {
		r, size := utf8.DecodeRuneInString(sql[j:])
		if !isWordPart(r) || r == '$' {
			return 0, false
		}
		j += size
	}
	if j >= len(sql) {
		return 0, false
	}
	tag := sql[i : j+1]
	if len(tag) > 2 && unicode.IsDigit(rune(tag[1])) {
		// $1 style positional parameters
		return 0, false
	}
	end := strings.Index(sql[j+1:], tag)
	if end < 0 {
		return len(sql), true
	}
	return j + 1 + end + len(tag), true
}

func isWordStart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '@' || r == '#'
}

func isWordPart(r rune) bool {
	return isWordStart(r) || r == '$'
}
