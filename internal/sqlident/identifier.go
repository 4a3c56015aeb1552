package sqlident

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	// SimpleIdentifierRegex matches identifiers in Postgres that require no quotes
	SimpleIdentifierRegex = regexp.MustCompile("^[a-z_][a-z0-9_$]*$")
)

func IsSimpleIdentifier(val string) bool {
	return SimpleIdentifierRegex.MatchString(val)
}

// Unquote strips one level of bracket, double-quote or backtick quoting from an identifier, collapsing the doubled
// closing quote escapes. Bare identifiers are returned as-is.
func Unquote(ident string) string {
	if len(ident) < 2 {
		return ident
	}
	var closing string
	switch ident[0] {
	case '[':
		closing = "]"
	case '"':
		closing = `"`
	case '`':
		closing = "`"
	default:
		return ident
	}
	if !strings.HasSuffix(ident, closing) {
		return ident
	}
	return strings.ReplaceAll(ident[1:len(ident)-1], closing+closing, closing)
}

// Normalize unquotes the identifier and upper-cases it. Normalized identifiers are only used for matching. Emitted SQL
// keeps the original case.
func Normalize(ident string) string {
	// A Caser is stateful, so each call gets its own.
	return cases.Upper(language.Und).String(Unquote(strings.TrimSpace(ident)))
}

// QualifiedKey builds the matching key for a schema-qualified object, e.g., "DBO.ORDERS"
func QualifiedKey(schema, name string) string {
	return fmt.Sprintf("%s.%s", Normalize(schema), Normalize(name))
}
