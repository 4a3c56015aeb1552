package sqlscan

import (
	"strings"
)

// SplitBatches splits a script on SQL Server style batch separators: a line holding nothing but GO. Separators inside
// strings and comments are ignored. Empty batches are dropped.
func SplitBatches(sql string) []string {
	var batches []string
	batchStart := 0
	for _, tok := range Tokenize(sql) {
		if !tok.IsKeyword("GO") || !aloneOnLine(sql, tok) {
			continue
		}
		if b := strings.TrimSpace(sql[batchStart:tok.Start]); b != "" {
			batches = append(batches, b)
		}
		batchStart = tok.End
	}
	if b := strings.TrimSpace(sql[batchStart:]); b != "" {
		batches = append(batches, b)
	}
	return batches
}

func aloneOnLine(sql string, tok Token) bool {
	lineStart := strings.LastIndexByte(sql[:tok.Start], '\n') + 1
	lineEnd := len(sql)
	if nl := strings.IndexByte(sql[tok.End:], '\n'); nl >= 0 {
		lineEnd = tok.End + nl
	}
	rest := strings.TrimSpace(sql[tok.End:lineEnd])
	return strings.TrimSpace(sql[lineStart:tok.Start]) == "" && (rest == "" || rest == ";")
}

// QualifiedName reads a dotted name starting at tokens[i], e.g., [db].[dbo].[orders]. It returns the unquoted parts
// and the index of the first token after the name. tokens must not contain whitespace or comments.
func QualifiedName(tokens []Token, i int) ([]string, int) {
	var parts []string
	for i < len(tokens) && tokens[i].IsIdent() {
		parts = append(parts, tokens[i].Value())
		i++
		if i+1 < len(tokens) && tokens[i].IsPunct(".") && tokens[i+1].IsIdent() {
			i++
			continue
		}
		break
	}
	return parts, i
}

// SplitSchema splits the parts of a qualified name into a schema and a name. A database qualifier is dropped and
// defaultSchema is used for unqualified names.
func SplitSchema(parts []string, defaultSchema string) (schema, name string) {
	switch len(parts) {
	case 0:
		return defaultSchema, ""
	case 1:
		return defaultSchema, parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}

// CreateHeader is the object kind and name of a CREATE statement
type CreateHeader struct {
	// Kind is the upper-case object keyword: TABLE, VIEW, FUNCTION, PROCEDURE, TRIGGER or PACKAGE
	Kind  string
	Parts []string
}

var createKinds = map[string]string{
	"TABLE":     "TABLE",
	"VIEW":      "VIEW",
	"FUNCTION":  "FUNCTION",
	"PROCEDURE": "PROCEDURE",
	"PROC":      "PROCEDURE",
	"TRIGGER":   "TRIGGER",
	"PACKAGE":   "PACKAGE",
}

var createModifiers = map[string]bool{
	"TEMP":           true,
	"TEMPORARY":      true,
	"UNLOGGED":       true,
	"MATERIALIZED":   true,
	"RECURSIVE":      true,
	"EDITIONABLE":    true,
	"NONEDITIONABLE": true,
	"CONSTRAINT":     true,
}

// FindCreate locates the first CREATE statement in sql and returns its object kind and name. Leading statements, such
// as SET options, are skipped.
func FindCreate(sql string) (CreateHeader, bool) {
	tokens := Significant(Tokenize(sql))
	for i := range tokens {
		if !tokens[i].IsKeyword("CREATE") {
			continue
		}
		j := i + 1
		if j+1 < len(tokens) && tokens[j].IsKeyword("OR") &&
			(tokens[j+1].IsKeyword("ALTER") || tokens[j+1].IsKeyword("REPLACE")) {
			j += 2
		}
		for j < len(tokens) && tokens[j].Kind == Word && createModifiers[strings.ToUpper(tokens[j].Text)] {
			j++
		}
		if j >= len(tokens) || tokens[j].Kind != Word {
			continue
		}
		kind, ok := createKinds[strings.ToUpper(tokens[j].Text)]
		if !ok {
			continue
		}
		j++
		if kind == "PACKAGE" && j < len(tokens) && tokens[j].IsKeyword("BODY") {
			j++
		}
		if j+2 < len(tokens) && tokens[j].IsKeyword("IF") && tokens[j+1].IsKeyword("NOT") && tokens[j+2].IsKeyword("EXISTS") {
			j += 3
		}
		parts, _ := QualifiedName(tokens, j)
		if len(parts) == 0 {
			continue
		}
		return CreateHeader{Kind: kind, Parts: parts}, true
	}
	return CreateHeader{}, false
}
