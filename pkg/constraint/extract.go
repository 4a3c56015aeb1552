package constraint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stripe/schema-planner/internal/sqlident"
	"github.com/stripe/schema-planner/internal/sqlscan"
)

// Strip removes every foreign key clause from a table definition so the table can be created before the tables it
// references. It returns the cleaned definition, the extracted foreign keys and the clauses that could not be used.
//
// Both the table-level form, "[CONSTRAINT name] FOREIGN KEY (cols) REFERENCES table [(cols)] [options]", and whole
// "ALTER TABLE t [WITH CHECK] ADD CONSTRAINT ... FOREIGN KEY ..." statements are recognized. The matching
// "ALTER TABLE t CHECK CONSTRAINT name" statements are removed along with them.
//
// A clause that parses but breaks an invariant (mismatched column counts, empty name) is removed from the text and
// reported as a ValidationError. A clause that does not parse at all is left in the text and reported. A definition
// without foreign keys is returned unchanged.
//
// If tableName is empty, the table name (and schema, if qualified) is read from the CREATE TABLE header. Unqualified
// referenced tables are assumed to live in the source table's schema.
func Strip(definition, tableName, schemaName string) (string, []ForeignKeyDefinition, []ValidationError) {
	if tableName == "" {
		if header, ok := sqlscan.FindCreate(definition); ok && header.Kind == "TABLE" {
			schemaName, tableName = sqlscan.SplitSchema(header.Parts, schemaName)
		}
	}
	s := &stripper{
		text:   definition,
		tokens: sqlscan.Significant(sqlscan.Tokenize(definition)),
		table:  tableName,
		schema: schemaName,
	}
	return s.strip()
}

type (
	span struct {
		start, end int
	}

	parsedClause struct {
		def  ForeignKeyDefinition
		text string
	}

	stripper struct {
		text   string
		tokens []sqlscan.Token
		table  string
		schema string
	}
)

func (s *stripper) strip() (string, []ForeignKeyDefinition, []ValidationError) {
	var (
		spans   []span
		clauses []parsedClause
		invalid []ValidationError
		lastEnd int
	)
	for k := 0; k+1 < len(s.tokens); k++ {
		if !s.tokens[k].IsKeyword("FOREIGN") || !s.tokens[k+1].IsKeyword("KEY") {
			continue
		}
		clause, sp, next, vErr := s.parseClause(k, lastEnd, spans)
		if vErr != nil {
			invalid = append(invalid, *vErr)
			continue
		}
		spans = append(spans, sp)
		clauses = append(clauses, clause)
		lastEnd = sp.end
		k = next - 1
	}
	if len(clauses) == 0 {
		return s.text, nil, invalid
	}

	assignGeneratedNames(clauses)
	spans = append(spans, s.checkConstraintSpans(clauses)...)

	var defs []ForeignKeyDefinition
	for _, c := range clauses {
		if err := c.def.Validate(); err != nil {
			vErr := err.(ValidationError)
			vErr.Clause = c.text
			invalid = append(invalid, vErr)
			continue
		}
		defs = append(defs, c.def)
	}

	return repairPunctuation(removeSpans(s.text, spans)), defs, invalid
}

// parseClause parses the clause whose FOREIGN keyword is tokens[k]. It returns the clause, the text span to remove
// and the index of the first token after the removed text. removed holds the spans of the clauses parsed so far.
func (s *stripper) parseClause(k int, lastEnd int, removed []span) (parsedClause, span, int, *ValidationError) {
	tokens := s.tokens
	start := k
	name, named := "", false
	if k >= 2 && tokens[k-2].IsKeyword("CONSTRAINT") && tokens[k-1].IsIdent() {
		name, named, start = tokens[k-1].Value(), true, k-2
	} else if k >= 1 && tokens[k-1].IsKeyword("CONSTRAINT") {
		named, start = true, k-1
	}

	sourceSchema, sourceTable := s.schema, s.table
	alter, inAlter := s.enclosingAlter(start)
	if inAlter {
		sourceSchema, sourceTable = alter.schema, alter.table
	}

	malformed := func(p int, reason string) (parsedClause, span, int, *ValidationError) {
		end := tokens[len(tokens)-1].End
		if p < len(tokens) {
			end = tokens[p].End
		}
		return parsedClause{}, span{}, 0, &ValidationError{
			Table:      TableKey(sourceSchema, sourceTable),
			Constraint: name,
			Reason:     reason,
			Clause:     s.text[tokens[start].Start:end],
		}
	}

	var (
		sourceCols []string
		ok         bool
		p          = k + 2
		// Column-level form: "col type [CONSTRAINT name] FOREIGN KEY REFERENCES ..."
		inline = p < len(tokens) && tokens[p].IsKeyword("REFERENCES")
	)
	if inline {
		col, found := s.owningColumn(start)
		if !found {
			return malformed(p, "expected a list of column names after FOREIGN KEY")
		}
		sourceCols = []string{col}
	} else {
		sourceCols, p, ok = columnList(tokens, p)
		if !ok {
			return malformed(p, "expected a list of column names after FOREIGN KEY")
		}
	}
	if p >= len(tokens) || !tokens[p].IsKeyword("REFERENCES") {
		return malformed(p, "expected REFERENCES after the foreign key columns")
	}
	parts, p := sqlscan.QualifiedName(tokens, p+1)
	if len(parts) == 0 {
		return malformed(p, "expected a referenced table after REFERENCES")
	}
	refSchema, refTable := sqlscan.SplitSchema(parts, sourceSchema)
	var refCols []string
	if p < len(tokens) && tokens[p].IsPunct("(") {
		refCols, p, ok = columnList(tokens, p)
		if !ok {
			return malformed(p, "expected a list of referenced column names")
		}
	}
	opts, p := s.parseOptions(p)

	def := ForeignKeyDefinition{
		ConstraintName:    name,
		SourceSchema:      sourceSchema,
		SourceTable:       sourceTable,
		SourceColumns:     sourceCols,
		ReferencedSchema:  refSchema,
		ReferencedTable:   refTable,
		ReferencedColumns: refCols,
		Match:             opts.match,
		OnDelete:          opts.onDelete,
		OnUpdate:          opts.onUpdate,
		Options:           opts.other,
		GeneratedName:     !named,
	}
	end := tokens[p-1].End
	clause := parsedClause{def: def, text: s.text[tokens[start].Start:end]}

	if inline {
		// The column definition stays, only the clause and the space before it go
		return clause, span{start: tokens[start-1].End, end: end}, p, nil
	}

	followedByComma := p < len(tokens) && tokens[p].IsPunct(",")
	if inAlter && !followedByComma && s.onlyRemovedBetween(alter.body, start, removed) {
		// Every action of the statement is a removed foreign key
		if p < len(tokens) && tokens[p].IsPunct(";") {
			end = tokens[p].End
			p++
		}
		return clause, s.wholeLines(tokens[alter.idx].Start, end), p, nil
	}

	// One action of a multi-action ALTER TABLE. When every action carries its own ADD, the ADD goes with the clause.
	lead := start
	if inAlter && tokens[start-1].IsKeyword("ADD") {
		commaBefore := start >= 2 && tokens[start-2].IsPunct(",") && tokens[start-2].Start >= lastEnd
		addAfter := followedByComma && p+1 < len(tokens) && tokens[p+1].IsKeyword("ADD")
		if commaBefore || addAfter {
			lead = start - 1
		}
	}

	if prev := lead - 1; prev >= 0 && tokens[prev].IsPunct(",") && tokens[prev].Start >= lastEnd {
		return clause, span{start: tokens[prev].Start, end: end}, p, nil
	}
	if followedByComma {
		end = tokens[p].End + leadingSpace(s.text[tokens[p].End:])
		return clause, span{start: tokens[lead].Start, end: end}, p + 1, nil
	}
	return clause, span{start: tokens[lead].Start, end: end}, p, nil
}

type alterHead struct {
	// idx is the index of the ALTER keyword, body the index of the first token after the table name and any
	// WITH CHECK|NOCHECK
	idx, body     int
	schema, table string
}

// enclosingAlter finds the "ALTER TABLE [IF EXISTS] [ONLY] name [WITH CHECK|NOCHECK]" head of the statement
// tokens[start] belongs to
func (s *stripper) enclosingAlter(start int) (alterHead, bool) {
	tokens := s.tokens
	for j := start - 1; j >= 1; j-- {
		if tokens[j].IsPunct(";") || tokens[j].IsKeyword("GO") || tokens[j].IsKeyword("CREATE") {
			return alterHead{}, false
		}
		if !tokens[j-1].IsKeyword("ALTER") || !tokens[j].IsKeyword("TABLE") {
			continue
		}
		p := j + 1
		if p+1 < len(tokens) && tokens[p].IsKeyword("IF") && tokens[p+1].IsKeyword("EXISTS") {
			p += 2
		}
		if p+1 < len(tokens) && tokens[p].IsKeyword("ONLY") && tokens[p+1].IsIdent() {
			p++
		}
		parts, p := sqlscan.QualifiedName(tokens, p)
		if len(parts) == 0 {
			return alterHead{}, false
		}
		if p+1 < len(tokens) && tokens[p].IsKeyword("WITH") && (tokens[p+1].IsKeyword("CHECK") || tokens[p+1].IsKeyword("NOCHECK")) {
			p += 2
		}
		schema, table := sqlscan.SplitSchema(parts, s.schema)
		return alterHead{idx: j - 1, body: p, schema: schema, table: table}, true
	}
	return alterHead{}, false
}

// onlyRemovedBetween reports whether tokens[from:to] hold nothing but ADD keywords, commas and removed text
func (s *stripper) onlyRemovedBetween(from, to int, removed []span) bool {
	for i := from; i < to; i++ {
		t := s.tokens[i]
		if t.IsKeyword("ADD") || t.IsPunct(",") {
			continue
		}
		covered := false
		for _, sp := range removed {
			if t.Start >= sp.start && t.End <= sp.end {
				covered = true
				break
			}
		}
		if !covered {
			return false
		}
	}
	return true
}

// owningColumn returns the name of the column definition tokens[start] is part of: the first token after the
// enclosing "(" or the previous "," at the same nesting depth
func (s *stripper) owningColumn(start int) (string, bool) {
	tokens := s.tokens
	depth := 0
	for j := start - 1; j >= 0; j-- {
		t := tokens[j]
		switch {
		case t.IsPunct(")"):
			depth++
		case t.IsPunct("(") && depth > 0:
			depth--
		case t.IsPunct(";"):
			return "", false
		case (t.IsPunct("(") || t.IsPunct(",")) && depth == 0:
			col := j + 1
			if col >= start || !tokens[col].IsIdent() || tokens[col].IsKeyword("CONSTRAINT") {
				return "", false
			}
			return tokens[col].Value(), true
		}
	}
	return "", false
}

type clauseOptions struct {
	match, onDelete, onUpdate string
	other                     string
}

func (s *stripper) parseOptions(p int) (clauseOptions, int) {
	tokens := s.tokens
	var (
		opts  clauseOptions
		other []string
	)
	has := func(i int, kws ...string) bool {
		if i+len(kws) > len(tokens) {
			return false
		}
		for n, kw := range kws {
			if !tokens[i+n].IsKeyword(kw) {
				return false
			}
		}
		return true
	}
	done := func() (clauseOptions, int) {
		opts.other = strings.Join(other, " ")
		return opts, p
	}
	for p < len(tokens) {
		var width int
		switch {
		case has(p, "ON", "DELETE") || has(p, "ON", "UPDATE"):
			action, n := referentialAction(tokens, p+2)
			if n == 0 {
				return done()
			}
			if tokens[p+1].IsKeyword("DELETE") {
				opts.onDelete = action
			} else {
				opts.onUpdate = action
			}
			p += 2 + n
			continue
		case has(p, "MATCH", "FULL") || has(p, "MATCH", "PARTIAL") || has(p, "MATCH", "SIMPLE"):
			opts.match = strings.ToUpper(tokens[p+1].Text)
			p += 2
			continue
		case has(p, "NOT", "FOR", "REPLICATION"):
			width = 3
		case has(p, "NOT", "VALID") || has(p, "NOT", "DEFERRABLE"):
			width = 2
		case has(p, "DEFERRABLE"):
			width = 1
		case has(p, "INITIALLY", "DEFERRED") || has(p, "INITIALLY", "IMMEDIATE"):
			width = 2
		default:
			return done()
		}
		other = append(other, s.text[tokens[p].Start:tokens[p+width-1].End])
		p += width
	}
	return done()
}

// referentialAction reads the action of an ON DELETE/ON UPDATE clause. It returns the canonical keyword and the number
// of tokens read, or 0 if there is no valid action.
func referentialAction(tokens []sqlscan.Token, p int) (string, int) {
	if p >= len(tokens) {
		return "", 0
	}
	switch {
	case tokens[p].IsKeyword("CASCADE"):
		return "CASCADE", 1
	case tokens[p].IsKeyword("RESTRICT"):
		return "RESTRICT", 1
	case p+1 < len(tokens) && tokens[p].IsKeyword("NO") && tokens[p+1].IsKeyword("ACTION"):
		return "NO ACTION", 2
	case p+1 < len(tokens) && tokens[p].IsKeyword("SET") && tokens[p+1].IsKeyword("NULL"):
		return "SET NULL", 2
	case p+1 < len(tokens) && tokens[p].IsKeyword("SET") && tokens[p+1].IsKeyword("DEFAULT"):
		return "SET DEFAULT", 2
	}
	return "", 0
}

// columnList reads "(ident, ident, ...)" starting at tokens[p]. Identifiers may be quoted; anything else, including a
// nested parenthesis, makes the list malformed. An empty list is well-formed.
func columnList(tokens []sqlscan.Token, p int) ([]string, int, bool) {
	if p >= len(tokens) || !tokens[p].IsPunct("(") {
		return nil, p, false
	}
	p++
	cols := []string{}
	if p < len(tokens) && tokens[p].IsPunct(")") {
		return cols, p + 1, true
	}
	for p < len(tokens) {
		if !tokens[p].IsIdent() {
			return nil, p, false
		}
		cols = append(cols, tokens[p].Value())
		p++
		if p >= len(tokens) {
			break
		}
		switch {
		case tokens[p].IsPunct(","):
			p++
		case tokens[p].IsPunct(")"):
			return cols, p + 1, true
		default:
			return nil, p, false
		}
	}
	return nil, p, false
}

// assignGeneratedNames names unnamed clauses FK_<table>_<referenced table>, suffixed to stay unique per source table
func assignGeneratedNames(clauses []parsedClause) {
	used := make(map[string]bool)
	for _, c := range clauses {
		if !c.def.GeneratedName {
			used[c.def.SourceKey()+"."+sqlident.Normalize(c.def.ConstraintName)] = true
		}
	}
	for i, c := range clauses {
		if !c.def.GeneratedName {
			continue
		}
		base := fmt.Sprintf("FK_%s_%s", c.def.SourceTable, c.def.ReferencedTable)
		name := base
		for n := 2; used[c.def.SourceKey()+"."+sqlident.Normalize(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		used[c.def.SourceKey()+"."+sqlident.Normalize(name)] = true
		clauses[i].def.ConstraintName = name
	}
}

// checkConstraintSpans finds "ALTER TABLE t [WITH CHECK] CHECK|NOCHECK CONSTRAINT name" statements that re-enable one
// of the removed constraints
func (s *stripper) checkConstraintSpans(clauses []parsedClause) []span {
	removed := make(map[string]bool)
	for _, c := range clauses {
		if !c.def.GeneratedName {
			removed[c.def.SourceKey()+"."+sqlident.Normalize(c.def.ConstraintName)] = true
		}
	}

	tokens := s.tokens
	var spans []span
	for i := 0; i+1 < len(tokens); i++ {
		if !tokens[i].IsKeyword("ALTER") || !tokens[i+1].IsKeyword("TABLE") {
			continue
		}
		parts, p := sqlscan.QualifiedName(tokens, i+2)
		if len(parts) == 0 {
			continue
		}
		if p+1 < len(tokens) && tokens[p].IsKeyword("WITH") && (tokens[p+1].IsKeyword("CHECK") || tokens[p+1].IsKeyword("NOCHECK")) {
			p += 2
		}
		if p+2 >= len(tokens) || !(tokens[p].IsKeyword("CHECK") || tokens[p].IsKeyword("NOCHECK")) ||
			!tokens[p+1].IsKeyword("CONSTRAINT") || !tokens[p+2].IsIdent() {
			continue
		}
		schema, table := sqlscan.SplitSchema(parts, s.schema)
		if !removed[TableKey(schema, table)+"."+sqlident.Normalize(tokens[p+2].Value())] {
			continue
		}
		end := tokens[p+2].End
		if p+3 < len(tokens) && tokens[p+3].IsPunct(";") {
			end = tokens[p+3].End
		}
		spans = append(spans, s.wholeLines(tokens[i].Start, end))
	}
	return spans
}

// wholeLines widens a removed statement to the full lines it occupies, when nothing else shares those lines, so no
// blank line is left behind. A statement that sat alone in its batch takes the following GO line with it.
func (s *stripper) wholeLines(start, end int) span {
	lineStart := strings.LastIndexByte(s.text[:start], '\n') + 1
	if strings.TrimSpace(s.text[lineStart:start]) != "" {
		return span{start: start, end: end}
	}
	line, next := nextLine(s.text, end)
	if strings.TrimSpace(line) != "" {
		return span{start: start, end: end}
	}
	if !isBatchSeparator(previousLine(s.text, lineStart)) {
		return span{start: lineStart, end: next}
	}
	if line, afterGo := nextLine(s.text, next); isBatchSeparator(line) {
		next = afterGo
	}
	return span{start: lineStart, end: next}
}

// nextLine returns the rest of the line starting at i and the offset just past its newline
func nextLine(text string, i int) (string, int) {
	nl := strings.IndexByte(text[i:], '\n')
	if nl < 0 {
		return text[i:], len(text)
	}
	return text[i : i+nl], i + nl + 1
}

// previousLine returns the last non-blank line ending before lineStart. The start of the text counts as a separator.
func previousLine(text string, lineStart int) string {
	before := strings.TrimRight(text[:lineStart], " \t\r\n")
	if before == "" {
		return "GO"
	}
	return before[strings.LastIndexByte(before, '\n')+1:]
}

func isBatchSeparator(line string) bool {
	return strings.EqualFold(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(line), ";")), "GO")
}

func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t\r\n"))
}

func removeSpans(text string, spans []span) string {
	sort.Slice(spans, func(i, j int) bool {
		return spans[i].start < spans[j].start
	})
	var sb strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.end <= pos {
			continue
		}
		if sp.start > pos {
			sb.WriteString(text[pos:sp.start])
		}
		pos = sp.end
	}
	sb.WriteString(text[pos:])
	return sb.String()
}

// repairPunctuation drops commas left dangling by a removal: doubled commas, a comma right after an opening
// parenthesis and a comma right before a closing one
func repairPunctuation(text string) string {
	tokens := sqlscan.Tokenize(text)
	var sigIdx []int
	for i, t := range tokens {
		if t.Kind != sqlscan.Whitespace && t.Kind != sqlscan.Comment {
			sigIdx = append(sigIdx, i)
		}
	}
	drop := make(map[int]bool)
	for n, i := range sigIdx {
		if !tokens[i].IsPunct(",") {
			continue
		}
		if n+1 < len(sigIdx) {
			next := tokens[sigIdx[n+1]]
			if next.IsPunct(",") || next.IsPunct(")") {
				drop[i] = true
				continue
			}
		}
		if n > 0 && tokens[sigIdx[n-1]].IsPunct("(") {
			drop[i] = true
		}
	}
	if len(drop) == 0 {
		return text
	}
	var sb strings.Builder
	for i, t := range tokens {
		if !drop[i] {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}
