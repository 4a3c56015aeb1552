package constraint

import (
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// Dialect controls how identifiers are quoted when a constraint is rendered back into DDL
type Dialect interface {
	Name() string
	QuoteIdentifier(name string) string
}

type bracketDialect struct{}

func (bracketDialect) Name() string { return "bracket" }

func (bracketDialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

var (
	// DialectBracket quotes identifiers SQL Server style, e.g., [dbo].[orders]
	DialectBracket Dialect = bracketDialect{}
	// DialectPostgres quotes identifiers with double quotes
	DialectPostgres Dialect = postgresDialect{}
	// DialectMySQL quotes identifiers with backticks
	DialectMySQL Dialect = mysqlDialect{}
)

// DialectByName returns the dialect registered under name
func DialectByName(name string) (Dialect, error) {
	for _, d := range []Dialect{DialectBracket, DialectPostgres, DialectMySQL} {
		if strings.EqualFold(d.Name(), name) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown dialect %q: expected one of bracket, postgres, mysql", name)
}

// Render builds the statement that adds the foreign key to its source table
func Render(d Dialect, f ForeignKeyDefinition) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s",
		qualifiedName(d, f.SourceSchema, f.SourceTable),
		d.QuoteIdentifier(f.ConstraintName),
		quoteColumns(d, f.SourceColumns),
		qualifiedName(d, f.ReferencedSchema, f.ReferencedTable),
	))
	if len(f.ReferencedColumns) > 0 {
		sb.WriteString(fmt.Sprintf(" (%s)", quoteColumns(d, f.ReferencedColumns)))
	}
	if f.Match != "" {
		sb.WriteString(" MATCH " + f.Match)
	}
	if f.OnDelete != "" {
		sb.WriteString(" ON DELETE " + f.OnDelete)
	}
	if f.OnUpdate != "" {
		sb.WriteString(" ON UPDATE " + f.OnUpdate)
	}
	if f.Options != "" {
		sb.WriteString(" " + f.Options)
	}
	return sb.String()
}

func qualifiedName(d Dialect, schema, name string) string {
	if schema == "" {
		return d.QuoteIdentifier(name)
	}
	return fmt.Sprintf("%s.%s", d.QuoteIdentifier(schema), d.QuoteIdentifier(name))
}

func quoteColumns(d Dialect, cols []string) string {
	var quoted []string
	for _, c := range cols {
		quoted = append(quoted, d.QuoteIdentifier(c))
	}
	return strings.Join(quoted, ", ")
}
