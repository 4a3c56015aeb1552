package constraint

import (
	"fmt"
	"strings"

	"github.com/stripe/schema-planner/internal/sqlident"
)

// ForeignKeyDefinition is a foreign key lifted out of a table definition. Identifiers keep the case they were written
// in (with quoting removed), so the constraint can be re-emitted faithfully. Matching uses the normalized keys.
type ForeignKeyDefinition struct {
	ConstraintName    string
	SourceSchema      string
	SourceTable       string
	SourceColumns     []string
	ReferencedSchema  string
	ReferencedTable   string
	ReferencedColumns []string
	// Match is the MATCH type keyword, FULL, PARTIAL or SIMPLE. It is rendered before the referential actions.
	Match string
	// OnDelete and OnUpdate hold the referential action keyword, e.g., CASCADE or SET NULL. Empty means unspecified.
	OnDelete string
	OnUpdate string
	// Options holds any other trailing clause options verbatim, e.g., NOT FOR REPLICATION
	Options string
	// GeneratedName is set when the clause had no CONSTRAINT name and one was derived
	GeneratedName bool
}

// TableKey builds the registry key of a table, e.g., "APP.STORES"
func TableKey(schema, table string) string {
	return sqlident.QualifiedKey(schema, table)
}

func (f ForeignKeyDefinition) SourceKey() string {
	return TableKey(f.SourceSchema, f.SourceTable)
}

func (f ForeignKeyDefinition) ReferencedKey() string {
	return TableKey(f.ReferencedSchema, f.ReferencedTable)
}

func (f ForeignKeyDefinition) IsSelfReferencing() bool {
	return f.SourceKey() == f.ReferencedKey()
}

// Validate checks the semantic invariants of the definition. A definition that fails validation is never part of an
// application plan.
func (f ForeignKeyDefinition) Validate() error {
	var reasons []string
	if strings.TrimSpace(f.ConstraintName) == "" {
		reasons = append(reasons, "constraint name is empty")
	}
	if len(f.SourceColumns) == 0 {
		reasons = append(reasons, "no source columns")
	}
	// An omitted referenced column list targets the referenced primary key
	if len(f.ReferencedColumns) > 0 && len(f.ReferencedColumns) != len(f.SourceColumns) {
		reasons = append(reasons, fmt.Sprintf("%d source columns but %d referenced columns",
			len(f.SourceColumns), len(f.ReferencedColumns)))
	}
	if strings.TrimSpace(f.ReferencedTable) == "" {
		reasons = append(reasons, "referenced table is empty")
	}
	if len(reasons) > 0 {
		return ValidationError{
			Table:      TableKey(f.SourceSchema, f.SourceTable),
			Constraint: f.ConstraintName,
			Reason:     strings.Join(reasons, "; "),
		}
	}
	return nil
}

// ValidationError describes a foreign key clause that could not be turned into a usable definition. It never aborts
// extraction of the remaining clauses.
type ValidationError struct {
	Table      string
	Constraint string
	Reason     string
	// Clause is the offending clause text, when known
	Clause string
}

func (v ValidationError) Error() string {
	name := v.Constraint
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("invalid foreign key %s on %s: %s", name, v.Table, v.Reason)
}
