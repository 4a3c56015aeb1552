package migrate

import (
	"fmt"
	"io"
	"strings"

	"github.com/stripe/schema-planner/pkg/constraint"
	"github.com/stripe/schema-planner/pkg/scheduler"
)

const (
	ConstraintScriptFileName = "deferred_constraints.sql"
	ReportFileName           = "dependency_report.txt"
)

// WriteConstraintScript writes the deferred foreign keys in application order. Each statement is preceded by its
// position, e.g., "-- 2/5".
func WriteConstraintScript(w io.Writer, runID string, plan constraint.Plan) error {
	var sb strings.Builder
	sb.WriteString("-- Deferred foreign key constraints\n")
	sb.WriteString(fmt.Sprintf("-- Run: %s\n", runID))
	sb.WriteString(fmt.Sprintf("-- Plan hash: %s\n", plan.Hash))
	sb.WriteString(fmt.Sprintf("-- Statements: %d\n", len(plan.Statements)))
	for i, stmt := range plan.Statements {
		sb.WriteString(fmt.Sprintf("\n-- %d/%d\n", i+1, len(plan.Statements)))
		if stmt.Timeout > 0 {
			sb.WriteString(fmt.Sprintf("-- Timeout: %s\n", stmt.Timeout))
		}
		sb.WriteString(stmt.ToSQL())
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// WriteReport writes the object report followed by the outcome of the deferred foreign keys
func WriteReport(w io.Writer, result Result) error {
	if _, err := io.WriteString(w, fmt.Sprintf("Run: %s\n\n", result.RunID)); err != nil {
		return err
	}
	if err := result.Report.WriteText(w); err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("\nDEFERRED FOREIGN KEYS (%d)\n", len(result.Plan.Statements)))
	if len(result.ConstraintResults) == 0 && len(result.Plan.Statements) > 0 {
		sb.WriteString(fmt.Sprintf("  not applied, see %s\n", ConstraintScriptFileName))
	} else {
		failed := result.FailedConstraints()
		sb.WriteString(fmt.Sprintf("  %d applied, %d failed\n", len(result.ConstraintResults)-len(failed), len(failed)))
		for _, c := range failed {
			def := c.Statement.Definition
			sb.WriteString(fmt.Sprintf("  %s on %s: %d attempt(s)\n", def.ConstraintName, def.SourceKey(), c.Attempts))
			sb.WriteString(fmt.Sprintf("    last error: %s\n", scheduler.TruncateError(strings.Join(strings.Fields(c.LastError), " "))))
		}
	}
	if len(result.ConstraintValidationErrors) > 0 {
		sb.WriteString(fmt.Sprintf("\nINVALID FOREIGN KEYS (%d)\n", len(result.ConstraintValidationErrors)))
		for _, e := range result.ConstraintValidationErrors {
			sb.WriteString(fmt.Sprintf("  %s\n", e.Error()))
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// EncodeDOT writes the objects' wait graph in DOT format
func EncodeDOT(w io.Writer, result Result) error {
	if result.scheduler == nil {
		return fmt.Errorf("result has no objects")
	}
	return result.scheduler.EncodeDOT(w)
}
