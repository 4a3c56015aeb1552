package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stripe/schema-planner/pkg/constraint"
	"github.com/stripe/schema-planner/pkg/migrate"
)

func buildStripCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strip <table definition file>",
		Short: "Print a table definition without its foreign keys, and the statements that re-add them",
		Args:  cobra.ExactArgs(1),
	}
	defaultSchema := cmd.Flags().String("default-schema", migrate.DefaultDefaultSchema, "Schema of unqualified names")
	dialectName := cmd.Flags().String("dialect", constraint.DialectBracket.Name(),
		"Quoting of the rendered foreign keys: bracket, postgres or mysql")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		dialect, err := constraint.DialectByName(*dialectName)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true

		definition, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading table definition: %w", err)
		}
		cleaned, defs, validationErrs := constraint.Strip(string(definition), "", *defaultSchema)

		cmdPrintln(cmd, header("Table definition"))
		cmdPrintln(cmd, strings.TrimRight(cleaned, "\n"))
		cmdPrintln(cmd, header(fmt.Sprintf("Deferred foreign keys (%d)", len(defs))))
		for _, d := range defs {
			cmdPrintf(cmd, "%s;\n", constraint.Render(dialect, d))
		}
		if len(validationErrs) > 0 {
			cmdPrintln(cmd, header(fmt.Sprintf("Invalid foreign keys (%d)", len(validationErrs))))
			for _, e := range validationErrs {
				cmdPrintln(cmd, e.Error())
			}
		}
		return nil
	}

	return cmd
}
