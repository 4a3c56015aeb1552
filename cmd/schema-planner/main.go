package main

import (
	"os"

	"github.com/spf13/cobra"
)

const configFlagName = "config"

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "schema-planner",
		Short: "Create schema objects in dependency order, deferring foreign keys until every table exists",
	}
	rootCmd.PersistentFlags().String(configFlagName, "",
		"Config file (yaml, json or toml). Flags and SCHEMA_PLANNER_* environment variables take precedence")
	rootCmd.AddCommand(buildMigrateCmd())
	rootCmd.AddCommand(buildStripCmd())
	rootCmd.AddCommand(buildVersionCmd())
	return rootCmd
}

func main() {
	err := buildRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}
