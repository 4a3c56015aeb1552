package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stripe/schema-planner/internal/config"
	"github.com/stripe/schema-planner/pkg/migrate"
	"github.com/stripe/schema-planner/pkg/sqldb"
)

func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the tables and objects of the source directories in the target database, then re-add their foreign keys",
		Long: "Tables are created without their foreign keys. The other objects are attempted in type order; an object" +
			" failing on a missing object that is part of the migration is retried once that object exists. The" +
			" deferred foreign keys are then applied, or only written out with --plan-only.\n\n" +
			"Writes " + migrate.ConstraintScriptFileName + " and " + migrate.ReportFileName + " to --out-dir. Exits" +
			" with an error if any object was not created.",
	}
	config.RegisterFlags(cmd.Flags())

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		configFile, err := cmd.Flags().GetString(configFlagName)
		if err != nil {
			return err
		}
		cfg, err := config.Load(cmd.Flags(), configFile)
		if err != nil {
			return err
		}
		if cfg.TablesDir == "" && cfg.ObjectsDir == "" {
			return fmt.Errorf("at least one of --%s and --%s is required", config.KeyTablesDir, config.KeyObjectsDir)
		}
		logger, err := buildLogger(cfg.LogFormat, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		opts, err := migratorOpts(cfg, logger)
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true

		sources, err := migrate.LoadSources(cfg.TablesDir, cfg.ObjectsDir, cfg.DefaultSchema)
		if err != nil {
			return fmt.Errorf("loading sources: %w", err)
		}
		cmdPrintf(cmd, "Loaded %d table(s) and %d other object(s)\n", len(sources.Tables), len(sources.Objects))

		if !cfg.SkipConfirmPrompt && !cfg.Rehearse {
			if err := mustContinuePrompt(
				fmt.Sprintf("Create %d object(s) in the %s database?", len(sources.Tables)+len(sources.Objects), cfg.Driver),
			); err != nil {
				return err
			}
		}

		db, closeDb, err := openTarget(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeDb()

		executor := sqldb.NewExecutor(db, sqldb.WithLogger(logger), sqldb.WithStatementTimeout(cfg.ObjectTimeout))
		result, runErr := migrate.NewMigrator(executor, opts...).Run(cmd.Context(), sources)
		if runErr != nil && result.RunID == "" {
			// Nothing was executed
			return runErr
		}

		if err := writeOutputs(cfg, result); err != nil {
			return err
		}
		cmdPrintln(cmd, header("Summary"))
		if err := migrate.WriteReport(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if runErr != nil {
			return fmt.Errorf("migration interrupted: %w", runErr)
		}
		if !result.AllSucceeded() {
			return fmt.Errorf("%d object(s) failed and %d unresolved, see %s",
				len(result.Report.Failed), len(result.Report.Unresolved), filepath.Join(cfg.OutDir, migrate.ReportFileName))
		}
		cmdPrintln(cmd, "All objects created successfully")
		return nil
	}

	return cmd
}

func writeOutputs(cfg config.Config, result migrate.Result) error {
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := writeFile(filepath.Join(cfg.OutDir, migrate.ConstraintScriptFileName), func(w io.Writer) error {
		return migrate.WriteConstraintScript(w, result.RunID, result.Plan)
	}); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(cfg.OutDir, migrate.ReportFileName), func(w io.Writer) error {
		return migrate.WriteReport(w, result)
	}); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.GraphOut) != "" {
		if err := writeFile(cfg.GraphOut, func(w io.Writer) error {
			return migrate.EncodeDOT(w, result)
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) (retErr error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("closing %s: %w", path, err)
		}
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
