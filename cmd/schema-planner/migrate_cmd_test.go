package main

import (
	"os"
	"path/filepath"

	"github.com/stripe/schema-planner/pkg/migrate"
)

var (
	regionsDDL = `CREATE TABLE regions (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);`
	storesDDL = `CREATE TABLE stores (
	id INTEGER PRIMARY KEY,
	region_id INTEGER NOT NULL,
	CONSTRAINT FK_stores_regions FOREIGN KEY (region_id) REFERENCES regions (id)
);`
	// v_a sorts before the view it selects from
	viewDDL = []string{
		"CREATE VIEW v_a AS SELECT id FROM v_b;",
		"CREATE VIEW v_b AS SELECT id, region_id FROM stores;",
	}
)

// sqliteArgs runs against an in-memory database. SQLite reports missing tables in the "main" schema.
func sqliteArgs(outDir string) []string {
	return []string{
		"migrate",
		"--driver", "sqlite",
		"--dsn", ":memory:",
		"--default-schema", "main",
		"--skip-confirm-prompt",
		"--out-dir", outDir,
	}
}

func (suite *cmdTestSuite) TestMigrateCmd_PlanOnly() {
	outDir := suite.T().TempDir()
	graphOut := filepath.Join(outDir, "graph.dot")
	suite.runCmdWithAssertions(runCmdWithAssertionsParams{
		args: append(sqliteArgs(outDir), "--plan-only", "--graph-out", graphOut),
		dynamicArgs: []dArgGenerator{
			tempSourceDirDArg("tables-dir", []string{regionsDDL, storesDDL}),
			tempSourceDirDArg("objects-dir", viewDDL),
		},
		outputContains: []string{
			"Loaded 2 table(s) and 2 other object(s)",
			"Objects: 4 succeeded, 0 failed, 0 unresolved",
			"DEFERRED FOREIGN KEYS (1)",
			"not applied, see " + migrate.ConstraintScriptFileName,
			"All objects created successfully",
		},
	})

	script, err := os.ReadFile(filepath.Join(outDir, migrate.ConstraintScriptFileName))
	suite.Require().NoError(err)
	suite.Contains(string(script), "-- Statements: 1")
	suite.Contains(string(script), "-- 1/1\nALTER TABLE [main].[stores] ADD CONSTRAINT [FK_stores_regions] FOREIGN KEY ([region_id]) REFERENCES [main].[regions] ([id]);")

	report, err := os.ReadFile(filepath.Join(outDir, migrate.ReportFileName))
	suite.Require().NoError(err)
	suite.Contains(string(report), "SUCCESS (4)")

	graph, err := os.ReadFile(graphOut)
	suite.Require().NoError(err)
	suite.Contains(string(graph), "digraph")
}

func (suite *cmdTestSuite) TestMigrateCmd_ConstraintFailuresDoNotFailTheRun() {
	// SQLite cannot add a constraint to an existing table
	outDir := suite.T().TempDir()
	suite.runCmdWithAssertions(runCmdWithAssertionsParams{
		args: append(sqliteArgs(outDir), "--dialect", "postgres"),
		dynamicArgs: []dArgGenerator{
			tempSourceDirDArg("tables-dir", []string{regionsDDL, storesDDL}),
		},
		outputContains: []string{
			"Objects: 2 succeeded, 0 failed, 0 unresolved",
			"0 applied, 1 failed",
			"FK_stores_regions",
		},
	})
}

func (suite *cmdTestSuite) TestMigrateCmd_FailedObject() {
	outDir := suite.T().TempDir()
	suite.runCmdWithAssertions(runCmdWithAssertionsParams{
		args: append(sqliteArgs(outDir), "--plan-only"),
		dynamicArgs: []dArgGenerator{
			tempSourceDirDArg("tables-dir", []string{regionsDDL}),
			tempSourceDirDArg("objects-dir", []string{"CREATE VIEW broken AS SELEC id FROM regions;"}),
		},
		outputContains: []string{
			"FAILED (1)",
			"VIEW MAIN.BROKEN",
		},
		outputNotContains: []string{"All objects created successfully"},
		expectErrContains: []string{"1 object(s) failed and 0 unresolved", migrate.ReportFileName},
	})

	_, err := os.Stat(filepath.Join(outDir, migrate.ReportFileName))
	suite.NoError(err)
}

func (suite *cmdTestSuite) TestMigrateCmd_ConfigFileAndEnv() {
	outDir := suite.T().TempDir()
	configFile := filepath.Join(suite.T().TempDir(), "schema-planner.yaml")
	suite.Require().NoError(os.WriteFile(configFile, []byte(`
driver: sqlite
dsn: ":memory:"
default-schema: main
plan-only: true
skip-confirm-prompt: true
`), 0644))
	suite.T().Setenv("SCHEMA_PLANNER_OUT_DIR", outDir)

	suite.runCmdWithAssertions(runCmdWithAssertionsParams{
		args: []string{"migrate", "--config", configFile},
		dynamicArgs: []dArgGenerator{
			tempSourceDirDArg("tables-dir", []string{regionsDDL, storesDDL}),
		},
		outputContains: []string{
			"Objects: 2 succeeded, 0 failed, 0 unresolved",
			"All objects created successfully",
		},
	})

	_, err := os.Stat(filepath.Join(outDir, migrate.ConstraintScriptFileName))
	suite.NoError(err)
}

func (suite *cmdTestSuite) TestMigrateCmd_Errors() {
	for _, tc := range []struct {
		name              string
		args              []string
		dynamicArgs       []dArgGenerator
		expectErrContains []string
	}{
		{
			name:              "no source directories",
			args:              []string{"migrate", "--driver", "sqlite", "--dsn", ":memory:"},
			expectErrContains: []string{"at least one of --tables-dir and --objects-dir is required"},
		},
		{
			name:              "no target",
			args:              []string{"migrate", "--skip-confirm-prompt"},
			dynamicArgs:       []dArgGenerator{tempSourceDirDArg("tables-dir", []string{regionsDDL})},
			expectErrContains: []string{"--driver and --dsn are required"},
		},
		{
			name:              "unknown driver",
			args:              []string{"migrate", "--skip-confirm-prompt", "--driver", "oracle", "--dsn", "x"},
			dynamicArgs:       []dArgGenerator{tempSourceDirDArg("tables-dir", []string{regionsDDL})},
			expectErrContains: []string{`unknown driver "oracle"`},
		},
		{
			name:              "rehearsal needs postgres",
			args:              []string{"migrate", "--rehearse", "--driver", "sqlite", "--dsn", ":memory:"},
			dynamicArgs:       []dArgGenerator{tempSourceDirDArg("tables-dir", []string{regionsDDL})},
			expectErrContains: []string{"--rehearse requires the pgx driver"},
		},
		{
			name:              "unknown dialect",
			args:              []string{"migrate", "--dialect", "oracle"},
			dynamicArgs:       []dArgGenerator{tempSourceDirDArg("tables-dir", []string{regionsDDL})},
			expectErrContains: []string{`unknown dialect "oracle"`},
		},
		{
			name:              "invalid statement timeout",
			args:              []string{"migrate", "-t", "stores"},
			dynamicArgs:       []dArgGenerator{tempSourceDirDArg("tables-dir", []string{regionsDDL})},
			expectErrContains: []string{"parsing statement timeout modifier"},
		},
		{
			name:              "invalid configuration",
			args:              []string{"migrate", "--max-attempts=0"},
			dynamicArgs:       []dArgGenerator{tempSourceDirDArg("tables-dir", []string{regionsDDL})},
			expectErrContains: []string{"max-attempts must be at least 1"},
		},
		{
			name:              "source without a CREATE statement",
			args:              []string{"migrate", "--skip-confirm-prompt", "--driver", "sqlite", "--dsn", ":memory:"},
			dynamicArgs:       []dArgGenerator{tempSourceDirDArg("objects-dir", []string{"SELECT 1;"})},
			expectErrContains: []string{"loading sources", "no CREATE statement found"},
		},
	} {
		suite.Run(tc.name, func() {
			suite.runCmdWithAssertions(runCmdWithAssertionsParams{
				args:              tc.args,
				dynamicArgs:       tc.dynamicArgs,
				expectErrContains: tc.expectErrContains,
			})
		})
	}
}
