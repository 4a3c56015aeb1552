package main

import (
	"os"
	"path/filepath"
)

func (suite *cmdTestSuite) TestStripCmd() {
	file := filepath.Join(suite.T().TempDir(), "stores.sql")
	suite.Require().NoError(os.WriteFile(file, []byte(storesDDL), 0644))

	for _, tc := range []struct {
		name              string
		args              []string
		outputContains    []string
		expectErrContains []string
	}{
		{
			name: "bracket dialect",
			args: []string{"strip", file},
			outputContains: []string{
				"region_id INTEGER NOT NULL\n);",
				"Deferred foreign keys (1)",
				"ALTER TABLE [dbo].[stores] ADD CONSTRAINT [FK_stores_regions] FOREIGN KEY ([region_id]) REFERENCES [dbo].[regions] ([id]);",
			},
		},
		{
			name: "postgres dialect",
			args: []string{"strip", "--dialect", "postgres", "--default-schema", "public", file},
			outputContains: []string{
				`ALTER TABLE "public"."stores" ADD CONSTRAINT "FK_stores_regions" FOREIGN KEY ("region_id") REFERENCES "public"."regions" ("id");`,
			},
		},
		{
			name:              "unknown dialect",
			args:              []string{"strip", "--dialect", "oracle", file},
			expectErrContains: []string{`unknown dialect "oracle"`},
		},
		{
			name:              "missing file",
			args:              []string{"strip", filepath.Join(suite.T().TempDir(), "missing.sql")},
			expectErrContains: []string{"reading table definition"},
		},
	} {
		suite.Run(tc.name, func() {
			suite.runCmdWithAssertions(runCmdWithAssertionsParams{
				args:              tc.args,
				outputContains:    tc.outputContains,
				expectErrContains: tc.expectErrContains,
			})
		})
	}
}

func (suite *cmdTestSuite) TestVersionCmd() {
	suite.runCmdWithAssertions(runCmdWithAssertionsParams{
		args:           []string{"version"},
		outputContains: []string{"version="},
	})
}
