package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stripe/schema-planner/internal/config"
	"github.com/stripe/schema-planner/pkg/classify"
	"github.com/stripe/schema-planner/pkg/log"
)

func TestLogFmtToMap(t *testing.T) {
	type args struct {
		logFmt string
	}
	tests := []struct {
		name    string
		args    args
		want    map[string]string
		wantErr bool
	}{
		{
			name: "empty string",
			args: args{
				logFmt: "",
			},
			want:    map[string]string{},
			wantErr: false,
		},
		{
			name: "single key value pair",
			args: args{
				logFmt: "key=value",
			},
			want:    map[string]string{"key": "value"},
			wantErr: false,
		},
		{
			name: "quoted value",
			args: args{
				logFmt: `kind=MISSING_TABLE pattern="unknown table (?P<name>[^ ]+)"`,
			},
			want:    map[string]string{"kind": "MISSING_TABLE", "pattern": "unknown table (?P<name>[^ ]+)"},
			wantErr: false,
		},
		{
			name: "duplicate key",
			args: args{
				logFmt: "key=value1 key=value2",
			},
			want:    nil,
			wantErr: true,
		},
		{
			name: "multiple records",
			args: args{
				logFmt: "key1=value1 key2=value2\nkey3=value3",
			},
			want:    map[string]string{"key1": "value1", "key2": "value2", "key3": "value3"},
			wantErr: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := logFmtToMap(tt.args.logFmt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseStatementTimeoutModifierStr(t *testing.T) {
	for _, tc := range []struct {
		opt string `explicit:"always"`

		expectedRegexStr    string
		expectedTimeout     time.Duration
		expectedErrContains string
	}{
		{
			opt:              "normal duration=5m",
			expectedRegexStr: "normal duration",
			expectedTimeout:  5 * time.Minute,
		},
		{
			opt:              "some regex with a duration ending in a period=5.h",
			expectedRegexStr: "some regex with a duration ending in a period",
			expectedTimeout:  5 * time.Hour,
		},
		{
			opt:              "has a valid opt in the regex something=5.5m in the regex =15s",
			expectedRegexStr: "has a valid opt in the regex something=5.5m in the regex ",
			expectedTimeout:  15 * time.Second,
		},
		{
			opt:              `\[orders\]=1m30s`,
			expectedRegexStr: `\[orders\]`,
			expectedTimeout:  90 * time.Second,
		},
		{
			opt:                 "=5m",
			expectedErrContains: "could not parse regex and duration from arg",
		},
		{
			opt:                 "15m",
			expectedErrContains: "could not parse regex and duration from arg",
		},
		{
			opt:                 "(unclosed=15m",
			expectedErrContains: "regex could not be compiled",
		},
		{
			opt:                 "someregex=invalid duration5s",
			expectedErrContains: "duration could not be parsed",
		},
	} {
		t.Run(tc.opt, func(t *testing.T) {
			modifier, err := parseStatementTimeoutModifierStr(tc.opt)
			if len(tc.expectedErrContains) > 0 {
				assert.ErrorContains(t, err, tc.expectedErrContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedRegexStr, modifier.regex.String())
			assert.Equal(t, tc.expectedTimeout, modifier.timeout)
		})
	}
}

func TestParseClassifierRuleStr(t *testing.T) {
	for _, tc := range []struct {
		name                string
		record              string
		expectedName        string
		expectedKind        classify.DependencyKind
		expectedErrContains string
	}{
		{
			name:         "named rule",
			record:       `name=oracle kind=MISSING_TABLE pattern="ORA-00942: table (?P<name>\\S+) does not exist"`,
			expectedName: "oracle",
			expectedKind: classify.MissingTable,
		},
		{
			name:         "unnamed rule",
			record:       `kind=SYNTAX_ERROR pattern="unexpected token"`,
			expectedName: "custom SYNTAX_ERROR",
			expectedKind: classify.SyntaxError,
		},
		{
			name:                "missing name group",
			record:              `kind=MISSING_VIEW pattern="view is gone"`,
			expectedErrContains: "has no (?P<name>...) group",
		},
		{
			name:                "unknown field",
			record:              `kind=SYNTAX_ERROR pattern=x severity=high`,
			expectedErrContains: `unknown rule field "severity"`,
		},
		{
			name:                "duplicate field",
			record:              `kind=SYNTAX_ERROR kind=OTHER_ERROR pattern=x`,
			expectedErrContains: "duplicate key",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := parseClassifierRuleStr(tc.record)
			if len(tc.expectedErrContains) > 0 {
				assert.ErrorContains(t, err, tc.expectedErrContains)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedName, rule.Name)
			assert.Equal(t, tc.expectedKind, rule.Kind)
		})
	}
}

func TestBuildLogger(t *testing.T) {
	logger, err := buildLogger("simple", nil)
	require.NoError(t, err)
	assert.IsType(t, log.SimpleLogger(), logger)

	buf := &bytes.Buffer{}
	logger, err = buildLogger("LOGFMT", buf)
	require.NoError(t, err)
	logger.Warnf("object %s skipped", "DBO.V_A")
	assert.Contains(t, buf.String(), "level=warn")
	assert.Contains(t, buf.String(), `msg="object DBO.V_A skipped"`)

	_, err = buildLogger("json", nil)
	assert.ErrorContains(t, err, `unknown log format "json"`)
}

func TestMigratorOpts(t *testing.T) {
	base := config.Config{
		DefaultSchema:         "dbo",
		MaxRetryCycles:        3,
		MaxAttempts:           5,
		ConstraintPasses:      2,
		Dialect:               "bracket",
		ExtractionConcurrency: 8,
	}

	opts, err := migratorOpts(base, log.NopLogger())
	require.NoError(t, err)
	assert.Len(t, opts, 8)

	withModifiers := base
	withModifiers.StatementTimeouts = []string{"orders=5m", ".*=1m"}
	withModifiers.ClassifierRuleRecords = []string{`kind=SYNTAX_ERROR pattern="unexpected token"`}
	opts, err = migratorOpts(withModifiers, log.NopLogger())
	require.NoError(t, err)
	assert.Len(t, opts, 11)

	for _, tc := range []struct {
		name                string
		modify              func(*config.Config)
		expectedErrContains string
	}{
		{
			name:                "unknown dialect",
			modify:              func(c *config.Config) { c.Dialect = "oracle" },
			expectedErrContains: `unknown dialect "oracle"`,
		},
		{
			name:                "invalid statement timeout",
			modify:              func(c *config.Config) { c.StatementTimeouts = []string{"15m"} },
			expectedErrContains: `parsing statement timeout modifier from "15m"`,
		},
		{
			name:                "invalid classifier rule",
			modify:              func(c *config.Config) { c.ClassifierRuleRecords = []string{"kind=NOT_A_KIND pattern=x"} },
			expectedErrContains: "parsing classifier rule from",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.modify(&cfg)
			_, err := migratorOpts(cfg, log.NopLogger())
			assert.ErrorContains(t, err, tc.expectedErrContains)
		})
	}
}
