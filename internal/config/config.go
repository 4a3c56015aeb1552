// Package config resolves the CLI configuration. A value is taken from the first of: an explicitly set flag, a
// SCHEMA_PLANNER_* environment variable, the config file, the flag's default.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stripe/schema-planner/pkg/classify"
	"github.com/stripe/schema-planner/pkg/migrate"
	"github.com/stripe/schema-planner/pkg/scheduler"
)

const EnvPrefix = "SCHEMA_PLANNER"

// Keys shared by flags, environment variables and config files. Env var names are the upper-cased key with dashes
// replaced, e.g., SCHEMA_PLANNER_MAX_RETRY_CYCLES.
const (
	KeyTablesDir             = "tables-dir"
	KeyObjectsDir            = "objects-dir"
	KeyOutDir                = "out-dir"
	KeyDefaultSchema         = "default-schema"
	KeyMaxRetryCycles        = "max-retry-cycles"
	KeyMaxAttempts           = "max-attempts"
	KeyConstraintPasses      = "constraint-passes"
	KeyDialect               = "dialect"
	KeyDriver                = "driver"
	KeyDSN                   = "dsn"
	KeyRehearse              = "rehearse"
	KeyPlanOnly              = "plan-only"
	KeySkipConfirmPrompt     = "skip-confirm-prompt"
	KeyGraphOut              = "graph-out"
	KeyLogFormat             = "log-format"
	KeyExtractionConcurrency = "extraction-concurrency"
	KeyStatementTimeout      = "statement-timeout"
	KeyObjectTimeout         = "object-timeout"
	KeyClassifierRule        = "classifier-rule"
	// KeyClassifierRules is only read from config files: a list of {name, kind, pattern} maps
	KeyClassifierRules = "classifier-rules"
)

type Config struct {
	TablesDir             string
	ObjectsDir            string
	OutDir                string
	DefaultSchema         string
	MaxRetryCycles        int
	MaxAttempts           int
	ConstraintPasses      int
	Dialect               string
	Driver                string
	DSN                   string
	Rehearse              bool
	PlanOnly              bool
	SkipConfirmPrompt     bool
	GraphOut              string
	LogFormat             string
	ExtractionConcurrency int
	// ObjectTimeout bounds each batch executed to create an object. Zero means no bound.
	ObjectTimeout time.Duration
	// StatementTimeouts holds "regex=duration" modifiers
	StatementTimeouts []string
	// ClassifierRuleRecords holds logfmt records, e.g., `kind=MISSING_TABLE pattern="..."`
	ClassifierRuleRecords []string
	// ClassifierRules are the rules read from the config file
	ClassifierRules []classify.Rule
}

// RegisterFlags registers the flags of the migrate command
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String(KeyTablesDir, "", "Directory of table definition files (*.sql, read recursively)")
	flags.String(KeyObjectsDir, "", "Directory of view, function, procedure, trigger and package definition files (*.sql, read recursively)")
	flags.String(KeyOutDir, ".", "Directory the constraint script and the dependency report are written to")
	flags.String(KeyDefaultSchema, migrate.DefaultDefaultSchema,
		"Schema of unqualified names. On MySQL, this must be the database name, which MySQL reports in missing table errors")
	flags.Int(KeyMaxRetryCycles, scheduler.DefaultMaxCycles, "Maximum number of retry cycles over skipped objects")
	flags.Int(KeyMaxAttempts, scheduler.DefaultMaxAttempts, "Maximum number of attempts per object")
	flags.Int(KeyConstraintPasses, migrate.DefaultConstraintPasses, "Maximum number of passes over failing deferred foreign keys")
	flags.String(KeyDialect, "bracket", "Quoting of the rendered foreign keys: bracket, postgres or mysql")
	flags.String(KeyDriver, "", "Database driver of the target: pgx, mysql or sqlite")
	flags.String(KeyDSN, "", "Connection string of the target database")
	flags.Bool(KeyRehearse, false, "Run against a temporary database created on the target instance and dropped afterward (pgx only)")
	flags.Bool(KeyPlanOnly, false, "Write the deferred foreign keys without applying them")
	flags.Bool(KeySkipConfirmPrompt, false, "Skips prompt asking for user to confirm before migrating")
	flags.String(KeyGraphOut, "", "Write the wait graph of the objects in DOT format to this file")
	flags.String(KeyLogFormat, "simple", "Log format: simple or logfmt")
	flags.Int(KeyExtractionConcurrency, migrate.DefaultExtractionConcurrency, "Maximum number of table definitions stripped in parallel")
	flags.Duration(KeyObjectTimeout, 0, "Timeout of each batch executed to create an object, e.g., 30s. 0 means none")
	flags.StringArrayP(KeyStatementTimeout, "t", nil,
		"regex=duration statement timeout modifier for the deferred foreign keys, e.g., -t '.*orders.*=5m'. Can be repeated")
	flags.StringArray(KeyClassifierRule, nil,
		"Additional error classifier rule as a logfmt record, checked before the default rules, e.g., "+
			`--classifier-rule 'kind=MISSING_TABLE pattern="unknown table (?P<name>[^ ]+)"'`)
}

// Load resolves the configuration of flags. configFile may be empty; its format is taken from its extension
// (yaml, json, toml, ...).
func Load(flags *pflag.FlagSet, configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return Config{}, fmt.Errorf("binding flags: %w", err)
	}
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}

	cfg := Config{
		TablesDir:             v.GetString(KeyTablesDir),
		ObjectsDir:            v.GetString(KeyObjectsDir),
		OutDir:                v.GetString(KeyOutDir),
		DefaultSchema:         v.GetString(KeyDefaultSchema),
		MaxRetryCycles:        v.GetInt(KeyMaxRetryCycles),
		MaxAttempts:           v.GetInt(KeyMaxAttempts),
		ConstraintPasses:      v.GetInt(KeyConstraintPasses),
		Dialect:               v.GetString(KeyDialect),
		Driver:                v.GetString(KeyDriver),
		DSN:                   v.GetString(KeyDSN),
		Rehearse:              v.GetBool(KeyRehearse),
		PlanOnly:              v.GetBool(KeyPlanOnly),
		SkipConfirmPrompt:     v.GetBool(KeySkipConfirmPrompt),
		GraphOut:              v.GetString(KeyGraphOut),
		LogFormat:             v.GetString(KeyLogFormat),
		ExtractionConcurrency: v.GetInt(KeyExtractionConcurrency),
		ObjectTimeout:         v.GetDuration(KeyObjectTimeout),
		StatementTimeouts:     v.GetStringSlice(KeyStatementTimeout),
		ClassifierRuleRecords: v.GetStringSlice(KeyClassifierRule),
	}

	var ruleFields []map[string]string
	if err := v.UnmarshalKey(KeyClassifierRules, &ruleFields); err != nil {
		return Config{}, fmt.Errorf("reading %s: %w", KeyClassifierRules, err)
	}
	for i, fields := range ruleFields {
		rule, err := classify.RuleFromFields(fields)
		if err != nil {
			return Config{}, fmt.Errorf("%s[%d]: %w", KeyClassifierRules, i, err)
		}
		cfg.ClassifierRules = append(cfg.ClassifierRules, rule)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var problems []string
	if c.MaxRetryCycles < 0 {
		problems = append(problems, fmt.Sprintf("%s must not be negative", KeyMaxRetryCycles))
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, fmt.Sprintf("%s must be at least 1", KeyMaxAttempts))
	}
	if c.ConstraintPasses < 1 {
		problems = append(problems, fmt.Sprintf("%s must be at least 1", KeyConstraintPasses))
	}
	if c.ExtractionConcurrency < 1 {
		problems = append(problems, fmt.Sprintf("%s must be at least 1", KeyExtractionConcurrency))
	}
	if c.ObjectTimeout < 0 {
		problems = append(problems, fmt.Sprintf("%s must not be negative", KeyObjectTimeout))
	}
	if strings.TrimSpace(c.DefaultSchema) == "" {
		problems = append(problems, fmt.Sprintf("%s must not be empty", KeyDefaultSchema))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}
