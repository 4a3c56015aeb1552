package main

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/go-logfmt/logfmt"

	"github.com/stripe/schema-planner/internal/config"
	"github.com/stripe/schema-planner/pkg/classify"
	"github.com/stripe/schema-planner/pkg/constraint"
	"github.com/stripe/schema-planner/pkg/log"
	"github.com/stripe/schema-planner/pkg/migrate"
)

var (
	// Match arguments in the format "regex=duration" where duration is any duration valid in time.ParseDuration
	// We'll let time.ParseDuration handle the complexity of parsing invalid duration, so the regex we're extracting is
	// all characters greedily up to the rightmost "="
	statementTimeoutModifierRegex = regexp.MustCompile(`^(?P<regex>.+)=(?P<duration>.+)$`)
	regexSTMRegexIndex            = statementTimeoutModifierRegex.SubexpIndex("regex")
	durationSTMRegexIndex         = statementTimeoutModifierRegex.SubexpIndex("duration")
)

type statementTimeoutModifier struct {
	regex   *regexp.Regexp
	timeout time.Duration
}

func parseStatementTimeoutModifierStr(val string) (statementTimeoutModifier, error) {
	submatches := statementTimeoutModifierRegex.FindStringSubmatch(val)
	if len(submatches) <= regexSTMRegexIndex || len(submatches) <= durationSTMRegexIndex {
		return statementTimeoutModifier{}, fmt.Errorf("could not parse regex and duration from arg. expected to be in the format of " +
			"'Some.*Regex=<duration>'. Example durations include: 2s, 5m, 10.5h")
	}
	regexStr := submatches[regexSTMRegexIndex]
	durationStr := submatches[durationSTMRegexIndex]

	regex, err := regexp.Compile(regexStr)
	if err != nil {
		return statementTimeoutModifier{}, fmt.Errorf("regex could not be compiled from %q: %w", regexStr, err)
	}

	duration, err := time.ParseDuration(durationStr)
	if err != nil {
		return statementTimeoutModifier{}, fmt.Errorf("duration could not be parsed from %q: %w", durationStr, err)
	}

	return statementTimeoutModifier{
		regex:   regex,
		timeout: duration,
	}, nil
}

// logFmtToMap parses all LogFmt key/value pairs from the provided string into a
// map.
//
// All records are scanned. If a duplicate key is found, an error is returned.
func logFmtToMap(logFmt string) (map[string]string, error) {
	logMap := make(map[string]string)
	decoder := logfmt.NewDecoder(strings.NewReader(logFmt))
	for decoder.ScanRecord() {
		for decoder.ScanKeyval() {
			if _, ok := logMap[string(decoder.Key())]; ok {
				return nil, fmt.Errorf("duplicate key %q in logfmt", string(decoder.Key()))
			}
			logMap[string(decoder.Key())] = string(decoder.Value())
		}
	}
	if decoder.Err() != nil {
		return nil, decoder.Err()
	}
	return logMap, nil
}

func parseClassifierRuleStr(val string) (classify.Rule, error) {
	fields, err := logFmtToMap(val)
	if err != nil {
		return classify.Rule{}, err
	}
	return classify.RuleFromFields(fields)
}

func buildLogger(format string, w io.Writer) (log.Logger, error) {
	switch strings.ToLower(format) {
	case "", "simple":
		return log.SimpleLogger(), nil
	case "logfmt":
		return log.LogfmtLogger(w), nil
	default:
		return nil, fmt.Errorf("unknown log format %q: expected simple or logfmt", format)
	}
}

// migratorOpts translates the resolved configuration into migrator options
func migratorOpts(cfg config.Config, logger log.Logger) ([]migrate.Opt, error) {
	dialect, err := constraint.DialectByName(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	rules := append([]classify.Rule(nil), cfg.ClassifierRules...)
	for _, record := range cfg.ClassifierRuleRecords {
		rule, err := parseClassifierRuleStr(record)
		if err != nil {
			return nil, fmt.Errorf("parsing classifier rule from %q: %w", record, err)
		}
		rules = append(rules, rule)
	}

	opts := []migrate.Opt{
		migrate.WithDefaultSchema(cfg.DefaultSchema),
		migrate.WithMaxCycles(cfg.MaxRetryCycles),
		migrate.WithMaxAttempts(cfg.MaxAttempts),
		migrate.WithConstraintPasses(cfg.ConstraintPasses),
		migrate.WithDialect(dialect),
		migrate.WithPlanOnly(cfg.PlanOnly),
		migrate.WithExtractionConcurrency(int64(cfg.ExtractionConcurrency)),
		migrate.WithLogger(logger),
	}
	if len(rules) > 0 {
		opts = append(opts, migrate.WithClassifierOpts(classify.WithRules(rules...)))
	}
	for _, s := range cfg.StatementTimeouts {
		stm, err := parseStatementTimeoutModifierStr(s)
		if err != nil {
			return nil, fmt.Errorf("parsing statement timeout modifier from %q: %w", s, err)
		}
		opts = append(opts, migrate.WithStatementTimeoutModifier(stm.regex, stm.timeout))
	}
	return opts, nil
}
