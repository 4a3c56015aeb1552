// Package classify turns the opaque error text returned by a failed object creation into a dependency kind and the
// names of the objects it reported missing.
package classify

import (
	"fmt"
	"regexp"

	"github.com/stripe/schema-planner/internal/sqlident"
	"github.com/stripe/schema-planner/internal/sqlscan"
)

const (
	schemaGroupName = "schema"
	nameGroupName   = "name"
)

// Rule matches error text and assigns it a kind. For the MISSING_* kinds, the pattern's "name" group captures the
// missing object's name, optionally schema-qualified and quoted, and the optional "schema" group captures a schema
// reported separately. Every match in the text contributes a name.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Kind    DependencyKind

	schemaGroup int
	nameGroup   int
}

// NewRule compiles pattern into a rule. Missing-object rules must have a "name" group.
func NewRule(name string, kind DependencyKind, pattern string) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, fmt.Errorf("compiling pattern of rule %q: %w", name, err)
	}
	rule := Rule{
		Name:        name,
		Pattern:     re,
		Kind:        kind,
		schemaGroup: re.SubexpIndex(schemaGroupName),
		nameGroup:   re.SubexpIndex(nameGroupName),
	}
	if kind.IsMissing() && rule.nameGroup < 0 {
		return Rule{}, fmt.Errorf("rule %q of kind %s has no (?P<%s>...) group", name, kind, nameGroupName)
	}
	return rule, nil
}

func mustRule(name string, kind DependencyKind, pattern string) Rule {
	rule, err := NewRule(name, kind, pattern)
	if err != nil {
		panic(err)
	}
	return rule
}

// RuleFromFields builds a rule from key/value fields, e.g., parsed from a logfmt record or a config file. Recognized
// keys are name, kind and pattern.
func RuleFromFields(fields map[string]string) (Rule, error) {
	for key := range fields {
		switch key {
		case "name", "kind", "pattern":
		default:
			return Rule{}, fmt.Errorf("unknown rule field %q", key)
		}
	}
	kind, err := ParseDependencyKind(fields["kind"])
	if err != nil {
		return Rule{}, err
	}
	if fields["pattern"] == "" {
		return Rule{}, fmt.Errorf("rule %q has no pattern", fields["name"])
	}
	name := fields["name"]
	if name == "" {
		name = fmt.Sprintf("custom %s", kind)
	}
	return NewRule(name, kind, fields["pattern"])
}

const qualifiedNameChars = `[\w$#@\[\]"` + "`" + `]+(?:\.[\w$#@\[\]"` + "`" + `]+)*`

// DefaultRules recognizes the error phrasing of SQL Server, Postgres, MySQL and SQLite. Specific phrasings come before
// the generic ones.
func DefaultRules() []Rule {
	return []Rule{
		// SQL Server
		mustRule("mssql invalid object name", MissingTable, `(?i)invalid object name '(?P<name>[^']+)'`),
		mustRule("mssql stored procedure", MissingProcedure, `(?i)could not find stored procedure '(?P<name>[^']+)'`),
		mustRule("mssql user-defined function", MissingFunction,
			`(?i)cannot find either column "(?P<schema>[^"]+)" or the user-defined function or aggregate "(?P<name>[^"]+)"`),
		mustRule("mssql built-in function name", MissingFunction, `(?i)'(?P<name>[^']+)' is not a recognized built-in function name`),
		mustRule("mssql table or view", MissingView, `(?i)'(?P<name>[^']+)' is not a recognized (?:table|view)`),
		mustRule("mssql data type", MissingType, `(?i)cannot find data type (?P<name>`+qualifiedNameChars+`)`),
		mustRule("mssql sequence", MissingSequence, `(?i)invalid sequence name '(?P<name>[^']+)'`),
		// Postgres
		mustRule("postgres relation", MissingTable, `(?i)relation "(?P<name>[^"]+)" does not exist`),
		mustRule("postgres sequence", MissingSequence, `(?i)sequence "(?P<name>[^"]+)" does not exist`),
		mustRule("postgres type", MissingType, `(?i)type "(?P<name>[^"]+)" does not exist`),
		// MySQL
		mustRule("mysql table", MissingTable, `(?i)table '(?P<name>[^']+)' doesn't exist`),
		// Postgres and MySQL
		mustRule("function does not exist", MissingFunction, `(?i)function (?P<name>`+qualifiedNameChars+`)(?:\(.*?\))? does not exist`),
		mustRule("procedure does not exist", MissingProcedure, `(?i)procedure (?P<name>`+qualifiedNameChars+`)(?:\(.*?\))? does not exist`),
		// SQLite
		mustRule("sqlite table", MissingTable, `(?i)no such table: (?P<name>`+qualifiedNameChars+`)`),
		mustRule("sqlite function", MissingFunction, `(?i)no such function: (?P<name>`+qualifiedNameChars+`)`),
		// Generic
		mustRule("function not found", MissingFunction, `(?i)function '(?P<name>[^']+)' not found`),
		mustRule("object not found", MissingTable, `(?i)object '(?P<name>[^']+)' not found`),
		mustRule("syntax", SyntaxError, `(?i)incorrect syntax near|syntax error|error in your sql syntax`),
		mustRule("permission", PermissionError,
			`(?i)permission denied|permission was denied|does not have permission|access denied|insufficient privilege|command denied`),
	}
}

type (
	classifierOptions struct {
		prepend     []Rule
		append      []Rule
		withDefault bool
	}

	ClassifierOpt func(*classifierOptions)
)

// WithRules adds rules that are checked before the default rules
func WithRules(rules ...Rule) ClassifierOpt {
	return func(opts *classifierOptions) {
		opts.prepend = append(opts.prepend, rules...)
	}
}

// WithAdditionalRules adds rules that are checked after the default rules
func WithAdditionalRules(rules ...Rule) ClassifierOpt {
	return func(opts *classifierOptions) {
		opts.append = append(opts.append, rules...)
	}
}

// WithoutDefaultRules leaves only the rules given through WithRules and WithAdditionalRules
func WithoutDefaultRules() ClassifierOpt {
	return func(opts *classifierOptions) {
		opts.withDefault = false
	}
}

// Classifier checks its rules in order. The first matching rule wins. Text that matches no rule is OTHER_ERROR.
type Classifier struct {
	defaultSchema string
	rules         []Rule
}

func NewClassifier(defaultSchema string, opts ...ClassifierOpt) *Classifier {
	options := classifierOptions{withDefault: true}
	for _, opt := range opts {
		opt(&options)
	}
	rules := append([]Rule(nil), options.prepend...)
	if options.withDefault {
		rules = append(rules, DefaultRules()...)
	}
	rules = append(rules, options.append...)
	return &Classifier{
		defaultSchema: defaultSchema,
		rules:         rules,
	}
}

func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the kind of the failure and, for missing objects, their qualified names, e.g., "DBO.ORDERS".
// Unqualified names take the classifier's default schema.
func (c *Classifier) Classify(errText string) (DependencyKind, []string) {
	for _, rule := range c.rules {
		matches := rule.Pattern.FindAllStringSubmatch(errText, -1)
		if len(matches) == 0 {
			continue
		}
		if !rule.Kind.IsMissing() {
			return rule.Kind, nil
		}
		return rule.Kind, c.names(rule, matches)
	}
	return OtherError, nil
}

func (c *Classifier) names(rule Rule, matches [][]string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range matches {
		raw := m[rule.nameGroup]
		parts, _ := sqlscan.QualifiedName(sqlscan.Significant(sqlscan.Tokenize(raw)), 0)
		if len(parts) == 0 {
			continue
		}
		schema, name := sqlscan.SplitSchema(parts, c.defaultSchema)
		if rule.schemaGroup >= 0 && m[rule.schemaGroup] != "" && len(parts) == 1 {
			schema = m[rule.schemaGroup]
		}
		key := sqlident.QualifiedKey(schema, name)
		if !seen[key] {
			seen[key] = true
			names = append(names, key)
		}
	}
	return names
}
