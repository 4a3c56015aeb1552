// Package migrate drives a schema migration end to end: foreign keys are lifted out of the table definitions, every
// object is attempted against the target until the scheduler converges, and the deferred foreign keys are re-added
// last.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/kr/pretty"

	"github.com/stripe/schema-planner/internal/concurrent"
	"github.com/stripe/schema-planner/internal/set"
	"github.com/stripe/schema-planner/pkg/classify"
	"github.com/stripe/schema-planner/pkg/constraint"
	"github.com/stripe/schema-planner/pkg/log"
	"github.com/stripe/schema-planner/pkg/scheduler"
)

const (
	DefaultDefaultSchema         = "dbo"
	DefaultConstraintPasses      = 2
	DefaultExtractionConcurrency = 8
)

type (
	statementTimeoutModifier struct {
		regex   *regexp.Regexp
		timeout time.Duration
	}

	migratorOptions struct {
		defaultSchema         string
		maxCycles             int
		maxAttempts           int
		converter             Converter
		repairer              Repairer
		classifierOpts        []classify.ClassifierOpt
		dialect               constraint.Dialect
		constraintPasses      int
		planOnly              bool
		extractionConcurrency int64
		timeoutModifiers      []statementTimeoutModifier
		logger                log.Logger
	}

	Opt func(*migratorOptions)
)

// WithDefaultSchema sets the schema of unqualified names. Defaults to DefaultDefaultSchema.
func WithDefaultSchema(schema string) Opt {
	return func(opts *migratorOptions) {
		opts.defaultSchema = schema
	}
}

// WithMaxCycles bounds the scheduler's retry cycles
func WithMaxCycles(n int) Opt {
	return func(opts *migratorOptions) {
		opts.maxCycles = n
	}
}

// WithMaxAttempts sets the attempt budget of every object
func WithMaxAttempts(n int) Opt {
	return func(opts *migratorOptions) {
		opts.maxAttempts = n
	}
}

// WithConverter sets the converter applied to every non-table object before it is registered. Without one, objects
// are executed as written.
func WithConverter(c Converter) Opt {
	return func(opts *migratorOptions) {
		opts.converter = c
	}
}

// WithRepairer enables one repair per object: the first time an attempt fails with a syntax error, the repaired code
// is executed within the same attempt.
func WithRepairer(r Repairer) Opt {
	return func(opts *migratorOptions) {
		opts.repairer = r
	}
}

func WithClassifierOpts(classifierOpts ...classify.ClassifierOpt) Opt {
	return func(opts *migratorOptions) {
		opts.classifierOpts = append(opts.classifierOpts, classifierOpts...)
	}
}

// WithDialect sets the dialect the deferred foreign keys are rendered in. Defaults to constraint.DialectBracket.
func WithDialect(d constraint.Dialect) Opt {
	return func(opts *migratorOptions) {
		opts.dialect = d
	}
}

// WithConstraintPasses bounds how many times a failing deferred foreign key is attempted. Defaults to
// DefaultConstraintPasses.
func WithConstraintPasses(n int) Opt {
	return func(opts *migratorOptions) {
		opts.constraintPasses = n
	}
}

// WithPlanOnly skips applying the deferred foreign keys. The plan is still built and returned.
func WithPlanOnly(planOnly bool) Opt {
	return func(opts *migratorOptions) {
		opts.planOnly = planOnly
	}
}

// WithExtractionConcurrency bounds the number of table definitions stripped in parallel
func WithExtractionConcurrency(n int64) Opt {
	return func(opts *migratorOptions) {
		opts.extractionConcurrency = n
	}
}

// WithStatementTimeoutModifier sets timeout on every deferred foreign key statement matching regex. Later modifiers
// take precedence.
func WithStatementTimeoutModifier(regex *regexp.Regexp, timeout time.Duration) Opt {
	return func(opts *migratorOptions) {
		opts.timeoutModifiers = append(opts.timeoutModifiers, statementTimeoutModifier{regex: regex, timeout: timeout})
	}
}

func WithLogger(logger log.Logger) Opt {
	return func(opts *migratorOptions) {
		opts.logger = logger
	}
}

type (
	// ConstraintResult is the outcome of applying one deferred foreign key
	ConstraintResult struct {
		Statement constraint.Statement
		Applied   bool
		Attempts  int
		LastError string
	}

	Result struct {
		// RunID identifies the run in the outputs
		RunID  string
		Report scheduler.Report
		Plan   constraint.Plan
		// ConstraintResults is empty when the plan was not applied
		ConstraintResults          []ConstraintResult
		ConstraintValidationErrors []constraint.ValidationError
		PlanOnly                   bool

		scheduler *scheduler.Scheduler
	}
)

// AllSucceeded reports whether every object was created
func (r Result) AllSucceeded() bool {
	return r.Report.AllSucceeded()
}

// FailedConstraints returns the deferred foreign keys that were attempted and never applied
func (r Result) FailedConstraints() []ConstraintResult {
	var failed []ConstraintResult
	for _, c := range r.ConstraintResults {
		if !c.Applied {
			failed = append(failed, c)
		}
	}
	return failed
}

type Migrator struct {
	executor Executor
	opts     migratorOptions
}

func NewMigrator(executor Executor, opts ...Opt) *Migrator {
	options := migratorOptions{
		defaultSchema:         DefaultDefaultSchema,
		maxCycles:             scheduler.DefaultMaxCycles,
		maxAttempts:           scheduler.DefaultMaxAttempts,
		converter:             identityConverter{},
		dialect:               constraint.DialectBracket,
		constraintPasses:      DefaultConstraintPasses,
		extractionConcurrency: DefaultExtractionConcurrency,
		logger:                log.SimpleLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Migrator{
		executor: executor,
		opts:     options,
	}
}

// Run migrates the sources. Every object and table is registered before anything is executed; a source that cannot
// be registered aborts the run. Afterward, per-object failures never abort the run: they are part of the returned
// Result. If ctx is cancelled, Run stops before the next attempt and returns the partial Result along with the error.
func (m *Migrator) Run(ctx context.Context, sources Sources) (Result, error) {
	runID := uuid.NewString()
	classifier := classify.NewClassifier(m.opts.defaultSchema, m.opts.classifierOpts...)
	sched := scheduler.New(m.opts.defaultSchema,
		scheduler.WithMaxCycles(m.opts.maxCycles),
		scheduler.WithMaxAttempts(m.opts.maxAttempts),
		scheduler.WithClassifier(classifier),
		scheduler.WithLogger(m.opts.logger),
	)
	registry := constraint.NewRegistry(
		constraint.WithDialect(m.opts.dialect),
		constraint.WithLogger(m.opts.logger),
	)

	if err := m.registerTables(ctx, sched, registry, sources.Tables); err != nil {
		return Result{}, err
	}
	if err := m.registerObjects(ctx, sched, sources.Objects); err != nil {
		return Result{}, err
	}

	plan, err := registry.Plan()
	if err != nil {
		return Result{}, fmt.Errorf("building constraint plan: %w", err)
	}
	for _, modifier := range m.opts.timeoutModifiers {
		plan = plan.ApplyStatementTimeoutModifier(modifier.regex, modifier.timeout)
	}
	result := Result{
		RunID:                      runID,
		Plan:                       plan,
		ConstraintValidationErrors: registry.ValidationErrors(),
		PlanOnly:                   m.opts.planOnly,
		scheduler:                  sched,
	}
	m.opts.logger.Infof("run %s: %d objects registered, %d deferred foreign keys", runID, len(sched.Objects()), len(plan.Statements))

	runErr := m.runObjects(ctx, sched, classifier)
	if runErr == nil && !m.opts.planOnly {
		result.ConstraintResults, runErr = m.applyConstraints(ctx, plan)
	}
	result.Report = sched.Report()
	return result, runErr
}

type strippedTable struct {
	source      TableSource
	cleaned     string
	foreignKeys []constraint.ForeignKeyDefinition
	errs        []constraint.ValidationError
}

func (m *Migrator) registerTables(ctx context.Context, sched *scheduler.Scheduler, registry *constraint.Registry, tables []TableSource) error {
	runner := concurrent.NewGoroutineLimiter(m.opts.extractionConcurrency)
	stripped, err := concurrent.Map(ctx, runner, tables, func(table TableSource) (strippedTable, error) {
		cleaned, fks, errs := constraint.Strip(table.Definition, table.Name, table.Schema)
		return strippedTable{source: table, cleaned: cleaned, foreignKeys: fks, errs: errs}, nil
	})
	if err != nil {
		return fmt.Errorf("extracting foreign keys: %w", err)
	}

	for _, t := range stripped {
		if err := sched.Register(scheduler.MigrationObject{
			Name:       t.source.Name,
			Schema:     t.source.Schema,
			Type:       scheduler.ObjectTypeTable,
			SourceCode: t.source.Definition,
			TargetCode: t.cleaned,
		}); err != nil {
			return fmt.Errorf("registering table from %s: %w", t.source.Path, err)
		}
		registry.RecordValidationErrors(t.errs...)
		if err := registry.Add(constraint.TableKey(t.source.Schema, t.source.Name), t.foreignKeys); err != nil {
			return fmt.Errorf("registering foreign keys from %s: %w", t.source.Path, err)
		}
	}
	return nil
}

func (m *Migrator) registerObjects(ctx context.Context, sched *scheduler.Scheduler, objects []ObjectSource) error {
	for _, o := range objects {
		targetCode, err := m.opts.converter.Convert(ctx, o.Code, o.Name, o.Type)
		if err != nil {
			return fmt.Errorf("converting %s %s from %s: %w", o.Type, o.Name, o.Path, err)
		}
		obj := scheduler.MigrationObject{
			Name:       o.Name,
			Schema:     o.Schema,
			Type:       o.Type,
			SourceCode: o.Code,
			TargetCode: targetCode,
		}
		if err := sched.Register(obj); err != nil {
			return fmt.Errorf("registering %s from %s: %w", o.Type, o.Path, err)
		}
	}
	return nil
}

func (m *Migrator) runObjects(ctx context.Context, sched *scheduler.Scheduler, classifier *classify.Classifier) error {
	repaired := set.NewSet[string]()
	attemptAll := func(objs []scheduler.MigrationObject) error {
		for _, obj := range objs {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := m.attempt(ctx, sched, classifier, repaired, obj); err != nil {
				return err
			}
		}
		return nil
	}

	if err := attemptAll(sched.NextBatch()); err != nil {
		return err
	}
	for sched.NeedsAnotherCycle() {
		sched.StartCycle()
		if err := attemptAll(sched.RetryCandidates()); err != nil {
			return err
		}
	}
	return nil
}

func (m *Migrator) attempt(ctx context.Context, sched *scheduler.Scheduler, classifier *classify.Classifier, repaired *set.Set[string], obj scheduler.MigrationObject) error {
	execErr := m.executor.Execute(ctx, obj.TargetCode)
	if execErr != nil && m.opts.repairer != nil && !repaired.Has(obj.Key()) {
		if kind, _ := classifier.Classify(execErr.Error()); kind == classify.SyntaxError {
			repaired.Add(obj.Key())
			execErr = m.repairAndExecute(ctx, sched, obj, execErr)
		}
	}
	if err := ctx.Err(); err != nil {
		// The attempt was cut short; it is not recorded.
		return err
	}

	var errText string
	if execErr != nil {
		errText = execErr.Error()
	}
	if err := sched.RecordResult(obj.Key(), execErr == nil, errText); err != nil {
		return fmt.Errorf("recording result of %s: %w", obj, err)
	}
	return nil
}

func (m *Migrator) repairAndExecute(ctx context.Context, sched *scheduler.Scheduler, obj scheduler.MigrationObject, execErr error) error {
	fixed, err := m.opts.repairer.Repair(ctx, obj, execErr.Error())
	if err != nil {
		m.opts.logger.Warnf("repairing %s: %s", obj, err)
		return execErr
	}
	if fixed == "" || fixed == obj.TargetCode {
		return execErr
	}
	if err := sched.SetTargetCode(obj.Key(), fixed); err != nil {
		return errors.Join(execErr, err)
	}
	m.opts.logger.Infof("%s repaired, executing the repaired definition", obj)
	return m.executor.Execute(ctx, fixed)
}

// applyConstraints executes the plan in order. Statements failing in one pass are attempted again, in plan order, in
// the next one.
func (m *Migrator) applyConstraints(ctx context.Context, plan constraint.Plan) ([]ConstraintResult, error) {
	results := make([]ConstraintResult, len(plan.Statements))
	var pending []int
	for i, stmt := range plan.Statements {
		results[i].Statement = stmt
		pending = append(pending, i)
	}

	for pass := 1; pass <= m.opts.constraintPasses && len(pending) > 0; pass++ {
		m.opts.logger.Infof("constraint pass %d of %d: %d statement(s)", pass, m.opts.constraintPasses, len(pending))
		var failed []int
		for _, i := range pending {
			if err := ctx.Err(); err != nil {
				return results, err
			}
			err := m.executeStatement(ctx, plan.Statements[i])
			if ctxErr := ctx.Err(); ctxErr != nil {
				return results, ctxErr
			}
			results[i].Attempts++
			if err != nil {
				results[i].LastError = err.Error()
				failed = append(failed, i)
				continue
			}
			results[i].Applied = true
			results[i].LastError = ""
		}
		pending = failed
	}

	for _, i := range pending {
		m.opts.logger.Warnf("foreign key not applied after %d attempt(s): %s\n%# v",
			results[i].Attempts, results[i].LastError, pretty.Formatter(results[i].Statement.Definition))
	}
	return results, nil
}

func (m *Migrator) executeStatement(ctx context.Context, stmt constraint.Statement) error {
	if stmt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, stmt.Timeout)
		defer cancel()
	}
	return m.executor.Execute(ctx, stmt.ToSQL())
}
