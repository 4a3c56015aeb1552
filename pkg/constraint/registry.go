package constraint

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/kr/pretty"

	"github.com/stripe/schema-planner/internal/set"
	"github.com/stripe/schema-planner/internal/sqlident"
	"github.com/stripe/schema-planner/internal/util"
	"github.com/stripe/schema-planner/pkg/log"
)

var ErrDuplicateTable = errors.New("table already has registered foreign keys")

type (
	registryOptions struct {
		dialect Dialect
		logger  log.Logger
	}

	RegistryOpt func(*registryOptions)
)

// WithDialect sets the dialect used to render the application plan. Defaults to DialectBracket.
func WithDialect(d Dialect) RegistryOpt {
	return func(opts *registryOptions) {
		opts.dialect = d
	}
}

func WithLogger(logger log.Logger) RegistryOpt {
	return func(opts *registryOptions) {
		opts.logger = logger
	}
}

// Registry accumulates the foreign keys lifted out of every table and turns them into an application plan. Definitions
// are never removed once added. It is safe for concurrent use.
type Registry struct {
	opts registryOptions

	mu               sync.Mutex
	byTable          map[string][]ForeignKeyDefinition
	added            map[string][]ForeignKeyDefinition
	validationErrors []ValidationError
}

func NewRegistry(opts ...RegistryOpt) *Registry {
	options := registryOptions{
		dialect: DialectBracket,
		logger:  log.SimpleLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Registry{
		opts:    options,
		byTable: make(map[string][]ForeignKeyDefinition),
		added:   make(map[string][]ForeignKeyDefinition),
	}
}

// Add records the foreign keys of the table identified by tableKey (see TableKey). Invalid definitions and duplicate
// constraint names are kept out of the plan and recorded as validation errors. Adding the same definitions for a table
// twice is a no-op; adding different ones returns ErrDuplicateTable.
func (r *Registry) Add(tableKey string, defs []ForeignKeyDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.added[tableKey]; ok {
		if cmp.Equal(existing, defs, cmpopts.EquateEmpty()) {
			return nil
		}
		return fmt.Errorf("%w: %s\n%s", ErrDuplicateTable, tableKey, strings.Join(pretty.Diff(existing, defs), "\n"))
	}
	r.added[tableKey] = defs

	names := set.NewSet[string]()
	kept := []ForeignKeyDefinition{}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			r.recordValidationError(err.(ValidationError))
			continue
		}
		name := sqlident.Normalize(d.ConstraintName)
		if names.Has(name) {
			r.recordValidationError(ValidationError{
				Table:      tableKey,
				Constraint: d.ConstraintName,
				Reason:     "duplicate constraint name",
			})
			continue
		}
		names.Add(name)
		kept = append(kept, d)
	}
	r.byTable[tableKey] = kept
	return nil
}

// RecordValidationErrors keeps extraction failures alongside the registry's own so they can be reported together
func (r *Registry) RecordValidationErrors(errs ...ValidationError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range errs {
		r.recordValidationError(e)
	}
}

func (r *Registry) recordValidationError(e ValidationError) {
	r.opts.logger.Warnf("%s", e.Error())
	r.validationErrors = append(r.validationErrors, e)
}

func (r *Registry) ValidationErrors() []ValidationError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ValidationError(nil), r.validationErrors...)
}

// ForTable returns the valid definitions registered for the table
func (r *Registry) ForTable(tableKey string) []ForeignKeyDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ForeignKeyDefinition(nil), r.byTable[tableKey]...)
}

// All returns every valid definition, ordered by table key and then in the order they were added
func (r *Registry) All() []ForeignKeyDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.all()
}

func (r *Registry) all() []ForeignKeyDefinition {
	var all []ForeignKeyDefinition
	for _, k := range util.SortedKeys(r.byTable) {
		all = append(all, r.byTable[k]...)
	}
	return all
}

// Plan orders the registered constraints: constraints targeting leaf tables first, then the rest, then the
// self-referencing ones. A leaf table is referenced by another table but references none itself. This ordering is a
// heuristic; it does not guarantee that every statement's target exists when it runs.
func (r *Registry) Plan() (Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	plan := Plan{Statements: r.statements()}
	hash, err := hashDDL(plan.DDL())
	if err != nil {
		return Plan{}, err
	}
	plan.Hash = hash
	return plan, nil
}

// ApplicationPlan renders the plan's statements in application order
func (r *Registry) ApplicationPlan() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Plan{Statements: r.statements()}.DDL()
}

func (r *Registry) statements() []Statement {
	all := r.all()
	referencing := set.NewSet[string]()
	for _, d := range all {
		if !d.IsSelfReferencing() {
			referencing.Add(d.SourceKey())
		}
	}

	var statements []Statement
	for _, d := range all {
		bucket := BucketOther
		switch {
		case d.IsSelfReferencing():
			bucket = BucketSelfReferencing
		case !referencing.Has(d.ReferencedKey()):
			bucket = BucketLeafTarget
		}
		statements = append(statements, Statement{
			DDL:        Render(r.opts.dialect, d),
			Bucket:     bucket,
			Definition: d,
		})
	}
	sort.SliceStable(statements, func(i, j int) bool {
		return statements[i].Bucket < statements[j].Bucket
	})
	return statements
}
