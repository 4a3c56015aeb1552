// Package scheduler discovers the creation order of dependent schema objects by trial: each failed attempt is
// classified, objects waiting on other managed objects are skipped, and skipped objects are retried in bounded cycles
// once what they wait on exists.
//
// The scheduler never loops on its own. A caller drives it:
//
//	for _, obj := range s.NextBatch() {
//		s.RecordResult(obj.Key(), attempt(obj))
//	}
//	for s.NeedsAnotherCycle() {
//		s.StartCycle()
//		for _, obj := range s.RetryCandidates() {
//			s.RecordResult(obj.Key(), attempt(obj))
//		}
//	}
package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/stripe/schema-planner/internal/set"
	"github.com/stripe/schema-planner/pkg/classify"
	"github.com/stripe/schema-planner/pkg/log"
)

var (
	ErrInvalidObject   = errors.New("invalid object")
	ErrDuplicateObject = errors.New("object already registered")
	ErrUnknownObject   = errors.New("unknown object")
	ErrTerminalObject  = errors.New("object already reached a terminal status")
)

const (
	DefaultMaxCycles   = 3
	DefaultMaxAttempts = 5
)

// Classifier classifies the error text of a failed attempt. *classify.Classifier implements it.
type Classifier interface {
	Classify(errText string) (classify.DependencyKind, []string)
}

type (
	schedulerOptions struct {
		maxCycles   int
		maxAttempts int
		classifier  Classifier
		logger      log.Logger
	}

	Opt func(*schedulerOptions)
)

// WithMaxCycles bounds the number of retry cycles. Defaults to DefaultMaxCycles.
func WithMaxCycles(n int) Opt {
	return func(opts *schedulerOptions) {
		opts.maxCycles = n
	}
}

// WithMaxAttempts sets the attempt budget of objects registered without one. Defaults to DefaultMaxAttempts.
func WithMaxAttempts(n int) Opt {
	return func(opts *schedulerOptions) {
		opts.maxAttempts = n
	}
}

// WithClassifier replaces the default classifier, which uses classify.DefaultRules
func WithClassifier(c Classifier) Opt {
	return func(opts *schedulerOptions) {
		opts.classifier = c
	}
}

func WithLogger(logger log.Logger) Opt {
	return func(opts *schedulerOptions) {
		opts.logger = logger
	}
}

// Scheduler owns the state machine of every registered object:
//
//	PENDING -> SUCCESS | FAILED | SKIPPED
//	SKIPPED -> SUCCESS | FAILED | SKIPPED (when retried)
//
// SUCCESS and FAILED are terminal. It is not safe for concurrent use.
type Scheduler struct {
	defaultSchema string
	opts          schedulerOptions

	objects          map[string]*MigrationObject
	migrated         *set.Set[string]
	currentCycle     int
	validationErrors []string
}

// New creates a scheduler. Objects registered without a schema, and unqualified names reported by the classifier, are
// placed in defaultSchema.
func New(defaultSchema string, opts ...Opt) *Scheduler {
	options := schedulerOptions{
		maxCycles:   DefaultMaxCycles,
		maxAttempts: DefaultMaxAttempts,
		logger:      log.SimpleLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.classifier == nil {
		options.classifier = classify.NewClassifier(defaultSchema)
	}
	return &Scheduler{
		defaultSchema: defaultSchema,
		opts:          options,
		objects:       make(map[string]*MigrationObject),
		migrated:      set.NewSet[string](),
	}
}

// Register adds a PENDING object. Objects with an empty name or empty source code, or of an unknown type, are rejected
// with ErrInvalidObject and recorded as validation errors.
func (s *Scheduler) Register(obj MigrationObject) error {
	var reasons []string
	if strings.TrimSpace(obj.Name) == "" {
		reasons = append(reasons, "empty name")
	}
	if strings.TrimSpace(obj.SourceCode) == "" {
		reasons = append(reasons, "empty source code")
	}
	if _, ok := objectTypePriority[obj.Type]; !ok {
		reasons = append(reasons, fmt.Sprintf("unknown object type %q", obj.Type))
	}
	if strings.TrimSpace(obj.Schema) == "" {
		obj.Schema = s.defaultSchema
	}
	if len(reasons) > 0 {
		err := fmt.Errorf("%w %s: %s", ErrInvalidObject, obj.Key(), strings.Join(reasons, ", "))
		s.validationErrors = append(s.validationErrors, err.Error())
		return err
	}
	if existing, ok := s.objects[obj.Key()]; ok {
		err := fmt.Errorf("%w: %s conflicts with %s", ErrDuplicateObject, obj, existing)
		s.validationErrors = append(s.validationErrors, err.Error())
		return err
	}

	if obj.TargetCode == "" {
		obj.TargetCode = obj.SourceCode
	}
	if obj.MaxAttempts <= 0 {
		obj.MaxAttempts = s.opts.maxAttempts
	}
	obj.Status = StatusPending
	obj.AttemptCount = 0
	obj.Dependencies = nil
	obj.DependencyKind = ""
	obj.LastError = ""
	s.objects[obj.Key()] = &obj
	return nil
}

// Get returns a copy of the object registered under key
func (s *Scheduler) Get(key string) (MigrationObject, bool) {
	obj, ok := s.objects[key]
	if !ok {
		return MigrationObject{}, false
	}
	return obj.clone(), true
}

// SetTargetCode replaces the code executed on the object's next attempt, e.g., after a repair
func (s *Scheduler) SetTargetCode(key, targetCode string) error {
	obj, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, key)
	}
	if obj.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalObject, key, obj.Status)
	}
	obj.TargetCode = targetCode
	return nil
}

// NextBatch returns every PENDING object, tables first, then views, functions, procedures, triggers and packages.
// Within a type, objects are ordered by schema and name.
func (s *Scheduler) NextBatch() []MigrationObject {
	return s.collect(func(obj *MigrationObject) bool {
		return obj.Status == StatusPending
	})
}

// RecordResult records the outcome of one attempt of the object. A failure is classified: an object reporting missing
// objects that this scheduler manages and has not created yet is SKIPPED, waiting on them. Any other failure is
// FAILED.
func (s *Scheduler) RecordResult(key string, success bool, errText string) error {
	obj, ok := s.objects[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObject, key)
	}
	if obj.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalObject, key, obj.Status)
	}

	obj.AttemptCount++
	if success {
		obj.Status = StatusSuccess
		obj.Dependencies = nil
		obj.DependencyKind = ""
		obj.LastError = ""
		s.migrated.Add(key)
		s.opts.logger.Infof("%s created (attempt %d)", obj, obj.AttemptCount)
		return nil
	}

	kind, names := s.opts.classifier.Classify(errText)
	obj.DependencyKind = kind
	obj.LastError = errText

	var unresolved []string
	if kind.IsMissing() {
		for _, name := range names {
			if _, managed := s.objects[name]; !managed || name == key {
				continue
			}
			if !s.migrated.Has(name) {
				unresolved = append(unresolved, name)
			}
		}
	}
	if len(unresolved) > 0 {
		sort.Strings(unresolved)
		obj.Status = StatusSkipped
		obj.Dependencies = unresolved
		s.opts.logger.Warnf("%s skipped (%s), waiting on %s", obj, kind, strings.Join(unresolved, ", "))
		return nil
	}

	obj.Status = StatusFailed
	obj.Dependencies = names
	s.opts.logger.Warnf("%s failed (%s): %s", obj, kind, truncate(errText, maxErrorLength))
	return nil
}

// RetryCandidates returns the SKIPPED objects whose dependencies have all been created and that have attempts left
func (s *Scheduler) RetryCandidates() []MigrationObject {
	return s.collect(func(obj *MigrationObject) bool {
		if obj.Status != StatusSkipped || obj.AttemptCount >= obj.MaxAttempts {
			return false
		}
		return len(s.migrated.Missing(obj.Dependencies)) == 0
	})
}

// NeedsAnotherCycle reports whether the cycle budget allows another cycle and some SKIPPED object with attempts left
// has at least one dependency created, or none recorded
func (s *Scheduler) NeedsAnotherCycle() bool {
	if s.currentCycle >= s.opts.maxCycles {
		return false
	}
	for _, obj := range s.objects {
		if obj.Status != StatusSkipped || obj.AttemptCount >= obj.MaxAttempts {
			continue
		}
		if len(obj.Dependencies) == 0 {
			return true
		}
		for _, dep := range obj.Dependencies {
			if s.migrated.Has(dep) {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) StartCycle() {
	s.currentCycle++
	s.opts.logger.Infof("starting retry cycle %d of %d", s.currentCycle, s.opts.maxCycles)
}

func (s *Scheduler) CurrentCycle() int {
	return s.currentCycle
}

func (s *Scheduler) MaxCycles() int {
	return s.opts.maxCycles
}

func (s *Scheduler) ValidationErrors() []string {
	return append([]string(nil), s.validationErrors...)
}

// Objects returns a copy of every registered object, in NextBatch order
func (s *Scheduler) Objects() []MigrationObject {
	return s.collect(func(*MigrationObject) bool {
		return true
	})
}

func (s *Scheduler) collect(include func(*MigrationObject) bool) []MigrationObject {
	var selected []*MigrationObject
	for _, obj := range s.objects {
		if include(obj) {
			selected = append(selected, obj)
		}
	}
	sort.Slice(selected, func(i, j int) bool {
		return less(selected[i], selected[j])
	})
	var out []MigrationObject
	for _, obj := range selected {
		out = append(out, obj.clone())
	}
	return out
}
