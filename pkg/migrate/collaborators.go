package migrate

import (
	"context"

	"github.com/stripe/schema-planner/pkg/scheduler"
)

type (
	// Executor runs one definition against the target. The returned error's text is classified verbatim, so
	// implementations should not decorate driver errors. sqldb.Executor implements it.
	Executor interface {
		Execute(ctx context.Context, ddl string) error
	}

	// Converter turns source-dialect code into target-dialect code
	Converter interface {
		Convert(ctx context.Context, sourceCode, objectName string, objectType scheduler.ObjectType) (string, error)
	}

	// Repairer proposes a corrected definition for an object whose attempt failed with a syntax error
	Repairer interface {
		Repair(ctx context.Context, obj scheduler.MigrationObject, errText string) (string, error)
	}
)

// ConverterFunc adapts a function to a Converter
type ConverterFunc func(ctx context.Context, sourceCode, objectName string, objectType scheduler.ObjectType) (string, error)

func (f ConverterFunc) Convert(ctx context.Context, sourceCode, objectName string, objectType scheduler.ObjectType) (string, error) {
	return f(ctx, sourceCode, objectName, objectType)
}

// RepairerFunc adapts a function to a Repairer
type RepairerFunc func(ctx context.Context, obj scheduler.MigrationObject, errText string) (string, error)

func (f RepairerFunc) Repair(ctx context.Context, obj scheduler.MigrationObject, errText string) (string, error) {
	return f(ctx, obj, errText)
}

type identityConverter struct{}

func (identityConverter) Convert(_ context.Context, sourceCode, _ string, _ scheduler.ObjectType) (string, error) {
	return sourceCode, nil
}
