package sqldb

import (
	"context"
	"database/sql"
	"time"

	"github.com/stripe/schema-planner/internal/sqlscan"
	"github.com/stripe/schema-planner/pkg/log"
)

// Queryable is the part of *sql.DB, *sql.Conn and *sql.Tx an Executor needs. Use *sql.Conn when session state, such
// as the current schema, must carry over from one definition to the next.
type Queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type (
	executorOptions struct {
		statementTimeout time.Duration
		logger           log.Logger
	}

	ExecutorOpt func(*executorOptions)
)

// WithStatementTimeout bounds each batch of a definition. Zero, the default, means no timeout beyond the caller's
// context.
func WithStatementTimeout(timeout time.Duration) ExecutorOpt {
	return func(opts *executorOptions) {
		opts.statementTimeout = timeout
	}
}

func WithLogger(logger log.Logger) ExecutorOpt {
	return func(opts *executorOptions) {
		opts.logger = logger
	}
}

// Executor runs definitions against a database. A definition holding SQL Server style GO separators is executed one
// batch at a time, in order, stopping at the first failing batch.
type Executor struct {
	db   Queryable
	opts executorOptions
}

func NewExecutor(db Queryable, opts ...ExecutorOpt) *Executor {
	options := executorOptions{
		logger: log.SimpleLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Executor{
		db:   db,
		opts: options,
	}
}

// Execute runs the definition. The error is the driver's, unwrapped, so its text can be classified.
func (e *Executor) Execute(ctx context.Context, ddl string) error {
	batches := sqlscan.SplitBatches(ddl)
	for i, batch := range batches {
		if err := e.execBatch(ctx, batch); err != nil {
			if len(batches) > 1 {
				e.opts.logger.Warnf("batch %d of %d failed", i+1, len(batches))
			}
			return err
		}
	}
	return nil
}

func (e *Executor) execBatch(ctx context.Context, batch string) error {
	if e.opts.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.statementTimeout)
		defer cancel()
	}
	_, err := e.db.ExecContext(ctx, batch)
	return err
}
