// Package tempdb creates throwaway Postgres databases. A migration can be rehearsed against one before it touches its
// real target.
package tempdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"github.com/stripe/schema-planner/internal/sqlident"
	"github.com/stripe/schema-planner/internal/util"
	"github.com/stripe/schema-planner/pkg/log"
)

const (
	DefaultOnInstanceDbPrefix       = "schemaplanner_rehearsal_"
	DefaultOnInstanceMetadataSchema = "schemaplanner_metadata"
	DefaultOnInstanceMetadataTable  = "rehearsal"
)

type (
	Dropper func(ctx context.Context) error

	// Factory creates temporary databases. They might live on the target server itself.
	Factory interface {
		// Create creates a temporary database, labeled with the run that asked for it. Always call the Dropper to drop
		// the database and close its connections.
		Create(ctx context.Context, label string) (db *sql.DB, dropper Dropper, err error)

		io.Closer
	}
)

type (
	onInstanceFactoryOptions struct {
		dbPrefix       string
		metadataSchema string
		metadataTable  string
		logger         log.Logger
		rootDatabase   string
	}

	OnInstanceFactoryOpt func(*onInstanceFactoryOptions)
)

// WithLogger sets the logger for the factory. If not set, a SimpleLogger will be used
func WithLogger(logger log.Logger) OnInstanceFactoryOpt {
	return func(opts *onInstanceFactoryOptions) {
		opts.logger = logger
	}
}

// WithDbPrefix sets the prefix of the temporary database names. It must be a simple identifier.
func WithDbPrefix(prefix string) OnInstanceFactoryOpt {
	return func(opts *onInstanceFactoryOptions) {
		opts.dbPrefix = prefix
	}
}

func WithMetadataSchema(schema string) OnInstanceFactoryOpt {
	return func(opts *onInstanceFactoryOptions) {
		opts.metadataSchema = schema
	}
}

func WithMetadataTable(table string) OnInstanceFactoryOpt {
	return func(opts *onInstanceFactoryOptions) {
		opts.metadataTable = table
	}
}

// WithRootDatabase sets the database connected to while creating and dropping temporary databases
func WithRootDatabase(db string) OnInstanceFactoryOpt {
	return func(opts *onInstanceFactoryOptions) {
		opts.rootDatabase = db
	}
}

type (
	CreateConnForDbFn func(ctx context.Context, dbName string) (*sql.DB, error)

	onInstanceFactory struct {
		rootDb          *sql.DB
		createConnForDb CreateConnForDbFn
		options         onInstanceFactoryOptions
	}
)

// NewOnInstanceFactory creates temporary databases on the Postgres instance reached through createConnForDb. The root
// database is connected to first, and every temporary database is created and dropped from that connection.
//
// A rehearsal that crashes leaves its database behind. Every temporary database has a metadata table holding its
// creation time and label, so leftovers can be found by prefix and dropped.
func NewOnInstanceFactory(ctx context.Context, createConnForDb CreateConnForDbFn, opts ...OnInstanceFactoryOpt) (Factory, error) {
	options := onInstanceFactoryOptions{
		dbPrefix:       DefaultOnInstanceDbPrefix,
		metadataSchema: DefaultOnInstanceMetadataSchema,
		metadataTable:  DefaultOnInstanceMetadataTable,
		rootDatabase:   "postgres",
		logger:         log.SimpleLogger(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if !sqlident.IsSimpleIdentifier(options.dbPrefix) {
		return nil, fmt.Errorf("dbPrefix (%s) must be a simple Postgres identifier matching the following regex: %s", options.dbPrefix, sqlident.SimpleIdentifierRegex)
	}

	rootDb, err := createConnForDb(ctx, options.rootDatabase)
	if err != nil {
		return nil, fmt.Errorf("connecting to root database %s: %w", options.rootDatabase, err)
	}
	if err := assertConnPoolIsOnExpectedDatabase(ctx, rootDb, options.rootDatabase); err != nil {
		_ = rootDb.Close()
		return nil, fmt.Errorf("assertConnPoolIsOnExpectedDatabase: %w", err)
	}

	return &onInstanceFactory{
		rootDb:          rootDb,
		createConnForDb: createConnForDb,
		options:         options,
	}, nil
}

func (o *onInstanceFactory) Close() error {
	return o.rootDb.Close()
}

func (o *onInstanceFactory) Create(ctx context.Context, label string) (_ *sql.DB, _ Dropper, retErr error) {
	dbUUID, err := uuid.NewRandom()
	if err != nil {
		return nil, nil, fmt.Errorf("generating database name: %w", err)
	}
	tempDbName := o.options.dbPrefix + strings.ReplaceAll(dbUUID.String(), "-", "_")
	if _, err = o.rootDb.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s;", tempDbName)); err != nil {
		return nil, nil, fmt.Errorf("creating database %s: %w", tempDbName, err)
	}
	defer util.CleanupOnErr(&retErr, func() error {
		if err := o.dropTempDatabase(ctx, tempDbName); err != nil {
			return fmt.Errorf("dropping temporary database %s: %w", tempDbName, err)
		}
		return nil
	})

	tempDbConn, err := o.createConnForDb(ctx, tempDbName)
	if err != nil {
		return nil, nil, err
	}
	// Closed before the drop runs, since Postgres refuses to drop a database with open connections
	defer util.CleanupOnErr(&retErr, tempDbConn.Close)
	if err := assertConnPoolIsOnExpectedDatabase(ctx, tempDbConn, tempDbName); err != nil {
		return nil, nil, fmt.Errorf("assertConnPoolIsOnExpectedDatabase: %w", err)
	}

	sanitizedSchemaName := pgx.Identifier{o.options.metadataSchema}.Sanitize()
	sanitizedTableName := pgx.Identifier{o.options.metadataSchema, o.options.metadataTable}.Sanitize()
	createMetadataStmts := fmt.Sprintf(`
		CREATE SCHEMA %s
			CREATE TABLE %s(
				db_created_at TIMESTAMPTZ NOT NULL DEFAULT current_timestamp,
				label TEXT NOT NULL
			);
	`, sanitizedSchemaName, sanitizedTableName)
	if _, err := tempDbConn.ExecContext(ctx, createMetadataStmts); err != nil {
		return nil, nil, fmt.Errorf("creating metadata table: %w", err)
	}
	if _, err := tempDbConn.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (label) VALUES ($1);", sanitizedTableName), label); err != nil {
		return nil, nil, fmt.Errorf("recording metadata: %w", err)
	}

	o.options.logger.Infof("created temporary database %s for %q", tempDbName, label)
	return tempDbConn, func(ctx context.Context) error {
		_ = tempDbConn.Close()
		if err := o.dropTempDatabase(ctx, tempDbName); err != nil {
			return err
		}
		o.options.logger.Infof("dropped temporary database %s", tempDbName)
		return nil
	}, nil
}

// assertConnPoolIsOnExpectedDatabase checks that the CreateConnForDbFn honors the database name it was given
func assertConnPoolIsOnExpectedDatabase(ctx context.Context, connPool *sql.DB, expectedDatabase string) error {
	var dbName string
	if err := connPool.QueryRowContext(ctx, "SELECT current_database();").Scan(&dbName); err != nil {
		return err
	}
	if dbName != expectedDatabase {
		return fmt.Errorf("connection pool is on database %s, expected %s", dbName, expectedDatabase)
	}

	return nil
}

func (o *onInstanceFactory) dropTempDatabase(ctx context.Context, dbName string) error {
	if !strings.HasPrefix(dbName, o.options.dbPrefix) {
		return fmt.Errorf("drop non-temporary database: %s", dbName)
	}
	_, err := o.rootDb.ExecContext(ctx, fmt.Sprintf("DROP DATABASE %s;", dbName))
	return err
}
