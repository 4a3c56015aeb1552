package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/stripe/schema-planner/internal/config"
	"github.com/stripe/schema-planner/pkg/log"
	"github.com/stripe/schema-planner/pkg/sqldb"
	"github.com/stripe/schema-planner/pkg/tempdb"
)

const rehearsalLabel = "schema-planner migrate"

// openDbWithPgxConfig opens a database connection using the provided pgx.ConnConfig and pings it
func openDbWithPgxConfig(ctx context.Context, config *pgx.ConnConfig) (*sql.DB, error) {
	connPool := sqldb.OpenPostgres(config)
	if err := connPool.PingContext(ctx); err != nil {
		connPool.Close()
		return nil, err
	}
	return connPool, nil
}

// openTarget opens the database the migration runs against. When rehearsing, it is a temporary database on the
// target's instance, dropped by the returned close function.
func openTarget(ctx context.Context, cfg config.Config, logger log.Logger) (*sql.DB, func(), error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, nil, fmt.Errorf("--%s and --%s are required", config.KeyDriver, config.KeyDSN)
	}
	driver, err := sqldb.ParseDriver(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Rehearse {
		db, err := sqldb.Open(ctx, driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Errorf("error closing target database: %v", err)
			}
		}, nil
	}

	if driver != sqldb.DriverPostgres {
		return nil, nil, fmt.Errorf("--%s requires the %s driver, got %s", config.KeyRehearse, sqldb.DriverPostgres, driver)
	}
	connConfig, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("could not parse connection string: %w", err)
	}
	tempDbFactory, err := tempdb.NewOnInstanceFactory(ctx, func(ctx context.Context, dbName string) (*sql.DB, error) {
		copiedConfig := connConfig.Copy()
		copiedConfig.Database = dbName
		return openDbWithPgxConfig(ctx, copiedConfig)
	}, tempdb.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	closeFactory := func() {
		if err := tempDbFactory.Close(); err != nil {
			logger.Errorf("error shutting down temp db factory: %v", err)
		}
	}

	db, dropper, err := tempDbFactory.Create(ctx, rehearsalLabel)
	if err != nil {
		closeFactory()
		return nil, nil, fmt.Errorf("creating rehearsal database: %w", err)
	}
	return db, func() {
		// The run's context might be cancelled by now
		if err := dropper(context.Background()); err != nil {
			logger.Errorf("error dropping rehearsal database: %v", err)
		}
		closeFactory()
	}, nil
}
