package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	_ "modernc.org/sqlite"

	"github.com/stripe/schema-planner/internal/util"
)

type Driver string

const (
	DriverPostgres Driver = "pgx"
	DriverMySQL    Driver = "mysql"
	DriverSQLite   Driver = "sqlite"
)

// ParseDriver parses a driver name. "postgres" is accepted for pgx.
func ParseDriver(name string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pgx", "postgres", "postgresql":
		return DriverPostgres, nil
	case "mysql":
		return DriverMySQL, nil
	case "sqlite", "sqlite3":
		return DriverSQLite, nil
	default:
		return "", fmt.Errorf("unknown driver %q: expected one of pgx, mysql, sqlite", name)
	}
}

// Open opens a connection pool for the driver and pings it
func Open(ctx context.Context, driver Driver, dsn string) (_ *sql.DB, retErr error) {
	var db *sql.DB
	switch driver {
	case DriverPostgres:
		config, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, fmt.Errorf("could not parse connection string: %w", err)
		}
		db = OpenPostgres(config)
	case DriverMySQL:
		config, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("could not parse connection string: %w", err)
		}
		connector, err := mysql.NewConnector(config)
		if err != nil {
			return nil, fmt.Errorf("creating mysql connector: %w", err)
		}
		db = sql.OpenDB(connector)
	case DriverSQLite:
		var err error
		if db, err = sql.Open(string(DriverSQLite), dsn); err != nil {
			return nil, fmt.Errorf("opening sqlite database: %w", err)
		}
		// Every connection to an in-memory database gets its own database
		db.SetMaxOpenConns(1)
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
	defer util.CleanupOnErr(&retErr, db.Close)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging %s database: %w", driver, err)
	}
	return db, nil
}

// OpenPostgres opens a connection pool using the provided pgx.ConnConfig. The pool is not pinged.
func OpenPostgres(config *pgx.ConnConfig) *sql.DB {
	return stdlib.OpenDB(*config)
}
