// Package database opens the member store and applies its migrations through
// a go-persistence-bun client.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-persistence-bun"
	auth "github.com/picklehub/go-club-auth"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MigrationsSource is the embedded directory holding one folder per dialect.
const MigrationsSource = "data/sql/migrations"

const defaultPingTimeout = 5 * time.Second

func init() {
	persistence.RegisterModel((*auth.Member)(nil))
}

// Options selects the driver and connection. It satisfies the persistence
// client configuration.
type Options struct {
	Driver      string
	DSN         string
	Debug       bool
	PingTimeout time.Duration
}

func (o Options) GetDebug() bool { return o.Debug }

func (o Options) GetDriver() string {
	if o.Driver == "" {
		return DriverSQLite
	}
	return o.Driver
}

func (o Options) GetServer() string { return o.DSN }

func (o Options) GetPingTimeout() time.Duration {
	if o.PingTimeout <= 0 {
		return defaultPingTimeout
	}
	return o.PingTimeout
}

func (o Options) GetOtelIdentifier() string { return "" }

// Open connects to the configured database and registers the embedded
// member migrations for every supported dialect.
func Open(opts Options) (*persistence.Client, error) {
	var (
		client *persistence.Client
		err    error
	)

	switch opts.GetDriver() {
	case DriverSQLite:
		sqldb, openErr := sql.Open(sqliteshim.ShimName, opts.DSN)
		if openErr != nil {
			return nil, errors.Wrap(openErr, errors.CategoryInternal, "failed to open sqlite database")
		}
		// in-memory databases are per connection
		sqldb.SetMaxOpenConns(1)
		client, err = persistence.New(opts, sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(opts.DSN)))
		client, err = persistence.New(opts, sqldb, pgdialect.New())
	default:
		return nil, errors.New(fmt.Sprintf("unsupported database driver %q", opts.Driver), errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create persistence client")
	}

	migrationsFS, err := fs.Sub(auth.GetMigrationsFS(), MigrationsSource)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load migrations")
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel(MigrationsSource),
		persistence.WithValidationTargets(DriverPostgres, DriverSQLite),
	)

	return client, nil
}

// Migrate checks that every dialect ships the same scripts and applies the
// pending ones.
func Migrate(ctx context.Context, client *persistence.Client) error {
	if err := client.ValidateDialects(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "migration dialects diverge")
	}
	if err := client.Migrate(ctx); err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "migration failed")
	}
	return nil
}
