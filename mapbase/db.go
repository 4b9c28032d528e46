// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

// Package mapbase implements the storage and edit engine for map elements
// and changesets.
package mapbase

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"osmbase.io/osmbase/private/migrate"
	"osmbase.io/osmbase/shared/dbutil"
	"osmbase.io/osmbase/shared/dbutil/pgutil"
	"osmbase.io/osmbase/shared/tagsql"
)

var (
	mon = monkit.Package()
)

// Config is a configuration struct for the DB.
type Config struct {
	ApplicationName string        `help:"application name to report to the database" default:"osmbase"`
	MaxOpenConns    int           `help:"maximum open database connections" default:"10"`
	MaxIdleConns    int           `help:"maximum idle database connections" default:"5"`
	RetryBudget     time.Duration `help:"wall-clock budget of the optimistic upload retry loop" default:"30s"`
}

// DB implements the element and changeset store on postgres or cockroach.
type DB struct {
	log     *zap.Logger
	db      tagsql.DB
	connstr string
	impl    dbutil.Implementation
	config  Config

	nowMu sync.Mutex
	now   func() time.Time
	rngFn func() float64
}

// Open opens a connection to the database.
func Open(ctx context.Context, log *zap.Logger, connstr string, config Config) (*DB, error) {
	driverName, source, impl, err := dbutil.SplitConnStr(connstr)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	source, err = pgutil.CheckApplicationName(source, config.ApplicationName)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	rawdb, err := tagsql.Open(ctx, driverName, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if config.MaxOpenConns > 0 {
		rawdb.SetMaxOpenConns(config.MaxOpenConns)
	}
	if config.MaxIdleConns > 0 {
		rawdb.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.RetryBudget <= 0 {
		config.RetryBudget = DefaultRetryBudget
	}

	return &DB{
		log:     log,
		db:      rawdb,
		connstr: connstr,
		impl:    impl,
		config:  config,
		now:     time.Now,
		rngFn:   rand.Float64,
	}, nil
}

// Implementation returns the db implementation.
func (db *DB) Implementation() dbutil.Implementation { return db.impl }

// UnderlyingTagSQL returns the underlying database connection.
func (db *DB) UnderlyingTagSQL() tagsql.DB { return db.db }

// Ping checks whether the connection to the database is still alive.
func (db *DB) Ping(ctx context.Context) error {
	return Error.Wrap(db.db.PingContext(ctx))
}

// Close closes the connection to the database.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

// Now returns the current database-facing time.
func (db *DB) Now() time.Time {
	db.nowMu.Lock()
	defer db.nowMu.Unlock()
	return db.now().UTC()
}

// TestingSetNow allows tests to replace the clock used by write operations.
func (db *DB) TestingSetNow(now func() time.Time) {
	db.nowMu.Lock()
	defer db.nowMu.Unlock()
	db.now = now
}

// TestingSetRand allows tests to replace the random source used by the
// retry backoff.
func (db *DB) TestingSetRand(fn func() float64) {
	db.rngFn = fn
}

// MigrateToLatest migrates the database to the latest version.
func (db *DB) MigrateToLatest(ctx context.Context) error {
	return db.PostgresMigration().Run(ctx, db.log.Named("migrate"))
}

// CheckVersion checks the database is at the latest migration version.
func (db *DB) CheckVersion(ctx context.Context) error {
	return db.PostgresMigration().ValidateVersions(ctx, db.log)
}

// PostgresMigration returns steps needed for migrating the database.
func (db *DB) PostgresMigration() *migrate.Migration {
	return &migrate.Migration{
		Table: "mapbase_versions",
		Steps: []*migrate.Step{
			{
				DB:          db.db,
				Description: "initial setup",
				Version:     1,
				Action: migrate.SQL{
					`CREATE TABLE changesets (
						id         BIGSERIAL    NOT NULL,
						user_id    BIGINT       NOT NULL,
						tags       JSONB        NOT NULL DEFAULT '{}',
						created_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
						updated_at TIMESTAMPTZ  NOT NULL DEFAULT now(),
						closed_at  TIMESTAMPTZ,
						size       BIGINT       NOT NULL DEFAULT 0,
						num_create BIGINT       NOT NULL DEFAULT 0,
						num_modify BIGINT       NOT NULL DEFAULT 0,
						num_delete BIGINT       NOT NULL DEFAULT 0,

						PRIMARY KEY (id)
					)`,
					`CREATE INDEX changesets_user_id_idx ON changesets (user_id, id DESC)`,
					`CREATE INDEX changesets_created_at_idx ON changesets (created_at)`,
					`CREATE INDEX changesets_closed_at_idx ON changesets (closed_at)`,

					`CREATE TABLE elements (
						sequence_id  BIGINT       NOT NULL,
						created_at   TIMESTAMPTZ  NOT NULL,
						changeset_id BIGINT       NOT NULL,
						typed_id     BIGINT       NOT NULL,
						version      BIGINT       NOT NULL,
						latest       BOOLEAN      NOT NULL,
						visible      BOOLEAN      NOT NULL,
						tags         JSONB,
						lon          DOUBLE PRECISION,
						lat          DOUBLE PRECISION,
						members      BIGINT[],
						member_roles JSONB,

						PRIMARY KEY (sequence_id)
					)`,
					`CREATE UNIQUE INDEX elements_typed_id_version_idx ON elements (typed_id, version)`,
					`CREATE UNIQUE INDEX elements_latest_idx ON elements (typed_id) WHERE latest`,
					`CREATE INDEX elements_changeset_id_idx ON elements (changeset_id, sequence_id)`,
					`CREATE INDEX elements_point_idx ON elements (lon, lat) WHERE latest AND visible AND lon IS NOT NULL`,

					`CREATE TABLE changeset_bounds (
						changeset_id BIGINT           NOT NULL,
						ordinal      INT              NOT NULL,
						min_lon      DOUBLE PRECISION NOT NULL,
						min_lat      DOUBLE PRECISION NOT NULL,
						max_lon      DOUBLE PRECISION NOT NULL,
						max_lat      DOUBLE PRECISION NOT NULL,

						PRIMARY KEY (changeset_id, ordinal)
					)`,
				},
			},
			{
				DB:          db.db,
				Description: "changeset discussion",
				Version:     2,
				Action: migrate.SQL{
					`CREATE TABLE changeset_comments (
						id           BIGSERIAL   NOT NULL,
						changeset_id BIGINT      NOT NULL,
						user_id      BIGINT      NOT NULL,
						body         TEXT        NOT NULL,
						created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
						hidden       BOOLEAN     NOT NULL DEFAULT false,

						PRIMARY KEY (id)
					)`,
					`CREATE INDEX changeset_comments_changeset_id_idx ON changeset_comments (changeset_id, id)`,

					`CREATE TABLE changeset_subscriptions (
						changeset_id BIGINT NOT NULL,
						user_id      BIGINT NOT NULL,

						PRIMARY KEY (changeset_id, user_id)
					)`,
				},
			},
		},
	}
}

// TestingDeleteAll deletes all data from the database.
func (db *DB) TestingDeleteAll(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM elements;
		DELETE FROM changesets;
		DELETE FROM changeset_bounds;
		DELETE FROM changeset_comments;
		DELETE FROM changeset_subscriptions;
	`)
	return Error.Wrap(err)
}
