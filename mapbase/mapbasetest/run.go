// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

// Package mapbasetest provides a harness for running tests against real
// databases.
package mapbasetest

import (
	"os"
	"strconv"
	"sync/atomic"
	"testing"

	"go.uber.org/zap/zaptest"

	"storj.io/common/testcontext"

	"osmbase.io/osmbase/mapbase"
)

// Database describes a test database target.
type Database struct {
	Name    string
	ConnStr string
}

// Databases returns the databases to run tests against, read from the
// OSM_TEST_POSTGRES and OSM_TEST_COCKROACH environment variables.
func Databases() []Database {
	var databases []Database
	if connstr := os.Getenv("OSM_TEST_POSTGRES"); connstr != "" && connstr != "omit" {
		databases = append(databases, Database{Name: "Postgres", ConnStr: connstr})
	}
	if connstr := os.Getenv("OSM_TEST_COCKROACH"); connstr != "" && connstr != "omit" {
		databases = append(databases, Database{Name: "Cockroach", ConnStr: connstr})
	}
	return databases
}

var testAppSuffix int64

// Run runs fn against every configured test database, migrated to the
// latest version and emptied.
func Run(t *testing.T, fn func(ctx *testcontext.Context, t *testing.T, db *mapbase.DB)) {
	databases := Databases()
	if len(databases) == 0 {
		t.Skip("database not configured: set OSM_TEST_POSTGRES or OSM_TEST_COCKROACH")
	}

	for _, dbinfo := range databases {
		dbinfo := dbinfo
		t.Run(dbinfo.Name, func(t *testing.T) {
			ctx := testcontext.New(t)
			defer ctx.Cleanup()

			config := mapbase.Config{
				ApplicationName: "test-" + strconv.FormatInt(atomic.AddInt64(&testAppSuffix, 1), 10),
			}
			db, err := mapbase.Open(ctx, zaptest.NewLogger(t), dbinfo.ConnStr, config)
			if err != nil {
				t.Fatal(err)
			}
			defer ctx.Check(db.Close)

			if err := db.MigrateToLatest(ctx); err != nil {
				t.Fatal(err)
			}
			if err := db.TestingDeleteAll(ctx); err != nil {
				t.Fatal(err)
			}

			fn(ctx, t, db)
		})
	}
}
