// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

// Package dbutil contains helpers for dialect detection and connection
// string handling for the supported SQL backends.
package dbutil

import (
	"strings"

	"github.com/zeebo/errs"
)

// Implementation type of valid DBs.
type Implementation int

const (
	// Unknown is an unknown db type.
	Unknown Implementation = iota
	// Postgres is a PostgreSQL db type.
	Postgres
	// Cockroach is a CockroachDB db type.
	Cockroach
)

// String returns the name of the implementation.
func (impl Implementation) String() string {
	switch impl {
	case Postgres:
		return "postgres"
	case Cockroach:
		return "cockroach"
	}
	return "unknown"
}

// SplitConnStr returns the driver and source name to use with database/sql,
// along with the detected implementation. CockroachDB speaks the postgres
// wire protocol, so a cockroach:// URL maps to the pgx driver with a
// rewritten scheme.
func SplitConnStr(s string) (driver string, source string, implementation Implementation, err error) {
	switch {
	case strings.HasPrefix(s, "postgres://"), strings.HasPrefix(s, "postgresql://"):
		return "pgx", s, Postgres, nil
	case strings.HasPrefix(s, "cockroach://"):
		return "pgx", "postgres://" + strings.TrimPrefix(s, "cockroach://"), Cockroach, nil
	}
	return "", "", Unknown, errs.New("unsupported database url %q", redacted(s))
}

// redacted strips credentials from a connection string for error messages.
func redacted(s string) string {
	at := strings.LastIndexByte(s, '@')
	scheme := strings.Index(s, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return s
	}
	return s[:scheme+3] + "..." + s[at:]
}
