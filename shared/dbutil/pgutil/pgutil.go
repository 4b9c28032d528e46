// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

// Package pgutil contains helpers specific to the postgres wire protocol
// backends.
package pgutil

import (
	"database/sql/driver"
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/zeebo/errs"

	// registers the "pgx" driver with database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// CheckApplicationName ensures that the connection string contains an
// application name, so that server-side connection listings stay readable.
func CheckApplicationName(s string, app string) (string, error) {
	if strings.Contains(s, "application_name") {
		return s, nil
	}
	if app == "" {
		return s, errs.New("application name cannot be empty")
	}
	if !strings.Contains(s, "?") {
		return s + "?application_name=" + app, nil
	}
	return s + "&application_name=" + app, nil
}

// QuoteIdentifier quotes an identifier for use in an interpolated SQL string.
func QuoteIdentifier(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Int8Array returns an object usable as a query argument for a BIGINT[]
// parameter.
func Int8Array(ints []int64) driver.Valuer {
	return int8Array(ints)
}

type int8Array []int64

func (array int8Array) Value() (driver.Value, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range array {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(v, 10))
	}
	b.WriteByte('}')
	return b.String(), nil
}

// ErrorCode returns the postgres error code of any error in the unwrap
// chain, or the empty string.
func ErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsConstraintError checks if the error is a constraint violation.
func IsConstraintError(err error) bool {
	return strings.HasPrefix(ErrorCode(err), "23")
}
