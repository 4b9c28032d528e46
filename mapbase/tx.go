// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"database/sql"

	"osmbase.io/osmbase/shared/dbutil/txutil"
	"osmbase.io/osmbase/shared/tagsql"
)

// withTx runs fn inside a transaction.
func (db *DB) withTx(ctx context.Context, fn func(context.Context, tagsql.Tx) error) error {
	return txutil.WithTx(ctx, db.db, nil, fn)
}

// withSerializableTx runs fn inside a serializable transaction.
func (db *DB) withSerializableTx(ctx context.Context, fn func(context.Context, tagsql.Tx) error) error {
	return txutil.WithTx(ctx, db.db, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}
