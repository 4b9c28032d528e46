// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"database/sql"
	"time"

	"github.com/zeebo/errs"

	"osmbase.io/osmbase/shared/tagsql"
)

// elementColumns is the canonical column list scanned by scanElement.
const elementColumns = `sequence_id, created_at, changeset_id, typed_id, version, latest, visible, tags, lon, lat, members, member_roles`

type scannable interface {
	Scan(dest ...interface{}) error
}

// scanElement scans one row in elementColumns order.
func scanElement(row scannable) (element Element, err error) {
	var lon, lat sql.NullFloat64
	err = row.Scan(
		&element.SequenceID, &element.CreatedAt, &element.ChangesetID,
		&element.TypedID, &element.Version, &element.Latest, &element.Visible,
		&element.Tags, &lon, &lat, &element.Members, &element.Roles,
	)
	if err != nil {
		return Element{}, err
	}
	if lon.Valid {
		element.Point = &Point{Lon: lon.Float64, Lat: lat.Float64}
	}
	return element, nil
}

// scanElements collects all rows of a query in elementColumns order.
func scanElements(rows tagsql.Rows, err error) (_ []Element, deferr error) {
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		deferr = Error.Wrap(errs.Combine(deferr, rows.Err(), rows.Close()))
	}()

	var result []Element
	for rows.Next() {
		element, err := scanElement(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, element)
	}
	return result, nil
}

// elementArgs returns the insert arguments in elementColumns order, minus
// sequence_id which the applier assigns.
func elementArgs(element *Element) []interface{} {
	var lon, lat interface{}
	if element.Point != nil {
		lon, lat = element.Point.Lon, element.Point.Lat
	}
	return []interface{}{
		element.CreatedAt, element.ChangesetID,
		element.TypedID, element.Version, element.Latest, element.Visible,
		element.Tags, lon, lat, element.Members, element.Roles,
	}
}

// TestingInsertElement inserts a raw element row, bypassing the edit engine.
func (db *DB) TestingInsertElement(ctx context.Context, element Element) (err error) {
	defer mon.Task()(&ctx)(&err)

	if element.CreatedAt.IsZero() {
		element.CreatedAt = db.Now()
	}
	args := append([]interface{}{element.SequenceID}, elementArgs(&element)...)
	_, err = db.db.ExecContext(ctx, `
		INSERT INTO elements (`+elementColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, args...)
	return Error.Wrap(err)
}

// TestingCreateChangeset inserts a raw changeset row with a chosen clock.
func (db *DB) TestingCreateChangeset(ctx context.Context, userID int64, tags Tags, createdAt time.Time) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if createdAt.IsZero() {
		createdAt = db.Now()
	}
	err = db.db.QueryRowContext(ctx, `
		INSERT INTO changesets (user_id, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`, userID, tags, createdAt).Scan(&id)
	return id, Error.Wrap(err)
}

// TestingSetChangesetSize overrides the stored size counter, so cap behavior
// is testable without uploading thousands of actions.
func (db *DB) TestingSetChangesetSize(ctx context.Context, changesetID int64, size int64) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		UPDATE changesets SET size = $2 WHERE id = $1
	`, changesetID, size)
	return Error.Wrap(err)
}

