// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"database/sql"
	"strconv"

	"osmbase.io/osmbase/shared/dbutil/pgutil"
)

// CurrentSequenceID returns the sequence id of the most recent committed
// element row, or 0 when the store is empty. The returned value is a
// consistent snapshot token: reads constrained to sequence_id <= token never
// observe writes committed after the call.
func (db *DB) CurrentSequenceID(ctx context.Context) (sequenceID int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_id), 0) FROM elements
	`).Scan(&sequenceID)
	return sequenceID, Error.Wrap(err)
}

// MaxElementIDs contains arguments for the MaxElementIDs query.
type MaxElementIDs struct {
	SequenceID int64
}

// MaxElementIDs returns the highest assigned element id per type, as of the
// given snapshot. Types with no elements map to 0.
func (db *DB) MaxElementIDs(ctx context.Context, opts MaxElementIDs) (_ map[ElementType]ElementID, err error) {
	defer mon.Task()(&ctx)(&err)

	result := map[ElementType]ElementID{}
	for _, typ := range []ElementType{TypeNode, TypeWay, TypeRelation} {
		min, max := typeRange(typ)
		var typedID sql.NullInt64
		err := db.db.QueryRowContext(ctx, `
			SELECT MAX(typed_id) FROM elements
			WHERE typed_id BETWEEN $1 AND $2
			AND sequence_id <= $3
		`, min, max, opts.SequenceID).Scan(&typedID)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		if typedID.Valid {
			result[typ] = TypedID(typedID.Int64).ID()
		} else {
			result[typ] = 0
		}
	}
	return result, nil
}

// GetElementLatest contains arguments for the GetElementLatest query.
type GetElementLatest struct {
	TypedID TypedID
}

// Verify checks the request.
func (opts *GetElementLatest) Verify() error {
	if opts.TypedID.IsPlaceholder() {
		return ErrInvalidRequest.New("placeholder id %v", opts.TypedID)
	}
	return nil
}

// GetElementLatest returns the current version of an element.
// It returns ErrElementNotFound when the element never existed and
// ErrElementGone when its current version is deleted.
func (db *DB) GetElementLatest(ctx context.Context, opts GetElementLatest) (element Element, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return Element{}, err
	}

	element, err = scanElement(db.db.QueryRowContext(ctx, `
		SELECT `+elementColumns+` FROM elements
		WHERE typed_id = $1 AND latest
	`, opts.TypedID))
	if err != nil {
		if err == sql.ErrNoRows {
			return Element{}, ErrElementNotFound.New("%v", opts.TypedID)
		}
		return Element{}, Error.Wrap(err)
	}
	if !element.Visible {
		return element, ErrElementGone.New("%v", opts.TypedID)
	}
	return element, nil
}

// GetElementVersions contains arguments for the GetElementVersions query.
type GetElementVersions struct {
	TypedID    TypedID
	SequenceID int64 // 0 means no snapshot constraint

	VersionMin int64 // 0 means unbounded
	VersionMax int64 // 0 means unbounded
	Limit      int   // 0 means unlimited
	Descending bool
}

// GetElementVersions returns the version history of a single element.
// A missing element yields an empty history, not an error.
func (db *DB) GetElementVersions(ctx context.Context, opts GetElementVersions) (_ []Element, err error) {
	defer mon.Task()(&ctx)(&err)

	if opts.TypedID.IsPlaceholder() {
		return nil, ErrInvalidRequest.New("placeholder id %v", opts.TypedID)
	}

	query := `SELECT ` + elementColumns + ` FROM elements WHERE typed_id = $1`
	args := []interface{}{opts.TypedID}
	next := func(arg interface{}) string {
		args = append(args, arg)
		return "$" + strconv.Itoa(len(args))
	}

	if opts.SequenceID > 0 {
		query += ` AND sequence_id <= ` + next(opts.SequenceID)
	}
	if opts.VersionMin > 0 {
		query += ` AND version >= ` + next(opts.VersionMin)
	}
	if opts.VersionMax > 0 {
		query += ` AND version <= ` + next(opts.VersionMax)
	}
	if opts.Descending {
		query += ` ORDER BY version DESC`
	} else {
		query += ` ORDER BY version`
	}
	if opts.Limit > 0 {
		query += ` LIMIT ` + next(opts.Limit)
	}

	return scanElements(db.db.QueryContext(ctx, query, args...))
}

// GetElementsByVersionedRefs contains arguments for the query.
type GetElementsByVersionedRefs struct {
	Refs       []VersionedRef
	SequenceID int64 // 0 means no snapshot constraint
}

// GetElementsByVersionedRefs returns the exact requested element versions.
// Missing versions are absent from the result.
func (db *DB) GetElementsByVersionedRefs(ctx context.Context, opts GetElementsByVersionedRefs) (_ []Element, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(opts.Refs) == 0 {
		return nil, nil
	}

	typedIDs := make([]int64, len(opts.Refs))
	versions := make([]int64, len(opts.Refs))
	for i, ref := range opts.Refs {
		if ref.TypedID.IsPlaceholder() {
			return nil, ErrInvalidRequest.New("placeholder id %v", ref.TypedID)
		}
		typedIDs[i] = int64(ref.TypedID)
		versions[i] = ref.Version
	}

	sequenceID := opts.SequenceID
	if sequenceID == 0 {
		sequenceID = int64(1)<<62 - 1
	}

	return scanElements(db.db.QueryContext(ctx, `
		SELECT `+elementColumns+` FROM elements
		WHERE (typed_id, version) IN (
			SELECT * FROM UNNEST($1::BIGINT[], $2::BIGINT[])
		)
		AND sequence_id <= $3
		ORDER BY typed_id, version
	`, pgutil.Int8Array(typedIDs), pgutil.Int8Array(versions), sequenceID))
}

// GetCurrentElements contains arguments for the query.
type GetCurrentElements struct {
	TypedIDs   []TypedID
	SequenceID int64 // 0 means read the live latest flags
}

// GetCurrentElements returns the current version of each requested element,
// visible or deleted. When SequenceID is set the read happens against that
// snapshot instead of the live latest flags. Missing elements are absent
// from the result.
func (db *DB) GetCurrentElements(ctx context.Context, opts GetCurrentElements) (_ []Element, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(opts.TypedIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(opts.TypedIDs))
	for i, id := range opts.TypedIDs {
		if id.IsPlaceholder() {
			return nil, ErrInvalidRequest.New("placeholder id %v", id)
		}
		ids[i] = int64(id)
	}

	if opts.SequenceID == 0 {
		return scanElements(db.db.QueryContext(ctx, `
			SELECT `+elementColumns+` FROM elements
			WHERE typed_id = ANY($1::BIGINT[]) AND latest
			ORDER BY typed_id
		`, pgutil.Int8Array(ids)))
	}

	return scanElements(db.db.QueryContext(ctx, `
		SELECT DISTINCT ON (typed_id) `+elementColumns+` FROM elements
		WHERE typed_id = ANY($1::BIGINT[])
		AND sequence_id <= $2
		ORDER BY typed_id, sequence_id DESC
	`, pgutil.Int8Array(ids), opts.SequenceID))
}

// FilterVisibleRefs contains arguments for the query.
type FilterVisibleRefs struct {
	TypedIDs   []TypedID
	SequenceID int64 // 0 means read the live latest flags
}

// FilterVisibleRefs returns the subset of the given ids whose current
// version at the snapshot is visible.
func (db *DB) FilterVisibleRefs(ctx context.Context, opts FilterVisibleRefs) (_ map[TypedID]bool, err error) {
	defer mon.Task()(&ctx)(&err)

	elements, err := db.GetCurrentElements(ctx, GetCurrentElements(opts))
	if err != nil {
		return nil, err
	}
	visible := make(map[TypedID]bool, len(elements))
	for i := range elements {
		if elements[i].Visible {
			visible[elements[i].TypedID] = true
		}
	}
	return visible, nil
}

// GetElementsByChangeset contains arguments for the query.
type GetElementsByChangeset struct {
	ChangesetID int64
}

// GetElementsByChangeset returns all element versions committed by a
// changeset, in commit order.
func (db *DB) GetElementsByChangeset(ctx context.Context, opts GetElementsByChangeset) (_ []Element, err error) {
	defer mon.Task()(&ctx)(&err)

	if opts.ChangesetID <= 0 {
		return nil, ErrInvalidRequest.New("changeset id missing")
	}

	return scanElements(db.db.QueryContext(ctx, `
		SELECT `+elementColumns+` FROM elements
		WHERE changeset_id = $1
		ORDER BY sequence_id
	`, opts.ChangesetID))
}
