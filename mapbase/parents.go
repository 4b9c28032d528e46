// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"database/sql"

	"osmbase.io/osmbase/shared/dbutil/pgutil"
	"osmbase.io/osmbase/shared/tagsql"
)

// GetParents contains arguments for the GetParents query.
type GetParents struct {
	MemberIDs  []TypedID
	ParentType *ElementType // nil means ways and relations alike
	SequenceID int64        // 0 means read the live latest flags
	Limit      int          // 0 means unlimited
}

// GetParents returns the current visible elements of the given type that
// reference any of the member ids.
func (db *DB) GetParents(ctx context.Context, opts GetParents) (_ []Element, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(opts.MemberIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(opts.MemberIDs))
	for i, id := range opts.MemberIDs {
		if id.IsPlaceholder() {
			return nil, ErrInvalidRequest.New("placeholder id %v", id)
		}
		ids[i] = int64(id)
	}
	min, max := WayRangeMin, RelationRangeMax
	if opts.ParentType != nil {
		min, max = typeRange(*opts.ParentType)
	}

	var elements []Element
	if opts.SequenceID == 0 {
		elements, err = scanElements(db.db.QueryContext(ctx, `
			SELECT `+elementColumns+` FROM elements
			WHERE latest AND visible
			AND typed_id BETWEEN $1 AND $2
			AND members && $3::BIGINT[]
			ORDER BY typed_id
		`, min, max, pgutil.Int8Array(ids)))
	} else {
		// Snapshot reads cannot use the latest flag: pick candidate ids
		// from any historic version referencing a member, resolve each to
		// its version at the snapshot, then re-filter below since that
		// version may no longer reference the member.
		elements, err = scanElements(db.db.QueryContext(ctx, `
			SELECT DISTINCT ON (typed_id) `+elementColumns+` FROM elements
			WHERE typed_id IN (
				SELECT DISTINCT typed_id FROM elements
				WHERE typed_id BETWEEN $1 AND $2
				AND sequence_id <= $3
				AND members && $4::BIGINT[]
			)
			AND sequence_id <= $3
			ORDER BY typed_id, sequence_id DESC
		`, min, max, opts.SequenceID, pgutil.Int8Array(ids)))
		if err == nil {
			elements = filterReferencing(elements, opts.MemberIDs)
		}
	}
	if err != nil {
		return nil, err
	}
	if opts.Limit > 0 && len(elements) > opts.Limit {
		elements = elements[:opts.Limit]
	}
	return elements, nil
}

func filterReferencing(elements []Element, memberIDs []TypedID) []Element {
	wanted := make(map[TypedID]bool, len(memberIDs))
	for _, id := range memberIDs {
		wanted[id] = true
	}
	filtered := elements[:0]
	for _, element := range elements {
		if !element.Visible {
			continue
		}
		for _, member := range element.Members {
			if wanted[member] {
				filtered = append(filtered, element)
				break
			}
		}
	}
	return filtered
}

// ReferencedBy contains arguments for the ReferencedBy query.
type ReferencedBy struct {
	MemberIDs     []TypedID
	AfterSequence int64
}

// ReferencedBy returns the typed id of some visible element committed after
// the given sequence that references any of the member ids, or 0 when none
// does. It is used by the applier to recheck deletions against writes that
// landed after the preparation snapshot.
func (db *DB) ReferencedBy(ctx context.Context, tx tagsql.Tx, opts ReferencedBy) (parent TypedID, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(opts.MemberIDs) == 0 {
		return 0, nil
	}
	ids := make([]int64, len(opts.MemberIDs))
	for i, id := range opts.MemberIDs {
		ids[i] = int64(id)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT typed_id FROM elements
		WHERE sequence_id > $1
		AND visible
		AND members && $2::BIGINT[]
		LIMIT 1
	`, opts.AfterSequence, pgutil.Int8Array(ids)).Scan(&parent)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return parent, Error.Wrap(err)
}

// CountLatestRefs returns how many of the given versioned refs still carry
// the latest flag. The applier compares the count against the number of
// distinct refs to detect concurrent writes.
func (db *DB) CountLatestRefs(ctx context.Context, tx tagsql.Tx, refs []VersionedRef) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(refs) == 0 {
		return 0, nil
	}
	typedIDs := make([]int64, len(refs))
	versions := make([]int64, len(refs))
	for i, ref := range refs {
		typedIDs[i] = int64(ref.TypedID)
		versions[i] = ref.Version
	}

	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM elements
		WHERE (typed_id, version) IN (
			SELECT * FROM UNNEST($1::BIGINT[], $2::BIGINT[])
		)
		AND latest
	`, pgutil.Int8Array(typedIDs), pgutil.Int8Array(versions)).Scan(&count)
	return count, Error.Wrap(err)
}
