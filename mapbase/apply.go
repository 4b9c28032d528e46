// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"strconv"
	"strings"
	"time"

	"osmbase.io/osmbase/shared/dbutil"
	"osmbase.io/osmbase/shared/dbutil/pgutil"
	"osmbase.io/osmbase/shared/tagsql"
)

// applyDiff commits a prepared diff. It runs in a serializable transaction
// and re-verifies every snapshot assumption the preparer made; a failed
// recheck aborts with a retryable conflict so the orchestrator can prepare
// again against a fresh snapshot.
func (db *DB) applyDiff(ctx context.Context, prepared *preparedDiff) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.withSerializableTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		// Postgres needs the explicit lock to serialize appliers; readers
		// take ACCESS SHARE and are never blocked. Cockroach rejects LOCK
		// TABLE and relies on its serializable isolation instead.
		if db.impl == dbutil.Postgres {
			if _, err := tx.ExecContext(ctx, `LOCK TABLE elements IN EXCLUSIVE MODE`); err != nil {
				return Error.Wrap(err)
			}
		}

		now := db.Now()

		maxSequence, err := lockedMaxSequence(ctx, tx)
		if err != nil {
			return err
		}
		if err := checkTimeIntegrityTx(ctx, tx, maxSequence, now); err != nil {
			return err
		}

		count, err := db.CountLatestRefs(ctx, tx, prepared.latestRefs)
		if err != nil {
			return err
		}
		if count != int64(len(prepared.latestRefs)) {
			return errConflict.New("%d of %d referenced versions no longer current", int64(len(prepared.latestRefs))-count, len(prepared.latestRefs))
		}

		if parent, err := db.ReferencedBy(ctx, tx, ReferencedBy{
			MemberIDs:     prepared.deletedIDs,
			AfterSequence: prepared.sequenceID,
		}); err != nil {
			return err
		} else if parent != 0 {
			return errConflict.New("deletion target referenced by %v committed after snapshot", parent)
		}

		changeset, err := lockChangeset(ctx, tx, prepared.changeset.ID)
		if err != nil {
			return err
		}
		if !changeset.UpdatedAt.Equal(prepared.changesetUpdatedAt) {
			return errConflict.New("changeset %d updated concurrently", changeset.ID)
		}

		if err := insertElements(ctx, tx, prepared.elements, maxSequence, now); err != nil {
			return err
		}

		if len(prepared.boundsPoints) > 0 {
			if err := db.updateBounds(ctx, tx, changeset.ID, prepared.boundsPoints); err != nil {
				return err
			}
		}

		closedAt := interface{}(nil)
		if changeset.ClosedAt != nil {
			closedAt = *changeset.ClosedAt
		}
		if prepared.atCap {
			closedAt = now
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE changesets
			SET size = size + $2,
				num_create = num_create + $3,
				num_modify = num_modify + $4,
				num_delete = num_delete + $5,
				updated_at = $6,
				closed_at = $7
			WHERE id = $1
		`, changeset.ID,
			prepared.deltaCreate+prepared.deltaModify+prepared.deltaDelete,
			prepared.deltaCreate, prepared.deltaModify, prepared.deltaDelete,
			now, closedAt)
		return Error.Wrap(err)
	})
}

// lockedMaxSequence reads the current maximum sequence id inside the
// applier transaction.
func lockedMaxSequence(ctx context.Context, tx tagsql.Tx) (maxSequence int64, err error) {
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence_id), 0) FROM elements
	`).Scan(&maxSequence)
	return maxSequence, Error.Wrap(err)
}

func checkTimeIntegrityTx(ctx context.Context, tx tagsql.Tx, maxSequence int64, now time.Time) error {
	if maxSequence == 0 {
		return nil
	}
	var createdAt time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT created_at FROM elements WHERE sequence_id = $1
	`, maxSequence).Scan(&createdAt)
	if err != nil {
		return Error.Wrap(err)
	}
	if now.Before(createdAt) {
		return ErrTimeIntegrity.New("server time %v behind stored %v", now, createdAt)
	}
	return nil
}

// insertElements writes the new element rows with consecutive sequence ids,
// clearing the latest flag of every superseded version. Within a diff only
// the last version of each element keeps the flag.
func insertElements(ctx context.Context, tx tagsql.Tx, elements []Element, maxSequence int64, now time.Time) error {
	if len(elements) == 0 {
		return nil
	}

	lastIndex := make(map[TypedID]int, len(elements))
	var superseded []int64
	for i := range elements {
		if _, inDiff := lastIndex[elements[i].TypedID]; !inDiff && elements[i].Version > 1 {
			superseded = append(superseded, int64(elements[i].TypedID))
		}
		lastIndex[elements[i].TypedID] = i
	}

	if len(superseded) > 0 {
		_, err := tx.ExecContext(ctx, `
			UPDATE elements SET latest = false
			WHERE typed_id = ANY($1::BIGINT[]) AND latest
		`, pgutil.Int8Array(superseded))
		if err != nil {
			return Error.Wrap(err)
		}
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO elements (` + elementColumns + `) VALUES `)
	var args []interface{}
	for i := range elements {
		element := elements[i]
		element.SequenceID = maxSequence + int64(i) + 1
		element.CreatedAt = now
		element.Latest = lastIndex[element.TypedID] == i

		if i > 0 {
			sb.WriteByte(',')
		}
		base := len(args)
		sb.WriteByte('(')
		for col := 0; col < 12; col++ {
			if col > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString("$" + strconv.Itoa(base+col+1))
		}
		sb.WriteByte(')')
		args = append(args, append([]interface{}{element.SequenceID}, elementArgs(&element)...)...)
	}

	_, err := tx.ExecContext(ctx, sb.String(), args...)
	return Error.Wrap(err)
}

// updateBounds folds the collected points into the changeset's stored
// rectangles under the changeset row lock.
func (db *DB) updateBounds(ctx context.Context, tx tagsql.Tx, changesetID int64, points []Point) error {
	bounds, err := db.getChangesetBounds(ctx, tx, changesetID)
	if err != nil {
		return err
	}
	bounds = ExtendBounds(bounds, points)

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM changeset_bounds WHERE changeset_id = $1
	`, changesetID); err != nil {
		return Error.Wrap(err)
	}
	for i, r := range bounds {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO changeset_bounds (changeset_id, ordinal, min_lon, min_lat, max_lon, max_lat)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, changesetID, i, r.MinLon, r.MinLat, r.MaxLon, r.MaxLat)
		if err != nil {
			return Error.Wrap(err)
		}
	}
	return nil
}
