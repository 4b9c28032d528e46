// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"osmbase.io/osmbase/shared/dbutil/pgutil"
	"osmbase.io/osmbase/shared/tagsql"
)

// Changeset is a unit of grouped edits owned by a single user.
type Changeset struct {
	ID        int64
	UserID    int64
	Tags      Tags
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	Size      int64
	NumCreate int64
	NumModify int64
	NumDelete int64

	Bounds []Rect
}

// IsOpen reports whether the changeset still accepts writes.
func (c *Changeset) IsOpen() bool { return c.ClosedAt == nil }

// ChangesetComment is a discussion entry on a changeset.
type ChangesetComment struct {
	ID          int64
	ChangesetID int64
	UserID      int64
	Body        string
	CreatedAt   time.Time
	Hidden      bool
}

const changesetColumns = `id, user_id, tags, created_at, updated_at, closed_at, size, num_create, num_modify, num_delete`

func scanChangeset(row scannable) (c Changeset, err error) {
	var closedAt sql.NullTime
	err = row.Scan(
		&c.ID, &c.UserID, &c.Tags, &c.CreatedAt, &c.UpdatedAt, &closedAt,
		&c.Size, &c.NumCreate, &c.NumModify, &c.NumDelete,
	)
	if err != nil {
		return Changeset{}, err
	}
	if closedAt.Valid {
		t := closedAt.Time
		c.ClosedAt = &t
	}
	return c, nil
}

// CreateChangeset contains arguments for creating a changeset.
type CreateChangeset struct {
	User User
	Tags Tags
}

// Verify checks the request.
func (opts *CreateChangeset) Verify() error {
	if opts.User.ID <= 0 {
		return ErrInvalidRequest.New("authenticated user required")
	}
	return opts.Tags.Validate()
}

// CreateChangeset opens a new changeset and subscribes its author.
func (db *DB) CreateChangeset(ctx context.Context, opts CreateChangeset) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return 0, err
	}

	now := db.Now()
	err = db.db.QueryRowContext(ctx, `
		INSERT INTO changesets (user_id, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`, opts.User.ID, opts.Tags, now).Scan(&id)
	if err != nil {
		return 0, Error.Wrap(err)
	}

	_, err = db.db.ExecContext(ctx, `
		INSERT INTO changeset_subscriptions (changeset_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, id, opts.User.ID)
	return id, Error.Wrap(err)
}

// GetChangeset contains arguments for loading a changeset.
type GetChangeset struct {
	ChangesetID int64
	WithBounds  bool
}

// GetChangeset loads one changeset.
func (db *DB) GetChangeset(ctx context.Context, opts GetChangeset) (c Changeset, err error) {
	defer mon.Task()(&ctx)(&err)

	c, err = scanChangeset(db.db.QueryRowContext(ctx, `
		SELECT `+changesetColumns+` FROM changesets WHERE id = $1
	`, opts.ChangesetID))
	if err != nil {
		if err == sql.ErrNoRows {
			return Changeset{}, ErrChangesetNotFound.New("%d", opts.ChangesetID)
		}
		return Changeset{}, Error.Wrap(err)
	}

	if opts.WithBounds {
		c.Bounds, err = db.getChangesetBounds(ctx, db.db, c.ID)
		if err != nil {
			return Changeset{}, err
		}
	}
	return c, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (tagsql.Rows, error)
}

func (db *DB) getChangesetBounds(ctx context.Context, q querier, changesetID int64) (_ []Rect, deferr error) {
	rows, err := q.QueryContext(ctx, `
		SELECT min_lon, min_lat, max_lon, max_lat FROM changeset_bounds
		WHERE changeset_id = $1
		ORDER BY ordinal
	`, changesetID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		deferr = Error.Wrap(errs.Combine(deferr, rows.Err(), rows.Close()))
	}()

	var bounds []Rect
	for rows.Next() {
		var r Rect
		if err := rows.Scan(&r.MinLon, &r.MinLat, &r.MaxLon, &r.MaxLat); err != nil {
			return nil, Error.Wrap(err)
		}
		bounds = append(bounds, r)
	}
	return bounds, nil
}

// ChangesetsUpdatedAt returns the updated_at timestamp for each existing
// changeset id.
func (db *DB) ChangesetsUpdatedAt(ctx context.Context, ids []int64) (_ map[int64]time.Time, deferr error) {
	defer mon.Task()(&ctx)(&deferr)

	if len(ids) == 0 {
		return map[int64]time.Time{}, nil
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, updated_at FROM changesets WHERE id = ANY($1::BIGINT[])
	`, pgutil.Int8Array(ids))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		deferr = Error.Wrap(errs.Combine(deferr, rows.Err(), rows.Close()))
	}()

	result := make(map[int64]time.Time, len(ids))
	for rows.Next() {
		var id int64
		var updatedAt time.Time
		if err := rows.Scan(&id, &updatedAt); err != nil {
			return nil, Error.Wrap(err)
		}
		result[id] = updatedAt
	}
	return result, nil
}

// FindChangesets contains filters for the changeset query.
type FindChangesets struct {
	UserID        int64 // 0 means any user
	Open          bool
	Closed        bool
	CreatedBefore time.Time
	ClosedAfter   time.Time
	Bounds        *Rect
	IDs           []int64
	Limit         int
}

// FindChangesets returns changesets matching all the given filters, newest
// first.
func (db *DB) FindChangesets(ctx context.Context, opts FindChangesets) (_ []Changeset, deferr error) {
	defer mon.Task()(&ctx)(&deferr)

	if opts.Open && opts.Closed {
		return nil, ErrInvalidRequest.New("cannot filter both open and closed")
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = ChangesetQueryDefaultLimit
	}
	if limit > ChangesetQueryMaxLimit {
		return nil, ErrInvalidRequest.New("limit %d exceeds maximum %d", limit, ChangesetQueryMaxLimit)
	}

	var conds []string
	var args []interface{}
	next := func(arg interface{}) string {
		args = append(args, arg)
		return "$" + strconv.Itoa(len(args))
	}

	if opts.UserID != 0 {
		conds = append(conds, `user_id = `+next(opts.UserID))
	}
	if opts.Open {
		conds = append(conds, `closed_at IS NULL`)
	}
	if opts.Closed {
		conds = append(conds, `closed_at IS NOT NULL`)
	}
	if !opts.CreatedBefore.IsZero() {
		conds = append(conds, `created_at < `+next(opts.CreatedBefore))
	}
	if !opts.ClosedAfter.IsZero() {
		conds = append(conds, `closed_at >= `+next(opts.ClosedAfter))
	}
	if len(opts.IDs) > 0 {
		conds = append(conds, `id = ANY(`+next(pgutil.Int8Array(opts.IDs))+`::BIGINT[])`)
	}
	if opts.Bounds != nil {
		conds = append(conds, `id IN (
			SELECT changeset_id FROM changeset_bounds
			WHERE min_lon <= `+next(opts.Bounds.MaxLon)+`
			AND max_lon >= `+next(opts.Bounds.MinLon)+`
			AND min_lat <= `+next(opts.Bounds.MaxLat)+`
			AND max_lat >= `+next(opts.Bounds.MinLat)+`
		)`)
	}

	query := `SELECT ` + changesetColumns + ` FROM changesets`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, ` AND `)
	}
	query += ` ORDER BY id DESC LIMIT ` + next(limit)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		deferr = Error.Wrap(errs.Combine(deferr, rows.Err(), rows.Close()))
	}()

	var result []Changeset
	for rows.Next() {
		c, err := scanChangeset(rows)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, c)
	}
	return result, nil
}

// CountChangesetsByUser returns how many changesets the user has created.
func (db *DB) CountChangesetsByUser(ctx context.Context, userID int64) (count int64, err error) {
	defer mon.Task()(&ctx)(&err)

	err = db.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM changesets WHERE user_id = $1
	`, userID).Scan(&count)
	return count, Error.Wrap(err)
}

// UpdateChangesetTags contains arguments for replacing changeset tags.
type UpdateChangesetTags struct {
	ChangesetID int64
	User        User
	Tags        Tags
}

// UpdateChangesetTags replaces the tags of an open changeset owned by the
// caller.
func (db *DB) UpdateChangesetTags(ctx context.Context, opts UpdateChangesetTags) (err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Tags.Validate(); err != nil {
		return err
	}

	return db.withChangesetLock(ctx, opts.ChangesetID, func(ctx context.Context, tx tagsql.Tx, c Changeset) error {
		if c.UserID != opts.User.ID {
			return ErrChangesetAccessDenied.New("%d", opts.ChangesetID)
		}
		if !c.IsOpen() {
			return ErrChangesetClosed.New("%d", opts.ChangesetID)
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE changesets SET tags = $2, updated_at = $3 WHERE id = $1
		`, opts.ChangesetID, opts.Tags, db.Now())
		return Error.Wrap(err)
	})
}

// CloseChangeset contains arguments for closing a changeset.
type CloseChangeset struct {
	ChangesetID int64
	User        User
}

// CloseChangeset closes an open changeset owned by the caller.
func (db *DB) CloseChangeset(ctx context.Context, opts CloseChangeset) (err error) {
	defer mon.Task()(&ctx)(&err)

	return db.withChangesetLock(ctx, opts.ChangesetID, func(ctx context.Context, tx tagsql.Tx, c Changeset) error {
		if c.UserID != opts.User.ID {
			return ErrChangesetAccessDenied.New("%d", opts.ChangesetID)
		}
		if !c.IsOpen() {
			return ErrChangesetClosed.New("%d", opts.ChangesetID)
		}
		now := db.Now()
		_, err := tx.ExecContext(ctx, `
			UPDATE changesets SET closed_at = $2, updated_at = $2 WHERE id = $1
		`, opts.ChangesetID, now)
		return Error.Wrap(err)
	})
}

// withChangesetLock runs fn holding a row lock on the changeset.
func (db *DB) withChangesetLock(ctx context.Context, changesetID int64, fn func(context.Context, tagsql.Tx, Changeset) error) error {
	return db.withTx(ctx, func(ctx context.Context, tx tagsql.Tx) error {
		c, err := lockChangeset(ctx, tx, changesetID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, c)
	})
}

func lockChangeset(ctx context.Context, tx tagsql.Tx, changesetID int64) (Changeset, error) {
	c, err := scanChangeset(tx.QueryRowContext(ctx, `
		SELECT `+changesetColumns+` FROM changesets WHERE id = $1 FOR UPDATE
	`, changesetID))
	if err != nil {
		if err == sql.ErrNoRows {
			return Changeset{}, ErrChangesetNotFound.New("%d", changesetID)
		}
		return Changeset{}, Error.Wrap(err)
	}
	return c, nil
}

// AddChangesetComment contains arguments for appending a comment.
type AddChangesetComment struct {
	ChangesetID int64
	User        User
	Body        string
}

// Verify checks the request.
func (opts *AddChangesetComment) Verify() error {
	if opts.User.ID <= 0 {
		return ErrInvalidRequest.New("authenticated user required")
	}
	if strings.TrimSpace(opts.Body) == "" {
		return ErrInvalidRequest.New("comment body cannot be empty")
	}
	if len([]rune(opts.Body)) > ChangesetCommentMaxLength {
		return ErrInvalidRequest.New("comment body too long")
	}
	return nil
}

// AddChangesetComment appends a discussion comment, subscribes the
// commenter and advances the changeset updated_at.
func (db *DB) AddChangesetComment(ctx context.Context, opts AddChangesetComment) (id int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := opts.Verify(); err != nil {
		return 0, err
	}

	err = db.withChangesetLock(ctx, opts.ChangesetID, func(ctx context.Context, tx tagsql.Tx, c Changeset) error {
		now := db.Now()
		err := tx.QueryRowContext(ctx, `
			INSERT INTO changeset_comments (changeset_id, user_id, body, created_at)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, opts.ChangesetID, opts.User.ID, opts.Body, now).Scan(&id)
		if err != nil {
			return Error.Wrap(err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO changeset_subscriptions (changeset_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, opts.ChangesetID, opts.User.ID)
		if err != nil {
			return Error.Wrap(err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE changesets SET updated_at = $2 WHERE id = $1
		`, opts.ChangesetID, now)
		return Error.Wrap(err)
	})
	return id, err
}

// HideChangesetComment contains arguments for hiding a comment.
type HideChangesetComment struct {
	CommentID int64
	User      User
}

// HideChangesetComment logically hides a discussion comment. Moderators
// only.
func (db *DB) HideChangesetComment(ctx context.Context, opts HideChangesetComment) (err error) {
	defer mon.Task()(&ctx)(&err)

	if !opts.User.IsModerator() {
		return ErrChangesetAccessDenied.New("moderator role required")
	}

	result, err := db.db.ExecContext(ctx, `
		UPDATE changeset_comments SET hidden = true WHERE id = $1
	`, opts.CommentID)
	if err != nil {
		return Error.Wrap(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return Error.Wrap(err)
	}
	if affected == 0 {
		return ErrChangesetNotFound.New("comment %d", opts.CommentID)
	}
	return nil
}

// GetChangesetComments returns the visible discussion of a changeset in
// posting order. Moderators also see hidden comments.
func (db *DB) GetChangesetComments(ctx context.Context, changesetID int64, includeHidden bool) (_ []ChangesetComment, deferr error) {
	defer mon.Task()(&ctx)(&deferr)

	query := `
		SELECT id, changeset_id, user_id, body, created_at, hidden
		FROM changeset_comments
		WHERE changeset_id = $1`
	if !includeHidden {
		query += ` AND NOT hidden`
	}
	query += ` ORDER BY id`

	rows, err := db.db.QueryContext(ctx, query, changesetID)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() {
		deferr = Error.Wrap(errs.Combine(deferr, rows.Err(), rows.Close()))
	}()

	var result []ChangesetComment
	for rows.Next() {
		var c ChangesetComment
		err := rows.Scan(&c.ID, &c.ChangesetID, &c.UserID, &c.Body, &c.CreatedAt, &c.Hidden)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		result = append(result, c)
	}
	return result, nil
}

// SubscribeChangeset subscribes the user to changeset discussion updates.
func (db *DB) SubscribeChangeset(ctx context.Context, changesetID int64, user User) (err error) {
	defer mon.Task()(&ctx)(&err)

	if _, err := db.GetChangeset(ctx, GetChangeset{ChangesetID: changesetID}); err != nil {
		return err
	}
	_, err = db.db.ExecContext(ctx, `
		INSERT INTO changeset_subscriptions (changeset_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, changesetID, user.ID)
	return Error.Wrap(err)
}

// UnsubscribeChangeset removes the user's subscription.
func (db *DB) UnsubscribeChangeset(ctx context.Context, changesetID int64, user User) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, `
		DELETE FROM changeset_subscriptions WHERE changeset_id = $1 AND user_id = $2
	`, changesetID, user.ID)
	return Error.Wrap(err)
}
