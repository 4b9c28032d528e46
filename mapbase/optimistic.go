// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"time"

	"github.com/jackc/pgerrcode"
	"go.uber.org/zap"

	"storj.io/common/sync2"

	"osmbase.io/osmbase/shared/dbutil/pgutil"
)

// Retry backoff of the upload loop: start small, grow by a randomized
// factor to spread competing clients apart, never wait longer than the cap.
const (
	retryInitialBackoff = 50 * time.Millisecond
	retryMaxBackoff     = 5 * time.Second
)

// UploadDiff contains arguments for an atomic diff upload.
type UploadDiff struct {
	User        User
	ChangesetID int64
	Actions     []DiffAction
}

// UploadDiff applies an uploaded diff atomically. Validation runs against a
// read snapshot without locks; the commit re-verifies the snapshot under
// lock and the whole pipeline restarts on conflict with other writers,
// within the configured wall-clock budget. Validation failures surface
// immediately.
func (db *DB) UploadDiff(ctx context.Context, opts UploadDiff) (_ DiffResult, err error) {
	defer mon.Task()(&ctx)(&err)

	start := time.Now()
	backoff := retryInitialBackoff

	for attempt := 1; ; attempt++ {
		prepared, err := db.prepareDiff(ctx, opts.User, opts.ChangesetID, opts.Actions)
		if err != nil {
			return DiffResult{}, err
		}

		err = db.applyDiff(ctx, prepared)
		if err == nil {
			mon.IntVal("upload_diff_attempts").Observe(int64(attempt))
			return DiffResult{ChangesetID: opts.ChangesetID, Entries: prepared.entries}, nil
		}
		if !isRetryableConflict(err) {
			return DiffResult{}, err
		}
		if time.Since(start) >= db.config.RetryBudget {
			return DiffResult{}, Error.New("upload retry budget exhausted after %d attempts: %w", attempt, err)
		}

		db.logRetry(attempt, opts.ChangesetID, backoff, err)
		if !sync2.Sleep(ctx, backoff) {
			return DiffResult{}, Error.Wrap(ctx.Err())
		}
		backoff = time.Duration(float64(backoff) * (1.5 + db.rngFn()))
		if backoff > retryMaxBackoff {
			backoff = retryMaxBackoff
		}
	}
}

func (db *DB) logRetry(attempt int, changesetID int64, backoff time.Duration, err error) {
	log := db.log.Debug
	switch {
	case attempt >= 4:
		log = db.log.Warn
	case attempt == 3:
		log = db.log.Info
	}
	log("retrying diff upload",
		zap.Int("attempt", attempt),
		zap.Int64("changeset", changesetID),
		zap.Duration("backoff", backoff),
		zap.Error(err))
}

// isRetryableConflict reports whether the upload pipeline may restart after
// the error: applier rechecks, serialization aborts and the unique clash of
// two appliers inserting the same element version all qualify.
func isRetryableConflict(err error) bool {
	if errConflict.Has(err) {
		return true
	}
	switch pgutil.ErrorCode(err) {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.UniqueViolation:
		return true
	}
	return false
}
