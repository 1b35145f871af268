package database

import (
	"context"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const createFeedRun = `-- name: CreateFeedRun :one
INSERT INTO feed_runs (feed_id, status)
VALUES ($1, 'running')
RETURNING id, feed_id, status, http_status, rows_total, rows_changed, error, duration_ms, started_at, finished_at
`

func (q *Queries) CreateFeedRun(ctx context.Context, feedID int64) (FeedRun, error) {
	row := q.db.QueryRow(ctx, createFeedRun, feedID)
	var i FeedRun
	err := row.Scan(
		&i.ID,
		&i.FeedID,
		&i.Status,
		&i.HttpStatus,
		&i.RowsTotal,
		&i.RowsChanged,
		&i.Error,
		&i.DurationMs,
		&i.StartedAt,
		&i.FinishedAt,
	)
	return i, err
}

// Only a running run is finalized; a reaped run keeps its status.
const finishFeedRun = `-- name: FinishFeedRun :exec
UPDATE feed_runs
SET status = $2,
    http_status = $3,
    rows_total = $4,
    rows_changed = $5,
    error = $6,
    duration_ms = $7,
    finished_at = now()
WHERE id = $1 AND status = 'running'
`

type FinishFeedRunParams struct {
	ID          int64       `json:"id"`
	Status      string      `json:"status"`
	HttpStatus  pgtype.Int4 `json:"http_status"`
	RowsTotal   int32       `json:"rows_total"`
	RowsChanged int32       `json:"rows_changed"`
	Error       pgtype.Text `json:"error"`
	DurationMs  pgtype.Int8 `json:"duration_ms"`
}

func (q *Queries) FinishFeedRun(ctx context.Context, arg FinishFeedRunParams) error {
	_, err := q.db.Exec(ctx, finishFeedRun,
		arg.ID,
		arg.Status,
		arg.HttpStatus,
		arg.RowsTotal,
		arg.RowsChanged,
		arg.Error,
		arg.DurationMs,
	)
	return err
}

const reapStaleRuns = `-- name: ReapStaleRuns :many
UPDATE feed_runs
SET status = 'error',
    error = $2,
    finished_at = now(),
    duration_ms = (EXTRACT(EPOCH FROM (now() - started_at)) * 1000)::bigint
WHERE status = 'running' AND started_at < $1
RETURNING id
`

type ReapStaleRunsParams struct {
	StartedBefore time.Time `json:"started_before"`
	Error         string    `json:"error"`
}

func (q *Queries) ReapStaleRuns(ctx context.Context, arg ReapStaleRunsParams) ([]int64, error) {
	rows, err := q.db.Query(ctx, reapStaleRuns, arg.StartedBefore, arg.Error)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Advisory lock namespaces keep feed and product keys from colliding.
const (
	lockNamespaceFeed    = 1
	lockNamespaceProduct = 2
)

const tryLockFeed = `-- name: TryLockFeed :one
SELECT pg_try_advisory_xact_lock(hashtextextended($1::text, $2::bigint))
`

// feedLockKey spells out the full 64-bit feed id so distinct feeds never
// share a lock.
func feedLockKey(feedID int64) string {
	return "feed:" + strconv.FormatInt(feedID, 10)
}

// TryLockFeed takes a transaction-scoped lock on the feed. It reports false
// when another transaction already holds it.
func (q *Queries) TryLockFeed(ctx context.Context, feedID int64) (bool, error) {
	row := q.db.QueryRow(ctx, tryLockFeed, feedLockKey(feedID), int64(lockNamespaceFeed))
	var locked bool
	err := row.Scan(&locked)
	return locked, err
}

const lockProductKey = `-- name: LockProductKey :exec
SELECT pg_advisory_xact_lock(hashtextextended($1::text, $2::bigint))
`

// LockProductKey serializes product creation for one identity key until the
// surrounding transaction ends.
func (q *Queries) LockProductKey(ctx context.Context, key string) error {
	_, err := q.db.Exec(ctx, lockProductKey, key, int64(lockNamespaceProduct))
	return err
}

// Savepoint names are generated internally, never from input.

func (q *Queries) Savepoint(ctx context.Context, name string) error {
	_, err := q.db.Exec(ctx, "SAVEPOINT "+name)
	return err
}

func (q *Queries) RollbackToSavepoint(ctx context.Context, name string) error {
	_, err := q.db.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return err
}

func (q *Queries) ReleaseSavepoint(ctx context.Context, name string) error {
	_, err := q.db.Exec(ctx, "RELEASE SAVEPOINT "+name)
	return err
}
