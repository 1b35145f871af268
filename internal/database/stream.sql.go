package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const streamColumns = `id, product_id, ecommerce_id, status, priority, payload, attempts, last_error, claim_token, claimed_at, available_at, processed_at, created_at, updated_at`

func scanStream(row interface{ Scan(...any) error }) (CatalogUpdateStream, error) {
	var i CatalogUpdateStream
	err := row.Scan(
		&i.ID,
		&i.ProductID,
		&i.EcommerceID,
		&i.Status,
		&i.Priority,
		&i.Payload,
		&i.Attempts,
		&i.LastError,
		&i.ClaimToken,
		&i.ClaimedAt,
		&i.AvailableAt,
		&i.ProcessedAt,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

func collectStream(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close()
}) ([]CatalogUpdateStream, error) {
	defer rows.Close()
	var items []CatalogUpdateStream
	for rows.Next() {
		i, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// At most one pending entry exists per (product_id, ecommerce_id); a repeat
// enqueue refreshes it and never lowers its priority or touches attempts.
const enqueueStreamEntry = `-- name: EnqueueStreamEntry :one
INSERT INTO catalog_update_stream (product_id, ecommerce_id, status, priority, payload)
VALUES ($1, $2, 'pending', $3, $4)
ON CONFLICT (product_id, ecommerce_id) WHERE status = 'pending' DO UPDATE SET
    payload = EXCLUDED.payload,
    priority = GREATEST(catalog_update_stream.priority, EXCLUDED.priority),
    available_at = now(),
    last_error = NULL,
    updated_at = now()
RETURNING ` + streamColumns + `
`

type EnqueueStreamEntryParams struct {
	ProductID   int64  `json:"product_id"`
	EcommerceID string `json:"ecommerce_id"`
	Priority    int32  `json:"priority"`
	Payload     []byte `json:"payload"`
}

func (q *Queries) EnqueueStreamEntry(ctx context.Context, arg EnqueueStreamEntryParams) (CatalogUpdateStream, error) {
	row := q.db.QueryRow(ctx, enqueueStreamEntry, arg.ProductID, arg.EcommerceID, arg.Priority, arg.Payload)
	return scanStream(row)
}

// Rows locked by a concurrent claimer are skipped, so two consumers never
// receive the same entry.
const claimStreamEntries = `-- name: ClaimStreamEntries :many
WITH picked AS (
    SELECT id
    FROM catalog_update_stream
    WHERE status = 'pending'
      AND available_at <= now()
      AND ($2::int IS NULL OR priority >= $2::int)
    ORDER BY priority DESC, available_at, created_at, id
    LIMIT $1
    FOR UPDATE SKIP LOCKED
)
UPDATE catalog_update_stream c
SET status = 'processing',
    attempts = c.attempts + 1,
    claim_token = $3,
    claimed_at = now(),
    updated_at = now()
FROM picked
WHERE c.id = picked.id
RETURNING c.id, c.product_id, c.ecommerce_id, c.status, c.priority, c.payload, c.attempts, c.last_error,
          c.claim_token, c.claimed_at, c.available_at, c.processed_at, c.created_at, c.updated_at
`

type ClaimStreamEntriesParams struct {
	Limit       int32       `json:"limit"`
	MinPriority pgtype.Int4 `json:"min_priority"`
	ClaimToken  pgtype.UUID `json:"claim_token"`
}

// ClaimStreamEntries returns rows in no particular order; callers sort.
func (q *Queries) ClaimStreamEntries(ctx context.Context, arg ClaimStreamEntriesParams) ([]CatalogUpdateStream, error) {
	rows, err := q.db.Query(ctx, claimStreamEntries, arg.Limit, arg.MinPriority, arg.ClaimToken)
	if err != nil {
		return nil, err
	}
	return collectStream(rows)
}

const ackStreamEntries = `-- name: AckStreamEntries :execrows
UPDATE catalog_update_stream
SET status = $2,
    last_error = $3,
    processed_at = now(),
    updated_at = now()
WHERE id = ANY($1::bigint[]) AND status = 'processing'
`

type AckStreamEntriesParams struct {
	IDs       []int64     `json:"ids"`
	Status    string      `json:"status"`
	LastError pgtype.Text `json:"last_error"`
}

func (q *Queries) AckStreamEntries(ctx context.Context, arg AckStreamEntriesParams) (int64, error) {
	result, err := q.db.Exec(ctx, ackStreamEntries, arg.IDs, arg.Status, arg.LastError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listStreamEntries = `-- name: ListStreamEntries :many
SELECT ` + streamColumns + `
FROM catalog_update_stream
WHERE ($1::text IS NULL OR status = $1::text)
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3
`

type ListStreamEntriesParams struct {
	Status pgtype.Text `json:"status"`
	Limit  int32       `json:"limit"`
	Offset int32       `json:"offset"`
}

func (q *Queries) ListStreamEntries(ctx context.Context, arg ListStreamEntriesParams) ([]CatalogUpdateStream, error) {
	rows, err := q.db.Query(ctx, listStreamEntries, arg.Status, arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	return collectStream(rows)
}

const countStreamEntries = `-- name: CountStreamEntries :one
SELECT count(*)
FROM catalog_update_stream
WHERE ($1::text IS NULL OR status = $1::text)
`

func (q *Queries) CountStreamEntries(ctx context.Context, status pgtype.Text) (int64, error) {
	row := q.db.QueryRow(ctx, countStreamEntries, status)
	var count int64
	err := row.Scan(&count)
	return count, err
}
