package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const getSupplier = `-- name: GetSupplier :one
SELECT id, name, active, margin::text, created_at, updated_at
FROM suppliers
WHERE id = $1
`

func (q *Queries) GetSupplier(ctx context.Context, id int64) (Supplier, error) {
	row := q.db.QueryRow(ctx, getSupplier, id)
	var i Supplier
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Active,
		&i.Margin,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const feedColumns = `id, supplier_id, kind, format, url, headers, params, auth_kind, auth, extra, csv_delimiter, active, created_at, updated_at`

func scanFeed(row interface{ Scan(...any) error }) (SupplierFeed, error) {
	var i SupplierFeed
	err := row.Scan(
		&i.ID,
		&i.SupplierID,
		&i.Kind,
		&i.Format,
		&i.Url,
		&i.Headers,
		&i.Params,
		&i.AuthKind,
		&i.Auth,
		&i.Extra,
		&i.CsvDelimiter,
		&i.Active,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getFeed = `-- name: GetFeed :one
SELECT ` + feedColumns + `
FROM supplier_feeds
WHERE id = $1
`

func (q *Queries) GetFeed(ctx context.Context, id int64) (SupplierFeed, error) {
	return scanFeed(q.db.QueryRow(ctx, getFeed, id))
}

const getFeedBySupplier = `-- name: GetFeedBySupplier :one
SELECT ` + feedColumns + `
FROM supplier_feeds
WHERE supplier_id = $1
`

func (q *Queries) GetFeedBySupplier(ctx context.Context, supplierID int64) (SupplierFeed, error) {
	return scanFeed(q.db.QueryRow(ctx, getFeedBySupplier, supplierID))
}

const upsertFeed = `-- name: UpsertFeed :one
INSERT INTO supplier_feeds (
    supplier_id, kind, format, url, headers, params, auth_kind, auth, extra, csv_delimiter, active
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)
ON CONFLICT (supplier_id) DO UPDATE SET
    kind = EXCLUDED.kind,
    format = EXCLUDED.format,
    url = EXCLUDED.url,
    headers = EXCLUDED.headers,
    params = EXCLUDED.params,
    auth_kind = EXCLUDED.auth_kind,
    auth = EXCLUDED.auth,
    extra = EXCLUDED.extra,
    csv_delimiter = EXCLUDED.csv_delimiter,
    active = EXCLUDED.active,
    updated_at = now()
RETURNING ` + feedColumns + `
`

type UpsertFeedParams struct {
	SupplierID   int64       `json:"supplier_id"`
	Kind         string      `json:"kind"`
	Format       string      `json:"format"`
	Url          string      `json:"url"`
	Headers      []byte      `json:"headers"`
	Params       []byte      `json:"params"`
	AuthKind     pgtype.Text `json:"auth_kind"`
	Auth         []byte      `json:"auth"`
	Extra        []byte      `json:"extra"`
	CsvDelimiter pgtype.Text `json:"csv_delimiter"`
	Active       bool        `json:"active"`
}

func (q *Queries) UpsertFeed(ctx context.Context, arg UpsertFeedParams) (SupplierFeed, error) {
	row := q.db.QueryRow(ctx, upsertFeed,
		arg.SupplierID,
		arg.Kind,
		arg.Format,
		arg.Url,
		arg.Headers,
		arg.Params,
		arg.AuthKind,
		arg.Auth,
		arg.Extra,
		arg.CsvDelimiter,
		arg.Active,
	)
	return scanFeed(row)
}

const getMapperByFeed = `-- name: GetMapperByFeed :one
SELECT id, feed_id, profile, version, created_at, updated_at
FROM feed_mappers
WHERE feed_id = $1
`

func (q *Queries) GetMapperByFeed(ctx context.Context, feedID int64) (FeedMapper, error) {
	row := q.db.QueryRow(ctx, getMapperByFeed, feedID)
	var i FeedMapper
	err := row.Scan(
		&i.ID,
		&i.FeedID,
		&i.Profile,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const upsertMapper = `-- name: UpsertMapper :one
INSERT INTO feed_mappers (feed_id, profile, version)
VALUES ($1, $2, 1)
ON CONFLICT (feed_id) DO UPDATE SET
    profile = EXCLUDED.profile,
    version = CASE WHEN $3::boolean THEN feed_mappers.version + 1 ELSE feed_mappers.version END,
    updated_at = now()
RETURNING id, feed_id, profile, version, created_at, updated_at
`

type UpsertMapperParams struct {
	FeedID      int64  `json:"feed_id"`
	Profile     []byte `json:"profile"`
	BumpVersion bool   `json:"bump_version"`
}

func (q *Queries) UpsertMapper(ctx context.Context, arg UpsertMapperParams) (FeedMapper, error) {
	row := q.db.QueryRow(ctx, upsertMapper, arg.FeedID, arg.Profile, arg.BumpVersion)
	var i FeedMapper
	err := row.Scan(
		&i.ID,
		&i.FeedID,
		&i.Profile,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}
