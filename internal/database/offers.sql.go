package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const itemColumns = `id, supplier_id, feed_id, product_id, sku, gtin, partnumber, price::text, stock, fingerprint, feed_run_id, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (SupplierItem, error) {
	var i SupplierItem
	err := row.Scan(
		&i.ID,
		&i.SupplierID,
		&i.FeedID,
		&i.ProductID,
		&i.Sku,
		&i.Gtin,
		&i.Partnumber,
		&i.Price,
		&i.Stock,
		&i.Fingerprint,
		&i.FeedRunID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getSupplierItem = `-- name: GetSupplierItem :one
SELECT ` + itemColumns + `
FROM supplier_items
WHERE feed_id = $1 AND sku = $2
`

type GetSupplierItemParams struct {
	FeedID int64  `json:"feed_id"`
	Sku    string `json:"sku"`
}

func (q *Queries) GetSupplierItem(ctx context.Context, arg GetSupplierItemParams) (SupplierItem, error) {
	return scanItem(q.db.QueryRow(ctx, getSupplierItem, arg.FeedID, arg.Sku))
}

const insertSupplierItem = `-- name: InsertSupplierItem :one
INSERT INTO supplier_items (
    supplier_id, feed_id, product_id, sku, gtin, partnumber, price, stock, fingerprint, feed_run_id
) VALUES (
    $1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10
)
RETURNING ` + itemColumns + `
`

type InsertSupplierItemParams struct {
	SupplierID  int64       `json:"supplier_id"`
	FeedID      int64       `json:"feed_id"`
	ProductID   int64       `json:"product_id"`
	Sku         string      `json:"sku"`
	Gtin        pgtype.Text `json:"gtin"`
	Partnumber  pgtype.Text `json:"partnumber"`
	Price       pgtype.Text `json:"price"`
	Stock       int32       `json:"stock"`
	Fingerprint string      `json:"fingerprint"`
	FeedRunID   int64       `json:"feed_run_id"`
}

func (q *Queries) InsertSupplierItem(ctx context.Context, arg InsertSupplierItemParams) (SupplierItem, error) {
	row := q.db.QueryRow(ctx, insertSupplierItem,
		arg.SupplierID,
		arg.FeedID,
		arg.ProductID,
		arg.Sku,
		arg.Gtin,
		arg.Partnumber,
		arg.Price,
		arg.Stock,
		arg.Fingerprint,
		arg.FeedRunID,
	)
	return scanItem(row)
}

const updateSupplierItem = `-- name: UpdateSupplierItem :one
UPDATE supplier_items
SET product_id = $2,
    gtin = $3,
    partnumber = $4,
    price = $5::numeric,
    stock = $6,
    fingerprint = $7,
    feed_run_id = $8,
    updated_at = now()
WHERE id = $1
RETURNING ` + itemColumns + `
`

type UpdateSupplierItemParams struct {
	ID          int64       `json:"id"`
	ProductID   int64       `json:"product_id"`
	Gtin        pgtype.Text `json:"gtin"`
	Partnumber  pgtype.Text `json:"partnumber"`
	Price       pgtype.Text `json:"price"`
	Stock       int32       `json:"stock"`
	Fingerprint string      `json:"fingerprint"`
	FeedRunID   int64       `json:"feed_run_id"`
}

func (q *Queries) UpdateSupplierItem(ctx context.Context, arg UpdateSupplierItemParams) (SupplierItem, error) {
	row := q.db.QueryRow(ctx, updateSupplierItem,
		arg.ID,
		arg.ProductID,
		arg.Gtin,
		arg.Partnumber,
		arg.Price,
		arg.Stock,
		arg.Fingerprint,
		arg.FeedRunID,
	)
	return scanItem(row)
}

const touchSupplierItem = `-- name: TouchSupplierItem :exec
UPDATE supplier_items
SET feed_run_id = $2
WHERE id = $1
`

type TouchSupplierItemParams struct {
	ID        int64 `json:"id"`
	FeedRunID int64 `json:"feed_run_id"`
}

func (q *Queries) TouchSupplierItem(ctx context.Context, arg TouchSupplierItemParams) error {
	_, err := q.db.Exec(ctx, touchSupplierItem, arg.ID, arg.FeedRunID)
	return err
}

const listUnseenItems = `-- name: ListUnseenItems :many
SELECT ` + itemColumns + `
FROM supplier_items
WHERE feed_id = $1 AND feed_run_id IS DISTINCT FROM $2
ORDER BY id
`

type ListUnseenItemsParams struct {
	FeedID    int64 `json:"feed_id"`
	FeedRunID int64 `json:"feed_run_id"`
}

func (q *Queries) ListUnseenItems(ctx context.Context, arg ListUnseenItemsParams) ([]SupplierItem, error) {
	rows, err := q.db.Query(ctx, listUnseenItems, arg.FeedID, arg.FeedRunID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SupplierItem
	for rows.Next() {
		i, err := scanItem(rows)
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

const expireSupplierItem = `-- name: ExpireSupplierItem :exec
UPDATE supplier_items
SET stock = 0,
    fingerprint = $3,
    feed_run_id = $2,
    updated_at = now()
WHERE id = $1
`

type ExpireSupplierItemParams struct {
	ID          int64  `json:"id"`
	FeedRunID   int64  `json:"feed_run_id"`
	Fingerprint string `json:"fingerprint"`
}

func (q *Queries) ExpireSupplierItem(ctx context.Context, arg ExpireSupplierItemParams) error {
	_, err := q.db.Exec(ctx, expireSupplierItem, arg.ID, arg.FeedRunID, arg.Fingerprint)
	return err
}

const listProductOffers = `-- name: ListProductOffers :many
SELECT si.id, si.supplier_id, si.feed_id, si.product_id, si.sku, si.gtin, si.partnumber,
       si.price::text, si.stock, si.fingerprint, si.feed_run_id, si.created_at, si.updated_at,
       s.name
FROM supplier_items si
JOIN suppliers s ON s.id = si.supplier_id
WHERE si.product_id = $1
ORDER BY si.id
`

type ProductOffer struct {
	SupplierItem
	SupplierName string `json:"supplier_name"`
}

func (q *Queries) ListProductOffers(ctx context.Context, productID int64) ([]ProductOffer, error) {
	rows, err := q.db.Query(ctx, listProductOffers, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProductOffer
	for rows.Next() {
		var i ProductOffer
		if err := rows.Scan(
			&i.ID,
			&i.SupplierID,
			&i.FeedID,
			&i.ProductID,
			&i.Sku,
			&i.Gtin,
			&i.Partnumber,
			&i.Price,
			&i.Stock,
			&i.Fingerprint,
			&i.FeedRunID,
			&i.CreatedAt,
			&i.UpdatedAt,
			&i.SupplierName,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertSupplierEvent = `-- name: InsertSupplierEvent :exec
INSERT INTO product_supplier_events (
    product_id, supplier_id, supplier_item_id, feed_run_id, reason, price, stock
) VALUES (
    $1, $2, $3, $4, $5, $6::numeric, $7
)
`

type InsertSupplierEventParams struct {
	ProductID      int64       `json:"product_id"`
	SupplierID     int64       `json:"supplier_id"`
	SupplierItemID pgtype.Int8 `json:"supplier_item_id"`
	FeedRunID      pgtype.Int8 `json:"feed_run_id"`
	Reason         string      `json:"reason"`
	Price          pgtype.Text `json:"price"`
	Stock          int32       `json:"stock"`
}

func (q *Queries) InsertSupplierEvent(ctx context.Context, arg InsertSupplierEventParams) error {
	_, err := q.db.Exec(ctx, insertSupplierEvent,
		arg.ProductID,
		arg.SupplierID,
		arg.SupplierItemID,
		arg.FeedRunID,
		arg.Reason,
		arg.Price,
		arg.Stock,
	)
	return err
}

const listProductEvents = `-- name: ListProductEvents :many
SELECT id, product_id, supplier_id, supplier_item_id, feed_run_id, reason, price::text, stock, created_at
FROM product_supplier_events
WHERE product_id = $1 AND created_at >= $2
ORDER BY created_at, id
LIMIT $3
`

type ListProductEventsParams struct {
	ProductID int64     `json:"product_id"`
	Since     time.Time `json:"since"`
	Limit     int32     `json:"limit"`
}

func (q *Queries) ListProductEvents(ctx context.Context, arg ListProductEventsParams) ([]ProductSupplierEvent, error) {
	rows, err := q.db.Query(ctx, listProductEvents, arg.ProductID, arg.Since, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProductSupplierEvent
	for rows.Next() {
		var i ProductSupplierEvent
		if err := rows.Scan(
			&i.ID,
			&i.ProductID,
			&i.SupplierID,
			&i.SupplierItemID,
			&i.FeedRunID,
			&i.Reason,
			&i.Price,
			&i.Stock,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getActiveOffer = `-- name: GetActiveOffer :one
SELECT product_id, supplier_id, supplier_item_id, unit_cost::text, unit_price_sent::text, stock_sent, synced_at
FROM product_active_offers
WHERE product_id = $1
`

func (q *Queries) GetActiveOffer(ctx context.Context, productID int64) (ProductActiveOffer, error) {
	row := q.db.QueryRow(ctx, getActiveOffer, productID)
	var i ProductActiveOffer
	err := row.Scan(
		&i.ProductID,
		&i.SupplierID,
		&i.SupplierItemID,
		&i.UnitCost,
		&i.UnitPriceSent,
		&i.StockSent,
		&i.SyncedAt,
	)
	return i, err
}

const upsertActiveOffer = `-- name: UpsertActiveOffer :one
INSERT INTO product_active_offers (
    product_id, supplier_id, supplier_item_id, unit_cost, unit_price_sent, stock_sent, synced_at
) VALUES (
    $1, $2, $3, $4::numeric, $5::numeric, $6, now()
)
ON CONFLICT (product_id) DO UPDATE SET
    supplier_id = EXCLUDED.supplier_id,
    supplier_item_id = EXCLUDED.supplier_item_id,
    unit_cost = EXCLUDED.unit_cost,
    unit_price_sent = EXCLUDED.unit_price_sent,
    stock_sent = EXCLUDED.stock_sent,
    synced_at = now()
RETURNING product_id, supplier_id, supplier_item_id, unit_cost::text, unit_price_sent::text, stock_sent, synced_at
`

type UpsertActiveOfferParams struct {
	ProductID      int64       `json:"product_id"`
	SupplierID     pgtype.Int8 `json:"supplier_id"`
	SupplierItemID pgtype.Int8 `json:"supplier_item_id"`
	UnitCost       pgtype.Text `json:"unit_cost"`
	UnitPriceSent  pgtype.Text `json:"unit_price_sent"`
	StockSent      int32       `json:"stock_sent"`
}

func (q *Queries) UpsertActiveOffer(ctx context.Context, arg UpsertActiveOfferParams) (ProductActiveOffer, error) {
	row := q.db.QueryRow(ctx, upsertActiveOffer,
		arg.ProductID,
		arg.SupplierID,
		arg.SupplierItemID,
		arg.UnitCost,
		arg.UnitPriceSent,
		arg.StockSent,
	)
	var i ProductActiveOffer
	err := row.Scan(
		&i.ProductID,
		&i.SupplierID,
		&i.SupplierItemID,
		&i.UnitCost,
		&i.UnitPriceSent,
		&i.StockSent,
		&i.SyncedAt,
	)
	return i, err
}
