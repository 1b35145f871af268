package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const upsertBrand = `-- name: UpsertBrand :one
INSERT INTO brands (name)
VALUES ($1)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id
`

func (q *Queries) UpsertBrand(ctx context.Context, name string) (int64, error) {
	row := q.db.QueryRow(ctx, upsertBrand, name)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const upsertCategory = `-- name: UpsertCategory :one
INSERT INTO categories (path)
VALUES ($1)
ON CONFLICT (path) DO UPDATE SET path = EXCLUDED.path
RETURNING id
`

func (q *Queries) UpsertCategory(ctx context.Context, path string) (int64, error) {
	row := q.db.QueryRow(ctx, upsertCategory, path)
	var id int64
	err := row.Scan(&id)
	return id, err
}

const productColumns = `id, gtin, partnumber, brand_id, category_id, name, description, image_url, image_urls, weight, margin::text, ecommerce_id, created_at, updated_at`

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var i Product
	err := row.Scan(
		&i.ID,
		&i.Gtin,
		&i.Partnumber,
		&i.BrandID,
		&i.CategoryID,
		&i.Name,
		&i.Description,
		&i.ImageUrl,
		&i.ImageUrls,
		&i.Weight,
		&i.Margin,
		&i.EcommerceID,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getProduct = `-- name: GetProduct :one
SELECT ` + productColumns + `
FROM products
WHERE id = $1
`

func (q *Queries) GetProduct(ctx context.Context, id int64) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProduct, id))
}

const getProductByGTIN = `-- name: GetProductByGTIN :one
SELECT ` + productColumns + `
FROM products
WHERE gtin = $1
`

func (q *Queries) GetProductByGTIN(ctx context.Context, gtin string) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProductByGTIN, gtin))
}

const getProductByBrandPartnumber = `-- name: GetProductByBrandPartnumber :one
SELECT ` + productColumns + `
FROM products
WHERE brand_id = $1 AND partnumber = $2
`

type GetProductByBrandPartnumberParams struct {
	BrandID    int64  `json:"brand_id"`
	Partnumber string `json:"partnumber"`
}

func (q *Queries) GetProductByBrandPartnumber(ctx context.Context, arg GetProductByBrandPartnumberParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, getProductByBrandPartnumber, arg.BrandID, arg.Partnumber))
}

// InsertProduct returns pgx.ErrNoRows when the identity already exists.
const insertProduct = `-- name: InsertProduct :one
INSERT INTO products (
    gtin, partnumber, brand_id, category_id, name, description, image_url, image_urls, weight, margin
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, COALESCE($8::text[], '{}'), $9, COALESCE($10::numeric, 0)
)
ON CONFLICT DO NOTHING
RETURNING ` + productColumns + `
`

type InsertProductParams struct {
	Gtin        pgtype.Text `json:"gtin"`
	Partnumber  pgtype.Text `json:"partnumber"`
	BrandID     pgtype.Int8 `json:"brand_id"`
	CategoryID  pgtype.Int8 `json:"category_id"`
	Name        pgtype.Text `json:"name"`
	Description pgtype.Text `json:"description"`
	ImageUrl    pgtype.Text `json:"image_url"`
	ImageUrls   []string    `json:"image_urls"`
	Weight      pgtype.Text `json:"weight"`
	Margin      pgtype.Text `json:"margin"`
}

func (q *Queries) InsertProduct(ctx context.Context, arg InsertProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, insertProduct,
		arg.Gtin,
		arg.Partnumber,
		arg.BrandID,
		arg.CategoryID,
		arg.Name,
		arg.Description,
		arg.ImageUrl,
		arg.ImageUrls,
		arg.Weight,
		arg.Margin,
	)
	return scanProduct(row)
}

// Each column is written only while it is still empty.
const fillProduct = `-- name: FillProduct :one
UPDATE products
SET gtin        = COALESCE(NULLIF(gtin, ''), $2),
    partnumber  = COALESCE(NULLIF(partnumber, ''), $3),
    brand_id    = COALESCE(brand_id, $4),
    category_id = COALESCE(category_id, $5),
    name        = COALESCE(NULLIF(name, ''), $6),
    description = COALESCE(NULLIF(description, ''), $7),
    image_url   = COALESCE(NULLIF(image_url, ''), $8),
    image_urls  = CASE WHEN cardinality(image_urls) = 0 AND $9::text[] IS NOT NULL THEN $9::text[] ELSE image_urls END,
    weight      = COALESCE(NULLIF(weight, ''), $10),
    updated_at  = now()
WHERE id = $1
RETURNING ` + productColumns + `
`

type FillProductParams struct {
	ID          int64       `json:"id"`
	Gtin        pgtype.Text `json:"gtin"`
	Partnumber  pgtype.Text `json:"partnumber"`
	BrandID     pgtype.Int8 `json:"brand_id"`
	CategoryID  pgtype.Int8 `json:"category_id"`
	Name        pgtype.Text `json:"name"`
	Description pgtype.Text `json:"description"`
	ImageUrl    pgtype.Text `json:"image_url"`
	ImageUrls   []string    `json:"image_urls"`
	Weight      pgtype.Text `json:"weight"`
}

func (q *Queries) FillProduct(ctx context.Context, arg FillProductParams) (Product, error) {
	row := q.db.QueryRow(ctx, fillProduct,
		arg.ID,
		arg.Gtin,
		arg.Partnumber,
		arg.BrandID,
		arg.CategoryID,
		arg.Name,
		arg.Description,
		arg.ImageUrl,
		arg.ImageUrls,
		arg.Weight,
	)
	return scanProduct(row)
}

const setProductMargin = `-- name: SetProductMargin :one
UPDATE products
SET margin = $2::numeric,
    updated_at = now()
WHERE id = $1
RETURNING ` + productColumns + `
`

type SetProductMarginParams struct {
	ID     int64  `json:"id"`
	Margin string `json:"margin"`
}

func (q *Queries) SetProductMargin(ctx context.Context, arg SetProductMarginParams) (Product, error) {
	return scanProduct(q.db.QueryRow(ctx, setProductMargin, arg.ID, arg.Margin))
}

const insertProductMeta = `-- name: InsertProductMeta :execrows
INSERT INTO product_meta (product_id, name, value)
VALUES ($1, $2, $3)
ON CONFLICT (product_id, name) DO NOTHING
`

type InsertProductMetaParams struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Value     string `json:"value"`
}

func (q *Queries) InsertProductMeta(ctx context.Context, arg InsertProductMetaParams) (int64, error) {
	result, err := q.db.Exec(ctx, insertProductMeta, arg.ProductID, arg.Name, arg.Value)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listProductMeta = `-- name: ListProductMeta :many
SELECT product_id, name, value, created_at
FROM product_meta
WHERE product_id = $1
ORDER BY name
`

func (q *Queries) ListProductMeta(ctx context.Context, productID int64) ([]ProductMeta, error) {
	rows, err := q.db.Query(ctx, listProductMeta, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ProductMeta
	for rows.Next() {
		var i ProductMeta
		if err := rows.Scan(
			&i.ProductID,
			&i.Name,
			&i.Value,
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
