package database

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// NUMERIC columns are selected as ::text and carried as strings so that
// prices keep their exact decimal representation.

type Supplier struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Active    bool               `json:"active"`
	Margin    string             `json:"margin"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type SupplierFeed struct {
	ID           int64              `json:"id"`
	SupplierID   int64              `json:"supplier_id"`
	Kind         string             `json:"kind"`
	Format       string             `json:"format"`
	Url          string             `json:"url"`
	Headers      []byte             `json:"headers"`
	Params       []byte             `json:"params"`
	AuthKind     pgtype.Text        `json:"auth_kind"`
	Auth         []byte             `json:"auth"`
	Extra        []byte             `json:"extra"`
	CsvDelimiter pgtype.Text        `json:"csv_delimiter"`
	Active       bool               `json:"active"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
	UpdatedAt    pgtype.Timestamptz `json:"updated_at"`
}

type FeedMapper struct {
	ID        int64              `json:"id"`
	FeedID    int64              `json:"feed_id"`
	Profile   []byte             `json:"profile"`
	Version   int32              `json:"version"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
	UpdatedAt pgtype.Timestamptz `json:"updated_at"`
}

type FeedRun struct {
	ID          int64              `json:"id"`
	FeedID      int64              `json:"feed_id"`
	Status      string             `json:"status"`
	HttpStatus  pgtype.Int4        `json:"http_status"`
	RowsTotal   int32              `json:"rows_total"`
	RowsChanged int32              `json:"rows_changed"`
	Error       pgtype.Text        `json:"error"`
	DurationMs  pgtype.Int8        `json:"duration_ms"`
	StartedAt   pgtype.Timestamptz `json:"started_at"`
	FinishedAt  pgtype.Timestamptz `json:"finished_at"`
}

type Product struct {
	ID          int64              `json:"id"`
	Gtin        pgtype.Text        `json:"gtin"`
	Partnumber  pgtype.Text        `json:"partnumber"`
	BrandID     pgtype.Int8        `json:"brand_id"`
	CategoryID  pgtype.Int8        `json:"category_id"`
	Name        pgtype.Text        `json:"name"`
	Description pgtype.Text        `json:"description"`
	ImageUrl    pgtype.Text        `json:"image_url"`
	ImageUrls   []string           `json:"image_urls"`
	Weight      pgtype.Text        `json:"weight"`
	Margin      string             `json:"margin"`
	EcommerceID pgtype.Text        `json:"ecommerce_id"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
	UpdatedAt   pgtype.Timestamptz `json:"updated_at"`
}

type ProductMeta struct {
	ProductID int64              `json:"product_id"`
	Name      string             `json:"name"`
	Value     string             `json:"value"`
	CreatedAt pgtype.Timestamptz `json:"created_at"`
}

type SupplierItem struct {
	ID          int64              `json:"id"`
	SupplierID  int64              `json:"supplier_id"`
	FeedID      int64              `json:"feed_id"`
	ProductID   int64              `json:"product_id"`
	Sku         string             `json:"sku"`
	Gtin        pgtype.Text        `json:"gtin"`
	Partnumber  pgtype.Text        `json:"partnumber"`
	Price       pgtype.Text        `json:"price"`
	Stock       int32              `json:"stock"`
	Fingerprint string             `json:"fingerprint"`
	FeedRunID   pgtype.Int8        `json:"feed_run_id"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
	UpdatedAt   pgtype.Timestamptz `json:"updated_at"`
}

type ProductSupplierEvent struct {
	ID             int64              `json:"id"`
	ProductID      int64              `json:"product_id"`
	SupplierID     int64              `json:"supplier_id"`
	SupplierItemID pgtype.Int8        `json:"supplier_item_id"`
	FeedRunID      pgtype.Int8        `json:"feed_run_id"`
	Reason         string             `json:"reason"`
	Price          pgtype.Text        `json:"price"`
	Stock          int32              `json:"stock"`
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
}

type ProductActiveOffer struct {
	ProductID      int64              `json:"product_id"`
	SupplierID     pgtype.Int8        `json:"supplier_id"`
	SupplierItemID pgtype.Int8        `json:"supplier_item_id"`
	UnitCost       pgtype.Text        `json:"unit_cost"`
	UnitPriceSent  pgtype.Text        `json:"unit_price_sent"`
	StockSent      int32              `json:"stock_sent"`
	SyncedAt       pgtype.Timestamptz `json:"synced_at"`
}

type CatalogUpdateStream struct {
	ID          int64              `json:"id"`
	ProductID   int64              `json:"product_id"`
	EcommerceID string             `json:"ecommerce_id"`
	Status      string             `json:"status"`
	Priority    int32              `json:"priority"`
	Payload     []byte             `json:"payload"`
	Attempts    int32              `json:"attempts"`
	LastError   pgtype.Text        `json:"last_error"`
	ClaimToken  pgtype.UUID        `json:"claim_token"`
	ClaimedAt   pgtype.Timestamptz `json:"claimed_at"`
	AvailableAt pgtype.Timestamptz `json:"available_at"`
	ProcessedAt pgtype.Timestamptz `json:"processed_at"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
	UpdatedAt   pgtype.Timestamptz `json:"updated_at"`
}
