package database

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

type Querier interface {
	AckStreamEntries(ctx context.Context, arg AckStreamEntriesParams) (int64, error)
	ClaimStreamEntries(ctx context.Context, arg ClaimStreamEntriesParams) ([]CatalogUpdateStream, error)
	CountStreamEntries(ctx context.Context, status pgtype.Text) (int64, error)
	CreateFeedRun(ctx context.Context, feedID int64) (FeedRun, error)
	EnqueueStreamEntry(ctx context.Context, arg EnqueueStreamEntryParams) (CatalogUpdateStream, error)
	ExpireSupplierItem(ctx context.Context, arg ExpireSupplierItemParams) error
	FillProduct(ctx context.Context, arg FillProductParams) (Product, error)
	FinishFeedRun(ctx context.Context, arg FinishFeedRunParams) error
	GetActiveOffer(ctx context.Context, productID int64) (ProductActiveOffer, error)
	GetFeed(ctx context.Context, id int64) (SupplierFeed, error)
	GetFeedBySupplier(ctx context.Context, supplierID int64) (SupplierFeed, error)
	GetMapperByFeed(ctx context.Context, feedID int64) (FeedMapper, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	GetProductByBrandPartnumber(ctx context.Context, arg GetProductByBrandPartnumberParams) (Product, error)
	GetProductByGTIN(ctx context.Context, gtin string) (Product, error)
	GetSupplier(ctx context.Context, id int64) (Supplier, error)
	GetSupplierItem(ctx context.Context, arg GetSupplierItemParams) (SupplierItem, error)
	InsertProduct(ctx context.Context, arg InsertProductParams) (Product, error)
	InsertProductMeta(ctx context.Context, arg InsertProductMetaParams) (int64, error)
	InsertSupplierEvent(ctx context.Context, arg InsertSupplierEventParams) error
	InsertSupplierItem(ctx context.Context, arg InsertSupplierItemParams) (SupplierItem, error)
	ListProductEvents(ctx context.Context, arg ListProductEventsParams) ([]ProductSupplierEvent, error)
	ListProductMeta(ctx context.Context, productID int64) ([]ProductMeta, error)
	ListProductOffers(ctx context.Context, productID int64) ([]ProductOffer, error)
	ListStreamEntries(ctx context.Context, arg ListStreamEntriesParams) ([]CatalogUpdateStream, error)
	ListUnseenItems(ctx context.Context, arg ListUnseenItemsParams) ([]SupplierItem, error)
	LockProductKey(ctx context.Context, key string) error
	ReapStaleRuns(ctx context.Context, arg ReapStaleRunsParams) ([]int64, error)
	ReleaseSavepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	Savepoint(ctx context.Context, name string) error
	SetProductMargin(ctx context.Context, arg SetProductMarginParams) (Product, error)
	TouchSupplierItem(ctx context.Context, arg TouchSupplierItemParams) error
	TryLockFeed(ctx context.Context, feedID int64) (bool, error)
	UpdateSupplierItem(ctx context.Context, arg UpdateSupplierItemParams) (SupplierItem, error)
	UpsertActiveOffer(ctx context.Context, arg UpsertActiveOfferParams) (ProductActiveOffer, error)
	UpsertBrand(ctx context.Context, name string) (int64, error)
	UpsertCategory(ctx context.Context, path string) (int64, error)
	UpsertFeed(ctx context.Context, arg UpsertFeedParams) (SupplierFeed, error)
	UpsertMapper(ctx context.Context, arg UpsertMapperParams) (FeedMapper, error)
}

var _ Querier = (*Queries)(nil)
