package core

import (
	"context"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/feed"
)

// fakeState is the in-memory database behind fakeStore.
type fakeState struct {
	nextID     int64
	suppliers  map[int64]database.Supplier
	feeds      map[int64]database.SupplierFeed
	mappers    map[int64]database.FeedMapper // by feed id
	runs       map[int64]database.FeedRun
	brands     map[string]int64
	categories map[string]int64
	products   map[int64]database.Product
	meta       map[int64][]database.ProductMeta
	items      map[int64]database.SupplierItem
	events     []database.ProductSupplierEvent
	offers     map[int64]database.ProductActiveOffer
	stream     map[int64]database.CatalogUpdateStream
}

func newFakeState() *fakeState {
	return &fakeState{
		suppliers:  make(map[int64]database.Supplier),
		feeds:      make(map[int64]database.SupplierFeed),
		mappers:    make(map[int64]database.FeedMapper),
		runs:       make(map[int64]database.FeedRun),
		brands:     make(map[string]int64),
		categories: make(map[string]int64),
		products:   make(map[int64]database.Product),
		meta:       make(map[int64][]database.ProductMeta),
		items:      make(map[int64]database.SupplierItem),
		offers:     make(map[int64]database.ProductActiveOffer),
		stream:     make(map[int64]database.CatalogUpdateStream),
	}
}

func copyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *fakeState) clone() *fakeState {
	c := &fakeState{
		nextID:     s.nextID,
		suppliers:  copyMap(s.suppliers),
		feeds:      copyMap(s.feeds),
		mappers:    copyMap(s.mappers),
		runs:       copyMap(s.runs),
		brands:     copyMap(s.brands),
		categories: copyMap(s.categories),
		products:   copyMap(s.products),
		meta:       make(map[int64][]database.ProductMeta, len(s.meta)),
		items:      copyMap(s.items),
		events:     append([]database.ProductSupplierEvent(nil), s.events...),
		offers:     copyMap(s.offers),
		stream:     copyMap(s.stream),
	}
	for k, v := range s.meta {
		c.meta[k] = append([]database.ProductMeta(nil), v...)
	}
	return c
}

// fakeStore implements Store in memory. ExecTx and savepoints restore
// snapshots on rollback. It is not safe for concurrent use.
type fakeStore struct {
	st         *fakeState
	savepoints map[string]*fakeState
	clock      time.Time

	// busyFeeds simulates an advisory lock held by another session.
	busyFeeds  map[int64]bool
	lockedKeys []string
	// failItemSKU makes InsertSupplierItem fail for that sku.
	failItemSKU string
	txCount     int
	txCtxErr    error
}

var _ Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		st:         newFakeState(),
		savepoints: make(map[string]*fakeState),
		clock:      time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
		busyFeeds:  make(map[int64]bool),
	}
}

func (f *fakeStore) id() int64 {
	f.st.nextID++
	return f.st.nextID
}

// tick advances the clock so every write gets a distinct timestamp.
func (f *fakeStore) tick() pgtype.Timestamptz {
	f.clock = f.clock.Add(time.Second)
	return ts(f.clock)
}

func ts(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func (f *fakeStore) ExecTx(ctx context.Context, fn func(database.Querier) error) error {
	f.txCount++
	f.txCtxErr = ctx.Err()
	snap := f.st.clone()
	err := fn(f)
	f.savepoints = make(map[string]*fakeState)
	if err != nil {
		f.st = snap
	}
	return err
}

// seeding helpers

func (f *fakeStore) addSupplier(name, margin string) database.Supplier {
	s := database.Supplier{ID: f.id(), Name: name, Active: true, Margin: margin, CreatedAt: f.tick()}
	f.st.suppliers[s.ID] = s
	return s
}

func (f *fakeStore) addFeed(supplierID int64, format, url string) database.SupplierFeed {
	fd := database.SupplierFeed{
		ID: f.id(), SupplierID: supplierID, Kind: "http", Format: format, Url: url,
		Headers: []byte("{}"), Params: []byte("{}"), Auth: []byte("{}"), Extra: []byte("{}"),
		Active: true, CreatedAt: f.tick(),
	}
	f.st.feeds[fd.ID] = fd
	return fd
}

func (f *fakeStore) addMapper(feedID int64, profile string) {
	f.st.mappers[feedID] = database.FeedMapper{ID: f.id(), FeedID: feedID, Profile: []byte(profile), Version: 1}
}

func (f *fakeStore) addProduct(gtin, margin, ecommerceID string) database.Product {
	p := database.Product{
		ID: f.id(), Gtin: ToPgText(gtin), Margin: margin, EcommerceID: ToPgText(ecommerceID),
		CreatedAt: f.tick(),
	}
	p.UpdatedAt = p.CreatedAt
	f.st.products[p.ID] = p
	return p
}

func (f *fakeStore) addItem(supplierID, feedID, productID int64, sku, price string, stock int32) database.SupplierItem {
	it := database.SupplierItem{
		ID: f.id(), SupplierID: supplierID, FeedID: feedID, ProductID: productID, Sku: sku,
		Price: ToPgText(price), Stock: stock, Fingerprint: fingerprint(price, stock), CreatedAt: f.tick(),
	}
	f.st.items[it.ID] = it
	return it
}

func (f *fakeStore) addStream(productID int64, ecommerceID string, priority int32) database.CatalogUpdateStream {
	now := f.tick()
	e := database.CatalogUpdateStream{
		ID: f.id(), ProductID: productID, EcommerceID: ecommerceID, Status: StreamPending,
		Priority: priority, Payload: []byte(`{}`), AvailableAt: now, CreatedAt: now, UpdatedAt: now,
	}
	f.st.stream[e.ID] = e
	return e
}

func (f *fakeStore) itemBySKU(feedID int64, sku string) (database.SupplierItem, bool) {
	for _, it := range f.st.items {
		if it.FeedID == feedID && it.Sku == sku {
			return it, true
		}
	}
	return database.SupplierItem{}, false
}

func (f *fakeStore) eventsFor(productID int64, reason string) []database.ProductSupplierEvent {
	var out []database.ProductSupplierEvent
	for _, e := range f.st.events {
		if e.ProductID == productID && (reason == "" || e.Reason == reason) {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeStore) pendingFor(productID int64) []database.CatalogUpdateStream {
	var out []database.CatalogUpdateStream
	for _, e := range f.st.stream {
		if e.ProductID == productID && e.Status == StreamPending {
			out = append(out, e)
		}
	}
	return out
}

func uniqueViolation() error { return &pgconn.PgError{Code: "23505"} }

// Querier

func (f *fakeStore) AckStreamEntries(ctx context.Context, arg database.AckStreamEntriesParams) (int64, error) {
	var n int64
	now := f.tick()
	for _, id := range arg.IDs {
		e, ok := f.st.stream[id]
		if !ok || e.Status != StreamProcessing {
			continue
		}
		e.Status = arg.Status
		e.LastError = arg.LastError
		e.ProcessedAt = now
		f.st.stream[id] = e
		n++
	}
	return n, nil
}

func (f *fakeStore) ClaimStreamEntries(ctx context.Context, arg database.ClaimStreamEntriesParams) ([]database.CatalogUpdateStream, error) {
	var candidates []database.CatalogUpdateStream
	for _, e := range f.st.stream {
		if e.Status != StreamPending || e.AvailableAt.Time.After(f.clock) {
			continue
		}
		if arg.MinPriority.Valid && e.Priority < arg.MinPriority.Int32 {
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool { return streamLess(candidates[i], candidates[j]) })
	if len(candidates) > int(arg.Limit) {
		candidates = candidates[:arg.Limit]
	}

	now := f.tick()
	out := make([]database.CatalogUpdateStream, 0, len(candidates))
	// Return in reverse so callers must sort.
	for i := len(candidates) - 1; i >= 0; i-- {
		e := candidates[i]
		e.Status = StreamProcessing
		e.Attempts++
		e.ClaimToken = arg.ClaimToken
		e.ClaimedAt = now
		f.st.stream[e.ID] = e
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeStore) CountStreamEntries(ctx context.Context, status pgtype.Text) (int64, error) {
	var n int64
	for _, e := range f.st.stream {
		if !status.Valid || e.Status == status.String {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateFeedRun(ctx context.Context, feedID int64) (database.FeedRun, error) {
	r := database.FeedRun{ID: f.id(), FeedID: feedID, Status: RunRunning, StartedAt: f.tick()}
	f.st.runs[r.ID] = r
	return r, nil
}

func (f *fakeStore) EnqueueStreamEntry(ctx context.Context, arg database.EnqueueStreamEntryParams) (database.CatalogUpdateStream, error) {
	now := f.tick()
	for id, e := range f.st.stream {
		if e.Status == StreamPending && e.ProductID == arg.ProductID && e.EcommerceID == arg.EcommerceID {
			e.Payload = arg.Payload
			if arg.Priority > e.Priority {
				e.Priority = arg.Priority
			}
			e.AvailableAt = now
			e.LastError = pgtype.Text{}
			e.UpdatedAt = now
			f.st.stream[id] = e
			return e, nil
		}
	}
	e := database.CatalogUpdateStream{
		ID: f.id(), ProductID: arg.ProductID, EcommerceID: arg.EcommerceID, Status: StreamPending,
		Priority: arg.Priority, Payload: arg.Payload, AvailableAt: now, CreatedAt: now, UpdatedAt: now,
	}
	f.st.stream[e.ID] = e
	return e, nil
}

func (f *fakeStore) ExpireSupplierItem(ctx context.Context, arg database.ExpireSupplierItemParams) error {
	it, ok := f.st.items[arg.ID]
	if !ok {
		return nil
	}
	it.Stock = 0
	it.Fingerprint = arg.Fingerprint
	it.FeedRunID = ToPgInt8(arg.FeedRunID)
	it.UpdatedAt = f.tick()
	f.st.items[it.ID] = it
	return nil
}

func fillText(cur, v pgtype.Text) pgtype.Text {
	if cur.Valid && cur.String != "" {
		return cur
	}
	if v.Valid {
		return v
	}
	return cur
}

func fillInt8(cur, v pgtype.Int8) pgtype.Int8 {
	if cur.Valid {
		return cur
	}
	return v
}

func (f *fakeStore) FillProduct(ctx context.Context, arg database.FillProductParams) (database.Product, error) {
	p, ok := f.st.products[arg.ID]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	p.Gtin = fillText(p.Gtin, arg.Gtin)
	p.Partnumber = fillText(p.Partnumber, arg.Partnumber)
	p.BrandID = fillInt8(p.BrandID, arg.BrandID)
	p.CategoryID = fillInt8(p.CategoryID, arg.CategoryID)
	p.Name = fillText(p.Name, arg.Name)
	p.Description = fillText(p.Description, arg.Description)
	p.ImageUrl = fillText(p.ImageUrl, arg.ImageUrl)
	if len(p.ImageUrls) == 0 && arg.ImageUrls != nil {
		p.ImageUrls = arg.ImageUrls
	}
	p.Weight = fillText(p.Weight, arg.Weight)
	p.UpdatedAt = f.tick()
	f.st.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) FinishFeedRun(ctx context.Context, arg database.FinishFeedRunParams) error {
	r, ok := f.st.runs[arg.ID]
	if !ok || r.Status != RunRunning {
		return nil
	}
	r.Status = arg.Status
	r.HttpStatus = arg.HttpStatus
	r.RowsTotal = arg.RowsTotal
	r.RowsChanged = arg.RowsChanged
	r.Error = arg.Error
	r.DurationMs = arg.DurationMs
	r.FinishedAt = f.tick()
	f.st.runs[r.ID] = r
	return nil
}

func (f *fakeStore) GetActiveOffer(ctx context.Context, productID int64) (database.ProductActiveOffer, error) {
	a, ok := f.st.offers[productID]
	if !ok {
		return database.ProductActiveOffer{}, pgx.ErrNoRows
	}
	return a, nil
}

func (f *fakeStore) GetFeed(ctx context.Context, id int64) (database.SupplierFeed, error) {
	fd, ok := f.st.feeds[id]
	if !ok {
		return database.SupplierFeed{}, pgx.ErrNoRows
	}
	return fd, nil
}

func (f *fakeStore) GetFeedBySupplier(ctx context.Context, supplierID int64) (database.SupplierFeed, error) {
	for _, fd := range f.st.feeds {
		if fd.SupplierID == supplierID {
			return fd, nil
		}
	}
	return database.SupplierFeed{}, pgx.ErrNoRows
}

func (f *fakeStore) GetMapperByFeed(ctx context.Context, feedID int64) (database.FeedMapper, error) {
	m, ok := f.st.mappers[feedID]
	if !ok {
		return database.FeedMapper{}, pgx.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) GetProduct(ctx context.Context, id int64) (database.Product, error) {
	p, ok := f.st.products[id]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) GetProductByBrandPartnumber(ctx context.Context, arg database.GetProductByBrandPartnumberParams) (database.Product, error) {
	for _, p := range f.st.products {
		if p.BrandID.Valid && p.BrandID.Int64 == arg.BrandID && p.Partnumber.Valid && p.Partnumber.String == arg.Partnumber {
			return p, nil
		}
	}
	return database.Product{}, pgx.ErrNoRows
}

func (f *fakeStore) GetProductByGTIN(ctx context.Context, gtin string) (database.Product, error) {
	for _, p := range f.st.products {
		if p.Gtin.Valid && p.Gtin.String == gtin {
			return p, nil
		}
	}
	return database.Product{}, pgx.ErrNoRows
}

func (f *fakeStore) GetSupplier(ctx context.Context, id int64) (database.Supplier, error) {
	s, ok := f.st.suppliers[id]
	if !ok {
		return database.Supplier{}, pgx.ErrNoRows
	}
	return s, nil
}

func (f *fakeStore) GetSupplierItem(ctx context.Context, arg database.GetSupplierItemParams) (database.SupplierItem, error) {
	if it, ok := f.itemBySKU(arg.FeedID, arg.Sku); ok {
		return it, nil
	}
	return database.SupplierItem{}, pgx.ErrNoRows
}

func (f *fakeStore) InsertProduct(ctx context.Context, arg database.InsertProductParams) (database.Product, error) {
	for _, p := range f.st.products {
		if arg.Gtin.Valid && p.Gtin == arg.Gtin {
			return database.Product{}, pgx.ErrNoRows
		}
		if arg.BrandID.Valid && arg.Partnumber.Valid && p.BrandID == arg.BrandID && p.Partnumber == arg.Partnumber {
			return database.Product{}, pgx.ErrNoRows
		}
	}
	margin := "0"
	if arg.Margin.Valid {
		margin = arg.Margin.String
	}
	p := database.Product{
		ID: f.id(), Gtin: arg.Gtin, Partnumber: arg.Partnumber, BrandID: arg.BrandID,
		CategoryID: arg.CategoryID, Name: arg.Name, Description: arg.Description,
		ImageUrl: arg.ImageUrl, ImageUrls: arg.ImageUrls, Weight: arg.Weight, Margin: margin,
		CreatedAt: f.tick(),
	}
	p.UpdatedAt = p.CreatedAt
	f.st.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) InsertProductMeta(ctx context.Context, arg database.InsertProductMetaParams) (int64, error) {
	for _, m := range f.st.meta[arg.ProductID] {
		if m.Name == arg.Name {
			return 0, nil
		}
	}
	f.st.meta[arg.ProductID] = append(f.st.meta[arg.ProductID], database.ProductMeta{
		ProductID: arg.ProductID, Name: arg.Name, Value: arg.Value, CreatedAt: f.tick(),
	})
	return 1, nil
}

func (f *fakeStore) InsertSupplierEvent(ctx context.Context, arg database.InsertSupplierEventParams) error {
	f.st.events = append(f.st.events, database.ProductSupplierEvent{
		ID: f.id(), ProductID: arg.ProductID, SupplierID: arg.SupplierID, SupplierItemID: arg.SupplierItemID,
		FeedRunID: arg.FeedRunID, Reason: arg.Reason, Price: arg.Price, Stock: arg.Stock, CreatedAt: f.tick(),
	})
	return nil
}

func (f *fakeStore) InsertSupplierItem(ctx context.Context, arg database.InsertSupplierItemParams) (database.SupplierItem, error) {
	if _, ok := f.itemBySKU(arg.FeedID, arg.Sku); ok {
		return database.SupplierItem{}, uniqueViolation()
	}
	if f.failItemSKU != "" && arg.Sku == f.failItemSKU {
		return database.SupplierItem{}, uniqueViolation()
	}
	it := database.SupplierItem{
		ID: f.id(), SupplierID: arg.SupplierID, FeedID: arg.FeedID, ProductID: arg.ProductID, Sku: arg.Sku,
		Gtin: arg.Gtin, Partnumber: arg.Partnumber, Price: arg.Price, Stock: arg.Stock,
		Fingerprint: arg.Fingerprint, FeedRunID: ToPgInt8(arg.FeedRunID), CreatedAt: f.tick(),
	}
	it.UpdatedAt = it.CreatedAt
	f.st.items[it.ID] = it
	return it, nil
}

func (f *fakeStore) ListProductEvents(ctx context.Context, arg database.ListProductEventsParams) ([]database.ProductSupplierEvent, error) {
	var out []database.ProductSupplierEvent
	for _, e := range f.st.events {
		if e.ProductID == arg.ProductID && !e.CreatedAt.Time.Before(arg.Since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Time.Before(out[j].CreatedAt.Time) })
	if len(out) > int(arg.Limit) {
		out = out[:arg.Limit]
	}
	return out, nil
}

func (f *fakeStore) ListProductMeta(ctx context.Context, productID int64) ([]database.ProductMeta, error) {
	return append([]database.ProductMeta(nil), f.st.meta[productID]...), nil
}

func (f *fakeStore) ListProductOffers(ctx context.Context, productID int64) ([]database.ProductOffer, error) {
	var out []database.ProductOffer
	for _, it := range f.st.items {
		if it.ProductID == productID {
			out = append(out, database.ProductOffer{SupplierItem: it, SupplierName: f.st.suppliers[it.SupplierID].Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) ListStreamEntries(ctx context.Context, arg database.ListStreamEntriesParams) ([]database.CatalogUpdateStream, error) {
	var all []database.CatalogUpdateStream
	for _, e := range f.st.stream {
		if !arg.Status.Valid || e.Status == arg.Status.String {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	start := int(arg.Offset)
	if start > len(all) {
		start = len(all)
	}
	end := start + int(arg.Limit)
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (f *fakeStore) ListUnseenItems(ctx context.Context, arg database.ListUnseenItemsParams) ([]database.SupplierItem, error) {
	var out []database.SupplierItem
	for _, it := range f.st.items {
		if it.FeedID == arg.FeedID && (!it.FeedRunID.Valid || it.FeedRunID.Int64 != arg.FeedRunID) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) LockProductKey(ctx context.Context, key string) error {
	f.lockedKeys = append(f.lockedKeys, key)
	return nil
}

func (f *fakeStore) ReapStaleRuns(ctx context.Context, arg database.ReapStaleRunsParams) ([]int64, error) {
	var ids []int64
	for id, r := range f.st.runs {
		if r.Status == RunRunning && r.StartedAt.Time.Before(arg.StartedBefore) {
			r.Status = RunError
			r.Error = ToPgText(arg.Error)
			r.FinishedAt = f.tick()
			f.st.runs[id] = r
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeStore) ReleaseSavepoint(ctx context.Context, name string) error {
	delete(f.savepoints, name)
	return nil
}

func (f *fakeStore) RollbackToSavepoint(ctx context.Context, name string) error {
	if snap, ok := f.savepoints[name]; ok {
		f.st = snap.clone()
	}
	return nil
}

func (f *fakeStore) Savepoint(ctx context.Context, name string) error {
	f.savepoints[name] = f.st.clone()
	return nil
}

func (f *fakeStore) SetProductMargin(ctx context.Context, arg database.SetProductMarginParams) (database.Product, error) {
	p, ok := f.st.products[arg.ID]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	p.Margin = arg.Margin
	p.UpdatedAt = f.tick()
	f.st.products[p.ID] = p
	return p, nil
}

func (f *fakeStore) TouchSupplierItem(ctx context.Context, arg database.TouchSupplierItemParams) error {
	if it, ok := f.st.items[arg.ID]; ok {
		it.FeedRunID = ToPgInt8(arg.FeedRunID)
		f.st.items[it.ID] = it
	}
	return nil
}

func (f *fakeStore) TryLockFeed(ctx context.Context, feedID int64) (bool, error) {
	return !f.busyFeeds[feedID], nil
}

func (f *fakeStore) UpdateSupplierItem(ctx context.Context, arg database.UpdateSupplierItemParams) (database.SupplierItem, error) {
	it, ok := f.st.items[arg.ID]
	if !ok {
		return database.SupplierItem{}, pgx.ErrNoRows
	}
	it.ProductID = arg.ProductID
	it.Gtin = arg.Gtin
	it.Partnumber = arg.Partnumber
	it.Price = arg.Price
	it.Stock = arg.Stock
	it.Fingerprint = arg.Fingerprint
	it.FeedRunID = ToPgInt8(arg.FeedRunID)
	it.UpdatedAt = f.tick()
	f.st.items[it.ID] = it
	return it, nil
}

func (f *fakeStore) UpsertActiveOffer(ctx context.Context, arg database.UpsertActiveOfferParams) (database.ProductActiveOffer, error) {
	a := database.ProductActiveOffer{
		ProductID: arg.ProductID, SupplierID: arg.SupplierID, SupplierItemID: arg.SupplierItemID,
		UnitCost: arg.UnitCost, UnitPriceSent: arg.UnitPriceSent, StockSent: arg.StockSent, SyncedAt: f.tick(),
	}
	f.st.offers[arg.ProductID] = a
	return a, nil
}

func (f *fakeStore) UpsertBrand(ctx context.Context, name string) (int64, error) {
	if id, ok := f.st.brands[name]; ok {
		return id, nil
	}
	id := f.id()
	f.st.brands[name] = id
	return id, nil
}

func (f *fakeStore) UpsertCategory(ctx context.Context, path string) (int64, error) {
	if id, ok := f.st.categories[path]; ok {
		return id, nil
	}
	id := f.id()
	f.st.categories[path] = id
	return id, nil
}

func (f *fakeStore) UpsertFeed(ctx context.Context, arg database.UpsertFeedParams) (database.SupplierFeed, error) {
	var existing *database.SupplierFeed
	for _, fd := range f.st.feeds {
		if fd.Url == arg.Url && fd.SupplierID != arg.SupplierID {
			return database.SupplierFeed{}, uniqueViolation()
		}
		if fd.SupplierID == arg.SupplierID {
			fd := fd
			existing = &fd
		}
	}
	fd := database.SupplierFeed{ID: f.id(), CreatedAt: f.tick()}
	if existing != nil {
		fd.ID, fd.CreatedAt = existing.ID, existing.CreatedAt
	}
	fd.SupplierID = arg.SupplierID
	fd.Kind = arg.Kind
	fd.Format = arg.Format
	fd.Url = arg.Url
	fd.Headers = arg.Headers
	fd.Params = arg.Params
	fd.AuthKind = arg.AuthKind
	fd.Auth = arg.Auth
	fd.Extra = arg.Extra
	fd.CsvDelimiter = arg.CsvDelimiter
	fd.Active = arg.Active
	fd.UpdatedAt = f.tick()
	f.st.feeds[fd.ID] = fd
	return fd, nil
}

func (f *fakeStore) UpsertMapper(ctx context.Context, arg database.UpsertMapperParams) (database.FeedMapper, error) {
	m, ok := f.st.mappers[arg.FeedID]
	if !ok {
		m = database.FeedMapper{ID: f.id(), FeedID: arg.FeedID, Version: 1, CreatedAt: f.tick()}
	} else if arg.BumpVersion {
		m.Version++
	}
	m.Profile = arg.Profile
	m.UpdatedAt = f.tick()
	f.st.mappers[arg.FeedID] = m
	return m, nil
}

// fakeFetcher serves canned responses.
type fakeFetcher struct {
	onFetch  func()
	resp     feed.Response
	preview  feed.PreviewResult
	requests []feed.Request
	previews []feed.PreviewRequest
}

func (f *fakeFetcher) Fetch(ctx context.Context, req feed.Request) feed.Response {
	f.requests = append(f.requests, req)
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.resp
}

func (f *fakeFetcher) Preview(ctx context.Context, req feed.PreviewRequest) feed.PreviewResult {
	f.previews = append(f.previews, req)
	return f.preview
}

func csvResponse(body string) feed.Response {
	return feed.Response{Status: 200, ContentType: "text/csv; charset=utf-8", Body: []byte(body)}
}

func newTestService(store *fakeStore, fetcher *fakeFetcher) *Service {
	svc := NewService(store, fetcher, Options{})
	svc.now = func() time.Time { return store.clock }
	return svc
}
