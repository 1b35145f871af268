package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/metrics"
)

// ProductDetailOptions selects the optional parts of GetProductDetail.
type ProductDetailOptions struct {
	Meta           bool
	Offers         bool
	Events         bool
	EventsDays     int
	EventsLimit    int
	AggregateDaily bool
}

// DefaultProductDetailOptions expands everything over the last 90 days.
func DefaultProductDetailOptions() ProductDetailOptions {
	return ProductDetailOptions{
		Meta:           true,
		Offers:         true,
		Events:         true,
		EventsDays:     90,
		EventsLimit:    2000,
		AggregateDaily: true,
	}
}

type ProductOut struct {
	ID          int64     `json:"id"`
	GTIN        *string   `json:"gtin"`
	Partnumber  *string   `json:"partnumber"`
	BrandID     *int64    `json:"brand_id"`
	CategoryID  *int64    `json:"category_id"`
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	ImageURL    *string   `json:"image_url"`
	ImageURLs   []string  `json:"image_urls"`
	Weight      *string   `json:"weight"`
	Margin      string    `json:"margin"`
	EcommerceID *string   `json:"ecommerce_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newProductOut(p database.Product) ProductOut {
	urls := p.ImageUrls
	if urls == nil {
		urls = []string{}
	}
	return ProductOut{
		ID:          p.ID,
		GTIN:        TextOrNil(p.Gtin),
		Partnumber:  TextOrNil(p.Partnumber),
		BrandID:     Int8OrNil(p.BrandID),
		CategoryID:  Int8OrNil(p.CategoryID),
		Name:        TextOrNil(p.Name),
		Description: TextOrNil(p.Description),
		ImageURL:    TextOrNil(p.ImageUrl),
		ImageURLs:   urls,
		Weight:      TextOrNil(p.Weight),
		Margin:      p.Margin,
		EcommerceID: TextOrNil(p.EcommerceID),
		CreatedAt:   p.CreatedAt.Time,
		UpdatedAt:   p.UpdatedAt.Time,
	}
}

type MetaOut struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type OfferOut struct {
	ID           int64     `json:"id"`
	SupplierID   int64     `json:"supplier_id"`
	SupplierName string    `json:"supplier_name"`
	FeedID       int64     `json:"feed_id"`
	SKU          string    `json:"sku"`
	Price        *string   `json:"price"`
	Stock        int32     `json:"stock"`
	LastSeenRun  *int64    `json:"last_seen_run_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newOfferOut(o database.ProductOffer) OfferOut {
	return OfferOut{
		ID:           o.ID,
		SupplierID:   o.SupplierID,
		SupplierName: o.SupplierName,
		FeedID:       o.FeedID,
		SKU:          o.Sku,
		Price:        TextOrNil(o.Price),
		Stock:        o.Stock,
		LastSeenRun:  Int8OrNil(o.FeedRunID),
		UpdatedAt:    o.UpdatedAt.Time,
	}
}

type EventOut struct {
	CreatedAt  time.Time `json:"created_at"`
	Reason     string    `json:"reason"`
	Price      *string   `json:"price"`
	Stock      int32     `json:"stock"`
	SupplierID int64     `json:"supplier_id"`
	FeedRunID  *int64    `json:"feed_run_id"`
}

// SeriesPoint is the last observed price and stock of one day.
type SeriesPoint struct {
	Date  string  `json:"date"`
	Price *string `json:"price"`
	Stock int32   `json:"stock"`
}

type ProductStats struct {
	FirstSeen      time.Time  `json:"first_seen"`
	LastSeen       time.Time  `json:"last_seen"`
	SuppliersCount int        `json:"suppliers_count"`
	OffersInStock  int        `json:"offers_in_stock"`
	LastChangeAt   *time.Time `json:"last_change_at"`
}

// ProductDetail is a product with its offers, history and statistics.
type ProductDetail struct {
	Product     ProductOut    `json:"product"`
	Meta        []MetaOut     `json:"meta"`
	Offers      []OfferOut    `json:"offers"`
	BestOffer   *OfferOut     `json:"best_offer"`
	ActiveOffer *ActiveOffer  `json:"active_offer"`
	Stats       ProductStats  `json:"stats"`
	Events      []EventOut    `json:"events"`
	SeriesDaily []SeriesPoint `json:"series_daily"`
}

// GetProductDetail assembles the detail view of a product.
func (s *Service) GetProductDetail(ctx context.Context, productID int64, opts ProductDetailOptions) (ProductDetail, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		if database.IsNoRows(err) {
			return ProductDetail{}, NotFoundf("product %d not found", productID)
		}
		return ProductDetail{}, fmt.Errorf("get product %d: %w", productID, err)
	}

	out := ProductDetail{
		Product: newProductOut(p),
		Meta:    []MetaOut{},
		Offers:  []OfferOut{},
	}

	if opts.Meta {
		meta, err := s.store.ListProductMeta(ctx, productID)
		if err != nil {
			return ProductDetail{}, fmt.Errorf("list meta: %w", err)
		}
		for _, m := range meta {
			out.Meta = append(out.Meta, MetaOut{Name: m.Name, Value: m.Value})
		}
	}

	suppliers := make(map[int64]bool)
	if opts.Offers {
		offers, err := s.store.ListProductOffers(ctx, productID)
		if err != nil {
			return ProductDetail{}, fmt.Errorf("list offers: %w", err)
		}
		for _, o := range offers {
			out.Offers = append(out.Offers, newOfferOut(o))
			suppliers[o.SupplierID] = true
			if o.Stock > 0 {
				out.Stats.OffersInStock++
			}
		}
		if best, ok := bestOffer(offers); ok {
			bo := newOfferOut(best)
			out.BestOffer = &bo
		}
	}
	out.Stats.SuppliersCount = len(suppliers)

	if isLinked(p) {
		ao, err := s.store.GetActiveOffer(ctx, productID)
		if err != nil && !database.IsNoRows(err) {
			return ProductDetail{}, fmt.Errorf("get active offer: %w", err)
		}
		if err == nil {
			a := newActiveOffer(ao)
			out.ActiveOffer = &a
		}
	}

	out.Stats.FirstSeen = p.CreatedAt.Time
	out.Stats.LastSeen = p.UpdatedAt.Time
	if out.Stats.LastSeen.IsZero() {
		out.Stats.LastSeen = p.CreatedAt.Time
	}

	if opts.Events {
		days, limit := opts.EventsDays, opts.EventsLimit
		if days <= 0 {
			days = 90
		}
		if limit <= 0 {
			limit = 2000
		}
		events, err := s.store.ListProductEvents(ctx, database.ListProductEventsParams{
			ProductID: productID,
			Since:     s.now().AddDate(0, 0, -days),
			Limit:     int32(limit),
		})
		if err != nil {
			return ProductDetail{}, fmt.Errorf("list events: %w", err)
		}

		if len(events) > 0 {
			out.Events = make([]EventOut, 0, len(events))
			for _, e := range events {
				out.Events = append(out.Events, EventOut{
					CreatedAt:  e.CreatedAt.Time,
					Reason:     e.Reason,
					Price:      TextOrNil(e.Price),
					Stock:      e.Stock,
					SupplierID: e.SupplierID,
					FeedRunID:  Int8OrNil(e.FeedRunID),
				})
			}
			out.Stats.FirstSeen = events[0].CreatedAt.Time
			out.Stats.LastSeen = events[len(events)-1].CreatedAt.Time
			for i := len(events) - 1; i >= 0; i-- {
				if !strings.EqualFold(events[i].Reason, EventInit) {
					t := events[i].CreatedAt.Time
					out.Stats.LastChangeAt = &t
					break
				}
			}
			if opts.AggregateDaily {
				out.SeriesDaily = aggregateDaily(out.Events)
			}
		}
	}

	return out, nil
}

// bestOffer is the cheapest priced offer with stock.
func bestOffer(offers []database.ProductOffer) (database.ProductOffer, bool) {
	var best database.ProductOffer
	var bestPrice decimal.Decimal
	found := false
	for _, o := range offers {
		if o.Stock <= 0 {
			continue
		}
		price, ok := parseDecimalText(o.Price)
		if !ok {
			continue
		}
		if !found || price.LessThan(bestPrice) {
			best, bestPrice, found = o, price, true
		}
	}
	return best, found
}

// aggregateDaily keeps the last event of each UTC day. events must be in
// ascending time order.
func aggregateDaily(events []EventOut) []SeriesPoint {
	var out []SeriesPoint
	for _, e := range events {
		day := e.CreatedAt.UTC().Format("2006-01-02")
		point := SeriesPoint{Date: day, Price: e.Price, Stock: e.Stock}
		if n := len(out); n > 0 && out[n-1].Date == day {
			out[n-1] = point
			continue
		}
		out = append(out, point)
	}
	return out
}

// MarginResult is the outcome of SetProductMargin.
type MarginResult struct {
	Product     ProductOut  `json:"product"`
	ActiveOffer ActiveOffer `json:"active_offer"`
	Enqueued    bool        `json:"enqueued"`
}

// SetProductMargin changes a product's margin and recomputes its active
// offer in one transaction.
func (s *Service) SetProductMargin(ctx context.Context, productID int64, margin string) (MarginResult, error) {
	m, err := decimal.NewFromString(strings.TrimSpace(margin))
	if err != nil {
		return MarginResult{}, InvalidArgumentf("margin %q is not a number", margin)
	}
	if m.IsNegative() {
		return MarginResult{}, InvalidArgumentf("margin must be >= 0")
	}

	var out MarginResult
	var reason string
	err = s.store.ExecTx(ctx, func(q database.Querier) error {
		p, err := q.SetProductMargin(ctx, database.SetProductMarginParams{ID: productID, Margin: m.String()})
		if err != nil {
			if database.IsNoRows(err) {
				return NotFoundf("product %d not found", productID)
			}
			return fmt.Errorf("set margin: %w", err)
		}
		res, err := recomputeActiveOffer(ctx, q, productID, ReasonMarginUpdate)
		if err != nil {
			return err
		}
		out = MarginResult{Product: newProductOut(p), ActiveOffer: newActiveOffer(res.Offer), Enqueued: res.Enqueued}
		reason = res.Reason
		return nil
	})
	if err != nil {
		return MarginResult{}, err
	}
	if out.Enqueued {
		metrics.StreamEnqueued(reason)
	}
	return out, nil
}
