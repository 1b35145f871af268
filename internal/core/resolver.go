package core

// resolver.go turns a mapped feed row into a catalog product. A product is
// identified by its GTIN, or by brand plus part number when no GTIN is
// present. Descriptive columns are only ever filled, never overwritten.

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/mapping"
)

const (
	maxBrandLen    = 200
	maxCategoryLen = 300
)

var productKeys = map[string]bool{
	"gtin": true, "mpn": true, "partnumber": true, "name": true, "description": true,
	"image_url": true, "image_urls": true, "images": true, "category": true, "weight": true, "brand": true,
}

var offerKeys = map[string]bool{"price": true, "stock": true, "sku": true}

// errNoProductKey rejects rows that carry neither a GTIN nor brand plus
// part number.
var errNoProductKey = errors.New("missing product key: need gtin or brand+partnumber")

type productPayload struct {
	GTIN        string
	Partnumber  string
	Brand       string
	Category    string
	Name        string
	Description string
	ImageURL    string
	ImageURLs   []string
	Weight      string
}

type offerPayload struct {
	SKU   string
	Price string
	Stock int32
}

type metaAttr struct {
	Name  string
	Value string
}

// splitPayload separates a mapped row into product columns, offer values and
// meta attributes. index is the row's position in the feed and backs the
// synthetic sku of rows that have no other identifier.
func splitPayload(row mapping.Row, index int) (productPayload, offerPayload, []metaAttr) {
	row = mapping.NormalizeImages(row)

	p := productPayload{
		GTIN:       textOf(row["gtin"]),
		Partnumber: firstNonEmpty(textOf(row["mpn"]), textOf(row["partnumber"])),
		Brand:      mapping.NormalizeName(row["brand"], maxBrandLen),
		Category:   mapping.NormalizeName(row["category"], maxCategoryLen),
		ImageURL:   textOf(row["image_url"]),
	}
	p.Name, _ = mapping.CleanText(row["name"])
	p.Description = textOf(row["description"])
	if urls, ok := row["image_urls"].([]string); ok {
		p.ImageURLs = urls
	}
	if w, ok := mapping.ToDecimalString(row["weight"]); ok {
		p.Weight = w
	}

	o := offerPayload{
		SKU: firstNonEmpty(textOf(row["sku"]), p.Partnumber, p.GTIN, "row-"+strconv.Itoa(index)),
	}
	if price, ok := mapping.ToDecimalString(row["price"]); ok {
		o.Price = price
	}
	if n, ok := mapping.ToInt(row["stock"]); ok && n > 0 {
		o.Stock = clampInt32(n)
	}

	var meta []metaAttr
	for k, v := range row {
		if productKeys[k] || offerKeys[k] || mapping.IsEmpty(v) {
			continue
		}
		meta = append(meta, metaAttr{Name: k, Value: mapping.AsString(v)})
	}
	sort.Slice(meta, func(i, j int) bool { return meta[i].Name < meta[j].Name })

	return p, o, meta
}

func textOf(v any) string {
	return strings.TrimSpace(mapping.AsString(v))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func clampInt32(n int64) int32 {
	const maxInt32 = 1<<31 - 1
	if n > maxInt32 {
		return maxInt32
	}
	if n < 0 {
		return 0
	}
	return int32(n)
}

// resolvedProduct is the outcome of resolveProduct.
type resolvedProduct struct {
	Product database.Product
	Created bool
}

// resolveProduct finds or creates the product for p. Creation holds a
// transaction advisory lock on the identity key, inserts with ON CONFLICT DO
// NOTHING and re-reads once when another writer won the race.
func resolveProduct(ctx context.Context, q database.Querier, p productPayload, defaultMargin string) (resolvedProduct, error) {
	var brandID, categoryID int64
	var err error
	if p.Brand != "" {
		if brandID, err = q.UpsertBrand(ctx, p.Brand); err != nil {
			return resolvedProduct{}, fmt.Errorf("upsert brand: %w", err)
		}
	}
	if p.Category != "" {
		if categoryID, err = q.UpsertCategory(ctx, p.Category); err != nil {
			return resolvedProduct{}, fmt.Errorf("upsert category: %w", err)
		}
	}

	var key string
	switch {
	case p.GTIN != "":
		key = "gtin:" + p.GTIN
	case brandID > 0 && p.Partnumber != "":
		key = fmt.Sprintf("bp:%d:%s", brandID, p.Partnumber)
	default:
		return resolvedProduct{}, errNoProductKey
	}

	lookup := func() (database.Product, bool, error) {
		return lookupProduct(ctx, q, p.GTIN, brandID, p.Partnumber)
	}

	existing, found, err := lookup()
	if err != nil {
		return resolvedProduct{}, err
	}
	if !found {
		if err := q.LockProductKey(ctx, key); err != nil {
			return resolvedProduct{}, fmt.Errorf("lock product key: %w", err)
		}
		if existing, found, err = lookup(); err != nil {
			return resolvedProduct{}, err
		}
	}

	if !found {
		created, err := q.InsertProduct(ctx, database.InsertProductParams{
			Gtin:        ToPgText(p.GTIN),
			Partnumber:  ToPgText(p.Partnumber),
			BrandID:     ToPgInt8(brandID),
			CategoryID:  ToPgInt8(categoryID),
			Name:        ToPgText(p.Name),
			Description: ToPgText(p.Description),
			ImageUrl:    ToPgText(p.ImageURL),
			ImageUrls:   p.ImageURLs,
			Weight:      ToPgText(p.Weight),
			Margin:      ToPgText(defaultMargin),
		})
		if err == nil {
			return resolvedProduct{Product: created, Created: true}, nil
		}
		if !database.IsNoRows(err) {
			return resolvedProduct{}, fmt.Errorf("insert product: %w", err)
		}
		// The other identity key collided; re-read once.
		if existing, found, err = lookup(); err != nil {
			return resolvedProduct{}, err
		}
		if !found {
			return resolvedProduct{}, fmt.Errorf("product %s vanished after insert conflict", key)
		}
	}

	filled, err := q.FillProduct(ctx, database.FillProductParams{
		ID:          existing.ID,
		Gtin:        ToPgText(p.GTIN),
		Partnumber:  ToPgText(p.Partnumber),
		BrandID:     ToPgInt8(brandID),
		CategoryID:  ToPgInt8(categoryID),
		Name:        ToPgText(p.Name),
		Description: ToPgText(p.Description),
		ImageUrl:    ToPgText(p.ImageURL),
		ImageUrls:   p.ImageURLs,
		Weight:      ToPgText(p.Weight),
	})
	if err != nil {
		return resolvedProduct{}, fmt.Errorf("fill product %d: %w", existing.ID, err)
	}
	return resolvedProduct{Product: filled}, nil
}

func lookupProduct(ctx context.Context, q database.Querier, gtin string, brandID int64, partnumber string) (database.Product, bool, error) {
	if gtin != "" {
		prod, err := q.GetProductByGTIN(ctx, gtin)
		if err == nil {
			return prod, true, nil
		}
		if !database.IsNoRows(err) {
			return database.Product{}, false, fmt.Errorf("get product by gtin: %w", err)
		}
	}
	if brandID > 0 && partnumber != "" {
		prod, err := q.GetProductByBrandPartnumber(ctx, database.GetProductByBrandPartnumberParams{
			BrandID:    brandID,
			Partnumber: partnumber,
		})
		if err == nil {
			return prod, true, nil
		}
		if !database.IsNoRows(err) {
			return database.Product{}, false, fmt.Errorf("get product by brand/partnumber: %w", err)
		}
	}
	return database.Product{}, false, nil
}

// mergeMeta inserts attributes the product does not have yet and returns
// how many were added. Existing names keep their value.
func mergeMeta(ctx context.Context, q database.Querier, productID int64, meta []metaAttr) (int, error) {
	added := 0
	for _, m := range meta {
		n, err := q.InsertProductMeta(ctx, database.InsertProductMetaParams{
			ProductID: productID,
			Name:      m.Name,
			Value:     m.Value,
		})
		if err != nil {
			return added, fmt.Errorf("insert meta %q: %w", m.Name, err)
		}
		added += int(n)
	}
	return added, nil
}

// productRef is the product portion of a stream payload.
type productRef struct {
	ID          int64   `json:"id"`
	GTIN        *string `json:"gtin"`
	Partnumber  *string `json:"partnumber"`
	EcommerceID *string `json:"ecommerce_id"`
	Name        *string `json:"name"`
}

func newProductRef(p database.Product) productRef {
	return productRef{
		ID:          p.ID,
		GTIN:        TextOrNil(p.Gtin),
		Partnumber:  TextOrNil(p.Partnumber),
		EcommerceID: TextOrNil(p.EcommerceID),
		Name:        TextOrNil(p.Name),
	}
}

func isLinked(p database.Product) bool {
	return p.EcommerceID.Valid && strings.TrimSpace(p.EcommerceID.String) != ""
}
