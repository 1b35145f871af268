package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/JonMunkholm/catalogsync/internal/database"
)

// Stream reasons and priorities.
const (
	ReasonStockout     = "stockout"
	ReasonRestock      = "restock"
	ReasonOfferChanged = "offer_changed"
	ReasonMarginUpdate = "margin_update"

	PriorityStockout = 10
	PriorityRestock  = 8
	PriorityDefault  = 5
)

// rankOffers orders offers best first: in-stock before out-of-stock, then
// lowest price, highest stock, lowest supplier id. Offers without a price
// sort after priced ones within their stock group.
func rankOffers(offers []database.ProductOffer) []database.ProductOffer {
	ranked := make([]database.ProductOffer, len(offers))
	copy(ranked, offers)

	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if inA, inB := a.Stock > 0, b.Stock > 0; inA != inB {
			return inA
		}
		pa, okA := parseDecimalText(a.Price)
		pb, okB := parseDecimalText(b.Price)
		if okA != okB {
			return okA
		}
		if okA {
			if c := pa.Cmp(pb); c != 0 {
				return c < 0
			}
		}
		if a.Stock != b.Stock {
			return a.Stock > b.Stock
		}
		if a.SupplierID != b.SupplierID {
			return a.SupplierID < b.SupplierID
		}
		return a.ID < b.ID
	})
	return ranked
}

// selectOffer picks the offer to advertise. Offers without a parseable
// price never compete. Among the rest the stock>0 subset wins when it is
// non-empty, otherwise every priced offer competes.
func selectOffer(offers []database.ProductOffer) (database.ProductOffer, bool) {
	priced := make([]database.ProductOffer, 0, len(offers))
	for _, o := range offers {
		if _, ok := parseDecimalText(o.Price); ok {
			priced = append(priced, o)
		}
	}
	if len(priced) == 0 {
		return database.ProductOffer{}, false
	}
	return rankOffers(priced)[0], true
}

// salePrice is cost * (1 + margin) rounded half away from zero to cents.
// Negative margins count as zero.
func salePrice(cost decimal.Decimal, margin string) decimal.Decimal {
	m, err := decimal.NewFromString(margin)
	if err != nil || m.IsNegative() {
		m = decimal.Zero
	}
	return cost.Mul(decimal.NewFromInt(1).Add(m)).Round(2)
}

// ActiveOffer is the advertised offer snapshot.
type ActiveOffer struct {
	ProductID      int64   `json:"product_id"`
	SupplierID     *int64  `json:"supplier_id"`
	SupplierItemID *int64  `json:"supplier_item_id"`
	UnitCost       *string `json:"unit_cost"`
	UnitPriceSent  *string `json:"unit_price_sent"`
	StockSent      int32   `json:"stock_sent"`
	SyncedAt       *string `json:"synced_at,omitempty"`
}

func newActiveOffer(a database.ProductActiveOffer) ActiveOffer {
	out := ActiveOffer{
		ProductID:      a.ProductID,
		SupplierID:     Int8OrNil(a.SupplierID),
		SupplierItemID: Int8OrNil(a.SupplierItemID),
		UnitCost:       TextOrNil(a.UnitCost),
		UnitPriceSent:  TextOrNil(a.UnitPriceSent),
		StockSent:      a.StockSent,
	}
	if a.SyncedAt.Valid {
		s := a.SyncedAt.Time.UTC().Format(timeLayout)
		out.SyncedAt = &s
	}
	return out
}

// sameAdvertisedState compares what the storefront would see.
func sameAdvertisedState(a, b database.ProductActiveOffer) bool {
	return a.SupplierID == b.SupplierID &&
		a.SupplierItemID == b.SupplierItemID &&
		a.StockSent == b.StockSent &&
		sameDecimalText(a.UnitPriceSent, b.UnitPriceSent)
}

// streamPriority derives priority and reason from the stock transition.
func streamPriority(prevStock, newStock int32, fallback string) (int32, string) {
	switch {
	case prevStock > 0 && newStock == 0:
		return PriorityStockout, ReasonStockout
	case prevStock == 0 && newStock > 0:
		return PriorityRestock, ReasonRestock
	default:
		return PriorityDefault, fallback
	}
}

// streamPayload is the body of a catalog update stream entry.
type streamPayload struct {
	Reason      string       `json:"reason"`
	Product     productRef   `json:"product"`
	ActiveOffer *ActiveOffer `json:"active_offer"`
}

// recomputeResult reports one active offer recompute.
type recomputeResult struct {
	Offer    database.ProductActiveOffer
	Changed  bool
	Enqueued bool
	Reason   string
}

// recomputeActiveOffer selects the winning offer for a product, stores the
// snapshot and enqueues a stream entry when the product is linked to the
// storefront and the advertised state changed. reason is used when the
// stock transition does not imply a more specific one.
func recomputeActiveOffer(ctx context.Context, q database.Querier, productID int64, reason string) (recomputeResult, error) {
	product, err := q.GetProduct(ctx, productID)
	if err != nil {
		if database.IsNoRows(err) {
			return recomputeResult{}, NotFoundf("product %d not found", productID)
		}
		return recomputeResult{}, fmt.Errorf("get product %d: %w", productID, err)
	}

	prev, err := q.GetActiveOffer(ctx, productID)
	if err != nil && !database.IsNoRows(err) {
		return recomputeResult{}, fmt.Errorf("get active offer %d: %w", productID, err)
	}

	offers, err := q.ListProductOffers(ctx, productID)
	if err != nil {
		return recomputeResult{}, fmt.Errorf("list offers %d: %w", productID, err)
	}

	params := database.UpsertActiveOfferParams{ProductID: productID}
	if winner, ok := selectOffer(offers); ok {
		params.SupplierID = ToPgInt8(winner.SupplierID)
		params.SupplierItemID = ToPgInt8(winner.ID)
		params.StockSent = winner.Stock
		if cost, ok := parseDecimalText(winner.Price); ok {
			params.UnitCost = ToPgDecimal(cost)
			params.UnitPriceSent = ToPgDecimal(salePrice(cost, product.Margin))
		}
	}

	next, err := q.UpsertActiveOffer(ctx, params)
	if err != nil {
		return recomputeResult{}, fmt.Errorf("upsert active offer %d: %w", productID, err)
	}

	res := recomputeResult{Offer: next, Changed: !sameAdvertisedState(prev, next)}
	if !res.Changed || !isLinked(product) {
		return res, nil
	}

	priority, why := streamPriority(prev.StockSent, next.StockSent, reason)
	if err := enqueueUpdate(ctx, q, product, next, priority, why); err != nil {
		return res, err
	}
	res.Enqueued = true
	res.Reason = why
	return res, nil
}

func enqueueUpdate(ctx context.Context, q database.Querier, product database.Product, offer database.ProductActiveOffer, priority int32, reason string) error {
	payload := streamPayload{Reason: reason, Product: newProductRef(product)}
	if offer.SupplierItemID.Valid {
		ao := newActiveOffer(offer)
		payload.ActiveOffer = &ao
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode stream payload: %w", err)
	}

	_, err = q.EnqueueStreamEntry(ctx, database.EnqueueStreamEntryParams{
		ProductID:   product.ID,
		EcommerceID: product.EcommerceID.String,
		Priority:    priority,
		Payload:     body,
	})
	if err != nil {
		return fmt.Errorf("enqueue stream entry for product %d: %w", product.ID, err)
	}
	return nil
}
