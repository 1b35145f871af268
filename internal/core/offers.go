package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/catalogsync/internal/database"
)

// fingerprint hashes the mutable offer values. An empty price hashes as "".
func fingerprint(price string, stock int32) string {
	sum := sha256.Sum256([]byte(price + "|" + strconv.FormatInt(int64(stock), 10)))
	return hex.EncodeToString(sum[:])
}

// offerOutcome reports what upsertOffer did to a supplier item.
type offerOutcome struct {
	Item    database.SupplierItem
	Created bool
	Changed bool
	// MovedFrom is the product the item pointed at before this row, when it
	// now resolves to a different one.
	MovedFrom int64
}

func (o offerOutcome) touched() bool { return o.Created || o.Changed }

// upsertOffer writes one supplier's claim for a product. Items are keyed by
// (feed, sku). An unchanged item only has its feed_run_id refreshed.
func upsertOffer(ctx context.Context, q database.Querier, supplierID, feedID, runID, productID int64, p productPayload, o offerPayload) (offerOutcome, error) {
	fp := fingerprint(o.Price, o.Stock)

	existing, err := q.GetSupplierItem(ctx, database.GetSupplierItemParams{FeedID: feedID, Sku: o.SKU})
	if err != nil && !database.IsNoRows(err) {
		return offerOutcome{}, fmt.Errorf("get supplier item %q: %w", o.SKU, err)
	}

	if database.IsNoRows(err) {
		item, err := q.InsertSupplierItem(ctx, database.InsertSupplierItemParams{
			SupplierID:  supplierID,
			FeedID:      feedID,
			ProductID:   productID,
			Sku:         o.SKU,
			Gtin:        ToPgText(p.GTIN),
			Partnumber:  ToPgText(p.Partnumber),
			Price:       ToPgText(o.Price),
			Stock:       o.Stock,
			Fingerprint: fp,
			FeedRunID:   runID,
		})
		if err != nil {
			return offerOutcome{}, fmt.Errorf("insert supplier item %q: %w", o.SKU, err)
		}
		if err := recordEvent(ctx, q, item, runID, EventInit); err != nil {
			return offerOutcome{}, err
		}
		return offerOutcome{Item: item, Created: true}, nil
	}

	changed := existing.Fingerprint != fp ||
		existing.Gtin != ToPgText(p.GTIN) ||
		existing.Partnumber != ToPgText(p.Partnumber) ||
		existing.ProductID != productID
	if !changed {
		if err := q.TouchSupplierItem(ctx, database.TouchSupplierItemParams{ID: existing.ID, FeedRunID: runID}); err != nil {
			return offerOutcome{}, fmt.Errorf("touch supplier item %d: %w", existing.ID, err)
		}
		existing.FeedRunID = ToPgInt8(runID)
		return offerOutcome{Item: existing}, nil
	}

	item, err := q.UpdateSupplierItem(ctx, database.UpdateSupplierItemParams{
		ID:          existing.ID,
		ProductID:   productID,
		Gtin:        ToPgText(p.GTIN),
		Partnumber:  ToPgText(p.Partnumber),
		Price:       ToPgText(o.Price),
		Stock:       o.Stock,
		Fingerprint: fp,
		FeedRunID:   runID,
	})
	if err != nil {
		return offerOutcome{}, fmt.Errorf("update supplier item %d: %w", existing.ID, err)
	}
	if err := recordEvent(ctx, q, item, runID, EventChange); err != nil {
		return offerOutcome{}, err
	}

	out := offerOutcome{Item: item, Changed: true}
	if existing.ProductID != productID {
		out.MovedFrom = existing.ProductID
	}
	return out, nil
}

// recordEvent appends to the supplier price history.
func recordEvent(ctx context.Context, q database.Querier, item database.SupplierItem, runID int64, reason string) error {
	err := q.InsertSupplierEvent(ctx, database.InsertSupplierEventParams{
		ProductID:      item.ProductID,
		SupplierID:     item.SupplierID,
		SupplierItemID: ToPgInt8(item.ID),
		FeedRunID:      ToPgInt8(runID),
		Reason:         reason,
		Price:          item.Price,
		Stock:          item.Stock,
	})
	if err != nil {
		return fmt.Errorf("record %s event for item %d: %w", reason, item.ID, err)
	}
	return nil
}

// eolResult counts what the end-of-life pass did.
type eolResult struct {
	Unseen   int
	Marked   int
	Affected []int64
}

// expireUnseen zeroes the stock of every item of the feed the current run
// did not observe. Every unseen item is stamped with the run so it is not
// reported again, and its product is affected even if stock was already 0.
func expireUnseen(ctx context.Context, q database.Querier, feedID, runID int64) (eolResult, error) {
	items, err := q.ListUnseenItems(ctx, database.ListUnseenItemsParams{FeedID: feedID, FeedRunID: runID})
	if err != nil {
		return eolResult{}, fmt.Errorf("list unseen items: %w", err)
	}

	var res eolResult
	for _, item := range items {
		res.Unseen++
		res.Affected = append(res.Affected, item.ProductID)

		if item.Stock <= 0 {
			if err := q.TouchSupplierItem(ctx, database.TouchSupplierItemParams{ID: item.ID, FeedRunID: runID}); err != nil {
				return res, fmt.Errorf("touch unseen item %d: %w", item.ID, err)
			}
			continue
		}

		err := q.ExpireSupplierItem(ctx, database.ExpireSupplierItemParams{
			ID:          item.ID,
			FeedRunID:   runID,
			Fingerprint: fingerprint(priceText(item.Price), 0),
		})
		if err != nil {
			return res, fmt.Errorf("expire item %d: %w", item.ID, err)
		}
		item.Stock = 0
		if err := recordEvent(ctx, q, item, runID, EventEOL); err != nil {
			return res, err
		}
		res.Marked++
	}
	return res, nil
}

// priceText returns the stored price the way upsertOffer hashed it.
func priceText(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}
