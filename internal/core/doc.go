// Package core implements the catalog: feed ingestion, product resolution,
// supplier offers, active offer selection and the catalog update stream.
//
// It has no knowledge of HTTP. Handlers, the Kafka relay and tests all call
// the same [Service] methods.
//
// # Ingestion
//
// [Service.IngestSupplier] downloads a supplier feed through a [Fetcher],
// decodes it into rows and runs each row through the feed's mapping
// profile. Mapped rows resolve to a product (by GTIN, else brand plus part
// number), fill its empty columns, add new meta attributes and upsert the
// supplier's offer for it. Offers missing from the feed are expired by the
// end-of-life pass. Every product touched by the run gets its active offer
// recomputed.
//
// Every run ends in a terminal feed_runs status (ok, partial or error) and
// returns a [RunSummary]. Bad rows are counted, not fatal.
//
// # Active offers
//
// The active offer of a product is its cheapest in-stock offer (ties go to
// the higher stock, then the lower supplier id). With nothing in stock the
// cheapest offer overall is used. The advertised price is the cost times
// one plus the product margin, rounded to cents.
//
// # Catalog update stream
//
// When the advertised state of a storefront-linked product changes, an
// entry is enqueued. There is at most one pending entry per product and
// storefront id; re-enqueueing refreshes it. Consumers claim batches with
// [Service.GetPendingEvents] and acknowledge them with [Service.AckEvents].
//
// # Error Handling
//
// Operations return [AppError] values for not-found, invalid-argument and
// conflict cases; [HTTPStatus] and [MapError] translate any error for the
// transport layer. Codes:
//
//   - NF001, REQ001, REQ002, CON001: typed errors
//   - DB001-DB007: database errors
//   - FEED001-FEED007: download and decoding errors
//   - MAP001-MAP003: mapping profile errors
//   - RUN001-RUN002: run admission and reaping
package core
