package core

// ingest.go runs one supplier feed through the catalog.
//
// A run is recorded as a feed_runs row committed before any work starts, so
// it survives a rolled-back transaction. Everything the rows change happens
// in a single transaction:
//
//  1. a transaction advisory lock on the feed rejects overlapping runs
//  2. each row is mapped, resolved and upserted inside its own SAVEPOINT, so
//     a failing row is rolled back and counted without aborting the run
//  3. the end-of-life pass expires items the run did not see
//  4. active offers of every affected product are recomputed and storefront
//     linked products are enqueued on the catalog update stream
//
// The run row is finalized afterwards, whatever happened, and the caller
// gets a RunSummary rather than an error for feed-level failures.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/logging"
	"github.com/JonMunkholm/catalogsync/internal/mapping"
	"github.com/JonMunkholm/catalogsync/internal/metrics"
)

const progressEvery = 500

// errEmptyFeed guards the end-of-life pass against wiping a supplier's
// offers because of a blank download.
var errEmptyFeed = errors.New("empty feed")

// runState accumulates counters while a run executes.
type runState struct {
	supplier database.Supplier
	feed     database.SupplierFeed
	runID    int64
	log      *slog.Logger

	valid, invalid, changes int
	affected                map[int64]bool
	eol                     eolResult
	recomputed, enqueued    int
	reasons                 []string
}

func (st *runState) touch(productID int64) {
	if productID > 0 {
		st.affected[productID] = true
	}
}

// IngestSupplier downloads the supplier's feed and applies it to the
// catalog. limit > 0 processes only the first limit rows.
//
// A returned error means no run could be started (unknown supplier, no
// active feed, too many concurrent runs) or the feed was already being
// ingested. Feed and row failures are reported in the summary.
func (s *Service) IngestSupplier(ctx context.Context, supplierID int64, limit int) (RunSummary, error) {
	supplier, err := s.store.GetSupplier(ctx, supplierID)
	if err != nil {
		if database.IsNoRows(err) {
			return RunSummary{}, NotFoundf("supplier %d not found", supplierID)
		}
		return RunSummary{}, fmt.Errorf("get supplier %d: %w", supplierID, err)
	}
	if !supplier.Active {
		return RunSummary{}, NotFoundf("supplier %d is inactive", supplierID)
	}

	fd, err := s.store.GetFeedBySupplier(ctx, supplierID)
	if err != nil {
		if database.IsNoRows(err) {
			return RunSummary{}, NotFoundf("feed for supplier %d not found", supplierID)
		}
		return RunSummary{}, fmt.Errorf("get feed for supplier %d: %w", supplierID, err)
	}
	if !fd.Active {
		return RunSummary{}, NotFoundf("feed for supplier %d is inactive", supplierID)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return RunSummary{}, err
	}
	defer s.limiter.Release()
	metrics.RunStarted()
	defer metrics.RunFinished()

	run, err := s.store.CreateFeedRun(ctx, fd.ID)
	if err != nil {
		return RunSummary{}, fmt.Errorf("create feed run: %w", err)
	}

	st := &runState{
		supplier: supplier,
		feed:     fd,
		runID:    run.ID,
		affected: make(map[int64]bool),
		log:      logging.WithFields(ctx, "run_id", run.ID, "supplier_id", supplierID, "feed_id", fd.ID),
	}
	start := s.now()
	st.log.Info("ingest started",
		"limit", limit,
		"client_ip", ClientIPFromContext(ctx),
		"user_agent", UserAgentFromContext(ctx),
	)

	sum := RunSummary{RunID: run.ID, FeedID: fd.ID, Status: RunRunning}
	runErr := s.executeRun(ctx, st, limit, &sum)

	sum.RowsValid = st.valid
	sum.RowsInvalid = st.invalid
	sum.RowsProcessed = st.valid + st.invalid
	sum.DurationMs = s.now().Sub(start).Milliseconds()

	switch {
	case runErr != nil:
		sum.Status = RunError
		sum.Error = runErr.Error()
	case st.invalid > 0:
		sum.Status = RunPartial
	default:
		sum.Status = RunOK
	}

	if runErr == nil {
		sum.Changes = st.changes
		sum.EOLUnseen = st.eol.Unseen
		sum.EOLMarked = st.eol.Marked
		sum.OffersRecomputed = st.recomputed
		sum.EventsEnqueued = st.enqueued
		for _, r := range st.reasons {
			metrics.StreamEnqueued(r)
		}
	}
	sum.OK = sum.Status == RunOK || sum.Status == RunPartial

	s.finishRun(ctx, st, &sum)

	if IsConflict(runErr) {
		return sum, runErr
	}
	return sum, nil
}

// executeRun fetches, decodes and applies the feed. Counters land in st and
// sum; a non-nil error finalizes the run as error.
func (s *Service) executeRun(ctx context.Context, st *runState, limit int, sum *RunSummary) error {
	profile, err := s.loadProfile(ctx, st.feed.ID)
	if err != nil {
		return err
	}

	req := feedRequest(st.feed)
	resp := s.fetcher.Fetch(ctx, req)
	sum.HTTPStatus = resp.Status
	if !resp.OK() {
		st.log.Warn("feed download failed", "status", resp.Status, "error", resp.ErrorText())
		return errors.New(resp.ErrorText())
	}

	rows, err := feed.Decode(resp.Body, resp.ContentType, req.Format, req.CSVDelimiter)
	if err != nil {
		return fmt.Errorf("decode feed: %w", err)
	}
	sum.RowsTotal = len(rows)

	truncated := false
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		truncated = true
	}
	if len(rows) == 0 && !s.opts.AllowEmptyFeed {
		return errEmptyFeed
	}

	st.log.Info("feed decoded", "rows_total", sum.RowsTotal, "rows_to_process", len(rows), "bytes", len(resp.Body))

	// Row processing ignores caller cancellation; only RunTimeout bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RunTimeout)
	defer cancel()

	return s.store.ExecTx(ctx, func(q database.Querier) error {
		locked, err := q.TryLockFeed(ctx, st.feed.ID)
		if err != nil {
			return fmt.Errorf("lock feed: %w", err)
		}
		if !locked {
			return Conflictf("feed %d is already being ingested", st.feed.ID)
		}

		if err := s.applyRows(ctx, q, st, profile, rows); err != nil {
			return err
		}
		if st.valid == 0 && st.invalid > 0 && !s.opts.AllowEmptyFeed {
			return fmt.Errorf("%w: all %d rows were rejected", errEmptyFeed, st.invalid)
		}

		if truncated {
			st.log.Info("end-of-life pass skipped for limited run", "limit", limit)
		} else {
			eol, err := expireUnseen(ctx, q, st.feed.ID, st.runID)
			if err != nil {
				return err
			}
			st.eol = eol
			for _, id := range eol.Affected {
				st.touch(id)
			}
		}

		return s.recomputeAffected(ctx, q, st)
	})
}

// loadProfile compiles the feed's mapper. A feed without a mapper maps
// every row to an empty record.
func (s *Service) loadProfile(ctx context.Context, feedID int64) (*mapping.Profile, error) {
	m, err := s.store.GetMapperByFeed(ctx, feedID)
	if err != nil {
		if database.IsNoRows(err) {
			return mapping.Compile(nil)
		}
		return nil, fmt.Errorf("get mapper: %w", err)
	}
	profile, err := mapping.Compile(m.Profile)
	if err != nil {
		return nil, fmt.Errorf("compile mapper v%d: %w", m.Version, err)
	}
	return profile, nil
}

func (s *Service) applyRows(ctx context.Context, q database.Querier, st *runState, profile *mapping.Profile, rows []mapping.Row) error {
	for i, raw := range rows {
		if i > 0 && i%progressEvery == 0 {
			st.log.Info("ingest progress", "rows", i, "valid", st.valid, "invalid", st.invalid)
		}
		mapped, rejection := profile.MapRow(raw)
		if rejection != "" {
			st.invalid++
			if rejection == mapping.RejectFiltered {
				st.log.Debug("row filtered", "row", i)
			} else {
				st.log.Warn("row rejected", "row", i, "reason", string(rejection))
			}
			continue
		}

		sp := fmt.Sprintf("sp_%d", i)
		if err := q.Savepoint(ctx, sp); err != nil {
			return fmt.Errorf("savepoint %s: %w", sp, err)
		}

		changes, err := s.applyRow(ctx, q, st, i, mapped)
		if err != nil {
			if rbErr := q.RollbackToSavepoint(ctx, sp); rbErr != nil {
				return fmt.Errorf("rollback row %d: %w (row error: %v)", i, rbErr, err)
			}
			st.invalid++
			st.log.Warn("row rejected", "row", i, "error", err)
			continue
		}

		if err := q.ReleaseSavepoint(ctx, sp); err != nil {
			return fmt.Errorf("release %s: %w", sp, err)
		}
		st.valid++
		st.changes += changes
	}
	return nil
}

// applyRow persists one mapped row and returns how many changes it made.
func (s *Service) applyRow(ctx context.Context, q database.Querier, st *runState, index int, row mapping.Row) (int, error) {
	p, o, meta := splitPayload(row, index)

	rp, err := resolveProduct(ctx, q, p, st.supplier.Margin)
	if err != nil {
		return 0, err
	}

	changes, err := mergeMeta(ctx, q, rp.Product.ID, meta)
	if err != nil {
		return 0, err
	}

	out, err := upsertOffer(ctx, q, st.supplier.ID, st.feed.ID, st.runID, rp.Product.ID, p, o)
	if err != nil {
		return 0, err
	}
	if out.touched() {
		changes++
		st.touch(rp.Product.ID)
		st.touch(out.MovedFrom)
	}
	return changes, nil
}

func (s *Service) recomputeAffected(ctx context.Context, q database.Querier, st *runState) error {
	ids := make([]int64, 0, len(st.affected))
	for id := range st.affected {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		res, err := recomputeActiveOffer(ctx, q, id, ReasonOfferChanged)
		if err != nil {
			return err
		}
		st.recomputed++
		if res.Enqueued {
			st.enqueued++
			st.reasons = append(st.reasons, res.Reason)
		}
	}
	return nil
}

// finishRun writes the terminal status. It runs on a context detached from
// the caller's cancellation so an aborted request still closes the run.
func (s *Service) finishRun(ctx context.Context, st *runState, sum *RunSummary) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	params := database.FinishFeedRunParams{
		ID:          st.runID,
		Status:      sum.Status,
		RowsTotal:   int32(sum.RowsTotal),
		RowsChanged: int32(sum.Changes),
		Error:       ToPgText(sum.Error),
		DurationMs:  pgtype.Int8{Int64: sum.DurationMs, Valid: true},
	}
	if sum.HTTPStatus != 0 {
		params.HttpStatus.Int32 = int32(sum.HTTPStatus)
		params.HttpStatus.Valid = true
	}
	if err := s.store.FinishFeedRun(ctx, params); err != nil {
		st.log.Error("failed to finalize run", "error", err)
	}

	metrics.RecordRun(sum.Status, time.Duration(sum.DurationMs)*time.Millisecond)
	metrics.AddRows("valid", sum.RowsValid)
	metrics.AddRows("invalid", sum.RowsInvalid)
	metrics.AddRows("changed", sum.Changes)

	attrs := []any{
		"status", sum.Status,
		"rows_total", sum.RowsTotal,
		"rows_valid", sum.RowsValid,
		"rows_invalid", sum.RowsInvalid,
		"changes", sum.Changes,
		"eol_unseen", sum.EOLUnseen,
		"eol_marked", sum.EOLMarked,
		"offers_recomputed", sum.OffersRecomputed,
		"events_enqueued", sum.EventsEnqueued,
		"duration_ms", sum.DurationMs,
	}
	if sum.Status == RunError {
		st.log.Error("ingest failed", append(attrs, "error", sum.Error)...)
		return
	}
	st.log.Info("ingest completed", attrs...)
}
