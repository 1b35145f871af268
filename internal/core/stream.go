package core

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/metrics"
)

const timeLayout = time.RFC3339

// Stream entry statuses.
const (
	StreamPending    = "pending"
	StreamProcessing = "processing"
	StreamDone       = "done"
	StreamFailed     = "failed"
)

var streamStatuses = map[string]bool{
	StreamPending: true, StreamProcessing: true, StreamDone: true, StreamFailed: true,
}

// StreamEvent is a catalog update stream entry as handed to consumers.
type StreamEvent struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	EcommerceID string          `json:"ecommerce_id"`
	Status      string          `json:"status"`
	Priority    int32           `json:"priority"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int32           `json:"attempts"`
	LastError   *string         `json:"last_error"`
	ClaimToken  string          `json:"claim_token,omitempty"`
	AvailableAt time.Time       `json:"available_at"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at"`
}

func newStreamEvent(e database.CatalogUpdateStream) StreamEvent {
	ev := StreamEvent{
		ID:          e.ID,
		ProductID:   e.ProductID,
		EcommerceID: e.EcommerceID,
		Status:      e.Status,
		Priority:    e.Priority,
		Payload:     json.RawMessage(e.Payload),
		Attempts:    e.Attempts,
		LastError:   TextOrNil(e.LastError),
		ClaimToken:  PgUUIDToString(e.ClaimToken),
		AvailableAt: e.AvailableAt.Time,
		CreatedAt:   e.CreatedAt.Time,
	}
	if len(ev.Payload) == 0 {
		ev.Payload = json.RawMessage("null")
	}
	if e.ProcessedAt.Valid {
		t := e.ProcessedAt.Time
		ev.ProcessedAt = &t
	}
	return ev
}

// streamLess orders claimed entries: priority desc, then oldest first.
func streamLess(a, b database.CatalogUpdateStream) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.AvailableAt.Time.Equal(b.AvailableAt.Time) {
		return a.AvailableAt.Time.Before(b.AvailableAt.Time)
	}
	if !a.CreatedAt.Time.Equal(b.CreatedAt.Time) {
		return a.CreatedAt.Time.Before(b.CreatedAt.Time)
	}
	return a.ID < b.ID
}

// GetPendingEvents claims up to limit pending entries and moves them to
// processing. minPriority, when set, filters out lower priorities. The claim
// is atomic, so concurrent consumers receive disjoint batches.
func (s *Service) GetPendingEvents(ctx context.Context, limit int, minPriority *int) ([]StreamEvent, error) {
	limit = s.clampStreamLimit(limit)

	params := database.ClaimStreamEntriesParams{
		Limit:      int32(limit),
		ClaimToken: ToPgUUID(uuid.New()),
	}
	if minPriority != nil {
		params.MinPriority = pgtype.Int4{Int32: int32(*minPriority), Valid: true}
	}

	rows, err := s.store.ClaimStreamEntries(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claim stream entries: %w", err)
	}
	sort.Slice(rows, func(i, j int) bool { return streamLess(rows[i], rows[j]) })

	events := make([]StreamEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, newStreamEvent(r))
	}
	metrics.StreamClaimed(len(events))
	return events, nil
}

func (s *Service) clampStreamLimit(limit int) int {
	if limit <= 0 {
		return s.opts.StreamDefaultLimit
	}
	if limit > s.opts.StreamMaxLimit {
		return s.opts.StreamMaxLimit
	}
	return limit
}

// AckEvents moves processing entries to done or failed and returns how many
// were updated. Entries not currently processing are left alone.
func (s *Service) AckEvents(ctx context.Context, ids []int64, status, errText string) (int64, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != StreamDone && status != StreamFailed {
		return 0, InvalidArgumentf("status must be %q or %q", StreamDone, StreamFailed)
	}
	if len(ids) == 0 {
		return 0, InvalidArgumentf("ids must not be empty")
	}

	n, err := s.store.AckStreamEntries(ctx, database.AckStreamEntriesParams{
		IDs:       dedupeIDs(ids),
		Status:    status,
		LastError: ToPgText(errText),
	})
	if err != nil {
		return 0, fmt.Errorf("ack stream entries: %w", err)
	}
	metrics.StreamAcked(status, int(n))
	return n, nil
}

func dedupeIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// StreamPage is one page of ListEvents.
type StreamPage struct {
	Items    []StreamEvent `json:"items"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

// ListEvents pages through the stream newest first without claiming.
func (s *Service) ListEvents(ctx context.Context, status string, page, pageSize int) (StreamPage, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !streamStatuses[status] {
		return StreamPage{}, InvalidArgumentf("unknown status %q", status)
	}
	if page < 1 {
		page = 1
	}
	pageSize = s.clampStreamLimit(pageSize)
	// OFFSET is an int4 parameter.
	if maxPage := math.MaxInt32/pageSize + 1; page > maxPage {
		page = maxPage
	}

	filter := ToPgText(status)
	total, err := s.store.CountStreamEntries(ctx, filter)
	if err != nil {
		return StreamPage{}, fmt.Errorf("count stream entries: %w", err)
	}
	rows, err := s.store.ListStreamEntries(ctx, database.ListStreamEntriesParams{
		Status: filter,
		Limit:  int32(pageSize),
		Offset: int32((page - 1) * pageSize),
	})
	if err != nil {
		return StreamPage{}, fmt.Errorf("list stream entries: %w", err)
	}

	out := StreamPage{Items: make([]StreamEvent, 0, len(rows)), Total: total, Page: page, PageSize: pageSize}
	for _, r := range rows {
		out.Items = append(out.Items, newStreamEvent(r))
	}
	return out, nil
}
