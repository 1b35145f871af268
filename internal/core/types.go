package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/feed"
)

// Store is the persistence the core needs. ExecTx hands fn a Querier bound
// to one transaction and commits when fn returns nil.
type Store interface {
	database.Querier
	ExecTx(ctx context.Context, fn func(database.Querier) error) error
}

// Fetcher retrieves and previews feeds.
type Fetcher interface {
	Fetch(ctx context.Context, req feed.Request) feed.Response
	Preview(ctx context.Context, req feed.PreviewRequest) feed.PreviewResult
}

// Run statuses.
const (
	RunRunning = "running"
	RunOK      = "ok"
	RunPartial = "partial"
	RunError   = "error"
)

// Supplier event reasons.
const (
	EventInit   = "init"
	EventChange = "change"
	EventEOL    = "eol"
)

// RunSummary is the result of one ingestion run. It is returned for failed
// runs too; OK reports whether the run reached ok or partial.
type RunSummary struct {
	OK               bool   `json:"ok"`
	RunID            int64  `json:"run_id"`
	FeedID           int64  `json:"feed_id"`
	Status           string `json:"status"`
	HTTPStatus       int    `json:"http_status,omitempty"`
	RowsTotal        int    `json:"rows_total"`
	RowsProcessed    int    `json:"rows_processed"`
	RowsValid        int    `json:"rows_valid"`
	RowsInvalid      int    `json:"rows_invalid"`
	Changes          int    `json:"changes"`
	EOLUnseen        int    `json:"eol_unseen"`
	EOLMarked        int    `json:"eol_marked"`
	OffersRecomputed int    `json:"offers_recomputed"`
	EventsEnqueued   int    `json:"events_enqueued"`
	Error            string `json:"error,omitempty"`
	DurationMs       int64  `json:"duration_ms"`
}

// Options tunes Service behavior; zero values fall back to defaults.
type Options struct {
	PreviewTimeout     time.Duration
	AllowEmptyFeed     bool
	StaleRunAfter      time.Duration
	ReaperInterval     time.Duration
	StreamDefaultLimit int
	StreamMaxLimit     int
	MaxConcurrentRuns  int
	RunMaxWait         time.Duration

	// RunTimeout bounds row processing once the feed is downloaded. The
	// caller's cancellation does not reach that phase.
	RunTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PreviewTimeout <= 0 {
		o.PreviewTimeout = 30 * time.Second
	}
	if o.StaleRunAfter <= 0 {
		o.StaleRunAfter = 2 * time.Hour
	}
	if o.ReaperInterval <= 0 {
		o.ReaperInterval = 10 * time.Minute
	}
	if o.RunTimeout <= 0 {
		o.RunTimeout = 30 * time.Minute
	}
	if o.StreamDefaultLimit <= 0 {
		o.StreamDefaultLimit = 50
	}
	if o.StreamMaxLimit <= 0 {
		o.StreamMaxLimit = 500
	}
	return o
}
