package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/catalogsync/internal/core"
	"github.com/JonMunkholm/catalogsync/internal/feed"
)

// stubCatalog records arguments and returns canned results.
type stubCatalog struct {
	ingestSum core.RunSummary
	ingestErr error
	limit     int
	clientIP  string
	deadlines map[string]bool

	feedCfg core.FeedConfig
	preview feed.PreviewRequest

	profile json.RawMessage
	bump    bool
	headers []string

	minPriority *int
	pendingLim  int

	ackIDs    []int64
	ackStatus string

	detailOpts core.ProductDetailOptions
	margin     string

	err error
}

func (c *stubCatalog) IngestSupplier(ctx context.Context, supplierID int64, limit int) (core.RunSummary, error) {
	c.limit = limit
	c.clientIP = core.ClientIPFromContext(ctx)
	c.recordDeadline(ctx, "ingest")
	return c.ingestSum, c.ingestErr
}

func (c *stubCatalog) recordDeadline(ctx context.Context, op string) {
	if c.deadlines == nil {
		c.deadlines = make(map[string]bool)
	}
	_, ok := ctx.Deadline()
	c.deadlines[op] = ok
}

func (c *stubCatalog) GetFeed(ctx context.Context, supplierID int64) (core.Feed, error) {
	c.recordDeadline(ctx, "get_feed")
	if c.err != nil {
		return core.Feed{}, c.err
	}
	return core.Feed{ID: 1, SupplierID: supplierID, Kind: "http"}, nil
}

func (c *stubCatalog) PutFeed(ctx context.Context, supplierID int64, cfg core.FeedConfig) (core.Feed, error) {
	c.feedCfg = cfg
	return core.Feed{ID: 1, SupplierID: supplierID, URL: cfg.URL}, c.err
}

func (c *stubCatalog) PreviewFeed(ctx context.Context, req feed.PreviewRequest) feed.PreviewResult {
	c.preview = req
	return feed.PreviewResult{OK: true, StatusCode: 200}
}

func (c *stubCatalog) GetMapper(ctx context.Context, feedID int64) (core.Mapper, error) {
	return core.Mapper{}, c.err
}

func (c *stubCatalog) PutMapper(ctx context.Context, feedID int64, profile json.RawMessage, bump bool) (core.Mapper, error) {
	c.profile, c.bump = profile, bump
	return core.Mapper{FeedID: feedID, Profile: profile, Version: 1}, c.err
}

func (c *stubCatalog) ValidateMapper(ctx context.Context, feedID int64, profile json.RawMessage, headers []string) (core.MapperValidation, error) {
	c.profile, c.headers = profile, headers
	return core.MapperValidation{OK: true, Errors: []core.ValidationIssue{}, Warnings: []core.ValidationIssue{}}, c.err
}

func (c *stubCatalog) ListEvents(ctx context.Context, status string, page, pageSize int) (core.StreamPage, error) {
	return core.StreamPage{Items: []core.StreamEvent{}, Page: page, PageSize: pageSize}, c.err
}

func (c *stubCatalog) GetPendingEvents(ctx context.Context, limit int, minPriority *int) ([]core.StreamEvent, error) {
	c.pendingLim, c.minPriority = limit, minPriority
	return []core.StreamEvent{{ID: 7, Priority: 10}}, c.err
}

func (c *stubCatalog) AckEvents(ctx context.Context, ids []int64, status, errText string) (int64, error) {
	c.ackIDs, c.ackStatus = ids, status
	if c.err != nil {
		return 0, c.err
	}
	return int64(len(ids)), nil
}

func (c *stubCatalog) GetProductDetail(ctx context.Context, productID int64, opts core.ProductDetailOptions) (core.ProductDetail, error) {
	c.detailOpts = opts
	return core.ProductDetail{Product: core.ProductOut{ID: productID}}, c.err
}

func (c *stubCatalog) SetProductMargin(ctx context.Context, productID int64, margin string) (core.MarginResult, error) {
	c.margin = margin
	return core.MarginResult{}, c.err
}

func serve(t *testing.T, c *stubCatalog, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	srv := NewServer(c, Options{})
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:5000"
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestRequestTimeoutSkipsIngest(t *testing.T) {
	c := &stubCatalog{ingestSum: core.RunSummary{OK: true}}
	serve(t, c, http.MethodPost, "/api/suppliers/1/ingest", "")
	serve(t, c, http.MethodGet, "/api/suppliers/1/feed", "")

	if c.deadlines["ingest"] {
		t.Error("ingest ran under the request timeout")
	}
	if !c.deadlines["get_feed"] {
		t.Error("get feed ran without the request timeout")
	}
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("error body is not json: %v (%s)", err, rec.Body.String())
	}
	return e
}

func TestHandleIngest(t *testing.T) {
	c := &stubCatalog{ingestSum: core.RunSummary{OK: true, RunID: 3, Status: core.RunOK}}
	rec := serve(t, c, http.MethodPost, "/api/suppliers/5/ingest?limit=10", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if c.limit != 10 || c.clientIP != "192.0.2.10" {
		t.Errorf("limit/ip = %d/%q", c.limit, c.clientIP)
	}
	var sum core.RunSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &sum); err != nil || sum.RunID != 3 {
		t.Errorf("summary = %+v, %v", sum, err)
	}
}

func TestHandleIngest_Errors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		sum        core.RunSummary
		err        error
		wantStatus int
		wantCode   string
	}{
		{"bad supplier id", "/api/suppliers/abc/ingest", core.RunSummary{}, nil, http.StatusBadRequest, "REQ001"},
		{"bad limit", "/api/suppliers/1/ingest?limit=-1", core.RunSummary{}, nil, http.StatusBadRequest, "REQ001"},
		{"unknown supplier", "/api/suppliers/1/ingest", core.RunSummary{}, core.NotFoundf("supplier 1 not found"), http.StatusNotFound, "NF001"},
		{"busy", "/api/suppliers/1/ingest", core.RunSummary{}, core.ErrTooManyRuns, http.StatusServiceUnavailable, "RUN001"},
		{"internal", "/api/suppliers/1/ingest", core.RunSummary{}, errors.New("dial tcp: connection refused"), http.StatusInternalServerError, "DB004"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &stubCatalog{ingestSum: tt.sum, ingestErr: tt.err}, http.MethodPost, tt.target, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if e := decodeError(t, rec); e.Code != tt.wantCode || e.Message == "" {
				t.Errorf("error = %+v, want code %s", e, tt.wantCode)
			}
		})
	}
}

func TestHandleIngest_ConflictCarriesSummary(t *testing.T) {
	c := &stubCatalog{
		ingestSum: core.RunSummary{RunID: 9, Status: core.RunError, Error: "feed 2 is already being ingested"},
		ingestErr: core.Conflictf("feed 2 is already being ingested"),
	}
	rec := serve(t, c, http.MethodPost, "/api/suppliers/1/ingest", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	var body ingestConflictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Code != "CON001" || body.Summary.RunID != 9 {
		t.Errorf("body = %+v", body)
	}
}

func TestHandlePutFeed(t *testing.T) {
	c := &stubCatalog{}
	rec := serve(t, c, http.MethodPut, "/api/suppliers/4/feed", `{"url": "https://x.example/feed.csv", "auth": {"token": "t"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if c.feedCfg.URL != "https://x.example/feed.csv" || c.feedCfg.Auth["token"] != "t" {
		t.Errorf("cfg = %+v", c.feedCfg)
	}

	rec = serve(t, c, http.MethodPut, "/api/suppliers/4/feed", `{"url": `)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("broken json status = %d", rec.Code)
	}
}

func TestHandleGetFeed_NotFound(t *testing.T) {
	rec := serve(t, &stubCatalog{err: core.NotFoundf("feed for supplier 1 not found")}, http.MethodGet, "/api/suppliers/1/feed", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Message != "feed for supplier 1 not found" {
		t.Errorf("message = %q", e.Message)
	}
}

func TestHandlePreviewFeed(t *testing.T) {
	c := &stubCatalog{}
	rec := serve(t, c, http.MethodPost, "/api/feeds/preview", `{"url": " https://x.example/f.json ", "format": "json", "max_rows": 5, "timeout_seconds": 2.5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if c.preview.URL != "https://x.example/f.json" || c.preview.MaxRows != 5 || c.preview.Format != "json" {
		t.Errorf("preview = %+v", c.preview)
	}
	if c.preview.Timeout != 2500*time.Millisecond {
		t.Errorf("timeout = %v", c.preview.Timeout)
	}

	rec = serve(t, c, http.MethodPost, "/api/feeds/preview", `{"format": "csv"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing url status = %d", rec.Code)
	}
}

func TestHandlePutMapper(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantBump bool
	}{
		{"default bumps", `{"profile": {"fields": {"gtin": "EAN"}}}`, true},
		{"explicit false", `{"profile": {"fields": {}}, "bump_version": false}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubCatalog{}
			rec := serve(t, c, http.MethodPut, "/api/feeds/3/mapper", tt.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if c.bump != tt.wantBump || len(c.profile) == 0 {
				t.Errorf("bump = %v profile = %s", c.bump, c.profile)
			}
		})
	}
}

func TestHandleValidateMapper(t *testing.T) {
	c := &stubCatalog{}
	rec := serve(t, c, http.MethodPost, "/api/feeds/3/mapper/validate", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("empty body status = %d", rec.Code)
	}
	if c.profile != nil || c.headers != nil {
		t.Errorf("empty body should validate the stored mapper: %s %v", c.profile, c.headers)
	}

	rec = serve(t, c, http.MethodPost, "/api/feeds/3/mapper/validate", `{"headers": []}`)
	if rec.Code != http.StatusOK || c.headers == nil {
		t.Errorf("empty header list must reach the service: %v", c.headers)
	}
}

func TestHandlePendingEvents(t *testing.T) {
	c := &stubCatalog{}
	rec := serve(t, c, http.MethodGet, "/api/catalog/update-stream/pending?limit=20&min_priority=8", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if c.pendingLim != 20 || c.minPriority == nil || *c.minPriority != 8 {
		t.Errorf("limit/min = %d/%v", c.pendingLim, c.minPriority)
	}
	var body struct {
		Items []core.StreamEvent `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Items) != 1 {
		t.Errorf("body = %s", rec.Body.String())
	}

	serve(t, c, http.MethodGet, "/api/catalog/update-stream/pending", "")
	if c.minPriority != nil || c.pendingLim != 0 {
		t.Errorf("defaults = %d/%v", c.pendingLim, c.minPriority)
	}

	rec = serve(t, c, http.MethodGet, "/api/catalog/update-stream/pending?min_priority=high", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad min_priority status = %d", rec.Code)
	}
}

func TestHandleAckEvents(t *testing.T) {
	c := &stubCatalog{}
	rec := serve(t, c, http.MethodPost, "/api/catalog/update-stream/ack", `{"ids": [1, 2], "status": "done"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(c.ackIDs) != 2 || c.ackStatus != "done" {
		t.Errorf("ack = %v %q", c.ackIDs, c.ackStatus)
	}
	if !strings.Contains(rec.Body.String(), `"updated":2`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	c.err = core.InvalidArgumentf("ids must not be empty")
	rec = serve(t, c, http.MethodPost, "/api/catalog/update-stream/ack", `{"ids": [], "status": "done"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestProductDetailOptions(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  core.ProductDetailOptions
	}{
		{"defaults", "", core.DefaultProductDetailOptions()},
		{
			"expand subset",
			"?expand=offers,EVENTS&events_days=7&events_limit=10&aggregate_daily=false",
			core.ProductDetailOptions{Offers: true, Events: true, EventsDays: 7, EventsLimit: 10},
		},
		{
			"empty expand",
			"?expand=",
			core.ProductDetailOptions{EventsDays: 90, EventsLimit: 2000, AggregateDaily: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubCatalog{}
			rec := serve(t, c, http.MethodGet, "/api/products/12"+tt.query, "")
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d", rec.Code)
			}
			if c.detailOpts != tt.want {
				t.Errorf("opts = %+v, want %+v", c.detailOpts, tt.want)
			}
		})
	}
}

func TestHandleSetMargin(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantMargin string
		wantStatus int
	}{
		{"number", `{"margin": 0.25}`, "0.25", http.StatusOK},
		{"string", `{"margin": "0.3"}`, "0.3", http.StatusOK},
		{"missing", `{}`, "", http.StatusBadRequest},
		{"bool", `{"margin": true}`, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &stubCatalog{}
			rec := serve(t, c, http.MethodPut, "/api/products/12/margin", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if c.margin != tt.wantMargin {
				t.Errorf("margin = %q, want %q", c.margin, tt.wantMargin)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	srv := NewServer(&stubCatalog{}, Options{
		Ping: func(ctx context.Context) error { return errors.New("down") },
		Runs: core.NewRunLimiter(2, time.Second),
	})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Database != "unreachable" || body.Runs == nil || body.Runs.MaxConcurrent != 2 {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitedIngest(t *testing.T) {
	srv := NewServer(&stubCatalog{}, Options{RateLimit: true, RequestsPerMinute: 100, IngestPerMinute: 1})
	defer srv.Shutdown(context.Background())

	do := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/suppliers/1/ingest", nil)
		req.RemoteAddr = "192.0.2.20:1000"
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		return rec.Code
	}
	if got := do(); got != http.StatusOK {
		t.Fatalf("first ingest = %d", got)
	}
	if got := do(); got != http.StatusTooManyRequests {
		t.Errorf("second ingest = %d, want 429", got)
	}
}
