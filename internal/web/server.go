// Package web exposes the catalog operations as a JSON API.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/catalogsync/internal/core"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/mapping"
	"github.com/JonMunkholm/catalogsync/internal/metrics"
	appmw "github.com/JonMunkholm/catalogsync/internal/web/middleware"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Catalog is the set of operations the API serves. *core.Service
// implements it.
type Catalog interface {
	IngestSupplier(ctx context.Context, supplierID int64, limit int) (core.RunSummary, error)
	GetFeed(ctx context.Context, supplierID int64) (core.Feed, error)
	PutFeed(ctx context.Context, supplierID int64, cfg core.FeedConfig) (core.Feed, error)
	PreviewFeed(ctx context.Context, req feed.PreviewRequest) feed.PreviewResult
	GetMapper(ctx context.Context, feedID int64) (core.Mapper, error)
	PutMapper(ctx context.Context, feedID int64, profile json.RawMessage, bump bool) (core.Mapper, error)
	ValidateMapper(ctx context.Context, feedID int64, profile json.RawMessage, headers []string) (core.MapperValidation, error)
	ListEvents(ctx context.Context, status string, page, pageSize int) (core.StreamPage, error)
	GetPendingEvents(ctx context.Context, limit int, minPriority *int) ([]core.StreamEvent, error)
	AckEvents(ctx context.Context, ids []int64, status, errText string) (int64, error)
	GetProductDetail(ctx context.Context, productID int64, opts core.ProductDetailOptions) (core.ProductDetail, error)
	SetProductMargin(ctx context.Context, productID int64, margin string) (core.MarginResult, error)
}

var _ Catalog = (*core.Service)(nil)

// Options configures the server. Zero values disable the optional parts.
type Options struct {
	TrustedProxies []string
	RequestTimeout time.Duration

	// RequestsPerMinute limits every /api route per client IP;
	// IngestPerMinute additionally limits ingest and preview.
	RateLimit         bool
	RequestsPerMinute int
	IngestPerMinute   int

	MetricsPath string

	// Ping checks the database for /healthz.
	Ping func(ctx context.Context) error
	// Runs reports run slot usage on /healthz.
	Runs *core.RunLimiter
}

// Server is the HTTP server for the catalog API.
type Server struct {
	catalog Catalog
	opts    Options
	router  *chi.Mux
	server  *http.Server
	stop    chan struct{}
}

func NewServer(catalog Catalog, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Minute
	}
	s := &Server{
		catalog: catalog,
		opts:    opts,
		router:  chi.NewRouter(),
		stop:    make(chan struct{}),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(appmw.TrustedRealIP(s.opts.TrustedProxies))
	s.router.Use(appmw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(clientContext)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	if s.opts.MetricsPath != "" {
		s.router.Method(http.MethodGet, s.opts.MetricsPath, metrics.Handler())
	}

	s.router.Route("/api", func(api chi.Router) {
		if s.opts.RateLimit {
			api.Use(s.limiter(s.opts.RequestsPerMinute))
		}
		// Ingest and preview are bounded by the feed timeouts instead of the
		// request timeout.
		heavy := api.With()
		if s.opts.RateLimit {
			heavy = api.With(s.limiter(s.opts.IngestPerMinute))
		}
		r := api.With(middleware.Timeout(s.opts.RequestTimeout))

		heavy.Post("/suppliers/{supplierID}/ingest", s.handleIngest)
		r.Get("/suppliers/{supplierID}/feed", s.handleGetFeed)
		r.Put("/suppliers/{supplierID}/feed", s.handlePutFeed)
		heavy.Post("/feeds/preview", s.handlePreviewFeed)

		r.Get("/feeds/{feedID}/mapper", s.handleGetMapper)
		r.Put("/feeds/{feedID}/mapper", s.handlePutMapper)
		r.Post("/feeds/{feedID}/mapper/validate", s.handleValidateMapper)
		r.Get("/mapping/operators", s.handleOperators)

		r.Get("/catalog/update-stream", s.handleListEvents)
		r.Get("/catalog/update-stream/pending", s.handlePendingEvents)
		r.Post("/catalog/update-stream/ack", s.handleAckEvents)

		r.Get("/products/{productID}", s.handleProductDetail)
		r.Put("/products/{productID}/margin", s.handleSetMargin)
	})
}

func (s *Server) limiter(perMinute int) func(http.Handler) http.Handler {
	rl := appmw.NewRateLimiter(perMinute)
	go rl.StartSweeper(s.stop)
	return rl.Handler
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string, readTimeout, writeTimeout, idleTimeout time.Duration) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Runs     *core.RunLimiterStatus `json:"runs,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK

	if s.opts.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.opts.Ping(ctx); err != nil {
			slog.Warn("health check: database unreachable", "error", err)
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if s.opts.Runs != nil {
		st := s.opts.Runs.Status()
		resp.Runs = &st
	}
	writeJSONStatus(w, status, resp)
}

func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Operators []mapping.Operator `json:"operators"`
	}{core.MappingOperators()})
}

// writeJSON encodes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
