package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/catalogsync/internal/core"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/logging"
)

// ingestConflictResponse carries the finalized run next to the error when a
// feed was already being ingested.
type ingestConflictResponse struct {
	ErrorResponse
	Summary core.RunSummary `json:"summary"`
}

// handleIngest runs one ingestion synchronously and returns its summary.
// Feed and row failures are reported in the summary with status 200.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	supplierID, err := pathID(r, "supplierID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit = parseIntParam(r, "limit", 0)
		if limit == 0 {
			respondError(w, r, core.BadRequestf("limit must be a positive integer"))
			return
		}
	}

	sum, err := s.catalog.IngestSupplier(r.Context(), supplierID, limit)
	if err != nil {
		if core.IsConflict(err) && sum.RunID != 0 {
			logging.FromContext(r.Context()).Warn("ingest conflict", "supplier_id", supplierID, "run_id", sum.RunID)
			writeJSONStatus(w, http.StatusConflict, ingestConflictResponse{
				ErrorResponse: newErrorResponse(err),
				Summary:       sum,
			})
			return
		}
		respondError(w, r, err)
		return
	}
	writeJSON(w, sum)
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	supplierID, err := pathID(r, "supplierID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	f, err := s.catalog.GetFeed(r.Context(), supplierID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, f)
}

func (s *Server) handlePutFeed(w http.ResponseWriter, r *http.Request) {
	supplierID, err := pathID(r, "supplierID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var cfg core.FeedConfig
	if err := decodeJSON(w, r, &cfg, false); err != nil {
		respondError(w, r, err)
		return
	}
	f, err := s.catalog.PutFeed(r.Context(), supplierID, cfg)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, f)
}

// previewBody is a feed request plus an optional timeout in seconds.
type previewBody struct {
	feed.PreviewRequest
	TimeoutSeconds float64 `json:"timeout_seconds"`
}

// handlePreviewFeed downloads an ad-hoc feed and returns its first rows.
// Transport failures are reported in the result, not as HTTP errors.
func (s *Server) handlePreviewFeed(w http.ResponseWriter, r *http.Request) {
	var body previewBody
	if err := decodeJSON(w, r, &body, false); err != nil {
		respondError(w, r, err)
		return
	}
	body.URL = strings.TrimSpace(body.URL)
	if body.URL == "" {
		respondError(w, r, core.InvalidArgumentf("url is required"))
		return
	}
	if body.TimeoutSeconds < 0 {
		respondError(w, r, core.InvalidArgumentf("timeout_seconds must be >= 0"))
		return
	}
	req := body.PreviewRequest
	req.Timeout = time.Duration(body.TimeoutSeconds * float64(time.Second))

	writeJSON(w, s.catalog.PreviewFeed(r.Context(), req))
}
