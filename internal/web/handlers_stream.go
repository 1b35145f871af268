package web

import (
	"net/http"

	"github.com/JonMunkholm/catalogsync/internal/core"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	page, err := s.catalog.ListEvents(r.Context(),
		r.URL.Query().Get("status"),
		parseIntParam(r, "page", 1),
		parseIntParam(r, "page_size", 50),
	)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, page)
}

// handlePendingEvents claims entries for the caller. Claimed entries move to
// processing and must be acked.
func (s *Server) handlePendingEvents(w http.ResponseWriter, r *http.Request) {
	minPriority, err := parseOptionalInt(r, "min_priority")
	if err != nil {
		respondError(w, r, err)
		return
	}
	events, err := s.catalog.GetPendingEvents(r.Context(), parseIntParam(r, "limit", 0), minPriority)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, struct {
		Items []core.StreamEvent `json:"items"`
	}{events})
}

type ackBody struct {
	IDs    []int64 `json:"ids"`
	Status string  `json:"status"`
	Error  string  `json:"error"`
}

func (s *Server) handleAckEvents(w http.ResponseWriter, r *http.Request) {
	var body ackBody
	if err := decodeJSON(w, r, &body, false); err != nil {
		respondError(w, r, err)
		return
	}
	n, err := s.catalog.AckEvents(r.Context(), body.IDs, body.Status, body.Error)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, struct {
		Updated int64 `json:"updated"`
	}{n})
}
