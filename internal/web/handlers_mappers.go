package web

import (
	"encoding/json"
	"net/http"
)

func (s *Server) handleGetMapper(w http.ResponseWriter, r *http.Request) {
	feedID, err := pathID(r, "feedID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	m, err := s.catalog.GetMapper(r.Context(), feedID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, m)
}

type putMapperBody struct {
	Profile     json.RawMessage `json:"profile"`
	BumpVersion *bool           `json:"bump_version"`
}

func (s *Server) handlePutMapper(w http.ResponseWriter, r *http.Request) {
	feedID, err := pathID(r, "feedID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body putMapperBody
	if err := decodeJSON(w, r, &body, false); err != nil {
		respondError(w, r, err)
		return
	}
	bump := true
	if body.BumpVersion != nil {
		bump = *body.BumpVersion
	}

	m, err := s.catalog.PutMapper(r.Context(), feedID, body.Profile, bump)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, m)
}

type validateMapperBody struct {
	Profile json.RawMessage `json:"profile"`
	Headers []string        `json:"headers"`
}

// handleValidateMapper validates the posted profile, or the stored one when
// the body has none.
func (s *Server) handleValidateMapper(w http.ResponseWriter, r *http.Request) {
	feedID, err := pathID(r, "feedID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body validateMapperBody
	if err := decodeJSON(w, r, &body, true); err != nil {
		respondError(w, r, err)
		return
	}

	res, err := s.catalog.ValidateMapper(r.Context(), feedID, body.Profile, body.Headers)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}
