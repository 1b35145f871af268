package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/JonMunkholm/catalogsync/internal/core"
)

// productDetailOptions reads expand=meta,offers,events and the event window
// parameters. Without expand everything is included.
func productDetailOptions(r *http.Request) core.ProductDetailOptions {
	opts := core.DefaultProductDetailOptions()
	q := r.URL.Query()

	if expand, ok := q["expand"]; ok {
		opts.Meta, opts.Offers, opts.Events = false, false, false
		for _, v := range expand {
			for _, part := range strings.Split(v, ",") {
				switch strings.ToLower(strings.TrimSpace(part)) {
				case "meta":
					opts.Meta = true
				case "offers":
					opts.Offers = true
				case "events":
					opts.Events = true
				}
			}
		}
	}

	opts.EventsDays = parseIntParam(r, "events_days", opts.EventsDays)
	opts.EventsLimit = parseIntParam(r, "events_limit", opts.EventsLimit)
	opts.AggregateDaily = parseBoolParam(r, "aggregate_daily", opts.AggregateDaily)
	return opts
}

func (s *Server) handleProductDetail(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	d, err := s.catalog.GetProductDetail(r.Context(), productID, productDetailOptions(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, d)
}

// marginBody accepts the margin as a JSON number or a string.
type marginBody struct {
	Margin any `json:"margin"`
}

func (s *Server) handleSetMargin(w http.ResponseWriter, r *http.Request) {
	productID, err := pathID(r, "productID")
	if err != nil {
		respondError(w, r, err)
		return
	}
	var body marginBody
	if err := decodeJSON(w, r, &body, false); err != nil {
		respondError(w, r, err)
		return
	}

	var margin string
	switch v := body.Margin.(type) {
	case json.Number:
		margin = v.String()
	case string:
		margin = v
	default:
		respondError(w, r, core.InvalidArgumentf("margin must be a number"))
		return
	}

	res, err := s.catalog.SetProductMargin(r.Context(), productID, margin)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, res)
}
