package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/feed"
	"github.com/JonMunkholm/catalogsync/internal/mapping"
)

var (
	feedKinds   = map[string]bool{"http": true, "ftp": true, "ftps": true}
	feedFormats = map[string]bool{feed.FormatCSV: true, feed.FormatJSON: true}
)

// FeedConfig is the writable part of a supplier feed. PutFeed replaces the
// stored configuration wholesale.
type FeedConfig struct {
	Kind         string            `json:"kind"`
	Format       string            `json:"format"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers"`
	Params       map[string]string `json:"params"`
	AuthKind     string            `json:"auth_kind"`
	Auth         map[string]any    `json:"auth"`
	Extra        map[string]any    `json:"extra"`
	CSVDelimiter string            `json:"csv_delimiter"`
	Active       *bool             `json:"active"`
}

// Feed is a supplier feed as returned to callers. Credentials are reduced
// to HasAuth.
type Feed struct {
	ID           int64             `json:"id"`
	SupplierID   int64             `json:"supplier_id"`
	Kind         string            `json:"kind"`
	Format       string            `json:"format"`
	URL          string            `json:"url"`
	Headers      map[string]string `json:"headers"`
	Params       map[string]string `json:"params"`
	AuthKind     *string           `json:"auth_kind"`
	HasAuth      bool              `json:"has_auth"`
	Extra        map[string]any    `json:"extra"`
	CSVDelimiter *string           `json:"csv_delimiter"`
	Active       bool              `json:"active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func newFeed(f database.SupplierFeed) Feed {
	auth := decodeObject(f.Auth)
	return Feed{
		ID:           f.ID,
		SupplierID:   f.SupplierID,
		Kind:         f.Kind,
		Format:       f.Format,
		URL:          f.Url,
		Headers:      stringMap(decodeObject(f.Headers)),
		Params:       stringMap(decodeObject(f.Params)),
		AuthKind:     TextOrNil(f.AuthKind),
		HasAuth:      len(auth) > 0,
		Extra:        decodeObject(f.Extra),
		CSVDelimiter: TextOrNil(f.CsvDelimiter),
		Active:       f.Active,
		CreatedAt:    f.CreatedAt.Time,
		UpdatedAt:    f.UpdatedAt.Time,
	}
}

// decodeObject reads a jsonb object column. Anything but an object is empty.
func decodeObject(raw []byte) map[string]any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil
	}
	return m
}

func stringMap(m map[string]any) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if v != nil {
			out[k] = mapping.AsString(v)
		}
	}
	return out
}

// feedRequest builds the transport request for a stored feed.
func feedRequest(f database.SupplierFeed) feed.Request {
	return feed.Request{
		Kind:         f.Kind,
		Format:       f.Format,
		URL:          f.Url,
		Headers:      stringMap(decodeObject(f.Headers)),
		Params:       stringMap(decodeObject(f.Params)),
		AuthKind:     f.AuthKind.String,
		Auth:         decodeObject(f.Auth),
		Extra:        decodeObject(f.Extra),
		CSVDelimiter: f.CsvDelimiter.String,
	}
}

// GetFeed returns the feed configured for a supplier.
func (s *Service) GetFeed(ctx context.Context, supplierID int64) (Feed, error) {
	f, err := s.store.GetFeedBySupplier(ctx, supplierID)
	if err != nil {
		if database.IsNoRows(err) {
			return Feed{}, NotFoundf("feed for supplier %d not found", supplierID)
		}
		return Feed{}, fmt.Errorf("get feed for supplier %d: %w", supplierID, err)
	}
	return newFeed(f), nil
}

// PutFeed creates or replaces a supplier's feed configuration.
func (s *Service) PutFeed(ctx context.Context, supplierID int64, cfg FeedConfig) (Feed, error) {
	cfg.Kind = strings.ToLower(strings.TrimSpace(cfg.Kind))
	cfg.Format = strings.ToLower(strings.TrimSpace(cfg.Format))
	cfg.URL = strings.TrimSpace(cfg.URL)

	if cfg.Kind == "" {
		cfg.Kind = "http"
		if probe := (feed.Request{URL: cfg.URL}); probe.IsFTP() {
			cfg.Kind = "ftp"
		}
	}
	if cfg.Format == "" {
		cfg.Format = feed.FormatCSV
	}
	if !feedKinds[cfg.Kind] {
		return Feed{}, InvalidArgumentf("kind must be http, ftp or ftps, got %q", cfg.Kind)
	}
	if !feedFormats[cfg.Format] {
		return Feed{}, InvalidArgumentf("format must be csv or json, got %q", cfg.Format)
	}
	if cfg.URL == "" {
		return Feed{}, InvalidArgumentf("url is required")
	}

	if _, err := s.store.GetSupplier(ctx, supplierID); err != nil {
		if database.IsNoRows(err) {
			return Feed{}, NotFoundf("supplier %d not found", supplierID)
		}
		return Feed{}, fmt.Errorf("get supplier %d: %w", supplierID, err)
	}

	params := database.UpsertFeedParams{
		SupplierID:   supplierID,
		Kind:         cfg.Kind,
		Format:       cfg.Format,
		Url:          cfg.URL,
		AuthKind:     ToPgText(cfg.AuthKind),
		CsvDelimiter: ToPgText(cfg.CSVDelimiter),
		Active:       cfg.Active == nil || *cfg.Active,
	}
	var err error
	if params.Headers, err = encodeObject(cfg.Headers); err != nil {
		return Feed{}, InvalidArgumentf("headers: %v", err)
	}
	if params.Params, err = encodeObject(cfg.Params); err != nil {
		return Feed{}, InvalidArgumentf("params: %v", err)
	}
	if params.Auth, err = encodeObject(cfg.Auth); err != nil {
		return Feed{}, InvalidArgumentf("auth: %v", err)
	}
	if params.Extra, err = encodeObject(cfg.Extra); err != nil {
		return Feed{}, InvalidArgumentf("extra: %v", err)
	}

	f, err := s.store.UpsertFeed(ctx, params)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return Feed{}, Conflictf("feed url %q is already used by another supplier", cfg.URL)
		}
		return Feed{}, fmt.Errorf("upsert feed for supplier %d: %w", supplierID, err)
	}
	return newFeed(f), nil
}

func encodeObject[M ~map[string]V, V any](m M) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// PreviewFeed downloads and decodes a feed without persisting anything.
func (s *Service) PreviewFeed(ctx context.Context, req feed.PreviewRequest) feed.PreviewResult {
	if req.Timeout <= 0 {
		req.Timeout = s.opts.PreviewTimeout
	}
	return s.fetcher.Preview(ctx, req)
}
