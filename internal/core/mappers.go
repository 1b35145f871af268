package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/catalogsync/internal/database"
	"github.com/JonMunkholm/catalogsync/internal/mapping"
)

// requiredTargets must be mapped for a profile to be usable for ingestion.
var requiredTargets = []string{"gtin", "price", "stock"}

// Mapper is a feed's mapping profile.
type Mapper struct {
	ID        int64           `json:"id"`
	FeedID    int64           `json:"feed_id"`
	Profile   json.RawMessage `json:"profile"`
	Version   int32           `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newMapper(m database.FeedMapper) Mapper {
	profile := json.RawMessage(m.Profile)
	if len(profile) == 0 {
		profile = json.RawMessage("{}")
	}
	return Mapper{
		ID:        m.ID,
		FeedID:    m.FeedID,
		Profile:   profile,
		Version:   m.Version,
		CreatedAt: m.CreatedAt.Time,
		UpdatedAt: m.UpdatedAt.Time,
	}
}

// GetMapper returns the mapping profile of a feed.
func (s *Service) GetMapper(ctx context.Context, feedID int64) (Mapper, error) {
	m, err := s.store.GetMapperByFeed(ctx, feedID)
	if err != nil {
		if database.IsNoRows(err) {
			return Mapper{}, NotFoundf("mapper for feed %d not found", feedID)
		}
		return Mapper{}, fmt.Errorf("get mapper for feed %d: %w", feedID, err)
	}
	return newMapper(m), nil
}

// PutMapper stores a feed's profile. The profile must compile. The first
// save creates version 1; later saves bump the version when bump is set.
func (s *Service) PutMapper(ctx context.Context, feedID int64, profile json.RawMessage, bump bool) (Mapper, error) {
	profile = bytes.TrimSpace(profile)
	if len(profile) == 0 || string(profile) == "null" {
		return Mapper{}, InvalidArgumentf("profile is required")
	}
	if _, err := mapping.Compile(profile); err != nil {
		return Mapper{}, &AppError{Kind: KindInvalidArgument, Code: "MAP001", Message: "invalid mapping profile", Err: err}
	}

	if _, err := s.store.GetFeed(ctx, feedID); err != nil {
		if database.IsNoRows(err) {
			return Mapper{}, NotFoundf("feed %d not found", feedID)
		}
		return Mapper{}, fmt.Errorf("get feed %d: %w", feedID, err)
	}

	m, err := s.store.UpsertMapper(ctx, database.UpsertMapperParams{
		FeedID:      feedID,
		Profile:     profile,
		BumpVersion: bump,
	})
	if err != nil {
		return Mapper{}, fmt.Errorf("upsert mapper for feed %d: %w", feedID, err)
	}
	return newMapper(m), nil
}

// ValidationIssue is one finding of ValidateMapper.
type ValidationIssue struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// MapperValidation is the result of ValidateMapper. It never carries an
// error for a bad profile; problems are listed in Errors.
type MapperValidation struct {
	OK               bool              `json:"ok"`
	Errors           []ValidationIssue `json:"errors"`
	Warnings         []ValidationIssue `json:"warnings"`
	RequiredCoverage map[string]bool   `json:"required_coverage"`
	HeadersChecked   bool              `json:"headers_checked"`
}

// ValidateMapper checks that gtin, price and stock are mapped and, when
// headers are given, that every configured source is among them. With a nil
// profile the stored mapper is validated.
func (s *Service) ValidateMapper(ctx context.Context, feedID int64, profile json.RawMessage, headers []string) (MapperValidation, error) {
	if len(bytes.TrimSpace(profile)) == 0 || string(bytes.TrimSpace(profile)) == "null" {
		m, err := s.store.GetMapperByFeed(ctx, feedID)
		if err != nil && !database.IsNoRows(err) {
			return MapperValidation{}, fmt.Errorf("get mapper for feed %d: %w", feedID, err)
		}
		if err != nil || len(bytes.TrimSpace(m.Profile)) == 0 {
			return MapperValidation{
				Errors:           []ValidationIssue{{Code: "not_found", Msg: "Mapper not found for this feed"}},
				Warnings:         []ValidationIssue{},
				RequiredCoverage: map[string]bool{},
			}, nil
		}
		profile = m.Profile
	}
	return validateProfile(profile, headers), nil
}

func validateProfile(profile []byte, headers []string) MapperValidation {
	res := MapperValidation{
		Errors:           []ValidationIssue{},
		Warnings:         []ValidationIssue{},
		RequiredCoverage: make(map[string]bool, len(requiredTargets)),
	}

	fields, err := mapping.FieldSources(profile)
	if err != nil {
		res.Errors = append(res.Errors, ValidationIssue{Code: "invalid_profile", Msg: err.Error()})
		for _, r := range requiredTargets {
			res.RequiredCoverage[r] = false
		}
		return res
	}
	if _, err := mapping.Compile(profile); err != nil {
		res.Errors = append(res.Errors, ValidationIssue{Code: "invalid_profile", Msg: err.Error()})
	}

	mapped := make(map[string]bool, len(fields))
	for _, f := range fields {
		mapped[f.Target] = true
	}
	for _, r := range requiredTargets {
		res.RequiredCoverage[r] = mapped[r]
		if !mapped[r] {
			res.Errors = append(res.Errors, ValidationIssue{
				Code: "missing_field",
				Msg:  fmt.Sprintf("Required field '%s' is not mapped", r),
			})
		}
	}

	if headers != nil {
		res.HeadersChecked = true
		if len(headers) == 0 {
			res.Warnings = append(res.Warnings, ValidationIssue{Code: "no_headers", Msg: "Header list is empty"})
		}
		known := make(map[string]bool, len(headers))
		for _, h := range headers {
			known[strings.ToLower(strings.TrimSpace(h))] = true
		}
		for _, f := range fields {
			if f.Source != "" && !known[strings.ToLower(strings.TrimSpace(f.Source))] {
				res.Errors = append(res.Errors, ValidationIssue{
					Code: "missing_source",
					Msg:  fmt.Sprintf("Source '%s' does not exist in headers", f.Source),
				})
			}
		}
	}

	res.OK = len(res.Errors) == 0
	return res
}

// MappingOperators lists the condition operators profiles may use.
func MappingOperators() []mapping.Operator {
	return mapping.Operators()
}
