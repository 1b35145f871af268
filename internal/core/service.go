package core

import (
	"time"
)

// Service exposes the catalog operations: ingestion, feed and mapper
// management, the catalog update stream and product queries.
type Service struct {
	store   Store
	fetcher Fetcher
	limiter *RunLimiter
	opts    Options
	now     func() time.Time
}

// NewService creates a Service.
func NewService(store Store, fetcher Fetcher, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		store:   store,
		fetcher: fetcher,
		limiter: NewRunLimiter(opts.MaxConcurrentRuns, opts.RunMaxWait),
		opts:    opts,
		now:     time.Now,
	}
}

// Limiter exposes the run limiter for health reporting and shutdown.
func (s *Service) Limiter() *RunLimiter {
	return s.limiter
}
