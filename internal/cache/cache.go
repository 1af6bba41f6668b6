package cache

import (
	"context"
	"time"

	"tengepos/backend/internal/domain"
)

// ReportCache holds computed popular-products reports keyed by query shape.
// Invalidation is best-effort; a failed invalidate only delays freshness.
type ReportCache interface {
	Get(ctx context.Context, key string) (*domain.PopularProductsReport, bool, error)
	Set(ctx context.Context, key string, value *domain.PopularProductsReport, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string) error
}

type NoopReportCache struct{}

func (NoopReportCache) Get(_ context.Context, _ string) (*domain.PopularProductsReport, bool, error) {
	return nil, false, nil
}

func (NoopReportCache) Set(_ context.Context, _ string, _ *domain.PopularProductsReport, _ time.Duration) error {
	return nil
}

func (NoopReportCache) InvalidatePrefix(_ context.Context, _ string) error {
	return nil
}
