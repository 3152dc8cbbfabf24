package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/sma-school-api/pkg/errors"
)

// Cache TTLs for aggregate reads.
const (
	DashboardStatsTTL = 60 * time.Second
	UserOverviewTTL   = 30 * time.Second
)

// DashboardStatsKey is the cache key of a school's dashboard aggregate.
func DashboardStatsKey(schoolID string) string {
	return fmt.Sprintf("dashboard:stats:%s", schoolID)
}

// UserOverviewKey is the cache key of a user's overview payload.
func UserOverviewKey(userID string) string {
	return fmt.Sprintf("user:overview:%s", userID)
}

// CacheStore abstracts persistence for cached payloads. Both the in-process
// cache.MemoryStore and the redis backed repository.CacheRepository satisfy it.
type CacheStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// CacheService orchestrates cache operations and related metrics.
type CacheService struct {
	repo       CacheStore
	metrics    *MetricsService
	defaultTTL time.Duration
	logger     *zap.Logger
	enabled    bool
}

// NewCacheService constructs a cache service.
func NewCacheService(repo CacheStore, metrics *MetricsService, defaultTTL time.Duration, logger *zap.Logger, enabled bool) *CacheService {
	if defaultTTL <= 0 {
		defaultTTL = DashboardStatsTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheService{repo: repo, metrics: metrics, defaultTTL: defaultTTL, logger: logger, enabled: enabled}
}

// Enabled indicates whether caching is active.
func (s *CacheService) Enabled() bool {
	return s != nil && s.enabled && s.repo != nil
}

// Get attempts to retrieve a cached entry. It returns true when the cache was hit.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	start := time.Now()
	err := s.repo.Get(ctx, key, dest)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordCacheOperation(false, duration)
		if errors.Is(err, appErrors.ErrCacheMiss) || appErrors.Is(err, appErrors.ErrCacheMiss) {
			return false, nil
		}
		s.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	s.metrics.RecordCacheOperation(true, duration)
	return true, nil
}

// Set stores the value in cache.
func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Enabled() {
		return nil
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	start := time.Now()
	err := s.repo.Set(ctx, key, value, ttl)
	s.metrics.ObserveCacheWrite(time.Since(start))
	if err != nil {
		s.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return err
}

// Delete drops the given keys.
func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !s.Enabled() || len(keys) == 0 {
		return nil
	}
	if err := s.repo.Delete(ctx, keys...); err != nil {
		s.logger.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
		return err
	}
	return nil
}

// Invalidate removes cached values for the provided pattern.
func (s *CacheService) Invalidate(ctx context.Context, pattern string) error {
	if !s.Enabled() {
		return nil
	}
	if err := s.repo.DeleteByPattern(ctx, pattern); err != nil {
		s.logger.Warn("cache invalidate failed", zap.String("pattern", pattern), zap.Error(err))
		return err
	}
	return nil
}

// Wrap returns the cached value for key, or runs loader, stores its result
// and decodes it into dest. Cache failures degrade to calling the loader.
func (s *CacheService) Wrap(ctx context.Context, key string, ttl time.Duration, dest interface{}, loader func(ctx context.Context) (interface{}, error)) error {
	if hit, err := s.Get(ctx, key, dest); err == nil && hit {
		return nil
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	_ = s.Set(ctx, key, value, ttl)
	return assign(dest, value)
}

// InvalidateSchoolMetrics drops the dashboard aggregate of a school. Writers
// call it before returning so the next read observes their change.
func (s *CacheService) InvalidateSchoolMetrics(ctx context.Context, schoolID string) {
	if schoolID == "" {
		return
	}
	_ = s.Delete(ctx, DashboardStatsKey(schoolID))
}

// InvalidateUserOverview drops the overview payload of the given users.
func (s *CacheService) InvalidateUserOverview(ctx context.Context, userIDs ...string) {
	keys := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			keys = append(keys, UserOverviewKey(id))
		}
	}
	_ = s.Delete(ctx, keys...)
}

// assign copies value into dest through its JSON form so the loader result
// and a cache hit decode identically.
func assign(dest, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cached value: %w", err)
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return fmt.Errorf("unmarshal cached value: %w", err)
	}
	return nil
}
