package stats

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/shirkeanjali/medgenix/pkg/kafka"
	"github.com/shirkeanjali/medgenix/pkg/metrics"
	"github.com/shirkeanjali/medgenix/pkg/models"
	"github.com/shirkeanjali/medgenix/pkg/redis"
	"github.com/shirkeanjali/medgenix/pkg/tracing"
)

// MaxTrendingLimit caps how many medicines a trending query may request
const MaxTrendingLimit = 50

const trendingCacheKey = "trending"

// Store is the persistence surface the aggregator needs
type Store interface {
	RecordSearch(ctx context.Context, name string, now time.Time) (*models.MedicineStat, error)
	GetByName(ctx context.Context, name string) (*models.MedicineStat, error)
	ListTrending(ctx context.Context, limit int) ([]models.MedicineStat, error)
	DeleteByName(ctx context.Context, name string) error
}

// EventPublisher emits search events for downstream consumers
type EventPublisher interface {
	PublishSearchRecorded(ctx context.Context, msg *kafka.SearchRecordedMessage) error
}

// TrendCache is the short-TTL cache in front of the trending ranking
type TrendCache interface {
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
}

// BatchItemResult is the outcome of one name within a batch update
type BatchItemResult struct {
	Name  string               `json:"name"`
	Stat  *models.MedicineStat `json:"stat,omitempty"`
	Error string               `json:"error,omitempty"`
}

// BatchResult summarizes a batch update. Items appear in request order, one
// entry per submitted name, duplicates included.
type BatchResult struct {
	Updated int               `json:"updated"`
	Failed  int               `json:"failed"`
	Items   []BatchItemResult `json:"items"`
}

// MonthlyTrend is a zero-filled month-by-month series for one medicine
type MonthlyTrend struct {
	Name   string              `json:"name"`
	Months []models.TrendPoint `json:"months"`
}

// Service is the search statistics aggregator. It validates input, applies
// search events through the store, publishes events, and serves the trend and
// ranking queries. Publisher and cache are optional; a nil publisher skips
// events and a nil cache makes every trending query hit the store.
type Service struct {
	store     Store
	publisher EventPublisher
	cache     TrendCache
	cacheTTL  time.Duration
	logger    ectologger.Logger

	// now is swapped out in tests
	now func() time.Time
}

// NewService creates a new aggregator service
func NewService(store Store, publisher EventPublisher, cache TrendCache, cacheTTL time.Duration, logger ectologger.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		cache:     cache,
		cacheTTL:  cacheTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// normalizeName trims surrounding whitespace. The trimmed form is the
// identity used for storage and lookups.
func normalizeName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "medicine name is required")
	}
	return trimmed, nil
}

// RecordSearch counts one search for the named medicine and returns the
// updated record. The event publish happens after the write commits; a
// publish failure is logged and counted but never fails the search.
func (s *Service) RecordSearch(ctx context.Context, name string) (*models.MedicineStat, error) {
	ctx, span := tracing.StartSpan(ctx, "StatsService.RecordSearch")
	defer span.End()

	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	stat, err := s.store.RecordSearch(ctx, name, now)
	if err != nil {
		return nil, err
	}

	metrics.SearchesRecorded.Inc()
	s.invalidateTrending(ctx)
	s.publishSearchRecorded(ctx, stat, now)

	return stat, nil
}

// RecordSearchBatch counts one search per submitted name. Items are isolated:
// a failing name is reported in its result entry and the rest of the batch
// still commits. A name submitted twice is counted twice.
func (s *Service) RecordSearchBatch(ctx context.Context, names []string) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "StatsService.RecordSearchBatch")
	defer span.End()

	if len(names) == 0 {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "generic_names must not be empty")
	}

	result := &BatchResult{Items: make([]BatchItemResult, 0, len(names))}
	for _, raw := range names {
		item := BatchItemResult{Name: strings.TrimSpace(raw)}

		stat, err := s.RecordSearch(ctx, raw)
		if err != nil {
			item.Error = errorMessage(err)
			result.Failed++
			metrics.BatchItemFailures.Inc()
			s.logger.WithContext(ctx).WithError(err).WithField("name", raw).Warn("batch item failed")
		} else {
			item.Stat = stat
			result.Updated++
		}

		result.Items = append(result.Items, item)
	}

	return result, nil
}

// GetByName returns the fully materialized record for a medicine
func (s *Service) GetByName(ctx context.Context, name string) (*models.MedicineStat, error) {
	ctx, span := tracing.StartSpan(ctx, "StatsService.GetByName")
	defer span.End()

	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	return s.store.GetByName(ctx, name)
}

// GetTrending returns the top medicines by all-time search count. Results are
// cached briefly; the ranking tolerates slightly stale reads.
func (s *Service) GetTrending(ctx context.Context, limit int) ([]models.MedicineStat, error) {
	ctx, span := tracing.StartSpan(ctx, "StatsService.GetTrending")
	defer span.End()

	if limit <= 0 {
		limit = DefaultTrendingLimit
	}
	if limit > MaxTrendingLimit {
		return nil, httperror.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("limit must be at most %d", MaxTrendingLimit))
	}

	// Only the default query is cached; invalidation after writes then only
	// has one key to clear
	useCache := s.cache != nil && limit == DefaultTrendingLimit
	if useCache {
		var cached []models.MedicineStat
		err := s.cache.GetJSON(ctx, trendingCacheKey, &cached)
		if err == nil {
			metrics.TrendingCacheHits.Inc()
			return cached, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.WithContext(ctx).WithError(err).Warn("trending cache read failed")
		}
		metrics.TrendingCacheMisses.Inc()
	}

	records, err := s.store.ListTrending(ctx, limit)
	if err != nil {
		return nil, err
	}

	if useCache {
		if err := s.cache.SetJSON(ctx, trendingCacheKey, records, s.cacheTTL); err != nil {
			s.logger.WithContext(ctx).WithError(err).Warn("trending cache write failed")
		}
	}

	return records, nil
}

// GetMonthlyTrend returns a month-by-month series for one medicine covering
// the monthsBack months ending at the current month, oldest first. Months
// with no searches appear as zeros. monthsBack of 0 means the default window.
func (s *Service) GetMonthlyTrend(ctx context.Context, name string, monthsBack int) (*MonthlyTrend, error) {
	ctx, span := tracing.StartSpan(ctx, "StatsService.GetMonthlyTrend")
	defer span.End()

	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}

	if monthsBack == 0 {
		monthsBack = DefaultTrendMonths
	}
	if monthsBack < 1 || monthsBack > MaxTrendMonths {
		return nil, httperror.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("months must be between 1 and %d", MaxTrendMonths))
	}

	stat, err := s.store.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}

	return &MonthlyTrend{
		Name:   stat.Name,
		Months: BuildTrend(stat.MonthlyBuckets, s.now().UTC(), monthsBack),
	}, nil
}

// DeleteByName removes a medicine's statistics entirely
func (s *Service) DeleteByName(ctx context.Context, name string) error {
	ctx, span := tracing.StartSpan(ctx, "StatsService.DeleteByName")
	defer span.End()

	name, err := normalizeName(name)
	if err != nil {
		return err
	}

	if err := s.store.DeleteByName(ctx, name); err != nil {
		return err
	}

	s.invalidateTrending(ctx)
	return nil
}

func (s *Service) publishSearchRecorded(ctx context.Context, stat *models.MedicineStat, now time.Time) {
	if s.publisher == nil {
		return
	}

	period := PeriodOf(now)
	msg := &kafka.SearchRecordedMessage{
		MedicineName:    stat.Name,
		AllTimeSearches: stat.AllTimeSearches,
		Month:           period.Month,
		Year:            period.Year,
		Timestamp:       now,
	}

	if err := s.publisher.PublishSearchRecorded(ctx, msg); err != nil {
		metrics.SearchEventPublishFailures.Inc()
		s.logger.WithContext(ctx).WithError(err).WithField("name", stat.Name).Warn("failed to publish search event")
	}
}

func (s *Service) invalidateTrending(ctx context.Context) {
	if s.cache == nil {
		return
	}

	if err := s.cache.Invalidate(ctx, trendingCacheKey); err != nil {
		s.logger.WithContext(ctx).WithError(err).Debug("trending cache invalidation failed")
	}
}

func errorMessage(err error) string {
	if httperror.IsHTTPError(err) {
		return httperror.ToHTTPError(err).Error()
	}
	return err.Error()
}
