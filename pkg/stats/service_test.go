package stats

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shirkeanjali/medgenix/pkg/kafka"
	"github.com/shirkeanjali/medgenix/pkg/models"
	"github.com/shirkeanjali/medgenix/pkg/redis"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

// memoryStore applies the same bucket arithmetic as the SQL store, in memory
type memoryStore struct {
	records   map[string]*models.MedicineStat
	failNames map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		records:   map[string]*models.MedicineStat{},
		failNames: map[string]bool{},
	}
}

func (m *memoryStore) RecordSearch(_ context.Context, name string, now time.Time) (*models.MedicineStat, error) {
	if m.failNames[name] {
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record search")
	}

	stat, ok := m.records[name]
	if !ok {
		stat = &models.MedicineStat{Name: name, CreatedAt: now}
		m.records[name] = stat
	}
	stat.AllTimeSearches++
	stat.LastSearchedAt = now
	stat.UpdatedAt = now

	period := PeriodOf(now)
	foundMonth := false
	for i := range stat.MonthlyBuckets {
		b := &stat.MonthlyBuckets[i]
		if b.Month == period.Month && b.Year == period.Year {
			b.SearchCount++
			foundMonth = true
			break
		}
	}
	if !foundMonth {
		stat.MonthlyBuckets = append(stat.MonthlyBuckets, models.MonthlyBucket{
			Month: period.Month, Year: period.Year, SearchCount: 1,
		})
	}

	foundYear := false
	for i := range stat.YearlyBuckets {
		b := &stat.YearlyBuckets[i]
		if b.Year == period.Year {
			b.SearchCount++
			foundYear = true
			break
		}
	}
	if !foundYear {
		stat.YearlyBuckets = append(stat.YearlyBuckets, models.YearlyBucket{
			Year: period.Year, SearchCount: 1,
		})
	}

	cutoff := MonthlyCutoffIndex(now)
	kept := stat.MonthlyBuckets[:0]
	for _, b := range stat.MonthlyBuckets {
		if MonthIndex(b.Year, b.Month) >= cutoff {
			kept = append(kept, b)
		}
	}
	stat.MonthlyBuckets = kept

	minYear := YearlyMinYear(now)
	keptYears := stat.YearlyBuckets[:0]
	for _, b := range stat.YearlyBuckets {
		if b.Year >= minYear {
			keptYears = append(keptYears, b)
		}
	}
	stat.YearlyBuckets = keptYears

	return stat, nil
}

func (m *memoryStore) GetByName(_ context.Context, name string) (*models.MedicineStat, error) {
	stat, ok := m.records[name]
	if !ok {
		return nil, httperror.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("no search statistics exist for medicine %q", name))
	}
	return stat, nil
}

func (m *memoryStore) ListTrending(_ context.Context, limit int) ([]models.MedicineStat, error) {
	var out []models.MedicineStat
	for _, stat := range m.records {
		out = append(out, *stat)
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].AllTimeSearches > out[i].AllTimeSearches ||
				(out[j].AllTimeSearches == out[i].AllTimeSearches && out[j].Name < out[i].Name) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) DeleteByName(_ context.Context, name string) error {
	if _, ok := m.records[name]; !ok {
		return httperror.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("no search statistics exist for medicine %q", name))
	}
	delete(m.records, name)
	return nil
}

type capturePublisher struct {
	messages []*kafka.SearchRecordedMessage
	fail     bool
}

func (p *capturePublisher) PublishSearchRecorded(_ context.Context, msg *kafka.SearchRecordedMessage) error {
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.messages = append(p.messages, msg)
	return nil
}

type memoryCache struct {
	values map[string][]byte
	hits   int
	sets   int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}}
}

func (c *memoryCache) GetJSON(_ context.Context, key string, dest any) error {
	_, ok := c.values[key]
	if !ok {
		return redis.ErrCacheMiss
	}
	c.hits++
	// Tests only care about hit vs miss, the cached value itself is opaque
	return nil
}

func (c *memoryCache) SetJSON(_ context.Context, key string, _ any, _ time.Duration) error {
	c.values[key] = []byte("{}")
	c.sets++
	return nil
}

func (c *memoryCache) Invalidate(_ context.Context, key string) error {
	delete(c.values, key)
	return nil
}

func newTestService(store Store, publisher EventPublisher, cache TrendCache) *Service {
	return NewService(store, publisher, cache, 30*time.Second, testLogger())
}

func assertStatusCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, code, httperror.GetStatusCode(err))
}

func TestServiceRecordSearch(t *testing.T) {
	ctx := context.Background()

	t.Run("should create a record on first search", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)

		stat, err := svc.RecordSearch(ctx, "Paracetamol")
		require.NoError(t, err)
		assert.Equal(t, "Paracetamol", stat.Name)
		assert.Equal(t, int64(1), stat.AllTimeSearches)
		require.Len(t, stat.MonthlyBuckets, 1)
		assert.Equal(t, int64(1), stat.MonthlyBuckets[0].SearchCount)
		require.Len(t, stat.YearlyBuckets, 1)
		assert.Equal(t, int64(1), stat.YearlyBuckets[0].SearchCount)
	})

	t.Run("should increment the same monthly bucket for repeated searches", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)

		for i := 0; i < 5; i++ {
			_, err := svc.RecordSearch(ctx, "Ibuprofen")
			require.NoError(t, err)
		}

		stat, err := svc.GetByName(ctx, "Ibuprofen")
		require.NoError(t, err)
		assert.Equal(t, int64(5), stat.AllTimeSearches)
		require.Len(t, stat.MonthlyBuckets, 1)
		assert.Equal(t, int64(5), stat.MonthlyBuckets[0].SearchCount)
	})

	t.Run("should trim surrounding whitespace from the name", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)

		_, err := svc.RecordSearch(ctx, "  Aspirin  ")
		require.NoError(t, err)

		stat, err := svc.GetByName(ctx, "Aspirin")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stat.AllTimeSearches)
	})

	t.Run("should reject an empty name", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)

		_, err := svc.RecordSearch(ctx, "   ")
		assertStatusCode(t, err, http.StatusBadRequest)
	})

	t.Run("should publish a search event after recording", func(t *testing.T) {
		store := newMemoryStore()
		publisher := &capturePublisher{}
		svc := newTestService(store, publisher, nil)

		_, err := svc.RecordSearch(ctx, "Cetirizine")
		require.NoError(t, err)

		require.Len(t, publisher.messages, 1)
		assert.Equal(t, "Cetirizine", publisher.messages[0].MedicineName)
		assert.Equal(t, int64(1), publisher.messages[0].AllTimeSearches)
	})

	t.Run("should not fail the search when publishing fails", func(t *testing.T) {
		store := newMemoryStore()
		publisher := &capturePublisher{fail: true}
		svc := newTestService(store, publisher, nil)

		stat, err := svc.RecordSearch(ctx, "Amoxicillin")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stat.AllTimeSearches)
	})
}

func TestServiceRecordSearchBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("should count every name including duplicates", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)

		result, err := svc.RecordSearchBatch(ctx, []string{"Paracetamol", "Ibuprofen", "Paracetamol"})
		require.NoError(t, err)
		assert.Equal(t, 3, result.Updated)
		assert.Equal(t, 0, result.Failed)
		require.Len(t, result.Items, 3)

		stat, err := svc.GetByName(ctx, "Paracetamol")
		require.NoError(t, err)
		assert.Equal(t, int64(2), stat.AllTimeSearches)
	})

	t.Run("should isolate failing items from the rest of the batch", func(t *testing.T) {
		store := newMemoryStore()
		store.failNames["Doxycycline"] = true
		svc := newTestService(store, nil, nil)

		result, err := svc.RecordSearchBatch(ctx, []string{"Paracetamol", "Doxycycline", "Aspirin"})
		require.NoError(t, err)
		assert.Equal(t, 2, result.Updated)
		assert.Equal(t, 1, result.Failed)

		assert.Empty(t, result.Items[0].Error)
		assert.NotEmpty(t, result.Items[1].Error)
		assert.Nil(t, result.Items[1].Stat)
		assert.Empty(t, result.Items[2].Error)

		stat, err := svc.GetByName(ctx, "Aspirin")
		require.NoError(t, err)
		assert.Equal(t, int64(1), stat.AllTimeSearches)
	})

	t.Run("should report blank names as failed items", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)

		result, err := svc.RecordSearchBatch(ctx, []string{"Paracetamol", "  "})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Updated)
		assert.Equal(t, 1, result.Failed)
	})

	t.Run("should reject an empty batch", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)

		_, err := svc.RecordSearchBatch(ctx, nil)
		assertStatusCode(t, err, http.StatusBadRequest)
	})
}

func TestServiceAllTimeVersusWindowed(t *testing.T) {
	ctx := context.Background()

	t.Run("should keep the all-time counter growing while old buckets are pruned", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)

		base := time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC)

		// One search per month for 30 consecutive months
		for i := 0; i < 30; i++ {
			svc.now = func() time.Time { return base.AddDate(0, i, 0) }
			_, err := svc.RecordSearch(ctx, "Paracetamol")
			require.NoError(t, err)
		}

		stat, err := svc.GetByName(ctx, "Paracetamol")
		require.NoError(t, err)

		assert.Equal(t, int64(30), stat.AllTimeSearches)
		assert.Len(t, stat.MonthlyBuckets, MonthlyRetention)
		assert.Equal(t, int64(MonthlyRetention), stat.WindowedSearches())
	})

	t.Run("should keep at most one monthly bucket per calendar month", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)
		svc.now = func() time.Time {
			return time.Date(2026, time.August, 15, 0, 0, 0, 0, time.UTC)
		}

		for i := 0; i < 10; i++ {
			_, err := svc.RecordSearch(ctx, "Ibuprofen")
			require.NoError(t, err)
		}

		stat, err := svc.GetByName(ctx, "Ibuprofen")
		require.NoError(t, err)
		require.Len(t, stat.MonthlyBuckets, 1)
		assert.Equal(t, int64(10), stat.MonthlyBuckets[0].SearchCount)
		require.Len(t, stat.YearlyBuckets, 1)
		assert.Equal(t, int64(10), stat.YearlyBuckets[0].SearchCount)
	})

	t.Run("should bound yearly history to five years", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)

		base := time.Date(2020, time.June, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 7; i++ {
			svc.now = func() time.Time { return base.AddDate(i, 0, 0) }
			_, err := svc.RecordSearch(ctx, "Aspirin")
			require.NoError(t, err)
		}

		stat, err := svc.GetByName(ctx, "Aspirin")
		require.NoError(t, err)
		assert.Equal(t, int64(7), stat.AllTimeSearches)
		assert.Len(t, stat.YearlyBuckets, YearlyRetention)
		assert.Equal(t, 2022, stat.YearlyBuckets[0].Year)
	})
}

func TestServiceGetTrending(t *testing.T) {
	ctx := context.Background()

	seedSearches := func(svc *Service, name string, count int) {
		t.Helper()
		for i := 0; i < count; i++ {
			_, err := svc.RecordSearch(ctx, name)
			require.NoError(t, err)
		}
	}

	t.Run("should rank by all-time searches descending", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		seedSearches(svc, "Paracetamol", 5)
		seedSearches(svc, "Ibuprofen", 9)
		seedSearches(svc, "Aspirin", 2)

		records, err := svc.GetTrending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, records, 3)
		assert.Equal(t, "Ibuprofen", records[0].Name)
		assert.Equal(t, "Paracetamol", records[1].Name)
		assert.Equal(t, "Aspirin", records[2].Name)
	})

	t.Run("should respect the limit", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		seedSearches(svc, "Paracetamol", 3)
		seedSearches(svc, "Ibuprofen", 2)
		seedSearches(svc, "Aspirin", 1)

		records, err := svc.GetTrending(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, records, 2)
	})

	t.Run("should default the limit when zero", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		records, err := svc.GetTrending(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("should reject limits above the maximum", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		_, err := svc.GetTrending(ctx, MaxTrendingLimit+1)
		assertStatusCode(t, err, http.StatusBadRequest)
	})

	t.Run("should serve repeated queries from the cache", func(t *testing.T) {
		cache := newMemoryCache()
		svc := newTestService(newMemoryStore(), nil, cache)

		_, err := svc.GetTrending(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, cache.sets)

		_, err = svc.GetTrending(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, cache.hits)
		assert.Equal(t, 1, cache.sets)
	})

	t.Run("should invalidate the cache when a search is recorded", func(t *testing.T) {
		cache := newMemoryCache()
		svc := newTestService(newMemoryStore(), nil, cache)

		_, err := svc.GetTrending(ctx, DefaultTrendingLimit)
		require.NoError(t, err)

		_, err = svc.RecordSearch(ctx, "Paracetamol")
		require.NoError(t, err)

		_, err = svc.GetTrending(ctx, DefaultTrendingLimit)
		require.NoError(t, err)
		assert.Equal(t, 2, cache.sets)
	})
}

func TestServiceGetMonthlyTrend(t *testing.T) {
	ctx := context.Background()

	t.Run("should return six zero-filled months by default", func(t *testing.T) {
		store := newMemoryStore()
		svc := newTestService(store, nil, nil)
		svc.now = func() time.Time {
			return time.Date(2026, time.August, 15, 0, 0, 0, 0, time.UTC)
		}

		_, err := svc.RecordSearch(ctx, "Paracetamol")
		require.NoError(t, err)

		trend, err := svc.GetMonthlyTrend(ctx, "Paracetamol", 0)
		require.NoError(t, err)
		assert.Equal(t, "Paracetamol", trend.Name)
		require.Len(t, trend.Months, DefaultTrendMonths)

		// Only the current month has a count
		for _, point := range trend.Months[:5] {
			assert.Zero(t, point.Count)
		}
		assert.Equal(t, int64(1), trend.Months[5].Count)
		assert.Equal(t, 8, trend.Months[5].Month)
	})

	t.Run("should return 404 for an unknown medicine", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		_, err := svc.GetMonthlyTrend(ctx, "Unknown", 6)
		assertStatusCode(t, err, http.StatusNotFound)
	})

	t.Run("should reject a window beyond the retention window", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		_, err := svc.GetMonthlyTrend(ctx, "Paracetamol", MaxTrendMonths+1)
		assertStatusCode(t, err, http.StatusBadRequest)
	})
}

func TestServiceDeleteByName(t *testing.T) {
	ctx := context.Background()

	t.Run("should delete an existing record", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		_, err := svc.RecordSearch(ctx, "Paracetamol")
		require.NoError(t, err)

		require.NoError(t, svc.DeleteByName(ctx, "Paracetamol"))

		_, err = svc.GetByName(ctx, "Paracetamol")
		assertStatusCode(t, err, http.StatusNotFound)
	})

	t.Run("should return 404 when the record does not exist", func(t *testing.T) {
		svc := newTestService(newMemoryStore(), nil, nil)
		err := svc.DeleteByName(ctx, "Nothing")
		assertStatusCode(t, err, http.StatusNotFound)
	})
}
