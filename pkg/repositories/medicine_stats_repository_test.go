package repositories_test

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shirkeanjali/medgenix/pkg/database"
	"github.com/shirkeanjali/medgenix/pkg/repositories"
	"github.com/shirkeanjali/medgenix/pkg/stats"
)

func getTestLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func getTestDB(t *testing.T) database.DB {
	// Use environment variables or defaults for test DB
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}
	dbUser := os.Getenv("DB_USER_NAME")
	if dbUser == "" {
		dbUser = "user"
	}
	dbPass := os.Getenv("DB_PASSWORD")
	if dbPass == "" {
		dbPass = "password"
	}
	dbName := os.Getenv("DB_NAME")
	if dbName == "" {
		dbName = "medgenix"
	}

	dsn := "host=" + dbHost + " user=" + dbUser + " password=" + dbPass + " dbname=" + dbName + " sslmode=disable"
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err, "Failed to connect to test database")

	return database.NewDatabaseInstance(db, getTestLogger())
}

// testMedicineName returns a unique name per test so runs don't collide
func testMedicineName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, httperror.IsHTTPError(err), "expected HTTP error, got: %v", err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
}

func TestMedicineStatsRepository_RecordSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewMedicineStatsRepository(db, getTestLogger())
	ctx := context.Background()

	name := testMedicineName("paracetamol")
	now := time.Now().UTC()

	t.Cleanup(func() { _ = repo.DeleteByName(ctx, name) })

	// First search creates the record with every counter at one
	stat, err := repo.RecordSearch(ctx, name, now)
	require.NoError(t, err)
	assert.Equal(t, name, stat.Name)
	assert.Equal(t, int64(1), stat.AllTimeSearches)
	require.Len(t, stat.MonthlyBuckets, 1)
	assert.Equal(t, int64(1), stat.MonthlyBuckets[0].SearchCount)
	require.Len(t, stat.YearlyBuckets, 1)
	assert.Equal(t, int64(1), stat.YearlyBuckets[0].SearchCount)

	// Second search in the same month reuses the buckets
	stat, err = repo.RecordSearch(ctx, name, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stat.AllTimeSearches)
	require.Len(t, stat.MonthlyBuckets, 1)
	assert.Equal(t, int64(2), stat.MonthlyBuckets[0].SearchCount)

	// A search in a different month opens a new monthly bucket
	nextMonth := now.AddDate(0, 1, 0)
	stat, err = repo.RecordSearch(ctx, name, nextMonth)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stat.AllTimeSearches)
	assert.Len(t, stat.MonthlyBuckets, 2)
}

func TestMedicineStatsRepository_ConcurrentRecordSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewMedicineStatsRepository(db, getTestLogger())
	ctx := context.Background()

	name := testMedicineName("concurrent")
	now := time.Now().UTC()

	t.Cleanup(func() { _ = repo.DeleteByName(ctx, name) })

	const goroutines = 20
	const perGoroutine = 5

	var wg sync.WaitGroup
	errCh := make(chan error, goroutines*perGoroutine)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				if _, err := repo.RecordSearch(ctx, name, now); err != nil {
					errCh <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	// No increments may be lost under concurrency
	stat, err := repo.GetByName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine), stat.AllTimeSearches)
	require.Len(t, stat.MonthlyBuckets, 1)
	assert.Equal(t, int64(goroutines*perGoroutine), stat.MonthlyBuckets[0].SearchCount)
}

func TestMedicineStatsRepository_WindowPruning(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewMedicineStatsRepository(db, getTestLogger())
	ctx := context.Background()

	name := testMedicineName("pruning")
	now := time.Now().UTC()

	t.Cleanup(func() { _ = repo.DeleteByName(ctx, name) })

	// Write a search 30 months ago, then one now: the old monthly bucket must
	// be pruned while the all-time counter keeps both
	old := now.AddDate(0, -30, 0)
	_, err := repo.RecordSearch(ctx, name, old)
	require.NoError(t, err)

	stat, err := repo.RecordSearch(ctx, name, now)
	require.NoError(t, err)

	assert.Equal(t, int64(2), stat.AllTimeSearches)
	require.Len(t, stat.MonthlyBuckets, 1)
	assert.Equal(t, stats.PeriodOf(now).Month, stat.MonthlyBuckets[0].Month)
	assert.Equal(t, int64(1), stat.WindowedSearches())
}

func TestMedicineStatsRepository_ListTrending(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewMedicineStatsRepository(db, getTestLogger())
	ctx := context.Background()

	now := time.Now().UTC()
	low := testMedicineName("trending-low")
	high := testMedicineName("trending-high")

	t.Cleanup(func() {
		_ = repo.DeleteByName(ctx, low)
		_ = repo.DeleteByName(ctx, high)
	})

	_, err := repo.RecordSearch(ctx, low, now)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = repo.RecordSearch(ctx, high, now)
		require.NoError(t, err)
	}

	records, err := repo.ListTrending(ctx, 100)
	require.NoError(t, err)

	posLow, posHigh := -1, -1
	for i, record := range records {
		switch record.Name {
		case low:
			posLow = i
		case high:
			posHigh = i
		}
	}
	require.NotEqual(t, -1, posLow)
	require.NotEqual(t, -1, posHigh)
	assert.Less(t, posHigh, posLow, "medicine with more searches must rank first")
}

func TestMedicineStatsRepository_GetAndDelete(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewMedicineStatsRepository(db, getTestLogger())
	ctx := context.Background()

	name := testMedicineName("lifecycle")
	now := time.Now().UTC()

	_, err := repo.RecordSearch(ctx, name, now)
	require.NoError(t, err)

	stat, err := repo.GetByName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, name, stat.Name)

	err = repo.DeleteByName(ctx, name)
	require.NoError(t, err)

	_, err = repo.GetByName(ctx, name)
	assertNotFound(t, err)

	err = repo.DeleteByName(ctx, name)
	assertNotFound(t, err)
}

func TestMedicineStatsRepository_PruneExpired(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	db := getTestDB(t)
	repo := repositories.NewMedicineStatsRepository(db, getTestLogger())
	ctx := context.Background()

	name := testMedicineName("sweep")
	now := time.Now().UTC()

	t.Cleanup(func() { _ = repo.DeleteByName(ctx, name) })

	// Only write old data, then sweep: the record keeps its all-time counter
	// but the expired buckets disappear
	old := now.AddDate(0, -30, 0)
	_, err := repo.RecordSearch(ctx, name, old)
	require.NoError(t, err)

	monthly, _, err := repo.PruneExpired(ctx, now)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, monthly, int64(1))

	stat, err := repo.GetByName(ctx, name)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stat.AllTimeSearches)
	assert.Empty(t, stat.MonthlyBuckets)
}
