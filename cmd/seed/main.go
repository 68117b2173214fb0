// Command seed loads demo search statistics so trending and trend views have
// something to show on a fresh install.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/shirkeanjali/medgenix/config"
	"github.com/shirkeanjali/medgenix/pkg/database"
	"github.com/shirkeanjali/medgenix/pkg/models"
	"github.com/shirkeanjali/medgenix/pkg/repositories"
	"github.com/shirkeanjali/medgenix/pkg/stats"
)

var medicines = []string{
	"Paracetamol",
	"Ibuprofen",
	"Aspirin",
	"Cetirizine",
	"Amoxicillin",
	"Doxycycline",
}

const (
	seedMonths = 12
	seedYears  = 3
)

func main() {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	logger := zapadapter.NewZapEctoLogger(zapLogger, nil)

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName,
		cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer sqlxDB.Close()

	db := database.NewDatabaseInstance(sqlxDB, logger)
	repo := repositories.NewMedicineStatsRepository(db, logger)

	ctx := context.Background()
	now := time.Now().UTC()
	rng := rand.New(rand.NewSource(now.UnixNano()))

	for _, name := range medicines {
		stat := buildDemoStat(name, now, rng)
		if err := repo.Seed(ctx, stat); err != nil {
			logger.WithError(err).WithField("name", name).Error("failed to seed medicine")
			os.Exit(1)
		}
		logger.WithFields(map[string]any{
			"name":              name,
			"all_time_searches": stat.AllTimeSearches,
		}).Info("Seeded medicine")
	}

	logger.Infof("Seeded %d medicines", len(medicines))
}

// buildDemoStat produces a record with 12 months and 3 years of history.
// Yearly buckets sum the monthly counts that fall in them, and the all-time
// counter sums every bucket, so the seeded data obeys the same shape real
// traffic produces.
func buildDemoStat(name string, now time.Time, rng *rand.Rand) *models.MedicineStat {
	stat := &models.MedicineStat{
		Name:           name,
		LastSearchedAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	yearTotals := map[int]int64{}

	period := stats.PeriodOf(now)
	monthly := make([]models.MonthlyBucket, 0, seedMonths)
	for i := 0; i < seedMonths; i++ {
		count := int64(rng.Intn(400) + 20)
		monthly = append(monthly, models.MonthlyBucket{
			Month:       period.Month,
			Year:        period.Year,
			SearchCount: count,
		})
		yearTotals[period.Year] += count
		period = period.Previous()
	}
	// Oldest first, matching what the repository returns
	for i, j := 0, len(monthly)-1; i < j; i, j = i+1, j-1 {
		monthly[i], monthly[j] = monthly[j], monthly[i]
	}
	stat.MonthlyBuckets = monthly

	// Older years get search volume not covered by the monthly buckets
	currentYear := now.Year()
	for y := currentYear - (seedYears - 1); y < currentYear-1; y++ {
		if yearTotals[y] == 0 {
			yearTotals[y] = int64(rng.Intn(3000) + 500)
		}
	}

	for y := currentYear - (seedYears - 1); y <= currentYear; y++ {
		stat.YearlyBuckets = append(stat.YearlyBuckets, models.YearlyBucket{
			Year:        y,
			SearchCount: yearTotals[y],
		})
		stat.AllTimeSearches += yearTotals[y]
	}

	return stat
}
