// Package stats implements the search statistics aggregator: per-medicine
// all-time totals plus bounded rolling windows of monthly and yearly search
// counts.
package stats

import (
	"time"

	"github.com/shirkeanjali/medgenix/pkg/models"
)

const (
	// MonthlyRetention is how many months of monthly buckets are kept,
	// counting the current month as the first.
	MonthlyRetention = 24

	// YearlyRetention is how many years of yearly buckets are kept, counting
	// the current year as the first.
	YearlyRetention = 5

	// DefaultTrendMonths is the trend window served when the caller does not
	// ask for a specific one.
	DefaultTrendMonths = 6

	// DefaultTrendingLimit is the number of medicines returned by the
	// trending ranking by default.
	DefaultTrendingLimit = 10

	// MaxTrendMonths caps how far back a trend query may reach; anything past
	// the monthly retention window is zeros anyway.
	MaxTrendMonths = MonthlyRetention
)

// Period is a calendar month.
type Period struct {
	Month int // 1-12
	Year  int
}

// MonthIndex maps a (year, month) pair onto a single monotonically increasing
// month counter, so window comparisons don't need to special-case year
// boundaries.
func MonthIndex(year, month int) int {
	return year*12 + month - 1
}

// PeriodOf returns the calendar month containing t.
func PeriodOf(t time.Time) Period {
	return Period{Month: int(t.Month()), Year: t.Year()}
}

// Index returns the period's month counter value.
func (p Period) Index() int {
	return MonthIndex(p.Year, p.Month)
}

// Previous returns the calendar month before p.
func (p Period) Previous() Period {
	if p.Month == 1 {
		return Period{Month: 12, Year: p.Year - 1}
	}
	return Period{Month: p.Month - 1, Year: p.Year}
}

// MonthlyCutoffIndex returns the smallest retained month index as of now.
// A bucket is retained iff MonthIndex(bucket) >= cutoff: the bucket 23 months
// back is the oldest survivor, 24 months back and older are pruned.
func MonthlyCutoffIndex(now time.Time) int {
	return PeriodOf(now).Index() - (MonthlyRetention - 1)
}

// YearlyMinYear returns the smallest retained year as of now. A bucket is
// retained iff bucket.Year >= YearlyMinYear, i.e. year > currentYear-5.
func YearlyMinYear(now time.Time) int {
	return now.Year() - (YearlyRetention - 1)
}

// TrendWindow returns the monthsBack calendar months ending at the month
// containing now, oldest first.
func TrendWindow(now time.Time, monthsBack int) []Period {
	periods := make([]Period, monthsBack)
	p := PeriodOf(now)
	for i := monthsBack - 1; i >= 0; i-- {
		periods[i] = p
		p = p.Previous()
	}
	return periods
}

// BuildTrend projects monthly buckets onto the trend window, zero-filling
// months with no recorded searches. The result is always exactly monthsBack
// entries long, oldest first.
func BuildTrend(buckets []models.MonthlyBucket, now time.Time, monthsBack int) []models.TrendPoint {
	counts := make(map[Period]int64, len(buckets))
	for _, b := range buckets {
		counts[Period{Month: b.Month, Year: b.Year}] = b.SearchCount
	}

	window := TrendWindow(now, monthsBack)
	trend := make([]models.TrendPoint, len(window))
	for i, p := range window {
		trend[i] = models.TrendPoint{
			Month: p.Month,
			Year:  p.Year,
			Count: counts[p],
		}
	}
	return trend
}
