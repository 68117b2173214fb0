package models

import (
	"time"

	"github.com/google/uuid"
)

// MedicineStat is the per-medicine aggregate row. AllTimeSearches is an
// independent running counter: it keeps growing while old buckets are pruned,
// so it is NOT the sum of the retained buckets. The windowed sum is derived at
// read time (see WindowedSearches).
type MedicineStat struct {
	ID              uuid.UUID `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	AllTimeSearches int64     `db:"all_time_searches" json:"all_time_searches"`
	LastSearchedAt  time.Time `db:"last_searched_at" json:"last_searched_at"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`

	// Populated by the repository, not stored on this row
	MonthlyBuckets []MonthlyBucket `db:"-" json:"monthly_buckets"`
	YearlyBuckets  []YearlyBucket  `db:"-" json:"yearly_buckets"`
}

// TableName returns the database table name
func (MedicineStat) TableName() string {
	return "medicine_search_stats"
}

// WindowedSearches is the sum of the retained monthly buckets (at most 24
// months of history).
func (m *MedicineStat) WindowedSearches() int64 {
	var total int64
	for _, b := range m.MonthlyBuckets {
		total += b.SearchCount
	}
	return total
}

// MonthlyBucket is one month of search counts for a medicine. At most one row
// exists per (medicine, year, month).
type MonthlyBucket struct {
	ID          uuid.UUID `db:"id" json:"-"`
	MedicineID  uuid.UUID `db:"medicine_id" json:"-"`
	Month       int       `db:"month" json:"month"`
	Year        int       `db:"year" json:"year"`
	SearchCount int64     `db:"search_count" json:"search_count"`
}

// TableName returns the database table name
func (MonthlyBucket) TableName() string {
	return "medicine_monthly_stats"
}

// YearlyBucket is one year of search counts for a medicine. At most one row
// exists per (medicine, year).
type YearlyBucket struct {
	ID          uuid.UUID `db:"id" json:"-"`
	MedicineID  uuid.UUID `db:"medicine_id" json:"-"`
	Year        int       `db:"year" json:"year"`
	SearchCount int64     `db:"search_count" json:"search_count"`
}

// TableName returns the database table name
func (YearlyBucket) TableName() string {
	return "medicine_yearly_stats"
}

// TrendPoint is one month in a trend series. Months with no recorded searches
// appear with an explicit zero count.
type TrendPoint struct {
	Month int   `json:"month"`
	Year  int   `json:"year"`
	Count int64 `json:"count"`
}
