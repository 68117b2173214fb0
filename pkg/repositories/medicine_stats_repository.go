package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/shirkeanjali/medgenix/pkg/database"
	"github.com/shirkeanjali/medgenix/pkg/models"
	"github.com/shirkeanjali/medgenix/pkg/stats"
	"github.com/shirkeanjali/medgenix/pkg/tracing"
)

const (
	medicineStatsTable = "medicine_search_stats"
	monthlyStatsTable  = "medicine_monthly_stats"
	yearlyStatsTable   = "medicine_yearly_stats"
)

var (
	medicineStatStruct  = database.NewStruct(new(models.MedicineStat))
	monthlyBucketStruct = database.NewStruct(new(models.MonthlyBucket))
	yearlyBucketStruct  = database.NewStruct(new(models.YearlyBucket))
)

// MedicineStatsRepository handles database operations for medicine search
// statistics. All counter mutations are single INSERT ... ON CONFLICT
// statements, so concurrent updates to the same medicine never lose
// increments.
type MedicineStatsRepository struct {
	*Repository
}

// NewMedicineStatsRepository creates a new medicine stats repository
func NewMedicineStatsRepository(db database.DB, logger ectologger.Logger) *MedicineStatsRepository {
	return &MedicineStatsRepository{
		Repository: NewRepository(db, logger),
	}
}

// RecordSearch applies one search event for the named medicine: the all-time
// counter, the current monthly bucket, and the current yearly bucket each gain
// exactly one, out-of-window buckets are pruned, and the fully materialized
// record is returned. Everything runs in one transaction per record.
func (r *MedicineStatsRepository) RecordSearch(ctx context.Context, name string, now time.Time) (*models.MedicineStat, error) {
	ctx, span := tracing.StartSpan(ctx, "MedicineStatsRepository.RecordSearch")
	defer span.End()

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return nil, Internal("failed to record search")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stat, err := r.upsertStatRow(txCtx, tx, name, now)
	if err != nil {
		return nil, err
	}

	if err := r.upsertBuckets(txCtx, tx, stat.ID, now); err != nil {
		return nil, err
	}

	if err := r.pruneRecord(txCtx, tx, stat.ID, now); err != nil {
		return nil, err
	}

	if err := r.loadBuckets(txCtx, tx, stat); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, Internal("failed to record search")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"name":              name,
		"all_time_searches": stat.AllTimeSearches,
	}).Debugf("Recorded search for %s name=%s", medicineStatsTable, name)
	return stat, nil
}

func (r *MedicineStatsRepository) upsertStatRow(ctx context.Context, tx database.Tx, name string, now time.Time) (*models.MedicineStat, error) {
	// Parameterized timestamps keep a single statement usable across replicas
	query := `
		INSERT INTO medicine_search_stats (id, name, all_time_searches, last_searched_at, created_at, updated_at)
		VALUES ($1, $2, 1, $3, $3, $3)
		ON CONFLICT (name)
		DO UPDATE SET
			all_time_searches = medicine_search_stats.all_time_searches + 1,
			last_searched_at = $3,
			updated_at = $3
		RETURNING id, name, all_time_searches, last_searched_at, created_at, updated_at`

	var stat models.MedicineStat
	err := tx.QueryRowContext(ctx, query, uuid.New(), name, now).Scan(
		&stat.ID,
		&stat.Name,
		&stat.AllTimeSearches,
		&stat.LastSearchedAt,
		&stat.CreatedAt,
		&stat.UpdatedAt,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", name).Error("failed to upsert medicine stat row")
		return nil, Internal("failed to record search")
	}
	return &stat, nil
}

func (r *MedicineStatsRepository) upsertBuckets(ctx context.Context, tx database.Tx, medicineID uuid.UUID, now time.Time) error {
	period := stats.PeriodOf(now)

	monthly := `
		INSERT INTO medicine_monthly_stats (id, medicine_id, month, year, search_count)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (medicine_id, year, month)
		DO UPDATE SET search_count = medicine_monthly_stats.search_count + 1`

	if _, err := tx.ExecContext(ctx, monthly, uuid.New(), medicineID, period.Month, period.Year); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("medicine_id", medicineID).Error("failed to upsert monthly bucket")
		return Internal("failed to record search")
	}

	yearly := `
		INSERT INTO medicine_yearly_stats (id, medicine_id, year, search_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (medicine_id, year)
		DO UPDATE SET search_count = medicine_yearly_stats.search_count + 1`

	if _, err := tx.ExecContext(ctx, yearly, uuid.New(), medicineID, period.Year); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("medicine_id", medicineID).Error("failed to upsert yearly bucket")
		return Internal("failed to record search")
	}

	return nil
}

func (r *MedicineStatsRepository) pruneRecord(ctx context.Context, tx database.Tx, medicineID uuid.UUID, now time.Time) error {
	monthly := `
		DELETE FROM medicine_monthly_stats
		WHERE medicine_id = $1 AND (year * 12 + month - 1) < $2`

	if _, err := tx.ExecContext(ctx, monthly, medicineID, stats.MonthlyCutoffIndex(now)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("medicine_id", medicineID).Error("failed to prune monthly buckets")
		return Internal("failed to record search")
	}

	yearly := `
		DELETE FROM medicine_yearly_stats
		WHERE medicine_id = $1 AND year < $2`

	if _, err := tx.ExecContext(ctx, yearly, medicineID, stats.YearlyMinYear(now)); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("medicine_id", medicineID).Error("failed to prune yearly buckets")
		return Internal("failed to record search")
	}

	return nil
}

type bucketQuerier interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

func (r *MedicineStatsRepository) loadBuckets(ctx context.Context, q bucketQuerier, stat *models.MedicineStat) error {
	sb := monthlyBucketStruct.SelectFrom(monthlyStatsTable)
	sb.Where(sb.Equal("medicine_id", stat.ID))
	sb.OrderBy("year", "month").Asc()

	query, args := sb.Build()
	stat.MonthlyBuckets = []models.MonthlyBucket{}
	if err := q.SelectContext(ctx, &stat.MonthlyBuckets, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("medicine_id", stat.ID).Error("failed to load monthly buckets")
		return Internal("failed to load medicine stats")
	}

	yb := yearlyBucketStruct.SelectFrom(yearlyStatsTable)
	yb.Where(yb.Equal("medicine_id", stat.ID))
	yb.OrderBy("year").Asc()

	query, args = yb.Build()
	stat.YearlyBuckets = []models.YearlyBucket{}
	if err := q.SelectContext(ctx, &stat.YearlyBuckets, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("medicine_id", stat.ID).Error("failed to load yearly buckets")
		return Internal("failed to load medicine stats")
	}

	return nil
}

// GetByName retrieves a fully materialized record by exact name
func (r *MedicineStatsRepository) GetByName(ctx context.Context, name string) (*models.MedicineStat, error) {
	ctx, span := tracing.StartSpan(ctx, "MedicineStatsRepository.GetByName")
	defer span.End()

	sb := medicineStatStruct.SelectFrom(medicineStatsTable)
	sb.Where(sb.Equal("name", name))

	query, args := sb.Build()
	var stat models.MedicineStat
	err := r.DB().GetContext(ctx, &stat, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("no search statistics exist for medicine %q", name)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", name).Error("failed to get medicine stats")
		return nil, Internal("failed to get medicine stats")
	}

	if err := r.loadBuckets(ctx, r.DB(), &stat); err != nil {
		return nil, err
	}

	return &stat, nil
}

// ListTrending returns up to limit records ordered by all-time search count
// descending. Ties break on name ascending so the ranking is deterministic.
func (r *MedicineStatsRepository) ListTrending(ctx context.Context, limit int) ([]models.MedicineStat, error) {
	ctx, span := tracing.StartSpan(ctx, "MedicineStatsRepository.ListTrending")
	defer span.End()

	sb := medicineStatStruct.SelectFrom(medicineStatsTable)
	sb.OrderBy("all_time_searches DESC", "name ASC")
	sb.Limit(limit)

	query, args := sb.Build()
	var records []models.MedicineStat
	if err := r.DB().SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list trending medicines")
		return nil, Internal("failed to list trending medicines")
	}

	for i := range records {
		if err := r.loadBuckets(ctx, r.DB(), &records[i]); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// DeleteByName removes a record and its buckets (FK cascade)
func (r *MedicineStatsRepository) DeleteByName(ctx context.Context, name string) error {
	ctx, span := tracing.StartSpan(ctx, "MedicineStatsRepository.DeleteByName")
	defer span.End()

	db := database.NewDeleteBuilder()
	db.DeleteFrom(medicineStatsTable).Where(db.Equal("name", name))

	query, args := db.Build()
	result, err := r.DB().ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", name).Errorf("Failed to delete %s", medicineStatsTable)
		return Internal("failed to delete medicine stats")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", name).Errorf("Failed to delete %s", medicineStatsTable)
		return Internal("failed to delete medicine stats")
	}
	if rows == 0 {
		return NotFound("no search statistics exist for medicine %q", name)
	}

	r.logger.WithContext(ctx).WithField("name", name).Infof("Deleted %s name=%s", medicineStatsTable, name)
	return nil
}

// PruneExpired deletes out-of-window buckets across all records. Records only
// prune themselves when written, so this is what keeps idle records bounded.
// Returns how many monthly and yearly bucket rows were removed.
func (r *MedicineStatsRepository) PruneExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	ctx, span := tracing.StartSpan(ctx, "MedicineStatsRepository.PruneExpired")
	defer span.End()

	monthly := `DELETE FROM medicine_monthly_stats WHERE (year * 12 + month - 1) < $1`
	monthlyResult, err := r.DB().ExecContext(ctx, monthly, stats.MonthlyCutoffIndex(now))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to prune expired monthly buckets")
		return 0, 0, Internal("failed to prune expired buckets")
	}
	monthlyPruned, _ := monthlyResult.RowsAffected()

	yearly := `DELETE FROM medicine_yearly_stats WHERE year < $1`
	yearlyResult, err := r.DB().ExecContext(ctx, yearly, stats.YearlyMinYear(now))
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to prune expired yearly buckets")
		return monthlyPruned, 0, Internal("failed to prune expired buckets")
	}
	yearlyPruned, _ := yearlyResult.RowsAffected()

	return monthlyPruned, yearlyPruned, nil
}

// Seed inserts a record with pre-built history, replacing any existing record
// with the same name. Used by the demo seeder, not by the API.
func (r *MedicineStatsRepository) Seed(ctx context.Context, stat *models.MedicineStat) error {
	ctx, span := tracing.StartSpan(ctx, "MedicineStatsRepository.Seed")
	defer span.End()

	txCtx, tx, err := r.DB().GetTx(ctx, nil)
	if err != nil {
		return Internal("failed to seed medicine stats")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.ExecContext(txCtx, `DELETE FROM medicine_search_stats WHERE name = $1`, stat.Name); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", stat.Name).Error("failed to clear existing seed record")
		return Internal("failed to seed medicine stats")
	}

	if stat.ID == uuid.Nil {
		stat.ID = uuid.New()
	}

	ib := medicineStatStruct.InsertInto(medicineStatsTable, stat)
	query, args := ib.Build()
	if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("name", stat.Name).Error("failed to insert seed record")
		return Internal("failed to seed medicine stats")
	}

	for i := range stat.MonthlyBuckets {
		stat.MonthlyBuckets[i].ID = uuid.New()
		stat.MonthlyBuckets[i].MedicineID = stat.ID
		mb := monthlyBucketStruct.InsertInto(monthlyStatsTable, &stat.MonthlyBuckets[i])
		query, args := mb.Build()
		if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("name", stat.Name).Error("failed to insert seed monthly bucket")
			return Internal("failed to seed medicine stats")
		}
	}

	for i := range stat.YearlyBuckets {
		stat.YearlyBuckets[i].ID = uuid.New()
		stat.YearlyBuckets[i].MedicineID = stat.ID
		yb := yearlyBucketStruct.InsertInto(yearlyStatsTable, &stat.YearlyBuckets[i])
		query, args := yb.Build()
		if _, err := tx.ExecContext(txCtx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithField("name", stat.Name).Error("failed to insert seed yearly bucket")
			return Internal("failed to seed medicine stats")
		}
	}

	return tx.Commit(ctx)
}
