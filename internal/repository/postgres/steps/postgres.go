package steps

import (
	"context"
	"time"

	stepsdomain "steptrack-go/internal/domain/steps"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresRepository struct {
	db *gorm.DB
}

func NewPostgres(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) ExistingDates(ctx context.Context, userID string) (map[time.Time]struct{}, error) {
	var dates []time.Time
	err := r.db.WithContext(ctx).
		Model(&stepsdomain.DayRecord{}).
		Where("user_id = ?", userID).
		Pluck("date", &dates).Error
	if err != nil {
		return nil, err
	}

	existing := make(map[time.Time]struct{}, len(dates))
	for _, date := range dates {
		existing[stepsdomain.Day(date)] = struct{}{}
	}
	return existing, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, record *stepsdomain.DayRecord) error {
	record.Date = stepsdomain.Day(record.Date)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"},
				{Name: "date"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"steps", "source", "updated_at"}),
		}).
		Create(record).Error
}

func (r *PostgresRepository) ListRange(ctx context.Context, userID string, filter stepsdomain.ListFilter) ([]stepsdomain.DayRecord, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&stepsdomain.DayRecord{}).
		Where("user_id = ?", userID)

	if filter.From != nil {
		query = query.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("date <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var records []stepsdomain.DayRecord
	if err := query.Order("date DESC").Find(&records).Error; err != nil {
		return nil, 0, err
	}
	return records, total, nil
}
