package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/contingency/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, contingency *domain.Contingency) error {
	return db.WithContext(ctx).Create(contingency).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Contingency, error) {
	var contingency domain.Contingency
	err := db.WithContext(ctx).Where("id = ?", id).First(&contingency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contingency, nil
}

func (r *repo) FindOpen(ctx context.Context, db *gorm.DB, locationCode string) (*domain.Contingency, error) {
	var rows []domain.Contingency
	stmt := db.WithContext(ctx).
		Where("ended_at IS NULL AND open_slot IS NOT NULL")
	if locationCode != "" {
		stmt = stmt.Where("location_code = ?", locationCode)
	}
	if err := stmt.Order("started_at desc").Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repo) FindBySource(ctx context.Context, db *gorm.DB, locationCode string, sourceID int64) (*domain.Contingency, error) {
	var contingency domain.Contingency
	err := db.WithContext(ctx).
		Where("location_code = ? AND source_id = ?", locationCode, sourceID).
		First(&contingency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contingency, nil
}

// Close ends the contingency and releases the open slot in one statement.
func (r *repo) Close(ctx context.Context, db *gorm.DB, id snowflake.ID, endedAt time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Contingency{}).
		Where("id = ? AND ended_at IS NULL", id).
		Updates(map[string]any{
			"ended_at":  endedAt,
			"open_slot": gorm.Expr("NULL"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.Contingency, error) {
	var rows []domain.Contingency
	stmt := db.WithContext(ctx).Model(&domain.Contingency{})
	if len(filter.IDs) > 0 {
		stmt = stmt.Where("id IN ?", filter.IDs)
	}
	if filter.ClosedOnly {
		stmt = stmt.Where("ended_at IS NOT NULL")
	}
	if filter.EndedAfter != nil {
		stmt = stmt.Where("ended_at > ?", *filter.EndedAfter)
	}
	if filter.EndedBy != nil {
		stmt = stmt.Where("ended_at <= ?", *filter.EndedBy)
	}
	if filter.LocationCode != "" {
		stmt = stmt.Where("location_code = ?", filter.LocationCode)
	}
	if err := stmt.Order("started_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertReplica stores a contingency received from a location. Only the end
// time may change on later pushes.
func (r *repo) UpsertReplica(ctx context.Context, db *gorm.DB, contingency *domain.Contingency) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "location_code"}, {Name: "source_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"ended_at"}),
		}).
		Create(contingency).Error
}
