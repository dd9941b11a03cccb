package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/syncevent/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.SyncEvent) error {
	return db.WithContext(ctx).Create(event).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.SyncEvent, error) {
	var event domain.SyncEvent
	err := db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, t domain.Type, locationCode string, status domain.Status) (*domain.SyncEvent, error) {
	var events []domain.SyncEvent
	stmt := db.WithContext(ctx).
		Where("type = ? AND status = ?", t, status)
	if locationCode != "" {
		stmt = stmt.Where("location_code = ?", locationCode)
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(1).
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return &events[0], nil
}

func (r *repo) ListPendingUploaded(ctx context.Context, db *gorm.DB, t domain.Type) ([]domain.SyncEvent, error) {
	var events []domain.SyncEvent
	err := db.WithContext(ctx).
		Where("type = ? AND status = ? AND uploaded_at IS NOT NULL", t, domain.StatusPending).
		Order("location_code asc, created_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) ListPendingNotUploaded(ctx context.Context, db *gorm.DB, t domain.Type) ([]domain.SyncEvent, error) {
	var events []domain.SyncEvent
	err := db.WithContext(ctx).
		Where("type = ? AND status = ? AND uploaded_at IS NULL", t, domain.StatusPending).
		Order("location_code asc, created_at asc, id asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, claimKey string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.SyncEvent{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(map[string]any{
			"status":     domain.StatusInProgress,
			"claim_key":  claimKey,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkUploaded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.SyncEvent{}).
		Where("id = ? AND status = ? AND uploaded_at IS NULL", id, domain.StatusPending).
		Updates(map[string]any{
			"uploaded_at": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, from domain.Status, to domain.Status, comment string, details domain.Details, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.SyncEvent{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":       to,
			"comment":      comment,
			"details":      datatypes.NewJSONType(details),
			"claim_key":    gorm.Expr("NULL"),
			"completed_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FailStale(ctx context.Context, db *gorm.DB, cutoff time.Time, comment string, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.SyncEvent{}).
		Where("(status = ? OR (status = ? AND uploaded_at IS NULL)) AND updated_at < ?",
			domain.StatusInProgress, domain.StatusPending, cutoff).
		Updates(map[string]any{
			"status":       domain.StatusFailed,
			"comment":      comment,
			"claim_key":    gorm.Expr("NULL"),
			"completed_at": now,
			"updated_at":   now,
		})
	return res.RowsAffected, res.Error
}
