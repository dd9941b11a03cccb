package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/possync/internal/client/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) DeleteAll(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Exec(`DELETE FROM clients`).Error
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, clients []domain.Client) error {
	if len(clients) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&clients).Error
}

func (r *repo) FindByRUT(ctx context.Context, db *gorm.DB, rut string) (*domain.Client, error) {
	var client domain.Client
	err := db.WithContext(ctx).Where("rut = ?", rut).First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// DecrementCredit subtracts amount only when enough credit remains.
func (r *repo) DecrementCredit(ctx context.Context, db *gorm.DB, rut string, amount int64, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE clients
		 SET credit_available = credit_available - ?, updated_at = ?
		 WHERE rut = ? AND credit_available >= ?`,
		amount,
		now,
		rut,
		amount,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ScanAll(ctx context.Context, db *gorm.DB, batchSize int, fn func([]domain.Client) error) error {
	var rows []domain.Client
	return db.WithContext(ctx).
		Model(&domain.Client{}).
		Order("rut asc").
		FindInBatches(&rows, batchSize, func(tx *gorm.DB, _ int) error {
			return fn(rows)
		}).Error
}
