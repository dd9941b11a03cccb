package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	DeleteAll(ctx context.Context, db *gorm.DB) error
	InsertBatch(ctx context.Context, db *gorm.DB, clients []Client) error
	FindByRUT(ctx context.Context, db *gorm.DB, rut string) (*Client, error)
	DecrementCredit(ctx context.Context, db *gorm.DB, rut string, amount int64, now time.Time) (bool, error)
	ScanAll(ctx context.Context, db *gorm.DB, batchSize int, fn func([]Client) error) error
}
