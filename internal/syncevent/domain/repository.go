package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, event *SyncEvent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*SyncEvent, error)
	FindLatest(ctx context.Context, db *gorm.DB, t Type, locationCode string, status Status) (*SyncEvent, error)
	ListPendingUploaded(ctx context.Context, db *gorm.DB, t Type) ([]SyncEvent, error)
	ListPendingNotUploaded(ctx context.Context, db *gorm.DB, t Type) ([]SyncEvent, error)

	// Conditional transitions report whether a row matched.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, claimKey string, now time.Time) (bool, error)
	MarkUploaded(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	Finish(ctx context.Context, db *gorm.DB, id snowflake.ID, from Status, to Status, comment string, details Details, now time.Time) (bool, error)
	FailStale(ctx context.Context, db *gorm.DB, cutoff time.Time, comment string, now time.Time) (int64, error)
}
