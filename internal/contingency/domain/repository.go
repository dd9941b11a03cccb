package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	IDs          []snowflake.ID
	ClosedOnly   bool
	EndedAfter   *time.Time
	EndedBy      *time.Time
	LocationCode string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, contingency *Contingency) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Contingency, error)
	FindOpen(ctx context.Context, db *gorm.DB, locationCode string) (*Contingency, error)
	FindBySource(ctx context.Context, db *gorm.DB, locationCode string, sourceID int64) (*Contingency, error)
	Close(ctx context.Context, db *gorm.DB, id snowflake.ID, endedAt time.Time) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Contingency, error)
	UpsertReplica(ctx context.Context, db *gorm.DB, contingency *Contingency) error
}
