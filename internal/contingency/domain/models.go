package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Contingency is a window in which a location sells on cached credit data.
//
// LocationCode and StartedByName are captured at creation and never recomputed.
// OpenSlot is 1 while the contingency is open and NULL afterwards; its unique
// index allows a single open contingency per node. Contingencies replicated to
// the admin node carry SourceID and never hold the slot.
type Contingency struct {
	ID            snowflake.ID  `json:"id" gorm:"primaryKey"`
	LocationID    *snowflake.ID `json:"location_id,omitempty"`
	LocationCode  string        `json:"location_code" gorm:"type:varchar(32);not null;uniqueIndex:ux_contingencies_source,priority:1"`
	SourceID      *int64        `json:"source_id,omitempty" gorm:"uniqueIndex:ux_contingencies_source,priority:2"`
	StartedAt     time.Time     `json:"started_at" gorm:"not null;index"`
	EndedAt       *time.Time    `json:"ended_at,omitempty"`
	StartedByID   *snowflake.ID `json:"started_by_id,omitempty"`
	StartedByName string        `json:"started_by_name" gorm:"type:text;not null;default:''"`
	OpenSlot      *int          `json:"-" gorm:"uniqueIndex:ux_contingencies_open_slot"`
	CreatedAt     time.Time     `json:"created_at" gorm:"not null"`
}

func (Contingency) TableName() string { return "contingencies" }

func (c Contingency) IsOpen() bool {
	return c.EndedAt == nil
}
