package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/batch"
	"gorm.io/datatypes"
)

type Type string

const (
	TypePush Type = "PUSH"
	TypePull Type = "PULL"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// SyncEvent is one synchronization attempt. ClaimKey is set only while the event
// is in progress; its unique index is what keeps a second run for the same
// location and type from starting.
type SyncEvent struct {
	ID           snowflake.ID                `json:"id" gorm:"primaryKey"`
	Type         Type                        `json:"type" gorm:"type:varchar(8);not null;index:idx_sync_events_lookup,priority:1"`
	LocationCode string                      `json:"location_code" gorm:"type:varchar(32);not null;default:'';index:idx_sync_events_lookup,priority:2"`
	Status       Status                      `json:"status" gorm:"type:varchar(16);not null;index:idx_sync_events_lookup,priority:3"`
	CreatedByID  *snowflake.ID               `json:"created_by_id,omitempty"`
	RemoteID     *int64                      `json:"remote_id,omitempty"`
	Comment      string                      `json:"comment,omitempty" gorm:"type:text;not null;default:''"`
	Details      datatypes.JSONType[Details] `json:"details"`
	ClaimKey     *string                     `json:"-" gorm:"type:varchar(64);uniqueIndex:ux_sync_events_claim_key"`
	UploadedAt   *time.Time                  `json:"uploaded_at,omitempty"`
	CompletedAt  *time.Time                  `json:"completed_at,omitempty"`
	CreatedAt    time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time                   `json:"updated_at" gorm:"not null"`
}

func (SyncEvent) TableName() string { return "sync_events" }

// Details is the outcome payload stored with a finished event.
type Details struct {
	ClientsSynced       int                     `json:"clients_synced,omitempty"`
	SalesSynced         int                     `json:"sales_synced,omitempty"`
	PaymentsSynced      int                     `json:"payments_synced,omitempty"`
	ContingenciesSynced int                     `json:"contingencies_synced,omitempty"`
	Errors              []string                `json:"errors,omitempty"`
	Batches             map[string]batch.Result `json:"batches,omitempty"`
}

// ClaimKey identifies the exclusive slot an in-progress event occupies.
func ClaimKey(t Type, locationCode string) string {
	return string(t) + ":" + locationCode
}
