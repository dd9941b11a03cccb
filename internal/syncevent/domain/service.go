package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type BeginRequest struct {
	Type         Type
	LocationCode string
	CreatedByID  *snowflake.ID
	RemoteID     *int64
	// CreatedAt defaults to now. A push sets it to its selection cutoff so the
	// next run resumes exactly there.
	CreatedAt time.Time
}

type CreatePendingRequest struct {
	Type         Type
	LocationCode string
}

type Outcome struct {
	Success bool
	Comment string
	Details Details
}

// Service is the sync event ledger.
type Service interface {
	Begin(ctx context.Context, req BeginRequest) (*SyncEvent, error)
	CreatePending(ctx context.Context, req CreatePendingRequest) (*SyncEvent, error)
	Get(ctx context.Context, id snowflake.ID) (*SyncEvent, error)
	MarkUploaded(ctx context.Context, id snowflake.ID) error
	Claim(ctx context.Context, id snowflake.ID) (*SyncEvent, error)
	Complete(ctx context.Context, id snowflake.ID, outcome Outcome) (*SyncEvent, error)
	Supersede(ctx context.Context, id snowflake.ID, newer snowflake.ID) error

	FindLastSuccessful(ctx context.Context, t Type, locationCode string) (*SyncEvent, error)
	FindInProgress(ctx context.Context, t Type, locationCode string) (*SyncEvent, error)
	ListPending(ctx context.Context, t Type) ([]SyncEvent, error)
	ListUnfinishedUploads(ctx context.Context, t Type) ([]SyncEvent, error)
	RecoverStale(ctx context.Context) (int64, error)
}

var (
	ErrInvalidType     = errors.New("invalid_sync_type")
	ErrSyncInProgress  = errors.New("sync_in_progress")
	ErrAlreadyTerminal = errors.New("sync_event_already_terminal")
	ErrNotPending      = errors.New("sync_event_not_pending")
	ErrNotFound        = errors.New("sync_event_not_found")
)

// SupersededComment is stored on pending events discarded in favour of a newer one.
const SupersededComment = "superseded: newer sync event exists"
