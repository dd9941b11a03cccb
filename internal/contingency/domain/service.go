package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Scope narrows the open contingency lookup to a location. The zero value
// means the whole node.
type Scope struct {
	LocationCode string
}

// Registry answers which contingency is currently open.
type Registry interface {
	GetOpen(ctx context.Context, scope Scope) (*Contingency, error)
}

type StartRequest struct {
	UserID snowflake.ID
}

type ListForPushRequest struct {
	ContingencyID snowflake.ID
	All           bool
	// Since excludes contingencies ended at or before this instant.
	Since *time.Time
	// Until excludes contingencies ended after this instant.
	Until *time.Time
}

type ImportReplicaRequest struct {
	SourceID      int64
	LocationCode  string
	StartedAt     time.Time
	EndedAt       *time.Time
	StartedByID   *snowflake.ID
	StartedByName string
}

type Service interface {
	Registry
	Start(ctx context.Context, req StartRequest) (*Contingency, error)
	End(ctx context.Context) (*Contingency, error)
	Get(ctx context.Context, id snowflake.ID) (*Contingency, error)
	ListForPush(ctx context.Context, req ListForPushRequest) ([]Contingency, error)

	// Replicas are contingencies received from a location on the admin node.
	ImportReplica(ctx context.Context, req ImportReplicaRequest) (*Contingency, error)
	FindReplica(ctx context.Context, locationCode string, sourceID int64) (*Contingency, error)
}

// AlreadyOpenError is returned when starting while another contingency is open.
type AlreadyOpenError struct {
	Open *Contingency
}

func (e *AlreadyOpenError) Error() string {
	if e == nil || e.Open == nil {
		return "contingency already open"
	}
	return fmt.Sprintf("contingency %s already open since %s", e.Open.ID, e.Open.StartedAt.Format(time.RFC3339))
}

var (
	ErrNoOpenContingency = errors.New("no_open_contingency")
	ErrNoReferenceSync   = errors.New("no_reference_sync")
	ErrSyncTooOld        = errors.New("reference_sync_too_old")
	ErrInvalidUser       = errors.New("invalid_user")
	ErrNotFound          = errors.New("contingency_not_found")
	ErrInvalidReplica    = errors.New("invalid_contingency_replica")
)
