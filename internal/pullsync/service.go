// Package pullsync refreshes a location's reference data from the admin node.
package pullsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/batch"
	clientdomain "github.com/smallbiznis/possync/internal/client/domain"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	obsmetrics "github.com/smallbiznis/possync/internal/observability/metrics"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	"github.com/smallbiznis/possync/internal/remote"
	"github.com/smallbiznis/possync/internal/rut"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrPushInProgress = errors.New("push_sync_in_progress")

// Admin is the part of the admin API a pull needs.
type Admin interface {
	StartPull(ctx context.Context, locationCode string) (int64, error)
	FetchClients(ctx context.Context) (remote.ClientsResponse, error)
	FetchUsers(ctx context.Context, locationCode string) (remote.UsersResponse, error)
	FetchDevices(ctx context.Context, locationCode string) (remote.DevicesResponse, error)
	FetchParameters(ctx context.Context) (remote.ParametersResponse, error)
	Confirm(ctx context.Context, remoteSyncID int64) error
}

type Request struct {
	LocationCode string
	RemoteSyncID int64
	UserID       *snowflake.ID
}

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Ledger     syncdomain.Service
	Reference  refdomain.Service
	RefRepo    refdomain.Repository
	ClientRepo clientdomain.Repository
	Remote     *remote.Client
	SyncConfig *config.SyncConfigHolder
	Metrics    *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	ledger     syncdomain.Service
	reference  refdomain.Service
	refRepo    refdomain.Repository
	clientRepo clientdomain.Repository
	admin      Admin
	syncConfig *config.SyncConfigHolder
	metrics    *obsmetrics.SyncMetrics
}

func New(p Params) *Service {
	return NewWithAdmin(p, p.Remote)
}

// NewWithAdmin builds the service against any Admin implementation.
func NewWithAdmin(p Params, admin Admin) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("pullsync.service"),
		clock:      p.Clock,
		ledger:     p.Ledger,
		reference:  p.Reference,
		refRepo:    p.RefRepo,
		clientRepo: p.ClientRepo,
		admin:      admin,
		syncConfig: p.SyncConfig,
		metrics:    p.Metrics,
	}
}

type snapshot struct {
	clients    []clientdomain.Client
	users      []refdomain.User
	devices    []refdomain.Device
	parameters []refdomain.SystemParameter
}

// SyncToLocation replaces the local reference data with the admin's copy.
// Everything is fetched first and applied in one transaction; any failure
// leaves the previous data in place and the event failed.
func (s *Service) SyncToLocation(ctx context.Context, req Request) (*syncdomain.SyncEvent, error) {
	if _, err := s.ledger.RecoverStale(ctx); err != nil {
		return nil, err
	}

	locationCode := strings.TrimSpace(req.LocationCode)
	if locationCode == "" {
		code, err := s.reference.LocationCode(ctx)
		if err != nil {
			return nil, err
		}
		locationCode = code
	}

	pushing, err := s.ledger.FindInProgress(ctx, syncdomain.TypePush, locationCode)
	if err != nil {
		return nil, err
	}
	if pushing != nil {
		return nil, fmt.Errorf("%w: event %s", ErrPushInProgress, pushing.ID)
	}

	var remoteID *int64
	if req.RemoteSyncID != 0 {
		id := req.RemoteSyncID
		remoteID = &id
	}
	event, err := s.ledger.Begin(ctx, syncdomain.BeginRequest{
		Type:         syncdomain.TypePull,
		LocationCode: locationCode,
		CreatedByID:  req.UserID,
		RemoteID:     remoteID,
	})
	if err != nil {
		return nil, err
	}

	log := s.log.With(
		zap.String("sync_event_id", event.ID.String()),
		zap.String("location_code", locationCode),
	)
	log.Info("pullsync.begin")

	details, runErr := s.run(ctx, locationCode, req.RemoteSyncID)
	if runErr != nil {
		s.metrics.RecordFailure(string(syncdomain.TypePull), runErr)
		details.Errors = append(details.Errors, runErr.Error())
		if _, err := s.ledger.Complete(ctx, event.ID, syncdomain.Outcome{
			Success: false,
			Comment: runErr.Error(),
			Details: details,
		}); err != nil {
			log.Error("pullsync.complete_failed", zap.Error(err))
		}
		log.Error("pullsync.failed", zap.Error(runErr))
		return nil, runErr
	}

	done, err := s.ledger.Complete(ctx, event.ID, syncdomain.Outcome{Success: true, Details: details})
	if err != nil {
		return nil, err
	}
	log.Info("pullsync.success",
		zap.Int("clients", details.ClientsSynced),
		zap.Int("client_errors", len(details.Batches["clients"].Errors)),
	)
	return done, nil
}

func (s *Service) run(ctx context.Context, locationCode string, remoteSyncID int64) (syncdomain.Details, error) {
	details := syncdomain.Details{}

	if remoteSyncID == 0 {
		id, err := s.admin.StartPull(ctx, locationCode)
		if err != nil {
			return details, err
		}
		remoteSyncID = id
	}

	snap, err := s.fetch(ctx, locationCode)
	if err != nil {
		return details, err
	}

	var clients batch.Result
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		clients, err = s.replaceClients(ctx, tx, snap.clients)
		if err != nil {
			return fmt.Errorf("replace clients: %w", err)
		}
		if err := s.refRepo.ReplaceDevices(ctx, tx, locationCode, scopeDevices(snap.devices, locationCode)); err != nil {
			return fmt.Errorf("replace devices: %w", err)
		}
		if err := s.refRepo.UpsertParameters(ctx, tx, s.shareableParameters(snap.parameters)); err != nil {
			return fmt.Errorf("upsert parameters: %w", err)
		}
		if err := s.refRepo.ReplaceUsers(ctx, tx, locationCode, refdomain.SyncedRoles, scopeUsers(snap.users, locationCode)); err != nil {
			return fmt.Errorf("replace users: %w", err)
		}
		return nil
	})
	if err != nil {
		return details, err
	}

	details.ClientsSynced = clients.Processed
	details.Batches = map[string]batch.Result{"clients": clients}
	details.Errors = clients.ErrorStrings("clients")
	s.metrics.AddRows("clients", obsmetrics.RowOutcomeProcessed, clients.Processed)
	s.metrics.AddRows("clients", obsmetrics.RowOutcomeFailed, clients.Failed())

	if err := s.admin.Confirm(ctx, remoteSyncID); err != nil {
		return details, fmt.Errorf("confirm remote sync %d: %w", remoteSyncID, err)
	}
	return details, nil
}

func (s *Service) fetch(ctx context.Context, locationCode string) (snapshot, error) {
	var snap snapshot

	clients, err := s.admin.FetchClients(ctx)
	if err != nil {
		return snap, err
	}
	devices, err := s.admin.FetchDevices(ctx, locationCode)
	if err != nil {
		return snap, err
	}
	users, err := s.admin.FetchUsers(ctx, locationCode)
	if err != nil {
		return snap, err
	}
	params, err := s.admin.FetchParameters(ctx)
	if err != nil {
		return snap, err
	}

	snap.clients = clients.Clients
	snap.devices = devices.Devices
	snap.users = users.Users
	snap.parameters = params.Parameters
	return snap, nil
}

// replaceClients truncates the client cache and reloads it in batches. Rows
// with an unusable or repeated RUT are reported and left out.
func (s *Service) replaceClients(ctx context.Context, tx *gorm.DB, incoming []clientdomain.Client) (batch.Result, error) {
	var result batch.Result
	if err := s.clientRepo.DeleteAll(ctx, tx); err != nil {
		return result, err
	}

	batchSize := s.syncConfig.Get().BatchSize
	now := s.clock.Now()
	seen := make(map[string]struct{}, len(incoming))
	pending := make([]clientdomain.Client, 0, batchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := s.clientRepo.InsertBatch(ctx, tx, pending); err != nil {
			return err
		}
		result.Processed += len(pending)
		pending = pending[:0]
		return nil
	}

	if n := checkDigitMismatches(incoming); n > 0 {
		s.log.Warn("pullsync.clients.check_digit_mismatch", zap.Int("count", n))
	}

	for i, c := range incoming {
		normalized := rut.Normalize(c.RUT)
		if normalized == "" {
			result.Fail(i+1, c.RUT, clientdomain.ErrInvalidRUT)
			continue
		}
		if _, dup := seen[normalized]; dup {
			result.Fail(i+1, normalized, errors.New("duplicate rut"))
			continue
		}
		seen[normalized] = struct{}{}

		c.RUT = normalized
		c.UpdatedAt = now
		pending = append(pending, c)
		if len(pending) >= batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	return result, nil
}

// checkDigitMismatches counts clients whose RUT carries a wrong check digit.
// They are still loaded; the admin's data is authoritative.
func checkDigitMismatches(clients []clientdomain.Client) int {
	n := 0
	for _, c := range clients {
		if rut.Normalize(c.RUT) != "" && !rut.Valid(c.RUT) {
			n++
		}
	}
	return n
}

func (s *Service) shareableParameters(params []refdomain.SystemParameter) []refdomain.SystemParameter {
	now := s.clock.Now()
	out := make([]refdomain.SystemParameter, 0, len(params))
	for _, p := range params {
		code := strings.TrimSpace(p.Code)
		if code == "" {
			continue
		}
		if _, local := refdomain.NodeLocalParameters[code]; local {
			continue
		}
		p.Code = code
		p.UpdatedAt = now
		out = append(out, p)
	}
	return out
}

func scopeDevices(devices []refdomain.Device, locationCode string) []refdomain.Device {
	out := make([]refdomain.Device, 0, len(devices))
	for _, d := range devices {
		if d.LocationCode != "" && d.LocationCode != locationCode {
			continue
		}
		d.LocationCode = locationCode
		out = append(out, d)
	}
	return out
}

func scopeUsers(users []refdomain.User, locationCode string) []refdomain.User {
	out := make([]refdomain.User, 0, len(users))
	for _, u := range users {
		if u.Role != refdomain.RoleSeller && u.Role != refdomain.RoleCashier {
			continue
		}
		if u.LocationCode != "" && u.LocationCode != locationCode {
			continue
		}
		u.LocationCode = locationCode
		out = append(out, u)
	}
	return out
}
