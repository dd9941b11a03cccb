package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	obsmetrics "github.com/smallbiznis/possync/internal/observability/metrics"
	"github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/smallbiznis/possync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	SyncConfig *config.SyncConfigHolder
	Metrics    *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	syncConfig *config.SyncConfigHolder
	metrics    *obsmetrics.SyncMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("syncevent.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		syncConfig: p.SyncConfig,
		metrics:    p.Metrics,
	}
}

// Begin opens an in-progress event, failing with ErrSyncInProgress when the
// location already has one of the same type.
func (s *Service) Begin(ctx context.Context, req domain.BeginRequest) (*domain.SyncEvent, error) {
	if err := validateType(req.Type); err != nil {
		return nil, err
	}

	location := strings.TrimSpace(req.LocationCode)
	now := s.clock.Now()
	createdAt := now
	if !req.CreatedAt.IsZero() {
		createdAt = req.CreatedAt
	}
	claimKey := domain.ClaimKey(req.Type, location)
	event := &domain.SyncEvent{
		ID:           s.genID.Generate(),
		Type:         req.Type,
		LocationCode: location,
		Status:       domain.StatusInProgress,
		CreatedByID:  req.CreatedByID,
		RemoteID:     req.RemoteID,
		Details:      datatypes.NewJSONType(domain.Details{}),
		ClaimKey:     &claimKey,
		CreatedAt:    createdAt,
		UpdatedAt:    now,
	}

	if err := s.repo.Insert(ctx, s.db, event); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSyncInProgress
		}
		return nil, err
	}

	s.log.Info("sync.event.begin",
		zap.String("sync_event_id", event.ID.String()),
		zap.String("type", string(event.Type)),
		zap.String("location_code", location),
	)
	return event, nil
}

func (s *Service) CreatePending(ctx context.Context, req domain.CreatePendingRequest) (*domain.SyncEvent, error) {
	if err := validateType(req.Type); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	event := &domain.SyncEvent{
		ID:           s.genID.Generate(),
		Type:         req.Type,
		LocationCode: strings.TrimSpace(req.LocationCode),
		Status:       domain.StatusPending,
		Details:      datatypes.NewJSONType(domain.Details{}),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Insert(ctx, s.db, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.SyncEvent, error) {
	event, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, domain.ErrNotFound
	}
	return event, nil
}

func (s *Service) MarkUploaded(ctx context.Context, id snowflake.ID) error {
	ok, err := s.repo.MarkUploaded(ctx, s.db, id, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return domain.ErrNotPending
	}
	return nil
}

// Claim moves a pending event to in progress.
func (s *Service) Claim(ctx context.Context, id snowflake.ID) (*domain.SyncEvent, error) {
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	ok, err := s.repo.Claim(ctx, s.db, id, domain.ClaimKey(event.Type, event.LocationCode), s.clock.Now())
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrSyncInProgress
		}
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotPending
	}
	return s.Get(ctx, id)
}

// Complete moves an in-progress event to its terminal state. It succeeds once.
func (s *Service) Complete(ctx context.Context, id snowflake.ID, outcome domain.Outcome) (*domain.SyncEvent, error) {
	to := domain.StatusFailed
	if outcome.Success {
		to = domain.StatusSuccess
	}

	ok, err := s.repo.Finish(ctx, s.db, id, domain.StatusInProgress, to, outcome.Comment, outcome.Details, s.clock.Now())
	if err != nil {
		return nil, err
	}
	event, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrAlreadyTerminal
	}

	s.metrics.ObserveSync(string(event.Type), string(to), s.clock.Now().Sub(event.CreatedAt))
	s.log.Info("sync.event.complete",
		zap.String("sync_event_id", id.String()),
		zap.String("type", string(event.Type)),
		zap.String("status", string(to)),
		zap.String("location_code", event.LocationCode),
		zap.Int("errors", len(outcome.Details.Errors)),
	)
	return event, nil
}

// Supersede fails a pending event because a newer one for the same location exists.
func (s *Service) Supersede(ctx context.Context, id snowflake.ID, newer snowflake.ID) error {
	comment := fmt.Sprintf("%s (%s)", domain.SupersededComment, newer.String())
	ok, err := s.repo.Finish(ctx, s.db, id, domain.StatusPending, domain.StatusFailed, comment, domain.Details{}, s.clock.Now())
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotPending
	}
	s.metrics.IncSuperseded()
	s.log.Info("sync.event.superseded",
		zap.String("sync_event_id", id.String()),
		zap.String("newer_sync_event_id", newer.String()),
	)
	return nil
}

func (s *Service) FindLastSuccessful(ctx context.Context, t domain.Type, locationCode string) (*domain.SyncEvent, error) {
	return s.repo.FindLatest(ctx, s.db, t, strings.TrimSpace(locationCode), domain.StatusSuccess)
}

func (s *Service) FindInProgress(ctx context.Context, t domain.Type, locationCode string) (*domain.SyncEvent, error) {
	return s.repo.FindLatest(ctx, s.db, t, strings.TrimSpace(locationCode), domain.StatusInProgress)
}

func (s *Service) ListPending(ctx context.Context, t domain.Type) ([]domain.SyncEvent, error) {
	return s.repo.ListPendingUploaded(ctx, s.db, t)
}

// ListUnfinishedUploads returns pending events whose uploader never completed.
func (s *Service) ListUnfinishedUploads(ctx context.Context, t domain.Type) ([]domain.SyncEvent, error) {
	return s.repo.ListPendingNotUploaded(ctx, s.db, t)
}

// RecoverStale fails in-progress events, and pending events never marked
// uploaded, that have not moved within the recovery threshold. Claims are released.
func (s *Service) RecoverStale(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	threshold := s.syncConfig.Get().RecoveryThreshold
	cutoff := now.Add(-threshold)

	comment := fmt.Sprintf("stale: no progress for %s, recovered", threshold)
	n, err := s.repo.FailStale(ctx, s.db, cutoff, comment, now)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Warn("sync.event.recovered_stale", zap.Int64("count", n), zap.Time("cutoff", cutoff))
	}
	return n, nil
}

func validateType(t domain.Type) error {
	switch t {
	case domain.TypePush, domain.TypePull:
		return nil
	default:
		return domain.ErrInvalidType
	}
}
