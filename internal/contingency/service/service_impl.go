package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/contingency/domain"
	obsmetrics "github.com/smallbiznis/possync/internal/observability/metrics"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	syncdomain "github.com/smallbiznis/possync/internal/syncevent/domain"
	"github.com/smallbiznis/possync/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Ledger     syncdomain.Service
	Reference  refdomain.Service
	SyncConfig *config.SyncConfigHolder
	Metrics    *obsmetrics.SyncMetrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	ledger     syncdomain.Service
	reference  refdomain.Service
	syncConfig *config.SyncConfigHolder
	metrics    *obsmetrics.SyncMetrics
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("contingency.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		ledger:     p.Ledger,
		reference:  p.Reference,
		syncConfig: p.SyncConfig,
		metrics:    p.Metrics,
	}
}

func (s *Service) GetOpen(ctx context.Context, scope domain.Scope) (*domain.Contingency, error) {
	return s.repo.FindOpen(ctx, s.db, strings.TrimSpace(scope.LocationCode))
}

// Start opens a contingency for the configured location. The open slot claim is
// the authority; the lookup before it only produces a friendlier error.
func (s *Service) Start(ctx context.Context, req domain.StartRequest) (*domain.Contingency, error) {
	open, err := s.GetOpen(ctx, domain.Scope{})
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, &domain.AlreadyOpenError{Open: open}
	}

	locationCode, err := s.reference.LocationCode(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.checkFreshness(ctx, locationCode); err != nil {
		return nil, err
	}

	var startedByID *snowflake.ID
	startedByName := ""
	if req.UserID != 0 {
		user, err := s.reference.FindUser(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, domain.ErrInvalidUser
		}
		id := user.ID
		startedByID = &id
		startedByName = user.FullName
		if startedByName == "" {
			startedByName = user.Username
		}
	}

	location, err := s.reference.EnsureLocation(ctx, locationCode)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	slot := 1
	contingency := &domain.Contingency{
		ID:            s.genID.Generate(),
		LocationCode:  locationCode,
		StartedAt:     now,
		StartedByID:   startedByID,
		StartedByName: startedByName,
		OpenSlot:      &slot,
		CreatedAt:     now,
	}
	if location != nil {
		contingency.LocationID = &location.ID
	}

	if err := s.repo.Insert(ctx, s.db, contingency); err != nil {
		if db.IsDuplicateKeyErr(err) {
			current, findErr := s.GetOpen(ctx, domain.Scope{})
			if findErr != nil {
				return nil, errors.Join(err, findErr)
			}
			return nil, &domain.AlreadyOpenError{Open: current}
		}
		return nil, err
	}

	s.metrics.SetContingencyOpen(true)
	s.log.Info("contingency.started",
		zap.String("contingency_id", contingency.ID.String()),
		zap.String("location_code", locationCode),
		zap.String("started_by", startedByName),
	)
	return contingency, nil
}

// End closes the open contingency. It returns ErrNoOpenContingency when there is
// nothing to close.
func (s *Service) End(ctx context.Context) (*domain.Contingency, error) {
	open, err := s.GetOpen(ctx, domain.Scope{})
	if err != nil {
		return nil, err
	}
	if open == nil {
		return nil, domain.ErrNoOpenContingency
	}

	now := s.clock.Now()
	ok, err := s.repo.Close(ctx, s.db, open.ID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNoOpenContingency
	}

	open.EndedAt = &now
	open.OpenSlot = nil
	s.metrics.SetContingencyOpen(false)
	s.log.Info("contingency.ended",
		zap.String("contingency_id", open.ID.String()),
		zap.String("location_code", open.LocationCode),
		zap.Duration("duration", now.Sub(open.StartedAt)),
	)
	return open, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Contingency, error) {
	contingency, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if contingency == nil {
		return nil, domain.ErrNotFound
	}
	return contingency, nil
}

// ListForPush selects the contingencies a push run exports: an explicit id
// wins, then all, then the closed ones ended after Since. Results are ordered by
// start time.
func (s *Service) ListForPush(ctx context.Context, req domain.ListForPushRequest) ([]domain.Contingency, error) {
	if req.ContingencyID != 0 {
		contingency, err := s.Get(ctx, req.ContingencyID)
		if err != nil {
			return nil, err
		}
		return []domain.Contingency{*contingency}, nil
	}
	if req.All {
		return s.repo.List(ctx, s.db, domain.ListFilter{})
	}
	return s.repo.List(ctx, s.db, domain.ListFilter{
		ClosedOnly: true,
		EndedAfter: req.Since,
		EndedBy:    req.Until,
	})
}

// ImportReplica stores a contingency pushed by a location, keyed by its id on
// that location. Replicas never hold the open slot.
func (s *Service) ImportReplica(ctx context.Context, req domain.ImportReplicaRequest) (*domain.Contingency, error) {
	locationCode := strings.TrimSpace(req.LocationCode)
	if locationCode == "" || req.SourceID == 0 {
		return nil, domain.ErrInvalidReplica
	}
	location, err := s.reference.EnsureLocation(ctx, locationCode)
	if err != nil {
		return nil, err
	}

	sourceID := req.SourceID
	replica := &domain.Contingency{
		ID:            s.genID.Generate(),
		LocationCode:  locationCode,
		SourceID:      &sourceID,
		StartedAt:     req.StartedAt,
		EndedAt:       req.EndedAt,
		StartedByID:   req.StartedByID,
		StartedByName: req.StartedByName,
		CreatedAt:     s.clock.Now(),
	}
	if location != nil {
		replica.LocationID = &location.ID
	}
	if err := s.repo.UpsertReplica(ctx, s.db, replica); err != nil {
		return nil, err
	}
	// On conflict the stored row keeps its own id.
	return s.FindReplica(ctx, locationCode, sourceID)
}

func (s *Service) FindReplica(ctx context.Context, locationCode string, sourceID int64) (*domain.Contingency, error) {
	replica, err := s.repo.FindBySource(ctx, s.db, strings.TrimSpace(locationCode), sourceID)
	if err != nil {
		return nil, err
	}
	if replica == nil {
		return nil, domain.ErrNotFound
	}
	return replica, nil
}

func (s *Service) checkFreshness(ctx context.Context, locationCode string) error {
	last, err := s.ledger.FindLastSuccessful(ctx, syncdomain.TypePull, locationCode)
	if err != nil {
		return err
	}
	if last == nil {
		return domain.ErrNoReferenceSync
	}

	syncedAt := last.CreatedAt
	if last.CompletedAt != nil {
		syncedAt = *last.CompletedAt
	}
	maxAge := time.Duration(s.syncConfig.Get().MaxAgeDays) * 24 * time.Hour
	if age := s.clock.Now().Sub(syncedAt); age > maxAge {
		return fmt.Errorf("%w: last pull %s ago exceeds %s", domain.ErrSyncTooOld, age.Truncate(time.Minute), maxAge)
	}
	return nil
}
