package service

import (
	"context"

	"github.com/smallbiznis/possync/internal/client/domain"
	"github.com/smallbiznis/possync/internal/config"
	"github.com/smallbiznis/possync/internal/rut"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Repo       domain.Repository
	SyncConfig *config.SyncConfigHolder
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	repo       domain.Repository
	syncConfig *config.SyncConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("client.service"),
		repo:       p.Repo,
		syncConfig: p.SyncConfig,
	}
}

func (s *Service) Get(ctx context.Context, raw string) (*domain.Client, error) {
	normalized := rut.Normalize(raw)
	if normalized == "" {
		return nil, domain.ErrInvalidRUT
	}
	client, err := s.repo.FindByRUT(ctx, s.db, normalized)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, domain.ErrNotFound
	}
	return client, nil
}

// ListAll reads the full client table in batches.
func (s *Service) ListAll(ctx context.Context) ([]domain.Client, error) {
	out := make([]domain.Client, 0)
	err := s.repo.ScanAll(ctx, s.db, s.syncConfig.Get().BatchSize, func(batch []domain.Client) error {
		out = append(out, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
