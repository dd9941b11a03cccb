package service

import (
	"context"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/reference/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("reference.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) LocationCode(ctx context.Context) (string, error) {
	value, ok, err := s.Parameter(ctx, domain.ParamLocationCode)
	if err != nil {
		return "", err
	}
	if !ok || value == "" {
		return "", domain.ErrLocationNotConfigured
	}
	return value, nil
}

func (s *Service) ServerAddress(ctx context.Context) (string, error) {
	value, ok, err := s.Parameter(ctx, domain.ParamServerAddress)
	if err != nil {
		return "", err
	}
	if !ok || value == "" {
		return "", domain.ErrServerAddressNotConfigured
	}
	return strings.TrimRight(value, "/"), nil
}

func (s *Service) Parameter(ctx context.Context, code string) (string, bool, error) {
	param, err := s.repo.GetParameter(ctx, s.db, code)
	if err != nil {
		return "", false, err
	}
	if param == nil {
		return "", false, nil
	}
	return strings.TrimSpace(param.Value), true, nil
}

// IntParameter returns def when the parameter is missing or not a number.
func (s *Service) IntParameter(ctx context.Context, code string, def int) int {
	value, ok, err := s.Parameter(ctx, code)
	if err != nil {
		s.log.Warn("reference.parameter.read_failed", zap.String("code", code), zap.Error(err))
		return def
	}
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func (s *Service) FindUser(ctx context.Context, id snowflake.ID) (*domain.User, error) {
	if id == 0 {
		return nil, nil
	}
	return s.repo.FindUserByID(ctx, s.db, id)
}

func (s *Service) FindDevice(ctx context.Context, id snowflake.ID) (*domain.Device, error) {
	if id == 0 {
		return nil, nil
	}
	return s.repo.FindDeviceByID(ctx, s.db, id)
}

// EnsureLocation returns the location with code, registering it on first sight.
func (s *Service) EnsureLocation(ctx context.Context, code string) (*domain.Location, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, domain.ErrInvalidLocation
	}

	location, err := s.repo.FindLocationByCode(ctx, s.db, code)
	if err != nil || location != nil {
		return location, err
	}

	location = &domain.Location{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      code,
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertLocation(ctx, s.db, location); err != nil {
		return nil, err
	}
	// A concurrent insert may have won; read back the stored row.
	return s.repo.FindLocationByCode(ctx, s.db, code)
}

func (s *Service) ListDevices(ctx context.Context, locationCode string) ([]domain.Device, error) {
	if strings.TrimSpace(locationCode) == "" {
		return nil, domain.ErrInvalidLocation
	}
	return s.repo.ListDevices(ctx, s.db, locationCode)
}

func (s *Service) ListSyncedUsers(ctx context.Context, locationCode string) ([]domain.User, error) {
	if strings.TrimSpace(locationCode) == "" {
		return nil, domain.ErrInvalidLocation
	}
	return s.repo.ListUsers(ctx, s.db, locationCode, domain.SyncedRoles)
}

func (s *Service) ListExportableParameters(ctx context.Context) ([]domain.SystemParameter, error) {
	params, err := s.repo.ListParameters(ctx, s.db)
	if err != nil {
		return nil, err
	}
	out := params[:0]
	for _, p := range params {
		if _, local := domain.NodeLocalParameters[p.Code]; local {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}
