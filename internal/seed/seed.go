package seed

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/smallbiznis/possync/internal/clock"
	"github.com/smallbiznis/possync/internal/config"
	refdomain "github.com/smallbiznis/possync/internal/reference/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("seed",
	fx.Provide(New),
)

const defaultMaxInstallments = 12

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Config config.Config
	Repo   refdomain.Repository
}

type Seeder struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	cfg   config.Config
	repo  refdomain.Repository
}

func New(p Params) *Seeder {
	return &Seeder{
		db:    p.DB,
		log:   p.Log.Named("seed"),
		clock: p.Clock,
		cfg:   p.Config,
		repo:  p.Repo,
	}
}

// Defaults returns the parameters every node starts with. Node-local codes are
// only included when configured, so an empty value is never stored.
func Defaults(cfg config.Config) []refdomain.SystemParameter {
	params := []refdomain.SystemParameter{
		{
			Code:        refdomain.ParamMaxInstallments,
			Value:       strconv.Itoa(defaultMaxInstallments),
			Description: "maximum installments accepted on a quote",
		},
		{
			Code:        refdomain.ParamVoucherFooter,
			Value:       "",
			Description: "text printed at the bottom of payment vouchers",
		},
	}
	if address := strings.TrimSpace(cfg.DefaultServerAddress); address != "" {
		params = append(params, refdomain.SystemParameter{
			Code:        refdomain.ParamServerAddress,
			Value:       strings.TrimRight(address, "/"),
			Description: "base URL of the admin node",
		})
	}
	if code := strings.TrimSpace(cfg.DefaultLocationCode); code != "" {
		params = append(params, refdomain.SystemParameter{
			Code:        refdomain.ParamLocationCode,
			Value:       code,
			Description: "code of the location this node serves",
		})
	}
	return params
}

// EnsureParameters inserts the default parameters that are missing and leaves
// existing values untouched. It returns the codes it inserted.
func (s *Seeder) EnsureParameters(ctx context.Context) ([]string, error) {
	if s.db == nil {
		return nil, errors.New("seed database handle is required")
	}

	var inserted []string
	now := s.clock.Now()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, param := range Defaults(s.cfg) {
			param.UpdatedAt = now
			ok, err := s.repo.InsertParameterIfAbsent(ctx, tx, &param)
			if err != nil {
				return err
			}
			if ok {
				inserted = append(inserted, param.Code)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("seed.parameters.ensured", zap.Strings("inserted", inserted))
	return inserted, nil
}
