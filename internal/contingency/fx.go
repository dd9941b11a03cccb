package contingency

import (
	"github.com/smallbiznis/possync/internal/contingency/domain"
	"github.com/smallbiznis/possync/internal/contingency/repository"
	"github.com/smallbiznis/possync/internal/contingency/service"
	"go.uber.org/fx"
)

var Module = fx.Module("contingency.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(func(svc domain.Service) domain.Registry { return svc }),
)
