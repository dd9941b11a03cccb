package syncevent

import (
	"github.com/smallbiznis/possync/internal/syncevent/repository"
	"github.com/smallbiznis/possync/internal/syncevent/service"
	"go.uber.org/fx"
)

var Module = fx.Module("syncevent.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
