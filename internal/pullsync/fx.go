package pullsync

import "go.uber.org/fx"

var Module = fx.Module("pullsync.service",
	fx.Provide(New),
)
