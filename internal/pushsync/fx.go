package pushsync

import "go.uber.org/fx"

var Module = fx.Module("pushsync.service",
	fx.Provide(New),
)
