package promise

import (
	"go.uber.org/fx"
)

var Module = fx.Module("promise.service",
	fx.Provide(NewService),
	fx.Invoke(RegisterRoutes),
)

// SweeperModule wires the deadline sweeper into an asynq worker process.
var SweeperModule = fx.Module("promise.sweeper",
	fx.Provide(NewService, NewSweeper),
	fx.Invoke(registerSweepHandler, runSweepScheduler),
)
