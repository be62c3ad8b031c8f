package notification

import (
	"go.uber.org/fx"

	"promisekeeper/services/promise"
)

var Module = fx.Module("notification.service",
	fx.Provide(
		NewHub,
		NewService,
		asEvents,
	),
	fx.Invoke(RegisterRoutes),
)

// SinkModule provides the event sink without the HTTP surface; the
// sweeper worker uses it so lifecycle events it triggers still persist.
var SinkModule = fx.Module("notification.sink",
	fx.Provide(
		NewHub,
		NewService,
		asEvents,
	),
)

func asEvents(s *Service) promise.Events { return s }
