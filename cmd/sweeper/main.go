package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"promisekeeper/pkg/config"
	"promisekeeper/pkg/db"
	"promisekeeper/pkg/logger"
	"promisekeeper/pkg/task"
	"promisekeeper/services/notification"
	"promisekeeper/services/promise"
	"promisekeeper/services/reputation"
)

// The sweeper runs apart from the API so deadline enforcement keeps
// going through API deploys and restarts.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(provideSnowflakeNode),
		task.Client,
		task.Server,
		reputation.Module,
		notification.SinkModule,
		promise.SweeperModule,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
