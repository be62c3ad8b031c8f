package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"promisekeeper/pkg/config"
	"promisekeeper/pkg/db"
	"promisekeeper/pkg/health"
	"promisekeeper/pkg/logger"
	"promisekeeper/pkg/otelcol"
	"promisekeeper/pkg/redis"
	"promisekeeper/pkg/server"
	"promisekeeper/services/notification"
	"promisekeeper/services/promise"
	"promisekeeper/services/reputation"
	"promisekeeper/services/user"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		db.Module,
		redis.Module,
		fx.Provide(provideSnowflakeNode),
		server.Module,
		health.Module,
		user.Module,
		reputation.Module,
		notification.Module,
		promise.Module,
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
