package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"promisekeeper/pkg/config"
	"promisekeeper/pkg/db"
	"promisekeeper/pkg/logger"
	"promisekeeper/services/notification"
	"promisekeeper/services/promise"
	"promisekeeper/services/user"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Invoke(migrate),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func migrate(conn *gorm.DB, shutdowner fx.Shutdowner) error {
	err := conn.AutoMigrate(
		&user.User{},
		&promise.Promise{},
		&promise.Validation{},
		&promise.Comment{},
		&notification.Notification{},
	)
	if err != nil {
		zap.L().Error("migration failed", zap.Error(err))
		return err
	}

	zap.L().Info("migration complete")
	return shutdowner.Shutdown()
}
