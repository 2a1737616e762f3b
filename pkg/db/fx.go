package db

import (
	"context"
	"time"

	"github.com/digitraceslab/koota/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database and applies pool limits.
func Open(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:  newQueryLogger(log, gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Second)
	if cfg.DBType == "sqlite" {
		// sqlite serializes writers; a single connection avoids SQLITE_BUSY on commit.
		sqlDB.SetMaxOpenConns(1)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			return sqlDB.Close()
		},
	})

	log.Info("database connected", zap.String("type", cfg.DBType))
	return conn, nil
}

var Module = fx.Module("db",
	fx.Provide(Open),
)
