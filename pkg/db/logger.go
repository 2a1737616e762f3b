package db

import (
	"context"
	"errors"
	"strings"
	"time"

	obslogger "github.com/digitraceslab/koota/internal/observability/logger"
	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// queryLogger routes gorm diagnostics through zap. Bound parameters are
// dropped because they carry raw payloads and device secrets.
type queryLogger struct {
	base          *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newQueryLogger(base *zap.Logger, level gormlogger.LogLevel) *queryLogger {
	return &queryLogger{
		base:          base.Named("gorm"),
		level:         level,
		slowThreshold: 250 * time.Millisecond,
	}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *queryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log(ctx).Info(msg, zap.Any("data", data))
	}
}

func (l *queryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log(ctx).Warn(msg, zap.Any("data", data))
	}
}

func (l *queryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log(ctx).Error(msg, zap.Any("data", data))
	}
}

func (l *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound) && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.log(ctx).Error("gorm.query", zap.String("sql", strings.TrimSpace(sql)), zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed), zap.Error(err))
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log(ctx).Warn("gorm.slow_query", zap.String("sql", strings.TrimSpace(sql)), zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed))
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log(ctx).Debug("gorm.query", zap.String("sql", strings.TrimSpace(sql)), zap.Int64("rows", rows),
			zap.Duration("elapsed", elapsed))
	}
}

func (l *queryLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *queryLogger) log(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, l.base)
}

var _ gormlogger.Interface = (*queryLogger)(nil)
