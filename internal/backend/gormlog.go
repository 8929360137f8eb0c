package backend

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormZapLogger adapts obslog's zap.Logger to gorm's logger.Interface,
// grounded on the teacher's mysql.go GormZapLogger (which wraps flog.Logger
// the same way) — trace/slow-query/error logging through the one
// structured-logging facade instead of gorm's own fmt.Printf default.
type GormZapLogger struct {
	log           *zap.Logger
	level         logger.LogLevel
	slowThreshold time.Duration
}

func NewGormZapLogger(log *zap.Logger) GormZapLogger {
	return GormZapLogger{log: log, level: logger.Warn, slowThreshold: 200 * time.Millisecond}
}

func (g GormZapLogger) LogMode(level logger.LogLevel) logger.Interface {
	g.level = level
	return g
}

func (g GormZapLogger) Info(ctx context.Context, s string, args ...interface{}) {
	if g.level >= logger.Info {
		g.log.Sugar().Infof(s, args...)
	}
}

func (g GormZapLogger) Warn(ctx context.Context, s string, args ...interface{}) {
	if g.level >= logger.Warn {
		g.log.Sugar().Warnf(s, args...)
	}
}

func (g GormZapLogger) Error(ctx context.Context, s string, args ...interface{}) {
	if g.level >= logger.Error {
		g.log.Sugar().Errorf(s, args...)
	}
}

func (g GormZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)

	if err != nil && g.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound) {
		sql, rows := fc()
		g.log.Error("gorm trace", zap.Error(err), zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
		return
	}

	if elapsed > g.slowThreshold && g.slowThreshold != 0 && g.level >= logger.Warn {
		sql, rows := fc()
		g.log.Warn("gorm slow query", zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
		return
	}

	if g.level == logger.Info {
		sql, rows := fc()
		g.log.Info("gorm trace", zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	}
}
