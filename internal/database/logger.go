package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Logger sends gorm's messages to a logr.Logger. Failed and slow queries are logged with their SQL;
// every other query only at V(1) when the level is Info.
type Logger struct {
	log   logr.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

var _ gormlogger.Interface = (*Logger)(nil)

func NewLogger(log logr.Logger, level gormlogger.LogLevel, slow time.Duration) *Logger {
	return &Logger{log: log.WithName("database"), level: level, slow: slow}
}

func (l *Logger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	c := *l
	c.level = level
	return &c
}

func (l *Logger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *Logger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Info(fmt.Sprintf(msg, args...), "severity", "warn")
	}
}

func (l *Logger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Errorf(msg, args...), "database error")
	}
}

func (l *Logger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.Error(err, "query failed", "elapsed", elapsed, "rows", rows, "sql", sql)
	case l.slow > 0 && elapsed > l.slow && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.log.Info("slow query", "elapsed", elapsed, "threshold", l.slow, "rows", rows, "sql", sql)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.V(1).Info("query", "elapsed", elapsed, "rows", rows, "sql", sql)
	}
}
