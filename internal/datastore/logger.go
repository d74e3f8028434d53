// Package datastore provides logging infrastructure for database operations
package datastore

import (
	"context"
	"log"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm/logger"

	"github.com/kmakela/gearbase/internal/logging"
)

// Package-level logger for datastore operations
var (
	datastoreLogger   *slog.Logger
	datastoreLevelVar = new(slog.LevelVar) // Dynamic level control
	loggerCloseFunc   func() error
	loggerOnce        sync.Once

	// defaultLogPath follows the project-wide convention of a "logs/" directory
	// for all component log files.
	defaultLogPath = "logs/datastore.log"
)

// getLogger returns the package logger, initializing it on first use.
func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		datastoreLevelVar.Set(slog.LevelInfo)

		var err error
		datastoreLogger, loggerCloseFunc, err = logging.NewFileLogger(defaultLogPath, "datastore", datastoreLevelVar)
		if err != nil {
			log.Printf("failed to initialize datastore file logger at %s: %v", defaultLogPath, err)
			datastoreLogger = slog.Default().With("service", "datastore")
			loggerCloseFunc = func() error { return nil }
		}
	})
	return datastoreLogger
}

// DefaultSlowQueryThreshold defines the duration after which a query is
// considered slow and logged at warn level.
const DefaultSlowQueryThreshold = 1 * time.Second

// slogGormLogger adapts the package slog logger to the gorm logger interface.
type slogGormLogger struct {
	level         logger.LogLevel
	slowThreshold time.Duration
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() logger.Interface {
	return &slogGormLogger{
		level:         logger.Warn,
		slowThreshold: DefaultSlowQueryThreshold,
	}
}

func (l *slogGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.level = level
	return &newLogger
}

func (l *slogGormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		getLogger().Info(msg, "data", data)
	}
}

func (l *slogGormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		getLogger().Warn(msg, "data", data)
	}
}

func (l *slogGormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		getLogger().Error(msg, "data", data)
	}
}

func (l *slogGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && l.level >= logger.Error:
		getLogger().Error("Query failed",
			"sql", sql,
			"rows", rows,
			"elapsed_ms", elapsed.Milliseconds(),
			"error", err)
	case elapsed > l.slowThreshold && l.level >= logger.Warn:
		getLogger().Warn("Slow query",
			"sql", sql,
			"rows", rows,
			"elapsed_ms", elapsed.Milliseconds(),
			"threshold_ms", l.slowThreshold.Milliseconds())
	case l.level >= logger.Info:
		getLogger().Debug("Query",
			"sql", sql,
			"rows", rows,
			"elapsed_ms", elapsed.Milliseconds())
	}
}
