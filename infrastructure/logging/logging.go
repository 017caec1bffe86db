package logging

import (
	"sync"

	"go.uber.org/zap"
)

// Package-level loggers are constructed during package init, long
// before configuration is loaded. The root logger therefore shares a
// single atomic level: Init can raise verbosity later and every child
// already handed out picks it up.
var (
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
	root  *zap.Logger
	once  sync.Once
)

func rootLogger() *zap.Logger {
	once.Do(func() {
		conf := zap.NewProductionConfig()
		conf.Level = level
		root = zap.Must(conf.Build())
	})
	return root
}

// Init applies the loaded debug flag. Call from main after the
// configuration is read; safe to call at any point.
func Init(debug bool) {
	if debug {
		level.SetLevel(zap.DebugLevel)
	} else {
		level.SetLevel(zap.InfoLevel)
	}
}

// Named returns a child logger for a single component.
func Named(name string) *zap.Logger {
	return rootLogger().Named(name)
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() error {
	return rootLogger().Sync()
}
