// Package logger holds the process-wide zap logger and hands out named
// children of it.
package logger

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.Mutex
	logger *zap.Logger
	level  = zap.NewAtomicLevelAt(zap.InfoLevel)
)

func init() {
	conf := zap.NewDevelopmentConfig()
	conf.Level = level
	logger, _ = conf.Build()
}

// Config selects the output format and level of the default logger.
type Config struct {
	Production bool   `yaml:"production"`
	Level      string `yaml:"level"`
}

// ApplyGlobal rebuilds the default logger from the config.
func (c Config) ApplyGlobal() error {
	lvl := zapcore.InfoLevel
	if c.Level != "" {
		if err := lvl.UnmarshalText([]byte(c.Level)); err != nil {
			return fmt.Errorf("log level %q: %w", c.Level, err)
		}
	}

	var conf zap.Config
	if c.Production {
		conf = zap.NewProductionConfig()
	} else {
		conf = zap.NewDevelopmentConfig()
	}
	level.SetLevel(lvl)
	conf.Level = level

	l, err := conf.Build()
	if err != nil {
		return err
	}
	SetDefault(l)
	return nil
}

// SetDefault replaces the default logger. Loggers returned by NewNamed before
// the call keep the old core.
func SetDefault(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// Default returns the default logger.
func Default() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// NewNamed returns a child of the default logger with the given name.
func NewNamed(name string, fields ...zap.Field) *zap.Logger {
	return Default().Named(name).With(fields...)
}
