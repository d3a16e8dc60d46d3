package bootstrap

import (
	"os"
	"time"

	"github.com/kbukum/loadguard/logger"
)

// Option configures the App during creation.
type Option func(*appOptions)

type appOptions struct {
	logger          *logger.Logger
	gracefulTimeout time.Duration
	signals         []os.Signal
}

// WithLogger sets a custom logger. If not set, the global logger is
// initialized from the config's Logging section.
func WithLogger(l *logger.Logger) Option {
	return func(o *appOptions) {
		o.logger = l
	}
}

// WithGracefulTimeout bounds how long components get to stop.
func WithGracefulTimeout(d time.Duration) Option {
	return func(o *appOptions) {
		o.gracefulTimeout = d
	}
}

// WithSignals replaces the signals that cancel a running task.
func WithSignals(sig ...os.Signal) Option {
	return func(o *appOptions) {
		o.signals = sig
	}
}
