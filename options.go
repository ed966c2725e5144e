package rdbgdap

import (
	"log/slog"
	"maps"
	"time"

	"github.com/wagiedev/rdbg-dap-go/internal/config"
)

// Options configures a launch. See the With* functions.
type Options = config.Options

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options on top of the defaults.
func applyOptions(opts []Option) *Options {
	options := config.Default()
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithAdapterPath sets an explicit path to the rdbg executable.
// If not set, rdbg is searched in PATH and common install locations.
func WithAdapterPath(path string) Option {
	return func(o *Options) {
		o.AdapterPath = path
	}
}

// WithEnv adds environment variables for the rdbg process.
// Multiple calls merge; later values win.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string, len(env))
		}

		maps.Copy(o.Env, env)
	}
}

// WithSkipVersionCheck disables the rdbg version check during discovery.
func WithSkipVersionCheck(skip bool) Option {
	return func(o *Options) {
		o.SkipVersionCheck = skip
	}
}

// WithReadyTimeout bounds how long to wait for rdbg to report readiness.
// Zero waits forever. Takes precedence over RDBG_DAP_READY_TIMEOUT.
func WithReadyTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.ReadyTimeout = &timeout
	}
}

// WithDialTimeout bounds the single connection attempt to rdbg.
func WithDialTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.DialTimeout = timeout
	}
}

// WithPortAttempts caps how many random ports are tried.
// Zero (the default) keeps trying until a free port is found.
func WithPortAttempts(attempts int) Option {
	return func(o *Options) {
		o.PortAttempts = attempts
	}
}

// WithStdout sets a callback invoked for each line rdbg writes to stdout.
// The callback runs on the relay goroutine and must not block.
func WithStdout(handler func(line string)) Option {
	return func(o *Options) {
		o.Stdout = handler
	}
}

// WithStderr sets a callback invoked for each line rdbg writes to stderr.
// The callback runs on the relay goroutine and must not block.
func WithStderr(handler func(line string)) Option {
	return func(o *Options) {
		o.Stderr = handler
	}
}
