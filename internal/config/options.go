// Package config provides configuration types for the rdbg DAP launcher.
package config

import (
	"log/slog"
	"os"
	"time"
)

const (
	// DefaultReadyTimeout bounds the wait for the adapter's readiness marker.
	DefaultReadyTimeout = 30 * time.Second

	// DefaultDialTimeout bounds the single TCP connection attempt.
	DefaultDialTimeout = 5 * time.Second

	// ReadyTimeoutEnvVar overrides the readiness timeout (Go duration syntax).
	ReadyTimeoutEnvVar = "RDBG_DAP_READY_TIMEOUT"
)

// Options configures how the debug adapter is launched and contacted.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// AdapterPath is an explicit path to the rdbg executable.
	// If empty, rdbg is searched in PATH and common install locations.
	AdapterPath string

	// Env provides additional environment variables for the adapter process.
	Env map[string]string

	// SkipVersionCheck skips the rdbg version check during discovery.
	SkipVersionCheck bool

	// ReadyTimeout bounds the wait for the readiness marker.
	// Nil defers to RDBG_DAP_READY_TIMEOUT, then DefaultReadyTimeout.
	// Zero waits forever; negative selects DefaultReadyTimeout.
	ReadyTimeout *time.Duration

	// DialTimeout bounds the TCP connection attempt.
	// Zero or negative selects DefaultDialTimeout.
	DialTimeout time.Duration

	// PortAttempts caps the number of random ports tried.
	// Zero retries until a free port is found.
	PortAttempts int

	// Stdout is called for every line the adapter writes to stdout.
	Stdout func(line string)

	// Stderr is called for every line the adapter writes to stderr.
	Stderr func(line string)
}

// Default returns options with the default dial timeout applied.
// ReadyTimeout stays unset so the environment can supply it.
func Default() *Options {
	return &Options{
		DialTimeout: DefaultDialTimeout,
	}
}

// EffectiveReadyTimeout returns the readiness timeout to apply.
//
// An explicit ReadyTimeout wins. Otherwise RDBG_DAP_READY_TIMEOUT is used
// when it holds a valid duration. A zero result means no timeout.
func (o *Options) EffectiveReadyTimeout() time.Duration {
	if o.ReadyTimeout != nil {
		if *o.ReadyTimeout < 0 {
			return DefaultReadyTimeout
		}

		return *o.ReadyTimeout
	}

	if v := os.Getenv(ReadyTimeoutEnvVar); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}

	return DefaultReadyTimeout
}

// EffectiveDialTimeout returns the dial timeout to apply.
func (o *Options) EffectiveDialTimeout() time.Duration {
	if o.DialTimeout <= 0 {
		return DefaultDialTimeout
	}

	return o.DialTimeout
}
