// Package port picks an unused local TCP port for the debug adapter to listen on.
package port

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"strconv"

	"github.com/wagiedev/rdbg-dap-go/internal/errors"
)

const (
	// MinPort is the lowest candidate port (first non-privileged port).
	MinPort = 1024
	// MaxPort is the highest candidate port.
	MaxPort = 65535

	// bindHost is the interface the bind check and the adapter connection use.
	bindHost = "127.0.0.1"
)

// Config holds configuration for port allocation.
type Config struct {
	// MaxAttempts caps the number of candidates tried.
	// Zero means retry until a free port is found.
	MaxAttempts int

	// Rand returns a pseudo-random number in [0, n).
	// If nil, math/rand/v2 IntN is used.
	Rand func(n int) int

	// Logger is an optional logger for allocation operations.
	Logger *slog.Logger
}

// Allocator hands out ports that were bindable at the time they were checked.
type Allocator struct {
	cfg  Config
	log  *slog.Logger
	rand func(n int) int
}

// NewAllocator creates an allocator with the given configuration.
func NewAllocator(cfg *Config) *Allocator {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.IntN
	}

	return &Allocator{
		cfg:  *cfg,
		log:  log.With("component", "port_allocator"),
		rand: rnd,
	}
}

// Allocate returns a random port in [MinPort, MaxPort] that could be bound
// and immediately released on the loopback interface.
//
// Bind failures are retried silently. Returns ErrNoFreePort when MaxAttempts
// is set and exhausted, or the context error if ctx is done.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	for attempt := 1; a.cfg.MaxAttempts <= 0 || attempt <= a.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		candidate := MinPort + a.rand(MaxPort-MinPort+1)
		if IsAvailable(candidate) {
			a.log.Info("Using port", "port", candidate, "attempts", attempt)

			return candidate, nil
		}

		a.log.Debug("Port unavailable, retrying", "port", candidate, "attempt", attempt)
	}

	return 0, fmt.Errorf("%w after %d attempts", errors.ErrNoFreePort, a.cfg.MaxAttempts)
}

// IsAvailable reports whether port can currently be bound on the loopback interface.
// The check listener is closed before returning.
func IsAvailable(port int) bool {
	if port < MinPort || port > MaxPort {
		return false
	}

	listener, err := net.Listen("tcp", Address(port))
	if err != nil {
		return false
	}

	_ = listener.Close()

	return true
}

// Address formats the loopback address for port.
func Address(port int) string {
	return net.JoinHostPort(bindHost, strconv.Itoa(port))
}
