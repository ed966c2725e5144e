package rdbgdap

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/rdbg-dap-go/internal/errors"
	"github.com/wagiedev/rdbg-dap-go/internal/port"
	"github.com/wagiedev/rdbg-dap-go/internal/protocol"
	"github.com/wagiedev/rdbg-dap-go/internal/readiness"
	"github.com/wagiedev/rdbg-dap-go/internal/subprocess"
)

// closeTimeout bounds how long Close waits for the killed process to be reaped.
const closeTimeout = 5 * time.Second

// Session is one running rdbg process that has reported readiness.
type Session struct {
	log     *slog.Logger
	options *Options
	proc    *subprocess.Process
	signal  *readiness.Signal

	initialized atomic.Bool
}

// Launch starts rdbg, waits until it is ready, and sends the DAP initialize
// request.
//
// On success the returned session owns the running process; call Close
// when done. On any failure the process, if started, has been killed.
func Launch(ctx context.Context, opts ...Option) (*Session, error) {
	session, err := Start(ctx, opts...)
	if err != nil {
		return nil, err
	}

	if err := session.Handshake(ctx); err != nil {
		if closeErr := session.Close(); closeErr != nil {
			session.log.Warn("Failed to close session", "error", closeErr)
		}

		return nil, err
	}

	return session, nil
}

// Start allocates a port, spawns rdbg on it, and blocks until rdbg prints its
// readiness marker. It does not connect.
//
// Errors:
//   - *SpawnError when rdbg cannot be found or started.
//   - ErrReadyTimeout when the readiness timeout expires first.
//   - ErrProcessExited when rdbg exits without reporting readiness.
//   - ErrNoFreePort or the context error when no port could be allocated.
//
// The process is killed when ctx is done.
func Start(ctx context.Context, opts ...Option) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	id := ulid.Make().String()

	allocator := port.NewAllocator(&port.Config{
		MaxAttempts: options.PortAttempts,
		Logger:      log.With("session_id", id),
	})

	adapterPort, err := allocator.Allocate(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate port: %w", err)
	}

	signal := readiness.New()

	proc, err := subprocess.Spawn(ctx, log, &subprocess.Config{
		Port:             adapterPort,
		AdapterPath:      options.AdapterPath,
		SkipVersionCheck: options.SkipVersionCheck,
		Env:              options.Env,
		SessionID:        id,
		Stdout:           options.Stdout,
		Stderr:           options.Stderr,
	}, signal)
	if err != nil {
		return nil, err
	}

	s := &Session{
		log:     log.With("component", "launcher", "session_id", id),
		options: options,
		proc:    proc,
		signal:  signal,
	}

	if err := s.waitReady(ctx); err != nil {
		s.log.Error("rdbg did not become ready", "port", adapterPort, "error", err)

		if closeErr := s.Close(); closeErr != nil {
			s.log.Warn("Failed to close session", "error", closeErr)
		}

		return nil, err
	}

	return s, nil
}

// waitReady blocks until the readiness signal is set, the process exits,
// or the readiness timeout expires.
func (s *Session) waitReady(ctx context.Context) error {
	s.log.Info("Waiting for rdbg to be ready...", "port", s.Port())

	timeout := s.options.EffectiveReadyTimeout()

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-s.signal.Done():
		return nil

	case <-s.proc.Done():
		// The stderr relay drains before Done closes, so a marker printed
		// right before exiting has already set the signal.
		if s.signal.IsSet() {
			return nil
		}

		// A cancelled ctx kills the process; report the cancellation.
		if err := ctx.Err(); err != nil {
			return err
		}

		return fmt.Errorf("%w (exit code %d)", errors.ErrProcessExited, s.proc.ExitCode())

	case <-waitCtx.Done():
		if s.signal.IsSet() {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		return fmt.Errorf("%w after %s", errors.ErrReadyTimeout, timeout)
	}
}

// Handshake connects to rdbg once and sends the DAP initialize request.
// The response is not read.
//
// It returns a *ConnectionError when the connection is refused and a
// *HandshakeError when the request cannot be written. Neither kills rdbg.
// Only the first call connects; later calls, including after a failed
// attempt, return ErrAlreadyInitialized.
func (s *Session) Handshake(ctx context.Context) error {
	if !s.initialized.CompareAndSwap(false, true) {
		return errors.ErrAlreadyInitialized
	}

	// Start only returns a session once the signal is set.
	dialCtx, cancel := context.WithTimeout(ctx, s.options.EffectiveDialTimeout())
	defer cancel()

	return protocol.ConnectAndHandshake(dialCtx, s.log, s.Port())
}

// ID returns the session identifier attached to every log line.
func (s *Session) ID() string {
	return s.proc.ID()
}

// Port returns the port rdbg listens on.
func (s *Session) Port() int {
	return s.proc.Port()
}

// Address returns the host:port rdbg listens on.
func (s *Session) Address() string {
	return protocol.Address(s.Port())
}

// Pid returns rdbg's process ID.
func (s *Session) Pid() int {
	return s.proc.Pid()
}

// Done returns a channel that is closed once rdbg has exited.
func (s *Session) Done() <-chan struct{} {
	return s.proc.Done()
}

// ExitCode returns rdbg's exit code, or -1 while it is still running.
func (s *Session) ExitCode() int {
	return s.proc.ExitCode()
}

// Wait blocks until rdbg exits and returns a *ProcessError if it failed.
func (s *Session) Wait() error {
	return s.proc.Wait()
}

// WriteStdin writes data to rdbg's stdin.
func (s *Session) WriteStdin(ctx context.Context, data []byte) error {
	return s.proc.WriteStdin(ctx, data)
}

// Close kills rdbg and waits for it to be reaped. Safe to call more than once.
func (s *Session) Close() error {
	if err := s.proc.Close(); err != nil {
		return err
	}

	select {
	case <-s.proc.Done():
	case <-time.After(closeTimeout):
		s.log.Warn("rdbg was not reaped after kill", "pid", s.Pid())
	}

	return nil
}
