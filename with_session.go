package rdbgdap

import (
	"context"
	"fmt"
)

// WithSession manages session lifecycle with automatic cleanup.
//
// This helper launches rdbg with the provided options, executes the callback
// with the ready and initialized session, and kills rdbg via Close() when
// done. If Close() fails, a warning is logged but does not override the
// callback's error.
//
// Example usage:
//
//	err := rdbgdap.WithSession(ctx, func(s *rdbgdap.Session) error {
//	    fmt.Println("rdbg listening on", s.Address())
//	    return s.Wait()
//	},
//	    rdbgdap.WithLogger(log),
//	    rdbgdap.WithReadyTimeout(10*time.Second),
//	)
func WithSession(ctx context.Context, fn func(*Session) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	options := applyOptions(opts)

	log := options.Logger
	if log == nil {
		log = NopLogger()
	}

	session, err := Launch(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to launch rdbg: %w", err)
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Warn("failed to close session", "error", closeErr)
		}
	}()

	return fn(session)
}
