// Package rdbgdap launches the Ruby debug adapter (rdbg) and opens a Debug
// Adapter Protocol session with it.
//
// A launch picks a free local port, starts
//
//	rdbg --open --port <port>
//
// with DEBUG_DAP_SHOW_PROTOCOL=1, relays the adapter's stdout and stderr to
// the configured logger, and waits until rdbg prints
// "DEBUGGER: wait for debugger connection..." on stderr. Only then does it
// connect to 127.0.0.1:<port> and send a single DAP initialize request.
//
// # Basic Usage
//
//	ctx := context.Background()
//	session, err := rdbgdap.Launch(ctx,
//	    rdbgdap.WithLogger(slog.Default()),
//	    rdbgdap.WithReadyTimeout(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
// # Step by Step
//
// Start stops after readiness so the caller decides what to do with a
// failed handshake:
//
//	session, err := rdbgdap.Start(ctx)
//	if err != nil {
//	    return err // spawn failure, readiness timeout, or early exit
//	}
//	defer session.Close()
//
//	if err := session.Handshake(ctx); err != nil {
//	    log.Printf("rdbg did not accept the connection: %v", err)
//	}
//
// # Lifecycle
//
// The rdbg process is bound to the context passed to Launch or Start and is
// killed when that context is done or when Session.Close is called. Use
// WithSession to scope a session to a callback.
//
// # Errors
//
// Launch failures are reported as *SpawnError (which wraps
// *AdapterNotFoundError when rdbg is missing). ErrReadyTimeout and
// ErrProcessExited report a launch that never became ready. A failed
// connection is a *ConnectionError, and a failed write of the initialize
// request a *HandshakeError.
package rdbgdap
