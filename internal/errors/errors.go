package errors

import (
	"errors"
	"fmt"
)

// RdbgDAPError is the base interface for all errors returned by this module.
type RdbgDAPError interface {
	error
	IsRdbgDAPError() bool
}

// Compile-time verification that all error types implement RdbgDAPError.
var (
	_ RdbgDAPError = (*AdapterNotFoundError)(nil)
	_ RdbgDAPError = (*SpawnError)(nil)
	_ RdbgDAPError = (*ConnectionError)(nil)
	_ RdbgDAPError = (*HandshakeError)(nil)
	_ RdbgDAPError = (*ProcessError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrReadyTimeout indicates the adapter never printed its readiness marker
	// within the configured timeout.
	ErrReadyTimeout = errors.New("timed out waiting for debug adapter readiness")

	// ErrProcessExited indicates the adapter exited before it became ready.
	ErrProcessExited = errors.New("debug adapter exited before becoming ready")

	// ErrNoFreePort indicates the port allocator gave up after its attempt limit.
	ErrNoFreePort = errors.New("no free port found")

	// ErrStdinClosed indicates the adapter's stdin is no longer writable.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrProcessNotStarted indicates an operation on a process that was never started.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrAlreadyInitialized indicates the initialize request was already sent
	// (or attempted) for this session.
	ErrAlreadyInitialized = errors.New("initialize request already sent")
)

// AdapterNotFoundError indicates the debug adapter binary was not found.
type AdapterNotFoundError struct {
	SearchedPaths []string
}

func (e *AdapterNotFoundError) Error() string {
	return fmt.Sprintf("rdbg not found in: %v", e.SearchedPaths)
}

// IsRdbgDAPError implements RdbgDAPError.
func (e *AdapterNotFoundError) IsRdbgDAPError() bool { return true }

// SpawnError indicates the debug adapter process could not be launched.
type SpawnError struct {
	Program string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Program == "" {
		return fmt.Sprintf("failed to spawn debug adapter: %v", e.Err)
	}

	return fmt.Sprintf("failed to spawn debug adapter %q: %v", e.Program, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsRdbgDAPError implements RdbgDAPError.
func (e *SpawnError) IsRdbgDAPError() bool { return true }

// ConnectionError indicates the TCP connection to the adapter could not be established.
type ConnectionError struct {
	Address string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to debug adapter at %s: %v", e.Address, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsRdbgDAPError implements RdbgDAPError.
func (e *ConnectionError) IsRdbgDAPError() bool { return true }

// HandshakeError indicates the initialize request could not be encoded or written.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("failed to send initialize request: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// IsRdbgDAPError implements RdbgDAPError.
func (e *HandshakeError) IsRdbgDAPError() bool { return true }

// ProcessError indicates the debug adapter process exited unsuccessfully.
type ProcessError struct {
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("debug adapter process failed (exit %d): %v", e.ExitCode, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsRdbgDAPError implements RdbgDAPError.
func (e *ProcessError) IsRdbgDAPError() bool { return true }
