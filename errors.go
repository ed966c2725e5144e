package rdbgdap

import "github.com/wagiedev/rdbg-dap-go/internal/errors"

// Re-export error types from internal package

// AdapterNotFoundError indicates the rdbg binary was not found.
type AdapterNotFoundError = errors.AdapterNotFoundError

// SpawnError indicates rdbg could not be launched.
type SpawnError = errors.SpawnError

// ConnectionError indicates the TCP connection to rdbg failed.
type ConnectionError = errors.ConnectionError

// HandshakeError indicates the initialize request could not be sent.
type HandshakeError = errors.HandshakeError

// ProcessError indicates rdbg exited unsuccessfully.
type ProcessError = errors.ProcessError

// RdbgDAPError is the base interface for all errors returned by this module.
type RdbgDAPError = errors.RdbgDAPError

// Re-export sentinel errors from internal package.
var (
	// ErrReadyTimeout indicates rdbg did not become ready within the readiness timeout.
	ErrReadyTimeout = errors.ErrReadyTimeout

	// ErrProcessExited indicates rdbg exited before it became ready.
	ErrProcessExited = errors.ErrProcessExited

	// ErrNoFreePort indicates no free port was found within the attempt limit.
	ErrNoFreePort = errors.ErrNoFreePort

	// ErrStdinClosed indicates rdbg's stdin is no longer writable.
	ErrStdinClosed = errors.ErrStdinClosed

	// ErrAlreadyInitialized indicates Handshake was already called on the session.
	ErrAlreadyInitialized = errors.ErrAlreadyInitialized
)
