// Package errors defines error types for the rdbg DAP launcher.
//
// Launch failures are returned as typed errors that wrap the underlying
// cause. All error types support error unwrapping and can be checked using
// errors.Is, errors.As, and errors.AsType.
package errors
