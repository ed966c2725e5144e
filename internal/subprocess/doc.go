// Package subprocess supervises the rdbg child process.
//
// Spawn starts rdbg with --open --port and protocol tracing enabled, then
// services it with four goroutines: a stdout relay, a stderr relay that
// watches for the readiness marker, an exit waiter, and a one-shot stdin
// writer. Output is logged line by line; nothing is parsed beyond the
// marker check.
package subprocess
