// Command rdbg-dap starts rdbg on a free port, waits for it to accept a
// debugger, and sends it a DAP initialize request.
//
// It exits 1 when rdbg cannot be started or never becomes ready. A failed
// connection is logged and the command still exits 0.
//
// Environment:
//
//	RDBG_DAP_LOG_LEVEL           debug, info, warn or error (default info)
//	RDBG_DAP_READY_TIMEOUT       readiness timeout, Go duration (default 30s, 0 waits forever)
//	RDBG_DAP_SKIP_VERSION_CHECK  skip the rdbg --version check
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	rdbgdap "github.com/wagiedev/rdbg-dap-go"
)

// LogLevelEnvVar selects the log level.
const LogLevelEnvVar = "RDBG_DAP_LOG_LEVEL"

func main() {
	os.Exit(run())
}

func run() int {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(os.Getenv(LogLevelEnvVar)),
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := rdbgdap.Start(ctx, rdbgdap.WithLogger(log))
	if err != nil {
		log.Error("Failed to start rdbg", "error", err)

		return 1
	}

	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			log.Warn("Failed to stop rdbg", "error", closeErr)
		}
	}()

	if err := session.Handshake(ctx); err != nil {
		log.Error("Failed to connect to rdbg", "port", session.Port(), "error", err)

		return 0
	}

	log.Info("Successfully connected to rdbg on port", "port", session.Port())

	return 0
}

// logLevel parses a level name, falling back to info.
func logLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
