package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/rdbg-dap-go/internal/cli"
	"github.com/wagiedev/rdbg-dap-go/internal/errors"
	"github.com/wagiedev/rdbg-dap-go/internal/readiness"
)

const (
	// ReadyMarker is printed by rdbg on stderr once it listens for a debugger.
	ReadyMarker = "DEBUGGER: wait for debugger connection..."

	// StdinFiller is written to rdbg's stdin right after spawn so it does not
	// exit before a debugger attaches.
	StdinFiller = "i\n"

	// maxScanTokenSize is the maximum buffer size for one line of adapter output.
	// Protocol tracing echoes whole DAP messages, so lines can be long.
	maxScanTokenSize = 1024 * 1024 // 1MB

	// unknownExitCode is reported until the process has been reaped.
	unknownExitCode = -1

	// waitDelay bounds how long Wait keeps copying output after rdbg exits.
	// Processes started by rdbg can inherit its stdout and stderr.
	waitDelay = time.Second
)

// Config describes the adapter process to spawn.
type Config struct {
	// Port is passed to rdbg via --port.
	Port int

	// AdapterPath is an explicit path to rdbg. Empty means discover it.
	AdapterPath string

	// SkipVersionCheck skips the rdbg version check during discovery.
	SkipVersionCheck bool

	// Env provides additional environment variables for the adapter.
	Env map[string]string

	// SessionID tags every log line of this process. Generated when empty.
	SessionID string

	// Stdout is called for every stdout line after it is logged.
	Stdout func(line string)

	// Stderr is called for every stderr line after it is logged.
	Stderr func(line string)
}

// Process is a running rdbg child and the goroutines that service its pipes.
//
// Each pipe has exactly one owner: stdout and stderr belong to their relay
// goroutines, stdin is only touched under stdinMu.
type Process struct {
	log       *slog.Logger
	id        string
	port      int
	cmd       *exec.Cmd
	tasks     errgroup.Group
	done      chan struct{}
	stdinPipe io.WriteCloser
	stdin     *bufio.Writer

	stdinMu     sync.Mutex // Protects stdin writes
	stdinClosed bool

	mu       sync.Mutex // Protects the fields below
	exitCode int
	exitErr  error
	closing  bool
}

// Spawn starts rdbg listening on cfg.Port and begins servicing its pipes.
//
// Four goroutines are started: a stdout relay, a stderr relay that sets
// signal when ReadyMarker appears, an exit waiter, and a one-shot stdin
// writer. Only launch failures are returned, as a *errors.SpawnError.
// Everything that goes wrong afterwards is logged by the goroutine that
// observed it.
//
// The process is killed when ctx is done.
func Spawn(
	ctx context.Context,
	log *slog.Logger,
	cfg *Config,
	signal *readiness.Signal,
) (*Process, error) {
	id := cfg.SessionID
	if id == "" {
		id = ulid.Make().String()
	}

	log = log.With("component", "supervisor", "session_id", id)

	discoverer := cli.NewDiscoverer(&cli.Config{
		AdapterPath:      cfg.AdapterPath,
		SkipVersionCheck: cfg.SkipVersionCheck,
		Logger:           log,
	})

	adapterPath, err := discoverer.Discover(ctx)
	if err != nil {
		return nil, &errors.SpawnError{Program: cli.AdapterName, Err: err}
	}

	args := cli.BuildArgs(cfg.Port)

	//nolint:gosec // G204: launching the discovered debug adapter is the point
	cmd := exec.CommandContext(ctx, adapterPath, args...)
	cmd.Env = cli.BuildEnvironment(cfg.Env)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &errors.SpawnError{Program: adapterPath, Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	// exec copies the child's output into these pipes, so Wait tracks the
	// child itself rather than whoever else holds its output open.
	stdout, stdoutWriter := io.Pipe()
	stderr, stderrWriter := io.Pipe()

	cmd.Stdout = stdoutWriter
	cmd.Stderr = stderrWriter
	cmd.WaitDelay = waitDelay

	log.Info("Spawn rdbg and listen on port",
		"port", cfg.Port,
		"adapter_path", adapterPath,
		"args", args,
		"env", cfg.Env,
	)

	if err := cmd.Start(); err != nil {
		log.Error("Failed to start rdbg", "error", err)

		_ = stdout.Close()
		_ = stderr.Close()

		return nil, &errors.SpawnError{Program: adapterPath, Err: err}
	}

	p := &Process{
		log:       log,
		id:        id,
		port:      cfg.Port,
		cmd:       cmd,
		done:      make(chan struct{}),
		stdinPipe: stdin,
		stdin:     bufio.NewWriter(stdin),
		exitCode:  unknownExitCode,
	}

	log.Info("rdbg started", "pid", cmd.Process.Pid)

	var relays sync.WaitGroup

	relays.Add(2)

	p.tasks.Go(func() error {
		defer relays.Done()

		p.relay(stdout, "STDOUT", cfg.Stdout, nil)

		return nil
	})

	p.tasks.Go(func() error {
		defer relays.Done()

		p.relay(stderr, "STDERR", cfg.Stderr, signal)

		return nil
	})

	p.tasks.Go(func() error {
		return p.waitForExit(&relays, stdoutWriter, stderrWriter)
	})

	p.tasks.Go(func() error {
		p.writeFiller()

		return nil
	})

	return p, nil
}

// relay logs r line by line until EOF. When signal is non-nil, a line
// containing ReadyMarker sets it; repeated matches are harmless.
func (p *Process) relay(r io.Reader, stream string, callback func(string), signal *readiness.Signal) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxScanTokenSize)

	for scanner.Scan() {
		line := scanner.Text()
		p.log.Info(stream, "line", line)

		if callback != nil {
			callback(line)
		}

		if signal != nil && strings.Contains(line, ReadyMarker) {
			if !signal.IsSet() {
				p.log.Info("rdbg is ready", "port", p.port)
			}

			signal.Set()
		}
	}

	if err := scanner.Err(); err != nil {
		p.log.Error("Failed to read adapter output", "stream", stream, "error", err)

		// Keep the pipe drained so the adapter never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
	}

	p.log.Debug("Relay stopped", "stream", stream)
}

// waitForExit reaps the child and records how it ended. Done is closed
// once both relays have consumed everything the child wrote.
func (p *Process) waitForExit(relays *sync.WaitGroup, outputs ...io.Closer) error {
	err := p.cmd.Wait()
	if stderrors.Is(err, exec.ErrWaitDelay) {
		p.log.Debug("rdbg exited but its output is still held open", "wait_delay", waitDelay)

		err = nil
	}

	exitCode := unknownExitCode
	if p.cmd.ProcessState != nil {
		exitCode = p.cmd.ProcessState.ExitCode()
	}

	p.mu.Lock()
	p.exitCode = exitCode
	closing := p.closing

	if err != nil {
		p.exitErr = &errors.ProcessError{ExitCode: exitCode, Err: err}
	}

	exitErr := p.exitErr
	p.mu.Unlock()

	// Wait has finished copying, so closing the writers ends both relays
	// after the last line.
	for _, c := range outputs {
		_ = c.Close()
	}

	relays.Wait()

	p.stdinMu.Lock()
	p.stdinClosed = true
	p.stdinMu.Unlock()

	close(p.done)

	switch _, isExitErr := stderrors.AsType[*exec.ExitError](err); {
	case err == nil:
		p.log.Info("rdbg exited with status", "exit_code", exitCode)
	case closing:
		p.log.Debug("rdbg terminated during shutdown", "error", err)
	case isExitErr:
		p.log.Info("rdbg exited with status", "exit_code", exitCode, "status", err.Error())
	default:
		p.log.Error("rdbg exited with error", "error", err)
	}

	return exitErr
}

// writeFiller sends StdinFiller once so rdbg keeps waiting for a debugger.
func (p *Process) writeFiller() {
	if err := p.WriteStdin(context.Background(), []byte(StdinFiller)); err != nil {
		p.log.Error("Failed to write to stdin", "error", err)

		return
	}

	p.log.Debug("Wrote stdin filler")
}

// WriteStdin writes data to the adapter's stdin and flushes it.
//
// Writes are serialized. If ctx is cancelled during a blocked write, stdin
// is closed to unblock it and later calls return ErrStdinClosed.
func (p *Process) WriteStdin(ctx context.Context, data []byte) error {
	p.stdinMu.Lock()
	defer p.stdinMu.Unlock()

	if p.stdin == nil {
		return errors.ErrProcessNotStarted
	}

	if p.stdinClosed {
		return errors.ErrStdinClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	done := make(chan error, 1)

	go func() {
		if _, err := p.stdin.Write(data); err != nil {
			done <- fmt.Errorf("write to stdin: %w", err)

			return
		}

		if err := p.stdin.Flush(); err != nil {
			done <- fmt.Errorf("flush stdin: %w", err)

			return
		}

		done <- nil
	}()

	select {
	case err := <-done:
		return err

	case <-ctx.Done():
		p.log.Debug("Context cancelled during stdin write, closing stdin")

		_ = p.stdinPipe.Close()
		p.stdinClosed = true

		select {
		case <-done:
		case <-time.After(time.Second):
			p.log.Warn("Stdin write goroutine did not exit after close, potential leak")
		}

		return ctx.Err()
	}
}

// ID returns the session identifier attached to this process's log lines.
func (p *Process) ID() string {
	return p.id
}

// Port returns the port rdbg was told to listen on.
func (p *Process) Port() int {
	return p.port
}

// Pid returns the operating system process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done returns a channel that is closed once the process has been reaped.
// Both output relays have finished by then.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// ExitCode returns the process exit code, or -1 while it is still running
// or when it was killed by a signal.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitCode
}

// Wait blocks until the process exited and all four service goroutines
// returned. It returns a *errors.ProcessError when the process did not exit
// cleanly.
func (p *Process) Wait() error {
	return p.tasks.Wait()
}

// Close kills the process. It is safe to call more than once and after the
// process has already exited.
func (p *Process) Close() error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	default:
	}

	p.log.Debug("Killing rdbg", "pid", p.cmd.Process.Pid)

	if err := p.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill rdbg (pid %d): %w", p.cmd.Process.Pid, err)
	}

	return nil
}
