package subprocess

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/rdbg-dap-go/internal/adaptertest"
	"github.com/wagiedev/rdbg-dap-go/internal/errors"
	"github.com/wagiedev/rdbg-dap-go/internal/port"
	"github.com/wagiedev/rdbg-dap-go/internal/readiness"
)

func TestMain(m *testing.M) {
	if adaptertest.IsStub() {
		os.Exit(adaptertest.Main())
	}

	os.Exit(m.Run())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// spawnStub starts this test binary as a fake rdbg and returns the process,
// its readiness signal, and the path of the stub's report file.
func spawnStub(t *testing.T, opts adaptertest.Options, cfg Config) (*Process, *readiness.Signal, string) {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	opts.ReportPath = filepath.Join(t.TempDir(), "report.json")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	p, err := port.NewAllocator(nil).Allocate(ctx)
	require.NoError(t, err)

	cfg.Port = p
	cfg.AdapterPath = exe
	cfg.SkipVersionCheck = true
	cfg.Env = opts.Env()

	signal := readiness.New()

	proc, err := Spawn(ctx, discardLogger(), &cfg, signal)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = proc.Close()
		<-proc.Done()
	})

	return proc, signal, opts.ReportPath
}

func waitDone(t *testing.T, proc *Process) {
	t.Helper()

	select {
	case <-proc.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("adapter process did not exit")
	}
}

func TestSpawn_AdapterNotFound(t *testing.T) {
	cfg := &Config{
		Port:             4711,
		AdapterPath:      filepath.Join(t.TempDir(), "missing-rdbg"),
		SkipVersionCheck: true,
	}

	proc, err := Spawn(context.Background(), discardLogger(), cfg, readiness.New())
	require.Nil(t, proc)

	spawnErr, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, "rdbg", spawnErr.Program)

	_, notFound := stderrors.AsType[*errors.AdapterNotFoundError](err)
	require.True(t, notFound)
}

func TestSpawn_NotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rdbg")
	require.NoError(t, os.WriteFile(path, []byte("not a program"), 0o600))

	cfg := &Config{Port: 4711, AdapterPath: path, SkipVersionCheck: true}

	_, err := Spawn(context.Background(), discardLogger(), cfg, readiness.New())

	spawnErr, ok := stderrors.AsType[*errors.SpawnError](err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, path, spawnErr.Program)
}

func TestSpawn_CommandLineAndEnvironment(t *testing.T) {
	proc, signal, reportPath := spawnStub(t, adaptertest.Options{
		ReadyDelay:     200 * time.Millisecond,
		ExitAfterReady: true,
	}, Config{})

	waitDone(t, proc)
	require.True(t, signal.IsSet())

	report, err := adaptertest.ReadReport(reportPath)
	require.NoError(t, err)
	require.Empty(t, report.Error)

	require.Equal(t, []string{"--open", "--port", strconv.Itoa(proc.Port())}, report.Args)
	require.True(t, report.Open)
	require.Equal(t, proc.Port(), report.Port)
	require.Equal(t, "1", report.ProtocolTrace)
	require.Equal(t, StdinFiller, report.Stdin)
}

func TestSpawn_MarkerWithPrefixSetsReadiness(t *testing.T) {
	proc, signal, _ := spawnStub(t, adaptertest.Options{
		MarkerPrefix:   "[pid 4242] ",
		ExitAfterReady: true,
	}, Config{})

	select {
	case <-signal.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("readiness was never signalled")
	}

	waitDone(t, proc)
}

func TestSpawn_NoMarkerNeverSignals(t *testing.T) {
	proc, signal, _ := spawnStub(t, adaptertest.Options{NoMarker: true}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, signal.Wait(ctx), context.DeadlineExceeded)

	require.NoError(t, proc.Close())
	waitDone(t, proc)
	require.False(t, signal.IsSet())

	var procErr *errors.ProcessError
	require.ErrorAs(t, proc.Wait(), &procErr)
}

func TestSpawn_OutputCallbacks(t *testing.T) {
	var (
		mu     sync.Mutex
		stdout []string
		stderr []string
	)

	proc, _, _ := spawnStub(t, adaptertest.Options{ExitAfterReady: true}, Config{
		Stdout: func(line string) {
			mu.Lock()
			defer mu.Unlock()

			stdout = append(stdout, line)
		},
		Stderr: func(line string) {
			mu.Lock()
			defer mu.Unlock()

			stderr = append(stderr, line)
		},
	})

	waitDone(t, proc)

	mu.Lock()
	defer mu.Unlock()

	require.Contains(t, stdout, "stub adapter starting")
	require.Contains(t, stderr, ReadyMarker)
	require.NotContains(t, stdout, ReadyMarker)
}

func TestSpawn_ExitCodeRecorded(t *testing.T) {
	proc, _, _ := spawnStub(t, adaptertest.Options{
		ExitAfterReady: true,
		ExitCode:       3,
	}, Config{})

	waitDone(t, proc)
	require.Equal(t, 3, proc.ExitCode())

	err := proc.Wait()

	procErr, ok := stderrors.AsType[*errors.ProcessError](err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, 3, procErr.ExitCode)
}

func TestSpawn_CleanExit(t *testing.T) {
	proc, _, _ := spawnStub(t, adaptertest.Options{ExitAfterReady: true}, Config{})

	waitDone(t, proc)
	require.Equal(t, 0, proc.ExitCode())
	require.NoError(t, proc.Wait())

	// Stdin is closed once the process is gone.
	require.ErrorIs(t, proc.WriteStdin(context.Background(), []byte("i\n")), errors.ErrStdinClosed)
}

func TestSpawn_SessionID(t *testing.T) {
	proc, _, _ := spawnStub(t, adaptertest.Options{ExitAfterReady: true}, Config{SessionID: "session-1"})
	require.Equal(t, "session-1", proc.ID())

	generated, _, _ := spawnStub(t, adaptertest.Options{ExitAfterReady: true}, Config{})
	require.Len(t, generated.ID(), 26)
	require.Positive(t, generated.Pid())
}

func TestClose_Idempotent(t *testing.T) {
	proc, _, _ := spawnStub(t, adaptertest.Options{NoMarker: true}, Config{})

	require.Equal(t, -1, proc.ExitCode())

	require.NoError(t, proc.Close())
	require.NoError(t, proc.Close())

	waitDone(t, proc)
	require.NoError(t, proc.Close())
}

func TestSpawn_ContextCancelKillsProcess(t *testing.T) {
	exe, err := os.Executable()
	require.NoError(t, err)

	opts := adaptertest.Options{NoMarker: true, ReportPath: filepath.Join(t.TempDir(), "report.json")}

	ctx, cancel := context.WithCancel(context.Background())

	proc, err := Spawn(ctx, discardLogger(), &Config{
		Port:             4712,
		AdapterPath:      exe,
		SkipVersionCheck: true,
		Env:              opts.Env(),
	}, readiness.New())
	require.NoError(t, err)

	cancel()
	waitDone(t, proc)
	require.Error(t, proc.Wait())
}

// writeAdapterScript writes an executable shell script standing in for rdbg.
func writeAdapterScript(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("Test requires a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "rdbg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700)) //nolint:gosec // test adapter must be executable

	return path
}

func TestSpawn_BackgroundChildHoldingOutput(t *testing.T) {
	// The backgrounded sleep inherits stdout and stderr and outlives rdbg.
	script := writeAdapterScript(t, "sleep 5 &\necho '"+ReadyMarker+"' >&2\nexit 0\n")

	signal := readiness.New()

	proc, err := Spawn(context.Background(), discardLogger(), &Config{
		Port:             4713,
		AdapterPath:      script,
		SkipVersionCheck: true,
	}, signal)
	require.NoError(t, err)

	start := time.Now()

	select {
	case <-proc.Done():
	case <-time.After(4 * time.Second):
		t.Fatal("Done waited for the background child instead of rdbg")
	}

	require.Less(t, time.Since(start), 3*time.Second)
	require.True(t, signal.IsSet(), "marker written before exit must still be relayed")
	require.Equal(t, 0, proc.ExitCode())
	require.NoError(t, proc.Wait())
}

func TestSpawn_BackgroundChildFailedExit(t *testing.T) {
	script := writeAdapterScript(t, "sleep 5 &\necho 'cannot load debug gem' >&2\nexit 1\n")

	var (
		mu    sync.Mutex
		lines []string
	)

	proc, err := Spawn(context.Background(), discardLogger(), &Config{
		Port:             4714,
		AdapterPath:      script,
		SkipVersionCheck: true,
		Stderr: func(line string) {
			mu.Lock()
			defer mu.Unlock()

			lines = append(lines, line)
		},
	}, readiness.New())
	require.NoError(t, err)

	select {
	case <-proc.Done():
	case <-time.After(4 * time.Second):
		t.Fatal("Done waited for the background child instead of rdbg")
	}

	require.Equal(t, 1, proc.ExitCode())

	mu.Lock()
	require.Equal(t, []string{"cannot load debug gem"}, lines)
	mu.Unlock()

	procErr, ok := stderrors.AsType[*errors.ProcessError](proc.Wait())
	require.True(t, ok)
	require.Equal(t, 1, procErr.ExitCode)
}

// relayProcess builds a Process with just enough state for relay tests.
func relayProcess(log *slog.Logger) *Process {
	return &Process{log: log, port: 1234, exitCode: unknownExitCode}
}

func TestRelay_MarkerSubstring(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ready bool
	}{
		{
			name:  "exact line",
			input: ReadyMarker + "\n",
			ready: true,
		},
		{
			name:  "prefixed line",
			input: "DEBUGGER: Debugger can attach via TCP/IP (127.0.0.1:1234)\n[pid 123] " + ReadyMarker + " on 0.0.0.0:1234\n",
			ready: true,
		},
		{
			name:  "no trailing newline",
			input: "starting\n" + ReadyMarker,
			ready: true,
		},
		{
			name:  "partial marker",
			input: "DEBUGGER: wait for debugger\n",
			ready: false,
		},
		{
			name:  "marker split across lines",
			input: "DEBUGGER: wait for\ndebugger connection...\n",
			ready: false,
		},
		{
			name:  "empty stream",
			input: "",
			ready: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signal := readiness.New()

			relayProcess(discardLogger()).relay(strings.NewReader(tt.input), "STDERR", nil, signal)

			require.Equal(t, tt.ready, signal.IsSet())
		})
	}
}

func TestRelay_RepeatedMarkerLogsReadyOnce(t *testing.T) {
	var buf bytes.Buffer

	log := slog.New(slog.NewTextHandler(&buf, nil))
	signal := readiness.New()

	input := strings.Repeat(ReadyMarker+"\n", 3)
	relayProcess(log).relay(strings.NewReader(input), "STDERR", nil, signal)

	require.True(t, signal.IsSet())
	require.Equal(t, 1, strings.Count(buf.String(), "rdbg is ready"))
	require.Equal(t, 3, strings.Count(buf.String(), "msg=STDERR"))
}

func TestRelay_CallbackReceivesEveryLine(t *testing.T) {
	var lines []string

	input := "one\ntwo\n\nthree\n"
	relayProcess(discardLogger()).relay(strings.NewReader(input), "STDOUT", func(line string) {
		lines = append(lines, line)
	}, nil)

	require.Equal(t, []string{"one", "two", "", "three"}, lines)
}

func TestRelay_LongLine(t *testing.T) {
	var got []string

	long := strings.Repeat("x", 512*1024)
	input := long + "\n" + ReadyMarker + "\n"
	signal := readiness.New()

	relayProcess(discardLogger()).relay(strings.NewReader(input), "STDERR", func(line string) {
		got = append(got, line)
	}, signal)

	require.Len(t, got, 2)
	require.Len(t, got[0], len(long))
	require.True(t, signal.IsSet())
}

func TestRelay_OversizedLineDrainsRest(t *testing.T) {
	var buf bytes.Buffer

	log := slog.New(slog.NewTextHandler(&buf, nil))

	// A line above the scanner limit stops scanning; the remainder must still
	// be consumed so the writer never blocks.
	input := strings.Repeat("y", maxScanTokenSize+1) + "\n" + ReadyMarker + "\n"
	reader := strings.NewReader(input)

	relayProcess(log).relay(reader, "STDERR", nil, readiness.New())

	require.Zero(t, reader.Len())
	require.Contains(t, buf.String(), "Failed to read adapter output")
}

// stdinProcess builds a Process whose stdin is the given pipe writer.
func stdinProcess(w io.WriteCloser) *Process {
	return &Process{
		log:       discardLogger(),
		stdinPipe: w,
		stdin:     bufio.NewWriter(w),
		exitCode:  unknownExitCode,
	}
}

func TestWriteStdin_NotStarted(t *testing.T) {
	p := &Process{log: discardLogger()}

	require.ErrorIs(t, p.WriteStdin(context.Background(), []byte("i\n")), errors.ErrProcessNotStarted)
}

func TestWriteStdin_CancelledContext(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()

	p := stdinProcess(writer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, p.WriteStdin(ctx, []byte("i\n")), context.Canceled)
}

func TestWriteStdin_ConcurrentWritesAreSerialized(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()

	p := stdinProcess(writer)

	received := make(chan []string, 1)

	go func() {
		var lines []string

		scanner := bufio.NewScanner(reader)
		for scanner.Scan() {
			lines = append(lines, scanner.Text())
		}

		received <- lines
	}()

	const numWriters = 10

	var wg sync.WaitGroup

	for i := range numWriters {
		wg.Go(func() {
			line := strings.Repeat(strconv.Itoa(i), 100) + "\n"
			require.NoError(t, p.WriteStdin(context.Background(), []byte(line)))
		})
	}

	wg.Wait()
	require.NoError(t, writer.Close())

	lines := <-received
	require.Len(t, lines, numWriters)

	// No line is interleaved with another.
	for _, line := range lines {
		require.Len(t, line, 100)
		require.Equal(t, strings.Repeat(line[:1], 100), line)
	}
}

func TestWriteStdin_CancelDuringBlockedWrite(t *testing.T) {
	reader, writer := io.Pipe()
	defer reader.Close()

	p := stdinProcess(writer)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)

	go func() {
		// Nobody reads the pipe, so this blocks until stdin is closed.
		errCh <- p.WriteStdin(ctx, make([]byte, 128*1024))
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("WriteStdin did not return after cancellation")
	}

	require.ErrorIs(t, p.WriteStdin(context.Background(), []byte("i\n")), errors.ErrStdinClosed)
}
