// Package adaptertest turns a test binary into a stand-in for rdbg.
//
// A test package opts in from TestMain:
//
//	func TestMain(m *testing.M) {
//	    if adaptertest.IsStub() {
//	        os.Exit(adaptertest.Main())
//	    }
//	    os.Exit(m.Run())
//	}
//
// and points the launcher at os.Executable() with the environment returned
// by Options.Env. The stub accepts the rdbg command line, prints the real
// readiness marker on stderr, accepts one TCP connection, and records what
// it observed in a JSON report.
package adaptertest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-dap"
)

// Environment variables understood by the stub.
const (
	EnvStub           = "RDBG_DAP_STUB"
	EnvReadyDelay     = "RDBG_DAP_STUB_READY_DELAY"
	EnvReport         = "RDBG_DAP_STUB_REPORT"
	EnvListenEarly    = "RDBG_DAP_STUB_LISTEN_EARLY"
	EnvNoMarker       = "RDBG_DAP_STUB_NO_MARKER"
	EnvExitAfterReady = "RDBG_DAP_STUB_EXIT_AFTER_READY"
	EnvExitCode       = "RDBG_DAP_STUB_EXIT_CODE"
	EnvMarkerPrefix   = "RDBG_DAP_STUB_MARKER_PREFIX"
)

// Marker is the line rdbg prints once it listens for a debugger.
const Marker = "DEBUGGER: wait for debugger connection..."

// acceptTimeout bounds how long the stub waits for the launcher to connect.
const acceptTimeout = 10 * time.Second

// Options configures one stub run.
type Options struct {
	// ReadyDelay postpones listening and the readiness marker.
	ReadyDelay time.Duration

	// ReportPath is where the stub writes its Report. Required.
	ReportPath string

	// ListenEarly opens the port before ReadyDelay elapses, so a premature
	// connection attempt would succeed and be recorded.
	ListenEarly bool

	// NoMarker never prints the readiness marker.
	NoMarker bool

	// ExitAfterReady exits right after printing the marker without accepting.
	ExitAfterReady bool

	// ExitCode is the stub's exit status.
	ExitCode int

	// MarkerPrefix is printed on the same line before the marker.
	MarkerPrefix string
}

// Env returns the environment variables that select this configuration.
func (o Options) Env() map[string]string {
	env := map[string]string{
		EnvStub:       "1",
		EnvReport:     o.ReportPath,
		EnvReadyDelay: o.ReadyDelay.String(),
		EnvExitCode:   strconv.Itoa(o.ExitCode),
	}

	if o.ListenEarly {
		env[EnvListenEarly] = "1"
	}

	if o.NoMarker {
		env[EnvNoMarker] = "1"
	}

	if o.ExitAfterReady {
		env[EnvExitAfterReady] = "1"
	}

	if o.MarkerPrefix != "" {
		env[EnvMarkerPrefix] = o.MarkerPrefix
	}

	return env
}

// Report is what the stub observed during one run.
type Report struct {
	Args          []string  `json:"args"`
	Port          int       `json:"port"`
	Open          bool      `json:"open"`
	ProtocolTrace string    `json:"protocol_trace"`
	Stdin         string    `json:"stdin"`
	StartedAt     time.Time `json:"started_at"`
	ReadyAt       time.Time `json:"ready_at"`
	ConnectedAt   time.Time `json:"connected_at"`
	Received      []byte    `json:"received"`
	Command       string    `json:"command"`
	Error         string    `json:"error,omitempty"`
}

// ConnectedBeforeReady reports whether a connection arrived before the
// readiness marker was printed.
func (r *Report) ConnectedBeforeReady() bool {
	return !r.ConnectedAt.IsZero() && (r.ReadyAt.IsZero() || r.ConnectedAt.Before(r.ReadyAt))
}

// ReadReport loads the report written by a finished stub.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stub report: %w", err)
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode stub report: %w", err)
	}

	return &report, nil
}

// IsStub reports whether the current process was started as a stub adapter.
func IsStub() bool {
	return os.Getenv(EnvStub) != ""
}

// Main runs the stub adapter and returns its exit code.
func Main() int {
	s := &stub{report: &Report{StartedAt: time.Now(), Args: os.Args[1:]}}

	code := s.run()

	if path := os.Getenv(EnvReport); path != "" {
		data, err := json.Marshal(s.snapshot())
		if err == nil {
			err = os.WriteFile(path, data, 0o600)
		}

		if err != nil {
			fmt.Fprintf(os.Stderr, "stub: write report: %v\n", err)

			return 2
		}
	}

	return code
}

type stub struct {
	mu     sync.Mutex
	report *Report
}

func (s *stub) snapshot() Report {
	s.mu.Lock()
	defer s.mu.Unlock()

	return *s.report
}

func (s *stub) fail(err error) int {
	s.mu.Lock()
	s.report.Error = err.Error()
	s.mu.Unlock()

	fmt.Fprintf(os.Stderr, "stub: %v\n", err)

	return 2
}

func (s *stub) run() int {
	flags := flag.NewFlagSet("rdbg", flag.ContinueOnError)
	open := flags.Bool("open", false, "open a debugger port")
	port := flags.Int("port", 0, "TCP port")

	if err := flags.Parse(os.Args[1:]); err != nil {
		return s.fail(err)
	}

	exitCode, _ := strconv.Atoi(os.Getenv(EnvExitCode))
	readyDelay, _ := time.ParseDuration(os.Getenv(EnvReadyDelay))

	s.mu.Lock()
	s.report.Open = *open
	s.report.Port = *port
	s.report.ProtocolTrace = os.Getenv("DEBUG_DAP_SHOW_PROTOCOL")
	s.mu.Unlock()

	go s.readStdin()

	fmt.Fprintln(os.Stdout, "stub adapter starting")

	var (
		listener net.Listener
		err      error
	)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(*port))

	if os.Getenv(EnvListenEarly) != "" {
		if listener, err = net.Listen("tcp", addr); err != nil {
			return s.fail(err)
		}
	}

	time.Sleep(readyDelay)

	if os.Getenv(EnvNoMarker) != "" {
		// Hang like an adapter that never becomes ready; the launcher kills us.
		time.Sleep(time.Hour)

		return exitCode
	}

	if listener == nil {
		if listener, err = net.Listen("tcp", addr); err != nil {
			return s.fail(err)
		}
	}
	defer listener.Close()

	s.mu.Lock()
	s.report.ReadyAt = time.Now()
	s.mu.Unlock()

	fmt.Fprintf(os.Stderr, "DEBUGGER: Debugger can attach via TCP/IP (%s)\n", addr)
	// Printed twice: a repeated marker must not confuse the launcher.
	fmt.Fprintf(os.Stderr, "%s%s\n", os.Getenv(EnvMarkerPrefix), Marker)
	fmt.Fprintf(os.Stderr, "%s%s\n", os.Getenv(EnvMarkerPrefix), Marker)

	if os.Getenv(EnvExitAfterReady) != "" {
		return exitCode
	}

	if err := s.serve(listener); err != nil {
		return s.fail(err)
	}

	return exitCode
}

// readStdin records the first line the launcher sends.
func (s *stub) readStdin() {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return
	}

	s.mu.Lock()
	s.report.Stdin = line
	s.mu.Unlock()
}

// serve accepts one connection and records every byte the client sends
// until it closes the connection.
func (s *stub) serve(listener net.Listener) error {
	if tl, ok := listener.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(acceptTimeout))
	}

	conn, err := listener.Accept()
	if err != nil {
		return fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.report.ConnectedAt = time.Now()
	s.mu.Unlock()

	_ = conn.SetReadDeadline(time.Now().Add(acceptTimeout))

	var raw bytes.Buffer

	reader := bufio.NewReader(io.TeeReader(conn, &raw))

	msg, readErr := dap.ReadProtocolMessage(reader)

	// Drain until the client closes so trailing bytes are captured too.
	_, _ = io.Copy(io.Discard, reader)

	s.mu.Lock()
	s.report.Received = raw.Bytes()

	if req, ok := msg.(*dap.InitializeRequest); ok {
		s.report.Command = req.Command
	}
	s.mu.Unlock()

	if readErr != nil {
		return fmt.Errorf("read DAP message: %w", readErr)
	}

	fmt.Fprintln(os.Stderr, "stub: received initialize request")

	return nil
}
