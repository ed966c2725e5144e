package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	"github.com/google/go-dap"

	"github.com/wagiedev/rdbg-dap-go/internal/errors"
)

const (
	// Host is the loopback address rdbg listens on.
	Host = "127.0.0.1"

	// InitializeSeq is the sequence number of the one request we send.
	InitializeSeq = 1
)

// NewInitializeRequest builds the fixed initialize request sent to rdbg.
func NewInitializeRequest() *dap.InitializeRequest {
	return &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  InitializeSeq,
				Type: "request",
			},
			Command: "initialize",
		},
		Arguments: dap.InitializeRequestArguments{
			ClientID:                     "example-client",
			ClientName:                   "Example Client",
			AdapterID:                    "example-adapter",
			PathFormat:                   "path",
			LinesStartAt1:                true,
			ColumnsStartAt1:              true,
			SupportsVariableType:         true,
			SupportsVariablePaging:       true,
			SupportsRunInTerminalRequest: true,
			Locale:                       "en-us",
		},
	}
}

// Header returns the Content-Length header for a body of n bytes,
// including the blank line that separates it from the body.
func Header(n int) string {
	return "Content-Length: " + strconv.Itoa(n) + "\r\n\r\n"
}

// WriteFrame writes the Content-Length header and then body, as two
// separate writes. Nothing is written after the body.
func WriteFrame(w io.Writer, body []byte) error {
	if _, err := io.WriteString(w, Header(len(body))); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}

	return nil
}

// Address returns the TCP address of an adapter listening on port.
func Address(port int) string {
	return net.JoinHostPort(Host, strconv.Itoa(port))
}

// ConnectAndHandshake dials rdbg on port once and sends the initialize request.
//
// There is no retry: the caller is expected to have observed readiness
// first. The response is never read; the call returns as soon as both
// writes complete and the connection is closed.
func ConnectAndHandshake(ctx context.Context, log *slog.Logger, port int) error {
	log = log.With("component", "handshake")
	addr := Address(port)

	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		log.Error("Failed to connect to rdbg", "address", addr, "error", err)

		return &errors.ConnectionError{Address: addr, Err: err}
	}

	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			log.Debug("Failed to close connection", "error", closeErr)
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}

	return SendInitialize(log, conn)
}

// SendInitialize encodes the initialize request and frames it onto w.
func SendInitialize(log *slog.Logger, w io.Writer) error {
	body, err := json.Marshal(NewInitializeRequest())
	if err != nil {
		return &errors.HandshakeError{Err: fmt.Errorf("encode initialize request: %w", err)}
	}

	header := Header(len(body))
	log.Info("DAP initialization request", "body", string(body), "header", header)

	if err := WriteFrame(w, body); err != nil {
		log.Error("Failed to send DAP initialization request", "error", err)

		return &errors.HandshakeError{Err: err}
	}

	log.Info("DAP initialization request sent successfully")

	return nil
}
