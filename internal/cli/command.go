package cli

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"
)

// ProtocolTraceEnv makes rdbg echo every DAP message it sends and receives.
const ProtocolTraceEnv = "DEBUG_DAP_SHOW_PROTOCOL=1"

// BuildArgs constructs the rdbg arguments that open a DAP server on port.
func BuildArgs(port int) []string {
	return []string{"--open", "--port", strconv.Itoa(port)}
}

// BuildEnvironment returns the inherited environment plus protocol tracing
// and any caller-provided variables. Later entries win, so extra overrides
// both the inherited environment and the tracing flag.
func BuildEnvironment(extra map[string]string) []string {
	env := os.Environ()
	env = append(env, ProtocolTraceEnv)

	// Sorted for a stable command line in logs and tests.
	for _, key := range slices.Sorted(maps.Keys(extra)) {
		env = append(env, fmt.Sprintf("%s=%s", key, extra[key]))
	}

	return env
}
