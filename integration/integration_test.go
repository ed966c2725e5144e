//go:build integration

package integration

import (
	"errors"
	"testing"

	rdbgdap "github.com/wagiedev/rdbg-dap-go"
)

// skipIfAdapterNotInstalled skips the test if the error indicates rdbg is not found.
func skipIfAdapterNotInstalled(t *testing.T, err error) {
	t.Helper()

	if _, ok := errors.AsType[*rdbgdap.AdapterNotFoundError](err); ok {
		t.Skip("rdbg not installed")
	}
}
