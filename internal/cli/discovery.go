package cli

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/rdbg-dap-go/internal/errors"
)

const (
	// AdapterName is the executable name of the Ruby debug adapter.
	AdapterName = "rdbg"

	// MinimumVersion is the minimum rdbg version expected to speak DAP over --open.
	MinimumVersion = "1.4.0"

	// VersionCheckTimeout is the timeout for the rdbg version check command.
	VersionCheckTimeout = 2 * time.Second

	// SkipVersionCheckEnvVar disables the version check when set to any value.
	SkipVersionCheckEnvVar = "RDBG_DAP_SKIP_VERSION_CHECK"
)

var versionPattern = regexp.MustCompile(`([0-9]+\.[0-9]+\.[0-9]+)`)

// Config holds configuration for adapter discovery.
type Config struct {
	// AdapterPath is an explicit rdbg path that skips PATH search.
	// If empty, discovery will search PATH and common locations.
	AdapterPath string

	// SkipVersionCheck skips version validation during discovery.
	// Can also be controlled via the RDBG_DAP_SKIP_VERSION_CHECK env var.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	// If nil, a default no-op logger is used.
	Logger *slog.Logger
}

// Discoverer locates and validates the rdbg binary.
type Discoverer interface {
	// Discover locates the rdbg binary and validates its version.
	// Returns the path to the binary or an error.
	Discover(ctx context.Context) (string, error)
}

// discoverer implements the Discoverer interface.
type discoverer struct {
	cfg *Config
	log *slog.Logger
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new adapter discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &discoverer{
		cfg: cfg,
		log: log,
	}
}

// Discover locates the rdbg binary and validates its version.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	d.log.Debug("Discovering rdbg binary")

	path, err := d.findAdapter()
	if err != nil {
		d.log.Error("Failed to find rdbg", "error", err)

		return "", err
	}

	d.log.Debug("Found rdbg binary", "adapter_path", path)

	d.checkVersion(ctx, path)

	return path, nil
}

// findAdapter locates the rdbg binary.
func (d *discoverer) findAdapter() (string, error) {
	// An explicit path is used as-is and never falls back to a search.
	if d.cfg.AdapterPath != "" {
		d.log.Debug("Using explicit adapter path", "adapter_path", d.cfg.AdapterPath)

		if _, err := os.Stat(d.cfg.AdapterPath); err == nil {
			return d.cfg.AdapterPath, nil
		}

		return "", &errors.AdapterNotFoundError{SearchedPaths: []string{d.cfg.AdapterPath}}
	}

	searchedPaths := make([]string, 0, 5)

	if path, err := exec.LookPath(AdapterName); err == nil {
		d.log.Debug("Found rdbg in PATH", "path", path)

		return path, nil
	}

	searchedPaths = append(searchedPaths, "$PATH")

	commonPaths := []string{
		"/usr/local/bin/rdbg",
		"/usr/bin/rdbg",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		commonPaths = append(commonPaths,
			filepath.Join(homeDir, ".rbenv/shims/rdbg"),
			filepath.Join(homeDir, ".asdf/shims/rdbg"),
		)
	}

	for _, path := range commonPaths {
		searchedPaths = append(searchedPaths, path)

		if _, err := os.Stat(path); err == nil {
			d.log.Debug("Found rdbg at common path", "path", path)

			return path, nil
		}
	}

	d.log.Warn("rdbg not found in any searched paths", "searched_paths", searchedPaths)

	return "", &errors.AdapterNotFoundError{SearchedPaths: searchedPaths}
}

// checkVersion warns when rdbg is older than MinimumVersion.
// Failures to run or parse the version are ignored.
func (d *discoverer) checkVersion(ctx context.Context, path string) {
	if d.cfg.SkipVersionCheck {
		d.log.Debug("Skipping rdbg version check (configured)")

		return
	}

	if os.Getenv(SkipVersionCheckEnvVar) != "" {
		d.log.Debug("Skipping rdbg version check (" + SkipVersionCheckEnvVar + " set)")

		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the adapter path comes from discovery or explicit configuration
	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		d.log.Debug("rdbg version check failed", "error", err)

		return
	}

	version, ok := parseVersion(string(output))
	if !ok {
		d.log.Debug("Could not parse rdbg version", "output", strings.TrimSpace(string(output)))

		return
	}

	if compareVersions(version, MinimumVersion) < 0 {
		d.log.Warn("rdbg version may not support DAP over --open",
			"version", version,
			"minimum_required", MinimumVersion,
		)

		return
	}

	d.log.Debug("rdbg version check passed", "version", version, "minimum", MinimumVersion)
}

// parseVersion extracts the first X.Y.Z triple from rdbg --version output
// (for example "rdbg 1.9.2").
func parseVersion(output string) (string, bool) {
	match := versionPattern.FindStringSubmatch(strings.TrimSpace(output))
	if match == nil {
		return "", false
	}

	return match[1], true
}

// compareVersions compares two semantic versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := range 3 {
		aNum := 0
		bNum := 0

		if i < len(aParts) {
			aNum, _ = strconv.Atoi(aParts[i])
		}

		if i < len(bParts) {
			bNum, _ = strconv.Atoi(bParts[i])
		}

		if aNum != bNum {
			if aNum < bNum {
				return -1
			}

			return 1
		}
	}

	return 0
}
