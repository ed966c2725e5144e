// Package cli provides rdbg discovery, version validation, and command
// building for the Ruby debug adapter.
//
// # Discovery
//
// The Discoverer interface locates the rdbg binary:
//
//	discoverer := cli.NewDiscoverer(&cli.Config{
//	    AdapterPath: "",           // Optional explicit path
//	    Logger:      slog.Default(),
//	})
//	path, err := discoverer.Discover(ctx)
//
// Discovery searches in the following order:
//  1. Explicit path in Config.AdapterPath (if provided)
//  2. System PATH
//  3. Common installation directories (/usr/local/bin, /usr/bin, rbenv and asdf shims)
//
// # Version Validation
//
// During discovery, `rdbg --version` is compared against MinimumVersion and a
// warning is logged when it is older. The check can be skipped via
// Config.SkipVersionCheck or the RDBG_DAP_SKIP_VERSION_CHECK environment
// variable.
//
// # Command Building
//
//	args := cli.BuildArgs(port)          // --open --port <port>
//	env := cli.BuildEnvironment(extra)   // os.Environ() + DEBUG_DAP_SHOW_PROTOCOL=1 + extra
package cli
