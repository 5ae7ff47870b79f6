// Package cmd implements the command-line interface of remoting. It provides a
// demo server and client commands for every invocation mode.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a remoting server with demo handlers, an optional periodic push
//     and an optional prometheus metrics endpoint
//   - call: Client commands (sync, async, oneway, callback, listen) and the perf benchmark
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can also be set via environment variables in the format REMOTING_<flag>
// (e.g. REMOTING_LOG_LEVEL=debug) or in a .env / .env.local file.
//
// See remoting -help for a list of all commands.
package cmd
