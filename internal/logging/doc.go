// Package logging provides structured logging for the Lumen firmware and tools.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used throughout the daemon: connectivity transitions,
// control requests and firmware update progress.
//
// # Log Levels
//
//   - Debug: Frame renders, storage hex dumps, update progress
//   - Info: State transitions, served requests, update outcomes
//   - Warn: Recoverable issues (corrupt credential region, link loss)
//   - Error: Failed operations (storage I/O, update failures)
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given the LUMEN_LOG_LEVEL environment variable is
// consulted; if that is empty too, logging is silent.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and
// SetLogger must be called before other goroutines start logging.
package logging
