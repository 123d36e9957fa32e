// Package pkg provides shared utilities for the flashdisk packages.
//
// This package contains common functionality used across the block
// translator, the mass-storage transport and the command-line tool:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for request validation, partition I/O and transport
//   - Component identifiers for log filtering
//
// # Logging
//
// The logging subsystem wraps [log/slog] with a component attribute:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentUpdate, "update started", "lba", 10)
//
// # Errors
//
// Errors are defined as sentinel values and wrapped with context:
//
//	if errors.Is(err, pkg.ErrEraseFailed) {
//	    // Partition left in an unknown state
//	}
package pkg
