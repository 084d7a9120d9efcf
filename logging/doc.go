// Package logging provides a minimal logging interface and adapters for the mesh.
//
// The Logger interface defines the levelled methods (Debug, Info, Warn, Error)
// every mesh component accepts through its options. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - MeshLogger with component/workspace scoping and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := meshos.New(func(o *meshos.Options) { o.Logger = logger })
//
// Arguments after the message are alternating key/value pairs, as in log/slog.
package logging
