// Package server wraps net/http with a managed lifecycle: non-blocking
// Start/StartTLS, graceful Shutdown with a bounded drain, and signal-driven
// WaitForShutdown for the main process.
package server
