// Package httpserver runs an http.Handler with timeouts from Config and shuts
// it down gracefully on context cancellation or SIGINT/SIGTERM. It also
// provides liveness and readiness probe handlers.
package httpserver
