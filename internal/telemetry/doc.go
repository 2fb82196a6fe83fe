// Package telemetry wires the OpenTelemetry SDK: OTLP gRPC exporters for
// traces and metrics, global propagators, and a combined Shutdown. When
// telemetry is disabled in config the global providers stay noop and no
// network connections are made.
package telemetry
