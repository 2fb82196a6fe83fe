/*
Package main is the agentnet server entry point.

# Overview

cmd/agentnet serves the agent network and coordination HTTP API. It
loads YAML configuration with environment overrides, sets up structured
logging (zap), OpenTelemetry tracing, Prometheus metrics on a separate
port, and configuration hot reload.

# Commands

  - serve    — start the API server
  - health   — probe a running server's /health endpoint
  - version  — print build information

# Middleware chain

Recovery, RequestID, SecurityHeaders, RequestLogger, OTelTracing,
MetricsMiddleware, CORS, RateLimiter (per IP), and Auth (X-API-Key or
HS256 bearer token). Health, readiness, version, and metrics endpoints
are exempt from authentication.

# Shutdown

SIGINT/SIGTERM drains the HTTP server, stops the hot reload watcher,
coordination manager, and health monitor, writes a final registry
snapshot to Redis, and closes the cache, database, and telemetry
providers.

Version, BuildTime, and GitCommit are injected via -ldflags.
*/
package main
