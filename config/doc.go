// Package config loads and manages the service configuration: defaults,
// YAML file, and environment variable overrides, in that order. It also
// provides hot reload with change detection, validation, rollback, and an
// HTTP management API.
package config
