// Package types defines shared types used across the agentnet framework,
// including the unified structured error model. Every registry and
// coordination operation returns a *types.Error so callers and the HTTP
// layer can branch on a stable error code instead of string matching.
package types
