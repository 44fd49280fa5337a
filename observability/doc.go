// Package observability provides the built-in metrics extension. It is
// registered automatically by the engine and tracks instance, stage,
// lock, correlation, and archival lifecycle counts via OpenTelemetry.
package observability
