// Package observability wires the runtime's logging, metrics and
// tracing: slog handlers with secret redaction, Prometheus collectors
// for the gateway, and an optional OTLP trace exporter.
package observability
