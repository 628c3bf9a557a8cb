// Package otel binds authenticator metrics to OpenTelemetry observable
// instruments.
//
// [NewOTelExporter] registers an Int64ObservableCounter per challenge counter,
// an Int64ObservableGauge per latency bucket and per-tenant cache instruments
// carrying a tenant attribute. A single callback reads the snapshots on each
// collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter.
//   - Mutate authenticator or cache state.
package otel
