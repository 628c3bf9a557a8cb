// Package prometheus exposes authenticator metrics through a client_golang
// Collector: the process-wide challenge counters, the verifier latency
// histogram, audit drops and per-tenant event cache series labelled by tenant.
//
// # What this package must NOT do
//
//   - Register with the global Prometheus registry. Callers pass a Registerer
//     or mount [Exporter.Handler].
//   - Mutate authenticator or cache state.
package prometheus
