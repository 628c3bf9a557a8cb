// Package server assembles the service: it wires Redis, the directory, the
// settings store, identity tokens and the authenticator, mounts the flow
// endpoint, the dashboard and the metrics endpoint behind the middleware
// stack, and runs the HTTP server until its context ends.
package server
