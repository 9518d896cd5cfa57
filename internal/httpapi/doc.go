// Package httpapi serves the relay's small HTTP surface: liveness and
// readiness checks, the announcement endpoint, and Prometheus metrics.
//
// The listener is plain TCP on server.http_addr, or a tsnet node on the
// tailnet when tailscale.enabled is set.
package httpapi
