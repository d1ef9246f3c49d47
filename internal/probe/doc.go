// Package probe polls Prometheus-format metrics endpoints and turns rule
// matches into event registrations and recoveries. A probe that cannot be
// scraped at all registers a probe_down event for itself, so a dead exporter
// surfaces through the same grace-period path as any other condition.
package probe
