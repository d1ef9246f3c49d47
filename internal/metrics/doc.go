// Package metrics exposes flapguard's Prometheus instrumentation: how many
// occurrences were registered, how many sweeps ran, what the delivery
// pipeline did with each send, and how many recoveries were observed.
//
// Collectors register against the default registry; serve them with
// promhttp.Handler().
package metrics
