// Package metrics exposes Prometheus collectors for HTTP traffic, pack
// calculations and registry mutations.
package metrics
