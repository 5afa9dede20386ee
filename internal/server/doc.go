// Package server exposes the coordinator's observability endpoints:
// health, a JSON progress snapshot, and Prometheus metrics. It carries
// no control surface; the pipeline is driven entirely by the filesystem
// and the ledger.
package server
