// Package metrics defines Prometheus metrics for the crossjoin
// coordinator.
//
// Metrics cover both pipeline stages (transform, join), the pairing
// scheduler, worker pool queue depths, the recovery ledger, and the
// distributed-mode artifact scanner. All metrics use the crossjoin_
// namespace and are registered via promauto at package load.
package metrics
