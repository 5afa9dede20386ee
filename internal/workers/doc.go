// Package workers computes worker pool sizes based on available CPUs.
//
// Pool sizes respect container CPU limits via GOMAXPROCS and can be
// overridden per pool with an environment variable (TRANSFORM_WORKERS,
// JOIN_WORKERS).
package workers
