// Package ledger provides the durable recovery ledger for the crossjoin
// coordinator.
//
// The ledger is a SQLite database holding the latest state of every
// entity the pipeline tracks:
//   - Video items (per side, with transform status and artifact checksum)
//   - Pair tasks (one per left/right combination, with join state)
//
// It is the single source of truth on restart and the sole arbiter of
// the exactly-once pairing invariant: pair creation is an atomic
// check-and-insert, and state transitions are per-key compare-and-set
// updates. In distributed mode the database lives on the shared
// filesystem; cross-process write exclusion uses a flock sidecar file
// because SQLite's own POSIX locking is unreliable over NFS.
//
// The database uses WAL mode and includes automatic schema
// initialization.
package ledger
