// Package tracker maintains per-side readiness state for transformed
// items.
//
// Readiness arrives either as push events from the local transform pool
// or, in distributed mode, from a periodic scan of the shared artifact
// directory. Duplicate signals are idempotent when their checksums
// agree; disagreeing duplicates are a fatal conflict requiring operator
// resolution.
package tracker
