// Package pairing turns readiness events into join tasks.
//
// Whenever an item becomes ready, the scheduler pairs it against every
// ready item on the opposite side and records each pair in the ledger.
// The ledger insert is atomic, so when two hosts (or two goroutines)
// race to pair the same two items exactly one of them creates the task
// and dispatches it.
package pairing
