// Package pipeline coordinates the two processing stages end to end.
//
// The coordinator catalogs both source collections, drives the transform
// pool, feeds readiness into the pairing scheduler, and drives the join
// pool, with every state transition checkpointed in the ledger. It runs
// in one of three modes: local (both stages in one process, push-driven),
// transform (stage one only, publishing for another host), and join
// (stage two only, discovering readiness by polling the shared
// directories).
package pipeline
