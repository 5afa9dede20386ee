// Command crossjoinctl is an operator utility for inspecting and
// repairing the pipeline ledger.
//
// It supports the following operations:
//   - status: Show item and pair counts per state
//   - dead:   List the dead-letter set with failure reasons
//   - retry:  Send a dead-lettered item or pair back for another run
//
// Usage:
//
//	crossjoinctl <command>
//
// Commands:
//
//	status                       Summarize ledger state.
//
//	dead                         List dead-lettered items and pairs,
//	                             with the reason each one exhausted
//	                             its retries.
//
//	retry item <side> <id>       Reset a dead-lettered item to pending.
//	                             The next pipeline run re-transforms it.
//
//	retry pair <leftID> <rightID>
//	                             Requeue a dead-lettered pair. The next
//	                             pipeline run re-attempts the join.
//
// Environment:
//
//	WORK_DIR - Path to the work directory holding the ledger
//	           (default: /work)
//
// Notes:
//
// Dead-lettered entities are never retried automatically; this utility
// is the only way to send them back through the pipeline.
package main
