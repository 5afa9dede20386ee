// Package artifact handles atomic publication of pipeline outputs on
// the (possibly shared) filesystem.
//
// Every write goes to a temp file in the destination directory, is
// synced, and is renamed into place; a sidecar ".done" completion
// marker is then published the same way. A reader therefore never
// observes a partial file: an artifact exists only once both the file
// and its marker are visible. This is the sole cross-host visibility
// mechanism; no distributed lock is needed because every writer owns a
// unique, id-derived output path.
package artifact
