// Package catalog enumerates the source video collections and assigns
// stable item ids.
//
// Ids are content-derived (a hash over the leading bytes and size of
// the file), so repeated scans are idempotent and re-edited source
// files naturally produce a new id instead of silently reusing stale
// artifacts.
package catalog
