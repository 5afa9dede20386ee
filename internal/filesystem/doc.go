// Package filesystem provides filesystem operations with retry logic
// for shared (NFS-style) directories.
//
// In distributed mode the transform and join processes share only a
// network filesystem; stale file handle errors (ESTALE) are transient
// there and are retried with exponential backoff.
package filesystem
