// Package pool provides a bounded worker pool with blocking submission.
//
// The pool runs a fixed number of workers over a fixed-capacity queue.
// Submit blocks when the queue is full, so upstream producers are
// throttled instead of accumulating unbounded work in memory. Urgent
// tasks go to a separate queue that workers drain preferentially.
package pool
