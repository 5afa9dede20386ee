package codec

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInput marks failures caused by the source media itself.
	// Retrying the same input cannot succeed.
	ErrInput = errors.New("codec: unusable input")

	// ErrTransient marks failures worth retrying: resource pressure,
	// interrupted I/O, truncated reads from a file still in flight.
	ErrTransient = errors.New("codec: transient failure")
)

// Patterns checked against captured stderr, input errors first. Anything
// unmatched is treated as transient so a retry gets a chance before the
// task is dead-lettered.
var (
	reInputIssue = regexp.MustCompile(
		`(?i)Invalid data found when processing input|` +
			`moov atom not found|` +
			`could not find codec parameters|` +
			`Unknown format|Invalid argument|` +
			`does not contain any stream|` +
			`No such file or directory`)

	reTransientIssue = regexp.MustCompile(
		`(?i)Resource temporarily unavailable|` +
			`Cannot allocate memory|` +
			`Input/output error|` +
			`Stale file handle|` +
			`Interrupted system call`)
)

// classify wraps an ffmpeg failure with the matching sentinel.
func classify(stage string, runErr error, stderr string) error {
	tail := stderrTail(stderr)
	switch {
	case reInputIssue.MatchString(stderr):
		return fmt.Errorf("%s: %w: %s", stage, ErrInput, tail)
	case reTransientIssue.MatchString(stderr):
		return fmt.Errorf("%s: %w: %s", stage, ErrTransient, tail)
	default:
		return fmt.Errorf("%s: %w: %v: %s", stage, ErrTransient, runErr, tail)
	}
}

const stderrTailLimit = 512

// stderrTail keeps the last chunk of stderr, where ffmpeg prints the
// actual failure after pages of stream info.
func stderrTail(stderr string) string {
	if len(stderr) <= stderrTailLimit {
		return stderr
	}
	return "..." + stderr[len(stderr)-stderrTailLimit:]
}
