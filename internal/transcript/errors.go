package transcript

import (
	"errors"
	"fmt"
)

// ErrTranscriptNotFound is returned by [Load] when the transcript path does
// not resolve to a readable regular file.
var ErrTranscriptNotFound = errors.New("transcript: not found")

// ParsingError reports a failure while reading a transcript file or while
// aggregating its rows into turns. It always carries the originating failure.
//
// Path is empty when the error was raised after loading (by [AggregateTurns]),
// because the source file is no longer known at that stage. Row is the
// zero-based index of the offending data row, or -1 when the failure is not
// tied to a single row.
type ParsingError struct {
	Path string
	Row  int
	Err  error
}

// Error implements error.
func (e *ParsingError) Error() string {
	msg := "transcript: parse"
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	if e.Row >= 0 {
		msg += fmt.Sprintf(" row %d", e.Row)
	}
	return msg + ": " + e.Err.Error()
}

// Unwrap returns the underlying failure.
func (e *ParsingError) Unwrap() error { return e.Err }
