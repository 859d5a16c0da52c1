package capture

import (
	"errors"
	"fmt"
)

// Kind classifies what went wrong with a capture.
type Kind int

const (
	// KindCapture covers failures of the capture itself: ffmpeg exited with
	// an error mid-stream, or the output file could not be verified.
	KindCapture Kind = iota
	// KindTransport covers failures to reach or read the stream URL.
	KindTransport
	// KindMissingDependency means ffmpeg could not be located at all.
	KindMissingDependency
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindMissingDependency:
		return "missing dependency"
	default:
		return "capture"
	}
}

// Error is the structured failure returned by Service operations. ExitCode is
// the ffmpeg exit status when a process actually ran, -1 otherwise.
type Error struct {
	Kind     Kind
	Op       string
	ExitCode int
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// IsMissingDependency reports whether err means ffmpeg is not installed.
func IsMissingDependency(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindMissingDependency
}

// IsTransport reports whether err means the stream could not be reached.
func IsTransport(err error) bool {
	var ce *Error
	return errors.As(err, &ce) && ce.Kind == KindTransport
}
