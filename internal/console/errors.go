package console

import (
	"errors"
	"fmt"
	"time"
)

// ErrClosed is returned by operations on a session that has been closed
// or has already resolved to a fatal outcome.
var ErrClosed = errors.New("console session closed")

// BootPanicError reports that the failure marker appeared on the console
// before the awaited pattern. Tail carries the retained console output
// for diagnosis.
type BootPanicError struct {
	Marker string
	Tail   string
}

func (e *BootPanicError) Error() string {
	return fmt.Sprintf("console matched failure marker %q", e.Marker)
}

// TimeoutError reports that neither pattern appeared in time. The
// underlying process has already been force-terminated by the time the
// caller sees this.
type TimeoutError struct {
	Success string
	Failure string
	Timeout time.Duration
	Tail    string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out after %v waiting for %q on the console", e.Timeout, e.Success)
}

// ProcessExitedError reports that the VM process died while a wait was
// pending on its console.
type ProcessExitedError struct {
	Err  error
	Tail string
}

func (e *ProcessExitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process exited while waiting on the console: %v", e.Err)
	}
	return "process exited while waiting on the console"
}

func (e *ProcessExitedError) Unwrap() error {
	return e.Err
}
