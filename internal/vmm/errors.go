package vmm

import "fmt"

// LaunchError reports a VM process that failed to start or died before
// its console became ready. Output carries the captured stdout/stderr
// text, which is what launch-failure triage matches against.
type LaunchError struct {
	Output string
	Err    error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("vm launch: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}
