package proc

import "fmt"

// TraceError wraps a failed ptrace or wait request against the
// inferior. Op names the kernel facility call that failed.
type TraceError struct {
	Op  string
	Err error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TraceError) Unwrap() error { return e.Err }

// LaunchError indicates the target could not be spawned under trace,
// or that its initial stop was not the expected trace trap. No live
// process is retained when a LaunchError is returned.
type LaunchError struct {
	Path string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("could not launch %s: %v", e.Path, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
