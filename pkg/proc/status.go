package proc

import (
	"fmt"

	sys "golang.org/x/sys/unix"
)

// Status describes the state of the inferior after a wait. It is a
// closed set: Stopped, Exited and Signaled are the only
// implementations, and every consumer is expected to switch over all
// three. Exited and Signaled are terminal; the Inferior that produced
// them is no longer usable.
type Status interface {
	fmt.Stringer
	status()
}

// Stopped indicates the inferior stopped. It carries the signal that
// stopped the process and the instruction pointer it is stopped at.
type Stopped struct {
	Signal sys.Signal
	PC     uint64
}

// Exited indicates the inferior exited normally with the given exit
// status code.
type Exited struct {
	Code int
}

// Signaled indicates the inferior was terminated by a signal.
type Signaled struct {
	Signal sys.Signal
}

func (s Stopped) status()  {}
func (s Exited) status()   {}
func (s Signaled) status() {}

func (s Stopped) String() string {
	return fmt.Sprintf("stopped by signal %v at %#x", s.Signal, s.PC)
}

func (s Exited) String() string {
	return fmt.Sprintf("exited with code %d", s.Code)
}

func (s Signaled) String() string {
	return fmt.Sprintf("terminated by signal %v", s.Signal)
}

// UnexpectedWaitStatusError is returned when the kernel reports a wait
// status outside the three known variants. It signals a violation of
// the tracing protocol and is not recoverable: callers should abort
// rather than guess at the state of the inferior.
type UnexpectedWaitStatusError struct {
	Pid    int
	Status sys.WaitStatus
}

func (e UnexpectedWaitStatusError) Error() string {
	return fmt.Sprintf("wait on process %d returned unexpected status %#x", e.Pid, int(e.Status))
}
