package proc

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	sys "golang.org/x/sys/unix"

	"github.com/stackprobe/sdb/pkg/logflags"
)

// WordSize is the granularity, in bytes, at which the ptrace memory
// access primitives operate on amd64.
const WordSize = 8

// Inferior represents the one traced child process owned by a debug
// session. It is created by Launch or Attach and destroyed by Kill or
// by the child reaching a terminal status.
type Inferior struct {
	pid     int
	process *os.Process
	exited  bool
	log     *logrus.Entry

	ptraceChan     chan func()
	ptraceDoneChan chan interface{}
}

func newInferior() *Inferior {
	inf := &Inferior{
		log:            logflags.InferiorLogger(),
		ptraceChan:     make(chan func()),
		ptraceDoneChan: make(chan interface{}),
	}
	go inf.handlePtraceFuncs()
	return inf
}

func (inf *Inferior) handlePtraceFuncs() {
	// We must ensure that all ptrace(2) requests against the child come
	// from the same thread that started tracing it, so every kernel
	// facility call is funneled through this locked goroutine.
	runtime.LockOSThread()

	for fn := range inf.ptraceChan {
		fn()
		inf.ptraceDoneChan <- nil
	}
}

func (inf *Inferior) execPtraceFunc(fn func()) {
	if inf.exited {
		// The child is gone and the ptrace thread released; thread
		// affinity no longer matters and the call will fail with ESRCH.
		fn()
		return
	}
	inf.ptraceChan <- fn
	<-inf.ptraceDoneChan
}

// release frees the ptrace thread once the child is gone. Later calls
// against the dead pid run inline and fail with ESRCH.
func (inf *Inferior) release() {
	if inf.exited {
		return
	}
	inf.exited = true
	close(inf.ptraceChan)
}

// Launch spawns path under trace. The kernel stops the child with
// SIGTRAP before the target's own code runs; Launch blocks until that
// initial stop is delivered. Any other initial wait outcome is a
// launch failure and leaves no process behind.
func Launch(path string, args []string) (*Inferior, error) {
	inf := newInferior()

	var (
		cmd *exec.Cmd
		err error
	)
	inf.execPtraceFunc(func() {
		cmd = exec.Command(path, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true, Setpgid: true}
		err = cmd.Start()
	})
	if err != nil {
		inf.release()
		return nil, &LaunchError{Path: path, Err: err}
	}
	inf.pid = cmd.Process.Pid
	inf.process = cmd.Process

	status, err := inf.Wait()
	if err != nil {
		// The child may be in an ambiguous half-traced state; do not
		// hand it to the caller.
		inf.Kill()
		return nil, &LaunchError{Path: path, Err: fmt.Errorf("waiting for initial stop: %v", err)}
	}

	switch st := status.(type) {
	case Stopped:
		if st.Signal != sys.SIGTRAP {
			inf.Kill()
			return nil, &LaunchError{Path: path, Err: fmt.Errorf("initial stop on signal %v, want SIGTRAP", st.Signal)}
		}
	case Exited:
		inf.release()
		return nil, &LaunchError{Path: path, Err: fmt.Errorf("target exited with code %d before the initial trap", st.Code)}
	case Signaled:
		inf.release()
		return nil, &LaunchError{Path: path, Err: fmt.Errorf("target killed by signal %v before the initial trap", st.Signal)}
	}

	inf.log.WithFields(logrus.Fields{"pid": inf.pid, "path": path}).Debug("launched target")
	return inf, nil
}

// Attach attaches to an existing process with the given pid and blocks
// until it stops.
func Attach(pid int) (*Inferior, error) {
	inf := newInferior()
	inf.pid = pid

	var err error
	inf.execPtraceFunc(func() { err = sys.PtraceAttach(pid) })
	if err != nil {
		inf.release()
		return nil, &TraceError{Op: "attach", Err: err}
	}

	inf.process, err = os.FindProcess(pid)
	if err != nil {
		inf.release()
		return nil, err
	}

	status, err := inf.Wait()
	if err != nil {
		inf.release()
		return nil, err
	}
	if _, ok := status.(Stopped); !ok {
		return nil, &TraceError{Op: "attach", Err: fmt.Errorf("process %d %s during attach", pid, status)}
	}

	inf.log.WithField("pid", pid).Debug("attached to target")
	return inf, nil
}

// Pid returns the process id of the traced child.
func (inf *Inferior) Pid() int {
	return inf.pid
}

// Exited reports whether the child is no longer traced, either because
// a terminal status was observed or because it was detached.
func (inf *Inferior) Exited() bool {
	return inf.exited
}

// Resume requests that the child run until it traps, exits or is
// signaled. It does not block; follow with Wait.
func (inf *Inferior) Resume() error {
	var err error
	inf.execPtraceFunc(func() { err = sys.PtraceCont(inf.pid, 0) })
	if err != nil {
		return &TraceError{Op: "cont", Err: err}
	}
	return nil
}

// StepInstruction requests execution of exactly one machine
// instruction. It does not block; follow with Wait.
func (inf *Inferior) StepInstruction() error {
	var err error
	inf.execPtraceFunc(func() { err = sys.PtraceSingleStep(inf.pid) })
	if err != nil {
		return &TraceError{Op: "singlestep", Err: err}
	}
	return nil
}

// Wait blocks until the child's state changes and classifies the
// result. On a stop the child's registers are read to obtain the
// current instruction pointer. A wait outcome outside the three Status
// variants yields UnexpectedWaitStatusError, which callers must treat
// as unrecoverable.
func (inf *Inferior) Wait() (Status, error) {
	ws, err := inf.wait()
	if err != nil {
		return nil, err
	}

	switch {
	case ws.Exited():
		code := ws.ExitStatus()
		inf.release()
		return Exited{Code: code}, nil
	case ws.Signaled():
		sig := ws.Signal()
		inf.release()
		return Signaled{Signal: sig}, nil
	case ws.Stopped():
		regs, err := inf.Registers()
		if err != nil {
			return nil, err
		}
		return Stopped{Signal: ws.StopSignal(), PC: regs.PC()}, nil
	}
	return nil, UnexpectedWaitStatusError{Pid: inf.pid, Status: ws}
}

func (inf *Inferior) wait() (sys.WaitStatus, error) {
	var (
		ws  sys.WaitStatus
		err error
	)
	for {
		inf.execPtraceFunc(func() { _, err = sys.Wait4(inf.pid, &ws, 0, nil) })
		if err == sys.EINTR {
			continue
		}
		if err != nil {
			return ws, &TraceError{Op: "wait", Err: err}
		}
		return ws, nil
	}
}

// Registers returns the current register set of the child.
func (inf *Inferior) Registers() (Registers, error) {
	var (
		regs Registers
		err  error
	)
	inf.execPtraceFunc(func() { regs, err = registers(inf.pid) })
	return regs, err
}

// SetPC rewinds or advances the child's instruction pointer.
func (inf *Inferior) SetPC(pc uint64) error {
	var err error
	inf.execPtraceFunc(func() { err = setPC(inf.pid, pc) })
	return err
}

// ReadWord reads one machine word of the child's memory at the given
// word-aligned address.
func (inf *Inferior) ReadWord(addr uint64) (uint64, error) {
	buf := make([]byte, WordSize)
	var err error
	inf.execPtraceFunc(func() { _, err = sys.PtracePeekData(inf.pid, uintptr(addr), buf) })
	if err != nil {
		return 0, &TraceError{Op: "peekdata", Err: err}
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// WriteWord writes one machine word of the child's memory at the given
// word-aligned address.
func (inf *Inferior) WriteWord(addr uint64, word uint64) error {
	buf := make([]byte, WordSize)
	binary.LittleEndian.PutUint64(buf, word)
	var err error
	inf.execPtraceFunc(func() { _, err = sys.PtracePokeData(inf.pid, uintptr(addr), buf) })
	if err != nil {
		return &TraceError{Op: "pokedata", Err: err}
	}
	return nil
}

// Kill force-kills the child and synchronously reaps it. It is a no-op
// on a child that has already reached a terminal status.
func (inf *Inferior) Kill() error {
	if inf.exited {
		return nil
	}
	if err := sys.Kill(inf.pid, sys.SIGKILL); err != nil {
		if err == sys.ESRCH {
			inf.release()
			return nil
		}
		return &TraceError{Op: "kill", Err: err}
	}

	for {
		ws, err := inf.wait()
		if err != nil {
			return err
		}
		if ws.Exited() || ws.Signaled() {
			break
		}
		// A stop queued before the SIGKILL can be reported first;
		// resume the child so the kill is delivered.
		if ws.Stopped() {
			inf.execPtraceFunc(func() { sys.PtraceCont(inf.pid, 0) })
		}
	}

	pid := inf.pid
	inf.release()
	inf.log.WithField("pid", pid).Debug("killed target")
	return nil
}

// Detach detaches from the child, leaving it running.
func (inf *Inferior) Detach() error {
	if inf.exited {
		return nil
	}
	var err error
	inf.execPtraceFunc(func() { err = sys.PtraceDetach(inf.pid) })
	if err != nil {
		return &TraceError{Op: "detach", Err: err}
	}
	inf.release()
	return nil
}
