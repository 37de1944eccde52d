package proc

import sys "golang.org/x/sys/unix"

// Registers is the subset of the inferior register set the debugger
// needs: the instruction pointer, the stack pointer and the frame
// pointer used for stack unwinding.
type Registers interface {
	PC() uint64
	SP() uint64
	FP() uint64
}

// Regs wraps the amd64 ptrace register struct.
type Regs struct {
	regs *sys.PtraceRegs
}

func (r *Regs) PC() uint64 {
	return r.regs.PC()
}

func (r *Regs) SP() uint64 {
	return r.regs.Rsp
}

func (r *Regs) FP() uint64 {
	return r.regs.Rbp
}

func registers(pid int) (Registers, error) {
	var regs sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &regs); err != nil {
		return nil, &TraceError{Op: "getregs", Err: err}
	}
	return &Regs{&regs}, nil
}

func setPC(pid int, pc uint64) error {
	var regs sys.PtraceRegs
	if err := sys.PtraceGetRegs(pid, &regs); err != nil {
		return &TraceError{Op: "getregs", Err: err}
	}
	regs.SetPC(pc)
	if err := sys.PtraceSetRegs(pid, &regs); err != nil {
		return &TraceError{Op: "setregs", Err: err}
	}
	return nil
}
