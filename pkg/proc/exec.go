package proc

import sys "golang.org/x/sys/unix"

// This file implements the continue protocol. After a trap-triggered
// stop the instruction pointer points one byte past the trap
// instruction: the trap already executed. Before resuming, the real
// instruction at the breakpoint address must be restored and executed
// exactly once, with the trap re-armed afterwards, or the breakpoint
// would either re-trigger with no forward progress or be permanently
// defeated.

// stepOverBreakpoint checks whether the inferior is stopped just past
// an installed breakpoint and, if so, restores the original
// instruction, rewinds the instruction pointer, single-steps it and
// re-arms the trap.
//
// The returned values are interpreted as follows: stepped reports
// whether a breakpoint was stepped over; a non-nil Status means the
// instruction under the breakpoint ended the process, and the caller
// must not resume.
func (inf *Inferior) stepOverBreakpoint(bps *BreakpointStore) (stepped bool, terminal Status, err error) {
	regs, err := inf.Registers()
	if err != nil {
		return false, nil, err
	}

	candidate := regs.PC() - 1
	if !bps.IsInstalled(candidate) {
		return false, nil, nil
	}

	if err := bps.Restore(candidate, inf); err != nil {
		return false, nil, err
	}
	if err := inf.SetPC(candidate); err != nil {
		return false, nil, err
	}
	if err := inf.StepInstruction(); err != nil {
		return false, nil, err
	}

	status, err := inf.Wait()
	if err != nil {
		return false, nil, err
	}
	if _, ok := status.(Stopped); !ok {
		return true, status, nil
	}

	if err := bps.Install(candidate, inf); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// Continue resumes the inferior until it traps, exits or is signaled,
// stepping over a breakpoint at the current stop first. A breakpoint
// at address A halts execution before A's instruction runs, and
// continuing from that halt executes A's instruction exactly once
// before any subsequent halt.
func (inf *Inferior) Continue(bps *BreakpointStore) (Status, error) {
	_, terminal, err := inf.stepOverBreakpoint(bps)
	if err != nil {
		return nil, err
	}
	if terminal != nil {
		return terminal, nil
	}

	if err := inf.Resume(); err != nil {
		return nil, err
	}
	return inf.Wait()
}

// StepOnce executes exactly one machine instruction, honoring the
// step-over choreography when the inferior is stopped at an installed
// breakpoint.
func (inf *Inferior) StepOnce(bps *BreakpointStore) (Status, error) {
	stepped, terminal, err := inf.stepOverBreakpoint(bps)
	if err != nil {
		return nil, err
	}
	if terminal != nil {
		return terminal, nil
	}
	if stepped {
		// The step over the breakpoint was the one instruction.
		regs, err := inf.Registers()
		if err != nil {
			return nil, err
		}
		return Stopped{Signal: sys.SIGTRAP, PC: regs.PC()}, nil
	}

	if err := inf.StepInstruction(); err != nil {
		return nil, err
	}
	return inf.Wait()
}
